// Package files serves bounded reads of regular files to the UI.
package files

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/gabriel-vasile/mimetype"

	"github.com/abdullathedruid/ptyhost/internal/trust"
)

// DefaultMaxSize is the largest file Reader returns.
const DefaultMaxSize = 5 << 20

var (
	ErrNotRegular = errors.New("not a regular file")
	ErrTooLarge   = errors.New("file too large")
)

// Reader reads whole files up to a size limit.
type Reader struct {
	MaxSize int64
}

// NewReader returns a Reader with the default limit.
func NewReader() *Reader {
	return &Reader{MaxSize: DefaultMaxSize}
}

// ReadFile returns the contents and detected MIME type of path. Symlinks
// are followed but must resolve to a regular file.
func (r *Reader) ReadFile(path string) (trust.FileContent, error) {
	limit := r.MaxSize
	if limit <= 0 {
		limit = DefaultMaxSize
	}

	// Opening a FIFO or device can block or have side effects.
	if info, err := os.Stat(path); err != nil {
		return trust.FileContent{}, fmt.Errorf("stat %s: %w", path, err)
	} else if !info.Mode().IsRegular() {
		return trust.FileContent{}, fmt.Errorf("read %s: %w", path, ErrNotRegular)
	}

	f, err := os.Open(path)
	if err != nil {
		return trust.FileContent{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	// Stat the open descriptor so the checks apply to what is read.
	info, err := f.Stat()
	if err != nil {
		return trust.FileContent{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return trust.FileContent{}, fmt.Errorf("read %s: %w", path, ErrNotRegular)
	}
	if info.Size() > limit {
		return trust.FileContent{}, fmt.Errorf("read %s: %w (%d bytes)", path, ErrTooLarge, info.Size())
	}

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return trust.FileContent{}, fmt.Errorf("read %s: %w", path, err)
	}
	if int64(len(data)) > limit {
		return trust.FileContent{}, fmt.Errorf("read %s: %w", path, ErrTooLarge)
	}

	return trust.FileContent{
		Data:     data,
		MimeType: mimetype.Detect(data).String(),
		Size:     int64(len(data)),
	}, nil
}
