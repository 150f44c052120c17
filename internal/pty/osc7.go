package pty

import (
	"bytes"
	"net/url"
	"path/filepath"
	"strings"
)

var osc7Prefix = []byte("\x1b]7;")

// maxOSC7Len bounds how much unterminated payload is buffered before the
// sequence is abandoned.
const maxOSC7Len = 8192

// cwdTracker extracts OSC 7 working-directory reports from a terminal
// stream. Sequences may be split across any number of chunks. The stream
// itself is not modified.
type cwdTracker struct {
	buf []byte
}

// Feed consumes the next chunk and returns any directories reported in it,
// in order.
func (t *cwdTracker) Feed(p []byte) []string {
	buf := append(t.buf, p...)
	t.buf = nil

	var dirs []string
	for len(buf) > 0 {
		start := bytes.Index(buf, osc7Prefix)
		if start < 0 {
			t.keepPartialPrefix(buf)
			break
		}

		rest := buf[start+len(osc7Prefix):]
		end, termLen := oscTerminator(rest)
		if end < 0 {
			if len(rest) <= maxOSC7Len {
				t.buf = append([]byte(nil), buf[start:]...)
			}
			break
		}

		if dir, ok := parseOSC7(string(rest[:end])); ok {
			dirs = append(dirs, dir)
		}
		buf = rest[end+termLen:]
	}
	return dirs
}

// keepPartialPrefix retains a trailing fragment that could begin a
// sequence completed by the next chunk.
func (t *cwdTracker) keepPartialPrefix(buf []byte) {
	for n := len(osc7Prefix) - 1; n > 0; n-- {
		if len(buf) >= n && bytes.Equal(buf[len(buf)-n:], osc7Prefix[:n]) {
			t.buf = append([]byte(nil), buf[len(buf)-n:]...)
			return
		}
	}
}

// oscTerminator finds BEL or ST and returns its offset and length.
func oscTerminator(b []byte) (int, int) {
	bel := bytes.IndexByte(b, 0x07)
	st := bytes.Index(b, []byte("\x1b\\"))
	switch {
	case bel < 0 && st < 0:
		return -1, 0
	case st < 0 || (bel >= 0 && bel < st):
		return bel, 1
	default:
		return st, 2
	}
}

// parseOSC7 turns "file://host/path" into an absolute, cleaned path.
func parseOSC7(payload string) (string, bool) {
	const scheme = "file://"
	if !strings.HasPrefix(payload, scheme) {
		return "", false
	}
	rest := payload[len(scheme):]
	slash := strings.IndexByte(rest, '/')
	if slash < 0 {
		return "", false
	}
	p := rest[slash:]
	if unescaped, err := url.PathUnescape(p); err == nil {
		p = unescaped
	}
	if !filepath.IsAbs(p) || strings.ContainsRune(p, 0) {
		return "", false
	}
	return filepath.Clean(p), true
}
