package watcher

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ignoredDirs are path segments whose whole subtree is never watched.
var ignoredDirs = map[string]struct{}{
	".git":          {},
	".hg":           {},
	".svn":          {},
	"node_modules":  {},
	"dist":          {},
	"build":         {},
	"out":           {},
	"target":        {},
	".next":         {},
	".nuxt":         {},
	".cache":        {},
	"__pycache__":   {},
	".venv":         {},
	"coverage":      {},
	".turbo":        {},
	".parcel-cache": {},
}

// ignoredFiles are base-name globs for transient and OS metadata files.
var ignoredFiles = []string{
	"*.log",
	"*.tmp",
	"*.swp",
	"*.swo",
	"*~",
	".DS_Store",
	"Thumbs.db",
	"*.pyc",
}

// Ignorer decides which paths below a watch root produce no events.
type Ignorer struct {
	extra []string
}

// NewIgnorer returns an Ignorer with the built-in rules plus extra
// doublestar patterns matched against the slash-separated path relative
// to the watch root. Patterns are assumed valid; config validation
// rejects bad ones.
func NewIgnorer(extra []string) *Ignorer {
	return &Ignorer{extra: append([]string(nil), extra...)}
}

// Ignored reports whether path, below root, is filtered out.
func (ig *Ignorer) Ignored(root, path string) bool {
	if path == "" {
		return true
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return false
	}
	rel = filepath.ToSlash(rel)
	if strings.HasPrefix(rel, "../") || rel == ".." {
		return true
	}

	segments := strings.Split(rel, "/")
	for _, seg := range segments {
		if _, ok := ignoredDirs[seg]; ok {
			return true
		}
	}

	base := segments[len(segments)-1]
	for _, pattern := range ignoredFiles {
		if ok, _ := doublestar.Match(pattern, base); ok {
			return true
		}
	}
	for _, pattern := range ig.extra {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}
