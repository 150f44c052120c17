package watcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIgnorer(t *testing.T) {
	ig := NewIgnorer([]string{"**/*.generated.go", "tmp/**"})
	root := "/work/repo"

	tests := []struct {
		path string
		want bool
	}{
		{"", true},
		{"/work/repo", false},
		{"/work/repo/main.go", false},
		{"/work/repo/.git", true},
		{"/work/repo/.git/HEAD", true},
		{"/work/repo/web/node_modules/react/index.js", true},
		{"/work/repo/services/api/dist/bundle.js", true},
		{"/work/repo/py/__pycache__/m.cpython-312.pyc", true},
		{"/work/repo/app.pyc", true},
		{"/work/repo/server.log", true},
		{"/work/repo/notes.txt~", true},
		{"/work/repo/.main.go.swp", true},
		{"/work/repo/Thumbs.db", true},
		{"/work/repo/distribution/readme.md", false},
		{"/work/repo/api/types.generated.go", true},
		{"/work/repo/tmp/scratch.txt", true},
		{"/work/repo/src/tmp/scratch.txt", false},
		{"/elsewhere/file.go", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ig.Ignored(root, tt.path), tt.path)
	}
}

func TestIgnorerRootNameDoesNotMatter(t *testing.T) {
	ig := NewIgnorer(nil)
	assert.False(t, ig.Ignored("/home/u/build", "/home/u/build/main.go"))
}
