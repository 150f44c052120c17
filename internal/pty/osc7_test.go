package pty

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCwdTrackerSingleChunk(t *testing.T) {
	var tr cwdTracker
	dirs := tr.Feed([]byte("prompt$ \x1b]7;file://host/home/user\x07more"))
	assert.Equal(t, []string{"/home/user"}, dirs)
}

func TestCwdTrackerStringTerminator(t *testing.T) {
	var tr cwdTracker
	dirs := tr.Feed([]byte("\x1b]7;file://host/srv/app\x1b\\"))
	assert.Equal(t, []string{"/srv/app"}, dirs)
}

func TestCwdTrackerSplitAcrossChunks(t *testing.T) {
	seq := "out\x1b]7;file://host/tmp/project\x07$ "

	// Every possible split point must yield exactly one report.
	for i := 1; i < len(seq); i++ {
		var tr cwdTracker
		var got []string
		got = append(got, tr.Feed([]byte(seq[:i]))...)
		got = append(got, tr.Feed([]byte(seq[i:]))...)
		assert.Equal(t, []string{"/tmp/project"}, got, "split at %d", i)
	}
}

func TestCwdTrackerByteAtATime(t *testing.T) {
	seq := "\x1b]7;file://h/a\x07\x1b]7;file://h/b\x1b\\"
	var tr cwdTracker
	var got []string
	for i := 0; i < len(seq); i++ {
		got = append(got, tr.Feed([]byte{seq[i]})...)
	}
	assert.Equal(t, []string{"/a", "/b"}, got)
}

func TestCwdTrackerPercentDecoding(t *testing.T) {
	var tr cwdTracker
	dirs := tr.Feed([]byte("\x1b]7;file://h/tmp/with%20space/100%25\x07"))
	assert.Equal(t, []string{"/tmp/with space/100%"}, dirs)
}

func TestCwdTrackerIgnoresMalformed(t *testing.T) {
	tests := []string{
		"\x1b]7;http://h/tmp\x07",
		"\x1b]7;file://hostonly\x07",
		"\x1b]7;/no/scheme\x07",
		"\x1b]0;window title\x07",
		"\x1b]7;file://h/a%00b\x07",
	}
	for _, input := range tests {
		var tr cwdTracker
		assert.Empty(t, tr.Feed([]byte(input)), "%q", input)
	}
}

func TestCwdTrackerAbandonsOversizedSequence(t *testing.T) {
	var tr cwdTracker
	huge := make([]byte, maxOSC7Len+10)
	for i := range huge {
		huge[i] = 'a'
	}
	assert.Empty(t, tr.Feed(append([]byte("\x1b]7;file://h/"), huge...)))
	assert.Empty(t, tr.buf)

	assert.Equal(t, []string{"/ok"}, tr.Feed([]byte("\x07\x1b]7;file://h/ok\x07")))
}

func TestCwdTrackerCleansPath(t *testing.T) {
	var tr cwdTracker
	assert.Equal(t, []string{"/a/c"}, tr.Feed([]byte("\x1b]7;file://h/a/b/../c/\x07")))
}
