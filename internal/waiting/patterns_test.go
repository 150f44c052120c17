package waiting

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchesPrompt(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"yes no bracket", "Install 3 packages? [Y/n] ", true},
		{"yes no paren", "Delete branch (y/n)", true},
		{"question phrase", "Do you want to make this edit to main.go?", true},
		{"press enter", "Press Enter to continue...", true},
		{"menu heading", "Select an option:\n❯ 1. Yes\n  2. No", true},
		{"numbered cursor", "  ❯ 1. Allow once", true},
		{"password", "[sudo] password for dev: ", true},
		{"trailing question", "What should I name the file?", true},
		{"plain output", "Compiling 42 crates\nFinished release", false},
		{"shell prompt", "user@host:~/src$ ", false},
		{"empty", "", false},
		{"old prompt scrolled away", "Continue? [y/n]\ny\nline 1\nline 2\nline 3\nline 4\nline 5", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchesPrompt(tt.text))
		})
	}
}

func TestVisibleText(t *testing.T) {
	raw := []byte("\x1b[32mok\x1b[0m\r\nnext\rline")
	assert.Equal(t, "ok\nnext\nline", visibleText(raw))
}

func TestIsInteractive(t *testing.T) {
	programs := []string{"claude", "python", "node"}
	tests := []struct {
		name string
		want bool
	}{
		{"claude", true},
		{"Claude", true},
		{"python3.12", true},
		{"python3", true},
		{"node", true},
		{"nodemon", false},
		{"vim", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isInteractive(tt.name, programs), tt.name)
	}
}
