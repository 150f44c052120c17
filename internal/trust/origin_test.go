package trust

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var (
	packaged = Policy{
		Mode:      ModePackaged,
		EntryURL:  "app://ptyhost/index.html",
		DevOrigin: "http://localhost:5173",
	}
	development = Policy{
		Mode:      ModeDevelopment,
		EntryURL:  "app://ptyhost/index.html",
		DevOrigin: "http://localhost:5173",
	}
	devWithPrefix = Policy{
		Mode:      ModeDevelopment,
		EntryURL:  "app://ptyhost/index.html",
		DevOrigin: "http://localhost:5173/ui/",
	}
)

func mainFrame(url string) *Sender {
	return &Sender{URL: url, MainFrame: true}
}

func TestIsTrustedSender(t *testing.T) {
	tests := []struct {
		name   string
		sender *Sender
		policy Policy
		want   bool
	}{
		{"packaged entry", mainFrame("app://ptyhost/index.html"), packaged, true},
		{"packaged entry with query", mainFrame("app://ptyhost/index.html?x=1"), packaged, false},
		{"packaged other page", mainFrame("app://ptyhost/other.html"), packaged, false},
		{"packaged rejects dev server", mainFrame("http://localhost:5173/"), packaged, false},
		{"dev server root", mainFrame("http://localhost:5173/"), development, true},
		{"dev server no path", mainFrame("http://localhost:5173"), development, true},
		{"dev server sub resource", mainFrame("http://localhost:5173/src/main.ts"), development, true},
		{"dev keeps entry", mainFrame("app://ptyhost/index.html"), development, true},
		{"dev host case", mainFrame("http://LOCALHOST:5173/"), development, true},
		{"dev wrong port", mainFrame("http://localhost:5174/"), development, false},
		{"dev wrong host", mainFrame("http://127.0.0.1:5173/"), development, false},
		{"dev wrong scheme", mainFrame("https://localhost:5173/"), development, false},
		{"dev userinfo", mainFrame("http://evil@localhost:5173/"), development, false},
		{"dev lookalike host", mainFrame("http://localhost:5173.evil.com/"), development, false},
		{"remote https", mainFrame("https://example.com/"), development, false},
		{"data url", mainFrame("data:text/html,<script>1</script>"), development, false},
		{"javascript url", mainFrame("javascript:alert(1)"), development, false},
		{"about blank", mainFrame("about:blank"), development, false},
		{"file url", mainFrame("file:///etc/passwd"), development, false},
		{"empty url", mainFrame(""), development, false},
		{"unparseable url", mainFrame("http://%zz"), development, false},
		{"nil sender", nil, development, false},
		{"sub frame", &Sender{URL: "app://ptyhost/index.html", MainFrame: false}, packaged, false},
		{"prefix root", mainFrame("http://localhost:5173/ui"), devWithPrefix, true},
		{"prefix child", mainFrame("http://localhost:5173/ui/app.js"), devWithPrefix, true},
		{"prefix sibling", mainFrame("http://localhost:5173/uix/app.js"), devWithPrefix, false},
		{"prefix escape", mainFrame("http://localhost:5173/ui/../admin"), devWithPrefix, false},
		{"outside prefix", mainFrame("http://localhost:5173/"), devWithPrefix, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTrustedSender(tt.sender, tt.policy))
		})
	}
}

func TestIsTrustedSender_AmbiguousModeFailsClosed(t *testing.T) {
	for _, mode := range []string{"", "Packaged", "dev", "unknown"} {
		p := packaged
		p.Mode = mode
		assert.False(t, IsTrustedSender(mainFrame("app://ptyhost/index.html"), p), mode)
		assert.False(t, IsTrustedSender(mainFrame("http://localhost:5173/"), p), mode)
	}
}

func TestIsTrustedSender_EmptyEntryNeverMatches(t *testing.T) {
	p := Policy{Mode: ModePackaged}
	assert.False(t, IsTrustedSender(mainFrame(""), p))
	assert.False(t, IsTrustedSender(&Sender{MainFrame: true}, p))
}

func TestIsTrustedOrigin(t *testing.T) {
	tests := []struct {
		name   string
		origin string
		policy Policy
		want   bool
	}{
		{"packaged scheme host", "app://ptyhost", packaged, true},
		{"packaged rejects dev", "http://localhost:5173", packaged, false},
		{"dev origin", "http://localhost:5173", development, true},
		{"dev origin default port mismatch", "http://localhost", development, false},
		{"dev with path", "http://localhost:5173/x", development, false},
		{"null origin", "null", development, false},
		{"empty", "", development, false},
		{"unknown mode", "app://ptyhost", Policy{EntryURL: "app://ptyhost/index.html"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTrustedOrigin(tt.origin, tt.policy))
		})
	}
}
