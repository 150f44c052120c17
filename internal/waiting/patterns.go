package waiting

import (
	"regexp"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// promptPatterns match the closing lines of output from a program that has
// stopped to ask the user something.
var promptPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\[(y/n|yes/no)\]|\((y/n|yes/no)\)`),
	regexp.MustCompile(`(?i)\b(continue|proceed|overwrite|allow|approve)\?\s*$`),
	regexp.MustCompile(`(?i)\b(are you sure|do you want to|would you like to|shall i)\b.*\?`),
	regexp.MustCompile(`(?i)press (enter|return|any key) to`),
	regexp.MustCompile(`(?i)\b(choose|select|pick) (an? )?(option|one|action)`),
	regexp.MustCompile(`^\s*[❯›>]\s*\d+[.)]\s+\S`),
	regexp.MustCompile(`(?i)\b(password|passphrase)( for [^:]+)?:\s*$`),
	regexp.MustCompile(`\?\s*$`),
}

// promptLines is how many trailing non-empty lines are checked.
const promptLines = 4

// visibleText strips escape sequences and normalizes line endings.
func visibleText(raw []byte) string {
	s := ansi.Strip(string(raw))
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// matchesPrompt reports whether the last lines of text look like a prompt.
func matchesPrompt(text string) bool {
	lines := strings.Split(text, "\n")
	checked := 0
	for i := len(lines) - 1; i >= 0 && checked < promptLines; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		checked++
		for _, p := range promptPatterns {
			if p.MatchString(line) {
				return true
			}
		}
	}
	return false
}

// isInteractive reports whether name is one of programs, allowing a
// version suffix such as python3.12.
func isInteractive(name string, programs []string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return false
	}
	for _, p := range programs {
		p = strings.ToLower(p)
		if name == p {
			return true
		}
		if strings.HasPrefix(name, p) {
			next := name[len(p)]
			if next == '.' || next == '-' || (next >= '0' && next <= '9') {
				return true
			}
		}
	}
	return false
}
