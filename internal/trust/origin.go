// Package trust is the gate every privileged UI request passes through.
//
// A request is admitted only when its sender is the trusted UI document and
// every argument matches the schema of its command. Both checks run before
// any process, watcher or filesystem call, and any ambiguity rejects.
package trust

import (
	"net/url"
	"path"
	"strings"
)

// Host modes.
const (
	ModePackaged    = "packaged"
	ModeDevelopment = "development"
)

// Sender describes the document that issued a request.
type Sender struct {
	URL       string `json:"url"`
	MainFrame bool   `json:"main_frame"`
}

// Policy is the configuration the origin check depends on.
type Policy struct {
	// Mode is ModePackaged or ModeDevelopment. Any other value, including
	// the empty string, rejects every sender.
	Mode      string
	EntryURL  string
	DevOrigin string
}

// IsTrustedSender reports whether sender may issue privileged commands
// under policy. It has no side effects.
func IsTrustedSender(sender *Sender, policy Policy) bool {
	if sender == nil || !sender.MainFrame || sender.URL == "" {
		return false
	}

	switch policy.Mode {
	case ModePackaged:
		return policy.EntryURL != "" && sender.URL == policy.EntryURL
	case ModeDevelopment:
		if policy.EntryURL != "" && sender.URL == policy.EntryURL {
			return true
		}
		return matchesDevOrigin(sender.URL, policy.DevOrigin)
	default:
		return false
	}
}

// IsTrustedOrigin applies the same rules to a bare Origin header, which
// carries no path. Used at websocket upgrade.
func IsTrustedOrigin(origin string, policy Policy) bool {
	if origin == "" || origin == "null" {
		return false
	}
	switch policy.Mode {
	case ModePackaged:
		entry, err := url.Parse(policy.EntryURL)
		if err != nil || entry.Scheme == "" {
			return false
		}
		return origin == entry.Scheme+"://"+entry.Host
	case ModeDevelopment:
		if entry, err := url.Parse(policy.EntryURL); err == nil && entry.Scheme != "" && origin == entry.Scheme+"://"+entry.Host {
			return true
		}
		o, err := url.Parse(origin)
		if err != nil || o.Path != "" || o.RawQuery != "" || o.Fragment != "" {
			return false
		}
		dev, err := url.Parse(policy.DevOrigin)
		if err != nil {
			return false
		}
		return sameHostPort(o, dev)
	default:
		return false
	}
}

func matchesDevOrigin(raw, devOrigin string) bool {
	if devOrigin == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	dev, err := url.Parse(devOrigin)
	if err != nil {
		return false
	}
	if !sameHostPort(u, dev) {
		return false
	}

	prefix := strings.TrimSuffix(dev.Path, "/")
	if prefix == "" {
		return true
	}
	p := u.Path
	if p == "" {
		p = "/"
	}
	// Dot segments must not climb out of the prefix.
	if strings.Contains(p, "/..") || strings.Contains(p, "/./") {
		return false
	}
	p = path.Clean(p)
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

// sameHostPort compares scheme, host and effective port. Only http and https
// are eligible, and userinfo or opaque forms never match.
func sameHostPort(u, dev *url.URL) bool {
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if u.Scheme != dev.Scheme || u.User != nil || u.Opaque != "" || u.Host == "" {
		return false
	}
	if !strings.EqualFold(u.Hostname(), dev.Hostname()) {
		return false
	}
	return effectivePort(u) == effectivePort(dev)
}

func effectivePort(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	switch u.Scheme {
	case "https":
		return "443"
	case "http":
		return "80"
	}
	return ""
}
