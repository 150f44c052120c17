package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Validate checks the merged configuration for values the host cannot run
// with. A bad trust section is reported here rather than silently turning
// every request into a rejection.
func (c *Config) Validate() error {
	var problems []string

	switch c.Trust.Mode {
	case ModePackaged, ModeDevelopment:
	default:
		problems = append(problems, fmt.Sprintf("trust.mode %q must be %q or %q", c.Trust.Mode, ModePackaged, ModeDevelopment))
	}

	if u, err := url.Parse(c.Trust.EntryURL); err != nil || u.Scheme == "" {
		problems = append(problems, fmt.Sprintf("trust.entry_url %q is not an absolute URL", c.Trust.EntryURL))
	}

	if c.Trust.Mode == ModeDevelopment {
		u, err := url.Parse(c.Trust.DevOrigin)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			problems = append(problems, fmt.Sprintf("trust.dev_origin %q must be an http(s) origin", c.Trust.DevOrigin))
		}
	}

	if c.Listen == "" {
		problems = append(problems, "listen must not be empty")
	}

	if c.Watch.Debounce <= 0 {
		problems = append(problems, "watch.debounce must be positive")
	}
	for _, pattern := range c.Watch.Ignore {
		if !doublestar.ValidatePattern(pattern) {
			problems = append(problems, fmt.Sprintf("watch.ignore pattern %q is invalid", pattern))
		}
	}

	if c.Waiting.Enabled {
		if c.Waiting.PollInterval <= 0 || c.Waiting.QuietWindow <= 0 || c.Waiting.IdleThreshold <= 0 {
			problems = append(problems, "waiting intervals must be positive")
		}
	}

	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0 {
		problems = append(problems, "rate_limit values must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  %s", strings.Join(problems, "\n  "))
	}
	return nil
}
