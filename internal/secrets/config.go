package secrets

import (
	"fmt"
	"regexp"
)

// DefaultRedaction replaces each detected secret.
const DefaultRedaction = "[REDACTED]"

// Config configures the scrubber.
type Config struct {
	// Enabled controls whether scrubbing is active.
	Enabled bool `koanf:"enabled"`

	// RedactionString replaces each detected secret. A "%s" verb receives
	// the gitleaks rule ID.
	RedactionString string `koanf:"redaction_string"`

	// AllowList holds regular expressions for matches that are never redacted.
	AllowList []string `koanf:"allow_list"`

	compiledAllowList []*regexp.Regexp
}

// DefaultConfig returns an enabled configuration.
func DefaultConfig() *Config {
	return &Config{Enabled: true, RedactionString: DefaultRedaction}
}

// Validate compiles the allow list and fills defaults.
func (c *Config) Validate() error {
	if c.RedactionString == "" {
		c.RedactionString = DefaultRedaction
	}
	c.compiledAllowList = c.compiledAllowList[:0]
	for _, pattern := range c.AllowList {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidPattern, pattern, err)
		}
		c.compiledAllowList = append(c.compiledAllowList, re)
	}
	return nil
}
