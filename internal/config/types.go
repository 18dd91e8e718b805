package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration is a non-negative time.Duration that decodes from "90s" style
// strings or from a bare integer number of seconds ("90"), which is what
// environment overrides such as AGENTFLOW_POOL_DEFAULT_TIMEOUT usually carry.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = 0
		return nil
	}

	var parsed time.Duration
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		parsed = time.Duration(secs) * time.Second
	} else {
		parsed, err = time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, err)
		}
	}
	if parsed < 0 {
		return fmt.Errorf("invalid duration %q: must not be negative", raw)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Duration returns the value as a time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// OrDefault returns def when d is zero.
func (d Duration) OrDefault(def time.Duration) time.Duration {
	if d == 0 {
		return def
	}
	return time.Duration(d)
}

const redactedSecret = "[REDACTED]"

// Secret holds a credential such as the backend API key. Every printing or
// JSON path masks it; only Value exposes the raw string.
type Secret string

// String implements fmt.Stringer.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redactedSecret
}

// GoString implements fmt.GoStringer so %#v is masked too.
func (s Secret) GoString() string { return "Secret(" + redactedSecret + ")" }

// MarshalJSON implements json.Marshaler.
func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(strings.TrimSpace(string(text)))
	return nil
}

// Value returns the unmasked credential.
func (s Secret) Value() string { return string(s) }

// IsSet reports whether a credential was configured.
func (s Secret) IsSet() bool { return s != "" }
