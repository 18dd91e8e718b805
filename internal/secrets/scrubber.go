package secrets

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// Scrubber detects and redacts secrets with the default gitleaks rules.
type Scrubber struct {
	config *Config

	mu       sync.Mutex
	detector *detect.Detector
}

// New creates a Scrubber. A nil config uses DefaultConfig.
func New(cfg *Config) (*Scrubber, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Scrubber{config: cfg}
	if !cfg.Enabled {
		return s, nil
	}

	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetectorInit, err)
	}
	s.detector = detector
	return s, nil
}

// Scrub replaces every detected secret in content.
func (s *Scrubber) Scrub(content string) *Result {
	result := &Result{Scrubbed: content, Findings: []Finding{}, ByRule: map[string]int{}}
	if s == nil || s.detector == nil || content == "" {
		return result
	}

	s.mu.Lock()
	found := s.detector.DetectString(content)
	s.mu.Unlock()

	secrets := make([]string, 0, len(found))
	for _, f := range found {
		if f.Secret == "" || s.allowed(f.Secret) {
			continue
		}
		result.Findings = append(result.Findings, Finding{
			RuleID:      f.RuleID,
			Description: f.Description,
			Line:        f.StartLine,
		})
		result.ByRule[f.RuleID]++
		secrets = append(secrets, f.Secret)
	}

	// Longest first so a secret containing another is replaced whole.
	sort.SliceStable(secrets, func(i, j int) bool { return len(secrets[i]) > len(secrets[j]) })
	scrubbed := content
	for _, secret := range secrets {
		scrubbed = strings.ReplaceAll(scrubbed, secret, s.config.RedactionString)
	}
	result.Scrubbed = scrubbed
	return result
}

// Redact returns content with secrets replaced.
func (s *Scrubber) Redact(content string) string {
	return s.Scrub(content).Scrubbed
}

// Check reports findings without altering content.
func (s *Scrubber) Check(content string) *Result {
	r := s.Scrub(content)
	r.Scrubbed = content
	return r
}

// IsEnabled reports whether scrubbing is active.
func (s *Scrubber) IsEnabled() bool {
	return s != nil && s.detector != nil
}

func (s *Scrubber) allowed(match string) bool {
	for _, re := range s.config.compiledAllowList {
		if re.MatchString(match) {
			return true
		}
	}
	return false
}
