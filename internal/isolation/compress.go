package isolation

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// Compression limits.
const (
	MaxDecisions     = 5
	MaxOutputKeys    = 10
	CharsPerToken    = 4
	TruncationMarker = "\n[truncated]"
)

// MinTargetTokens is the smallest target that still fits TruncationMarker.
const MinTargetTokens = (len(TruncationMarker) + CharsPerToken - 1) / CharsPerToken

// DecisionsKey is the output key agents use to report key decisions.
const DecisionsKey = "decisions"

var genericNextSteps = []string{
	"Review the decisions and outputs above before starting",
	"Build on the listed outputs rather than redoing prior work",
	"Flag any assumption that conflicts with the user requirements",
}

// Redactor removes sensitive content from text.
type Redactor interface {
	Redact(text string) string
}

// Compressor turns stage results into handoff summaries.
//
// Compression is lossy, single-pass and deterministic for a fixed clock.
type Compressor struct {
	redactor Redactor
	now      func() time.Time
}

// CompressorOption configures a Compressor.
type CompressorOption func(*Compressor)

// WithRedactor scrubs decision text before rendering.
func WithRedactor(r Redactor) CompressorOption {
	return func(c *Compressor) { c.redactor = r }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) CompressorOption {
	return func(c *Compressor) { c.now = now }
}

// NewCompressor creates a compressor.
func NewCompressor(opts ...CompressorOption) *Compressor {
	c := &Compressor{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CompressHandoff compresses result with a default compressor.
func CompressHandoff(result StageResult, targetTokens int) *HandoffSummary {
	return NewCompressor().Compress(result, targetTokens)
}

// Compress builds a summary whose text never exceeds targetTokens*4 bytes.
// A non-positive target uses DefaultTargetTokens; smaller positive targets
// are raised to MinTargetTokens.
func (c *Compressor) Compress(result StageResult, targetTokens int) *HandoffSummary {
	switch {
	case targetTokens <= 0:
		targetTokens = DefaultTargetTokens
	case targetTokens < MinTargetTokens:
		targetTokens = MinTargetTokens
	}

	decisions := ExtractDecisions(result.Outputs, MaxDecisions)
	if c.redactor != nil {
		for i, d := range decisions {
			decisions[i] = c.redactor.Redact(d)
		}
	}
	keys := OutputKeys(result.Outputs, MaxOutputKeys)
	next := append([]string(nil), genericNextSteps...)

	text := render(decisions, keys, next)
	text, truncated := Truncate(text, targetTokens*CharsPerToken)

	return &HandoffSummary{
		FromStage:  result.StageID,
		FromAgent:  result.AgentID,
		ToAgent:    result.ToAgent,
		Timestamp:  c.now(),
		Decisions:  decisions,
		OutputKeys: keys,
		NextSteps:  next,
		TokenCount: EstimateTokenCount(text),
		Text:       text,
		Truncated:  truncated,
	}
}

// EstimateTokenCount returns ceil(len(text)/4).
func EstimateTokenCount(text string) int {
	return (len(text) + CharsPerToken - 1) / CharsPerToken
}

// Truncate cuts text to at most limit bytes without splitting a UTF-8
// sequence. A cut text ends with TruncationMarker when the limit leaves room
// for it; below len(TruncationMarker) the text is cut bare.
func Truncate(text string, limit int) (string, bool) {
	if len(text) <= limit {
		return text, false
	}
	if limit < len(TruncationMarker) {
		if limit < 0 {
			limit = 0
		}
		return text[:runeCut(text, limit)], true
	}

	cut := runeCut(text, limit-len(TruncationMarker))
	return strings.TrimRight(text[:cut], " \t") + TruncationMarker, true
}

// runeCut moves n back to the nearest rune start in text.
func runeCut(text string, n int) int {
	for n > 0 && !utf8.RuneStart(text[n]) {
		n--
	}
	return n
}

// ExtractDecisions returns up to limit decision strings. An explicit
// "decisions" output wins; otherwise bullet lines are collected from textual
// outputs in key order.
func ExtractDecisions(outputs map[string]any, limit int) []string {
	decisions := make([]string, 0, limit)
	add := func(s string) bool {
		if len(decisions) >= limit {
			return false
		}
		if s = strings.TrimSpace(s); s != "" {
			decisions = append(decisions, s)
		}
		return len(decisions) < limit
	}

	switch v := outputs[DecisionsKey].(type) {
	case []string:
		for _, d := range v {
			if !add(d) {
				return decisions
			}
		}
	case []any:
		for _, d := range v {
			if !add(fmt.Sprint(d)) {
				return decisions
			}
		}
	case string:
		for _, line := range strings.Split(v, "\n") {
			if !add(stripBullet(line)) {
				return decisions
			}
		}
	}
	if len(decisions) > 0 {
		return decisions
	}

	for _, key := range sortedKeys(outputs) {
		text, ok := outputs[key].(string)
		if !ok {
			continue
		}
		for _, line := range strings.Split(text, "\n") {
			item, isBullet := bulletItem(line)
			if !isBullet {
				continue
			}
			if !add(item) {
				return decisions
			}
		}
	}
	return decisions
}

// OutputKeys returns up to limit output keys in sorted order.
func OutputKeys(outputs map[string]any, limit int) []string {
	keys := sortedKeys(outputs)
	if len(keys) > limit {
		keys = keys[:limit]
	}
	return keys
}

func render(decisions, keys, next []string) string {
	var b strings.Builder
	section := func(title string, items []string) {
		b.WriteString("## ")
		b.WriteString(title)
		b.WriteString("\n")
		if len(items) == 0 {
			b.WriteString("- none\n")
		}
		for _, item := range items {
			b.WriteString("- ")
			b.WriteString(item)
			b.WriteString("\n")
		}
	}
	section("Decisions", decisions)
	b.WriteString("\n")
	section("Outputs", keys)
	b.WriteString("\n")
	section("Next Steps", next)
	return strings.TrimRight(b.String(), "\n")
}

func bulletItem(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	for _, prefix := range []string{"- ", "* ", "• "} {
		if strings.HasPrefix(trimmed, prefix) {
			return strings.TrimSpace(trimmed[len(prefix):]), true
		}
	}
	return "", false
}

func stripBullet(line string) string {
	if item, ok := bulletItem(line); ok {
		return item
	}
	return line
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
