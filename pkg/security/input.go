package security

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// MaxInputSize is the default cap on an agent request body.
const MaxInputSize = 64 * 1024

var (
	// ErrInputTooLarge is returned for requests over the guard's size limit.
	ErrInputTooLarge = errors.New("input too large")

	// ErrInjection is returned when input tries to override the agent's instructions.
	ErrInjection = errors.New("prompt injection detected")
)

// InjectionCategory names the kind of override a pattern catches.
type InjectionCategory string

const (
	CategorySystemOverride InjectionCategory = "system_override"
	CategoryRoleHijacking  InjectionCategory = "role_hijacking"
	CategoryDelimiter      InjectionCategory = "delimiter_injection"
	CategoryJailbreak      InjectionCategory = "jailbreak"
)

type injectionPattern struct {
	re       *regexp.Regexp
	category InjectionCategory
	desc     string
}

var injectionPatterns = []injectionPattern{
	{regexp.MustCompile(`(?i)ignore\s+(all\s+)?(the\s+)?previous\s+instructions?`), CategorySystemOverride, "ignore previous instructions"},
	{regexp.MustCompile(`(?i)disregard\s+(your\s+|all\s+)?instructions?`), CategorySystemOverride, "disregard instructions"},
	{regexp.MustCompile(`(?i)override\s+(your\s+)?(system\s+prompt|instructions?|programming)`), CategorySystemOverride, "override system"},
	{regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|in)\s`), CategoryRoleHijacking, "you are now"},
	{regexp.MustCompile(`(?i)reveal\s+(your\s+)?(system\s+prompt|hidden\s+instructions?)`), CategoryRoleHijacking, "reveal system prompt"},
	{regexp.MustCompile(`(?i)<\|?(im_start|im_end|system)\|?>`), CategoryDelimiter, "chat template delimiter"},
	{regexp.MustCompile(`(?i)\[/?(INST|SYS)\]`), CategoryDelimiter, "instruction delimiter"},
	{regexp.MustCompile(`(?i)\b(DAN|developer)\s+mode\b`), CategoryJailbreak, "jailbreak mode"},
}

// InjectionError reports which pattern matched.
type InjectionError struct {
	Category InjectionCategory
	Pattern  string
}

func (e *InjectionError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", ErrInjection, e.Pattern, e.Category)
}

func (e *InjectionError) Unwrap() error { return ErrInjection }

// InputGuard screens request bodies before an agent sees them.
type InputGuard struct {
	MaxSize int
	// DetectInjection enables the instruction-override patterns.
	DetectInjection bool
}

// DefaultInputGuard caps size and screens for injection.
func DefaultInputGuard() InputGuard {
	return InputGuard{MaxSize: MaxInputSize, DetectInjection: true}
}

// Check returns nil when input may be passed on.
func (g InputGuard) Check(input string) error {
	if g.MaxSize > 0 && len(input) > g.MaxSize {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrInputTooLarge, len(input), g.MaxSize)
	}
	if !g.DetectInjection {
		return nil
	}
	normalized := normalize(input)
	for _, p := range injectionPatterns {
		if p.re.MatchString(normalized) {
			return &InjectionError{Category: p.category, Pattern: p.desc}
		}
	}
	return nil
}

// SanitizeString drops NUL and control characters other than tab and newlines.
func SanitizeString(input string) string {
	return strings.Map(func(r rune) rune {
		if r >= 32 || r == '\n' || r == '\t' || r == '\r' {
			return r
		}
		return -1
	}, input)
}

var spaceRun = regexp.MustCompile(`[ \t]+`)

// normalize removes zero-width characters that split keywords and collapses
// horizontal whitespace.
func normalize(input string) string {
	stripped := strings.Map(func(r rune) rune {
		switch r {
		case '\u200B', '\u200C', '\u200D', '\uFEFF', '\u00AD', '\u2060':
			return -1
		}
		return r
	}, SanitizeString(input))
	return spaceRun.ReplaceAllString(stripped, " ")
}
