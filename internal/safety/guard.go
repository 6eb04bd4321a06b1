// Package safety filters assistant replies before they reach the user.
package safety

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// FallbackResponse replaces any reply that mentions a banned term.
const FallbackResponse = "I'm not a licensed professional, but I can help you think through this."

var defaultBanned = regexp.MustCompile(`(?i)\b(therapist|licensed|diagnose|treatment|medical advice)\b`)

// TermParser parses one terms-file line into a matcher.
type TermParser interface {
	CanParse(line string) bool
	Parse(line string) (*regexp.Regexp, error)
}

// Guard replaces replies that claim clinical authority.
type Guard struct {
	patterns []*regexp.Regexp
}

// NewGuard returns a guard with the built-in banned terms plus any terms
// loaded from path. A missing file is not an error.
func NewGuard(path string) (*Guard, error) {
	return NewGuardWithParsers(path, defaultTermParsers())
}

// NewGuardWithParsers allows additional line formats in the terms file.
func NewGuardWithParsers(path string, parsers []TermParser) (*Guard, error) {
	if len(parsers) == 0 {
		parsers = defaultTermParsers()
	}
	guard := &Guard{patterns: []*regexp.Regexp{defaultBanned}}

	if strings.TrimSpace(path) == "" {
		return guard, nil
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return guard, nil
		}
		return nil, fmt.Errorf("failed to read terms file %q: %w", path, err)
	}

	extra, err := parseTerms(string(contents), parsers)
	if err != nil {
		return nil, fmt.Errorf("failed to parse terms file %q: %w", path, err)
	}
	guard.patterns = append(guard.patterns, extra...)
	return guard, nil
}

// Sanitize returns text unchanged, or FallbackResponse when it matches any
// banned term.
func (g *Guard) Sanitize(text string) string {
	for _, pattern := range g.patterns {
		if pattern.MatchString(text) {
			return FallbackResponse
		}
	}
	return text
}

// Sanitize applies the built-in banned terms only.
func Sanitize(text string) string {
	if defaultBanned.MatchString(text) {
		return FallbackResponse
	}
	return text
}

func parseTerms(contents string, parsers []TermParser) ([]*regexp.Regexp, error) {
	lines := strings.Split(contents, "\n")
	patterns := make([]*regexp.Regexp, 0, len(lines))

	for index, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parsed := false
		for _, parser := range parsers {
			if !parser.CanParse(line) {
				continue
			}
			re, err := parser.Parse(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", index+1, err)
			}
			patterns = append(patterns, re)
			parsed = true
			break
		}

		if !parsed {
			return nil, fmt.Errorf("line %d: unsupported term format", index+1)
		}
	}

	return patterns, nil
}

func defaultTermParsers() []TermParser {
	return []TermParser{regexTermParser{}, wordTermParser{}}
}

// wordTermParser matches a plain phrase as whole words, ignoring case.
type wordTermParser struct{}

func (wordTermParser) CanParse(line string) bool {
	return !strings.HasPrefix(line, "/")
}

func (wordTermParser) Parse(line string) (*regexp.Regexp, error) {
	fields := strings.Fields(line)
	for i, field := range fields {
		fields[i] = regexp.QuoteMeta(field)
	}
	return regexp.Compile(`(?i)\b` + strings.Join(fields, `\s+`) + `\b`)
}

// regexTermParser accepts /pattern/ lines. Matching is always case-insensitive.
type regexTermParser struct{}

func (regexTermParser) CanParse(line string) bool {
	return len(line) > 1 && line[0] == '/'
}

func (regexTermParser) Parse(line string) (*regexp.Regexp, error) {
	pattern, pos, err := parseDelimited(line, 1, '/')
	if err != nil {
		return nil, fmt.Errorf("invalid term pattern: %w", err)
	}
	if rest := strings.TrimSpace(line[pos:]); rest != "" {
		return nil, fmt.Errorf("unexpected text after pattern: %q", rest)
	}
	if pattern == "" {
		return nil, errors.New("term pattern cannot be empty")
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	return re, nil
}

func parseDelimited(line string, start int, delim byte) (string, int, error) {
	if start >= len(line) {
		return "", 0, errors.New("unexpected end of expression")
	}

	var builder strings.Builder
	escaped := false
	for index := start; index < len(line); index++ {
		char := line[index]
		if escaped {
			builder.WriteByte(char)
			escaped = false
			continue
		}
		if char == '\\' {
			escaped = true
			builder.WriteByte(char)
			continue
		}
		if char == delim {
			return builder.String(), index + 1, nil
		}
		builder.WriteByte(char)
	}
	return "", 0, errors.New("unterminated expression")
}
