package flake

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	// snippetContext is the number of characters kept on each side of a match.
	snippetContext = 200
	// snippetMaxLines caps the rendered snippet; longer ones get an ellipsis.
	snippetMaxLines = 10
)

var blankLines = regexp.MustCompile(`\n\s*\n+`)

// PatternMatch is one pattern hit together with its surrounding log excerpt.
type PatternMatch struct {
	Pattern string
	Snippet string
}

type compiledPattern struct {
	raw string
	re  *regexp.Regexp
}

// Matcher evaluates a fixed, ordered set of patterns against log text.
type Matcher struct {
	patterns []compiledPattern
}

// NewMatcher compiles the given patterns. In literal mode every regex
// metacharacter is escaped first, so patterns match as exact substrings.
// Patterns that fail to compile are skipped with a warning; they never abort
// a scan.
func NewMatcher(patterns []string, useRegex bool) *Matcher {
	m := &Matcher{}
	for _, pattern := range patterns {
		expr := pattern
		if !useRegex {
			expr = regexp.QuoteMeta(pattern)
		}
		re, err := regexp.Compile("(?m)" + expr)
		if err != nil {
			log.Warn().Str("pattern", pattern).Err(err).Msg("Invalid regex pattern, skipping")
			continue
		}
		m.patterns = append(m.patterns, compiledPattern{raw: pattern, re: re})
	}
	return m
}

// Find returns the first occurrence of each pattern in text, in declaration
// order, as bounded snippets. Patterns without a hit are absent from the
// result.
func (m *Matcher) Find(text string) []PatternMatch {
	var matches []PatternMatch
	for _, pattern := range m.patterns {
		loc := pattern.re.FindStringIndex(text)
		if loc == nil {
			continue
		}
		matches = append(matches, PatternMatch{
			Pattern: pattern.raw,
			Snippet: extractSnippet(text, loc[0], loc[1]),
		})
	}
	return matches
}

// extractSnippet cuts a context window around the match, collapses runs of
// blank lines and caps the result at snippetMaxLines.
func extractSnippet(text string, start int, end int) string {
	from := start - snippetContext
	if from < 0 {
		from = 0
	}
	to := end + snippetContext
	if to > len(text) {
		to = len(text)
	}

	snippet := strings.TrimSpace(text[from:to])
	snippet = blankLines.ReplaceAllString(snippet, "\n")

	lines := strings.Split(snippet, "\n")
	if len(lines) > snippetMaxLines {
		snippet = strings.Join(lines[:snippetMaxLines], "\n") + "\n..."
	}
	return snippet
}
