// Package filter matches paths against shell-style patterns. A pattern is a
// list of filepath.Match components joined by '/', where "**" matches any
// number of intermediate directories.
package filter

import (
	"path/filepath"
	"strings"

	"github.com/hashget/hashget/internal/errors"
)

// ErrBadString is returned when Match is called with the empty string as the
// second argument.
var ErrBadString = errors.New("filter.Match: string is empty")

// Pattern represents a preparsed filter pattern
type Pattern []string

func prepareStr(str string) ([]string, error) {
	if str == "" {
		return nil, ErrBadString
	}

	if filepath.Separator != '/' {
		str = strings.ReplaceAll(str, string(filepath.Separator), "/")
	}

	return strings.Split(str, "/"), nil
}

func preparePattern(pattern string) Pattern {
	pattern = filepath.Clean(pattern)

	if filepath.Separator != '/' {
		pattern = strings.ReplaceAll(pattern, string(filepath.Separator), "/")
	}

	return strings.Split(pattern, "/")
}

// Match returns true if str matches the pattern. When the pattern is
// malformed, filepath.ErrBadPattern is returned. The empty pattern matches
// everything, when str is the empty string ErrBadString is returned.
//
// Patterns starting with '/' are anchored, all others may match at any
// depth.
func Match(pattern, str string) (matched bool, err error) {
	if pattern == "" {
		return true, nil
	}

	strs, err := prepareStr(str)
	if err != nil {
		return false, err
	}

	return match(preparePattern(pattern), strs)
}

func hasDoubleWildcard(list Pattern) (ok bool, pos int) {
	for i, item := range list {
		if item == "**" {
			return true, i
		}
	}

	return false, 0
}

func match(patterns Pattern, strs []string) (matched bool, err error) {
	if ok, pos := hasDoubleWildcard(patterns); ok {
		// expand '**' into an increasing number of single wildcards
		newPat := make(Pattern, len(strs))
		copy(newPat, patterns[:pos])
		for i := 0; i <= len(strs)-len(patterns)+1; i++ {
			newPat := newPat[:pos+i]
			if i > 0 {
				newPat[pos+i-1] = "*"
			}
			newPat = append(newPat, patterns[pos+1:]...)

			matched, err := match(newPat, strs)
			if err != nil {
				return false, err
			}

			if matched {
				return true, nil
			}
		}

		return false, nil
	}

	if len(patterns) == 0 && len(strs) == 0 {
		return true, nil
	}

	if len(patterns) <= len(strs) {
		maxOffset := len(strs) - len(patterns)
		if patterns[0] == "" {
			maxOffset = 0
		}
	outer:
		for offset := maxOffset; offset >= 0; offset-- {
			for i := len(patterns) - 1; i >= 0; i-- {
				ok, err := filepath.Match(patterns[i], strs[offset+i])
				if err != nil {
					return false, errors.Wrap(err, "Match")
				}

				if !ok {
					continue outer
				}
			}

			return true, nil
		}
	}

	return false, nil
}

// ParsePatterns prepares a list of patterns for use with List.
func ParsePatterns(patterns []string) []Pattern {
	patpat := make([]Pattern, 0, len(patterns))
	for _, pat := range patterns {
		if pat == "" {
			continue
		}
		patpat = append(patpat, preparePattern(pat))
	}
	return patpat
}

// List returns true if str matches one of the patterns. Empty patterns are ignored.
func List(patterns []Pattern, str string) (matched bool, err error) {
	if len(patterns) == 0 {
		return false, nil
	}

	strs, err := prepareStr(str)
	if err != nil {
		return false, err
	}

	for _, pat := range patterns {
		m, err := match(pat, strs)
		if err != nil {
			return false, err
		}
		if m {
			return true, nil
		}
	}

	return false, nil
}

// InvalidPatternError is returned by ValidatePatterns.
type InvalidPatternError struct {
	InvalidPatterns []string
}

func (e *InvalidPatternError) Error() string {
	return "invalid pattern(s) provided:\n" + strings.Join(e.InvalidPatterns, "\n")
}

// ValidatePatterns checks all patterns for syntax errors.
func ValidatePatterns(patterns []string) error {
	var invalid []string

	for _, p := range patterns {
		for _, part := range preparePattern(p) {
			if _, err := filepath.Match(part, ""); err != nil {
				invalid = append(invalid, p)
				break
			}
		}
	}

	if len(invalid) > 0 {
		return &InvalidPatternError{InvalidPatterns: invalid}
	}
	return nil
}
