package filter

import (
	"bufio"
	"bytes"
	"path/filepath"
	"strings"

	"github.com/hashget/hashget/internal/debug"
	"github.com/hashget/hashget/internal/errors"
	"github.com/hashget/hashget/internal/textfile"
	"github.com/spf13/pflag"
)

// SkipList decides which paths below a root are left out of deduplication.
// Every pattern is anchored at the root. A matching directory skips
// everything below it.
type SkipList struct {
	root     string
	patterns []Pattern
	warnf    func(msg string, args ...interface{})
}

// NewSkipList returns a SkipList for patterns relative to root.
func NewSkipList(root string, patterns []string, warnf func(msg string, args ...interface{})) (*SkipList, error) {
	if err := ValidatePatterns(patterns); err != nil {
		return nil, err
	}

	anchored := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSuffix(p, "/")
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		anchored = append(anchored, p)
	}

	if warnf == nil {
		warnf = func(string, ...interface{}) {}
	}

	return &SkipList{
		root:     root,
		patterns: ParsePatterns(anchored),
		warnf:    warnf,
	}, nil
}

// Len returns the number of patterns.
func (l *SkipList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.patterns)
}

// Skip returns true if path (absolute or below root) matches a pattern.
func (l *SkipList) Skip(path string) bool {
	if l == nil || len(l.patterns) == 0 {
		return false
	}

	rel, err := filepath.Rel(l.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return false
	}

	matched, err := List(l.patterns, "/"+filepath.ToSlash(rel))
	if err != nil {
		l.warnf("error for skip pattern: %v", err)
		return false
	}

	if matched {
		debug.Log("path %q skipped by a skip pattern", path)
	}
	return matched
}

// ReadPatternsFromFiles reads all files and returns the list of
// patterns. Leading and trailing white space is removed, empty lines and
// comment lines are ignored.
func ReadPatternsFromFiles(files []string) ([]string, error) {
	var patterns []string
	for _, filename := range files {
		data, err := textfile.Read(filename)
		if err != nil {
			return nil, err
		}

		scanner := bufio.NewScanner(bytes.NewReader(data))
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			patterns = append(patterns, line)
		}
		if err := scanner.Err(); err != nil {
			return nil, errors.Wrapf(err, "read patterns from %q", filename)
		}
	}
	return patterns, nil
}

// SkipOptions collects skip patterns from the command line.
type SkipOptions struct {
	Skip      []string
	SkipFiles []string
}

// Add registers the skip flags on f.
func (opts *SkipOptions) Add(f *pflag.FlagSet) {
	f.StringArrayVar(&opts.Skip, "skip", nil, "do not deduplicate files below `path` relative to the root (can be specified multiple times)")
	f.StringArrayVar(&opts.SkipFiles, "skip-file", nil, "read skip patterns from a `file` (can be specified multiple times)")
}

// Patterns returns all patterns given directly and read from files.
func (opts SkipOptions) Patterns() ([]string, error) {
	patterns := append([]string(nil), opts.Skip...)
	if len(opts.SkipFiles) > 0 {
		fromFiles, err := ReadPatternsFromFiles(opts.SkipFiles)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, fromFiles...)
	}
	if err := ValidatePatterns(patterns); err != nil {
		return nil, errors.Fatalf("--skip: %s", err)
	}
	return patterns, nil
}
