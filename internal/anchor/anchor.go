// Package anchor selects the files of a tree or package that are distinctive
// enough to probe a hash server with.
package anchor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hashget/hashget/internal/errors"
	"github.com/hashget/hashget/internal/hashspec"
	"github.com/opencontainers/go-digest"
)

// DefaultMinSize is the size a file must exceed to become an anchor.
const DefaultMinSize = 100 * 1024

// List collects anchors. There is no upper bound on the number of anchors.
type List struct {
	MinSize int64

	patterns []string
	forced   *regexp.Regexp
	anchors  []hashspec.File
}

// New returns a List with the given size floor and forced-anchor regular
// expressions. A negative minSize disables size based selection.
func New(minSize int64, forced ...string) (*List, error) {
	l := &List{MinSize: minSize}
	for _, re := range forced {
		if err := l.AddForced(re); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// AddForced adds a regular expression. Files whose relative path matches it
// are anchors regardless of their size.
func (l *List) AddForced(re string) error {
	patterns := append(l.patterns, re)
	compiled, err := regexp.Compile("^(?:" + strings.Join(patterns, "|") + ")")
	if err != nil {
		return errors.Wrapf(err, "forced anchor %q", re)
	}
	l.patterns = patterns
	l.forced = compiled
	return nil
}

// IsAnchor reports whether f should be an anchor.
func (l *List) IsAnchor(f hashspec.File) bool {
	if l.MinSize >= 0 && f.Size > l.MinSize {
		return true
	}
	return l.forced != nil && l.forced.MatchString(f.RelPath)
}

// CheckAppend adds f to the list if it is an anchor and returns whether it
// was added.
func (l *List) CheckAppend(f hashspec.File) bool {
	if !l.IsAnchor(f) {
		return false
	}
	l.anchors = append(l.anchors, f)
	return true
}

// Anchors returns the collected files.
func (l *List) Anchors() []hashspec.File {
	return l.anchors
}

// Hashspecs returns the sha256 digests of the collected files without
// duplicates, in order of appearance.
func (l *List) Hashspecs() []digest.Digest {
	seen := make(map[digest.Digest]struct{}, len(l.anchors))
	res := make([]digest.Digest, 0, len(l.anchors))
	for _, f := range l.anchors {
		d := f.Hashspec()
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		res = append(res, d)
	}
	return res
}

// Len returns the number of collected anchors.
func (l *List) Len() int {
	return len(l.anchors)
}

// Clear drops all collected anchors, keeping the configuration.
func (l *List) Clear() {
	l.anchors = nil
}

// Clone returns an empty List with the same configuration.
func (l *List) Clone() *List {
	return &List{
		MinSize:  l.MinSize,
		patterns: append([]string(nil), l.patterns...),
		forced:   l.forced,
	}
}

func (l *List) String() string {
	return fmt.Sprintf("anchor.List(minsize: %d, %d forced, %d anchors)", l.MinSize, len(l.patterns), len(l.anchors))
}
