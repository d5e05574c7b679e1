// Package heuristic defines recognizers which, for files seen during a
// tree walk, describe upstream packages that should be indexed.
package heuristic

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/hashget/hashget/internal/errors"
	"github.com/hashget/hashget/internal/hashdb"
)

// SubmitRequest describes one package to be indexed. The URL may be
// resolved lazily by URLFunc since that can require network requests.
type SubmitRequest struct {
	URL     string
	URLFunc func(ctx context.Context) (string, error)

	Signatures map[string]string
	Project    string
	PkgType    string

	resolved bool
}

// ResolveURL returns the package URL, calling URLFunc once if URL is empty.
// An empty URL without error means the package cannot be located.
func (sr *SubmitRequest) ResolveURL(ctx context.Context) (string, error) {
	if sr.URL != "" || sr.resolved || sr.URLFunc == nil {
		return sr.URL, nil
	}
	u, err := sr.URLFunc(ctx)
	if err != nil {
		return "", err
	}
	sr.URL = u
	sr.resolved = true
	return u, nil
}

// FirstSignature returns a signature for lookups. Signatures other than the
// url signature are preferred; without any, the URL is used.
func (sr *SubmitRequest) FirstSignature() (sigtype, sig string) {
	types := make([]string, 0, len(sr.Signatures))
	for t := range sr.Signatures {
		if t != hashdb.SigURL {
			types = append(types, t)
		}
	}
	if len(types) > 0 {
		sort.Strings(types)
		return types[0], sr.Signatures[types[0]]
	}
	if sig, ok := sr.Signatures[hashdb.SigURL]; ok {
		return hashdb.SigURL, sig
	}
	return hashdb.SigURL, sr.URL
}

// AllSignatures returns the signatures to check for presence: all given
// signatures, or the url signature if there are none.
func (sr *SubmitRequest) AllSignatures() map[string]string {
	if len(sr.Signatures) > 0 {
		return sr.Signatures
	}
	if sr.URL == "" {
		return nil
	}
	return map[string]string{hashdb.SigURL: sr.URL}
}

func (sr *SubmitRequest) String() string {
	if sr.URL != "" {
		return sr.URL
	}
	sigtype, sig := sr.FirstSignature()
	return fmt.Sprintf("%v %q", sigtype, sig)
}

// Heuristic inspects files.
type Heuristic interface {
	Name() string

	// Check returns the packages indicated by the file at path.
	Check(path string) ([]*SubmitRequest, error)
}

// Options are passed to heuristic constructors.
type Options struct {
	HTTP *http.Client

	// SnapshotURL is the base URL of the Debian snapshot archive.
	SnapshotURL string
}

// Factory creates a heuristic.
type Factory func(Options) Heuristic

// Registry maps heuristic names to constructors.
type Registry map[string]Factory

// Names returns the registered names in order.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Select creates the named heuristics. The name "all" selects every
// registered heuristic.
func (r Registry) Select(names []string, opts Options) (Set, error) {
	selected := make(map[string]struct{}, len(names))
	for _, name := range names {
		if name == "all" {
			for n := range r {
				selected[n] = struct{}{}
			}
			continue
		}
		if _, ok := r[name]; !ok {
			return nil, errors.Fatalf("unknown heuristic %q, known are %v", name, r.Names())
		}
		selected[name] = struct{}{}
	}

	var set Set
	for _, name := range r.Names() {
		if _, ok := selected[name]; ok {
			set = append(set, r[name](opts))
		}
	}
	return set, nil
}

// Set is a list of heuristics applied together.
type Set []Heuristic

// Process runs all heuristics on path. Failing heuristics do not stop the
// others; their errors are returned together.
func (s Set) Process(path string) ([]*SubmitRequest, error) {
	var res []*SubmitRequest
	var errs []error
	for _, h := range s {
		list, err := h.Check(path)
		if err != nil {
			errs = append(errs, errors.Wrapf(err, "heuristic %v", h.Name()))
		}
		res = append(res, list...)
	}
	return res, errors.Join(errs...)
}

// Names returns the names of the heuristics in s.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for _, h := range s {
		names = append(names, h.Name())
	}
	return names
}
