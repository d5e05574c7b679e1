package heuristic

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hashget/hashget/internal/hashdb"
	rtest "github.com/hashget/hashget/internal/test"
)

func TestFirstSignature(t *testing.T) {
	sr := &SubmitRequest{
		URL:        "http://example.com/a.deb",
		Signatures: map[string]string{hashdb.SigURL: "http://example.com/a.deb", hashdb.SigDeb: "a 1 amd64"},
	}
	sigtype, sig := sr.FirstSignature()
	rtest.Equals(t, hashdb.SigDeb, sigtype)
	rtest.Equals(t, "a 1 amd64", sig)

	sr = &SubmitRequest{URL: "http://example.com/k.tar.xz"}
	sigtype, sig = sr.FirstSignature()
	rtest.Equals(t, hashdb.SigURL, sigtype)
	rtest.Equals(t, "http://example.com/k.tar.xz", sig)
	rtest.Equals(t, map[string]string{hashdb.SigURL: sr.URL}, sr.AllSignatures())
}

func TestResolveURL(t *testing.T) {
	calls := 0
	sr := &SubmitRequest{URLFunc: func(context.Context) (string, error) {
		calls++
		return "http://example.com/resolved.deb", nil
	}}

	for i := 0; i < 3; i++ {
		u, err := sr.ResolveURL(context.TODO())
		rtest.OK(t, err)
		rtest.Equals(t, "http://example.com/resolved.deb", u)
	}
	rtest.Equals(t, 1, calls)

	unresolvable := &SubmitRequest{URLFunc: func(context.Context) (string, error) {
		calls++
		return "", nil
	}}
	u, err := unresolvable.ResolveURL(context.TODO())
	rtest.OK(t, err)
	rtest.Equals(t, "", u)
	_, _ = unresolvable.ResolveURL(context.TODO())
	rtest.Equals(t, 2, calls)
}

type testHeuristic struct {
	name string
	err  error
}

func (h testHeuristic) Name() string { return h.name }

func (h testHeuristic) Check(path string) ([]*SubmitRequest, error) {
	if h.err != nil {
		return nil, h.err
	}
	return []*SubmitRequest{{URL: "http://example.com/" + h.name + path}}, nil
}

func TestRegistrySelect(t *testing.T) {
	r := Registry{
		"one":    func(Options) Heuristic { return testHeuristic{name: "one"} },
		"two":    func(Options) Heuristic { return testHeuristic{name: "two"} },
		"broken": func(Options) Heuristic { return testHeuristic{name: "broken", err: errors.New("boom")} },
	}

	set, err := r.Select([]string{"all"}, Options{})
	rtest.OK(t, err)
	rtest.Equals(t, []string{"broken", "one", "two"}, set.Names())

	set, err = r.Select([]string{"two"}, Options{})
	rtest.OK(t, err)
	rtest.Equals(t, []string{"two"}, set.Names())

	_, err = r.Select([]string{"three"}, Options{})
	rtest.Assert(t, err != nil && strings.Contains(err.Error(), "three"), "unknown heuristic accepted: %v", err)

	set, err = r.Select([]string{"one", "broken"}, Options{})
	rtest.OK(t, err)
	list, err := set.Process("/x")
	rtest.Assert(t, err != nil, "error of broken heuristic lost")
	rtest.Equals(t, 1, len(list))
	rtest.Equals(t, "http://example.com/one/x", list[0].URL)
}
