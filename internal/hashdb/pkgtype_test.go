package hashdb

import (
	"testing"

	"github.com/hashget/hashget/internal/hashspec"
	rtest "github.com/hashget/hashget/internal/test"
)

func TestDebSignaturePath(t *testing.T) {
	var tests = []struct {
		sig  string
		path string
	}{
		{"libc6 2.28-10 amd64", "sig/deb/libc/libc6/2.28-10_amd64.json"},
		{"libssl1.1 1.1.1d-0+deb10u2 amd64", "sig/deb/libs/libssl1.1/1.1.1d-0+deb10u2_amd64.json"},
		{"bash 5.0-4 amd64", "sig/deb/b/bash/5.0-4_amd64.json"},
		{"lib 1 all", "sig/deb/l/lib/1_all.json"},
	}

	for _, test := range tests {
		t.Run(test.sig, func(t *testing.T) {
			p, err := DebSignaturePath(test.sig)
			rtest.OK(t, err)
			rtest.Equals(t, test.path, p)
		})
	}

	_, err := DebSignaturePath("bash 5.0-4")
	rtest.Assert(t, err != nil, "incomplete signature accepted")
}

func TestAnchorPath(t *testing.T) {
	d := hashspec.String("hello")
	rtest.Equals(t, "a/2c/f2/4d/ba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", AnchorPath(d))

	p := URLSignaturePath("hello")
	rtest.Equals(t, "sig/url/2c/f2/4d/ba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", p)
}

func TestPackageTypes(t *testing.T) {
	rtest.Equals(t, []string{"debian", "generic", "kernel"}, PackageTypes())

	generic, err := LookupPackageType("")
	rtest.OK(t, err)
	rtest.Equals(t, "generic", generic.Name)
	rtest.Assert(t, generic.AcceptsSignature("anything"), "generic type rejects signature")

	kernel, err := LookupPackageType("kernel")
	rtest.OK(t, err)
	rtest.Assert(t, !kernel.AcceptsSignature(SigDeb), "kernel type accepts deb signatures")

	_, err = LookupPackageType("rpm")
	rtest.Assert(t, err != nil, "unknown package type accepted")
}

func TestPackageTypeAnchors(t *testing.T) {
	hp := newTestPackage("http://example.com/bash.deb", "a", "b")
	hp.Anchors = hp.Files[:1]
	hp.Signatures[SigDeb] = DebSignature("bash", "5.0-4", "amd64")

	pt, err := LookupPackageType("debian")
	rtest.OK(t, err)

	anchors := pt.Anchors(hp)
	var paths []string
	for _, a := range anchors {
		paths = append(paths, a.Path)
	}

	want := []string{
		"sig/deb/b/bash/5.0-4_amd64.json",
		URLSignaturePath(hp.URL),
		AnchorPath(hp.Hashspec()),
		AnchorPath(hp.Anchors[0]),
	}
	rtest.Equals(t, want, paths)
}
