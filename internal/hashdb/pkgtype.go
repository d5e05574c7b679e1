package hashdb

import (
	"path"
	"sort"
	"strings"

	"github.com/hashget/hashget/internal/errors"
	"github.com/hashget/hashget/internal/hashspec"
	"github.com/opencontainers/go-digest"
)

// Signature types.
const (
	SigURL = "url"
	SigDeb = "deb"
)

// Anchor is a location on a hash server under which a package can be found.
type Anchor struct {
	Hashspec digest.Digest
	Path     string
}

// PackageType describes the behavior specific to one kind of package.
type PackageType struct {
	Name string

	// Signatures lists the accepted signature types, all if empty.
	Signatures []string

	// SpecialAnchors returns additional server locations for hp.
	SpecialAnchors func(hp *HashPackage) []Anchor
}

// AcceptsSignature reports whether signatures of sigtype are used by this
// package type.
func (pt *PackageType) AcceptsSignature(sigtype string) bool {
	if len(pt.Signatures) == 0 {
		return true
	}
	for _, s := range pt.Signatures {
		if s == sigtype {
			return true
		}
	}
	return false
}

// Anchors returns all server locations of hp: the special anchors of the
// package type followed by one hash-sharded path per sha256 hash and anchor.
func (pt *PackageType) Anchors(hp *HashPackage) []Anchor {
	var res []Anchor
	if pt.SpecialAnchors != nil {
		res = append(res, pt.SpecialAnchors(hp)...)
	}

	for _, d := range append(append([]digest.Digest(nil), hp.Hashes...), hp.Anchors...) {
		if d.Algorithm() != hashspec.SHA256 {
			continue
		}
		res = append(res, Anchor{Hashspec: d, Path: AnchorPath(d)})
	}
	return res
}

func signatureAnchors(hp *HashPackage) []Anchor {
	var res []Anchor
	for _, sigtype := range []string{SigDeb, SigURL} {
		sig, ok := hp.Signatures[sigtype]
		if !ok {
			continue
		}
		p, err := SignaturePath(sigtype, sig)
		if err != nil {
			continue
		}
		res = append(res, Anchor{Hashspec: hp.Hashspec(), Path: p})
	}
	return res
}

var packageTypes = map[string]*PackageType{
	"generic": {
		Name:           "generic",
		SpecialAnchors: signatureAnchors,
	},
	"debian": {
		Name:           "debian",
		Signatures:     []string{SigDeb, SigURL},
		SpecialAnchors: signatureAnchors,
	},
	"kernel": {
		Name:           "kernel",
		Signatures:     []string{SigURL},
		SpecialAnchors: signatureAnchors,
	},
}

// LookupPackageType returns the registered package type name.
func LookupPackageType(name string) (*PackageType, error) {
	if name == "" {
		name = "generic"
	}
	pt, ok := packageTypes[name]
	if !ok {
		return nil, errors.Errorf("unknown package type %q", name)
	}
	return pt, nil
}

// PackageTypes returns the names of all package types.
func PackageTypes() []string {
	names := make([]string, 0, len(packageTypes))
	for name := range packageTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AnchorPath returns the server path of a file or package hash:
// a/hh/hh/hh/rest.
func AnchorPath(d digest.Digest) string {
	return hashspec.Shard("a", d)
}

// DebSignature builds the signature of a Debian binary package.
func DebSignature(name, version, arch string) string {
	return name + " " + version + " " + arch
}

// DebSignaturePath returns the server path for a "name version arch"
// signature. Library packages are grouped by lib plus their fourth letter,
// all others by their first letter.
func DebSignaturePath(sig string) (string, error) {
	fields := strings.Fields(sig)
	if len(fields) != 3 {
		return "", errors.Errorf("invalid deb signature %q", sig)
	}
	name, version, arch := fields[0], fields[1], fields[2]

	prefix := name[:1]
	if strings.HasPrefix(name, "lib") && len(name) > 3 {
		prefix = name[:4]
	}

	return path.Join("sig", "deb", prefix, name, version+"_"+arch+".json"), nil
}

// URLSignaturePath returns the server path for a url signature, sharded by
// the sha256 of the URL.
func URLSignaturePath(url string) string {
	return hashspec.Shard("sig/url", hashspec.String(url))
}

// SignaturePath returns the server path for a signature.
func SignaturePath(sigtype, sig string) (string, error) {
	switch sigtype {
	case SigDeb:
		return DebSignaturePath(sig)
	case SigURL:
		return URLSignaturePath(sig), nil
	}
	return "", errors.Errorf("no server path for signature type %q", sigtype)
}
