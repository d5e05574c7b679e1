package hashdb

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio"
	"github.com/hashget/hashget/internal/errors"
	"github.com/hashget/hashget/internal/hashspec"
	"github.com/opencontainers/go-digest"
)

// Attributes written when a package is indexed.
const (
	AttrSize        = "size"
	AttrSumSize     = "sum_size"
	AttrIndexedSize = "indexed_size"
	AttrCrawledDate = "crawled_date"
)

// HashPackage is one indexed upstream package.
type HashPackage struct {
	// URL is the permanent download location.
	URL string `json:"url"`

	// Files holds the hashes of the package's files above the indexing
	// size floor, Anchors the subset used to probe hash servers.
	Files   []digest.Digest `json:"files"`
	Anchors []digest.Digest `json:"anchors"`

	Signatures map[string]string      `json:"signatures"`
	Hashes     []digest.Digest        `json:"hashes"`
	Attrs      map[string]interface{} `json:"attrs"`

	// Expires is nil for packages that never expire.
	Expires *Date `json:"expires,omitempty"`

	path string
}

// Hashspec returns the sha256 hash of the package file, its identity.
func (hp *HashPackage) Hashspec() digest.Digest {
	for _, h := range hp.Hashes {
		if h.Algorithm() == hashspec.SHA256 {
			return h
		}
	}
	return ""
}

// Validate checks that hp has a URL and exactly one sha256 hash.
func (hp *HashPackage) Validate() error {
	if hp.URL == "" {
		return errors.New("package without URL")
	}

	n := 0
	for _, h := range hp.Hashes {
		if h.Algorithm() == hashspec.SHA256 {
			n++
		}
	}
	if n != 1 {
		return errors.Errorf("package %v has %d sha256 hashes, want exactly one", hp.URL, n)
	}
	return nil
}

func uniq(list []digest.Digest) []digest.Digest {
	if list == nil {
		return []digest.Digest{}
	}
	seen := make(map[digest.Digest]struct{}, len(list))
	res := make([]digest.Digest, 0, len(list))
	for _, d := range list {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		res = append(res, d)
	}
	return res
}

// normalize removes duplicates and fills nil collections.
func (hp *HashPackage) normalize() {
	hp.Files = uniq(hp.Files)
	hp.Anchors = uniq(hp.Anchors)
	hp.Hashes = uniq(hp.Hashes)
	if hp.Signatures == nil {
		hp.Signatures = make(map[string]string)
	}
	if hp.Attrs == nil {
		hp.Attrs = make(map[string]interface{})
	}
}

// AllHashes returns every hash hp is registered under: its own hashes, its
// files and its anchors, without duplicates.
func (hp *HashPackage) AllHashes() []digest.Digest {
	all := make([]digest.Digest, 0, len(hp.Hashes)+len(hp.Files)+len(hp.Anchors))
	all = append(all, hp.Hashes...)
	all = append(all, hp.Files...)
	all = append(all, hp.Anchors...)
	return uniq(all)
}

// Basename returns the last element of the URL.
func (hp *HashPackage) Basename() string {
	return path.Base(strings.TrimRight(hp.URL, "/"))
}

// SetAttr sets a free-form attribute.
func (hp *HashPackage) SetAttr(name string, value interface{}) {
	if hp.Attrs == nil {
		hp.Attrs = make(map[string]interface{})
	}
	hp.Attrs[name] = value
}

// Size returns the size of the package file, if known.
func (hp *HashPackage) Size() (int64, bool) {
	switch v := hp.Attrs[AttrSize].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	}
	return 0, false
}

// Usable reports whether hp may be referenced by a manifest that must be
// restorable until cutoff.
// A nil cutoff means today.
func (hp *HashPackage) Usable(cutoff *Date) bool {
	if hp.Expires == nil {
		return true
	}
	if cutoff == nil {
		cutoff = Today()
	}
	return !hp.Expires.Before(cutoff)
}

// Expired reports whether hp expired before now.
func (hp *HashPackage) Expired(now time.Time) bool {
	return hp.Expires != nil && hp.Expires.Before(NewDate(now))
}

// Path returns the file hp was loaded from or saved to.
func (hp *HashPackage) Path() string {
	return hp.path
}

func (hp *HashPackage) String() string {
	return fmt.Sprintf("%v (%d/%d)", hp.Basename(), len(hp.Anchors), len(hp.Files))
}

// ReadHashPackage decodes a package from rd.
func ReadHashPackage(rd io.Reader) (*HashPackage, error) {
	var hp HashPackage
	if err := json.NewDecoder(rd).Decode(&hp); err != nil {
		return nil, errors.Wrap(err, "decode package")
	}
	hp.normalize()
	return &hp, nil
}

// LoadHashPackage reads a package file.
func LoadHashPackage(filename string) (*HashPackage, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer func() { _ = f.Close() }()

	hp, err := ReadHashPackage(f)
	if err != nil {
		return nil, errors.Wrap(err, filename)
	}
	hp.path = filename
	return hp, nil
}

// JSON returns the indented JSON encoding of hp.
func (hp *HashPackage) JSON() ([]byte, error) {
	buf, err := json.MarshalIndent(hp, "", "    ")
	if err != nil {
		return nil, errors.Wrap(err, "encode package")
	}
	return append(buf, '\n'), nil
}

// Save writes hp atomically to filename.
func (hp *HashPackage) Save(filename string) error {
	buf, err := hp.JSON()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return errors.WithStack(err)
	}
	if err := renameio.WriteFile(filename, buf, 0644); err != nil {
		return errors.WithStack(err)
	}
	hp.path = filename
	return nil
}
