// Package hashspec handles "algorithm:hex" content identifiers and computes
// them for files.
package hashspec

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
	"path"
	"strings"

	"github.com/hashget/hashget/internal/errors"
	"github.com/opencontainers/go-digest"
)

// MD5 is not registered with go-digest, digests using it are built from
// their encoded form only.
const MD5 digest.Algorithm = "md5"

// SHA256 is the algorithm of every primary package hashspec.
const SHA256 = digest.SHA256

// Parse checks s and returns it as a digest. sha256 digests are fully
// validated, md5 digests are checked for length and hex encoding.
func Parse(s string) (digest.Digest, error) {
	i := strings.IndexByte(s, ':')
	if i <= 0 || i == len(s)-1 {
		return "", errors.Errorf("invalid hashspec %q", s)
	}

	if digest.Algorithm(s[:i]) == MD5 {
		enc := s[i+1:]
		if len(enc) != md5.Size*2 {
			return "", errors.Errorf("invalid md5 hashspec %q", s)
		}
		if _, err := hex.DecodeString(enc); err != nil {
			return "", errors.Errorf("invalid md5 hashspec %q", s)
		}
		return digest.NewDigestFromEncoded(MD5, enc), nil
	}

	d, err := digest.Parse(s)
	if err != nil {
		return "", errors.Wrapf(err, "parse hashspec %q", s)
	}
	return d, nil
}

// Split returns the algorithm and hex parts of d.
func Split(d digest.Digest) (algorithm, encoded string) {
	s := string(d)
	i := strings.IndexByte(s, ':')
	if i < 0 {
		return "", s
	}
	return s[:i], s[i+1:]
}

// Shard splits the hex of d into the directory layout shared by hash
// servers and pools: hh/hh/hh/rest, joined under prefix.
func Shard(prefix string, d digest.Digest) string {
	_, enc := Split(d)
	return ShardHex(prefix, enc)
}

// ShardHex is Shard for a bare hex string.
func ShardHex(prefix, enc string) string {
	if len(enc) < 7 {
		return path.Join(prefix, enc)
	}
	return path.Join(prefix, enc[0:2], enc[2:4], enc[4:6], enc[6:])
}

// Hashes is the set of digests computed for one file.
type Hashes struct {
	SHA256 digest.Digest
	MD5    digest.Digest
}

// List returns the non-empty digests, sha256 first.
func (h Hashes) List() []digest.Digest {
	list := make([]digest.Digest, 0, 2)
	if h.SHA256 != "" {
		list = append(list, h.SHA256)
	}
	if h.MD5 != "" {
		list = append(list, h.MD5)
	}
	return list
}

// Reader hashes everything read from rd. md5 is only computed if withMD5 is
// set.
func Reader(rd io.Reader, withMD5 bool) (Hashes, int64, error) {
	sha := digest.SHA256.Digester()
	writers := []io.Writer{sha.Hash()}

	md := md5.New()
	if withMD5 {
		writers = append(writers, md)
	}

	n, err := io.Copy(io.MultiWriter(writers...), rd)
	if err != nil {
		return Hashes{}, n, errors.Wrap(err, "hash")
	}

	h := Hashes{SHA256: sha.Digest()}
	if withMD5 {
		h.MD5 = digest.NewDigestFromEncoded(MD5, hex.EncodeToString(md.Sum(nil)))
	}
	return h, n, nil
}

// Sum hashes the file at filename.
func Sum(filename string, withMD5 bool) (Hashes, int64, error) {
	f, err := os.Open(filename)
	if err != nil {
		return Hashes{}, 0, errors.WithStack(err)
	}
	defer func() { _ = f.Close() }()

	h, n, err := Reader(f, withMD5)
	if err != nil {
		return Hashes{}, 0, errors.Wrap(err, filename)
	}
	return h, n, nil
}

// String returns the sha256 digest of s.
func String(s string) digest.Digest {
	return digest.FromString(s)
}
