package hashspec

import (
	"path/filepath"
	"strings"
	"testing"

	rtest "github.com/hashget/hashget/internal/test"
	"github.com/opencontainers/go-digest"
)

const helloSHA256 = "sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

func TestParse(t *testing.T) {
	d, err := Parse(helloSHA256)
	rtest.OK(t, err)
	rtest.Equals(t, digest.Digest(helloSHA256), d)

	d, err = Parse("md5:5d41402abc4b2a76b9719d911017c592")
	rtest.OK(t, err)
	rtest.Equals(t, MD5, d.Algorithm())

	for _, s := range []string{"", "sha256", "sha256:", ":abc", "md5:xyz", "sha256:abcd"} {
		if _, err := Parse(s); err == nil {
			t.Errorf("Parse(%q) did not fail", s)
		}
	}
}

func TestShard(t *testing.T) {
	rtest.Equals(t,
		"a/2c/f2/4d/ba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		Shard("a", helloSHA256))
	rtest.Equals(t,
		"pool/sha256/2c/f2/4d/ba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		Shard("pool/sha256", helloSHA256))

	algo, enc := Split(helloSHA256)
	rtest.Equals(t, "sha256", algo)
	rtest.Equals(t, 64, len(enc))
}

func TestReader(t *testing.T) {
	h, n, err := Reader(strings.NewReader("hello"), true)
	rtest.OK(t, err)
	rtest.Equals(t, int64(5), n)
	rtest.Equals(t, digest.Digest(helloSHA256), h.SHA256)
	rtest.Equals(t, digest.Digest("md5:5d41402abc4b2a76b9719d911017c592"), h.MD5)
	rtest.Equals(t, []digest.Digest{h.SHA256, h.MD5}, h.List())

	h, _, err = Reader(strings.NewReader("hello"), false)
	rtest.OK(t, err)
	rtest.Equals(t, 1, len(h.List()))
}

func TestSum(t *testing.T) {
	dir := rtest.TempDir(t)
	fn := filepath.Join(dir, "hello.txt")
	rtest.WriteFile(t, fn, []byte("hello"))

	h, n, err := Sum(fn, false)
	rtest.OK(t, err)
	rtest.Equals(t, int64(5), n)
	rtest.Equals(t, digest.Digest(helloSHA256), h.SHA256)

	_, _, err = Sum(filepath.Join(dir, "missing"), false)
	rtest.Assert(t, err != nil, "expected error for missing file")

	f, err := ReadFile(fn, dir, true)
	rtest.OK(t, err)
	rtest.Equals(t, "hello.txt", f.RelPath)
	rtest.Equals(t, digest.Digest(helloSHA256), f.Hashspec())
}
