package hashcache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashget/hashget/internal/hashspec"
	rtest "github.com/hashget/hashget/internal/test"
)

func TestCache(t *testing.T) {
	dir := rtest.TempDir(t)
	c, err := Open(filepath.Join(dir, "cache", "hashes.db"))
	rtest.OK(t, err)
	defer func() { rtest.OK(t, c.Close()) }()

	fn := filepath.Join(dir, "data", "file")
	rtest.OK(t, os.MkdirAll(filepath.Dir(fn), 0755))
	rtest.WriteFile(t, fn, []byte("hello"))

	f, err := c.ReadFile(fn, dir, false)
	rtest.OK(t, err)
	rtest.Equals(t, hashspec.String("hello"), f.Hashes.SHA256)
	rtest.Equals(t, filepath.Join("data", "file"), f.RelPath)
	rtest.Equals(t, Stats{Misses: 1}, c.Stats())

	f, err = c.ReadFile(fn, dir, false)
	rtest.OK(t, err)
	rtest.Equals(t, hashspec.String("hello"), f.Hashes.SHA256)
	rtest.Equals(t, int64(5), f.Size)
	rtest.Equals(t, Stats{Hits: 1, Misses: 1}, c.Stats())

	// md5 was not stored
	f, err = c.ReadFile(fn, dir, true)
	rtest.OK(t, err)
	rtest.Equals(t, "5d41402abc4b2a76b9719d911017c592", f.Hashes.MD5.Encoded())
	rtest.Equals(t, 2, c.Stats().Misses)

	// modified file
	rtest.WriteFile(t, fn, []byte("world"))
	rtest.OK(t, os.Chtimes(fn, time.Now(), time.Now().Add(time.Hour)))
	f, err = c.ReadFile(fn, dir, false)
	rtest.OK(t, err)
	rtest.Equals(t, hashspec.String("world"), f.Hashes.SHA256)
	rtest.Equals(t, 3, c.Stats().Misses)

	rtest.Equals(t, 1, c.Len())
	rtest.OK(t, os.Remove(fn))
	n, err := c.Prune()
	rtest.OK(t, err)
	rtest.Equals(t, 1, n)
	rtest.Equals(t, 0, c.Len())
}

func TestNilCache(t *testing.T) {
	dir := rtest.TempDir(t)
	fn := filepath.Join(dir, "file")
	rtest.WriteFile(t, fn, []byte("hello"))

	var c *Cache
	f, err := c.ReadFile(fn, dir, false)
	rtest.OK(t, err)
	rtest.Equals(t, hashspec.String("hello"), f.Hashes.SHA256)
	rtest.Equals(t, Stats{}, c.Stats())
	rtest.OK(t, c.Close())
}
