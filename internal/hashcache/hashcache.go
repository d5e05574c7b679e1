// Package hashcache remembers file hashes between runs. An entry is valid
// as long as size, modification and change time of the file are unchanged.
package hashcache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/hashget/hashget/internal/debug"
	"github.com/hashget/hashget/internal/errors"
	"github.com/hashget/hashget/internal/fs"
	"github.com/hashget/hashget/internal/hashspec"
	"github.com/opencontainers/go-digest"
	bolt "go.etcd.io/bbolt"
)

var hashesBucket = []byte("hashes")

type entry struct {
	Size   int64         `json:"size"`
	MTime  int64         `json:"mtime"`
	CTime  int64         `json:"ctime"`
	SHA256 digest.Digest `json:"sha256"`
	MD5    digest.Digest `json:"md5,omitempty"`
}

func newEntry(fi os.FileInfo) entry {
	m := fs.ExtendedStat(fi)
	return entry{
		Size:  fi.Size(),
		MTime: fi.ModTime().UnixNano(),
		CTime: m.CTime.UnixNano(),
	}
}

func (e entry) matches(other entry) bool {
	return e.Size == other.Size && e.MTime == other.MTime && e.CTime == other.CTime
}

// Stats count cache lookups.
type Stats struct {
	Hits   int
	Misses int
}

// Cache is a hash cache in a bbolt database. A nil *Cache hashes every
// file.
type Cache struct {
	db    *bolt.DB
	stats Stats
}

// Open opens or creates the database at filename.
func Open(filename string) (*Cache, error) {
	if err := fs.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return nil, errors.WithStack(err)
	}
	db, err := bolt.Open(filename, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open hash cache %v", filename)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(hashesBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.WithStack(err)
	}
	return &Cache{db: db}, nil
}

// Close closes the database.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return errors.WithStack(c.db.Close())
}

// Stats returns the lookup counters.
func (c *Cache) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	return c.stats
}

func key(path string) []byte {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return []byte(abs)
}

// Lookup returns the stored hashes of the file if they are still valid.
func (c *Cache) Lookup(path string, fi os.FileInfo, withMD5 bool) (hashspec.Hashes, bool) {
	if c == nil {
		return hashspec.Hashes{}, false
	}

	var e entry
	var found bool
	err := c.db.View(func(tx *bolt.Tx) error {
		buf := tx.Bucket(hashesBucket).Get(key(path))
		if buf == nil {
			return nil
		}
		found = true
		return json.Unmarshal(buf, &e)
	})
	if err != nil {
		debug.Log("hash cache entry for %v unreadable: %v", path, err)
		found = false
	}

	if !found || !e.matches(newEntry(fi)) || (withMD5 && e.MD5 == "") {
		c.stats.Misses++
		return hashspec.Hashes{}, false
	}
	c.stats.Hits++
	return hashspec.Hashes{SHA256: e.SHA256, MD5: e.MD5}, true
}

// Store records the hashes of the file.
func (c *Cache) Store(path string, fi os.FileInfo, h hashspec.Hashes) error {
	if c == nil {
		return nil
	}
	e := newEntry(fi)
	e.SHA256 = h.SHA256
	e.MD5 = h.MD5

	buf, err := json.Marshal(e)
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(hashesBucket).Put(key(path), buf)
	}))
}

// ReadFile is like hashspec.ReadFile but uses the cache.
func (c *Cache) ReadFile(path, root string, withMD5 bool) (hashspec.File, error) {
	if c == nil {
		return hashspec.ReadFile(path, root, withMD5)
	}

	fi, err := fs.Stat(path)
	if err != nil {
		return hashspec.File{}, errors.WithStack(err)
	}
	rel := path
	if root != "" {
		if rel, err = filepath.Rel(root, path); err != nil {
			return hashspec.File{}, errors.WithStack(err)
		}
	}

	if h, ok := c.Lookup(path, fi, withMD5); ok {
		return hashspec.File{Path: path, RelPath: rel, Size: fi.Size(), Hashes: h}, nil
	}

	f, err := hashspec.ReadFile(path, root, withMD5)
	if err != nil {
		return f, err
	}
	if err := c.Store(path, fi, f.Hashes); err != nil {
		debug.Log("store hash of %v: %v", path, err)
	}
	return f, nil
}

// Prune removes entries of files which no longer exist and returns their
// number.
func (c *Cache) Prune() (int, error) {
	var stale [][]byte
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(hashesBucket).ForEach(func(k, _ []byte) error {
			if _, err := os.Lstat(string(k)); os.IsNotExist(err) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
	})
	if err != nil {
		return 0, errors.WithStack(err)
	}

	err = c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(hashesBucket)
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	return len(stale), errors.WithStack(err)
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	n := 0
	_ = c.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(hashesBucket).Stats().KeyN
		return nil
	})
	return n
}
