package filepool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashget/hashget/internal/debug"
	"github.com/hashget/hashget/internal/errors"
	"github.com/hashget/hashget/internal/fs"
	"github.com/hashget/hashget/internal/hashspec"
	"github.com/opencontainers/go-digest"
)

// DirPool keeps package files in a local directory. All files are hashed
// when the pool is opened.
type DirPool struct {
	path   string
	hashes map[digest.Digest]string
	files  []string

	// Loaded counts files found at open, New files appended and Requested
	// successful Get calls.
	Loaded    int
	New       int
	Requested int
}

// NewDirPool opens the pool in dir, creating it if necessary.
func NewDirPool(dir string) (*DirPool, error) {
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return nil, errors.WithStack(err)
	}

	p := &DirPool{
		path:   dir,
		hashes: make(map[digest.Digest]string),
	}

	err := fs.Walk(dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		ok, err := p.load(path)
		if ok {
			p.Loaded++
		}
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "load pool %v", dir)
	}

	debug.Log("pool %v: %d files", dir, p.Loaded)
	return p, nil
}

// load hashes the file at path. Symlinks are followed; Get returns the
// link target. Links to anything but a regular file are ignored.
func (p *DirPool) load(path string) (bool, error) {
	target := path
	fi, err := fs.Lstat(path)
	if err != nil {
		return false, errors.WithStack(err)
	}
	if fs.IsSymlink(fi) {
		link, err := os.Readlink(path)
		if err != nil {
			return false, errors.WithStack(err)
		}
		if !filepath.IsAbs(link) {
			link = filepath.Join(filepath.Dir(path), link)
		}
		target = link
		if fi, err = fs.Stat(target); err != nil || !fs.IsRegularFile(fi) {
			debug.Log("pool %v: ignore link %v: %v", p.path, path, err)
			return false, nil
		}
	} else if !fs.IsRegularFile(fi) {
		return false, nil
	}

	h, _, err := hashspec.Sum(target, false)
	if err != nil {
		return false, err
	}
	p.hashes[h.SHA256] = target
	p.files = append(p.files, path)
	return true, nil
}

func fixName(path string) string {
	if _, err := os.Lstat(path); os.IsNotExist(err) {
		return path
	}
	for i := 1; ; i++ {
		name := fmt.Sprintf("%s.%d", path, i)
		if _, err := os.Lstat(name); os.IsNotExist(err) {
			return name
		}
	}
}

// Append copies the file into the pool unless its content is already
// there. A file with the same name is not overwritten, the copy gets a
// numeric suffix instead.
func (p *DirPool) Append(_ context.Context, path string) (bool, error) {
	h, _, err := hashspec.Sum(path, false)
	if err != nil {
		return false, err
	}
	if _, ok := p.hashes[h.SHA256]; ok {
		debug.Log("%v already in pool %v", path, p.path)
		return false, nil
	}

	dst := fixName(filepath.Join(p.path, filepath.Base(path)))
	if err := fs.CopyFile(dst, path); err != nil {
		return false, err
	}
	if err := os.Chmod(dst, 0644); err != nil {
		return false, errors.WithStack(err)
	}

	p.hashes[h.SHA256] = dst
	p.files = append(p.files, dst)
	p.New++
	debug.Log("added %v to pool as %v", path, dst)
	return true, nil
}

// Get implements Pool.
func (p *DirPool) Get(_ context.Context, d digest.Digest, _ string) (string, bool, error) {
	path, ok := p.hashes[d]
	if ok {
		p.Requested++
	}
	return path, ok, nil
}

// Files returns the files of the pool.
func (p *DirPool) Files() []string {
	return p.files
}

// Len returns the number of files in the pool.
func (p *DirPool) Len() int {
	return len(p.files)
}

// Truncate deletes all files of the pool. Symlinks are removed, not their
// targets.
func (p *DirPool) Truncate() error {
	for _, path := range p.files {
		if err := fs.RemoveIfExists(path); err != nil {
			return errors.WithStack(err)
		}
	}
	p.files = nil
	p.hashes = make(map[digest.Digest]string)
	p.Loaded = 0
	return nil
}

// Cleanup implements Pool.
func (p *DirPool) Cleanup() error {
	return nil
}

func (p *DirPool) String() string {
	return fmt.Sprintf("dir pool %v (%d files)", p.path, len(p.files))
}
