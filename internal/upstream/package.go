// Package upstream wraps one upstream package file: a local path or a URL
// that is downloaded, unpacked and hashed.
package upstream

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/hashget/hashget/internal/archive"
	"github.com/hashget/hashget/internal/cacheget"
	"github.com/hashget/hashget/internal/debug"
	"github.com/hashget/hashget/internal/errors"
	"github.com/hashget/hashget/internal/fs"
	"github.com/hashget/hashget/internal/hashspec"
)

// Downloader fetches URLs into local files.
type Downloader interface {
	Get(ctx context.Context, url string) (*cacheget.Result, error)
}

// Options configure a Package. One of Path and URL must be set. If both are
// set, the package is read from Path and URL is only recorded.
type Options struct {
	Path string
	URL  string

	// TmpDir is where the package is unpacked, the system default if empty.
	TmpDir string

	Getter    Downloader
	Extractor archive.Extractor

	// Recursive also unpacks archives found inside the package.
	Recursive bool
}

// Package is one upstream package.
type Package struct {
	opts Options

	Path string
	URL  string

	Hashes hashspec.Hashes
	Size   int64

	// Cached and Downloaded count the bytes served from the HTTP cache and
	// fetched from the network.
	Cached     int64
	Downloaded int64

	hashed bool
	dir    string
	files  []hashspec.File
	read   bool
}

// New returns a Package for opts.
func New(opts Options) (*Package, error) {
	if opts.Path == "" && opts.URL == "" {
		return nil, errors.New("upstream: neither path nor URL given")
	}
	if opts.Extractor == nil {
		opts.Extractor = archive.Builtin{}
	}
	return &Package{
		opts: opts,
		Path: opts.Path,
		URL:  opts.URL,
	}, nil
}

// Basename returns the file name of the package.
func (p *Package) Basename() string {
	if p.URL != "" {
		return path.Base(strings.TrimRight(p.URL, "/"))
	}
	return filepath.Base(p.Path)
}

func (p *Package) String() string {
	if p.URL != "" {
		return p.URL
	}
	return p.Path
}

// Download fetches the package unless it is a local file and computes its
// sha256 and md5 hashes.
func (p *Package) Download(ctx context.Context) error {
	if p.hashed {
		return nil
	}

	if p.Path == "" {
		if p.opts.Getter == nil {
			return errors.New("upstream: no downloader configured")
		}
		res, err := p.opts.Getter.Get(ctx, p.URL)
		if err != nil {
			return err
		}
		p.Path = res.File
		p.Cached = res.Cached
		p.Downloaded = res.Downloaded
	}

	h, size, err := hashspec.Sum(p.Path, true)
	if err != nil {
		return err
	}
	p.Hashes = h
	p.Size = size
	p.hashed = true

	debug.Log("%v: %d bytes, %v", p, size, h.SHA256)
	return nil
}

// Dir returns the directory the package was unpacked to, or "" before
// Unpack.
func (p *Package) Dir() string {
	return p.dir
}

// Unpack extracts the package into a new temporary directory and removes
// all symlinks from it. With Recursive, archives inside the package are
// extracted next to themselves into <file>.unpacked until no new archive
// appears.
func (p *Package) Unpack(ctx context.Context) error {
	if p.dir != "" {
		return nil
	}
	if err := p.Download(ctx); err != nil {
		return err
	}

	dir, err := os.MkdirTemp(p.opts.TmpDir, "hashget-unpack-")
	if err != nil {
		return errors.WithStack(err)
	}

	if err := p.extract(ctx, p.Path, dir); err != nil {
		_ = fs.RemoveAll(dir)
		return errors.Wrapf(err, "unpack %v", p.Basename())
	}
	p.dir = dir

	if p.opts.Recursive {
		if err := p.unpackNested(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (p *Package) extract(ctx context.Context, filename, dir string) error {
	if err := p.opts.Extractor.Extract(ctx, filename, dir); err != nil {
		return err
	}
	n, err := fs.RemoveSymlinks(dir)
	if err != nil {
		return err
	}
	if n > 0 {
		debug.Log("removed %d symlinks from %v", n, dir)
	}
	return nil
}

func (p *Package) unpackNested(ctx context.Context) error {
	done := make(map[string]struct{})
	for pass := 1; ; pass++ {
		var nested []string
		err := fs.Walk(p.dir, func(path string, fi os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if !fs.IsRegularFile(fi) {
				return nil
			}
			if _, ok := done[path]; ok {
				return nil
			}
			done[path] = struct{}{}
			if archive.IsArchive(path) {
				nested = append(nested, path)
			}
			return nil
		})
		if err != nil {
			return errors.WithStack(err)
		}

		if len(nested) == 0 {
			return nil
		}
		debug.Log("%v: pass %d, %d nested archives", p, pass, len(nested))

		for _, fn := range nested {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := p.extract(ctx, fn, fn+".unpacked"); err != nil {
				// not every file that looks like an archive is one
				debug.Log("nested unpack of %v failed: %v", fn, err)
			}
		}
	}
}

// ReadFiles hashes every regular file of the unpacked package. Later calls
// return the stored result.
func (p *Package) ReadFiles(ctx context.Context) ([]hashspec.File, error) {
	if p.read {
		return p.files, nil
	}
	if err := p.Unpack(ctx); err != nil {
		return nil, err
	}

	var files []hashspec.File
	err := fs.Walk(p.dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !fs.IsRegularFile(fi) {
			return nil
		}
		f, err := hashspec.ReadFile(path, p.dir, false)
		if err != nil {
			return err
		}
		files = append(files, f)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "read files of %v", p.Basename())
	}

	p.files = files
	p.read = true
	return files, nil
}

// Files returns the result of ReadFiles.
func (p *Package) Files() []hashspec.File {
	return p.files
}

// SumSize returns the total size of all files in the package.
func (p *Package) SumSize() int64 {
	var sum int64
	for _, f := range p.files {
		sum += f.Size
	}
	return sum
}

// Cleanup removes the unpacked files.
func (p *Package) Cleanup() error {
	if p.dir == "" {
		return nil
	}
	if err := fs.MakeWritable(p.dir); err != nil {
		debug.Log("make %v writable: %v", p.dir, err)
	}
	err := fs.RemoveAll(p.dir)
	p.dir = ""
	p.files = nil
	p.read = false
	return errors.WithStack(err)
}
