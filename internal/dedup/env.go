// Package dedup implements the operations on directory trees: indexing the
// packages a tree contains, preparing the restore manifest, packing the
// tree without the files that can be downloaded again, and recovering
// those files after unpacking.
package dedup

import (
	"context"

	"github.com/hashget/hashget/internal/archive"
	"github.com/hashget/hashget/internal/filepool"
	"github.com/hashget/hashget/internal/hashcache"
	"github.com/hashget/hashget/internal/hashdb"
	"github.com/hashget/hashget/internal/submit"
	"github.com/hashget/hashget/internal/ui"
	"github.com/hashget/hashget/internal/upstream"
)

// Env holds the collaborators shared by all operations.
type Env struct {
	Client    *hashdb.Client
	Getter    upstream.Downloader
	Extractor archive.Extractor

	// Pool and Cache are optional.
	Pool  filepool.Pool
	Cache *hashcache.Cache

	Printer ui.Printer
	TmpDir  string
}

func (e *Env) printer() ui.Printer {
	if e.Printer == nil {
		return &ui.NoopPrinter{}
	}
	return e.Printer
}

func (e *Env) newPackage(path, url string, recursive bool) (*upstream.Package, error) {
	return upstream.New(upstream.Options{
		Path:      path,
		URL:       url,
		TmpDir:    e.TmpDir,
		Getter:    e.Getter,
		Extractor: e.Extractor,
		Recursive: recursive,
	})
}

// Submit indexes one package using the collaborators of e. Fields of opts
// which are already set are kept.
func Submit(ctx context.Context, e *Env, opts submit.Options) (*submit.Result, error) {
	if opts.Getter == nil {
		opts.Getter = e.Getter
	}
	if opts.Extractor == nil {
		opts.Extractor = e.Extractor
	}
	if opts.TmpDir == "" {
		opts.TmpDir = e.TmpDir
	}
	if opts.Pool == nil && e.Pool != nil {
		opts.Pool = e.Pool
	}
	return submit.Submit(ctx, e.Client, opts)
}
