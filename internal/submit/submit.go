// Package submit indexes one upstream package: it is downloaded, unpacked
// and hashed, and the resulting HashPackage is saved to a local project.
package submit

import (
	"context"
	"time"

	"github.com/hashget/hashget/internal/anchor"
	"github.com/hashget/hashget/internal/archive"
	"github.com/hashget/hashget/internal/debug"
	"github.com/hashget/hashget/internal/errors"
	"github.com/hashget/hashget/internal/hashdb"
	"github.com/hashget/hashget/internal/upstream"
	"github.com/opencontainers/go-digest"
)

// DefaultMinSize is the size a file must exceed to be indexed.
const DefaultMinSize = 1024

// CrawledDateLayout is the format of the crawled_date attribute.
const CrawledDateLayout = "2006-01-02 15:04:05"

// Appender receives downloaded package files, usually a file pool.
type Appender interface {
	Append(ctx context.Context, path string) (bool, error)
}

// Options describe one submission.
type Options struct {
	// URL is the permanent download location of the package.
	URL string

	// File is read instead of downloading URL if set.
	File string

	// Project defaults to _submitted.
	Project string
	PkgType string

	Signatures map[string]string
	Attrs      map[string]interface{}
	Expires    *hashdb.Date

	// MinSize is the size a file must exceed to be indexed, DefaultMinSize
	// if zero. A negative value indexes no files.
	MinSize int64

	// Anchors configures anchor selection. Anchors collected in it are
	// not used.
	Anchors *anchor.List

	Recursive bool
	TmpDir    string
	Getter    upstream.Downloader
	Extractor archive.Extractor

	// Pool, if set, receives the package file.
	Pool Appender

	// Remote forwards the package file to the hash servers.
	Remote bool
}

// Result describes a submitted package.
type Result struct {
	Package *hashdb.HashPackage

	Cached     int64
	Downloaded int64

	// Remote is the number of hash servers the package was sent to.
	Remote int
}

// Submit indexes the package described by opts and saves it to the project.
func Submit(ctx context.Context, c *hashdb.Client, opts Options) (*Result, error) {
	if opts.URL == "" {
		return nil, errors.New("submit: package URL is empty")
	}
	if opts.Project == "" {
		opts.Project = hashdb.ProjectSubmitted
	}
	if opts.MinSize == 0 {
		opts.MinSize = DefaultMinSize
	}
	if opts.Anchors == nil {
		opts.Anchors, _ = anchor.New(anchor.DefaultMinSize)
	}

	p, err := upstream.New(upstream.Options{
		Path:      opts.File,
		URL:       opts.URL,
		TmpDir:    opts.TmpDir,
		Getter:    opts.Getter,
		Extractor: opts.Extractor,
		Recursive: opts.Recursive,
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := p.Cleanup(); err != nil {
			debug.Log("cleanup %v: %v", p, err)
		}
	}()

	files, err := p.ReadFiles(ctx)
	if err != nil {
		return nil, err
	}

	anchors := opts.Anchors.Clone()
	var indexed []digest.Digest
	var indexedSize int64
	for _, f := range files {
		if opts.MinSize >= 0 && f.Size > opts.MinSize {
			indexed = append(indexed, f.Hashspec())
			indexedSize += f.Size
		}
		anchors.CheckAppend(f)
	}

	signatures := make(map[string]string, len(opts.Signatures)+1)
	for k, v := range opts.Signatures {
		signatures[k] = v
	}
	signatures[hashdb.SigURL] = opts.URL

	hp := &hashdb.HashPackage{
		URL:        opts.URL,
		Files:      indexed,
		Anchors:    anchors.Hashspecs(),
		Signatures: signatures,
		Hashes:     p.Hashes.List(),
		Attrs:      make(map[string]interface{}, len(opts.Attrs)+4),
		Expires:    opts.Expires,
	}
	for k, v := range opts.Attrs {
		hp.Attrs[k] = v
	}
	hp.SetAttr(hashdb.AttrSize, p.Size)
	hp.SetAttr(hashdb.AttrSumSize, p.SumSize())
	hp.SetAttr(hashdb.AttrIndexedSize, indexedSize)
	hp.SetAttr(hashdb.AttrCrawledDate, time.Now().Format(CrawledDateLayout))

	if err := c.SubmitSave(hp, opts.Project, opts.PkgType); err != nil {
		return nil, err
	}
	debug.Log("submitted %v to %v: %d files, %d anchors", hp.URL, opts.Project, len(hp.Files), len(hp.Anchors))

	res := &Result{
		Package:    hp,
		Cached:     p.Cached,
		Downloaded: p.Downloaded,
	}

	if opts.Pool != nil {
		if _, err := opts.Pool.Append(ctx, p.Path); err != nil {
			return res, errors.Wrap(err, "append to pool")
		}
	}

	if opts.Remote {
		n, err := c.SubmitRemote(ctx, opts.URL, p.Path)
		res.Remote = n
		if err != nil {
			return res, err
		}
	}

	return res, nil
}
