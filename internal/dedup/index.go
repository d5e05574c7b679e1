package dedup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashget/hashget/internal/anchor"
	"github.com/hashget/hashget/internal/debug"
	"github.com/hashget/hashget/internal/errors"
	"github.com/hashget/hashget/internal/fs"
	"github.com/hashget/hashget/internal/hashdb"
	"github.com/hashget/hashget/internal/hashspec"
	"github.com/hashget/hashget/internal/heuristic"
	"github.com/hashget/hashget/internal/submit"
	"github.com/hashget/hashget/internal/ui"
)

// IndexOptions configure Index.
type IndexOptions struct {
	Root       string
	Heuristics heuristic.Set

	// Anchors collects the anchors of the tree; a default list is used if
	// nil.
	Anchors *anchor.List

	// MinSize is passed to package submission.
	MinSize int64

	// Project overrides the project chosen by the heuristics.
	Project string

	// Pull asks the hash servers for packages containing the anchors.
	Pull bool

	Recursive bool
}

// Counters summarize an Index run.
type Counters struct {
	Total   int
	Local   int
	Pulled  int
	New     int
	Skipped int
	Failed  int
}

func (c Counters) String() string {
	return fmt.Sprintf("%d local + %d pulled + %d new = %d total packages (%d skipped, %d failed)",
		c.Local, c.Pulled, c.New, c.Total, c.Skipped, c.Failed)
}

type outcome int

const (
	outcomeLocal outcome = iota
	outcomePulled
	outcomeNew
	outcomeSkipped
	outcomeFailed
)

func (c *Counters) add(o outcome) {
	c.Total++
	switch o {
	case outcomeLocal:
		c.Local++
	case outcomePulled:
		c.Pulled++
	case outcomeNew:
		c.New++
	case outcomeSkipped:
		c.Skipped++
	case outcomeFailed:
		c.Failed++
	}
}

// Index walks the tree and makes sure every package recognized by the
// heuristics is present in the local index. Failing packages are counted and
// reported but do not stop the walk.
func Index(ctx context.Context, e *Env, opts IndexOptions) (Counters, error) {
	var c Counters
	printer := e.printer()
	start := time.Now()

	if opts.Anchors == nil {
		opts.Anchors, _ = anchor.New(anchor.DefaultMinSize)
	}

	err := fs.Walk(opts.Root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			printer.E("index: %v", err)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !fs.IsRegularFile(fi) {
			return nil
		}

		if err := checkAnchor(e, opts, path, fi); err != nil {
			printer.E("index: %v", err)
		}

		requests, err := opts.Heuristics.Process(path)
		if err != nil {
			printer.E("%v: %v", path, err)
		}
		for _, sr := range requests {
			o, err := dispatch(ctx, e, opts, sr)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				printer.E("package %v: %v", sr, err)
			}
			c.add(o)
		}
		return nil
	})
	if err != nil {
		return c, errors.Wrap(err, "index")
	}

	if opts.Pull {
		pullAnchors(ctx, e, opts.Anchors)
	}

	printer.V("indexing done in %v", ui.FormatDuration(time.Since(start)))
	printer.P("%v", c)
	return c, nil
}

// checkAnchor hashes the file if it can become an anchor.
func checkAnchor(e *Env, opts IndexOptions, path string, fi os.FileInfo) error {
	rel, err := filepath.Rel(opts.Root, path)
	if err != nil {
		return errors.WithStack(err)
	}
	if !opts.Anchors.IsAnchor(hashspec.File{Path: path, RelPath: rel, Size: fi.Size()}) {
		return nil
	}
	f, err := e.Cache.ReadFile(path, opts.Root, false)
	if err != nil {
		return err
	}
	opts.Anchors.CheckAppend(f)
	return nil
}

// sigPresent reports whether any signature of sr is known locally.
func sigPresent(ctx context.Context, c *hashdb.Client, sr *heuristic.SubmitRequest) (bool, error) {
	for sigtype, sig := range sr.AllSignatures() {
		ok, err := c.SigPresent(ctx, sigtype, sig, false)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func dispatch(ctx context.Context, e *Env, opts IndexOptions, sr *heuristic.SubmitRequest) (outcome, error) {
	printer := e.printer()

	ok, err := sigPresent(ctx, e.Client, sr)
	if err != nil {
		return outcomeFailed, err
	}
	if ok {
		debug.Log("local %v", sr)
		return outcomeLocal, nil
	}

	if sigtype, sig := sr.FirstSignature(); sig != "" {
		res, err := e.Client.PullBySignature(ctx, sigtype, sig)
		if err != nil {
			debug.Log("pull %v: %v", sr, err)
		}
		switch res {
		case hashdb.PullPulled:
			printer.V("pulled %v", sig)
			return outcomePulled, nil
		case hashdb.PullLocal:
			return outcomeLocal, nil
		}
	}

	url, err := sr.ResolveURL(ctx)
	if err != nil {
		return outcomeFailed, err
	}
	if url == "" {
		printer.V("cannot locate %v", sr)
		return outcomeSkipped, nil
	}

	project := sr.Project
	if opts.Project != "" {
		project = opts.Project
	}

	printer.V("submitting %v", url)
	_, err = Submit(ctx, e, submit.Options{
		URL:        url,
		Project:    project,
		PkgType:    sr.PkgType,
		Signatures: sr.Signatures,
		MinSize:    opts.MinSize,
		Anchors:    opts.Anchors,
		Recursive:  opts.Recursive,
	})
	if err != nil {
		return outcomeFailed, err
	}
	return outcomeNew, nil
}

func pullAnchors(ctx context.Context, e *Env, anchors *anchor.List) {
	debug.Log("pulling %d anchors", anchors.Len())
	for _, f := range anchors.Anchors() {
		if ctx.Err() != nil {
			return
		}
		res, err := e.Client.PullByHash(ctx, f.Hashspec())
		if err != nil {
			e.printer().E("pull anchor %v: %v", f.RelPath, err)
			continue
		}
		debug.Log("pull anchor %v (%v): %v", f.RelPath, ui.FormatBytes(uint64(f.Size)), res)
	}
}
