package dedup

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashget/hashget/internal/debug"
	"github.com/hashget/hashget/internal/errors"
	"github.com/hashget/hashget/internal/filter"
	"github.com/hashget/hashget/internal/fs"
	"github.com/hashget/hashget/internal/hashdb"
	"github.com/hashget/hashget/internal/restorefile"
	"github.com/hashget/hashget/internal/singlelist"
	"github.com/hashget/hashget/internal/submit"
)

// PrepareOptions configure Prepare.
type PrepareOptions struct {
	Root string

	// MinSize is the size a file must exceed to be looked up,
	// submit.DefaultMinSize if zero.
	MinSize int64

	Skip *filter.SkipList

	// ExcludeFile receives the relative paths of all files which are
	// recovered from packages, one "./path" per line.
	ExcludeFile string

	// RestoreFile is the manifest location, <root>/.hashget-restore.json
	// if empty.
	RestoreFile string

	// Cutoff is the day until which the manifest must stay restorable.
	// Packages expiring earlier are not used. Nil means today.
	Cutoff *hashdb.Date
}

// PrepareResult describes the written manifest.
type PrepareResult struct {
	RestoreFile *restorefile.RestoreFile

	// Scanned counts the files seen, Skipped those left out by the skip list.
	Scanned int
	Skipped int
}

// Prepare writes the restore manifest and the exclude list for the tree.
// Only the local index is queried.
func Prepare(ctx context.Context, e *Env, opts PrepareOptions) (*PrepareResult, error) {
	if opts.MinSize == 0 {
		opts.MinSize = submit.DefaultMinSize
	}
	if opts.RestoreFile == "" {
		opts.RestoreFile = filepath.Join(opts.Root, restorefile.Filename)
	}
	if opts.ExcludeFile == "" {
		return nil, errors.New("prepare: no exclude file given")
	}
	cutoff := opts.Cutoff
	if cutoff == nil {
		cutoff = hashdb.Today()
	}

	excf, err := os.Create(opts.ExcludeFile)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer func() { _ = excf.Close() }()
	excludes := bufio.NewWriter(excf)

	res := &PrepareResult{RestoreFile: restorefile.New()}
	rf := res.RestoreFile
	sl := singlelist.New()
	packages := make(map[string]*hashdb.HashPackage)
	printer := e.printer()

	err = fs.Walk(opts.Root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			printer.E("prepare: %v", err)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if opts.Skip.Skip(path) {
			res.Skipped++
			if fi.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if fi.IsDir() {
			return nil
		}
		res.Scanned++

		if !fs.IsRegularFile(fi) || fi.Size() <= opts.MinSize {
			return nil
		}
		if path == opts.RestoreFile || path == opts.ExcludeFile {
			return nil
		}

		f, err := e.Cache.ReadFile(path, opts.Root, false)
		if err != nil {
			printer.E("prepare: %v", err)
			return nil
		}

		list, err := e.Client.Hash2Packages(ctx, f.Hashspec(), false)
		if err != nil {
			return err
		}
		var hashspecs []string
		for _, hp := range list {
			hs := hp.Hashspec().String()
			if contains(hashspecs, hs) {
				continue
			}
			if !hp.Usable(cutoff) {
				continue
			}
			hashspecs = append(hashspecs, hs)
			packages[hs] = hp
		}
		if len(hashspecs) == 0 {
			return nil
		}

		rel := filepath.ToSlash(f.RelPath)
		if strings.ContainsAny(rel, "\n\r") {
			// tar exclude files cannot express these names
			debug.Log("keeping %q in the archive", rel)
			return nil
		}

		sl.Add(hashspecs)
		if _, err := excludes.WriteString("./" + rel + "\n"); err != nil {
			return errors.WithStack(err)
		}
		rf.AddFile(restorefile.NewFile(f, fi))
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "prepare")
	}

	if err := excludes.Flush(); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := excf.Close(); err != nil {
		return nil, errors.WithStack(err)
	}

	for _, hs := range sl.Optimized() {
		hp := packages[hs]
		var size *int64
		if s, ok := hp.Size(); ok {
			size = &s
		}
		rf.AddPackage(hp.URL, hp.Hashspec(), size)
		rf.Expires = hashdb.MinDate(rf.Expires, hp.Expires)
	}

	if err := rf.Save(opts.RestoreFile); err != nil {
		return nil, err
	}
	printer.V("saved %v: %v", opts.RestoreFile, rf)
	debug.Log("%v", e.Client)
	return res, nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
