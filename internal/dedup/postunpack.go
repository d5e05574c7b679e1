package dedup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hashget/hashget/internal/debug"
	"github.com/hashget/hashget/internal/errors"
	"github.com/hashget/hashget/internal/hashspec"
	"github.com/hashget/hashget/internal/restorefile"
	"github.com/hashget/hashget/internal/ui"
	"github.com/hashget/hashget/internal/upstream"
)

// PostUnpackOptions configure PostUnpack.
type PostUnpackOptions struct {
	Root string

	// RestoreFile defaults to <root>/.hashget-restore.json.
	RestoreFile string

	// UserMode skips restoring file ownership.
	UserMode  bool
	Recursive bool
}

// PostUnpackResult summarizes a recovery.
type PostUnpackResult struct {
	Files     int
	Total     int
	Packages  int
	Failed    int
	Recovered int64

	Downloaded int64
	Cached     int64
	FromPool   int64

	Duration time.Duration
}

var (
	geteuid = os.Geteuid
	getenv  = os.Getenv
)

// localeUTF8 reports whether the locale of the process uses UTF-8, following
// the precedence of LC_ALL, LC_CTYPE and LANG.
func localeUTF8() bool {
	for _, name := range []string{"LC_ALL", "LC_CTYPE", "LANG"} {
		v := getenv(name)
		if v == "" {
			continue
		}
		v = strings.ToLower(v)
		return strings.Contains(v, "utf-8") || strings.Contains(v, "utf8")
	}
	// the POSIX locale is assumed without any of the variables
	return false
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

func checkLocale(rf *restorefile.RestoreFile) error {
	if localeUTF8() {
		return nil
	}
	for _, f := range rf.Files {
		if !isASCII(f.Path) {
			return errors.Fatalf("%v: %q", ErrLocale, f.Path)
		}
	}
	return nil
}

// PostUnpack recovers the files listed in the manifest of an unpacked tree.
// Packages are taken from the pool if possible and downloaded otherwise. If
// any file could not be recovered, an *IncompleteError is returned along
// with the result.
func PostUnpack(ctx context.Context, e *Env, opts PostUnpackOptions) (*PostUnpackResult, error) {
	printer := e.printer()
	start := time.Now()

	if uid := geteuid(); uid != 0 && !opts.UserMode {
		printer.E("running as UID %d (non-root) without --user, forcing --user", uid)
		opts.UserMode = true
	}
	if opts.RestoreFile == "" {
		opts.RestoreFile = filepath.Join(opts.Root, restorefile.Filename)
	}

	rf, err := restorefile.Load(opts.RestoreFile)
	if err != nil {
		return nil, errors.Fatalf("%v", err)
	}
	if err := checkLocale(rf); err != nil {
		return nil, err
	}
	rf.PreIteration()

	res := &PostUnpackResult{Total: len(rf.Files)}
	for i, pkg := range rf.Packages {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		debug.Log("[%d/%d] %v", i+1, len(rf.Packages), pkg.URL)

		err := recoverPackage(ctx, e, opts, rf, pkg, res)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Failed++
			printer.E("package %v: %v", pkg.URL, err)
		}
		res.Packages++
	}
	res.Duration = time.Since(start)

	printer.P("recovered %d/%d files %v (%v downloaded, %v from pool, %v cached) in %v",
		res.Files, res.Total, ui.FormatBytes(uint64(res.Recovered)),
		ui.FormatBytes(uint64(res.Downloaded)), ui.FormatBytes(uint64(res.FromPool)),
		ui.FormatBytes(uint64(res.Cached)), ui.FormatDuration(res.Duration))

	return res, CheckProcessed(rf, opts.Recursive)
}

// CheckProcessed returns an *IncompleteError if rf has entries that are not
// processed.
func CheckProcessed(rf *restorefile.RestoreFile, recursive bool) error {
	left := rf.Unprocessed()
	if len(left) == 0 {
		return nil
	}
	ie := &IncompleteError{Recursive: recursive}
	for _, f := range left {
		ie.Files = append(ie.Files, f.Path)
	}
	return ie
}

func recoverPackage(ctx context.Context, e *Env, opts PostUnpackOptions, rf *restorefile.RestoreFile, pkg *restorefile.Package, res *PostUnpackResult) error {
	var local string
	if e.Pool != nil {
		path, ok, err := e.Pool.Get(ctx, pkg.Hash, pkg.URL)
		if err != nil {
			debug.Log("pool get %v: %v", pkg.Hash, err)
		}
		if ok {
			local = path
		}
	}

	p, err := e.newPackage(local, pkg.URL, opts.Recursive)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Cleanup(); err != nil {
			debug.Log("cleanup %v: %v", p, err)
		}
	}()

	if err := p.Download(ctx); err != nil {
		return err
	}
	if local != "" {
		res.FromPool += p.Size
	}
	if p.Hashes.SHA256 != pkg.Hash {
		e.printer().E("package %v: hash %v differs from %v", pkg.URL, p.Hashes.SHA256, pkg.Hash)
	}
	if e.Pool != nil && local == "" {
		if _, err := e.Pool.Append(ctx, p.Path); err != nil {
			e.printer().E("add %v to pool: %v", p.Basename(), err)
		}
	}

	files, err := p.ReadFiles(ctx)
	if err != nil {
		return err
	}
	recoverFiles(e, opts, rf, p, files, res)

	res.Cached += p.Cached
	res.Downloaded += p.Downloaded
	return nil
}

func recoverFiles(e *Env, opts PostUnpackOptions, rf *restorefile.RestoreFile, p *upstream.Package, files []hashspec.File, res *PostUnpackResult) {
	for _, pf := range files {
		d := pf.Hashspec()
		if !rf.ShouldProcess(d) {
			continue
		}
		for _, f := range rf.FilesByHash(d) {
			if f.Processed {
				continue
			}
			if err := f.Recover(opts.Root, pf.Path, opts.UserMode); err != nil {
				e.printer().E("recover %v: %v", f.Path, err)
				continue
			}
			f.Processed = true
			debug.Log("recovered %v: %v", p.Basename(), f.Path)
			res.Recovered += f.Size
			res.Files++
		}
	}
}
