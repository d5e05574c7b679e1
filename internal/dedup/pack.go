package dedup

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/hashget/hashget/internal/anchor"
	"github.com/hashget/hashget/internal/debug"
	"github.com/hashget/hashget/internal/errors"
	"github.com/hashget/hashget/internal/filter"
	"github.com/hashget/hashget/internal/fs"
	"github.com/hashget/hashget/internal/hashdb"
	"github.com/hashget/hashget/internal/heuristic"
	"github.com/hashget/hashget/internal/restorefile"
	"github.com/hashget/hashget/internal/ui"
)

// ExcludeFilename is the name of the exclude list written during Pack.
const ExcludeFilename = ".hashget-exclude"

// ArchiveRequest describes the archive Pack asks an Archiver to write.
type ArchiveRequest struct {
	// File is the archive to create, Gzip selects compression.
	File string
	Gzip bool

	// Root is archived as ".", minus the paths listed in ExcludeFile and
	// those matching Exclude.
	Root        string
	ExcludeFile string
	Exclude     []string

	// ManifestDir holds restorefile.Filename, which is added to the root
	// of the archive.
	ManifestDir string
}

// Archiver writes archives.
type Archiver interface {
	Archive(ctx context.Context, req ArchiveRequest) error
}

// Tar runs the tar command.
type Tar struct {
	// Command defaults to "tar".
	Command string
}

var _ Archiver = Tar{}

// Args returns the arguments for req.
func (Tar) Args(req ArchiveRequest) []string {
	args := []string{"-c"}
	if req.Gzip {
		args = append(args, "-z")
	}
	args = append(args, "-f", req.File, "-X", req.ExcludeFile)
	for _, p := range req.Exclude {
		args = append(args, "--exclude", p)
	}
	return append(args, "-C", req.Root, ".", "-C", req.ManifestDir, restorefile.Filename)
}

// Archive implements Archiver.
func (t Tar) Archive(ctx context.Context, req ArchiveRequest) error {
	command := t.Command
	if command == "" {
		command = "tar"
	}
	args := t.Args(req)
	debug.Log("run %v %v", command, args)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return errors.Fatalf("%v failed: %v: %s", command, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// PackOptions configure Pack.
type PackOptions struct {
	Root string
	File string
	Gzip bool

	// Exclude patterns are left out of the archive and are not
	// deduplicated. Skip patterns are only not deduplicated.
	Exclude []string
	Skip    []string

	Heuristics heuristic.Set
	Anchors    *anchor.List
	MinSize    int64
	Project    string
	Pull       bool
	Recursive  bool
	Cutoff     *hashdb.Date

	// Archiver defaults to Tar.
	Archiver Archiver
}

// PackResult summarizes Pack.
type PackResult struct {
	Index   Counters
	Prepare *PrepareResult

	TreeSize    int64
	ArchiveSize int64
}

// FixExcludes appends "*" to patterns ending in a slash, which tar would
// not match against the directory contents otherwise.
func FixExcludes(patterns []string, warnf func(string, ...interface{})) []string {
	res := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if strings.HasSuffix(p, "/") {
			warnf("fixed --exclude %v to %v", p, p+"*")
			p += "*"
		}
		res = append(res, p)
	}
	return res
}

// Pack indexes the tree, prepares the manifest and creates the archive.
func Pack(ctx context.Context, e *Env, opts PackOptions) (*PackResult, error) {
	if opts.File == "" {
		return nil, errors.Fatal("no archive file given")
	}
	if opts.Archiver == nil {
		opts.Archiver = Tar{}
	}
	printer := e.printer()

	exclude := FixExcludes(opts.Exclude, printer.E)
	skip, err := filter.NewSkipList(opts.Root, append(append([]string(nil), opts.Skip...), opts.Exclude...), printer.E)
	if err != nil {
		return nil, errors.Fatalf("--exclude: %v", err)
	}

	res := &PackResult{}

	printer.P("STEP 1/3 indexing...")
	res.Index, err = Index(ctx, e, IndexOptions{
		Root:       opts.Root,
		Heuristics: opts.Heuristics,
		Anchors:    opts.Anchors,
		MinSize:    opts.MinSize,
		Project:    opts.Project,
		Pull:       opts.Pull,
		Recursive:  opts.Recursive,
	})
	if err != nil {
		return res, err
	}

	printer.P("STEP 2/3 prepare exclude list for packing...")
	tmpdir, err := os.MkdirTemp(e.TmpDir, "hashget-pack-")
	if err != nil {
		return res, errors.WithStack(err)
	}
	defer func() {
		if err := fs.RemoveAll(tmpdir); err != nil {
			debug.Log("remove %v: %v", tmpdir, err)
		}
	}()

	excludeFile := filepath.Join(tmpdir, ExcludeFilename)
	res.Prepare, err = Prepare(ctx, e, PrepareOptions{
		Root:        opts.Root,
		MinSize:     opts.MinSize,
		Skip:        skip,
		ExcludeFile: excludeFile,
		RestoreFile: filepath.Join(tmpdir, restorefile.Filename),
		Cutoff:      opts.Cutoff,
	})
	if err != nil {
		return res, err
	}

	printer.P("STEP 3/3 tarring...")
	err = opts.Archiver.Archive(ctx, ArchiveRequest{
		File:        opts.File,
		Gzip:        opts.Gzip,
		Root:        opts.Root,
		ExcludeFile: excludeFile,
		Exclude:     exclude,
		ManifestDir: tmpdir,
	})
	if err != nil {
		return res, err
	}

	res.TreeSize, err = fs.DirSize(opts.Root)
	if err != nil {
		debug.Log("size of %v: %v", opts.Root, err)
	}
	if fi, err := fs.Stat(opts.File); err == nil {
		res.ArchiveSize = fi.Size()
	}
	printer.P("%v (%v) packed into %v (%v)", opts.Root, ui.FormatBytes(uint64(res.TreeSize)),
		opts.File, ui.FormatBytes(uint64(res.ArchiveSize)))
	return res, nil
}
