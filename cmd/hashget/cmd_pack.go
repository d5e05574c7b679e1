package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/hashget/hashget/internal/dedup"
	"github.com/hashget/hashget/internal/errors"
	"github.com/hashget/hashget/internal/filter"
	"github.com/hashget/hashget/internal/global"
	"github.com/hashget/hashget/internal/ui"
)

func newPackCommand(globalOptions *global.Options) *cobra.Command {
	var opts PackOptions

	cmd := &cobra.Command{
		Use:   "pack [flags] DIR",
		Short: "Create a deduplicated archive of a directory tree",
		Long: `
The "pack" command indexes the directory tree, prepares the restore manifest
and runs tar to create an archive without the files which can be downloaded
again. Restore the files with "postunpack" after unpacking the archive.

EXIT STATUS
===========

Exit status is 0 if the command was successful.
Exit status is 1 if there was any error.
`,
		GroupID:           cmdGroupDefault,
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.Fatal("pack needs exactly one directory")
			}
			_, err := runPack(cmd.Context(), opts, *globalOptions, args[0], nil)
			return err
		},
	}
	opts.AddFlags(cmd.Flags())
	return cmd
}

// PackOptions collects all options for the pack command.
type PackOptions struct {
	IndexOptions
	filter.SkipOptions

	File    string
	Gzip    bool
	Exclude []string
	Expires string
	Tar     string
}

func (opts *PackOptions) AddFlags(f *pflag.FlagSet) {
	opts.IndexOptions.AddFlags(f)
	opts.SkipOptions.Add(f)
	f.StringVarP(&opts.File, "file", "f", "", "write the archive to `file` (required)")
	f.BoolVarP(&opts.Gzip, "gzip", "z", false, "compress the archive with gzip")
	f.StringArrayVar(&opts.Exclude, "exclude", nil, "leave files below `path` relative to DIR out of the archive (can be specified multiple times)")
	f.StringVar(&opts.Tar, "tar", "tar", "tar `command` to run")
	addExpiresFlag(f, &opts.Expires)
}

func runPack(ctx context.Context, opts PackOptions, gopts global.Options, root string, archiver dedup.Archiver) (*dedup.PackResult, error) {
	if opts.File == "" {
		return nil, errors.Fatal("pack needs an archive file, use --file")
	}
	printer := gopts.Printer()

	cutoff, err := parseCutoff(opts.Expires)
	if err != nil {
		return nil, err
	}
	skip, err := opts.SkipOptions.Patterns()
	if err != nil {
		return nil, err
	}
	if archiver == nil {
		archiver = dedup.Tar{Command: opts.Tar}
	}

	e, err := global.OpenEnv(ctx, gopts, printer, global.OpenOptions{Remote: true, Pools: true})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := e.Close(); err != nil {
			printer.E("cleanup: %v", err)
		}
	}()

	iopts, err := opts.indexOptions(e, gopts, root)
	if err != nil {
		return nil, err
	}

	res, err := dedup.Pack(ctx, e.Env, dedup.PackOptions{
		Root:       root,
		File:       opts.File,
		Gzip:       opts.Gzip,
		Exclude:    opts.Exclude,
		Skip:       skip,
		Heuristics: iopts.Heuristics,
		Anchors:    iopts.Anchors,
		MinSize:    iopts.MinSize,
		Project:    iopts.Project,
		Pull:       iopts.Pull,
		Recursive:  iopts.Recursive,
		Cutoff:     cutoff,
		Archiver:   archiver,
	})
	if err != nil {
		return nil, err
	}

	if res.TreeSize > 0 {
		printer.P("archive is %v of the tree size",
			ui.FormatPercent(uint64(res.ArchiveSize), uint64(res.TreeSize)))
	}
	return res, nil
}
