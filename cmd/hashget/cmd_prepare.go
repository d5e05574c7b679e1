package main

import (
	"context"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/hashget/hashget/internal/dedup"
	"github.com/hashget/hashget/internal/errors"
	"github.com/hashget/hashget/internal/filter"
	"github.com/hashget/hashget/internal/global"
	"github.com/hashget/hashget/internal/hashdb"
	"github.com/hashget/hashget/internal/ui"
)

func newPrepareCommand(globalOptions *global.Options) *cobra.Command {
	var opts PrepareOptions

	cmd := &cobra.Command{
		Use:   "prepare [flags] DIR",
		Short: "Write the restore manifest and exclude list for a directory tree",
		Long: `
The "prepare" command looks up the large files of the directory tree in the
local database. It writes the restore manifest .hashget-restore.json into the
tree and the list of files which can be restored from packages to the exclude
file, ready to be passed to "tar -X". Run "index" before to make the packages
known.

EXIT STATUS
===========

Exit status is 0 if the command was successful.
Exit status is 1 if there was any error.
`,
		GroupID:           cmdGroupDefault,
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.Fatal("prepare needs exactly one directory")
			}
			_, err := runPrepare(cmd.Context(), opts, *globalOptions, args[0])
			return err
		},
	}
	opts.AddFlags(cmd.Flags())
	return cmd
}

// PrepareOptions collects all options for the prepare command.
type PrepareOptions struct {
	ExcludeFile string
	RestoreFile string
	MinSize     string
	Expires     string
	filter.SkipOptions
}

func (opts *PrepareOptions) AddFlags(f *pflag.FlagSet) {
	f.StringVarP(&opts.ExcludeFile, "exclude-file", "f", "", "write the exclude list to `file` (default: DIR/"+dedup.ExcludeFilename+")")
	f.StringVar(&opts.RestoreFile, "restore-file", "", "write the restore manifest to `file` (default: DIR/.hashget-restore.json)")
	f.StringVar(&opts.MinSize, "min-size", "", "only look up files larger than `size` (default: 1K)")
	addExpiresFlag(f, &opts.Expires)
	opts.SkipOptions.Add(f)
}

func addExpiresFlag(f *pflag.FlagSet, p *string) {
	f.StringVar(p, "expires", "", "only use packages available until `date` (YYYY-MM-DD or a number of days from today, default: today)")
}

// parseCutoff accepts a date or a number of days from today.
func parseCutoff(s string) (*hashdb.Date, error) {
	if s == "" {
		return nil, nil
	}
	if days, err := strconv.Atoi(s); err == nil {
		return hashdb.Today().AddDays(days), nil
	}
	d, err := hashdb.ParseDate(s)
	if err != nil {
		return nil, errors.Fatalf("invalid --expires %q: %v", s, err)
	}
	return d, nil
}

func runPrepare(ctx context.Context, opts PrepareOptions, gopts global.Options, root string) (*dedup.PrepareResult, error) {
	printer := gopts.Printer()

	minSize, err := parseSize("min-size", opts.MinSize)
	if err != nil {
		return nil, err
	}
	cutoff, err := parseCutoff(opts.Expires)
	if err != nil {
		return nil, err
	}
	patterns, err := opts.SkipOptions.Patterns()
	if err != nil {
		return nil, err
	}
	skip, err := filter.NewSkipList(root, patterns, printer.E)
	if err != nil {
		return nil, errors.Fatalf("--skip: %v", err)
	}

	excludeFile := opts.ExcludeFile
	if excludeFile == "" {
		excludeFile = filepath.Join(root, dedup.ExcludeFilename)
	}

	e, err := global.OpenEnv(ctx, gopts, printer, global.OpenOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := e.Close(); err != nil {
			printer.E("cleanup: %v", err)
		}
	}()

	res, err := dedup.Prepare(ctx, e.Env, dedup.PrepareOptions{
		Root:        root,
		MinSize:     gopts.MinSize(minSize),
		Skip:        skip,
		ExcludeFile: excludeFile,
		RestoreFile: opts.RestoreFile,
		Cutoff:      cutoff,
	})
	if err != nil {
		return nil, err
	}

	rf := res.RestoreFile
	printer.P("%d files (%v) in %d packages can be restored, %d files scanned",
		len(rf.Files), ui.FormatBytes(uint64(rf.SumSize())), len(rf.Packages), res.Scanned)
	if rf.Expires != nil {
		printer.P("restorable until %v", rf.Expires)
	}
	return res, nil
}
