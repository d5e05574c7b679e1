package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/hashget/hashget/internal/errors"
	"github.com/hashget/hashget/internal/fs"
	"github.com/hashget/hashget/internal/global"
	"github.com/hashget/hashget/internal/ui"
)

func newCacheCommand(globalOptions *global.Options) *cobra.Command {
	var opts CacheOptions

	cmd := &cobra.Command{
		Use:   "cache [flags] [URL...]",
		Short: "Operate on the local download cache",
		Long: `
The "cache" command shows the size of the download cache and of the file hash
cache. Given URLs are removed from the download cache.

EXIT STATUS
===========

Exit status is 0 if the command was successful.
Exit status is 1 if there was any error.
`,
		GroupID:           cmdGroupAdvanced,
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCache(cmd.Context(), opts, *globalOptions, args)
		},
	}
	opts.AddFlags(cmd.Flags())
	return cmd
}

// CacheOptions bundles all options for the cache command.
type CacheOptions struct {
	Prune bool
	Clear bool
}

func (opts *CacheOptions) AddFlags(f *pflag.FlagSet) {
	f.BoolVar(&opts.Prune, "prune", false, "forget the hashes of files which no longer exist")
	f.BoolVar(&opts.Clear, "clear", false, "remove all downloaded files")
}

func runCache(ctx context.Context, opts CacheOptions, gopts global.Options, urls []string) error {
	printer := gopts.Printer()
	e, err := global.OpenEnv(ctx, gopts, printer, global.OpenOptions{})
	if err != nil {
		return err
	}
	defer closeEnv(e, gopts)

	for _, u := range urls {
		if err := e.Getter.CleanFromCache(u); err != nil {
			return errors.Fatalf("%v: %v", u, err)
		}
		printer.V("removed %v", u)
	}

	if opts.Clear {
		for _, dir := range []string{"files", "etags"} {
			if err := fs.RemoveAll(filepath.Join(gopts.CacheDir, dir)); err != nil {
				return errors.WithStack(err)
			}
		}
		printer.P("download cache cleared")
	}

	if e.Cache != nil && opts.Prune {
		n, err := e.Cache.Prune()
		if err != nil {
			return err
		}
		printer.P("forgot %d hashes", n)
	}

	size, err := fs.DirSize(filepath.Join(gopts.CacheDir, "files"))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	printer.P("download cache %v: %v", gopts.CacheDir, ui.FormatBytes(uint64(size)))
	if e.Cache != nil {
		printer.P("hash cache: %d files", e.Cache.Len())
	}
	return nil
}
