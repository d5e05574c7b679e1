package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/hashget/hashget/internal/dedup"
	"github.com/hashget/hashget/internal/errors"
	"github.com/hashget/hashget/internal/global"
)

func newPostUnpackCommand(globalOptions *global.Options) *cobra.Command {
	var opts PostUnpackOptions

	cmd := &cobra.Command{
		Use:   "postunpack [flags] DIR",
		Short: "Restore the files of an unpacked archive",
		Long: `
The "postunpack" command reads the restore manifest .hashget-restore.json of an
unpacked archive, downloads the listed packages (or takes them from a pool) and
restores the files which were left out of the archive, with their permissions,
ownership and modification times.

EXIT STATUS
===========

Exit status is 0 if the command was successful.
Exit status is 1 if there was any error.
Exit status is 3 if some files could not be restored.
`,
		GroupID:           cmdGroupDefault,
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.Fatal("postunpack needs exactly one directory")
			}
			_, err := runPostUnpack(cmd.Context(), opts, *globalOptions, args[0])
			return err
		},
	}
	opts.AddFlags(cmd.Flags())
	return cmd
}

// PostUnpackOptions collects all options for the postunpack command.
type PostUnpackOptions struct {
	RestoreFile string
	Recursive   bool
}

func (opts *PostUnpackOptions) AddFlags(f *pflag.FlagSet) {
	f.StringVar(&opts.RestoreFile, "restore-file", "", "read the restore manifest from `file` (default: DIR/.hashget-restore.json)")
	f.BoolVar(&opts.Recursive, "recursive", false, "also look into archives contained in packages")
}

func runPostUnpack(ctx context.Context, opts PostUnpackOptions, gopts global.Options, root string) (*dedup.PostUnpackResult, error) {
	printer := gopts.Printer()

	e, err := global.OpenEnv(ctx, gopts, printer, global.OpenOptions{Pools: true})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := e.Close(); err != nil {
			printer.E("cleanup: %v", err)
		}
	}()

	return dedup.PostUnpack(ctx, e.Env, dedup.PostUnpackOptions{
		Root:        root,
		RestoreFile: opts.RestoreFile,
		UserMode:    gopts.User,
		Recursive:   opts.Recursive,
	})
}
