package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hashget/hashget/internal/errors"
	"github.com/hashget/hashget/internal/filepool"
	"github.com/hashget/hashget/internal/global"
)

func newPoolCommand(globalOptions *global.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pool",
		Short: "Operate on the package pools",
		Long: `
The "pool" command adds package files to the pools given with --pool and looks
them up. Pools keep copies of packages so that "postunpack" does not need to
download them again.

EXIT STATUS
===========

Exit status is 0 if the command was successful.
Exit status is 1 if there was any error.
`,
		GroupID:           cmdGroupAdvanced,
		DisableAutoGenTag: true,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:               "add FILE...",
			Short:             "Add package files to the first pool taking them",
			DisableAutoGenTag: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				_, err := runPoolAdd(cmd.Context(), *globalOptions, args)
				return err
			},
		},
		&cobra.Command{
			Use:               "get HASHSPEC|FILE...",
			Short:             "Print the location of packages in the pools",
			DisableAutoGenTag: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runPoolGet(cmd.Context(), *globalOptions, args)
			},
		},
		&cobra.Command{
			Use:               "truncate",
			Short:             "Delete all files of the directory pools",
			DisableAutoGenTag: true,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runPoolTruncate(cmd.Context(), *globalOptions)
			},
		},
	)
	return cmd
}

func openPools(ctx context.Context, gopts global.Options) (*global.Env, error) {
	if len(gopts.Pools) == 0 {
		return nil, errors.Fatal("no pool given, use --pool")
	}
	return global.OpenEnv(ctx, gopts, gopts.Printer(), global.OpenOptions{Pools: true})
}

func closeEnv(e *global.Env, gopts global.Options) {
	if err := e.Close(); err != nil {
		gopts.Printer().E("cleanup: %v", err)
	}
}

func runPoolAdd(ctx context.Context, gopts global.Options, files []string) (int, error) {
	if len(files) == 0 {
		return 0, errors.Fatal("no files given")
	}
	e, err := openPools(ctx, gopts)
	if err != nil {
		return 0, err
	}
	defer closeEnv(e, gopts)

	printer := gopts.Printer()
	added := 0
	for _, f := range files {
		ok, err := e.Pool.Append(ctx, f)
		if err != nil {
			return added, err
		}
		if !ok {
			printer.V("%v is already pooled", f)
			continue
		}
		added++
	}
	printer.P("added %d of %d files", added, len(files))
	return added, nil
}

func runPoolGet(ctx context.Context, gopts global.Options, args []string) error {
	if len(args) == 0 {
		return errors.Fatal("no hashspecs given")
	}
	e, err := openPools(ctx, gopts)
	if err != nil {
		return err
	}
	defer closeEnv(e, gopts)

	for _, arg := range args {
		d, err := argHashspec(arg)
		if err != nil {
			return err
		}
		path, ok, err := e.Pool.Get(ctx, d, "")
		if err != nil {
			return err
		}
		if !ok {
			_, _ = fmt.Fprintf(gopts.Stdout, "%v: not found\n", arg)
			continue
		}
		_, _ = fmt.Fprintf(gopts.Stdout, "%v: %v\n", arg, path)
	}
	return nil
}

func runPoolTruncate(ctx context.Context, gopts global.Options) error {
	e, err := openPools(ctx, gopts)
	if err != nil {
		return err
	}
	defer closeEnv(e, gopts)

	m, ok := e.Pool.(*filepool.Multiplexer)
	if !ok {
		return nil
	}
	printer := gopts.Printer()
	for _, p := range m.Pools() {
		dp, ok := p.(*filepool.DirPool)
		if !ok {
			printer.E("%v cannot be truncated", p)
			continue
		}
		n := dp.Len()
		if err := dp.Truncate(); err != nil {
			return err
		}
		printer.P("deleted %d files from %v", n, dp)
	}
	return nil
}
