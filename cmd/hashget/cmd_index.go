package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/hashget/hashget/internal/dedup"
	"github.com/hashget/hashget/internal/errors"
	"github.com/hashget/hashget/internal/global"
	"github.com/hashget/hashget/internal/ui"
)

func newIndexCommand(globalOptions *global.Options) *cobra.Command {
	var opts IndexOptions

	cmd := &cobra.Command{
		Use:   "index [flags] DIR",
		Short: "Index the packages found in a directory tree",
		Long: `
The "index" command walks the directory tree and asks the heuristics which
packages the files belong to. Packages not yet known to the local database are
pulled from the hash servers or downloaded and indexed.

EXIT STATUS
===========

Exit status is 0 if the command was successful.
Exit status is 1 if there was any error.
`,
		GroupID:           cmdGroupDefault,
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.Fatal("index needs exactly one directory")
			}
			_, err := runIndex(cmd.Context(), opts, *globalOptions, args[0])
			return err
		},
	}
	opts.AddFlags(cmd.Flags())
	return cmd
}

// IndexOptions collects the options shared by the index and pack commands.
type IndexOptions struct {
	Heuristics    []string
	Project       string
	Pull          bool
	Recursive     bool
	AnchorMinSize string
	ForcedAnchors []string
	MinSize       string
}

func (opts *IndexOptions) AddFlags(f *pflag.FlagSet) {
	f.StringArrayVar(&opts.Heuristics, "heuristic", nil, "use the named `heuristic`, \"all\" for all of them (can be specified multiple times, default: all)")
	f.StringVar(&opts.Project, "project", "", "save new packages to `project` instead of the one chosen by the heuristic")
	f.BoolVar(&opts.Pull, "pull", false, "ask the hash servers for packages containing the large files")
	f.BoolVar(&opts.Recursive, "recursive", false, "also index archives contained in packages")
	f.StringVar(&opts.AnchorMinSize, "anchor-min-size", "", "files larger than `size` are used to look up packages (default: 100K)")
	f.StringArrayVar(&opts.ForcedAnchors, "forced-anchor", nil, "always use files matching the `regexp` to look up packages (can be specified multiple times)")
	f.StringVar(&opts.MinSize, "min-size", "", "only files of packages larger than `size` are indexed (default: 1K)")
}

func parseSize(flag, s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := ui.ParseBytes(s)
	if err != nil {
		return 0, errors.Fatalf("invalid --%v %q: %v", flag, s, err)
	}
	return n, nil
}

// indexOptions converts the flags into options for dedup.Index.
func (opts IndexOptions) indexOptions(e *global.Env, gopts global.Options, root string) (dedup.IndexOptions, error) {
	anchorMin, err := parseSize("anchor-min-size", opts.AnchorMinSize)
	if err != nil {
		return dedup.IndexOptions{}, err
	}
	minSize, err := parseSize("min-size", opts.MinSize)
	if err != nil {
		return dedup.IndexOptions{}, err
	}

	anchors, err := gopts.Anchors(anchorMin, opts.ForcedAnchors)
	if err != nil {
		return dedup.IndexOptions{}, err
	}
	heuristics, err := e.Heuristics(opts.Heuristics)
	if err != nil {
		return dedup.IndexOptions{}, err
	}

	return dedup.IndexOptions{
		Root:       root,
		Heuristics: heuristics,
		Anchors:    anchors,
		MinSize:    gopts.MinSize(minSize),
		Project:    opts.Project,
		Pull:       opts.Pull,
		Recursive:  opts.Recursive,
	}, nil
}

func runIndex(ctx context.Context, opts IndexOptions, gopts global.Options, root string) (dedup.Counters, error) {
	printer := gopts.Printer()
	e, err := global.OpenEnv(ctx, gopts, printer, global.OpenOptions{Remote: true, Pools: true})
	if err != nil {
		return dedup.Counters{}, err
	}
	defer func() {
		if err := e.Close(); err != nil {
			printer.E("cleanup: %v", err)
		}
	}()

	iopts, err := opts.indexOptions(e, gopts, root)
	if err != nil {
		return dedup.Counters{}, err
	}
	printer.V("heuristics: %v", iopts.Heuristics.Names())

	return dedup.Index(ctx, e.Env, iopts)
}
