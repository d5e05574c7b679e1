package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/hashget/hashget/internal/dedup"
	"github.com/hashget/hashget/internal/errors"
	"github.com/hashget/hashget/internal/global"
	"github.com/hashget/hashget/internal/submit"
	"github.com/hashget/hashget/internal/ui"
)

func newSubmitCommand(globalOptions *global.Options) *cobra.Command {
	var opts SubmitOptions

	cmd := &cobra.Command{
		Use:   "submit [flags] URL",
		Short: "Index a package",
		Long: `
The "submit" command downloads the package at URL (or reads it from --file),
hashes its files and saves it to a project of the local database. With
--remote, the package is also sent to the hash servers which accept it.

EXIT STATUS
===========

Exit status is 0 if the command was successful.
Exit status is 1 if there was any error.
`,
		GroupID:           cmdGroupDefault,
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.Fatal("submit needs exactly one package URL")
			}
			_, err := runSubmit(cmd.Context(), opts, *globalOptions, args[0])
			return err
		},
	}
	opts.AddFlags(cmd.Flags())
	return cmd
}

// SubmitOptions collects all options for the submit command.
type SubmitOptions struct {
	File          string
	Project       string
	PkgType       string
	Signatures    []string
	Attrs         []string
	Expires       string
	MinSize       string
	AnchorMinSize string
	Recursive     bool
	Remote        bool
}

func (opts *SubmitOptions) AddFlags(f *pflag.FlagSet) {
	f.StringVar(&opts.File, "file", "", "read the package from `file` instead of downloading it")
	f.StringVarP(&opts.Project, "project", "p", "", "save the package to `project` (default: _submitted)")
	f.StringVar(&opts.PkgType, "pkgtype", "", "package `type` of a new project (generic or debian)")
	f.StringArrayVar(&opts.Signatures, "sig", nil, "add signature `type:value` (can be specified multiple times)")
	f.StringArrayVar(&opts.Attrs, "attr", nil, "set attribute `name=value` (can be specified multiple times)")
	f.StringVar(&opts.Expires, "expires", "", "the package URL is valid until `date` (YYYY-MM-DD or a number of days from today)")
	f.StringVar(&opts.MinSize, "min-size", "", "only index files larger than `size` (default: 1K)")
	f.StringVar(&opts.AnchorMinSize, "anchor-min-size", "", "files larger than `size` are anchors (default: 100K)")
	f.BoolVar(&opts.Recursive, "recursive", false, "also index archives contained in the package")
	f.BoolVar(&opts.Remote, "remote", false, "also submit the package to the hash servers")
}

// splitPairs parses "key<sep>value" arguments.
func splitPairs(flag, sep string, args []string) (map[string]string, error) {
	m := make(map[string]string, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, sep)
		if !ok || k == "" {
			return nil, errors.Fatalf("invalid --%v %q, expected key%svalue", flag, arg, sep)
		}
		m[k] = v
	}
	return m, nil
}

func runSubmit(ctx context.Context, opts SubmitOptions, gopts global.Options, url string) (*submit.Result, error) {
	printer := gopts.Printer()

	sigs, err := splitPairs("sig", ":", opts.Signatures)
	if err != nil {
		return nil, err
	}
	attrs, err := splitPairs("attr", "=", opts.Attrs)
	if err != nil {
		return nil, err
	}
	expires, err := parseCutoff(opts.Expires)
	if err != nil {
		return nil, err
	}
	minSize, err := parseSize("min-size", opts.MinSize)
	if err != nil {
		return nil, err
	}
	anchorMin, err := parseSize("anchor-min-size", opts.AnchorMinSize)
	if err != nil {
		return nil, err
	}
	anchors, err := gopts.Anchors(anchorMin, nil)
	if err != nil {
		return nil, err
	}

	e, err := global.OpenEnv(ctx, gopts, printer, global.OpenOptions{Remote: opts.Remote, Pools: true})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := e.Close(); err != nil {
			printer.E("cleanup: %v", err)
		}
	}()

	sopts := submit.Options{
		URL:        url,
		File:       opts.File,
		Project:    opts.Project,
		PkgType:    opts.PkgType,
		Signatures: sigs,
		Attrs:      make(map[string]interface{}, len(attrs)),
		Expires:    expires,
		MinSize:    gopts.MinSize(minSize),
		Anchors:    anchors,
		Recursive:  opts.Recursive,
		Remote:     opts.Remote,
	}
	for k, v := range attrs {
		sopts.Attrs[k] = v
	}

	res, err := dedup.Submit(ctx, e.Env, sopts)
	if err != nil {
		return res, err
	}

	hp := res.Package
	printer.P("submitted %v: %d files, %d anchors, %v", hp.URL, len(hp.Files), len(hp.Anchors), hp.Hashspec())
	printer.V("%v downloaded, %v cached", ui.FormatBytes(uint64(res.Downloaded)), ui.FormatBytes(uint64(res.Cached)))
	if opts.Remote {
		printer.P("sent to %d hash servers", res.Remote)
	}
	return res, nil
}
