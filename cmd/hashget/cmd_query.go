package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/opencontainers/go-digest"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/hashget/hashget/internal/errors"
	"github.com/hashget/hashget/internal/fs"
	"github.com/hashget/hashget/internal/global"
	"github.com/hashget/hashget/internal/hashdb"
	"github.com/hashget/hashget/internal/hashspec"
	"github.com/hashget/hashget/internal/transport"
)

func newQueryCommand(globalOptions *global.Options) *cobra.Command {
	var opts QueryOptions

	cmd := &cobra.Command{
		Use:   "query [flags] [HASHSPEC|FILE]...",
		Short: "Look up the packages containing files",
		Long: `
The "query" command prints the packages which contain a file. Arguments are
hashspecs like sha256:2cf2... or names of local files, which are hashed.
With --sig, packages are looked up by signature instead, for example
--sig deb:bash_5.1-2_amd64.

EXIT STATUS
===========

Exit status is 0 if the command was successful.
Exit status is 1 if there was any error.
`,
		GroupID:           cmdGroupDefault,
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd.Context(), opts, *globalOptions, args)
		},
	}
	opts.AddFlags(cmd.Flags())
	return cmd
}

// QueryOptions collects all options for the query command.
type QueryOptions struct {
	Signatures []string
	Remote     bool
}

func (opts *QueryOptions) AddFlags(f *pflag.FlagSet) {
	f.StringArrayVar(&opts.Signatures, "sig", nil, "look up the package with signature `type:value` (can be specified multiple times)")
	f.BoolVar(&opts.Remote, "remote", false, "also ask the hash servers")
}

// argHashspec returns the hashspec given as arg, or the hash of the file arg.
func argHashspec(arg string) (digest.Digest, error) {
	if strings.Contains(arg, ":") {
		if d, err := hashspec.Parse(arg); err == nil {
			return d, nil
		}
	}
	if _, err := fs.Stat(arg); err != nil {
		return "", errors.Fatalf("%q is neither a hashspec nor a file", arg)
	}
	h, _, err := hashspec.Sum(arg, false)
	if err != nil {
		return "", err
	}
	return h.SHA256, nil
}

func runQuery(ctx context.Context, opts QueryOptions, gopts global.Options, args []string) error {
	if len(args) == 0 && len(opts.Signatures) == 0 {
		return errors.Fatal("nothing to look up, give hashspecs, files or --sig")
	}
	if _, err := splitPairs("sig", ":", opts.Signatures); err != nil {
		return err
	}

	printer := gopts.Printer()
	client, err := transport.Client(gopts.Options)
	if err != nil {
		return errors.Fatalf("http transport: %v", err)
	}
	var remotes []string
	if opts.Remote {
		remotes = gopts.HashServers
	}
	c, err := hashdb.NewClient(ctx, hashdb.Options{
		Root:     gopts.HashDB,
		Projects: gopts.Projects,
		Remotes:  remotes,
		HTTP:     client,
		Warn:     printer.E,
	})
	if err != nil {
		return err
	}

	show := func(key string, list []*hashdb.HashPackage) {
		if len(list) == 0 {
			_, _ = fmt.Fprintf(gopts.Stdout, "%v: not found\n", key)
			return
		}
		for _, hp := range list {
			_, _ = fmt.Fprintf(gopts.Stdout, "%v: %v\n", key, hp.URL)
			printer.V("  %v", hp.Hashspec())
		}
	}

	for _, arg := range args {
		d, err := argHashspec(arg)
		if err != nil {
			return err
		}
		list, err := c.Hash2Packages(ctx, d, opts.Remote)
		if err != nil {
			return err
		}
		show(arg, list)
	}

	for _, arg := range opts.Signatures {
		sigtype, sig, _ := strings.Cut(arg, ":")
		hp, err := c.Signature2Package(ctx, sigtype, sig, opts.Remote)
		if errors.Is(err, hashdb.ErrNotFound) {
			show(arg, nil)
			continue
		}
		if err != nil {
			return err
		}
		show(arg, []*hashdb.HashPackage{hp})
	}
	return nil
}
