package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/hashget/hashget/internal/config"
	"github.com/hashget/hashget/internal/dedup"
	"github.com/hashget/hashget/internal/errors"
	"github.com/hashget/hashget/internal/global"
	"github.com/hashget/hashget/internal/hashdb"
	"github.com/hashget/hashget/internal/hashserver"
	"github.com/hashget/hashget/internal/submit"
)

func newServeCommand(globalOptions *global.Options) *cobra.Command {
	var opts ServeOptions

	cmd := &cobra.Command{
		Use:   "serve [flags]",
		Short: "Serve the local database to other hashget instances",
		Long: `
The "serve" command runs a hash server for the local database. Other hashget
instances can use it with --hashserver to pull packages. Packages from URLs
matching --accept-url may be submitted to the server, they are indexed into
--project.

EXIT STATUS
===========

Exit status is 0 if the command was successful.
Exit status is 1 if there was any error.
`,
		GroupID:           cmdGroupAdvanced,
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return errors.Fatal("this command does not accept additional arguments")
			}
			return runServe(cmd.Context(), opts, *globalOptions, nil)
		},
	}
	opts.AddFlags(cmd.Flags())
	return cmd
}

// ServeOptions collects all options for the serve command.
type ServeOptions struct {
	Listen    string
	Project   string
	AcceptURL []string
	MOTD      string
}

func (opts *ServeOptions) AddFlags(f *pflag.FlagSet) {
	f.StringVarP(&opts.Listen, "listen", "l", "", "set the listen host name and `address` (default: localhost:8080)")
	f.StringVar(&opts.Project, "project", "", "index submitted packages into `project` (default: _submitted)")
	f.StringArrayVar(&opts.AcceptURL, "accept-url", nil, "accept submissions of packages from URLs matching `regexp` (can be specified multiple times)")
	f.StringVar(&opts.MOTD, "motd", "", "message of the day sent to clients")
}

// fill takes unset values from the configuration file.
func (opts *ServeOptions) fill(gopts global.Options) {
	var cfg config.Server
	if gopts.Config != nil {
		cfg = gopts.Config.Server
	}
	if opts.Listen == "" {
		opts.Listen = cfg.Listen
	}
	if opts.Listen == "" {
		opts.Listen = "localhost:8080"
	}
	if opts.Project == "" {
		opts.Project = cfg.Project
	}
	if opts.Project == "" {
		opts.Project = hashdb.ProjectSubmitted
	}
	if len(opts.AcceptURL) == 0 {
		opts.AcceptURL = cfg.AcceptURL
	}
	if opts.MOTD == "" {
		opts.MOTD = cfg.MOTD
	}
}

// runServe serves until ctx is cancelled. It uses ln if set.
func runServe(ctx context.Context, opts ServeOptions, gopts global.Options, ln net.Listener) error {
	opts.fill(gopts)
	printer := gopts.Printer()

	e, err := global.OpenEnv(ctx, gopts, printer, global.OpenOptions{Pools: true})
	if err != nil {
		return err
	}
	defer func() {
		if err := e.Close(); err != nil {
			printer.E("cleanup: %v", err)
		}
	}()

	anchors, err := gopts.Anchors(0, nil)
	if err != nil {
		return err
	}

	srv, err := hashserver.New(e.Client, hashserver.Options{
		AcceptURL: opts.AcceptURL,
		MOTD:      opts.MOTD,
		TmpDir:    e.TmpDir,
		Submit: func(ctx context.Context, url, filename string) (*hashdb.HashPackage, error) {
			res, err := dedup.Submit(ctx, e.Env, submit.Options{
				URL:     url,
				File:    filename,
				Project: opts.Project,
				MinSize: gopts.MinSize(0),
				Anchors: anchors,
			})
			if err != nil {
				return nil, err
			}
			printer.P("indexed submitted package %v", url)
			return res.Package, nil
		},
	})
	if err != nil {
		return err
	}

	if ln == nil {
		ln, err = net.Listen("tcp", opts.Listen)
		if err != nil {
			return errors.Fatalf("listen: %v", err)
		}
	}

	server := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()

	printer.P("serving %d projects at http://%s", len(e.Client.Projects()), ln.Addr())
	if len(opts.AcceptURL) > 0 {
		printer.P("accepting submissions into %v", opts.Project)
	}

	select {
	case err := <-errCh:
		return errors.Wrap(err, "serve")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	return nil
}
