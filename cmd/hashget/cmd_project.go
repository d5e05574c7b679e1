package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/hashget/hashget/internal/errors"
	"github.com/hashget/hashget/internal/global"
	"github.com/hashget/hashget/internal/hashdb"
	"github.com/hashget/hashget/internal/hashspec"
	"github.com/hashget/hashget/internal/ui"
)

func newProjectCommand(globalOptions *global.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage the projects of the local database",
		Long: `
The "project" command lists, creates and cleans up the projects of the local
database. Each project is a directory of package files below --hashdb.

EXIT STATUS
===========

Exit status is 0 if the command was successful.
Exit status is 1 if there was any error.
`,
		GroupID:           cmdGroupAdvanced,
		DisableAutoGenTag: true,
	}

	cmd.AddCommand(
		newProjectListCommand(globalOptions),
		newProjectCreateCommand(globalOptions),
		newProjectRemoveCommand(globalOptions),
		newProjectPackagesCommand(globalOptions),
		newProjectTruncateCommand(globalOptions),
		newProjectPruneCommand(globalOptions),
		newProjectDeleteCommand(globalOptions),
		newProjectCheckCommand(globalOptions),
	)
	return cmd
}

// openLocal opens the local database without hash servers and pools.
func openLocal(ctx context.Context, gopts global.Options, printer ui.Printer) (*hashdb.Client, error) {
	return hashdb.NewClient(ctx, hashdb.Options{
		Root:     gopts.HashDB,
		Projects: gopts.Projects,
		Warn:     printer.E,
	})
}

func needArgs(cmd string, args []string, n int) error {
	if len(args) != n {
		return errors.Fatalf("%v needs %d arguments, got %d", cmd, n, len(args))
	}
	return nil
}

func newProjectListCommand(globalOptions *global.Options) *cobra.Command {
	return &cobra.Command{
		Use:               "list",
		Short:             "List projects",
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProjectList(cmd.Context(), *globalOptions)
		},
	}
}

func runProjectList(ctx context.Context, gopts global.Options) error {
	printer := gopts.Printer()
	c, err := openLocal(ctx, gopts, printer)
	if err != nil {
		return err
	}

	for _, db := range c.Projects() {
		size, err := db.DirSize()
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			printer.E("%v: %v", db.Name(), err)
		}
		opts := db.Options()
		_, _ = fmt.Fprintf(gopts.Stdout, "%-20s %-8s %-9s %6d packages %10s\n",
			db.Name(), opts.PkgType, opts.Storage, db.Len(), ui.FormatBytes(uint64(size)))
	}
	return nil
}

// ProjectCreateOptions collects all options for the project create command.
type ProjectCreateOptions struct {
	hashdb.ProjectOptions
}

func (opts *ProjectCreateOptions) AddFlags(f *pflag.FlagSet) {
	f.StringVar(&opts.PkgType, "pkgtype", "generic", "package `type`, one of generic or debian")
	f.StringVar(&opts.Storage, "storage", hashdb.StorageBasename, "storage `layout`, one of basename, hash2 or hash3")
}

func newProjectCreateCommand(globalOptions *global.Options) *cobra.Command {
	var opts ProjectCreateOptions
	cmd := &cobra.Command{
		Use:               "create [flags] NAME",
		Short:             "Create a project",
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := needArgs("project create", args, 1); err != nil {
				return err
			}
			return runProjectCreate(cmd.Context(), opts, *globalOptions, args[0])
		},
	}
	opts.AddFlags(cmd.Flags())
	return cmd
}

func runProjectCreate(ctx context.Context, opts ProjectCreateOptions, gopts global.Options, name string) error {
	printer := gopts.Printer()
	c, err := openLocal(ctx, gopts, printer)
	if err != nil {
		return err
	}
	db, err := c.CreateProject(name, opts.ProjectOptions)
	if err != nil {
		return err
	}
	printer.P("created project %v", db)
	return nil
}

func newProjectRemoveCommand(globalOptions *global.Options) *cobra.Command {
	return &cobra.Command{
		Use:               "remove NAME",
		Aliases:           []string{"rm"},
		Short:             "Remove a project and all its packages",
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := needArgs("project remove", args, 1); err != nil {
				return err
			}
			printer := globalOptions.Printer()
			c, err := openLocal(cmd.Context(), *globalOptions, printer)
			if err != nil {
				return err
			}
			if err := c.RemoveProject(args[0]); err != nil {
				return err
			}
			printer.P("removed project %v", args[0])
			return nil
		},
	}
}

func newProjectPackagesCommand(globalOptions *global.Options) *cobra.Command {
	return &cobra.Command{
		Use:               "packages [NAME]",
		Aliases:           []string{"ls"},
		Short:             "List the packages of a project, or of all projects",
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var name string
			if len(args) > 1 {
				return errors.Fatal("project packages takes at most one project name")
			}
			if len(args) == 1 {
				name = args[0]
			}
			return runProjectPackages(cmd.Context(), *globalOptions, name)
		},
	}
}

func runProjectPackages(ctx context.Context, gopts global.Options, name string) error {
	printer := gopts.Printer()
	c, err := openLocal(ctx, gopts, printer)
	if err != nil {
		return err
	}
	list, err := c.Packages(name)
	if err != nil {
		return errors.Fatal(err.Error())
	}
	for _, hp := range list {
		size := "?"
		if s, ok := hp.Size(); ok {
			size = ui.FormatBytes(uint64(s))
		}
		expires := ""
		if hp.Expires != nil {
			expires = " expires " + hp.Expires.String()
		}
		_, _ = fmt.Fprintf(gopts.Stdout, "%v %10s %5d files%s\n", hp.URL, size, len(hp.Files), expires)
		printer.V("  %v", hp.Hashspec())
	}
	return nil
}

func newProjectTruncateCommand(globalOptions *global.Options) *cobra.Command {
	return &cobra.Command{
		Use:               "truncate NAME",
		Short:             "Delete all packages of a project",
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := needArgs("project truncate", args, 1); err != nil {
				return err
			}
			printer := globalOptions.Printer()
			c, err := openLocal(cmd.Context(), *globalOptions, printer)
			if err != nil {
				return err
			}
			db, err := c.Project(args[0])
			if err != nil {
				return errors.Fatal(err.Error())
			}
			n := db.Len()
			if err := db.Truncate(); err != nil {
				return err
			}
			printer.P("deleted %d packages from %v", n, db.Name())
			return nil
		},
	}
}

func newProjectPruneCommand(globalOptions *global.Options) *cobra.Command {
	return &cobra.Command{
		Use:               "prune [NAME]",
		Short:             "Delete expired packages",
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var name string
			if len(args) > 1 {
				return errors.Fatal("project prune takes at most one project name")
			}
			if len(args) == 1 {
				name = args[0]
			}
			_, err := runProjectPrune(cmd.Context(), *globalOptions, name, time.Now())
			return err
		},
	}
}

func runProjectPrune(ctx context.Context, gopts global.Options, name string, now time.Time) (int, error) {
	printer := gopts.Printer()
	c, err := openLocal(ctx, gopts, printer)
	if err != nil {
		return 0, err
	}

	dbs := c.Projects()
	if name != "" {
		db, err := c.Project(name)
		if err != nil {
			return 0, errors.Fatal(err.Error())
		}
		dbs = []*hashdb.DirDB{db}
	}

	removed := 0
	for _, db := range dbs {
		n, err := db.Prune(now)
		removed += n
		if err != nil {
			return removed, err
		}
		printer.V("%v: deleted %d expired packages", db.Name(), n)
	}
	printer.P("deleted %d expired packages", removed)
	return removed, nil
}

func newProjectDeleteCommand(globalOptions *global.Options) *cobra.Command {
	return &cobra.Command{
		Use:               "delete NAME HASHSPEC",
		Short:             "Delete one package from a project",
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := needArgs("project delete", args, 2); err != nil {
				return err
			}
			printer := globalOptions.Printer()
			d, err := hashspec.Parse(args[1])
			if err != nil {
				return errors.Fatal(err.Error())
			}
			c, err := openLocal(cmd.Context(), *globalOptions, printer)
			if err != nil {
				return err
			}
			db, err := c.Project(args[0])
			if err != nil {
				return errors.Fatal(err.Error())
			}
			hp, err := db.HashPackage(d)
			if err != nil {
				return errors.Fatalf("%v: %v", d, err)
			}
			if err := db.Delete(hp); err != nil {
				return err
			}
			printer.P("deleted %v", hp.URL)
			return nil
		},
	}
}

func newProjectCheckCommand(globalOptions *global.Options) *cobra.Command {
	return &cobra.Command{
		Use:               "check",
		Short:             "Check the consistency of the loaded projects",
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			printer := globalOptions.Printer()
			c, err := openLocal(cmd.Context(), *globalOptions, printer)
			if err != nil {
				return err
			}
			var errs []error
			for _, db := range c.Projects() {
				if err := db.SelfCheck(); err != nil {
					errs = append(errs, err)
					continue
				}
				printer.V("%v ok", db)
			}
			if len(errs) > 0 {
				return errors.Fatalf("%d projects are inconsistent: %v", len(errs), errors.Join(errs...))
			}
			printer.P("no errors found")
			return nil
		},
	}
}
