package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/hashget/hashget/internal/debug"
	"github.com/hashget/hashget/internal/dedup"
	"github.com/hashget/hashget/internal/errors"
	"github.com/hashget/hashget/internal/global"
)

func init() {
	// don't import `go.uber.org/automaxprocs` to disable the log output
	_, _ = maxprocs.Set()
}

var cmdGroupDefault = "default"
var cmdGroupAdvanced = "advanced"

func newRootCommand(globalOptions *global.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hashget",
		Short: "Deduplicate directory trees against known packages",
		Long: `
hashget finds the files of a directory tree which are contained in packages
that can be downloaded again later (Debian packages, kernel.org tarballs and
hinted archives) and leaves them out of the archive. After unpacking, the
"postunpack" command downloads the packages and restores the files.
`,
		SilenceErrors:     true,
		SilenceUsage:      true,
		DisableAutoGenTag: true,

		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return globalOptions.PreRun()
		},
	}

	cmd.AddGroup(
		&cobra.Group{
			ID:    cmdGroupDefault,
			Title: "Available Commands:",
		},
		&cobra.Group{
			ID:    cmdGroupAdvanced,
			Title: "Advanced Options:",
		},
	)

	globalOptions.AddFlags(cmd.PersistentFlags())

	cmd.CompletionOptions.DisableDefaultCmd = true

	cmd.AddCommand(
		newCacheCommand(globalOptions),
		newIndexCommand(globalOptions),
		newPackCommand(globalOptions),
		newPoolCommand(globalOptions),
		newPostUnpackCommand(globalOptions),
		newPrepareCommand(globalOptions),
		newProjectCommand(globalOptions),
		newQueryCommand(globalOptions),
		newServeCommand(globalOptions),
		newSubmitCommand(globalOptions),
		newVersionCommand(globalOptions),
	)

	global.RegisterProfiling(cmd, os.Stderr)

	return cmd
}

func main() {
	// install custom global logger into a buffer, if an error occurs
	// we can show the logs
	logBuffer := bytes.NewBuffer(nil)
	log.SetOutput(logBuffer)

	debug.Log("main %#v", os.Args)
	debug.Log("hashget %s compiled with %v on %v/%v",
		global.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)

	globalOptions := global.Options{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}

	ctx := createGlobalContext(globalOptions.Stderr)
	err := newRootCommand(&globalOptions).ExecuteContext(ctx)
	if err == nil {
		err = ctx.Err()
	}

	var incomplete *dedup.IncompleteError

	var exitMessage string
	switch {
	case errors.As(err, &incomplete):
		exitMessage = fmt.Sprintf("Warning: %v", err)
	case errors.IsFatal(err):
		exitMessage = err.Error()
	case errors.Is(err, context.Canceled):
		exitMessage = "interrupted"
	case err != nil:
		exitMessage = fmt.Sprintf("%+v", err)

		if logBuffer.Len() > 0 {
			exitMessage += "also, the following messages were logged by a library:\n"
			sc := bufio.NewScanner(logBuffer)
			for sc.Scan() {
				exitMessage += fmt.Sprintln(sc.Text())
			}
		}
	}

	var exitCode int
	switch {
	case err == nil:
		exitCode = 0
	case errors.As(err, &incomplete):
		exitCode = 3
	case errors.Is(err, context.Canceled):
		exitCode = 130
	default:
		exitCode = 1
	}

	if exitCode != 0 {
		_, _ = fmt.Fprintf(os.Stderr, "%v\n", exitMessage)
	}
	Exit(exitCode)
}
