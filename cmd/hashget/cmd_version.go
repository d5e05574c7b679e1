package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/hashget/hashget/internal/global"
)

func newVersionCommand(globalOptions *global.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long: `
The "version" command prints detailed information about the build environment
and the version of this software.

EXIT STATUS
===========

Exit status is 0 if the command was successful, and non-zero if there was any error.
`,
		GroupID:           cmdGroupAdvanced,
		DisableAutoGenTag: true,
		Run: func(_ *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(globalOptions.Stdout, "hashget %s compiled with %v on %v/%v\n",
				global.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
	return cmd
}
