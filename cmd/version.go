package cmd

import (
	"fmt"
	"io"
	"os"
	goruntime "runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X .../cmd.version=v1.2.3".
var (
	version   = "dev"
	buildDate = "unknown"
	gitCommit = ""
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Print the ryze version, build date, git commit, Go runtime and platform.
The short form is also available as --version.`,
	Run: func(cmd *cobra.Command, args []string) {
		printVersionInfo(os.Stdout)
	},
}

func init() {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate("ryze version {{.Version}}\n")
	rootCmd.AddCommand(versionCmd)
}

func printVersionInfo(w io.Writer) {
	fmt.Fprintf(w, "ryze version %s\n", version)
	if buildDate != "unknown" {
		fmt.Fprintf(w, "Build date: %s\n", buildDate)
	}
	commit := gitCommit
	if info, ok := debug.ReadBuildInfo(); ok {
		fmt.Fprintf(w, "Module: %s\n", info.Main.Path)
		if commit == "" {
			for _, s := range info.Settings {
				if s.Key == "vcs.revision" {
					commit = s.Value
				}
			}
		}
	}
	if commit != "" {
		fmt.Fprintf(w, "Git commit: %s\n", commit)
	}
	fmt.Fprintf(w, "Go version: %s\n", goruntime.Version())
	fmt.Fprintf(w, "Platform: %s/%s\n", goruntime.GOOS, goruntime.GOARCH)
}
