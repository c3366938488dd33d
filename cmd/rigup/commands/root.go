// Package commands implements the rigup command line interface.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	profilePath string
	verbose     bool
	logFile     string
)

// ExitError carries a specific process exit code out of a command. An
// aborted run maps its stage index onto the exit code so wrapper scripts
// can tell where provisioning stopped.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

// abortExitCode maps the index of the stage a run aborted in to an exit
// code, offset past the conventional small codes and capped below the
// shell's special range.
func abortExitCode(stageIndex int) int {
	code := 10 + stageIndex
	if code > 125 {
		code = 125
	}
	return code
}

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rigup",
		Short: "rigup - audio workstation provisioning engine",
		Long: `rigup turns a stock Debian host into a realtime audio workstation:
package installation, system limits, USB audio interface binding,
systemd service registration, and session launch, all from one
declarative profile.

Every step is idempotent: running apply twice leaves the host exactly
as running it once did.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVarP(&profilePath, "profile", "p", "", "profile file or directory (builtin workstation profile when empty)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "mirror logs as JSON into this file")

	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newDevicesCommand())
	rootCmd.AddCommand(newReportCommand())
	rootCmd.AddCommand(newBootstrapCommand())

	return rootCmd
}
