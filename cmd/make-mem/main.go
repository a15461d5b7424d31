package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "make-mem",
	Short: "Memory-aware job admission and profiling driver",
	Long: `make-mem wraps a build command with a memory-aware admission
controller: it profiles each job's peak RSS across runs, predicts the
cost of the next run from that history, and reserves that cost in a
shared region that publishes the imminent memory total. It does not
itself delay or refuse jobs.

Examples:
  make-mem run -- make -j16          # drive a build under admission control
  make-mem status                    # point-in-time snapshot
  make-mem profiles --sort peak      # inspect the on-disk profile cache
  make-mem tui                       # live dashboard
  make-mem init                      # scaffold make-mem.yaml`,
	Version: version,
}

// exitCodeError lets a subcommand propagate the wrapped command's exit
// code through a normal error return, so deferred cleanup (shared
// region detach, tracer shutdown, scheduler stop) still runs before the
// process exits.
type exitCodeError struct{ code int }

func (e exitCodeError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func main() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}

	var exitErr exitCodeError
	if errors.As(err, &exitErr) {
		os.Exit(exitErr.code)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to make-mem.yaml (default: $MAKE_MEM_CONFIG or ./make-mem.yaml)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(profilesCmd)
	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
}
