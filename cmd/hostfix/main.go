package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/cuemby/hostfix/pkg/metrics"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// exitError carries a process exit status without an error message
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hostfix",
	Short: "Hostfix - GitHub reachability auto-repair",
	Long: `Hostfix checks whether GitHub is reachable from this machine and,
when it is not, finds working front-end addresses and pins them in the
system hosts file.

Candidate addresses come from several public DNS resolvers, the local
quality history and a built-in known-good list. Every fault and repair
attempt is kept in a local ledger.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Hostfix version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
	metrics.SetVersion(Version)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Path to a YAML configuration file")
	flags.String("data-dir", "", "Directory for the quality database and backups")
	flags.String("hosts-file", "", "Hosts file to manage")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.Bool("json-logs", false, "Emit JSON logs")

	rootCmd.AddCommand(repairCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(blacklistCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(historyCmd)
}
