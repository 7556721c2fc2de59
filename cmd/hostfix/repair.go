package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cuemby/hostfix/pkg/repair"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Check reachability and repair it if needed",
	Long: `Run one repair cycle: check GitHub reachability, and when it is
degraded gather candidate addresses, rank them, pin the fastest in the
hosts file and verify the result.

Exit status is 0 on success (skipped or fixed) and 1 on failure. With
--detailed-exitcode it is 0 when no repair was needed, 1 on failure and
2 when a repair was applied.

Examples:
  # Repair only if the last good check is stale
  sudo hostfix repair

  # Always run the check
  sudo hostfix repair --force`,
	RunE: runRepair,
}

func init() {
	repairCmd.Flags().Bool("force", false, "Ignore the cached reachability check")
	repairCmd.Flags().BoolP("quiet", "q", false, "Do not show progress")
	repairCmd.Flags().Bool("detailed-exitcode", false, "Exit 2 when a repair was applied")
}

func runRepair(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")
	quiet, _ := cmd.Flags().GetBool("quiet")
	detailed, _ := cmd.Flags().GetBool("detailed-exitcode")

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var opts []repair.Option
	var bar *progressbar.ProgressBar
	if !quiet {
		bar = newProgressBar()
		opts = append(opts, repair.WithProgress(func(stage repair.Stage, message string, percent int) {
			bar.Describe(fmt.Sprintf("[%s] %s", stage, message))
			_ = bar.Set(percent)
		}))
	}

	out, err := a.orchestrator(a.reachability(), force, opts...).Run(ctx)
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
	if err != nil && out.Action == "" {
		return err
	}

	if !quiet || out.Action == repair.ActionFail {
		printOutcome(out)
	}

	if code := exitCode(out.Action, detailed); code != 0 {
		return &exitError{code: code}
	}
	return nil
}

func newProgressBar() *progressbar.ProgressBar {
	return progressbar.NewOptions(100,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowDescriptionAtLineEnd(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionClearOnFinish(),
	)
}

// exitCode maps the cycle outcome to the process exit status
func exitCode(action repair.Action, detailed bool) int {
	switch action {
	case repair.ActionSkip:
		return 0
	case repair.ActionFixed:
		if detailed {
			return 2
		}
		return 0
	default:
		return 1
	}
}

func printOutcome(out repair.Outcome) {
	var paint func(format string, a ...interface{}) string
	switch out.Action {
	case repair.ActionFixed:
		paint = color.GreenString
	case repair.ActionSkip:
		paint = color.CyanString
	default:
		paint = color.RedString
	}

	first, rest, _ := strings.Cut(out.Summary(), "\n")
	fmt.Println(paint("%s", first))
	fmt.Print(rest)
}
