package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cuemby/hostfix/pkg/types"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded faults and repair attempts",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		faults, err := a.ledger.Faults()
		if err != nil {
			return fmt.Errorf("failed to read faults: %w", err)
		}
		repairs, err := a.ledger.Repairs()
		if err != nil {
			return fmt.Errorf("failed to read repairs: %w", err)
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)

		fmt.Fprintln(tw, "FAULTS")
		fmt.Fprintln(tw, "TIME\tTYPE\tCLASSIFICATION\tLATENCY")
		for _, f := range tail(faults, limit) {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%.0f ms\n",
				f.Timestamp.Local().Format(time.DateTime), f.FaultType, f.Classification, f.LatencyMs)
		}

		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "REPAIRS")
		fmt.Fprintln(tw, "TIME\tSCHEME\tRESULT\tMAPPING")
		for _, r := range tail(repairs, limit) {
			result := "failed"
			if r.Success {
				result = "ok"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
				r.Timestamp.Local().Format(time.DateTime), r.Scheme, result, formatMapping(r.Mapping))
		}
		return tw.Flush()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current overrides and address quality",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		current, err := a.writer.Current()
		if err != nil {
			return fmt.Errorf("failed to read hosts file: %w", err)
		}
		fmt.Printf("Hosts file: %s\n", a.writer.Path())
		if len(current) == 0 {
			fmt.Println("Overrides: none")
		} else {
			fmt.Printf("Overrides: %s\n", formatMapping(current))
		}

		cp, err := a.store.GetCheckpoint()
		switch {
		case err == nil:
			fmt.Printf("Last check: %s (%s, %.0f ms)\n",
				cp.LastCheckAt.Local().Format(time.DateTime), cp.LastClassification, cp.LastLatencyMs)
		case errors.Is(err, types.ErrNotFound):
			fmt.Println("Last check: never")
		default:
			return fmt.Errorf("failed to read checkpoint: %w", err)
		}

		if best, ok := a.quality.BestAddress(); ok {
			fmt.Printf("Best address: %s\n", best)
		}

		records := a.quality.Records()
		if len(records) == 0 {
			return nil
		}
		sort.Slice(records, func(i, j int) bool {
			return a.quality.Score(records[i].IP) > a.quality.Score(records[j].IP)
		})

		fmt.Println()
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "IP\tSCORE\tSUCCESS\tAVG LATENCY\tTESTS\tBLACKLISTED")
		for _, rec := range records {
			fmt.Fprintf(tw, "%s\t%.1f\t%.0f%%\t%.0f ms\t%d\t%t\n",
				rec.IP, a.quality.Score(rec.IP), rec.SuccessRate()*100, rec.AvgLatencyMs(),
				rec.TestCount, a.quality.IsBlacklisted(rec.IP))
		}
		return tw.Flush()
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "Show at most this many of the newest records of each kind")
	rootCmd.AddCommand(statusCmd)
}

func tail[T any](list []T, n int) []T {
	if n <= 0 || len(list) <= n {
		return list
	}
	return list[len(list)-n:]
}

func formatMapping(m map[string]string) string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+m[name])
	}
	return strings.Join(parts, " ")
}
