package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop address records not updated recently",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		maxAge := a.cfg.Retention()
		if cmd.Flags().Changed("days") {
			days, _ := cmd.Flags().GetInt("days")
			if days <= 0 {
				return fmt.Errorf("--days must be positive")
			}
			maxAge = time.Duration(days) * 24 * time.Hour
		}

		n, err := a.quality.Prune(maxAge)
		if err != nil {
			return fmt.Errorf("prune finished with errors after removing %d records: %w", n, err)
		}
		fmt.Printf("✓ Pruned %d address records older than %s\n", n, maxAge)
		return nil
	},
}

func init() {
	pruneCmd.Flags().Int("days", 30, "Remove records not updated for this many days")
}
