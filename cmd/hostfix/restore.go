package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

var restoreCmd = &cobra.Command{
	Use:   "restore [BACKUP]",
	Short: "Restore the hosts file from a backup",
	Long: `Restore the hosts file from the newest backup, or from the named one.

Examples:
  # List backups
  hostfix restore --list

  # Restore the newest backup
  sudo hostfix restore`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		list, _ := cmd.Flags().GetBool("list")

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if list {
			backups, err := a.writer.Backups()
			if err != nil {
				return fmt.Errorf("failed to list backups: %w", err)
			}
			if len(backups) == 0 {
				fmt.Println("No backups found")
				return nil
			}
			for _, b := range backups {
				fmt.Println(b)
			}
			return nil
		}

		var backup string
		if len(args) == 1 {
			backup = args[0]
			if !filepath.IsAbs(backup) && filepath.Dir(backup) == "." {
				backup = filepath.Join(a.cfg.BackupDir(), backup)
			}
		}

		restored, err := a.writer.Restore(context.Background(), backup)
		if err != nil {
			return fmt.Errorf("failed to restore hosts file: %w", err)
		}
		fmt.Printf("✓ Restored %s from %s\n", a.writer.Path(), restored)
		return nil
	},
}

func init() {
	restoreCmd.Flags().Bool("list", false, "List available backups, newest first")
}
