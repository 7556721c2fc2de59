package main

import (
	"fmt"
	"net/netip"
	"os"
	"text/tabwriter"
	"time"

	"github.com/cuemby/hostfix/pkg/types"
	"github.com/spf13/cobra"
)

var blacklistCmd = &cobra.Command{
	Use:   "blacklist",
	Short: "Manage blacklisted addresses",
	Long: `Blacklisted addresses are never offered as repair candidates.
Addresses are blacklisted automatically when they time out repeatedly,
stay slow or show unstable latency; operators can add or remove entries
by hand.`,
}

var blacklistListCmd = &cobra.Command{
	Use:   "list",
	Short: "List blacklisted addresses",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		entries := a.quality.BlacklistEntries()
		if len(entries) == 0 {
			fmt.Println("No blacklisted addresses")
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "IP\tREASON\tADDED\tDETAIL")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.IP, e.Reason, e.AddedAt.Local().Format(time.DateTime), e.Detail)
		}
		return tw.Flush()
	},
}

var blacklistAddCmd = &cobra.Command{
	Use:   "add IP",
	Short: "Blacklist an address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ip, err := parseIP(args[0])
		if err != nil {
			return err
		}
		detail, _ := cmd.Flags().GetString("detail")

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.quality.Blacklist(ip, types.ReasonManual, detail); err != nil {
			return fmt.Errorf("failed to blacklist %s: %w", ip, err)
		}
		fmt.Printf("✓ Blacklisted %s\n", ip)
		return nil
	},
}

var blacklistRemoveCmd = &cobra.Command{
	Use:   "remove IP",
	Short: "Remove an address from the blacklist",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ip, err := parseIP(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		removed, err := a.quality.Unblacklist(ip)
		if err != nil {
			return fmt.Errorf("failed to remove %s: %w", ip, err)
		}
		if !removed {
			fmt.Printf("%s is not blacklisted\n", ip)
			return nil
		}
		fmt.Printf("✓ Removed %s from the blacklist\n", ip)
		return nil
	},
}

var blacklistClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every blacklist entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		n := len(a.quality.BlacklistEntries())
		if err := a.quality.ClearBlacklist(); err != nil {
			return fmt.Errorf("failed to clear blacklist: %w", err)
		}
		fmt.Printf("✓ Cleared %d blacklist entries\n", n)
		return nil
	},
}

func init() {
	blacklistCmd.AddCommand(blacklistListCmd)
	blacklistCmd.AddCommand(blacklistAddCmd)
	blacklistCmd.AddCommand(blacklistRemoveCmd)
	blacklistCmd.AddCommand(blacklistClearCmd)

	blacklistAddCmd.Flags().String("detail", "", "Note stored with the entry")
}

func parseIP(s string) (string, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil || !addr.Is4() {
		return "", fmt.Errorf("invalid IPv4 address: %q", s)
	}
	return addr.String(), nil
}
