package repair

import (
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/cuemby/hostfix/pkg/hosts"
	"github.com/cuemby/hostfix/pkg/types"
)

// Action is the terminal result of a repair cycle
type Action string

const (
	ActionSkip  Action = "skip"
	ActionFixed Action = "fixed"
	ActionFail  Action = "fail"
)

// Outcome describes what a repair cycle did
type Outcome struct {
	CycleID        string
	Action         Action
	Classification types.Classification
	LatencyMs      float64

	// IPs is the hostname to address mapping in effect after the cycle
	IPs map[string]string

	// Tried lists every address measured, Succeeded the ones that answered
	Tried     []string
	Succeeded []string

	Message  string
	Guidance string
	Err      error
}

// Summary renders the outcome for a terminal
func (o Outcome) Summary() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Result: %s", o.Action)
	if o.Classification != "" {
		fmt.Fprintf(&b, " (reachability %s, %.0f ms)", o.Classification, o.LatencyMs)
	}
	b.WriteString("\n")

	if o.Message != "" {
		fmt.Fprintf(&b, "%s\n", o.Message)
	}

	if len(o.Tried) > 0 {
		fmt.Fprintf(&b, "Addresses tried: %d, succeeded: %d, failed: %d\n",
			len(o.Tried), len(o.Succeeded), len(o.Tried)-len(o.Succeeded))
	}

	if len(o.IPs) > 0 {
		names := make([]string, 0, len(o.IPs))
		for name := range o.IPs {
			names = append(names, name)
		}
		sort.Strings(names)
		b.WriteString("Applied:\n")
		for _, name := range names {
			fmt.Fprintf(&b, "  %s -> %s\n", name, o.IPs[name])
		}
	}

	if o.Guidance != "" {
		b.WriteString("\n")
		b.WriteString(o.Guidance)
		if !strings.HasSuffix(o.Guidance, "\n") {
			b.WriteString("\n")
		}
	}

	return b.String()
}

// guidance builds the manual repair instructions shown on failure
func guidance(hostnames, suggested []string) string {
	var b strings.Builder

	b.WriteString("Automatic repair failed. To fix reachability by hand:\n")
	if len(suggested) > 0 && len(hostnames) > 0 {
		b.WriteString("1. Add lines like these to your hosts file (")
		b.WriteString(hosts.DefaultPath())
		b.WriteString("):\n")
		for i, name := range hostnames {
			fmt.Fprintf(&b, "   %s\t%s\n", suggested[i%len(suggested)], name)
		}
		if len(suggested) > len(hostnames) {
			fmt.Fprintf(&b, "   Other addresses to try: %s\n", strings.Join(suggested[len(hostnames):], ", "))
		}
	}
	fmt.Fprintf(&b, "2. Flush the resolver cache: %s\n", hosts.ManualFlushInstructions(runtime.GOOS))
	b.WriteString("3. If it still fails, check proxy and firewall settings.\n")

	return b.String()
}
