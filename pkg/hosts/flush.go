package hosts

import (
	"context"
	"os/exec"
	"runtime"
	"time"

	"github.com/cuemby/hostfix/pkg/log"
)

// DefaultFlushTimeout bounds each cache invalidation command
const DefaultFlushTimeout = 10 * time.Second

// Flusher invalidates the operating system's resolver cache. Failures are
// logged by the implementation; callers never consult a result.
type Flusher interface {
	Flush(ctx context.Context)
}

// FlusherFunc adapts a function to Flusher
type FlusherFunc func(ctx context.Context)

// Flush calls f(ctx)
func (f FlusherFunc) Flush(ctx context.Context) { f(ctx) }

// NopFlusher does nothing
var NopFlusher = FlusherFunc(func(context.Context) {})

// CommandFlusher runs a fixed list of commands, each bounded by Timeout
type CommandFlusher struct {
	Commands [][]string
	Timeout  time.Duration
}

// DefaultFlusher returns the cache invalidation commands for the running OS
func DefaultFlusher() *CommandFlusher {
	return &CommandFlusher{
		Commands: FlushCommands(runtime.GOOS),
		Timeout:  DefaultFlushTimeout,
	}
}

// FlushCommands returns the cache invalidation commands for goos. Windows
// also re-registers with DNS so the override takes effect immediately.
func FlushCommands(goos string) [][]string {
	switch goos {
	case "windows":
		return [][]string{
			{"ipconfig", "/flushdns"},
			{"ipconfig", "/registerdns"},
		}
	case "darwin":
		return [][]string{
			{"dscacheutil", "-flushcache"},
			{"killall", "-HUP", "mDNSResponder"},
		}
	default:
		return [][]string{
			{"resolvectl", "flush-caches"},
		}
	}
}

// Flush runs every command in order, ignoring failures
func (f *CommandFlusher) Flush(ctx context.Context) {
	logger := log.WithComponent("hosts")
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = DefaultFlushTimeout
	}

	for _, argv := range f.Commands {
		if len(argv) == 0 {
			continue
		}
		cmdCtx, cancel := context.WithTimeout(ctx, timeout)
		out, err := exec.CommandContext(cmdCtx, argv[0], argv[1:]...).CombinedOutput()
		cancel()
		if err != nil {
			logger.Debug().Err(err).Strs("command", argv).Str("output", string(out)).Msg("Resolver cache flush command failed")
			continue
		}
		logger.Debug().Strs("command", argv).Msg("Resolver cache flushed")
	}
}

// ManualFlushInstructions returns the command an operator should run to
// invalidate the resolver cache on goos
func ManualFlushInstructions(goos string) string {
	switch goos {
	case "windows":
		return "run 'ipconfig /flushdns' in an elevated command prompt"
	case "darwin":
		return "run 'sudo dscacheutil -flushcache; sudo killall -HUP mDNSResponder'"
	default:
		return "run 'sudo resolvectl flush-caches' (or restart nscd/dnsmasq if used)"
	}
}
