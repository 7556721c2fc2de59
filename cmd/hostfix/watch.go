package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/hostfix/pkg/metrics"
	"github.com/cuemby/hostfix/pkg/repair"
	"github.com/cuemby/hostfix/pkg/watch"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Continuously guard GitHub reachability",
	Long: `Check reachability on an interval and run a repair cycle once the
service has failed failure-threshold consecutive checks. Recorded faults,
repairs and hosts file updates are printed as they happen.

With --metrics-addr the Prometheus metrics and health endpoints are
served on /metrics, /health and /ready.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().Duration("interval", 0, "Check interval (default from config, 10m)")
	watchCmd.Flags().Int("failure-threshold", 0, "Consecutive failed checks before repairing")
	watchCmd.Flags().String("metrics-addr", "", "Serve metrics and health endpoints on this address")
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if cmd.Flags().Changed("interval") {
		a.cfg.Watch.Interval, _ = cmd.Flags().GetDuration("interval")
	}
	if cmd.Flags().Changed("failure-threshold") {
		a.cfg.Watch.FailureThreshold, _ = cmd.Flags().GetInt("failure-threshold")
	}
	if cmd.Flags().Changed("metrics-addr") {
		a.cfg.Watch.MetricsAddr, _ = cmd.Flags().GetString("metrics-addr")
	}

	metrics.SetCriticalComponents(metrics.ComponentStore, metrics.ComponentWatcher)

	collector := metrics.NewCollector(a.quality)
	collector.Start()
	defer collector.Stop()

	errCh := make(chan error, 1)
	var server *http.Server
	if addr := a.cfg.Watch.MetricsAddr; addr != "" {
		server = &http.Server{
			Addr:              addr,
			Handler:           metrics.NewServeMux(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
		fmt.Printf("Serving metrics on http://%s/metrics\n", addr)
	}

	checker := a.reachability()
	orch := a.orchestrator(checker, true)
	w := watch.New(a.cfg.HealthConfig(), checker, orch, watch.WithOutcomeHandler(func(out repair.Outcome) {
		printOutcome(out)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	following := followEvents(ctx, a.broker, os.Stdout, watchEvents...)
	w.Start(ctx)

	fmt.Printf("Watching %v every %s. Press Ctrl+C to stop.\n", a.cfg.Service.Hostnames, a.cfg.Watch.Interval)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case err = <-errCh:
		fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
	}

	cancel()
	w.Stop()
	<-following
	if server != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = server.Shutdown(shutdownCtx)
	}

	fmt.Println("✓ Shutdown complete")
	return err
}
