// Command tiermemd runs the virtual-memory tiering manager standalone: it
// registers a demo region, drives simulated page faults against it, serves
// Prometheus metrics while the policy loop runs (when --metrics-addr is set),
// and prints a status summary on exit.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/oichkatzele/tiermem/internal/config"
	"github.com/oichkatzele/tiermem/internal/faultsource"
	"github.com/oichkatzele/tiermem/internal/metrics"
	"github.com/oichkatzele/tiermem/internal/manager"
)

type cliOpts struct {
	metricsAddr  string
	policyModule string
	regionPages  int64
	touchHz      int
	duration     time.Duration

	fastCapacityMiB int64
	slowCapacityMiB int64
}

func main() {
	var o cliOpts

	root := &cobra.Command{
		Use:   "tiermemd",
		Short: "Userspace virtual-memory tiering manager",
		Long: `tiermemd runs the page-fault-driven memory tiering dataplane
described for this module: a region of simulated virtual memory is
registered, faulted pages are placed into a Fast or Slow tier, and a
background policy loop promotes hot pages and demotes cold ones.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), o)
		},
	}

	root.Flags().StringVar(&o.metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (empty disables)")
	root.Flags().StringVar(&o.policyModule, "policy-module", "", "path to an external policy module (not yet implemented; logged and ignored)")
	root.Flags().Int64Var(&o.regionPages, "region-pages", 64, "number of pages in the demo region")
	root.Flags().IntVar(&o.touchHz, "touch-hz", 200, "rate of simulated page touches per second")
	root.Flags().DurationVar(&o.duration, "duration", 5*time.Second, "how long to run the demo workload before shutting down")
	root.Flags().Int64Var(&o.fastCapacityMiB, "fast-capacity-mib", 0, "override Fast tier capacity in MiB (0 = default)")
	root.Flags().Int64Var(&o.slowCapacityMiB, "slow-capacity-mib", 0, "override Slow tier capacity in MiB (0 = default)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o cliOpts) error {
	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	if o.policyModule != "" {
		log.Warn("--policy-module is a placeholder extension point; ignoring", zap.String("path", o.policyModule))
	}

	cfg := config.Default()
	if o.fastCapacityMiB > 0 {
		cfg.FastCapacity = o.fastCapacityMiB << 20
	}
	if o.slowCapacityMiB > 0 {
		cfg.SlowCapacity = o.slowCapacityMiB << 20
	}

	source := faultsource.NewSimulated(4096)
	mgr := manager.New(cfg.ManagerConfig(), source, log)

	if err := mgr.Init(); err != nil {
		return fmt.Errorf("manager init: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	const base = uintptr(0x7f0000000000)
	length := uintptr(o.regionPages) * 4096
	if _, err := mgr.RegisterRegion(base, length); err != nil {
		return fmt.Errorf("register region: %w", err)
	}

	var srv *http.Server
	if o.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(metrics.NewCollector(mgr))
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv = &http.Server{Addr: o.metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
		log.Info("serving metrics", zap.String("addr", o.metricsAddr))
	}

	runWorkload(ctx, source, base, length, o.touchHz, o.duration)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}

	if err := mgr.Shutdown(); err != nil {
		log.Error("manager shutdown returned error", zap.Error(err))
	}

	fmt.Print(mgr.Status())
	return nil
}

// runWorkload simulates application threads touching pages in [base,
// base+length), skewed toward the first four pages, for demo purposes. A
// touch of a page that has already been faulted in has no effect, so each
// page faults at most once.
func runWorkload(ctx context.Context, source *faultsource.Simulated, base, length uintptr, hz int, duration time.Duration) {
	if hz <= 0 {
		hz = 1
	}
	ticker := time.NewTicker(time.Second / time.Duration(hz))
	defer ticker.Stop()

	deadline := time.After(duration)
	pages := int(length / 4096)
	rng := rand.New(rand.NewSource(1))

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case <-ticker.C:
			var page int
			if rng.Intn(10) < 7 && pages > 4 {
				page = rng.Intn(4) // hot set
			} else {
				page = rng.Intn(pages)
			}
			addr := base + uintptr(page)*4096
			source.Touch(addr)
		}
	}
}
