package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rebroad/make-mem/internal/api"
	"github.com/rebroad/make-mem/internal/config"
	"github.com/rebroad/make-mem/internal/descendant"
	"github.com/rebroad/make-mem/internal/driver"
	"github.com/rebroad/make-mem/internal/maintenance"
	"github.com/rebroad/make-mem/internal/metrics"
	"github.com/rebroad/make-mem/internal/monitor"
	"github.com/rebroad/make-mem/internal/profile"
	"github.com/rebroad/make-mem/internal/reservation"
	"github.com/rebroad/make-mem/internal/sharedmem"
	"github.com/rebroad/make-mem/internal/signals"
	"github.com/rebroad/make-mem/internal/tracing"
)

var runCmd = &cobra.Command{
	Use:   "run -- <command> [args...]",
	Short: "Run a command under memory-aware admission control",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRun,
}

// The only flags spec.md §6 calls out as relevant to the core, each
// overriding its corresponding environment variable and the YAML
// config when explicitly set.
var (
	memoryAwareFlag   bool
	noMemoryAwareFlag bool
	nomemFlag         bool
	memDebugFlag      int
)

func init() {
	runCmd.Flags().BoolVar(&memoryAwareFlag, "memory-aware", false, "enable memory-aware admission control (overrides MAKE_MEMORY_AWARE)")
	runCmd.Flags().BoolVar(&noMemoryAwareFlag, "no-memory-aware", false, "disable memory-aware admission control (overrides MAKE_MEMORY_AWARE)")
	runCmd.Flags().BoolVar(&nomemFlag, "nomem", false, "suppress status rendering; profiling remains active (overrides MAKE_MEM_NOMEM)")
	runCmd.Flags().IntVar(&memDebugFlag, "memdebug", -1, "memory-debug verbosity 0..5 (overrides MAKE_MEM_MEMDEBUG)")
}

// applyFlagOverrides gives explicit flags the final word over the env
// vars and YAML file config.Load already merged, matching spec.md
// §6's stated precedence.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("memory-aware") {
		cfg.MemoryAware = memoryAwareFlag
	}
	if cmd.Flags().Changed("no-memory-aware") {
		cfg.MemoryAware = !noMemoryAwareFlag
	}
	if cmd.Flags().Changed("nomem") {
		cfg.NoDisplay = nomemFlag
	}
	if cmd.Flags().Changed("memdebug") {
		cfg.MemDebug = memDebugFlag
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyFlagOverrides(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, leveler := newLogger(cfg.MemDebug)

	store := profile.New(cfg.CacheDir, logger)
	if err := store.Load(); err != nil {
		logger.Warn("failed to load profile cache, starting empty", "error", err)
	}
	stopWatch := make(chan struct{})
	go store.Watch(stopWatch)
	defer close(stopWatch)

	region, err := sharedmem.AttachOrCreate(cfg.SharedDir, true)
	if err != nil {
		return err
	}
	defer region.Detach()
	if region.IsTopLevel() {
		defer region.Unlink()
	}

	var recorder reservation.Recorder = reservation.NopRecorder
	if cfg.MetricsEnabled {
		recorder = metrics.NewReservationRecorder()
	}
	reserver := reservation.New(region, store, logger, recorder)
	tracker := descendant.New(store, reserver, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !cfg.MemoryAware {
		return runChild(ctx, reserver, args)
	}

	if signals.IsPID1() {
		go signals.ReapZombies(ctx, time.Second)
	}

	if cfg.MetricsEnabled {
		metricsSrv := metrics.NewServer(cfg.MetricsAddr)
		go func() {
			if err := metricsSrv.Start(ctx); err != nil {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
	}

	var apiSrv *api.Server
	if cfg.APIEnabled {
		apiSrv = api.NewServer(cfg.APIAddr, cfg.APIToken, store, tracker, reserver, logger)
		go func() {
			if err := apiSrv.Start(ctx); err != nil {
				logger.Error("debug API server stopped", "error", err)
			}
		}()
	}

	tp, err := tracing.NewProvider(ctx, tracing.Config{
		Enabled:  cfg.TracingEnabled,
		Exporter: cfg.TracingExporter,
		Endpoint: cfg.TracingEndpoint,
	}, logger)
	if err != nil {
		return err
	}
	defer tp.Shutdown(context.Background())
	reserver.SetTracer(tp.Tracer("reservation"))

	if cfg.ProfileGCCron != "" {
		gc := maintenance.NewGC(store, time.Duration(cfg.ProfileGCMaxAgeDays)*24*time.Hour, logger, maintenance.NopRecorder)
		scheduler, err := maintenance.NewScheduler(cfg.ProfileGCCron, gc)
		if err != nil {
			logger.Warn("profile GC schedule disabled", "error", err)
		} else {
			scheduler.Start()
			defer scheduler.Stop()
		}
	}

	mon := monitor.New(int32(os.Getpid()), store, reserver, region, logger,
		monitor.WithDisplay(!cfg.NoDisplay), monitor.WithLeveler(leveler), monitor.WithTracer(tp.Tracer("memory_monitor")))

	notifier := signals.New(leveler, mon, logger)
	defer notifier.Stop()

	go mon.Run(ctx)

	runner := driver.New(reserver, logger)
	result, runErr := runner.Run(ctx, args[0], args[1:], os.Stdout, os.Stderr)

	mon.StopGraceful()
	if err := store.Save(); err != nil {
		logger.Warn("failed to save profile cache on exit", "error", err)
	}

	if runErr != nil {
		return runErr
	}
	if result.ExitCode != 0 {
		return exitCodeError{code: result.ExitCode}
	}
	return nil
}

// runChild is the --memory-aware=false fast path: exec the command
// without the monitor; the driver still reserves the predicted cost
// for the child and releases it when the command exits.
func runChild(ctx context.Context, reserver *reservation.Controller, args []string) error {
	runner := driver.New(reserver, nil)
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	result, err := runner.Run(ctx, args[0], args[1:], os.Stdout, os.Stderr)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return exitCodeError{code: result.ExitCode}
	}
	return nil
}
