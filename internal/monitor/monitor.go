// Package monitor implements MemoryMonitor: the single dedicated
// goroutine, started only by the top-level driver, that periodically
// samples system and descendant memory, updates the profile store, and
// renders a one-line status display.
package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/rebroad/make-mem/internal/descendant"
	"github.com/rebroad/make-mem/internal/memdebug"
	"github.com/rebroad/make-mem/internal/metrics"
	"github.com/rebroad/make-mem/internal/profile"
	"github.com/rebroad/make-mem/internal/reservation"
	"github.com/rebroad/make-mem/internal/sharedmem"
	"github.com/rebroad/make-mem/internal/sysmem"
)

const (
	tickPeriod      = 100 * time.Millisecond
	saveInterval    = 10 * time.Second
	renderRateLimit = 300 * time.Millisecond
	immediateGrace  = 10 * time.Millisecond
)

// Monitor owns the MainMonitorState: the tracker table, cached
// terminal width, and the monitor-owned output descriptor.
type Monitor struct {
	logger   *slog.Logger
	store    *profile.Store
	tracker  *descendant.Tracker
	region   *sharedmem.Region
	reserver *reservation.Controller

	driverPID int32
	leveler   *memdebug.Leveler
	tracer    trace.Tracer

	displayEnabled bool
	tty            bool
	termWidth      int
	out            io.Writer

	running atomic.Bool
	done    chan struct{}

	lastSave     time.Time
	lastRender   time.Time
	spinnerFrame int
	renderSkips  int64
}

// Option customizes Monitor construction.
type Option func(*Monitor)

// WithDisplay forces the display on or off regardless of TTY
// detection, matching the --nomem flag (profiling remains active).
func WithDisplay(enabled bool) Option {
	return func(m *Monitor) { m.displayEnabled = enabled }
}

// WithOutput overrides the writer status lines are written to
// (defaults to os.Stderr). Useful for tests.
func WithOutput(w io.Writer) Option {
	return func(m *Monitor) { m.out = w }
}

// WithLeveler wires a memdebug.Leveler through to the descendant
// tracker, gating its opt-in cmdline-extraction diagnostic dump behind
// --memdebug's verbosity.
func WithLeveler(l *memdebug.Leveler) Option {
	return func(m *Monitor) { m.leveler = l }
}

// WithTracer wires a real OpenTelemetry tracer so each scan tick
// produces a span. Defaults to a no-op tracer when not supplied.
func WithTracer(t trace.Tracer) Option {
	return func(m *Monitor) {
		if t != nil {
			m.tracer = t
		}
	}
}

// New builds a Monitor for driverPID. The caller is expected to have
// already attached/created the SharedRegion and loaded the ProfileStore.
func New(driverPID int32, store *profile.Store, reserver *reservation.Controller, region *sharedmem.Region, logger *slog.Logger, opts ...Option) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		logger:         logger.With("component", "memory_monitor"),
		store:          store,
		region:         region,
		reserver:       reserver,
		driverPID:      driverPID,
		displayEnabled: true,
		out:            os.Stderr,
		done:           make(chan struct{}),
		tracer:         noop.NewTracerProvider().Tracer("memory_monitor"),
	}
	m.tty = bothStreamsAreTTY(os.Stderr, os.Stdout)
	if m.tty {
		m.termWidth = cachedWidth(os.Stdout)
	}
	if m.termWidth <= 0 {
		m.displayEnabled = false
	}
	for _, opt := range opts {
		opt(m)
	}
	trackerOpts := []descendant.Option{}
	if m.leveler != nil {
		trackerOpts = append(trackerOpts, descendant.WithLeveler(m.leveler))
	}
	m.tracker = descendant.New(store, reserver, logger, trackerOpts...)
	return m
}

// Run executes the tick loop until ctx is cancelled or StopGraceful /
// StopImmediate is called. Intended to be run in its own goroutine.
func (m *Monitor) Run(ctx context.Context) {
	m.running.Store(true)
	defer close(m.done)

	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()

	for m.running.Load() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !m.tick(ctx) {
				return
			}
		}
	}
}

func (m *Monitor) tick(ctx context.Context) bool {
	start := time.Now()
	defer func() { metrics.MonitorTickDuration.Observe(time.Since(start).Seconds()) }()

	ctx, span := m.tracer.Start(ctx, "monitor.tick")
	defer span.End()

	sysSnap, err := sysmem.Read(ctx)
	if err != nil {
		m.logger.Error("system memory unreadable, stopping monitor", "error", err)
		return false
	}
	metrics.SystemMemoryTotalMB.Set(float64(sysSnap.TotalMB))

	result, err := m.tracker.Scan(ctx, m.driverPID)
	if err != nil {
		m.logger.Warn("descendant scan failed", "error", err)
	} else {
		m.sweepExited(result)
	}
	metrics.TrackedRSSKiB.Set(float64(result.TotalRSSKiB))
	metrics.DescendantRows.Set(float64(m.tracker.Len()))

	var totalReserved, unusedPeaks int64
	if m.region != nil {
		totalReserved = m.region.SumReservedLocked()
		m.region.SetUnusedPeaksMB(result.UnusedPeaksMB)
		unusedPeaks = result.UnusedPeaksMB
	}
	metrics.TotalReservedMB.Set(float64(totalReserved))
	metrics.UnusedPeaksMB.Set(float64(unusedPeaks))
	metrics.ImminentMB.Set(float64(totalReserved + unusedPeaks))

	if m.store.IsDirty() && time.Since(m.lastSave) >= saveInterval {
		if err := m.store.Save(); err != nil {
			m.logger.Error("profile save failed", "error", err)
			metrics.ProfileSaves.WithLabelValues("failure").Inc()
		} else {
			metrics.ProfileSaves.WithLabelValues("success").Inc()
		}
		m.lastSave = time.Now()
	}
	metrics.ProfileCount.Set(float64(m.store.Len()))

	if m.displayEnabled {
		if !m.render(result, totalReserved, unusedPeaks, sysSnap) {
			return false
		}
	}
	return true
}

func (m *Monitor) sweepExited(result descendant.ScanResult) {
	m.tracker.Sweep(result.SeenPIDs)
}

func (m *Monitor) render(result descendant.ScanResult, totalReserved, unusedPeaks int64, sys sysmem.Snapshot) bool {
	if time.Since(m.lastRender) < renderRateLimit {
		m.renderSkips++
		metrics.RenderSkips.Inc()
		return true
	}
	m.lastRender = time.Now()
	m.spinnerFrame++

	trackedMB := result.TotalRSSKiB / 1024
	seg := computeSegments(sys.TotalMB, sys.UsedMB, trackedMB, totalReserved+unusedPeaks)
	line := statusLine(seg, result.TotalJobs, m.spinnerFrame, barWidthFor(m.termWidth), m.tty)

	if _, err := io.WriteString(m.out, line); err != nil {
		if isBrokenPipe(err) {
			m.logger.Error("status write failed, disabling display", "error", err)
			m.displayEnabled = false
			m.running.Store(false)
			return false
		}
		m.logger.Warn("status write error", "error", err)
	}
	return true
}

func barWidthFor(termWidth int) int {
	w := termWidth - 60 // reserve room for the numeric summary
	if w < 10 {
		w = 10
	}
	return w
}

func isBrokenPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.EBADF)
}

// StopGraceful clears the running flag and blocks until the loop has
// observed it and returned.
func (m *Monitor) StopGraceful() {
	m.running.Store(false)
	<-m.done
}

// StopImmediate clears the running flag and returns after a short
// grace period without joining — safe to call from a signal handler
// path where blocking is not acceptable.
func (m *Monitor) StopImmediate() {
	m.running.Store(false)
	time.Sleep(immediateGrace)
}

// RenderSkips returns the number of redraws skipped due to the rate
// limit, for diagnostics.
func (m *Monitor) RenderSkips() int64 { return m.renderSkips }
