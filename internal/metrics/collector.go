// Package metrics exposes the Prometheus gauges and counters emitted
// by the memory-aware admission subsystem.
package metrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TotalReservedMB = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "make_mem_total_reserved_mb",
		Help: "Sum of reserved_mb across active reservation slots",
	})

	UnusedPeaksMB = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "make_mem_unused_peaks_mb",
		Help: "Sum of max(0, old_peak - current) across tracked descendants",
	})

	ImminentMB = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "make_mem_imminent_mb",
		Help: "total_reserved_mb + unused_peaks_mb, the admission controller's published forecast",
	})

	SystemMemoryTotalMB = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "make_mem_system_total_mb",
		Help: "Total memory budget (cgroup limit if confined, else host total)",
	})

	TrackedRSSKiB = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "make_mem_tracked_rss_kib",
		Help: "Aggregate RSS of the driver's descendant process tree, in KiB",
	})

	DescendantRows = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "make_mem_descendant_rows",
		Help: "Number of live rows in the descendant tracker table",
	})

	ReservationsMade = promauto.NewCounter(prometheus.CounterOpts{
		Name: "make_mem_reservations_made_total",
		Help: "Total number of successful reserve() calls with mb > 0",
	})

	ReservationsReleased = promauto.NewCounter(prometheus.CounterOpts{
		Name: "make_mem_reservations_released_total",
		Help: "Total number of reserve() calls that released an existing slot",
	})

	ReservationTableFull = promauto.NewCounter(prometheus.CounterOpts{
		Name: "make_mem_reservation_table_full_total",
		Help: "Number of times a reservation was attempted with no free slot available",
	})

	ProfileSaves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "make_mem_profile_saves_total",
		Help: "Total number of profile cache save attempts, by outcome",
	}, []string{"outcome"}) // outcome: success, failure

	ProfileCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "make_mem_profile_count",
		Help: "Number of distinct file profiles currently tracked",
	})

	MonitorTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "make_mem_monitor_tick_duration_seconds",
		Help:    "Wall-clock duration of one monitor loop iteration",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.2, 0.5},
	})

	RenderSkips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "make_mem_render_skips_total",
		Help: "Status redraws skipped due to the 300ms rate limit",
	})

	ProfileGCRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "make_mem_profile_gc_runs_total",
		Help: "Scheduled profile cache GC runs, by outcome",
	}, []string{"outcome"})

	ProfileGCRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "make_mem_profile_gc_removed_total",
		Help: "Total number of stale profiles removed by GC",
	})
)

// recorderAdapter lets internal/reservation.Recorder be satisfied
// without that package importing Prometheus directly.
type recorderAdapter struct{}

// NewReservationRecorder returns a reservation.Recorder backed by the
// package-level Prometheus counters above.
func NewReservationRecorder() recorderAdapter { return recorderAdapter{} }

func (recorderAdapter) ReservationMade(mb int64) {
	if mb > 0 {
		ReservationsMade.Inc()
	}
}

func (recorderAdapter) ReservationReleased(int64) { ReservationsReleased.Inc() }
func (recorderAdapter) TableFull()                { ReservationTableFull.Inc() }

// Server wraps a minimal HTTP server exposing /metrics, started only
// when configuration enables it.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer builds a metrics HTTP server bound to addr (not started).
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{addr: addr, srv: &http.Server{Addr: addr, Handler: mux}}
}

// Start runs the server until ctx is cancelled, then shuts it down
// gracefully. Returns nil on a clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		return s.srv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}
