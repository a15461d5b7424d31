// Package reservation implements ReservationController: the admission
// hook the surrounding job launcher calls before and after starting a
// recipe process.
package reservation

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/rebroad/make-mem/internal/audit"
	"github.com/rebroad/make-mem/internal/profile"
	"github.com/rebroad/make-mem/internal/sharedmem"
)

// Controller wraps a SharedRegion attachment with the reserve/release
// and prediction operations the launcher needs.
type Controller struct {
	region  *sharedmem.Region
	store   *profile.Store
	logger  *slog.Logger
	metrics Recorder
	audit   *audit.Trail
	tracer  trace.Tracer
}

// Recorder receives optional observability callbacks. A nil Recorder
// (via NopRecorder) is valid; callers that want Prometheus counters
// pass internal/metrics's implementation.
type Recorder interface {
	ReservationMade(mb int64)
	ReservationReleased(mb int64)
	TableFull()
}

type nopRecorder struct{}

func (nopRecorder) ReservationMade(int64)     {}
func (nopRecorder) ReservationReleased(int64) {}
func (nopRecorder) TableFull()                {}

// NopRecorder is the zero-cost Recorder used when no metrics backend is
// configured.
var NopRecorder Recorder = nopRecorder{}

// New builds a Controller over an already-attached region and store.
func New(region *sharedmem.Region, store *profile.Store, logger *slog.Logger, rec Recorder) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if rec == nil {
		rec = NopRecorder
	}
	return &Controller{
		region:  region,
		store:   store,
		logger:  logger.With("component", "reservation"),
		metrics: rec,
		audit:   audit.New(0),
		tracer:  noop.NewTracerProvider().Tracer("reservation"),
	}
}

// AuditTrail exposes the recent admission decisions recorded against
// this Controller; the debug API's /status reports them as recent_audit.
func (c *Controller) AuditTrail() []audit.Entry {
	return c.audit.Recent(0)
}

// SetTracer wires a real OpenTelemetry tracer so Reserve/release
// mutations produce spans, once tracing is enabled. A nil tracer is a
// no-op: the controller keeps its default no-op tracer.
func (c *Controller) SetTracer(t trace.Tracer) {
	if t != nil {
		c.tracer = t
	}
}

// Reserve records or releases a predicted cost for pid.
//
// mb <= 0 releases: the slot's current reserved_mb is subtracted from
// the global total (saturating at zero) and the slot is cleared. It
// returns true iff pid held a slot with a non-zero reservation (i.e.
// there was something to release).
//
// mb > 0 reserves: the slot is located or created and set to mb; the
// global total is adjusted by the signed delta (new - old).
func (c *Controller) Reserve(pid int64, mb int64, tag string) bool {
	if mb <= 0 {
		return c.release(pid, tag)
	}

	_, span := c.tracer.Start(context.Background(), "reservation.reserve")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("pid", pid),
		attribute.Int64("mb", mb),
		attribute.String("tag", tag),
	)

	idx, err := c.region.FindOrCreateSlot(pid)
	if err != nil {
		c.logger.Warn("reservation table full", "pid", pid, "tag", tag, "error", err)
		c.metrics.TableFull()
		c.audit.Record(time.Now(), audit.ActionDenied, pid, mb, tag)
		return false
	}
	old := c.region.SlotReservedMB(idx)
	c.region.SetSlotReservedMB(idx, mb)
	c.region.SetTotalReservedDelta(old, mb)
	c.metrics.ReservationMade(mb)
	c.audit.Record(time.Now(), audit.ActionReserve, pid, mb, tag)
	return true
}

func (c *Controller) release(pid int64, tag string) bool {
	_, span := c.tracer.Start(context.Background(), "reservation.release")
	defer span.End()
	span.SetAttributes(attribute.Int64("pid", pid), attribute.String("tag", tag))

	idx := c.region.FindSlot(pid)
	if idx < 0 {
		return false
	}
	old := c.region.SlotReservedMB(idx)
	c.region.FreeSlot(pid)
	c.region.SetTotalReservedDelta(old, 0)
	if old > 0 {
		c.metrics.ReservationReleased(old)
		c.audit.Record(time.Now(), audit.ActionRelease, pid, old, tag)
	}
	return old > 0
}

// Release is a readable alias for Reserve(pid, 0, tag) used by the
// descendant tracker and the launcher's reap path.
func (c *Controller) Release(pid int64, tag string) bool {
	return c.Reserve(pid, 0, tag)
}

// ImminentMB returns total_reserved + unused_peaks, a best-effort,
// unlocked read of the two published SharedRegion totals.
func (c *Controller) ImminentMB() int64 {
	return c.region.TotalReservedMB() + c.region.UnusedPeaksMB()
}

// PredictFor returns the historical peak for filename, or 0 if the
// file has no profile yet.
func (c *Controller) PredictFor(filename string) int64 {
	return c.store.Predict(filename)
}
