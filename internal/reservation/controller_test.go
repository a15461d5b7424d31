package reservation

import (
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/rebroad/make-mem/internal/profile"
	"github.com/rebroad/make-mem/internal/sharedmem"
)

func newTestController(t *testing.T) *Controller {
	t.Helper()
	region, err := sharedmem.AttachOrCreate(t.TempDir(), true)
	if err != nil {
		t.Fatalf("AttachOrCreate: %v", err)
	}
	t.Cleanup(func() { region.Unlink() })
	store := profile.New(t.TempDir(), nil)
	return New(region, store, nil, nil)
}

func TestReserveThenRelease(t *testing.T) {
	c := newTestController(t)

	if ok := c.Reserve(100, 256, "src/foo.cpp"); !ok {
		t.Fatal("expected reserve to succeed")
	}
	if got := c.ImminentMB(); got != 256 {
		t.Fatalf("ImminentMB = %d want 256", got)
	}

	if ok := c.Release(100, "src/foo.cpp"); !ok {
		t.Fatal("expected release to report an existing reservation")
	}
	if got := c.ImminentMB(); got != 0 {
		t.Fatalf("ImminentMB after release = %d want 0", got)
	}
}

func TestReleaseWithoutPriorReservation(t *testing.T) {
	c := newTestController(t)
	if ok := c.Release(999, "tag"); ok {
		t.Fatal("expected release of unknown pid to report false")
	}
}

func TestReserveUpdatesExistingSlot(t *testing.T) {
	c := newTestController(t)
	c.Reserve(1, 100, "a")
	c.Reserve(1, 300, "a")
	if got := c.ImminentMB(); got != 300 {
		t.Fatalf("ImminentMB = %d want 300 (overwrite, not additive)", got)
	}
}

func TestPredictForUnknownFile(t *testing.T) {
	c := newTestController(t)
	if got := c.PredictFor("nope.cpp"); got != 0 {
		t.Fatalf("PredictFor unknown = %d want 0", got)
	}
}

func TestPredictForKnownFile(t *testing.T) {
	region, err := sharedmem.AttachOrCreate(t.TempDir(), true)
	if err != nil {
		t.Fatalf("AttachOrCreate: %v", err)
	}
	defer region.Unlink()
	store := profile.New(t.TempDir(), nil)
	store.Upsert("src/foo.cpp", 777, false)

	c := New(region, store, nil, nil)
	if got := c.PredictFor("src/foo.cpp"); got != 777 {
		t.Fatalf("PredictFor = %d want 777", got)
	}
}

func TestImminentMBIncludesUnusedPeaks(t *testing.T) {
	c := newTestController(t)
	c.Reserve(1, 100, "a")
	c.region.SetUnusedPeaksMB(50)
	if got := c.ImminentMB(); got != 150 {
		t.Fatalf("ImminentMB = %d want 150", got)
	}
}

type countingRecorder struct {
	made, released int
	full           int
}

func (r *countingRecorder) ReservationMade(int64)     { r.made++ }
func (r *countingRecorder) ReservationReleased(int64) { r.released++ }
func (r *countingRecorder) TableFull()                { r.full++ }

func TestRecorderHooksInvoked(t *testing.T) {
	region, err := sharedmem.AttachOrCreate(t.TempDir(), true)
	if err != nil {
		t.Fatalf("AttachOrCreate: %v", err)
	}
	defer region.Unlink()
	store := profile.New(t.TempDir(), nil)
	rec := &countingRecorder{}
	c := New(region, store, nil, rec)

	c.Reserve(1, 100, "a")
	c.Release(1, "a")
	if rec.made != 1 || rec.released != 1 {
		t.Fatalf("recorder counts = %+v", rec)
	}
}

func TestReserveTableFullInvokesRecorder(t *testing.T) {
	region, err := sharedmem.AttachOrCreate(t.TempDir(), true)
	if err != nil {
		t.Fatalf("AttachOrCreate: %v", err)
	}
	defer region.Unlink()
	store := profile.New(t.TempDir(), nil)
	rec := &countingRecorder{}
	c := New(region, store, nil, rec)

	for i := int64(1); i <= sharedmem.MaxReservations; i++ {
		c.Reserve(i, 10, "x")
	}
	if ok := c.Reserve(int64(sharedmem.MaxReservations)+1, 10, "x"); ok {
		t.Fatal("expected reserve to fail once table is full")
	}
	if rec.full != 1 {
		t.Fatalf("expected TableFull to be recorded once, got %d", rec.full)
	}
}

func TestAuditTrailRecordsReserveAndRelease(t *testing.T) {
	c := newTestController(t)
	c.Reserve(1, 100, "src/foo.cpp")
	c.Release(1, "src/foo.cpp")

	entries := c.AuditTrail()
	if len(entries) != 2 {
		t.Fatalf("AuditTrail length = %d want 2", len(entries))
	}
	// Recent(0) returns newest first.
	if entries[0].Action != "release" || entries[1].Action != "reserve" {
		t.Fatalf("unexpected audit order: %+v", entries)
	}
	if entries[1].MB != 100 || entries[1].Tag != "src/foo.cpp" {
		t.Fatalf("unexpected reserve entry: %+v", entries[1])
	}
}

func TestReserveAndReleaseEmitSpans(t *testing.T) {
	c := newTestController(t)

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	c.SetTracer(tp.Tracer("test"))

	c.Reserve(1, 100, "src/foo.cpp")
	c.Release(1, "src/foo.cpp")

	ended := recorder.Ended()
	if len(ended) != 2 {
		t.Fatalf("expected 2 ended spans, got %d", len(ended))
	}
	if ended[0].Name() != "reservation.reserve" {
		t.Fatalf("span[0].Name() = %q want reservation.reserve", ended[0].Name())
	}
	if ended[1].Name() != "reservation.release" {
		t.Fatalf("span[1].Name() = %q want reservation.release", ended[1].Name())
	}
}

func TestSetTracerIgnoresNil(t *testing.T) {
	c := newTestController(t)
	c.SetTracer(nil)
	// Should not panic and should still emit spans against the default
	// no-op tracer.
	if ok := c.Reserve(1, 50, "a.cpp"); !ok {
		t.Fatal("expected reserve to succeed with default no-op tracer")
	}
}

func TestAuditTrailRecordsTableFullDenial(t *testing.T) {
	region, err := sharedmem.AttachOrCreate(t.TempDir(), true)
	if err != nil {
		t.Fatalf("AttachOrCreate: %v", err)
	}
	defer region.Unlink()
	store := profile.New(t.TempDir(), nil)
	c := New(region, store, nil, nil)

	for i := int64(1); i <= sharedmem.MaxReservations; i++ {
		c.Reserve(i, 10, "x")
	}
	c.Reserve(int64(sharedmem.MaxReservations)+1, 10, "x")

	entries := c.AuditTrail()
	if entries[0].Action != "denied" {
		t.Fatalf("expected most recent entry to be a denial, got %+v", entries[0])
	}
}
