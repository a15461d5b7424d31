package monitor

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/rebroad/make-mem/internal/profile"
	"github.com/rebroad/make-mem/internal/reservation"
	"github.com/rebroad/make-mem/internal/sharedmem"
)

func TestComputeSegmentsClampsAndFillsFree(t *testing.T) {
	seg := computeSegments(1000, 600, 200, 50)
	if seg.TrackedMB != 200 {
		t.Fatalf("TrackedMB = %d want 200", seg.TrackedMB)
	}
	if seg.OtherMB != 400 {
		t.Fatalf("OtherMB = %d want 400", seg.OtherMB)
	}
	if seg.ImminentMB != 50 {
		t.Fatalf("ImminentMB = %d want 50", seg.ImminentMB)
	}
	if seg.FreeMB != 350 {
		t.Fatalf("FreeMB = %d want 350", seg.FreeMB)
	}
}

func TestComputeSegmentsTrackedExceedsTotalIsClamped(t *testing.T) {
	seg := computeSegments(100, 50, 500, 0)
	if seg.TrackedMB != 100 {
		t.Fatalf("TrackedMB = %d want 100 (clamped to total)", seg.TrackedMB)
	}
	if seg.OtherMB != 0 || seg.FreeMB != 0 {
		t.Fatalf("expected no room left for other/free, got other=%d free=%d", seg.OtherMB, seg.FreeMB)
	}
}

func TestComputeSegmentsZeroTotalIsEmpty(t *testing.T) {
	seg := computeSegments(0, 10, 10, 10)
	if seg != (segments{}) {
		t.Fatalf("expected zero-value segments, got %+v", seg)
	}
}

func TestBarNonEmptyForPositiveWidth(t *testing.T) {
	seg := computeSegments(100, 50, 25, 0)
	rendered := bar(seg, 20)
	// each segment is styled separately; just confirm non-empty output
	// proportional to a non-zero bar width.
	if rendered == "" {
		t.Fatal("expected non-empty bar output")
	}
}

func TestBarZeroWidthIsEmpty(t *testing.T) {
	seg := computeSegments(100, 50, 25, 0)
	if got := bar(seg, 0); got != "" {
		t.Fatalf("bar(0) = %q want empty", got)
	}
}

func TestSpinnerWrapsModuloFrameCount(t *testing.T) {
	first := spinner(0)
	wrapped := spinner(len(spinnerFrames))
	if first != wrapped {
		t.Fatalf("spinner(0)=%c spinner(len)=%c want equal", first, wrapped)
	}
}

func TestStatusLineNonTTYIsNewlineTerminated(t *testing.T) {
	seg := computeSegments(1000, 500, 100, 50)
	line := statusLine(seg, 3, 0, 20, false)
	if len(line) == 0 || line[len(line)-1] != '\n' {
		t.Fatalf("expected newline-terminated line, got %q", line)
	}
}

func TestStatusLineTTYUsesCursorEscapes(t *testing.T) {
	seg := computeSegments(1000, 500, 100, 50)
	line := statusLine(seg, 3, 0, 20, true)
	if !bytes.Contains([]byte(line), []byte("\x1b[s")) {
		t.Fatalf("expected cursor-save escape in tty output, got %q", line)
	}
}

func TestBarWidthForClampsToMinimum(t *testing.T) {
	if got := barWidthFor(10); got != 10 {
		t.Fatalf("barWidthFor(10) = %d want 10 (floor)", got)
	}
	if got := barWidthFor(200); got != 140 {
		t.Fatalf("barWidthFor(200) = %d want 140", got)
	}
}

func TestClampHiLessThanLo(t *testing.T) {
	if got := clamp(5, 10, 3); got != 10 {
		t.Fatalf("clamp with inverted bounds = %d want lo=10", got)
	}
}

func TestMonitorRunStopsOnContextCancel(t *testing.T) {
	store := profile.New(t.TempDir(), nil)
	region, err := sharedmem.AttachOrCreate(t.TempDir(), true)
	if err != nil {
		t.Fatalf("AttachOrCreate: %v", err)
	}
	defer region.Unlink()
	rc := reservation.New(region, store, nil, reservation.NopRecorder)
	var out bytes.Buffer

	m := New(int32(os.Getpid()), store, rc, region, nil, WithDisplay(true), WithOutput(&out))

	ctx, cancel := context.WithTimeout(context.Background(), 350*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestTickEmitsSpanWhenTracerWired(t *testing.T) {
	store := profile.New(t.TempDir(), nil)
	region, err := sharedmem.AttachOrCreate(t.TempDir(), true)
	if err != nil {
		t.Fatalf("AttachOrCreate: %v", err)
	}
	defer region.Unlink()
	rc := reservation.New(region, store, nil, reservation.NopRecorder)

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	m := New(int32(os.Getpid()), store, rc, region, nil, WithDisplay(false), WithTracer(tp.Tracer("test")))
	if !m.tick(context.Background()) {
		t.Fatal("expected tick to succeed")
	}

	ended := recorder.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected 1 ended span, got %d", len(ended))
	}
	if ended[0].Name() != "monitor.tick" {
		t.Fatalf("span.Name() = %q want monitor.tick", ended[0].Name())
	}
}

func TestMonitorStopGracefulJoinsLoop(t *testing.T) {
	store := profile.New(t.TempDir(), nil)
	region, err := sharedmem.AttachOrCreate(t.TempDir(), true)
	if err != nil {
		t.Fatalf("AttachOrCreate: %v", err)
	}
	defer region.Unlink()
	rc := reservation.New(region, store, nil, reservation.NopRecorder)
	m := New(int32(os.Getpid()), store, rc, region, nil, WithDisplay(false))

	ctx := context.Background()
	go m.Run(ctx)

	time.Sleep(150 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		m.StopGraceful()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("StopGraceful did not return")
	}
}
