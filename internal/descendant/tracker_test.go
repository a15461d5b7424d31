package descendant

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rebroad/make-mem/internal/memdebug"
	"github.com/rebroad/make-mem/internal/profile"
	"github.com/rebroad/make-mem/internal/reservation"
	"github.com/rebroad/make-mem/internal/sharedmem"
)

func newTestTracker(t *testing.T) (*Tracker, *profile.Store) {
	t.Helper()
	store := profile.New(t.TempDir(), nil)
	region, err := sharedmem.AttachOrCreate(t.TempDir(), true)
	if err != nil {
		t.Fatalf("AttachOrCreate: %v", err)
	}
	t.Cleanup(func() { region.Unlink() })
	rc := reservation.New(region, store, nil, nil)
	return New(store, rc, nil), store
}

func mb(n int64) uint64 { return uint64(n) * 1024 * 1024 }

func TestScanChildrenCreatesRowAndProfile(t *testing.T) {
	tr, store := newTestTracker(t)

	byPPid := map[int32][]procInfo{
		1: {{pid: 2, ppid: 1, rssBytes: mb(128), cmdline: "g++ -c src/foo.cpp -o foo.o"}},
	}
	var result ScanResult
	rss := tr.scanChildren(byPPid, 1, &result)

	if rss != int64(128*1024) {
		t.Fatalf("rss = %d want %d KiB", rss, 128*1024)
	}
	if tr.Len() != 1 {
		t.Fatalf("Len = %d want 1", tr.Len())
	}
	row := tr.Rows()[0]
	if row.PID != 2 || row.PeakMB != 128 {
		t.Fatalf("unexpected row %+v", row)
	}
	if store.Predict("src/foo.cpp") != 128 {
		t.Fatalf("profile peak = %d want 128", store.Predict("src/foo.cpp"))
	}
	if result.TotalJobs != 1 {
		t.Fatalf("TotalJobs = %d want 1", result.TotalJobs)
	}
}

func TestScanChildrenReleasesReservationOnFirstSighting(t *testing.T) {
	store := profile.New(t.TempDir(), nil)
	region, err := sharedmem.AttachOrCreate(t.TempDir(), true)
	if err != nil {
		t.Fatalf("AttachOrCreate: %v", err)
	}
	defer region.Unlink()
	rc := reservation.New(region, store, nil, nil)

	rc.Reserve(2, 200, "src/foo.cpp")
	if rc.ImminentMB() != 200 {
		t.Fatal("expected reservation to be recorded")
	}

	tr := New(store, rc, nil)
	byPPid := map[int32][]procInfo{
		1: {{pid: 2, ppid: 1, rssBytes: mb(64), cmdline: "gcc -c src/foo.cpp"}},
	}
	var result ScanResult
	tr.scanChildren(byPPid, 1, &result)

	if rc.ImminentMB() != 0 {
		t.Fatalf("expected reservation released on first sighting, ImminentMB = %d", rc.ImminentMB())
	}
}

func TestScanChildrenUpdatesPeakOnGrowth(t *testing.T) {
	tr, store := newTestTracker(t)

	byPPid1 := map[int32][]procInfo{
		1: {{pid: 2, ppid: 1, rssBytes: mb(100), cmdline: "gcc -c src/a.cpp"}},
	}
	var r1 ScanResult
	tr.scanChildren(byPPid1, 1, &r1)

	byPPid2 := map[int32][]procInfo{
		1: {{pid: 2, ppid: 1, rssBytes: mb(300), cmdline: "gcc -c src/a.cpp"}},
	}
	var r2 ScanResult
	tr.scanChildren(byPPid2, 1, &r2)

	row := tr.Rows()[0]
	if row.PeakMB != 300 {
		t.Fatalf("PeakMB = %d want 300", row.PeakMB)
	}
	if store.Predict("src/a.cpp") != 300 {
		t.Fatalf("profile peak = %d want 300", store.Predict("src/a.cpp"))
	}
}

func TestScanChildrenAggregatesChildRSSIntoParent(t *testing.T) {
	tr, _ := newTestTracker(t)

	byPPid := map[int32][]procInfo{
		1: {{pid: 2, ppid: 1, rssBytes: mb(100), cmdline: "gcc -c a.cpp"}},
		2: {{pid: 3, ppid: 2, rssBytes: mb(50), cmdline: "cc1 internal"}},
	}
	var result ScanResult
	tr.scanChildren(byPPid, 1, &result)

	row := tr.Rows()[0]
	if row.PID != 2 {
		t.Fatalf("expected row for pid 2, got %+v", row)
	}
	if row.CurrentMB != 150 {
		t.Fatalf("CurrentMB = %d want 150 (self+child)", row.CurrentMB)
	}
}

func TestSweepFinalizesAndCompacts(t *testing.T) {
	tr, store := newTestTracker(t)

	byPPid := map[int32][]procInfo{
		1: {
			{pid: 2, ppid: 1, rssBytes: mb(100), cmdline: "gcc -c src/a.cpp"},
			{pid: 3, ppid: 1, rssBytes: mb(200), cmdline: "gcc -c src/b.cpp"},
		},
	}
	var result ScanResult
	tr.scanChildren(byPPid, 1, &result)
	if tr.Len() != 2 {
		t.Fatalf("Len = %d want 2", tr.Len())
	}

	// pid 2 exits; only pid 3 remains live.
	tr.Sweep(map[int32]struct{}{3: {}})

	if tr.Len() != 1 {
		t.Fatalf("Len after sweep = %d want 1", tr.Len())
	}
	if tr.Rows()[0].PID != 3 {
		t.Fatalf("expected surviving row to be pid 3, got %+v", tr.Rows()[0])
	}
	if store.Predict("src/a.cpp") != 100 {
		t.Fatalf("expected final peak persisted for src/a.cpp, got %d", store.Predict("src/a.cpp"))
	}
}

func TestRowForWithoutCanonicalKeyStillTracksRSS(t *testing.T) {
	tr, _ := newTestTracker(t)

	byPPid := map[int32][]procInfo{
		1: {{pid: 2, ppid: 1, rssBytes: mb(42), cmdline: "echo hello world"}},
	}
	var result ScanResult
	tr.scanChildren(byPPid, 1, &result)

	if tr.Len() != 1 {
		t.Fatalf("Len = %d want 1", tr.Len())
	}
	row := tr.Rows()[0]
	if row.ProfileIdx != -1 {
		t.Fatalf("expected ProfileIdx -1 for untracked cmdline, got %d", row.ProfileIdx)
	}
	if result.TotalJobs != 0 {
		t.Fatalf("TotalJobs = %d want 0 (no profile)", result.TotalJobs)
	}
}

func countDiagnosticDumps(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	n := 0
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "make_pid") {
			n++
		}
	}
	return n
}

func TestRowForDumpsDiagnosticWhenVerboseLevelerWired(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TMPDIR", dir)

	store := profile.New(t.TempDir(), nil)
	region, err := sharedmem.AttachOrCreate(t.TempDir(), true)
	if err != nil {
		t.Fatalf("AttachOrCreate: %v", err)
	}
	defer region.Unlink()
	rc := reservation.New(region, store, nil, nil)

	leveler := memdebug.New(slog.Default())
	leveler.SetLevel(memdebug.LevelVerbose)
	tr := New(store, rc, nil, WithLeveler(leveler))

	byPPid := map[int32][]procInfo{
		1: {{pid: 2, ppid: 1, rssBytes: mb(42), cmdline: "gcc -c src/foo.cpp"}},
	}
	var result ScanResult
	tr.scanChildren(byPPid, 1, &result)

	if got := countDiagnosticDumps(t, filepath.Clean(os.TempDir())); got != 1 {
		t.Fatalf("diagnostic dumps = %d want 1", got)
	}
}

func TestRowForSkipsDiagnosticBelowVerboseLevel(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TMPDIR", dir)

	store := profile.New(t.TempDir(), nil)
	region, err := sharedmem.AttachOrCreate(t.TempDir(), true)
	if err != nil {
		t.Fatalf("AttachOrCreate: %v", err)
	}
	defer region.Unlink()
	rc := reservation.New(region, store, nil, nil)

	leveler := memdebug.New(slog.Default())
	leveler.SetLevel(memdebug.LevelInfo)
	tr := New(store, rc, nil, WithLeveler(leveler))

	byPPid := map[int32][]procInfo{
		1: {{pid: 2, ppid: 1, rssBytes: mb(42), cmdline: "gcc -c src/foo.cpp"}},
	}
	var result ScanResult
	tr.scanChildren(byPPid, 1, &result)

	if got := countDiagnosticDumps(t, filepath.Clean(os.TempDir())); got != 0 {
		t.Fatalf("diagnostic dumps = %d want 0 below verbose level", got)
	}
}

func TestRowForRespectsCapacity(t *testing.T) {
	tr, _ := newTestTracker(t)

	children := make([]procInfo, 0, MaxTrackedDescendants+5)
	byPPid := map[int32][]procInfo{}
	for i := 0; i < MaxTrackedDescendants+5; i++ {
		children = append(children, procInfo{
			pid:      int32(i + 2),
			ppid:     1,
			rssBytes: mb(1),
			cmdline:  "gcc -c unique.cpp",
		})
	}
	byPPid[1] = children

	var result ScanResult
	tr.scanChildren(byPPid, 1, &result)

	if tr.Len() != MaxTrackedDescendants {
		t.Fatalf("Len = %d want capped at %d", tr.Len(), MaxTrackedDescendants)
	}
}
