// Package descendant implements DescendantTracker: a driver-private
// table of the process tree rooted at the build driver, kept current
// by periodic scans from the memory monitor.
package descendant

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/rebroad/make-mem/internal/cmdline"
	"github.com/rebroad/make-mem/internal/memdebug"
	"github.com/rebroad/make-mem/internal/profile"
	"github.com/rebroad/make-mem/internal/reservation"
)

// MaxTrackedDescendants bounds the row table; a build forking more
// concurrent jobs than this is not realistic and further descendants
// are aggregated into the RSS total without a dedicated row.
const MaxTrackedDescendants = 100

// Row is one live descendant's in-memory tracking state.
type Row struct {
	PID        int32
	ProfileIdx int
	CurrentMB  int64
	PeakMB     int64
	OldPeakMB  int64
}

// Tracker owns the Row table for one driver instance.
type Tracker struct {
	store    *profile.Store
	reserver *reservation.Controller
	logger   *slog.Logger
	leveler  *memdebug.Leveler

	rows        []Row
	byPID       map[int32]int
	capWarned   bool
}

// Option customizes Tracker construction.
type Option func(*Tracker)

// WithLeveler wires a memdebug.Leveler so rowFor can gate the opt-in
// cmdline-extraction diagnostic dump behind --memdebug's verbosity.
func WithLeveler(l *memdebug.Leveler) Option {
	return func(t *Tracker) { t.leveler = l }
}

// New builds an empty Tracker. store and reserver may be shared with
// the rest of the driver; reserver may be nil if reservation release
// is not wired (e.g. in tests).
func New(store *profile.Store, reserver *reservation.Controller, logger *slog.Logger, opts ...Option) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracker{
		store:    store,
		reserver: reserver,
		logger:   logger.With("component", "descendant_tracker"),
		byPID:    make(map[int32]int, MaxTrackedDescendants),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// procInfo is the subset of gopsutil's process data the scan needs,
// snapshotted once per tick so the recursive walk sees a consistent view.
type procInfo struct {
	pid      int32
	ppid     int32
	rssBytes uint64
	cmdline  string
}

// ScanResult summarizes one tick's walk of the driver's descendants.
type ScanResult struct {
	TotalRSSKiB   int64
	TotalJobs     int
	UnusedPeaksMB int64
	// SeenPIDs holds every descendant pid observed during this scan,
	// for callers that need to compute the complement (exited rows)
	// before calling Sweep.
	SeenPIDs map[int32]struct{}
}

// Scan walks every live descendant of rootPID (transitively), creating
// or updating Row entries and ProfileStore peaks as it goes. It never
// removes rows for processes that have exited; call Sweep afterward for
// that.
func (t *Tracker) Scan(ctx context.Context, rootPID int32) (ScanResult, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return ScanResult{}, err
	}

	byPPid := make(map[int32][]procInfo, len(procs))
	for _, p := range procs {
		ppid, err := p.PpidWithContext(ctx)
		if err != nil {
			continue
		}
		mi, err := p.MemoryInfoWithContext(ctx)
		if err != nil || mi == nil {
			continue
		}
		cl, _ := p.CmdlineWithContext(ctx)
		byPPid[ppid] = append(byPPid[ppid], procInfo{
			pid:      p.Pid,
			ppid:     ppid,
			rssBytes: mi.RSS,
			cmdline:  cl,
		})
	}

	result := ScanResult{SeenPIDs: make(map[int32]struct{})}
	rssKiB := t.scanChildren(byPPid, rootPID, &result)
	result.TotalRSSKiB = rssKiB
	return result, nil
}

func (t *Tracker) scanChildren(byPPid map[int32][]procInfo, parentPID int32, result *ScanResult) int64 {
	var sum int64
	for _, p := range byPPid[parentPID] {
		if result.SeenPIDs != nil {
			result.SeenPIDs[p.pid] = struct{}{}
		}
		sum += int64(p.rssBytes / 1024)

		row := t.rowFor(p)
		childRSS := t.scanChildren(byPPid, p.pid, result)

		if row == nil {
			sum += childRSS
			continue
		}
		// The recursive scan may have appended rows and moved t.rows;
		// re-resolve the pointer before writing through it.
		row = &t.rows[t.byPID[p.pid]]

		newCurrentMB := (int64(p.rssBytes/1024) + childRSS) / 1024
		if newCurrentMB > row.CurrentMB {
			row.CurrentMB = newCurrentMB
		}
		if row.CurrentMB > row.PeakMB {
			row.PeakMB = row.CurrentMB
			if t.store != nil {
				t.store.UpsertAt(row.ProfileIdx, row.PeakMB, false)
			}
		}

		if row.OldPeakMB > row.CurrentMB {
			result.UnusedPeaksMB += row.OldPeakMB - row.CurrentMB
		}
		if row.ProfileIdx >= 0 {
			result.TotalJobs++
		}

		sum += childRSS
	}
	return sum
}

// rowFor locates or creates the Row for p, returning nil (with the
// caller contributing its RSS but no row bookkeeping) once the table
// is at capacity.
func (t *Tracker) rowFor(p procInfo) *Row {
	if idx, ok := t.byPID[p.pid]; ok {
		return &t.rows[idx]
	}

	if len(t.rows) >= MaxTrackedDescendants {
		if !t.capWarned {
			t.logger.Warn("descendant table at capacity, further processes untracked", "limit", MaxTrackedDescendants)
			t.capWarned = true
		}
		return nil
	}

	key, found := cmdline.Extract(p.cmdline)
	if t.leveler != nil && t.leveler.Level() >= memdebug.LevelVerbose {
		prefix := fmt.Sprintf("pid%d", p.pid)
		if err := cmdline.DumpDiagnostic(prefix, "rowFor", p.cmdline, key, found); err != nil {
			t.logger.Debug("cmdline diagnostic dump failed", "pid", p.pid, "error", err)
		}
	}
	if !found {
		// No canonical source key: still track the row for RSS
		// aggregation, just without a profile binding.
		row := Row{PID: p.pid, ProfileIdx: -1, CurrentMB: int64(p.rssBytes / 1024 / 1024)}
		t.rows = append(t.rows, row)
		t.byPID[p.pid] = len(t.rows) - 1
		return &t.rows[len(t.rows)-1]
	}

	currentMB := int64(p.rssBytes / 1024 / 1024)
	var profileIdx int
	var oldPeak int64
	if t.store != nil {
		if idx := t.store.Lookup(key); idx >= 0 {
			profileIdx = idx
			oldPeak = t.store.PeakAt(idx)
		} else {
			res := t.store.Upsert(key, currentMB, false)
			profileIdx = res.Index
			oldPeak = currentMB
		}
	} else {
		profileIdx = -1
	}

	if t.reserver != nil {
		t.reserver.Release(int64(p.pid), key)
	}

	row := Row{PID: p.pid, ProfileIdx: profileIdx, CurrentMB: currentMB, PeakMB: currentMB, OldPeakMB: oldPeak}
	t.rows = append(t.rows, row)
	t.byPID[p.pid] = len(t.rows) - 1
	return &t.rows[len(t.rows)-1]
}

// Sweep removes rows whose process is no longer present in livePIDs,
// writing a final peak to the profile store for each before compacting
// the table. Spec-mandated ordering: final-upsert happens before the
// row is shifted out.
func (t *Tracker) Sweep(livePIDs map[int32]struct{}) {
	i := 0
	for i < len(t.rows) {
		row := t.rows[i]
		if _, alive := livePIDs[row.PID]; alive {
			i++
			continue
		}

		if t.store != nil && row.ProfileIdx >= 0 {
			t.store.UpsertAt(row.ProfileIdx, row.PeakMB, true)
		}

		t.rows = append(t.rows[:i], t.rows[i+1:]...)
		delete(t.byPID, row.PID)
		for pid, idx := range t.byPID {
			if idx > i {
				t.byPID[pid] = idx - 1
			}
		}
		// do not advance i: the next row has shifted into this slot
	}
}

// LivePIDs returns the set of PIDs currently tracked, for callers that
// need to compute the complement before calling Sweep.
func (t *Tracker) LivePIDs() map[int32]struct{} {
	out := make(map[int32]struct{}, len(t.rows))
	for _, r := range t.rows {
		out[r.PID] = struct{}{}
	}
	return out
}

// Rows returns a copy of the current row table, for display/debug use.
func (t *Tracker) Rows() []Row {
	out := make([]Row, len(t.rows))
	copy(out, t.rows)
	return out
}

// Len returns the number of tracked rows.
func (t *Tracker) Len() int { return len(t.rows) }
