// Package profile implements ProfileStore: the on-disk cache of per-file
// peak memory usage that the monitor consults to predict a job's cost
// before it starts.
package profile

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FileProfile is one persisted peak-memory record, keyed by canonical
// source filename.
type FileProfile struct {
	Filename     string
	PeakMemoryMB int64
	LastUsed     time.Time
}

const (
	initialCapacity = 1000
	cacheFileName   = ".make_memory_cache"
	tmpFileName     = ".make_memory_cache.tmp"
)

// Store owns the FileProfile array and the cache file it is backed by.
// Concurrency contract (spec §5): the monitor goroutine is the sole
// writer; any other caller that needs to upsert must go through the
// same Store instance, which serializes access internally.
type Store struct {
	dir      string
	mu       sync.Mutex
	profiles []FileProfile
	byName   map[string]int
	dirty    bool
	logger   *slog.Logger

	growFailures int
}

// New creates an empty Store rooted at dir (the driver's working
// directory). It does not load from disk; call Load for that.
func New(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:      dir,
		profiles: make([]FileProfile, 0, initialCapacity),
		byName:   make(map[string]int, initialCapacity),
		logger:   logger.With("component", "profile_store"),
	}
}

func (s *Store) cachePath() string { return filepath.Join(s.dir, cacheFileName) }
func (s *Store) tmpPath() string   { return filepath.Join(s.dir, tmpFileName) }

// Load reads the on-disk cache, ignoring malformed lines and deduping on
// filename (last line for a name wins). Errors are non-fatal: whatever
// was parsed before the failure is retained.
func (s *Store) Load() error {
	f, err := os.Open(s.cachePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		s.logger.Error("failed to open memory cache", "error", err)
		return err
	}
	defer f.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		fields := strings.SplitN(line, " ", 3)
		if len(fields) != 3 {
			continue
		}
		peak, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil || peak <= 0 {
			continue
		}
		lastUsed, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}
		name := fields[2]
		if name == "" {
			continue
		}

		if idx, ok := s.byName[name]; ok {
			s.profiles[idx] = FileProfile{Filename: name, PeakMemoryMB: peak, LastUsed: time.Unix(lastUsed, 0)}
			continue
		}
		if !s.appendLocked(FileProfile{Filename: name, PeakMemoryMB: peak, LastUsed: time.Unix(lastUsed, 0)}) {
			// allocation/grow failed; keep what we have and stop parsing more.
			break
		}
	}
	if err := sc.Err(); err != nil {
		s.logger.Error("error scanning memory cache", "error", err)
		return err
	}
	return nil
}

// Lookup returns the index of filename's profile, or -1 if absent.
func (s *Store) Lookup(filename string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.byName[filename]; ok {
		return idx
	}
	return -1
}

// PeakAt returns the peak MB for a profile index, or 0 if out of range.
func (s *Store) PeakAt(idx int) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx < 0 || idx >= len(s.profiles) {
		return 0
	}
	return s.profiles[idx].PeakMemoryMB
}

// FilenameAt returns the filename for a profile index, or "" if out of range.
func (s *Store) FilenameAt(idx int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx < 0 || idx >= len(s.profiles) {
		return ""
	}
	return s.profiles[idx].Filename
}

// Predict returns the profile's peak for filename, or 0 if unknown.
func (s *Store) Predict(filename string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.byName[filename]; ok {
		return s.profiles[idx].PeakMemoryMB
	}
	return 0
}

// UpsertResult describes what Upsert did, for callers that need to tell
// tests/metrics whether a new profile was created.
type UpsertResult struct {
	Index   int
	Created bool
}

// Upsert records an observed memory usage (in MB) for filename.
//
//   - absent: grows the store if needed and appends a new profile with
//     peak=mb.
//   - present and mb > peak: overwrite, mark dirty.
//   - present, final=true, and mb < peak: smoothed decay,
//     newPeak = peak - (peak-mb)/3.
//   - otherwise: no-op.
func (s *Store) Upsert(filename string, mb int64, final bool) UpsertResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(filename, mb, final)
}

// UpsertAt applies the same rules as Upsert but against a known profile
// index (used by the descendant tracker, which already resolved the
// index at row-creation time).
func (s *Store) UpsertAt(idx int, mb int64, final bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx < 0 || idx >= len(s.profiles) {
		return
	}
	p := &s.profiles[idx]
	switch {
	case mb > p.PeakMemoryMB:
		p.PeakMemoryMB = mb
		p.LastUsed = time.Now()
		s.dirty = true
	case final && mb < p.PeakMemoryMB:
		p.PeakMemoryMB = p.PeakMemoryMB - (p.PeakMemoryMB-mb)/3
		p.LastUsed = time.Now()
		s.dirty = true
	}
}

func (s *Store) upsertLocked(filename string, mb int64, final bool) UpsertResult {
	if idx, ok := s.byName[filename]; ok {
		p := &s.profiles[idx]
		switch {
		case mb > p.PeakMemoryMB:
			p.PeakMemoryMB = mb
			p.LastUsed = time.Now()
			s.dirty = true
		case final && mb < p.PeakMemoryMB:
			p.PeakMemoryMB = p.PeakMemoryMB - (p.PeakMemoryMB-mb)/3
			p.LastUsed = time.Now()
			s.dirty = true
		}
		return UpsertResult{Index: idx, Created: false}
	}

	if !s.appendLocked(FileProfile{Filename: filename, PeakMemoryMB: mb, LastUsed: time.Now()}) {
		return UpsertResult{Index: -1, Created: false}
	}
	s.dirty = true
	return UpsertResult{Index: len(s.profiles) - 1, Created: true}
}

// appendLocked appends a profile, growing capacity if needed. Returns
// false if growth failed and there was no room.
func (s *Store) appendLocked(p FileProfile) bool {
	if len(s.profiles) == cap(s.profiles) {
		s.growLocked()
	}
	if len(s.profiles) >= cap(s.profiles) {
		return false
	}
	s.profiles = append(s.profiles, p)
	s.byName[p.Filename] = len(s.profiles) - 1
	return true
}

// maxCapacity is a defensive ceiling on profile-array growth: a build
// with this many distinct translation units is not realistic, so
// exceeding it is treated the same way the original treats ENOMEM.
const maxCapacity = 1 << 22

// growLocked doubles capacity (starting at initialCapacity). On failure
// (capacity ceiling reached) it logs, rate-limited to the first 10
// occurrences, and leaves capacity unchanged.
func (s *Store) growLocked() {
	newCap := cap(s.profiles) * 2
	if newCap == 0 {
		newCap = initialCapacity
	}
	if newCap > maxCapacity {
		s.growFailures++
		if s.growFailures <= 10 {
			s.logger.Error("profile store capacity ceiling reached", "capacity", cap(s.profiles))
		}
		return
	}
	grown := make([]FileProfile, len(s.profiles), newCap)
	copy(grown, s.profiles)
	s.profiles = grown
}

// IsDirty reports whether any profile has changed since the last Save.
func (s *Store) IsDirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Len returns the number of tracked profiles.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.profiles)
}

// Snapshot returns a sorted copy of all profiles, for status/debug display.
func (s *Store) Snapshot() []FileProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]FileProfile, len(s.profiles))
	copy(out, s.profiles)
	sort.Slice(out, func(i, j int) bool { return out[i].PeakMemoryMB > out[j].PeakMemoryMB })
	return out
}

// Save writes the cache atomically: write to the .tmp sibling, then
// rename over the real file. Entries with peak==0 are skipped. Clears
// the dirty flag on success.
func (s *Store) Save() error {
	s.mu.Lock()
	profiles := make([]FileProfile, len(s.profiles))
	copy(profiles, s.profiles)
	s.mu.Unlock()

	tmp := s.tmpPath()
	f, err := os.Create(tmp)
	if err != nil {
		s.logger.Error("failed to create temp memory cache", "error", err)
		return err
	}

	w := bufio.NewWriter(f)
	for _, p := range profiles {
		if p.PeakMemoryMB == 0 {
			continue
		}
		fmt.Fprintf(w, "%d %d %s\n", p.PeakMemoryMB, p.LastUsed.Unix(), p.Filename)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		s.logger.Error("failed to write temp memory cache", "error", err)
		return err
	}
	if err := f.Close(); err != nil {
		s.logger.Error("failed to close temp memory cache", "error", err)
		return err
	}

	if err := os.Rename(tmp, s.cachePath()); err != nil {
		s.logger.Error("failed to rename memory cache into place", "error", err)
		return err
	}

	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()
	return nil
}

// PruneOlderThan removes every profile whose LastUsed is before cutoff,
// rebuilding the name index, and marks the store dirty if anything was
// removed. Returns the number of profiles removed.
func (s *Store) PruneOlderThan(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.profiles[:0:0]
	removed := 0
	for _, p := range s.profiles {
		if p.LastUsed.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, p)
	}
	if removed == 0 {
		return 0
	}

	s.profiles = kept
	s.byName = make(map[string]int, len(kept))
	for i, p := range s.profiles {
		s.byName[p.Filename] = i
	}
	s.dirty = true
	return removed
}

// Reset clears the in-memory store, used when the cache file is removed
// out from under us (see Watch).
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles = s.profiles[:0]
	s.byName = make(map[string]int, initialCapacity)
	s.dirty = false
}
