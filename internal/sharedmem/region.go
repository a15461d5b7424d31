// Package sharedmem implements SharedRegion: a fixed-layout record
// mapped into /dev/shm so that sibling build-driver processes can
// publish and observe memory reservations without a central server.
//
// Go has no stdlib equivalent of a PTHREAD_PROCESS_SHARED mutex without
// cgo, so the two process-shared mutexes the layout calls for are built
// from flock(2) advisory locks against small sibling files — any
// process holding the fd can block every other process attached to the
// same region, which is the property a process-shared mutex needs.
package sharedmem

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

const (
	// MaxReservations bounds the fixed reservation table.
	MaxReservations = 64

	regionName    = "make_memory_shared"
	countLockName = "make_memory_shared.count.lock"
	totalLockName = "make_memory_shared.total.lock"

	reservationSize = 8 + 8 // pid int64 + reserved_mb int64
	headerSize      = 8 + 8 + 8 // reservation_count + unused_peaks_mb + total_reserved_mb
	regionSize      = headerSize + MaxReservations*reservationSize

	offCount        = 0
	offUnusedPeaks  = 8
	offTotalReserved = 16
	offReservations = headerSize
)

// Region is an attached view of the shared memory record.
type Region struct {
	data       []byte
	countLock  *os.File
	totalLock  *os.File
	file       *os.File
	path       string
	topLevel   bool
}

// AttachOrCreate opens or creates the shared region under dir (normally
// /dev/shm). If the region did not exist, it is created, sized, and its
// mutex sibling files are created. The top-level driver must pass
// zeroPayload=true, which zeroes reservations/totals even if the region
// already existed (but never recreates the lock files themselves, so
// in-flight locks from other processes are not disturbed). Sub-builds
// pass false and simply attach.
func AttachOrCreate(dir string, zeroPayload bool) (*Region, error) {
	if dir == "" {
		dir = "/dev/shm"
	}
	path := filepath.Join(dir, regionName)

	existed := true
	if _, err := os.Stat(path); os.IsNotExist(err) {
		existed = false
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return nil, fmt.Errorf("sharedmem: open region: %w", err)
	}

	if err := f.Truncate(int64(regionSize)); err != nil {
		f.Close()
		return nil, fmt.Errorf("sharedmem: truncate region: %w", err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, regionSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("sharedmem: mmap region: %w", err)
	}

	countLock, err := openLockFile(filepath.Join(dir, countLockName))
	if err != nil {
		unix.Munmap(data)
		f.Close()
		return nil, err
	}
	totalLock, err := openLockFile(filepath.Join(dir, totalLockName))
	if err != nil {
		countLock.Close()
		unix.Munmap(data)
		f.Close()
		return nil, err
	}

	r := &Region{data: data, countLock: countLock, totalLock: totalLock, file: f, path: path, topLevel: zeroPayload}

	if zeroPayload || !existed {
		for i := range data {
			data[i] = 0
		}
	}

	return r, nil
}

func openLockFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return nil, fmt.Errorf("sharedmem: open lock file %s: %w", path, err)
	}
	return f, nil
}

func (r *Region) lockCount() func() {
	unix.Flock(int(r.countLock.Fd()), unix.LOCK_EX)
	return func() { unix.Flock(int(r.countLock.Fd()), unix.LOCK_UN) }
}

func (r *Region) lockTotal() func() {
	unix.Flock(int(r.totalLock.Fd()), unix.LOCK_EX)
	return func() { unix.Flock(int(r.totalLock.Fd()), unix.LOCK_UN) }
}

func (r *Region) reservationCount() int64 {
	return int64(binary.LittleEndian.Uint64(r.data[offCount:]))
}

func (r *Region) setReservationCount(v int64) {
	binary.LittleEndian.PutUint64(r.data[offCount:], uint64(v))
}

// UnusedPeaksMB returns the cached aggregate of (old_peak - current) the
// monitor last published. Unsynchronized by design: a momentarily stale
// read is acceptable (spec §4.2 consistency note).
func (r *Region) UnusedPeaksMB() int64 {
	return int64(binary.LittleEndian.Uint64(r.data[offUnusedPeaks:]))
}

// SetUnusedPeaksMB publishes a fresh aggregate. Only the monitor thread
// calls this.
func (r *Region) SetUnusedPeaksMB(v int64) {
	if v < 0 {
		v = 0
	}
	binary.LittleEndian.PutUint64(r.data[offUnusedPeaks:], uint64(v))
}

// TotalReservedMB returns the authoritative reservation sum. Like
// UnusedPeaksMB, reads are unsynchronized.
func (r *Region) TotalReservedMB() int64 {
	return int64(binary.LittleEndian.Uint64(r.data[offTotalReserved:]))
}

func (r *Region) totalReservedLocked() int64 {
	return int64(binary.LittleEndian.Uint64(r.data[offTotalReserved:]))
}

func (r *Region) setTotalReservedLocked(v int64) {
	if v < 0 {
		v = 0
	}
	binary.LittleEndian.PutUint64(r.data[offTotalReserved:], uint64(v))
}

// SetTotalReservedDelta adjusts total_reserved_mb by (newVal - oldVal)
// under the total mutex, saturating at zero on underflow.
func (r *Region) SetTotalReservedDelta(oldVal, newVal int64) {
	unlock := r.lockTotal()
	defer unlock()
	cur := r.totalReservedLocked()
	cur += newVal - oldVal
	r.setTotalReservedLocked(cur)
}

func (r *Region) slotOffset(i int) int {
	return offReservations + i*reservationSize
}

func (r *Region) slotPID(i int) int64 {
	off := r.slotOffset(i)
	return int64(binary.LittleEndian.Uint64(r.data[off:]))
}

func (r *Region) setSlotPID(i int, pid int64) {
	off := r.slotOffset(i)
	binary.LittleEndian.PutUint64(r.data[off:], uint64(pid))
}

func (r *Region) slotReservedMB(i int) int64 {
	off := r.slotOffset(i) + 8
	return int64(binary.LittleEndian.Uint64(r.data[off:]))
}

func (r *Region) setSlotReservedMB(i int, mb int64) {
	off := r.slotOffset(i) + 8
	binary.LittleEndian.PutUint64(r.data[off:], uint64(mb))
}

// ErrTableFull is returned by FindOrCreateSlot when no slot is free.
var ErrTableFull = fmt.Errorf("sharedmem: reservation table full")

// FindSlot scans for pid's existing slot without claiming a free one.
// Returns -1 if pid has no active reservation.
func (r *Region) FindSlot(pid int64) int {
	unlock := r.lockCount()
	defer unlock()

	count := r.reservationCount()
	for i := int64(0); i < count; i++ {
		if r.slotPID(int(i)) == pid {
			return int(i)
		}
	}
	return -1
}

// FindOrCreateSlot scans for pid's existing slot, or claims the first
// free slot (pid==0) and extends reservation_count if needed.
func (r *Region) FindOrCreateSlot(pid int64) (int, error) {
	unlock := r.lockCount()
	defer unlock()

	count := r.reservationCount()
	for i := int64(0); i < count; i++ {
		if r.slotPID(int(i)) == pid {
			return int(i), nil
		}
	}
	for i := 0; i < MaxReservations; i++ {
		if r.slotPID(i) == 0 {
			r.setSlotPID(i, pid)
			if int64(i) >= count {
				r.setReservationCount(int64(i) + 1)
			}
			return i, nil
		}
	}
	return -1, ErrTableFull
}

// FreeSlot clears the slot owned by pid, if any. count is left
// unchanged; holes are tolerated and may be reused later.
func (r *Region) FreeSlot(pid int64) {
	unlock := r.lockCount()
	defer unlock()

	count := r.reservationCount()
	for i := int64(0); i < count; i++ {
		if r.slotPID(int(i)) == pid {
			r.setSlotPID(int(i), 0)
			r.setSlotReservedMB(int(i), 0)
			return
		}
	}
}

// SlotReservedMB returns the reserved amount for an already-found slot
// index, or 0 if out of range.
func (r *Region) SlotReservedMB(idx int) int64 {
	if idx < 0 || idx >= MaxReservations {
		return 0
	}
	unlock := r.lockCount()
	defer unlock()
	return r.slotReservedMB(idx)
}

// SetSlotReservedMB sets the reserved amount for an already-found slot.
func (r *Region) SetSlotReservedMB(idx int, mb int64) {
	if idx < 0 || idx >= MaxReservations {
		return
	}
	unlock := r.lockCount()
	defer unlock()
	r.setSlotReservedMB(idx, mb)
}

// SumReservedLocked recomputes the sum of all active slots, used by the
// monitor for periodic sanity recomputation (spec §4.5 step 4).
func (r *Region) SumReservedLocked() int64 {
	unlock := r.lockCount()
	defer unlock()
	var sum int64
	count := r.reservationCount()
	for i := int64(0); i < count; i++ {
		sum += r.slotReservedMB(int(i))
	}
	return sum
}

// Detach unmaps the region and closes file handles without removing
// any backing files. Sub-builds call this on exit.
func (r *Region) Detach() error {
	if err := unix.Munmap(r.data); err != nil {
		return fmt.Errorf("sharedmem: munmap: %w", err)
	}
	r.countLock.Close()
	r.totalLock.Close()
	return r.file.Close()
}

// Unlink detaches and removes the backing files. Only the top-level
// driver calls this, at exit.
func (r *Region) Unlink() error {
	if err := r.Detach(); err != nil {
		return err
	}
	os.Remove(r.path)
	os.Remove(filepath.Join(filepath.Dir(r.path), countLockName))
	os.Remove(filepath.Join(filepath.Dir(r.path), totalLockName))
	return nil
}

// IsTopLevel reports whether this attachment was made with
// zeroPayload=true (i.e. owns teardown responsibility).
func (r *Region) IsTopLevel() bool { return r.topLevel }
