// Package sysmem reports the memory budget the monitor should treat as
// "the system", preferring a container's cgroup limit over raw host
// totals when the driver is running confined.
package sysmem

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/mem"
)

// Snapshot is a single read of the available memory budget.
type Snapshot struct {
	TotalMB       int64
	AvailableMB   int64
	UsedMB        int64
	CgroupVersion int // 0 = host, 1 or 2 = cgroup
}

// Confined reports whether the snapshot reflects a cgroup limit rather
// than raw host memory.
func (s Snapshot) Confined() bool { return s.CgroupVersion != 0 }

const (
	cgroupV2Max     = "/sys/fs/cgroup/memory.max"
	cgroupV2Current = "/sys/fs/cgroup/memory.current"
	cgroupV1Limit   = "/sys/fs/cgroup/memory/memory.limit_in_bytes"
	cgroupV1Usage   = "/sys/fs/cgroup/memory/memory.usage_in_bytes"
	cgroupV2Probe   = "/sys/fs/cgroup/cgroup.controllers"

	// unrealisticLimit marks cgroup v1's "unlimited" sentinel, which is
	// set to a value approaching the architecture's address space rather
	// than an actual number.
	unrealisticLimit = int64(1) << 50
)

// Read returns the current memory budget: a cgroup limit if one is
// active and realistic, otherwise the host total reported by gopsutil.
func Read(ctx context.Context) (Snapshot, error) {
	if cgroupV2Available() {
		if snap, ok := readCgroupV2(); ok {
			return snap, nil
		}
	}
	if cgroupV1Available() {
		if snap, ok := readCgroupV1(); ok {
			return snap, nil
		}
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("sysmem: host memory read failed: %w", err)
	}
	return Snapshot{
		TotalMB:     int64(vm.Total / (1024 * 1024)),
		AvailableMB: int64(vm.Available / (1024 * 1024)),
		UsedMB:      int64(vm.Used / (1024 * 1024)),
	}, nil
}

func cgroupV2Available() bool {
	_, err := os.Stat(cgroupV2Probe)
	return err == nil
}

func cgroupV1Available() bool {
	_, err := os.Stat(cgroupV1Limit)
	return err == nil
}

func readCgroupV2() (Snapshot, bool) {
	raw, err := os.ReadFile(cgroupV2Max)
	if err != nil {
		return Snapshot{}, false
	}
	limStr := strings.TrimSpace(string(raw))
	if limStr == "max" {
		return Snapshot{}, false
	}
	limit, err := strconv.ParseInt(limStr, 10, 64)
	if err != nil || limit <= 0 {
		return Snapshot{}, false
	}

	var used int64
	if cur, err := os.ReadFile(cgroupV2Current); err == nil {
		used, _ = strconv.ParseInt(strings.TrimSpace(string(cur)), 10, 64)
	}

	totalMB := limit / (1024 * 1024)
	usedMB := used / (1024 * 1024)
	return Snapshot{
		TotalMB:       totalMB,
		UsedMB:        usedMB,
		AvailableMB:   max64(0, totalMB-usedMB),
		CgroupVersion: 2,
	}, true
}

func readCgroupV1() (Snapshot, bool) {
	raw, err := os.ReadFile(cgroupV1Limit)
	if err != nil {
		return Snapshot{}, false
	}
	limit, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil || limit <= 0 || limit >= unrealisticLimit {
		return Snapshot{}, false
	}

	var used int64
	if cur, err := os.ReadFile(cgroupV1Usage); err == nil {
		used, _ = strconv.ParseInt(strings.TrimSpace(string(cur)), 10, 64)
	}

	totalMB := limit / (1024 * 1024)
	usedMB := used / (1024 * 1024)
	return Snapshot{
		TotalMB:       totalMB,
		UsedMB:        usedMB,
		AvailableMB:   max64(0, totalMB-usedMB),
		CgroupVersion: 1,
	}, true
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
