// Package signals wires SIGTERM/SIGINT/SIGUSR1 handling for the
// memory-aware build driver: an immediate stop of the monitor
// goroutine, a debug-level toggle, and zombie reaping when the driver
// itself is running as PID 1 inside a container.
package signals

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rebroad/make-mem/internal/memdebug"
)

// WaitFunc mirrors syscall.Wait4's signature, mockable in tests.
type WaitFunc func(pid int, wstatus *syscall.WaitStatus, options int, rusage *syscall.Rusage) (wpid int, err error)

var waitFunc WaitFunc = syscall.Wait4
var waitFuncMu sync.RWMutex

func getWaitFunc() WaitFunc {
	waitFuncMu.RLock()
	defer waitFuncMu.RUnlock()
	return waitFunc
}

func setWaitFunc(f WaitFunc) {
	waitFuncMu.Lock()
	defer waitFuncMu.Unlock()
	waitFunc = f
}

// ReapZombies continuously reaps zombie children on interval (defaults
// to 1s for interval <= 0). Intended for make-mem run when it detects
// IsPID1.
func ReapZombies(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reapAll()
		}
	}
}

func reapAll() {
	waitFn := getWaitFunc()
	for {
		var status syscall.WaitStatus
		pid, err := waitFn(-1, &status, syscall.WNOHANG, nil)
		if err != nil || pid <= 0 {
			break
		}
		slog.Debug("reaped zombie process", "pid", pid, "status", status)
	}
}

// ReapCount reaps one pass of zombies and returns how many were reaped.
func ReapCount() int {
	waitFn := getWaitFunc()
	count := 0
	for {
		var status syscall.WaitStatus
		pid, err := waitFn(-1, &status, syscall.WNOHANG, nil)
		if err != nil || pid <= 0 {
			break
		}
		count++
		slog.Debug("reaped zombie process", "pid", pid, "status", status)
	}
	return count
}

// IsPID1 reports whether this process is PID 1 (typical of a
// container entrypoint), the case where zombie reaping matters.
func IsPID1() bool { return os.Getpid() == 1 }

// Stopper is the subset of Monitor's lifecycle signals needs to drive
// on shutdown.
type Stopper interface {
	StopImmediate()
}

// Notifier owns the os/signal.Notify registration for the driver
// process's lifetime.
type Notifier struct {
	logger  *slog.Logger
	leveler *memdebug.Leveler
	stopper Stopper
	sigCh   chan os.Signal
	done    chan struct{}
}

// New registers signal handling. leveler may be nil to skip the
// SIGUSR1 toggle (e.g. in tests). stopper may be nil to skip the
// shutdown hook.
func New(leveler *memdebug.Leveler, stopper Stopper, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Notifier{
		logger:  logger.With("component", "signals"),
		leveler: leveler,
		stopper: stopper,
		sigCh:   make(chan os.Signal, 4),
		done:    make(chan struct{}),
	}
	signal.Notify(n.sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGUSR1)
	go n.loop()
	return n
}

func (n *Notifier) loop() {
	defer close(n.done)
	for sig := range n.sigCh {
		switch sig {
		case syscall.SIGUSR1:
			if n.leveler != nil {
				n.leveler.ToggleBasic()
				n.logger.Info("debug level toggled", "level", n.leveler.Level())
			}
		case syscall.SIGTERM, syscall.SIGINT:
			n.logger.Info("termination signal received, stopping", "signal", sig)
			if n.stopper != nil {
				n.stopper.StopImmediate()
			}
			return
		}
	}
}

// Stop deregisters signal handling and waits for the loop to exit. Not
// itself a shutdown trigger — call this after the driver's own
// shutdown path has already run, to release the channel.
func (n *Notifier) Stop() {
	signal.Stop(n.sigCh)
	close(n.sigCh)
	<-n.done
}
