// Package driver implements the `make-mem run -- <cmd>` integration
// harness: a minimal recipe launcher that reserves a command's
// predicted memory under the child's pid once it has started, and
// releases it when the command exits if the descendant tracker has not
// already released it on its first scan of the process.
package driver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/rebroad/make-mem/internal/cmdline"
	"github.com/rebroad/make-mem/internal/reservation"
)

// Runner launches one recipe command, reserving its predicted memory
// cost under the child's pid right after the child starts and clearing
// the reservation once the process exits.
type Runner struct {
	reserver *reservation.Controller
	logger   *slog.Logger
}

// New builds a Runner over an already-constructed ReservationController.
func New(reserver *reservation.Controller, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{reserver: reserver, logger: logger.With("component", "driver")}
}

// Result describes how the launched command finished.
type Result struct {
	ExitCode int
	Duration time.Duration
}

// Run execs name/args as a child in its own process group (so signals
// delivered to the driver don't propagate to the recipe), reserving
// the predicted cost from the profile store right after the child
// starts and releasing it unconditionally once the process exits — the
// descendant tracker's first-sighting release (spec §4.4 step 3) is
// the normal path; this is the backstop for jobs the monitor never
// gets a chance to observe (very short-lived commands).
func (r *Runner) Run(ctx context.Context, name string, args []string, stdout, stderr io.Writer) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = os.Environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	key, _ := cmdline.ExtractFromArgv(append([]string{name}, args...))
	predicted := r.reserver.PredictFor(key)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("driver: start %s: %w", name, err)
	}

	pid := int64(cmd.Process.Pid)
	if predicted > 0 {
		r.reserver.Reserve(pid, predicted, key)
		r.logger.Debug("reserved predicted memory", "pid", pid, "mb", predicted, "key", key)
	}

	err := cmd.Wait()
	r.reserver.Release(pid, key)

	duration := time.Since(start)
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return Result{Duration: duration}, fmt.Errorf("driver: wait %s: %w", name, err)
		}
	}

	return Result{ExitCode: exitCode, Duration: duration}, nil
}
