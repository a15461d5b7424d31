// Package maintenance schedules periodic upkeep of the profile cache:
// pruning entries that have not been used in a long time, so a
// long-lived repository's cache doesn't grow unboundedly with
// renamed-and-abandoned source files.
package maintenance

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rebroad/make-mem/internal/profile"
)

// Recorder receives GC outcome callbacks for metrics.
type Recorder interface {
	RunSucceeded(removed int)
	RunFailed()
}

type nopRecorder struct{}

func (nopRecorder) RunSucceeded(int) {}
func (nopRecorder) RunFailed()       {}

// NopRecorder is used when no metrics backend is configured.
var NopRecorder Recorder = nopRecorder{}

// GC prunes profiles whose LastUsed exceeds maxAge.
type GC struct {
	store  *profile.Store
	maxAge time.Duration
	logger *slog.Logger
	rec    Recorder
}

// NewGC builds a GC bound to store, pruning anything not used within
// maxAge.
func NewGC(store *profile.Store, maxAge time.Duration, logger *slog.Logger, rec Recorder) *GC {
	if logger == nil {
		logger = slog.Default()
	}
	if rec == nil {
		rec = NopRecorder
	}
	return &GC{store: store, maxAge: maxAge, logger: logger.With("component", "profile_gc"), rec: rec}
}

// Run performs one pruning pass and saves the store if anything
// changed. Returns the number of profiles removed.
func (g *GC) Run() int {
	cutoff := time.Now().Add(-g.maxAge)
	removed := g.store.PruneOlderThan(cutoff)
	if removed > 0 {
		if err := g.store.Save(); err != nil {
			g.logger.Error("profile GC save failed", "error", err)
			g.rec.RunFailed()
			return removed
		}
	}
	g.logger.Info("profile GC pass complete", "removed", removed)
	g.rec.RunSucceeded(removed)
	return removed
}

// Scheduler drives GC.Run on a cron expression in its own goroutine.
type Scheduler struct {
	cr *cron.Cron
	gc *GC
}

// NewScheduler parses expr (standard 5-field cron) and wires it to run
// gc.Run. Returns an error if expr doesn't parse.
func NewScheduler(expr string, gc *GC) (*Scheduler, error) {
	cr := cron.New()
	if _, err := cr.AddFunc(expr, func() { gc.Run() }); err != nil {
		return nil, err
	}
	return &Scheduler{cr: cr, gc: gc}, nil
}

// Start begins the cron scheduler in the background.
func (s *Scheduler) Start() { s.cr.Start() }

// Stop halts the scheduler, waiting for any in-flight run to finish.
func (s *Scheduler) Stop() {
	ctx := s.cr.Stop()
	<-ctx.Done()
}
