package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rebroad/make-mem/internal/descendant"
	"github.com/rebroad/make-mem/internal/profile"
	"github.com/rebroad/make-mem/internal/reservation"
	"github.com/rebroad/make-mem/internal/sharedmem"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print a point-in-time snapshot of the profile cache and shared region",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, _ := newLogger(cfg.MemDebug)

	store := profile.New(cfg.CacheDir, logger)
	if err := store.Load(); err != nil {
		return fmt.Errorf("status: load profile cache: %w", err)
	}

	region, err := sharedmem.AttachOrCreate(cfg.SharedDir, false)
	if err != nil {
		return fmt.Errorf("status: attach shared region: %w", err)
	}
	defer region.Detach()

	reserver := reservation.New(region, store, logger, reservation.NopRecorder)
	tracker := descendant.New(store, reserver, logger)

	out := struct {
		ProfileCount    int              `json:"profile_count"`
		TotalReservedMB int64            `json:"total_reserved_mb"`
		UnusedPeaksMB   int64            `json:"unused_peaks_mb"`
		ImminentMB      int64            `json:"imminent_mb"`
		DescendantRows  []descendant.Row `json:"descendant_rows"`
	}{
		ProfileCount:    store.Len(),
		TotalReservedMB: region.TotalReservedMB(),
		UnusedPeaksMB:   region.UnusedPeaksMB(),
		ImminentMB:      reserver.ImminentMB(),
		DescendantRows:  tracker.Rows(),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
