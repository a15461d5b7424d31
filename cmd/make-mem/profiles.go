package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/rebroad/make-mem/internal/profile"
)

var (
	profilesSort           string
	profilesPruneOlderThan string
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Inspect or prune the on-disk profile cache",
	RunE:  runProfiles,
}

func init() {
	profilesCmd.Flags().StringVar(&profilesSort, "sort", "peak", "sort order: peak or recent")
	profilesCmd.Flags().StringVar(&profilesPruneOlderThan, "prune-older-than", "", "prune entries unused for longer than this (e.g. 30d, 720h)")
}

func runProfiles(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, _ := newLogger(cfg.MemDebug)

	store := profile.New(cfg.CacheDir, logger)
	if err := store.Load(); err != nil {
		return fmt.Errorf("profiles: load cache: %w", err)
	}

	if profilesPruneOlderThan != "" {
		cutoffAge, err := parseDuration(profilesPruneOlderThan)
		if err != nil {
			return fmt.Errorf("profiles: --prune-older-than: %w", err)
		}
		removed := store.PruneOlderThan(time.Now().Add(-cutoffAge))
		if err := store.Save(); err != nil {
			return fmt.Errorf("profiles: save after prune: %w", err)
		}
		fmt.Printf("pruned %d profile(s)\n", removed)
		return nil
	}

	rows := store.Snapshot()
	switch profilesSort {
	case "recent":
		sort.Slice(rows, func(i, j int) bool { return rows[i].LastUsed.After(rows[j].LastUsed) })
	case "peak":
		// Snapshot is already sorted by peak descending.
	default:
		return fmt.Errorf("profiles: unknown --sort value %q (want peak or recent)", profilesSort)
	}

	for _, p := range rows {
		fmt.Printf("%-60s %8d MB  %s\n", p.Filename, p.PeakMemoryMB, p.LastUsed.Local().Format(time.RFC3339))
	}
	return nil
}

// parseDuration accepts Go durations plus a "Nd" day suffix, matching
// the CLI surface's "30d" example.
func parseDuration(s string) (time.Duration, error) {
	if len(s) > 1 && s[len(s)-1] == 'd' {
		var days int
		if _, err := fmt.Sscanf(s, "%dd", &days); err != nil {
			return 0, fmt.Errorf("invalid day duration %q", s)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
