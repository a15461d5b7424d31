package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rebroad/make-mem/internal/tui"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch the live dashboard, polling the debug API",
	RunE:  runTUI,
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.APIEnabled {
		return fmt.Errorf("tui: debug API is disabled (set api_enabled: true in make-mem.yaml or MAKE_MEM_API_ENABLED=1)")
	}
	return tui.Run("http://"+cfg.APIAddr, cfg.APIToken)
}
