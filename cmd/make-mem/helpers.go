package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/rebroad/make-mem/internal/config"
	"github.com/rebroad/make-mem/internal/memdebug"
)

func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// newLogger builds the JSON slog.Logger every subcommand shares, and
// the Leveler that SIGUSR1 toggles and that feeds the debug ring.
func newLogger(memDebug int) (*slog.Logger, *memdebug.Leveler) {
	base := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	leveler := memdebug.New(base)
	leveler.SetLevel(memdebug.ParseLevel(memDebug))
	return base, leveler
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintln(os.Stderr, "make-mem: "+fmt.Sprintf(format, args...))
	os.Exit(1)
}
