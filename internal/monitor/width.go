package monitor

import (
	"os"

	"github.com/charmbracelet/x/term"
)

// cachedWidth obtains the terminal width once, at startup, per the
// fixed-at-construction-time contract: re-querying mid-build would
// race with the very I/O-mode tricks the renderer performs. Returns 0
// (display disabled) if the width can't be determined.
func cachedWidth(f *os.File) int {
	w, _, err := term.GetSize(int(f.Fd()))
	if err != nil || w <= 0 {
		return 0
	}
	return w
}

func bothStreamsAreTTY(stderr, stdout *os.File) bool {
	return term.IsTerminal(int(stderr.Fd())) && term.IsTerminal(int(stdout.Fd()))
}
