package monitor

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	trackedColor  = lipgloss.NewStyle().Background(lipgloss.Color("#00AFFF"))
	otherColor    = lipgloss.NewStyle().Background(lipgloss.Color("#666666"))
	imminentColor = lipgloss.NewStyle().Background(lipgloss.Color("#FFA500"))
	freeColor     = lipgloss.NewStyle().Background(lipgloss.Color("#1C1C1C"))

	spinnerFrames = []rune{'⠋', '⠙', '⠹', '⠸', '⠼', '⠴', '⠦', '⠧', '⠇', '⠏'}
)

// segments is the bar's four proportional slices, all in MB, summing
// to (approximately) totalMB.
type segments struct {
	TrackedMB  int64
	OtherMB    int64
	ImminentMB int64
	FreeMB     int64
	TotalMB    int64
}

func computeSegments(totalMB, usedMB, trackedMB, imminentMB int64) segments {
	if totalMB <= 0 {
		return segments{}
	}
	trackedMB = clamp(trackedMB, 0, totalMB)
	otherMB := clamp(usedMB-trackedMB, 0, totalMB-trackedMB)
	remaining := totalMB - trackedMB - otherMB
	imminentMB = clamp(imminentMB, 0, remaining)
	freeMB := remaining - imminentMB
	return segments{TrackedMB: trackedMB, OtherMB: otherMB, ImminentMB: imminentMB, FreeMB: freeMB, TotalMB: totalMB}
}

func clamp(v, lo, hi int64) int64 {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// bar renders a width-wide four-segment colored bar proportional to
// seg's totals.
func bar(seg segments, width int) string {
	if width <= 0 || seg.TotalMB <= 0 {
		return ""
	}
	tracked := int(int64(width) * seg.TrackedMB / seg.TotalMB)
	other := int(int64(width) * seg.OtherMB / seg.TotalMB)
	imminent := int(int64(width) * seg.ImminentMB / seg.TotalMB)
	free := width - tracked - other - imminent
	if free < 0 {
		free = 0
	}

	var b strings.Builder
	b.WriteString(trackedColor.Render(strings.Repeat(" ", tracked)))
	b.WriteString(otherColor.Render(strings.Repeat(" ", other)))
	b.WriteString(imminentColor.Render(strings.Repeat(" ", imminent)))
	b.WriteString(freeColor.Render(strings.Repeat(" ", free)))
	return b.String()
}

// spinner returns the glyph for the given frame index (wraps modulo
// len(spinnerFrames)).
func spinner(frame int) rune {
	return spinnerFrames[frame%len(spinnerFrames)]
}

// statusLine renders the full one-line status: spinner, bar, and a
// compact numeric summary. When tty is false, cursor save/restore
// escapes are omitted and the line is newline-terminated instead.
func statusLine(seg segments, jobs int, frame int, barWidth int, tty bool) string {
	summary := fmt.Sprintf(" %c jobs=%d tracked=%dMB other=%dMB imminent=%dMB free=%dMB/%dMB",
		spinner(frame), jobs, seg.TrackedMB, seg.OtherMB, seg.ImminentMB, seg.FreeMB, seg.TotalMB)

	line := bar(seg, barWidth) + summary
	if !tty {
		return line + "\n"
	}
	// Move up one, cursor save, move to column 1, write, restore, move
	// down one —
	// keeps the status pinned to a single line above the build's own
	// scrolling output.
	return "\x1b[A\x1b[s\x1b[1G" + line + "\x1b[u\x1b[B"
}
