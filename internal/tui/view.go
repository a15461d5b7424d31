package tui

import (
	"fmt"
	"strings"
)

// View renders the header summary followed by the full profiles table
// and the full descendants table, and a key-help footer.
func (m *Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("make-mem dashboard"))
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("poll error: %v", m.err)))
		b.WriteString("\n\n")
	} else {
		b.WriteString(fmt.Sprintf(
			"profiles: %d   descendants: %d   imminent: %d MB   updated: %s\n\n",
			m.status.ProfileCount, m.status.DescendantRows, m.status.ImminentMB,
			m.lastPoll.Local().Format("15:04:05"),
		))
	}

	b.WriteString(titleStyle.Render("Profiles"))
	b.WriteString("\n")
	b.WriteString(m.profileTable.View())
	b.WriteString("\n\n")

	b.WriteString(titleStyle.Render("Descendants"))
	b.WriteString("\n")
	b.WriteString(m.descendantTable.View())
	b.WriteString("\n\n")

	b.WriteString(dimStyle.Render("tab: switch table   r: refresh now   q: quit"))
	if len(m.profiles) == 0 && len(m.descendants) == 0 && m.err == nil {
		b.WriteString("\n")
		b.WriteString(warnStyle.Render("waiting for first poll..."))
	}

	return b.String()
}
