package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
)

// Update dispatches polling results, window resizes, and key presses.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.pollCmd(), tickCmd())

	case statusMsg:
		m.lastPoll = time.Now()
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.err = nil
			m.status = msg.summary
		}
		return m, nil

	case profilesMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.profiles = msg.rows
		m.profileTable.SetRows(profileRows(msg.rows))
		return m, nil

	case descendantsMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.descendants = msg.rows
		m.descendantTable.SetRows(descendantRows(msg.rows))
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	case "tab":
		m.focusDescendants = !m.focusDescendants
		if m.focusDescendants {
			m.profileTable.Blur()
			m.descendantTable.Focus()
		} else {
			m.descendantTable.Blur()
			m.profileTable.Focus()
		}
		return m, nil
	case "r":
		return m, m.pollCmd()
	}

	var cmd tea.Cmd
	if m.focusDescendants {
		m.descendantTable, cmd = m.descendantTable.Update(msg)
	} else {
		m.profileTable, cmd = m.profileTable.Update(msg)
	}
	return m, cmd
}

func profileRows(rows []ProfileRow) []table.Row {
	out := make([]table.Row, len(rows))
	for i, p := range rows {
		out[i] = table.Row{
			p.Filename,
			fmt.Sprintf("%d", p.PeakMemoryMB),
			p.LastUsed.Local().Format("2006-01-02 15:04:05"),
		}
	}
	return out
}

func descendantRows(rows []DescendantRow) []table.Row {
	out := make([]table.Row, len(rows))
	for i, d := range rows {
		out[i] = table.Row{
			fmt.Sprintf("%d", d.PID),
			fmt.Sprintf("%d", d.CurrentMB),
			fmt.Sprintf("%d", d.PeakMB),
			fmt.Sprintf("%d", d.OldPeakMB),
		}
	}
	return out
}
