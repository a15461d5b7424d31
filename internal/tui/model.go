package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
)

// pollInterval is how often the dashboard refreshes from the debug API.
const pollInterval = 2 * time.Second

// Model is the dashboard's bubbletea state: two tables (profiles,
// descendants) plus the latest status summary, refreshed on a timer by
// polling the client.
type Model struct {
	client *Client

	width  int
	height int

	status      StatusSummary
	profiles    []ProfileRow
	descendants []DescendantRow

	profileTable    table.Model
	descendantTable table.Model

	focusDescendants bool
	err              error
	lastPoll         time.Time
}

// New builds a Model polling the debug API at baseURL.
func New(baseURL, token string) *Model {
	m := &Model{
		client: NewClient(baseURL, token),
		width:  100,
		height: 30,
	}
	m.setupProfileTable()
	m.setupDescendantTable()
	return m
}

func (m *Model) setupProfileTable() {
	cols := []table.Column{
		{Title: "FILE", Width: 48},
		{Title: "PEAK MB", Width: 10},
		{Title: "LAST USED", Width: 20},
	}
	t := table.New(
		table.WithColumns(cols),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.BorderStyle(nil).Bold(true)
	s.Selected = s.Selected.Foreground(primaryColor).Bold(false)
	t.SetStyles(s)
	m.profileTable = t
}

func (m *Model) setupDescendantTable() {
	cols := []table.Column{
		{Title: "PID", Width: 10},
		{Title: "CURRENT MB", Width: 12},
		{Title: "PEAK MB", Width: 10},
		{Title: "OLD PEAK MB", Width: 12},
	}
	t := table.New(
		table.WithColumns(cols),
		table.WithFocused(false),
		table.WithHeight(10),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.BorderStyle(nil).Bold(true)
	s.Selected = s.Selected.Foreground(primaryColor).Bold(false)
	t.SetStyles(s)
	m.descendantTable = t
}

// Init kicks off the first poll.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.pollCmd(), tickCmd())
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

type statusMsg struct {
	summary StatusSummary
	err     error
}

type profilesMsg struct {
	rows []ProfileRow
	err  error
}

type descendantsMsg struct {
	rows []DescendantRow
	err  error
}

func (m *Model) pollCmd() tea.Cmd {
	return tea.Batch(m.statusCmd(), m.profilesCmd(), m.descendantsCmd())
}

func (m *Model) statusCmd() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		summary, err := client.Status(ctx)
		return statusMsg{summary: summary, err: err}
	}
}

func (m *Model) profilesCmd() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rows, err := client.Profiles(ctx)
		return profilesMsg{rows: rows, err: err}
	}
}

func (m *Model) descendantsCmd() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rows, err := client.Descendants(ctx)
		return descendantsMsg{rows: rows, err: err}
	}
}
