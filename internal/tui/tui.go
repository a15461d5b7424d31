package tui

import tea "github.com/charmbracelet/bubbletea"

// Run starts the full-screen dashboard against the debug API at
// baseURL, blocking until the user quits.
func Run(baseURL, token string) error {
	m := New(baseURL, token)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
