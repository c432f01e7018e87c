package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/lukemcguire/throttleprobe/probe"
)

// ProbeProgressMsg carries one runner event.
type ProbeProgressMsg struct {
	Event probe.ProbeEvent
}

// PhaseDoneMsg signals that every runner of the phase has finished.
type PhaseDoneMsg struct {
	Outcomes []probe.Outcome
}

// progressClosedMsg is sent once the progress channel is drained.
type progressClosedMsg struct{}

// waitForProgress returns a tea.Cmd that reads one event from the progress
// channel. The outcomes arrive separately through PhaseDoneMsg.
func waitForProgress(ch <-chan probe.ProbeEvent) tea.Cmd {
	return func() tea.Msg {
		evt, ok := <-ch
		if !ok {
			return progressClosedMsg{}
		}
		return ProbeProgressMsg{Event: evt}
	}
}
