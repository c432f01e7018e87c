// Package tui provides the Bubble Tea terminal UI for throttleprobe,
// displaying live per-account probe progress and a styled analysis summary.
package tui

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lukemcguire/throttleprobe/probe"
	"github.com/lukemcguire/throttleprobe/urlutil"
)

// RunFunc executes a probe phase and returns one outcome per runner.
type RunFunc func(ctx context.Context) []probe.Outcome

// runnerState is the live view of one runner.
type runnerState struct {
	attempt     int
	maxRequests int
	target      string
	inFlight    bool
	lastStatus  int
	lastError   string
	successes   int
	rateLimited int
	wait        time.Duration
	stop        probe.StopReason
}

// Model is the Bubble Tea model for one probe phase.
type Model struct {
	ctx        context.Context
	cancel     context.CancelFunc
	title      string
	run        RunFunc
	spinner    spinner.Model
	progressCh <-chan probe.ProbeEvent

	runners  map[string]*runnerState
	order    []string
	quitting bool
	done     bool
	outcomes []probe.Outcome
	width    int
}

// NewModel creates a TUI model that runs run and listens on progressCh.
func NewModel(ctx context.Context, cancel context.CancelFunc, title string, run RunFunc, progressCh <-chan probe.ProbeEvent) Model {
	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	return Model{
		ctx:        ctx,
		cancel:     cancel,
		title:      title,
		run:        run,
		spinner:    spin,
		progressCh: progressCh,
		runners:    make(map[string]*runnerState),
	}
}

// Init starts the spinner, the phase, and the progress listener concurrently.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.startPhase(), waitForProgress(m.progressCh))
}

func (m Model) startPhase() tea.Cmd {
	return func() tea.Msg {
		return PhaseDoneMsg{Outcomes: m.run(m.ctx)}
	}
}

// Update handles messages from the Bubble Tea runtime.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			// Runners stop at their next suspension point and the phase
			// still reports its partial traces.
			m.quitting = true
			if m.cancel != nil {
				m.cancel()
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case ProbeProgressMsg:
		m = m.apply(msg.Event)
		return m, waitForProgress(m.progressCh)

	case progressClosedMsg:
		return m, nil

	case PhaseDoneMsg:
		m.done = true
		m.outcomes = msg.Outcomes
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// apply folds one event into the runner table. The map is copied so earlier
// model values stay unchanged.
func (m Model) apply(evt probe.ProbeEvent) Model {
	key := evt.Phase + "/" + evt.Account
	runners := make(map[string]*runnerState, len(m.runners)+1)
	for k, v := range m.runners {
		c := *v
		runners[k] = &c
	}
	st, ok := runners[key]
	if !ok {
		st = &runnerState{}
		runners[key] = st
		m.order = append(slices.Clone(m.order), key)
	}

	st.maxRequests = evt.MaxRequests
	st.attempt = evt.Attempt
	switch {
	case evt.Stop != "":
		st.stop = evt.Stop
		st.inFlight = false
	case evt.Result == nil:
		st.target = evt.Target
		st.inFlight = true
	default:
		st.inFlight = false
		st.lastStatus = evt.Result.ResponseCode
		st.lastError = string(evt.Result.ErrorType)
		st.wait = evt.Wait
		if evt.Result.Success {
			st.successes++
		}
		if evt.Result.RateLimited {
			st.rateLimited++
		}
	}
	m.runners = runners
	return m
}

// View renders the current TUI state.
func (m Model) View() string {
	if m.done {
		return ""
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s %s\n", m.spinner.View(), titleStyle.Render(m.title)))
	if m.quitting {
		b.WriteString(dimStyle.Render("  stopping after the current attempt...") + "\n")
	}
	for _, key := range m.order {
		st := m.runners[key]
		b.WriteString(fmt.Sprintf("  %-24s %d/%d  ok %d  limited %d  %s\n",
			key, st.attempt, st.maxRequests, st.successes, st.rateLimited, st.describe()))
	}
	if m.width > 0 {
		return lipgloss.NewStyle().MaxWidth(m.width).Render(b.String())
	}
	return b.String()
}

func (st *runnerState) describe() string {
	switch {
	case st.stop != "":
		if st.stop == probe.StopExhausted {
			return successStyle.Render("done")
		}
		return errorStyle.Render("stopped: " + string(st.stop))
	case st.inFlight:
		return dimStyle.Render(urlutil.ShortPath(st.target))
	case st.lastError != "":
		return statusErrorStyle.Render(st.lastError) + dimStyle.Render(fmt.Sprintf(" (waiting %s)", st.wait.Round(time.Second)))
	default:
		return dimStyle.Render(fmt.Sprintf("%d, waiting %s", st.lastStatus, st.wait.Round(time.Second)))
	}
}

// Outcomes returns the finished phase's outcomes.
func (m Model) Outcomes() []probe.Outcome {
	return m.outcomes
}

// Quitting reports whether the user asked to stop early.
func (m Model) Quitting() bool {
	return m.quitting
}
