// Package tui renders the watch-mode dashboard. It follows The Elm
// Architecture that bubbletea implements: run events arrive as messages,
// Update folds them into the model and View renders the model.
package tui

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/assetflow/internal/logbook"
	"github.com/kingrea/assetflow/internal/orchestrator"
	"github.com/kingrea/assetflow/internal/task"
	"github.com/kingrea/assetflow/internal/watcher"
)

const logTailLines = 8

// AppOption customizes App construction for tests and alternate runtimes.
type AppOption func(*App)

// WithLogbook shows the tail of the run log under the task board.
func WithLogbook(lb *logbook.Logbook) AppOption {
	return func(a *App) {
		a.logbook = lb
	}
}

// WithSessions reports how many browsers are connected.
func WithSessions(fn func() int) AppOption {
	return func(a *App) {
		if fn != nil {
			a.sessions = fn
		}
	}
}

// WithQuit is called when the user quits, before the program exits.
func WithQuit(fn func()) AppOption {
	return func(a *App) {
		if fn != nil {
			a.onQuit = fn
		}
	}
}

// WithAddress shows where the development server listens.
func WithAddress(addr string) AppOption {
	return func(a *App) {
		a.address = strings.TrimSpace(addr)
	}
}

// App is the dashboard model.
type App struct {
	feed     *Feed
	logbook  *logbook.Logbook
	sessions func() int
	onQuit   func()
	address  string

	order   []string
	rows    map[string]*taskRow
	state   watcher.State
	running bool
	trigger string
	spinner spinner.Model

	lastReport task.Report
	hasReport  bool
	reloads    int
	lastReload string
	statusMsg  string
	quitting   bool

	width  int
	height int
}

// NewApp builds the dashboard for the given task ids, in display order.
func NewApp(feed *Feed, taskIDs []string, opts ...AppOption) *App {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = labelStyleRunning
	a := &App{
		feed:      feed,
		sessions:  func() int { return 0 },
		onQuit:    func() {},
		rows:      make(map[string]*taskRow, len(taskIDs)),
		state:     watcher.StateIdle,
		spinner:   sp,
		statusMsg: "Waiting for changes…",
	}
	for _, id := range taskIDs {
		a.ensureRow(id)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

func (a *App) ensureRow(id string) *taskRow {
	if row, ok := a.rows[id]; ok {
		return row
	}
	row := &taskRow{id: id, status: rowIdle}
	a.rows[id] = row
	a.order = append(a.order, id)
	return row
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	return a.feed.wait()
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		return a, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			a.quitting = true
			a.statusMsg = "Stopping…"
			a.onQuit()
			return a, tea.Quit
		case "c":
			a.clearFinished()
			return a, nil
		}
		return a, nil

	case runEventMsg:
		cmd := a.applyEvent(msg.event)
		return a, tea.Batch(cmd, a.feed.wait())

	case routerStateMsg:
		a.state = msg.state
		return a, a.feed.wait()

	case reloadMsg:
		a.reloads++
		a.lastReload = msg.reason
		return a, a.feed.wait()

	case feedClosedMsg:
		return a, nil

	case spinner.TickMsg:
		if !a.running {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd
	}
	return a, nil
}

func (a *App) applyEvent(ev orchestrator.Event) tea.Cmd {
	switch ev.Kind {
	case orchestrator.EventRunStarted:
		for _, id := range ev.Tasks {
			a.ensureRow(id).queue()
		}
		a.trigger = ev.Trigger.String()
		a.statusMsg = fmt.Sprintf("Running %d task(s) for %s", len(ev.Tasks), a.trigger)
		if !a.running {
			a.running = true
			return a.spinner.Tick
		}
	case orchestrator.EventTaskStarted:
		a.ensureRow(ev.TaskID).start(ev.At)
	case orchestrator.EventTaskFinished:
		a.ensureRow(ev.Result.TaskID).finish(ev.Result)
	case orchestrator.EventRunFinished:
		a.running = false
		a.lastReport = ev.Report
		a.hasReport = true
		a.statusMsg = summarize(ev.Report)
	}
	return nil
}

func (a *App) clearFinished() {
	for _, row := range a.rows {
		if row.status != rowRunning && row.status != rowQueued {
			row.status = rowIdle
			row.err = ""
		}
	}
	a.statusMsg = "Cleared."
}

// View renders the current state to a string.
func (a *App) View() string {
	if a.quitting {
		return ""
	}
	width := a.width
	if width <= 0 {
		width = 100
	}
	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FF6B6B")).
		MarginBottom(1).
		Render("⬡ ASSETFLOW")
	board := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Width(max(40, width-4)).
		Render(lipgloss.JoinVertical(lipgloss.Left,
			a.renderStatusPanel(),
			"",
			a.renderTasks(),
		))
	sections := []string{header, board}
	if logPanel := a.renderLogPanel(); logPanel != "" {
		sections = append(sections, logPanel)
	}
	footer := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888")).
		MarginTop(1).
		Render(a.statusMsg + "\nq=quit  c=clear")
	sections = append(sections, footer)
	return strings.Join(sections, "\n")
}

func (a *App) renderStatusPanel() string {
	stateLine := fmt.Sprintf("Watcher: %s", labelStyleForState(string(a.state)).Render(friendlyLabel(string(a.state))))
	if a.address != "" {
		stateLine += fmt.Sprintf(" · %s", a.address)
	}
	stateLine += fmt.Sprintf(" · %d browser(s)", a.sessions())
	lines := []string{stateLine}
	if a.running {
		lines = append(lines, fmt.Sprintf("%s %s", a.spinner.View(), a.trigger))
	} else if a.hasReport {
		lines = append(lines, detailTextStyle.Render(fmt.Sprintf("Last run: %s", a.lastReport.Trigger)))
	}
	if a.reloads > 0 {
		lines = append(lines, detailTextStyle.Render(fmt.Sprintf("Reloads: %d · last: %s", a.reloads, a.lastReload)))
	}
	return strings.Join(lines, "\n")
}

func (a *App) renderLogPanel() string {
	if a.logbook == nil {
		return ""
	}
	lines, _ := a.logbook.Tail(logTailLines)
	if len(lines) == 0 {
		return ""
	}
	fileName := filepath.Base(a.logbook.Path())
	if fileName == "." || fileName == "" {
		fileName = "log"
	}
	head := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render(fmt.Sprintf("LOG · %s", fileName))
	body := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA")).
		Render(strings.Join(lines, "\n"))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Render(fmt.Sprintf("%s\n%s", head, body))
}

func summarize(report task.Report) string {
	line := fmt.Sprintf("%d ok, %d failed, %d skipped in %s",
		report.Count(task.OutcomeSuccess),
		report.Count(task.OutcomeFailure),
		report.Count(task.OutcomeSkipped),
		report.Duration.Round(time.Millisecond),
	)
	if report.Reloaded {
		line += " · reloaded"
	}
	return line
}

// Run drives the dashboard on the terminal until the user quits or ctx ends.
func Run(ctx context.Context, app *App, opts ...tea.ProgramOption) error {
	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)
	p := tea.NewProgram(app, opts...)
	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}
