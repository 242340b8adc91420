// Package tui provides the interactive Bubble Tea dashboard for a running
// devcost daemon.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/theirongolddev/devcost/internal/backfill"
	"github.com/theirongolddev/devcost/internal/cli"
	"github.com/theirongolddev/devcost/internal/daemon"
	"github.com/theirongolddev/devcost/internal/tui/components"
	"github.com/theirongolddev/devcost/internal/tui/theme"
)

const (
	minTerminalWidth = 60
	maxContentWidth  = 140
	historyLen       = 40
)

// StatusSource is the daemon API the dashboard reads.
type StatusSource interface {
	Status(ctx context.Context) (daemon.Status, error)
	Backfill(ctx context.Context, req backfill.Request) ([]backfill.Result, error)
}

// StatusMsg carries the result of a status fetch.
type StatusMsg struct {
	Status daemon.Status
	Err    error
	At     time.Time
}

// BackfillMsg carries the result of a backfill request.
type BackfillMsg struct {
	Results []backfill.Result
	Err     error
}

type tickMsg struct{}

// App is the root Bubble Tea model.
type App struct {
	source   StatusSource
	interval time.Duration

	status    daemon.Status
	loaded    bool
	fetching  bool
	lastFetch time.Time
	err       error

	// Total cost per sensor over successive fetches.
	history map[string][]float64

	backfilling  bool
	backfillNote string

	spinner spinner.Model
	width   int
	height  int
}

// NewApp creates a dashboard polling source every interval.
func NewApp(source StatusSource, interval time.Duration) App {
	if interval < time.Second {
		interval = 5 * time.Second
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(theme.Active.Accent)

	return App{
		source:   source,
		interval: interval,
		history:  make(map[string][]float64),
		spinner:  sp,
	}
}

// Init implements tea.Model.
func (a App) Init() tea.Cmd {
	return tea.Batch(a.spinner.Tick, fetchStatusCmd(a.source), tickCmd(a.interval))
}

// Update implements tea.Model.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		return a, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return a, tea.Quit
		case "r":
			if a.fetching {
				return a, nil
			}
			a.fetching = true
			return a, fetchStatusCmd(a.source)
		case "b":
			if a.backfilling {
				return a, nil
			}
			a.backfilling = true
			a.backfillNote = ""
			return a, tea.Batch(a.spinner.Tick, backfillCmd(a.source))
		}
		return a, nil

	case spinner.TickMsg:
		if !a.loaded || a.backfilling {
			var cmd tea.Cmd
			a.spinner, cmd = a.spinner.Update(msg)
			return a, cmd
		}
		return a, nil

	case tickMsg:
		cmds := []tea.Cmd{tickCmd(a.interval)}
		if !a.fetching {
			a.fetching = true
			cmds = append(cmds, fetchStatusCmd(a.source))
		}
		return a, tea.Batch(cmds...)

	case StatusMsg:
		a.fetching = false
		a.err = msg.Err
		if msg.Err != nil {
			return a, nil
		}
		a.status = msg.Status
		a.loaded = true
		a.lastFetch = msg.At
		a.record(msg.Status)
		return a, nil

	case BackfillMsg:
		a.backfilling = false
		a.backfillNote = summarizeBackfill(msg.Results, msg.Err)
		return a, nil
	}

	return a, nil
}

func (a *App) record(st daemon.Status) {
	for _, s := range st.Sensors {
		h := append(a.history[s.EntityID], s.TotalCost)
		if len(h) > historyLen {
			h = h[len(h)-historyLen:]
		}
		a.history[s.EntityID] = h
	}
}

func summarizeBackfill(results []backfill.Result, err error) string {
	if err != nil {
		return "backfill failed: " + err.Error()
	}
	inserted, points := 0, 0
	for _, r := range results {
		if r.Inserted {
			inserted++
			points += r.Points
		}
	}
	return fmt.Sprintf("backfill: %d/%d devices, %s points", inserted, len(results), cli.FormatNumber(int64(points)))
}

// View implements tea.Model.
func (a App) View() string {
	if a.width == 0 {
		return ""
	}
	if a.width < minTerminalWidth {
		return fmt.Sprintf("\n  Terminal too narrow (%d cols)\n\n  devcost needs at least %d columns.\n", a.width, minTerminalWidth)
	}
	if !a.loaded {
		return a.viewLoading()
	}
	return a.viewMain()
}

func (a App) contentWidth() int {
	if a.width > maxContentWidth {
		return maxContentWidth
	}
	return a.width
}

func (a App) viewLoading() string {
	t := theme.Active

	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Foreground(t.AccentBright).Bold(true).Render("◈ devcost"))
	b.WriteString(lipgloss.NewStyle().Foreground(t.TextMuted).Render(" · Device Energy Cost"))
	b.WriteString("\n\n")
	b.WriteString(a.spinner.View())
	if a.err != nil {
		b.WriteString(lipgloss.NewStyle().Foreground(t.Orange).Render(" Waiting for daemon: " + a.err.Error()))
	} else {
		b.WriteString(lipgloss.NewStyle().Foreground(t.TextMuted).Render(" Connecting to daemon..."))
	}

	card := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.BorderAccent).
		Padding(1, 3).
		Render(b.String())

	if a.height == 0 {
		return card
	}
	return lipgloss.Place(a.width, a.height, lipgloss.Center, lipgloss.Center, card)
}

func (a App) viewMain() string {
	t := theme.Active
	w := a.contentWidth()
	st := a.status

	var total float64
	for _, s := range st.Sensors {
		total += s.TotalCost
	}

	var b strings.Builder
	b.WriteString(components.MetricRow([]components.Metric{
		{Label: "Total cost", Value: cli.FormatCost(total, st.Currency)},
		{Label: "Sensors", Value: cli.FormatNumber(int64(len(st.Sensors))), Hint: st.PriceEntity},
		{Label: "Polls", Value: cli.FormatNumber(st.PollCount), Hint: "every " + cli.FormatDuration(time.Duration(st.PollIntervalSec)*time.Second)},
		{Label: "Last poll", Value: cli.FormatAge(st.LastPollAt, time.Now())},
	}, w))
	b.WriteString("\n")

	rows := make([][]string, 0, len(st.Sensors))
	for _, s := range st.Sensors {
		last := "-"
		if s.LastEnergy != nil {
			last = cli.FormatEnergy(*s.LastEnergy)
		}
		rows = append(rows, []string{
			s.Name,
			cli.FormatCost(s.TotalCost, s.Unit),
			last,
			s.LastOutcome,
			cli.RenderSparkline(a.history[s.EntityID]),
		})
	}
	table := cli.RenderTable(cli.Table{
		Headers: []string{"Device", "Cost", "Energy", "Last", "Trend"},
		Rows:    rows,
	})
	b.WriteString(components.ContentCard("Devices", strings.TrimRight(table, "\n"), w))
	b.WriteString("\n")

	if st.LastError != "" {
		b.WriteString(lipgloss.NewStyle().Foreground(t.Red).Render("  Last error: " + st.LastError))
		b.WriteString("\n")
	}
	if a.err != nil {
		b.WriteString(lipgloss.NewStyle().Foreground(t.Orange).Render("  Refresh failed: " + a.err.Error()))
		b.WriteString("\n")
	}
	if a.backfilling {
		b.WriteString("  " + a.spinner.View() + " running backfill...\n")
	} else if a.backfillNote != "" {
		b.WriteString(lipgloss.NewStyle().Foreground(t.Green).Render("  " + a.backfillNote))
		b.WriteString("\n")
	}

	b.WriteString(components.RenderStatusBar(w, "updated "+cli.FormatAge(a.lastFetch, time.Now())))
	return b.String()
}

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

func fetchStatusCmd(src StatusSource) tea.Cmd {
	return func() tea.Msg {
		st, err := src.Status(context.Background())
		return StatusMsg{Status: st, Err: err, At: time.Now()}
	}
}

func backfillCmd(src StatusSource) tea.Cmd {
	return func() tea.Msg {
		results, err := src.Backfill(context.Background(), backfill.Request{})
		return BackfillMsg{Results: results, Err: err}
	}
}
