package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"reelflow/internal/orchestrator"
	"reelflow/internal/pipeline"
)

// watchPlain prints new log entries, notices, and state changes as lines.
func watchPlain(ctx context.Context, w io.Writer, sess *orchestrator.Session) error {
	updates, cancel := sess.Subscribe()
	defer cancel()

	printer := newSnapshotPrinter(shouldColorize(w))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			printer.print(w, snap)
			if settled(snap) {
				if msg := nextStep(snap); msg != "" {
					fmt.Fprintln(w, msg)
				}
				return nil
			}
		}
	}
}

type snapshotPrinter struct {
	color    bool
	logTotal uint64
	state    string
	notices  map[string]struct{}
}

func newSnapshotPrinter(color bool) *snapshotPrinter {
	return &snapshotPrinter{color: color, notices: make(map[string]struct{})}
}

func (p *snapshotPrinter) print(w io.Writer, snap orchestrator.Snapshot) {
	if state := snap.State.String(); state != p.state {
		p.state = state
		fmt.Fprintf(w, "%s %s\n", p.paint(ansiBold, "stage:"), p.paint(stateColor(snap.State), state))
	}
	fresh, skipped := newEntries(p.logTotal, snap.Log, snap.LogTotal)
	if skipped > 0 {
		fmt.Fprintf(w, "  %s\n", p.paint(ansiYellow, fmt.Sprintf("(%d earlier entries not shown)", skipped)))
	}
	for _, entry := range fresh {
		fmt.Fprintf(w, "  %s\n", entry)
	}
	if snap.LogTotal > p.logTotal {
		p.logTotal = snap.LogTotal
	}
	for _, notice := range snap.Notices {
		key := notice.At.Format(time.RFC3339Nano) + "|" + notice.Message
		if _, seen := p.notices[key]; seen {
			continue
		}
		p.notices[key] = struct{}{}
		fmt.Fprintf(w, "%s %s\n", p.paint(noticeColor(notice.Level), "["+notice.Level.String()+"]"), notice.Message)
	}
}

func (p *snapshotPrinter) paint(color, text string) string {
	if !p.color || color == "" {
		return text
	}
	return color + text + ansiReset
}

// newEntries returns the entries logged after seen, given a log holding the
// newest entries of total. skipped counts entries that were evicted before
// they could be printed.
func newEntries(seen uint64, log []string, total uint64) (fresh []string, skipped uint64) {
	if total <= seen {
		return nil, 0
	}
	unseen := total - seen
	if unseen > uint64(len(log)) {
		return log, unseen - uint64(len(log))
	}
	return log[len(log)-int(unseen):], 0
}

func stateColor(state pipeline.State) string {
	switch {
	case state.Failure != "":
		return ansiRed
	case state.Stage == pipeline.StageReady:
		return ansiGreen
	case state.PlanningComplete:
		return ansiCyan
	default:
		return ansiYellow
	}
}

func noticeColor(level orchestrator.NoticeLevel) string {
	switch level {
	case orchestrator.NoticeBlocking:
		return ansiRed
	case orchestrator.NoticeWarning:
		return ansiYellow
	default:
		return ansiCyan
	}
}

// watchLive renders the session with a Bubble Tea view until the run settles
// or the operator quits.
func watchLive(ctx context.Context, sess *orchestrator.Session) error {
	updates, cancel := sess.Subscribe()
	defer cancel()

	model := newWatchModel(updates)
	program := tea.NewProgram(model, tea.WithContext(ctx))
	final, err := program.Run()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	if m, ok := final.(watchModel); ok {
		if msg := nextStep(m.snap); msg != "" && settled(m.snap) {
			fmt.Println(msg)
		}
	}
	return nil
}

type snapshotMsg orchestrator.Snapshot

type updatesClosedMsg struct{}

type watchStyles struct {
	title   lipgloss.Style
	stage   lipgloss.Style
	failure lipgloss.Style
	muted   lipgloss.Style
	notice  lipgloss.Style
}

func newWatchStyles() watchStyles {
	return watchStyles{
		title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		stage:   lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		failure: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		notice:  lipgloss.NewStyle().Foreground(lipgloss.Color("13")),
	}
}

type watchModel struct {
	updates <-chan orchestrator.Snapshot
	spinner spinner.Model
	styles  watchStyles
	snap    orchestrator.Snapshot
	loaded  bool
	width   int
}

const liveLogLines = 12

func newWatchModel(updates <-chan orchestrator.Snapshot) watchModel {
	spin := spinner.New()
	spin.Spinner = spinner.Dot
	return watchModel{
		updates: updates,
		spinner: spin,
		styles:  newWatchStyles(),
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForSnapshot(m.updates))
}

func waitForSnapshot(updates <-chan orchestrator.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-updates
		if !ok {
			return updatesClosedMsg{}
		}
		return snapshotMsg(snap)
	}
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case snapshotMsg:
		m.snap = orchestrator.Snapshot(msg)
		m.loaded = true
		if settled(m.snap) {
			return m, tea.Quit
		}
		return m, waitForSnapshot(m.updates)
	case updatesClosedMsg:
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m watchModel) View() string {
	if !m.loaded {
		return m.spinner.View() + " loading run\n"
	}
	var b strings.Builder
	b.WriteString(m.styles.title.Render("reelflow " + m.snap.RunID))
	b.WriteString("\n")

	stage := m.styles.stage.Render(m.snap.State.String())
	if m.snap.State.Failure != "" {
		stage = m.styles.failure.Render("failed: " + m.snap.State.Failure)
	}
	if settled(m.snap) {
		b.WriteString(stage)
	} else {
		b.WriteString(m.spinner.View() + " " + stage)
	}
	b.WriteString("\n\n")

	entries := m.snap.Log
	if len(entries) > liveLogLines {
		entries = entries[len(entries)-liveLogLines:]
	}
	for _, entry := range entries {
		b.WriteString(m.styles.muted.Render("  " + truncate(entry, m.width-2)))
		b.WriteString("\n")
	}
	for _, notice := range m.snap.Notices {
		b.WriteString(m.styles.notice.Render(fmt.Sprintf("[%s] %s", notice.Level, notice.Message)))
		b.WriteString("\n")
	}
	if len(m.snap.Shots) > 0 {
		b.WriteString(m.styles.muted.Render(fmt.Sprintf("\n%d shots", len(m.snap.Shots))))
		b.WriteString("\n")
	}
	b.WriteString(m.styles.muted.Render("q to stop watching"))
	b.WriteString("\n")
	return b.String()
}

func truncate(text string, width int) string {
	if width <= 3 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= width {
		return text
	}
	return string(runes[:width-3]) + "..."
}
