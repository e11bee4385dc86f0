package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/airframesio/epias-extractor/cmd/coordinator"
)

const (
	maxMessages     = 10
	maxRecentChunks = 5
)

type progressModel struct {
	jobKey   string
	span     string
	stage    string
	spinner  spinner.Model
	overall  progress.Model
	messages []string

	progress     float64
	completed    int
	total        int
	records      int
	currentChunk string
	recent       []chunkLine
	failed       int

	width     int
	startTime time.Time
	cancel    context.CancelFunc
	quitting  bool
	done      bool
	err       error
}

type chunkLine struct {
	chunk   string
	records int
	err     string
}

// phaseMsg changes the stage shown under the spinner
type phaseMsg string

// messageMsg appends a line to the log section
type messageMsg string

// eventMsg carries a coordinator event into the model
type eventMsg coordinator.Event

// doneMsg ends the display once the extraction returns
type doneMsg struct {
	summary *ExtractSummary
	err     error
}

var (
	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262")).
			Margin(0, 2)

	stageStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575")).
			Margin(0, 2)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFAA00")).
			Bold(true).
			Margin(0, 2)

	progressInfoStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#888888")).
				Margin(0, 2)

	failedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))
)

func newProgressModel(r coordinator.DateRange, plantID *int64, cancel context.CancelFunc) progressModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return progressModel{
		jobKey:  coordinator.JobKey(r, plantID),
		span:    r.String(),
		stage:   "Initializing...",
		spinner: s,
		overall: progress.New(
			progress.WithScaledGradient("#FF7CCB", "#FDFF8C"),
			progress.WithWidth(60),
		),
		startTime: time.Now(),
		cancel:    cancel,
	}
}

func (m progressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tea.EnterAltScreen)
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.overall.Width = msg.Width - 10
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case progress.FrameMsg:
		model, cmd := m.overall.Update(msg)
		if pm, ok := model.(progress.Model); ok {
			m.overall = pm
		}
		return m, cmd
	case phaseMsg:
		m.stage = string(msg)
		return m, nil
	case messageMsg:
		m.addMessage(string(msg))
		return m, nil
	case eventMsg:
		return m.handleEvent(coordinator.Event(msg))
	case doneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Sequence(tea.ExitAltScreen, tea.Quit)
	}
	return m, nil
}

func (m progressModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" || msg.String() == "q" {
		m.quitting = true
		m.stage = "Cancelling..."
		if m.cancel != nil {
			m.cancel()
		}
		return m, tea.Sequence(tea.ExitAltScreen, tea.Quit)
	}
	return m, nil
}

func (m *progressModel) addMessage(msg string) {
	m.messages = append(m.messages, msg)
	if len(m.messages) > maxMessages {
		m.messages = m.messages[len(m.messages)-maxMessages:]
	}
}

func (m *progressModel) addChunk(line chunkLine) {
	m.recent = append(m.recent, line)
	if len(m.recent) > maxRecentChunks {
		m.recent = m.recent[len(m.recent)-maxRecentChunks:]
	}
}

func (m progressModel) handleEvent(event coordinator.Event) (tea.Model, tea.Cmd) {
	m.progress = event.Progress
	m.completed = event.Completed
	m.total = event.Total
	m.records = event.RecordCount

	chunk := ""
	if !event.ChunkStart.IsZero() {
		chunk = fmt.Sprintf("%s → %s",
			event.ChunkStart.Format(coordinator.DateLayout), event.ChunkEnd.Format(coordinator.DateLayout))
	}

	switch event.Type {
	case coordinator.EventStarted:
		m.stage = fmt.Sprintf("Fetching %d chunks", event.Total)
	case coordinator.EventProgress:
		m.currentChunk = chunk
		m.addChunk(chunkLine{chunk: chunk, records: event.ChunkRecords})
	case coordinator.EventChunkFailed:
		m.failed++
		m.addChunk(chunkLine{chunk: chunk, err: event.Error})
	case coordinator.EventCompleted:
		m.stage = "All chunks fetched"
		m.currentChunk = ""
	case coordinator.EventStalled:
		m.stage = "Stalled"
		m.addMessage("⚠️  " + event.Error)
	}

	cmd := m.overall.SetPercent(event.Progress)
	return m, cmd
}

func (m progressModel) renderBanner() []string {
	titleStyle1 := lipgloss.NewStyle().Foreground(lipgloss.Color("#FF7CCB")).Bold(true)
	titleStyle2 := lipgloss.NewStyle().Foreground(lipgloss.Color("#FDFF8C")).Bold(true)
	authorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))

	const boxWidth = 66
	const indent = "   "

	makeLine := func(content string) string {
		padding := boxWidth - 4 - lipgloss.Width(content)
		if padding < 0 {
			padding = 0
		}
		return fmt.Sprintf("%s║  %s%s║", indent, content, strings.Repeat(" ", padding))
	}

	lines := []string{
		"",
		indent + "╔" + strings.Repeat("═", boxWidth-2) + "╗",
		makeLine(""),
		makeLine("    " + titleStyle1.Render("⚡ EPİAŞ") + " " + titleStyle2.Render("Generation Extractor") + authorStyle.Render(" v"+Version)),
		makeLine(""),
		makeLine("    " + authorStyle.Render("Created by Airframes <hello@airframes.io>")),
		makeLine("    " + authorStyle.Render("https://github.com/airframesio/epias-extractor")),
	}
	if versionCheckResult != nil && versionCheckResult.UpdateAvailable {
		lines = append(lines, makeLine("    "+infoStyle.Render("Update available: v"+versionCheckResult.LatestVersion)))
	}
	lines = append(lines, makeLine(""), indent+"╚"+strings.Repeat("═", boxWidth-2)+"╝", "")
	return lines
}

func (m progressModel) renderMessages() []string {
	sections := []string{helpStyle.Render("   Log:")}
	if len(m.messages) == 0 {
		return append(sections, "     (waiting for operations...)")
	}
	for _, msg := range m.messages {
		sections = append(sections, "     "+msg)
	}
	return sections
}

func (m progressModel) renderSeparator() []string {
	separatorWidth := 80
	if m.width > 0 && m.width < 200 {
		separatorWidth = m.width - 6
	}
	separator := "   " + strings.Repeat("─", separatorWidth)
	return []string{"", lipgloss.NewStyle().Foreground(lipgloss.Color("#444")).Render(separator), ""}
}

func (m progressModel) renderProgress() []string {
	sections := []string{
		sectionStyle.Render(fmt.Sprintf("   %s  (%s)", m.jobKey, m.span)),
		"",
		stageStyle.Render(fmt.Sprintf("   %s %s", m.spinner.View(), m.stage)),
	}
	if m.total == 0 {
		return sections
	}

	sections = append(sections,
		"",
		progressInfoStyle.Render(fmt.Sprintf("   Chunks: %d/%d   Records: %d   Elapsed: %s",
			m.completed, m.total, m.records, time.Since(m.startTime).Round(time.Second))),
		"   "+m.overall.ViewAs(m.progress),
	)
	if m.currentChunk != "" {
		sections = append(sections, progressInfoStyle.Render("   Last chunk: "+m.currentChunk))
	}

	if len(m.recent) > 0 {
		sections = append(sections, "", sectionStyle.Render("   Recent Chunks"), "")
		for _, line := range m.recent {
			if line.err != "" {
				sections = append(sections, failedStyle.Render(fmt.Sprintf("   ❌ %s - %s", line.chunk, line.err)))
				continue
			}
			sections = append(sections, fmt.Sprintf("   ✅ %s - %d records", line.chunk, line.records))
		}
	}
	if m.failed > 0 {
		sections = append(sections, "", failedStyle.Render(fmt.Sprintf("   %d chunk(s) failed, they stay pending for the next run", m.failed)))
	}
	return sections
}

func (m progressModel) View() string {
	if m.done {
		return ""
	}

	var sections []string
	sections = append(sections, m.renderBanner()...)
	sections = append(sections, m.renderMessages()...)
	sections = append(sections, m.renderSeparator()...)
	sections = append(sections, m.renderProgress()...)
	sections = append(sections, "", helpStyle.Render("   Press Ctrl+C or 'q' to quit"))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// programReporter forwards extraction progress to the running display
type programReporter struct {
	program *tea.Program
}

func (r *programReporter) Phase(name string) {
	r.program.Send(phaseMsg(name))
}

func (r *programReporter) Event(event coordinator.Event) {
	r.program.Send(eventMsg(event))
}

func (r *programReporter) Message(msg string) {
	r.program.Send(messageMsg(msg))
}
