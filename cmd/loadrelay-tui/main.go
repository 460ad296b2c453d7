package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/phoenix-ops/loadrelay/pkg/loadgen"
	"github.com/phoenix-ops/loadrelay/pkg/relay"
	"github.com/phoenix-ops/loadrelay/pkg/report"
	"github.com/phoenix-ops/loadrelay/pkg/scenario"
	"github.com/phoenix-ops/loadrelay/pkg/target"
)

const pollRate = 250 * time.Millisecond

// Styles
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			Width(72)

	paneStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1).
			Width(72)

	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Width(14)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	alertStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type tickMsg time.Time

type runDoneMsg struct {
	rep report.RunReport
	err error
}

type model struct {
	spinner  spinner.Model
	progress progress.Model

	sched    *loadgen.Scheduler
	scn      scenario.Scenario
	resultCh chan runDoneMsg

	live loadgen.Progress
	rep  report.RunReport
	done bool
	err  error
}

func initialModel(sched *loadgen.Scheduler, scn scenario.Scenario, resultCh chan runDoneMsg) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return model{
		spinner:  s,
		progress: progress.New(progress.WithDefaultGradient(), progress.WithWidth(60)),
		sched:    sched,
		scn:      scn,
		resultCh: resultCh,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick(), m.waitForRun())
}

func (m model) waitForRun() tea.Cmd {
	return func() tea.Msg {
		return <-m.resultCh
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tickMsg:
		if !m.done {
			m.live = m.sched.Progress()
			cmds = append(cmds, tick())
		}

	case runDoneMsg:
		m.done = true
		m.rep = msg.rep
		m.err = msg.err
		m.live = m.sched.Progress()
	}

	return m, tea.Batch(cmds...)
}

func (m model) View() string {
	header := headerStyle.Render(fmt.Sprintf("%s loadrelay | %s", m.spinner.View(), m.scn.Name))

	var pct float64
	if m.live.Window > 0 {
		pct = float64(m.live.Elapsed) / float64(m.live.Window)
	}
	if m.done {
		pct = 1
	}

	counters := fmt.Sprintf("%s %d\n%s %s\n%s %s\n%s %d",
		labelStyle.Render("Requests"), m.live.Counts.Total,
		labelStyle.Render("Success"), okStyle.Render(fmt.Sprintf("%d", m.live.Counts.Successes)),
		labelStyle.Render("Errors"), errorStyle.Render(fmt.Sprintf("%d", m.live.Counts.Errors)),
		labelStyle.Render("Active users"), m.live.Active,
	)

	alerts := fmt.Sprintf("%s %d\n%s %s\n%s %d\n%s %d",
		labelStyle.Render("Enqueued"), m.live.Alerts.Enqueued,
		labelStyle.Render("Delivered"), alertStyle.Render(fmt.Sprintf("%d", m.live.Alerts.Delivered)),
		labelStyle.Render("Dropped"), m.live.Alerts.DroppedCapacity+m.live.Alerts.DroppedRetries,
		labelStyle.Render("Queue depth"), m.live.QueueDepth,
	)

	body := lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.progress.ViewAs(pct),
		paneStyle.Render("Traffic\n\n"+counters),
		paneStyle.Render("Alert relay\n\n"+alerts),
	)

	var footer string
	switch {
	case m.err != nil:
		footer = errorStyle.Render(fmt.Sprintf("Run failed: %v", m.err))
	case m.done:
		footer = okStyle.Render("Run complete.") + subtleStyle.Render(" Press q to quit")
	default:
		footer = subtleStyle.Render(fmt.Sprintf("Elapsed %s of %s | press q to abort",
			m.live.Elapsed.Round(time.Second), m.live.Window))
	}

	return body + "\n" + footer + "\n"
}

func tick() tea.Cmd {
	return tea.Tick(pollRate, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func main() {
	var (
		preset      string
		targetURL   string
		alertURL    string
		outputFile  string
		users       int
		durationSec int
	)

	flag.StringVar(&preset, "preset", "light", "Scenario preset")
	flag.StringVar(&targetURL, "target", "http://127.0.0.1:8080", "Base URL of the target API")
	flag.StringVar(&alertURL, "alerts", "http://127.0.0.1:8080/api/alert", "Alert-ingestion endpoint URL")
	flag.StringVar(&outputFile, "out", "", "Write the JSON report artifact to this path")
	flag.IntVar(&users, "users", 0, "Override virtual user count")
	flag.IntVar(&durationSec, "duration", 0, "Override run duration in seconds")
	flag.Parse()

	scn, err := scenario.FromPreset(preset)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid preset: %v\n", err)
		os.Exit(1)
	}
	if users > 0 {
		scn.VirtualUsers = users
	}
	if durationSec > 0 {
		scn.Duration = time.Duration(durationSec) * time.Second
	}

	queue := relay.NewQueue(relay.Config{},
		relay.NewHTTPDeliverer(alertURL, relay.DefaultAttemptTimeout), zap.NewNop())
	queue.Start()

	sched, err := loadgen.New(loadgen.Config{
		Target: target.NewClient(targetURL, target.DefaultCallTimeout),
		Queue:  queue,
		Logger: zap.NewNop(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build scheduler: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resultCh := make(chan runDoneMsg, 1)
	go func() {
		rep, err := sched.Run(ctx, scn)
		if err == nil {
			drainCtx, drainCancel := context.WithTimeout(context.Background(), 15*time.Second)
			queue.Stop(drainCtx)
			drainCancel()
			rep.Alerts = queue.Stats()
		}
		resultCh <- runDoneMsg{rep: rep, err: err}
	}()

	p := tea.NewProgram(initialModel(sched, scn, resultCh), tea.WithAltScreen())
	final, err := p.Run()
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		os.Exit(1)
	}

	if m, ok := final.(model); ok && m.done && m.err == nil {
		if outputFile != "" {
			if err := report.WriteFile(outputFile, m.rep); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to write report: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Report written to %s\n", outputFile)
		}
		fmt.Println(report.Render(m.rep))
	}
}
