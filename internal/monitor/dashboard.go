// Package monitor is a terminal dashboard for a running docsearch server.
package monitor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	sparkWidth   = 30
	sparkHeight  = 3
	historySize  = 30
	scrapeBudget = 5 * time.Second

	// memoryScale is the resident memory drawn as a full bar.
	memoryScale = 512 << 20

	// latency thresholds for the badge next to the average
	latencyOK   = 100 * time.Millisecond
	latencySlow = 500 * time.Millisecond
)

// series is a bounded history of one dashboard value.
type series []float64

func (s series) push(v float64) series {
	s = append(s, v)
	if len(s) > historySize {
		s = s[len(s)-historySize:]
	}
	return s
}

func (s series) sparkline() string {
	if len(s) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparkWidth, "no data"))
	}
	sl := sparkline.New(sparkWidth, sparkHeight)
	for _, v := range s {
		sl.Push(v)
	}
	sl.Draw()
	return sparkStyle.Render(sl.View())
}

// Model is the Bubble Tea dashboard model.
type Model struct {
	client    *MetricsClient
	serverURL string
	interval  time.Duration

	last       Sample
	rates      Rates
	lastUpdate time.Time
	err        error
	quitting   bool

	ops     series
	latency series // milliseconds
	docs    series
	opsPeak float64

	memoryBar progress.Model
	loadBar   progress.Model
}

var (
	titleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("51")).Bold(true).Padding(0, 1)
	sectionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("51")).Bold(true).MarginTop(1)
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("45"))
	valueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("231")).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("226")).Bold(true)
	badStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	keyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("51")).Bold(true)
	sparkStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("51"))
	frameStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("238")).Padding(1, 2)
)

// NewModel returns a dashboard that scrapes serverURL every interval.
func NewModel(serverURL, apiKey string, interval time.Duration) Model {
	return Model{
		client:    NewMetricsClient(serverURL, apiKey),
		serverURL: serverURL,
		interval:  interval,
		opsPeak:   1,
		memoryBar: progress.New(progress.WithGradient("#00ff00", "#ffff00"), progress.WithWidth(40)),
		loadBar:   progress.New(progress.WithGradient("#00ffff", "#ff00ff"), progress.WithWidth(40)),
	}
}

type (
	tickMsg   time.Time
	sampleMsg Sample
	errMsg    struct{ err error }
)

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.tick(), m.scrape())
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) scrape() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), scrapeBudget)
		defer cancel()
		s, err := client.Scrape(ctx)
		if err != nil {
			return errMsg{err}
		}
		return sampleMsg(s)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, m.scrape()
		}
	case tickMsg:
		return m, tea.Batch(m.tick(), m.scrape())
	case sampleMsg:
		m = m.observe(Sample(msg))
	case errMsg:
		m.err = msg.err
	}
	return m, nil
}

// observe folds a new sample into rates and history.
func (m Model) observe(s Sample) Model {
	m.rates = RatesBetween(m.last, s)
	m.last = s
	m.lastUpdate = s.Time
	m.err = nil

	m.ops = m.ops.push(m.rates.OpsPerMin)
	m.latency = m.latency.push(m.rates.AvgLatency * 1000)
	m.docs = m.docs.push(float64(s.Documents))
	m.opsPeak = max(m.opsPeak, m.rates.OpsPerMin)
	return m
}

func (m Model) View() string {
	switch {
	case m.quitting:
		return ""
	case m.err != nil:
		return m.viewError()
	default:
		return m.viewDashboard()
	}
}

func statusBadge(healthy bool, errorsPerMin float64) string {
	switch {
	case !healthy:
		return badStyle.Render("✗ UNAVAILABLE")
	case errorsPerMin > 0:
		return warnStyle.Render("⚠ ERRORS")
	default:
		return okStyle.Render("✓ HEALTHY")
	}
}

func latencyBadge(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second))
	switch {
	case d < latencyOK:
		return okStyle.Render("[✓]")
	case d < latencySlow:
		return warnStyle.Render("[⚠]")
	default:
		return badStyle.Render("[✗]")
	}
}

func footer(keys ...string) string {
	parts := make([]string, 0, len(keys)/2)
	for i := 0; i+1 < len(keys); i += 2 {
		parts = append(parts, keyStyle.Render("["+keys[i]+"]")+dimStyle.Render(" "+keys[i+1]))
	}
	return strings.Join(parts, "  ")
}

func (m Model) viewError() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("docsearch Monitor") + "\n\n")
	b.WriteString(badStyle.Render("⚠ Cannot reach docsearch") + "\n\n")
	b.WriteString(dimStyle.Render("URL: ") + valueStyle.Render(m.serverURL) + "\n")
	b.WriteString(dimStyle.Render("Error: ") + badStyle.Render(m.err.Error()) + "\n\n")
	b.WriteString(dimStyle.Render("Start the server with: docsearch serve") + "\n\n")
	b.WriteString(footer("q", "quit", "r", "retry"))
	return frameStyle.Render(b.String())
}

func (m Model) viewDashboard() string {
	var b strings.Builder
	row := func(label, value string, extra ...string) {
		b.WriteString(labelStyle.Render("  "+label+": ") + value)
		for _, e := range extra {
			b.WriteString("   " + e)
		}
		b.WriteString("\n")
	}
	section := func(name string) { b.WriteString(sectionStyle.Render("┃ "+name) + "\n") }

	updated := "Never"
	if !m.lastUpdate.IsZero() {
		updated = m.lastUpdate.Format("3:04:05 PM")
	}
	var uptime time.Duration
	if m.last.StartTimeUnix > 0 && !m.last.Time.IsZero() {
		uptime = m.last.Time.Sub(time.Unix(int64(m.last.StartTimeUnix), 0))
	}

	b.WriteString(titleStyle.Render(" docsearch Monitor ") + "\n")
	b.WriteString(fmt.Sprintf("%s   %s %s   %s\n",
		statusBadge(m.last.Healthy || m.lastUpdate.IsZero(), m.rates.ErrorsPerMin),
		dimStyle.Render("Uptime:"), valueStyle.Render(formatUptime(uptime)),
		dimStyle.Render(updated)))

	section("Documents")
	row("Stored", valueStyle.Render(fmt.Sprintf("%-12d", m.last.Documents)), m.docs.sparkline())

	section("Vector Store")
	row("Ops", valueStyle.Render(formatRate(m.rates.OpsPerMin)), m.ops.sparkline())
	row("Latency (avg)", valueStyle.Render(formatLatency(m.rates.AvgLatency))+" "+latencyBadge(m.rates.AvgLatency), m.latency.sparkline())
	row("Errors", valueStyle.Render(formatRate(m.rates.ErrorsPerMin)))
	if breakdown := opBreakdown(m.last.VectorOpsByOp); breakdown != "" {
		row("By operation", dimStyle.Render(breakdown))
	}
	load := 0.0
	if m.opsPeak > 0 {
		load = min(m.rates.OpsPerMin/m.opsPeak, 1)
	}
	row("Load", m.loadBar.ViewAs(load)+" "+dimStyle.Render(formatPercent(load)))

	section("System")
	row("Memory", m.memoryBar.ViewAs(min(float64(m.last.MemoryBytes)/memoryScale, 1))+" "+dimStyle.Render(formatBytes(m.last.MemoryBytes)))
	row("Goroutines", valueStyle.Render(fmt.Sprintf("%d", m.last.Goroutines)))

	b.WriteString("\n" + footer("q", "quit", "r", "refresh") + dimStyle.Render(fmt.Sprintf("  Auto: %v", m.interval)))
	return frameStyle.Render(b.String())
}

// opBreakdown renders cumulative per-operation counts, e.g.
// "add 3  count 10  query 12".
func opBreakdown(byOp map[string]float64) string {
	ops := make([]string, 0, len(byOp))
	for op := range byOp {
		if op != "" {
			ops = append(ops, op)
		}
	}
	sort.Strings(ops)
	parts := make([]string, len(ops))
	for i, op := range ops {
		parts[i] = fmt.Sprintf("%s %.0f", op, byOp[op])
	}
	return strings.Join(parts, "  ")
}
