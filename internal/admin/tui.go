package admin

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/xiy/echomem/internal/store"
	"github.com/xiy/echomem/pkg/types"
)

type tickMsg time.Time

type dashboardMsg struct {
	users       []string
	totals      store.Stats
	commitments []types.Commitment
	digests     []types.DailyDigest
	err         error
	duration    time.Duration
}

type dashboardStore interface {
	Users(ctx context.Context) ([]string, error)
	Stats(ctx context.Context, userID string) (store.Stats, error)
	Commitments(ctx context.Context, userID string) ([]types.Commitment, error)
	Digests(ctx context.Context, userID string, limit int) ([]types.DailyDigest, error)
}

type model struct {
	ctx         context.Context
	st          dashboardStore
	users       []string
	totals      store.Stats
	commitments []types.Commitment
	digests     []types.DailyDigest
	lastErr     error
	lastTick    time.Time
	logLines    []string
	maxLogs     int
	width       int
	height      int
}

// Run starts a lightweight local admin dashboard over the memory store.
func Run(ctx context.Context, st dashboardStore) error {
	m := model{
		ctx:     ctx,
		st:      st,
		maxLogs: 10,
	}
	m = m.appendLog("admin UI started")
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m model) Init() tea.Cmd {
	return tea.Batch(fetchDashboardCmd(m.ctx, m.st), tickCmd())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m = m.appendLog("received quit signal")
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tickMsg:
		m.lastTick = time.Time(msg)
		return m, tea.Batch(fetchDashboardCmd(m.ctx, m.st), tickCmd())
	case dashboardMsg:
		m.lastErr = msg.err
		if msg.err == nil {
			m.users = msg.users
			m.totals = msg.totals
			m.commitments = msg.commitments
			m.digests = msg.digests
			m = m.appendLog(fmt.Sprintf(
				"refresh ok users=%d events=%d facts=%d open=%d (%s)",
				len(msg.users),
				msg.totals.Events,
				msg.totals.Facts,
				len(msg.commitments),
				formatDuration(msg.duration),
			))
		} else {
			m = m.appendLog(fmt.Sprintf("refresh error: %v", msg.err))
		}
	}
	return m, nil
}

func (m model) View() string {
	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).Render("echomem admin")
	meta := lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render("q to quit • refresh every 2s")

	statsBody := m.renderStats()
	logBody := "(no log events yet)"
	if len(m.logLines) > 0 {
		logBody = strings.Join(m.logLines, "\n")
	}

	paneWidth := 54
	if m.width > 0 {
		paneWidth = max(38, (m.width-3)/2)
	}
	paneHeight := 9
	if m.height > 0 {
		paneHeight = max(8, (m.height-8)/2)
	}

	topRow := joinColumns(
		renderPane("Stats", statsBody, paneWidth, paneHeight),
		renderPane("General Logs", logBody, paneWidth, paneHeight),
	)
	bottomRow := joinColumns(
		renderPane("Active Commitments", formatCommitmentsPane(m.commitments), paneWidth, paneHeight),
		renderPane("Recent Digests", formatDigestsPane(m.digests), paneWidth, paneHeight),
	)

	return lipgloss.JoinVertical(
		lipgloss.Left,
		title,
		meta,
		"",
		topRow,
		bottomRow,
	)
}

func (m model) renderStats() string {
	body := fmt.Sprintf(
		"Users:           %d\nEvents:          %d\nFacts:           %d\nCommitments:     %d\nSelf-claims:     %d\nEcho patterns:   %d\nLast refresh:    %s",
		len(m.users),
		m.totals.Events,
		m.totals.Facts,
		m.totals.Commitments,
		m.totals.ABMItems,
		m.totals.Patterns,
		formatTime(m.lastTick),
	)
	if m.lastErr != nil {
		body += "\n\nLast error: " + truncateText(compactWhitespace(m.lastErr.Error()), 120)
	}
	return body
}

func fetchDashboardCmd(ctx context.Context, st dashboardStore) tea.Cmd {
	return func() tea.Msg {
		start := time.Now()

		users, err := st.Users(ctx)
		if err != nil {
			return dashboardMsg{err: err, duration: time.Since(start)}
		}

		var totals store.Stats
		var commitments []types.Commitment
		var digests []types.DailyDigest
		for _, userID := range users {
			s, err := st.Stats(ctx, userID)
			if err != nil {
				return dashboardMsg{users: users, err: err, duration: time.Since(start)}
			}
			totals.Events += s.Events
			totals.Facts += s.Facts
			totals.Commitments += s.Commitments
			totals.ABMItems += s.ABMItems
			totals.Patterns += s.Patterns
			totals.Digests += s.Digests

			cs, err := st.Commitments(ctx, userID)
			if err != nil {
				return dashboardMsg{users: users, totals: totals, err: err, duration: time.Since(start)}
			}
			for _, c := range cs {
				if c.Status == types.CommitmentActive {
					commitments = append(commitments, c)
				}
			}

			ds, err := st.Digests(ctx, userID, 3)
			if err != nil {
				return dashboardMsg{users: users, totals: totals, err: err, duration: time.Since(start)}
			}
			digests = append(digests, ds...)
		}

		return dashboardMsg{
			users:       users,
			totals:      totals,
			commitments: commitments,
			digests:     digests,
			duration:    time.Since(start),
		}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func (m model) appendLog(line string) model {
	if strings.TrimSpace(line) == "" {
		return m
	}
	entry := fmt.Sprintf("[%s] %s", time.Now().UTC().Format("15:04:05"), line)
	m.logLines = append(m.logLines, entry)
	if m.maxLogs <= 0 {
		m.maxLogs = 10
	}
	if len(m.logLines) > m.maxLogs {
		m.logLines = m.logLines[len(m.logLines)-m.maxLogs:]
	}
	return m
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return d.String()
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Round(10 * time.Millisecond).String()
}

func renderPane(title, body string, width, height int) string {
	style := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(1, 2)
	if width > 0 {
		style = style.Width(width)
	}
	if height > 0 {
		style = style.Height(height)
	}
	return style.Render(title + "\n\n" + body)
}

func joinColumns(left, right string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, left, " ", right)
}

func formatCommitmentsPane(rows []types.Commitment) string {
	if len(rows) == 0 {
		return "(no active commitments)"
	}
	lines := make([]string, 0, len(rows))
	for _, c := range rows {
		next := "-"
		if len(c.Reactivations) > 0 {
			next = c.Reactivations[0].UTC().Format("01-02 15:04")
		}
		line := fmt.Sprintf(
			"[%s] next %s :: %s",
			formatClock(c.MadeAt),
			next,
			truncateText(compactWhitespace(c.Desc), 52),
		)
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func formatDigestsPane(rows []types.DailyDigest) string {
	if len(rows) == 0 {
		return "(no digests yet)"
	}
	lines := make([]string, 0, len(rows))
	for _, d := range rows {
		lines = append(lines, fmt.Sprintf("%s :: %s", d.Date, truncateText(compactWhitespace(d.Card), 64)))
	}
	return strings.Join(lines, "\n")
}

func formatClock(t time.Time) string {
	if t.IsZero() {
		return "--:--:--"
	}
	return t.UTC().Format("15:04:05")
}

func truncateText(s string, limit int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	if limit <= 3 {
		return string(r[:limit])
	}
	return string(r[:limit-3]) + "..."
}

func compactWhitespace(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}
