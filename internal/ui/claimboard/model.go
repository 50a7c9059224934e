// Package claimboard is a terminal dashboard over the coordination state:
// who holds which task, how fresh each lease is, and what is still up for
// grabs.
package claimboard

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ao92265/claude-orchestra/internal/coordinator"
)

const defaultRefreshInterval = 30 * time.Second

// Source is the slice of the coordinator the board reads from.
type Source interface {
	ActiveClaims(ctx context.Context) ([]coordinator.ActiveClaim, error)
	AvailableTasks(ctx context.Context, priority coordinator.TaskPriority, size coordinator.TaskSize, limit int) ([]coordinator.Task, error)
}

type pane int

const (
	paneClaims pane = iota
	paneAvailable
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	headerStyle   = lipgloss.NewStyle().Bold(true).Underline(true)
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("14"))
	staleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// BoardMsg carries one refresh of the coordination state.
type BoardMsg struct {
	Claims    []coordinator.ActiveClaim
	Available []coordinator.Task
	Err       error
}

type refreshTickMsg struct{}

// Model is the bubbletea model for the claims board.
type Model struct {
	source          Source
	claimTimeout    time.Duration
	refreshInterval time.Duration
	now             func() time.Time

	spinner  Spinner
	detail   DetailBubble
	active   pane
	selected int
	loading  bool
	lastErr  error

	claims    []coordinator.ActiveClaim
	available []coordinator.Task
}

// NewModel builds a board over source. claimTimeout controls when a lease is
// highlighted as stale; zero falls back to the protocol default.
func NewModel(source Source, claimTimeout time.Duration, now func() time.Time) Model {
	if now == nil {
		now = time.Now
	}
	if claimTimeout <= 0 {
		claimTimeout = 30 * time.Minute
	}
	return Model{
		source:          source,
		claimTimeout:    claimTimeout,
		refreshInterval: defaultRefreshInterval,
		now:             now,
		spinner:         NewSpinner(),
		detail:          NewDetailBubble(),
		loading:         true,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Init(), m.refreshCmd(), m.refreshTickCmd())
}

func (m Model) refreshCmd() tea.Cmd {
	source := m.source
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		claims, err := source.ActiveClaims(ctx)
		if err != nil {
			return BoardMsg{Err: err}
		}
		available, err := source.AvailableTasks(ctx, "", "", 0)
		if err != nil {
			return BoardMsg{Err: err}
		}
		return BoardMsg{Claims: claims, Available: available}
	}
}

func (m Model) refreshTickCmd() tea.Cmd {
	return tea.Tick(m.refreshInterval, func(time.Time) tea.Msg {
		return refreshTickMsg{}
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	m.spinner, cmd = m.spinner.Update(msg)
	m.detail, _ = m.detail.Update(msg)

	switch typed := msg.(type) {
	case BoardMsg:
		m.loading = false
		if typed.Err != nil {
			m.lastErr = typed.Err
			return m, cmd
		}
		m.lastErr = nil
		m.claims = typed.Claims
		m.available = typed.Available
		m.clampSelection()
		return m, tea.Batch(cmd, m.updateDetailCmd())

	case refreshTickMsg:
		m.loading = true
		return m, tea.Batch(cmd, m.refreshCmd(), m.refreshTickCmd())

	case tea.KeyMsg:
		return m.handleKey(typed, cmd)
	}
	return m, cmd
}

func (m Model) handleKey(key tea.KeyMsg, cmd tea.Cmd) (tea.Model, tea.Cmd) {
	switch {
	case key.Type == tea.KeyCtrlC, keyIs(key, 'q'):
		return m, tea.Quit
	case keyIs(key, 'r'):
		m.loading = true
		return m, tea.Batch(cmd, m.refreshCmd())
	case key.Type == tea.KeyTab:
		if m.active == paneClaims {
			m.active = paneAvailable
		} else {
			m.active = paneClaims
		}
		m.selected = 0
		return m, tea.Batch(cmd, m.updateDetailCmd())
	case key.Type == tea.KeyUp, keyIs(key, 'k'):
		if m.selected > 0 {
			m.selected--
		}
		return m, tea.Batch(cmd, m.updateDetailCmd())
	case key.Type == tea.KeyDown, keyIs(key, 'j'):
		if m.selected < m.activeLen()-1 {
			m.selected++
		}
		return m, tea.Batch(cmd, m.updateDetailCmd())
	}
	return m, cmd
}

func keyIs(key tea.KeyMsg, r rune) bool {
	return key.Type == tea.KeyRunes && len(key.Runes) == 1 && key.Runes[0] == r
}

func (m *Model) clampSelection() {
	if limit := m.activeLen(); m.selected >= limit {
		if limit == 0 {
			m.selected = 0
		} else {
			m.selected = limit - 1
		}
	}
}

func (m Model) activeLen() int {
	if m.active == paneClaims {
		return len(m.claims)
	}
	return len(m.available)
}

func (m Model) selectedDescription() string {
	if m.active == paneClaims {
		if m.selected < len(m.claims) {
			return m.claims[m.selected].Task.Description
		}
		return ""
	}
	if m.selected < len(m.available) {
		return m.available[m.selected].Description
	}
	return ""
}

func (m Model) updateDetailCmd() tea.Cmd {
	content := m.selectedDescription()
	return func() tea.Msg {
		return SetDetailMsg{Content: content}
	}
}

func (m Model) View() string {
	var b strings.Builder

	status := " "
	if m.loading {
		status = m.spinner.View()
	}
	b.WriteString(titleStyle.Render("Orchestra Claims") + " " + status + "\n\n")

	if m.lastErr != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("refresh failed: %v", m.lastErr)) + "\n\n")
	}

	b.WriteString(m.renderClaims())
	b.WriteString("\n")
	b.WriteString(m.renderAvailable())
	b.WriteString("\n")

	if detail := m.detail.View(); strings.TrimSpace(detail) != "" {
		b.WriteString(detail + "\n")
	}

	b.WriteString(dimStyle.Render("tab: switch pane  j/k: move  r: refresh  q: quit") + "\n")
	return b.String()
}

func (m Model) renderClaims() string {
	var b strings.Builder
	header := fmt.Sprintf("Active claims (%d)", len(m.claims))
	b.WriteString(headerStyle.Render(header) + "\n")

	if len(m.claims) == 0 {
		b.WriteString(dimStyle.Render("  none") + "\n")
		return b.String()
	}

	now := m.now().UTC()
	for i, claim := range m.claims {
		age := claim.Lease.Age(now).Round(time.Minute)
		line := fmt.Sprintf("#%-5d %-38s @%-12s %s",
			claim.Task.Number, truncate(claim.Task.Title, 38), claim.Lease.GitHubUsername, age)
		switch {
		case m.active == paneClaims && i == m.selected:
			line = selectedStyle.Render(line)
		case claim.Lease.Age(now) > m.claimTimeout:
			line = staleStyle.Render(line + "  (stale)")
		}
		b.WriteString("  " + line + "\n")
	}
	return b.String()
}

func (m Model) renderAvailable() string {
	var b strings.Builder
	header := fmt.Sprintf("Available (%d)", len(m.available))
	b.WriteString(headerStyle.Render(header) + "\n")

	if len(m.available) == 0 {
		b.WriteString(dimStyle.Render("  none") + "\n")
		return b.String()
	}

	for i, task := range m.available {
		priority := string(task.Priority)
		if priority == "" {
			priority = "-"
		}
		line := fmt.Sprintf("#%-5d [%-6s] %s", task.Number, priority, truncate(task.Title, 44))
		if m.active == paneAvailable && i == m.selected {
			line = selectedStyle.Render(line)
		}
		b.WriteString("  " + line + "\n")
	}
	return b.String()
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
