package claimboard

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ao92265/claude-orchestra/internal/coordinator"
)

type staticSource struct {
	claims    []coordinator.ActiveClaim
	available []coordinator.Task
}

func (s staticSource) ActiveClaims(ctx context.Context) ([]coordinator.ActiveClaim, error) {
	return s.claims, nil
}

func (s staticSource) AvailableTasks(ctx context.Context, priority coordinator.TaskPriority, size coordinator.TaskSize, limit int) ([]coordinator.Task, error) {
	return s.available, nil
}

var boardEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testBoard() (Model, BoardMsg) {
	msg := BoardMsg{
		Claims: []coordinator.ActiveClaim{
			{
				Task: coordinator.Task{Number: 4, Title: "Fix parser", Description: "## Plan\nrewrite it"},
				Lease: coordinator.Lease{
					GitHubUsername: "alice",
					LastHeartbeat:  boardEpoch.Add(-5 * time.Minute),
				},
			},
			{
				Task: coordinator.Task{Number: 9, Title: "Dead task"},
				Lease: coordinator.Lease{
					GitHubUsername: "bob",
					LastHeartbeat:  boardEpoch.Add(-2 * time.Hour),
				},
			},
		},
		Available: []coordinator.Task{
			{Number: 11, Title: "Open task", Priority: coordinator.PriorityHigh},
		},
	}
	model := NewModel(staticSource{}, 30*time.Minute, func() time.Time { return boardEpoch })
	return model, msg
}

func TestBoardRendersClaimsAndAvailability(t *testing.T) {
	model, msg := testBoard()

	updated, _ := model.Update(msg)
	view := updated.View()

	if !strings.Contains(view, "Active claims (2)") {
		t.Fatalf("claims header missing:\n%s", view)
	}
	if !strings.Contains(view, "Fix parser") || !strings.Contains(view, "@alice") {
		t.Fatalf("claim row missing:\n%s", view)
	}
	if !strings.Contains(view, "Available (1)") || !strings.Contains(view, "Open task") {
		t.Fatalf("available pane missing:\n%s", view)
	}
}

func TestBoardMarksStaleLeases(t *testing.T) {
	model, msg := testBoard()

	updated, _ := model.Update(msg)
	view := updated.View()

	if !strings.Contains(view, "(stale)") {
		t.Fatalf("stale lease not highlighted:\n%s", view)
	}
}

func TestBoardShowsRefreshError(t *testing.T) {
	model, _ := testBoard()

	updated, _ := model.Update(BoardMsg{Err: context.DeadlineExceeded})
	view := updated.View()

	if !strings.Contains(view, "refresh failed") {
		t.Fatalf("error banner missing:\n%s", view)
	}
}

func TestBoardQuitKeys(t *testing.T) {
	model, msg := testBoard()
	updated, _ := model.Update(msg)

	_, cmd := updated.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("expected quit command for q")
	}
	if msg := cmd(); msg != tea.Quit() {
		t.Fatalf("expected tea.Quit, got %#v", msg)
	}
}

func TestBoardTabSwitchesPane(t *testing.T) {
	model, msg := testBoard()
	updated, _ := model.Update(msg)

	afterTab, _ := updated.Update(tea.KeyMsg{Type: tea.KeyTab})
	board := afterTab.(Model)
	if board.active != paneAvailable {
		t.Fatalf("expected available pane active, got %v", board.active)
	}
	if board.selected != 0 {
		t.Fatalf("selection should reset on pane switch, got %d", board.selected)
	}
}

func TestBoardSelectionStaysInBounds(t *testing.T) {
	model, msg := testBoard()
	updated, _ := model.Update(msg)

	for i := 0; i < 5; i++ {
		updated, _ = updated.Update(tea.KeyMsg{Type: tea.KeyDown})
	}
	board := updated.(Model)
	if board.selected != 1 {
		t.Fatalf("selection ran past the last claim: %d", board.selected)
	}

	for i := 0; i < 5; i++ {
		updated, _ = updated.Update(tea.KeyMsg{Type: tea.KeyUp})
	}
	board = updated.(Model)
	if board.selected != 0 {
		t.Fatalf("selection ran past the first claim: %d", board.selected)
	}
}

func TestDetailBubbleRendersMarkdown(t *testing.T) {
	detail := NewDetailBubble()
	detail, _ = detail.Update(SetDetailMsg{Content: "## Plan\nrewrite it"})

	view := detail.View()
	if !strings.Contains(view, "Plan") {
		t.Fatalf("markdown content missing: %q", view)
	}
}

func TestDetailBubbleEmptyContent(t *testing.T) {
	detail := NewDetailBubble()
	if strings.TrimSpace(detail.View()) != "" {
		t.Fatalf("empty detail should render blank, got %q", detail.View())
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("unexpected truncation: %q", got)
	}
	if got := truncate("a very long title indeed", 10); len([]rune(got)) != 10 {
		t.Fatalf("expected 10 runes, got %q", got)
	}
	got := truncate("héhéhéhéhéhé", 5)
	if !utf8.ValidString(got) {
		t.Fatalf("truncation produced invalid UTF-8: %q", got)
	}
	if got != "héhé…" {
		t.Fatalf("expected rune-aware cut, got %q", got)
	}
}
