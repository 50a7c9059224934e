package coordinator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ao92265/claude-orchestra/internal/backlog"
	"github.com/ao92265/claude-orchestra/internal/github"
	"github.com/stretchr/testify/require"
)

func listAllManaged() github.ListIssuesOptions {
	return github.ListIssuesOptions{Labels: []string{MarkerLabel}, State: "all", AllPages: true}
}

func backlogItem(title, priority string) backlog.Item {
	return backlog.Item{
		Title:      title,
		Body:       "Details for " + title,
		TaskID:     backlog.TaskID(title),
		SourceFile: "TODO.md",
		Priority:   priority,
	}
}

func TestSyncBacklogCreatesNewTasks(t *testing.T) {
	tracker := newFakeTracker("alice")

	var pauses []time.Duration
	c := newTestCoordinator(t, tracker, Options{
		Pause: func(_ context.Context, d time.Duration) { pauses = append(pauses, d) },
	})

	items := []backlog.Item{
		backlogItem("Wire up the exporter", backlog.PriorityHigh),
		backlogItem("Document the retry policy", backlog.PriorityLow),
	}
	result, err := c.SyncBacklog(context.Background(), items)
	require.NoError(t, err)
	require.Equal(t, 2, result.Created)
	require.Zero(t, result.Updated)
	require.Empty(t, result.Errors)

	issues, err := tracker.ListIssues(context.Background(), listAllManaged())
	require.NoError(t, err)
	require.Len(t, issues, 2)

	first := issues[0]
	require.Contains(t, first.Body, "**Task ID**: `"+items[0].TaskID+"`")
	require.Contains(t, first.Body, "**Source**: `TODO.md`")
	require.True(t, hasAllLabels(&first, []string{MarkerLabel, StatusAvailable.Label(), PriorityHigh.Label()}))

	// A pause after each creation keeps the tracker's rate limiter calm.
	require.Equal(t, []time.Duration{syncCreatePause, syncCreatePause}, pauses)
}

func TestSyncBacklogIsIdempotent(t *testing.T) {
	tracker := newFakeTracker("alice")
	c := newTestCoordinator(t, tracker, Options{})

	items := []backlog.Item{backlogItem("Wire up the exporter", backlog.PriorityMedium)}

	first, err := c.SyncBacklog(context.Background(), items)
	require.NoError(t, err)
	require.Equal(t, 1, first.Created)

	second, err := c.SyncBacklog(context.Background(), items)
	require.NoError(t, err)
	require.Zero(t, second.Created)
	require.Equal(t, 1, second.Unchanged)

	issues, err := tracker.ListIssues(context.Background(), listAllManaged())
	require.NoError(t, err)
	require.Len(t, issues, 1)
}

func TestSyncBacklogMatchesClosedIssues(t *testing.T) {
	tracker := newFakeTracker("alice")
	c := newTestCoordinator(t, tracker, Options{})

	item := backlogItem("Wire up the exporter", backlog.PriorityMedium)
	_, err := c.SyncBacklog(context.Background(), []backlog.Item{item})
	require.NoError(t, err)

	closed := "closed"
	issues, err := tracker.ListIssues(context.Background(), listAllManaged())
	require.NoError(t, err)
	_, err = tracker.UpdateIssue(context.Background(), issues[0].Number, github.IssuePatch{State: &closed})
	require.NoError(t, err)

	// Finishing a task must not resurrect it on the next sync.
	result, err := c.SyncBacklog(context.Background(), []backlog.Item{item})
	require.NoError(t, err)
	require.Zero(t, result.Created)
	require.Equal(t, 1, result.Unchanged)
}

func TestSyncBacklogRetitlesDriftedTask(t *testing.T) {
	tracker := newFakeTracker("alice")
	c := newTestCoordinator(t, tracker, Options{})

	item := backlogItem("Wire up the exporter", backlog.PriorityMedium)
	_, err := c.SyncBacklog(context.Background(), []backlog.Item{item})
	require.NoError(t, err)

	// Same content id, hand-edited title on the tracker side.
	issues, err := tracker.ListIssues(context.Background(), listAllManaged())
	require.NoError(t, err)
	edited := "Exporter (edited by a human)"
	_, err = tracker.UpdateIssue(context.Background(), issues[0].Number, github.IssuePatch{Title: &edited})
	require.NoError(t, err)

	result, err := c.SyncBacklog(context.Background(), []backlog.Item{item})
	require.NoError(t, err)
	require.Equal(t, 1, result.Updated)
	require.Zero(t, result.Created)

	issues, err = tracker.ListIssues(context.Background(), listAllManaged())
	require.NoError(t, err)
	require.Equal(t, item.Title, issues[0].Title)
}

func TestSyncBacklogAccumulatesErrors(t *testing.T) {
	tracker := newFakeTracker("alice")
	c := newTestCoordinator(t, tracker, Options{})
	tracker.fail("CreateIssue", errors.New("rate limited"))

	result, err := c.SyncBacklog(context.Background(), []backlog.Item{
		backlogItem("One", backlog.PriorityMedium),
		backlogItem("Two", backlog.PriorityMedium),
	})
	require.NoError(t, err)
	require.Zero(t, result.Created)
	require.Len(t, result.Errors, 2)
	require.Contains(t, result.Errors[0], "rate limited")
}

func TestSyncFilesSkipsMissingPaths(t *testing.T) {
	dir := t.TempDir()
	todo := filepath.Join(dir, "TODO.md")
	content := "## High Priority\n\n- [ ] Wire up the exporter\n"
	require.NoError(t, os.WriteFile(todo, []byte(content), 0o644))

	tracker := newFakeTracker("alice")
	c := newTestCoordinator(t, tracker, Options{})

	result, err := c.SyncFiles(context.Background(), []string{
		todo,
		filepath.Join(dir, "docs", "TASKS.md"),
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.Created)
}
