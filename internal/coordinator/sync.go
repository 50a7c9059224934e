package coordinator

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ao92265/claude-orchestra/internal/backlog"
	"github.com/ao92265/claude-orchestra/internal/github"
)

// syncCreatePause spaces out issue creation so a large first sync stays
// inside the tracker's secondary rate limits.
const syncCreatePause = 2 * time.Second

// SyncResult summarizes one synchronizer run. Errors holds per-item
// failures; a run with errors still reports everything else it did.
type SyncResult struct {
	Created   int
	Updated   int
	Unchanged int
	Errors    []string
}

// SyncBacklog reconciles backlog items into tracker issues. The content id
// derived from each title is the dedup key: items already present are left
// alone (or retitled when the title drifted), new items become available
// issues. Issues are never deleted; removing a checklist line does not
// revoke published work.
func (c *Coordinator) SyncBacklog(ctx context.Context, items []backlog.Item) (SyncResult, error) {
	result := SyncResult{}

	existing, err := c.tracker.ListIssues(ctx, github.ListIssuesOptions{
		Labels:   []string{MarkerLabel},
		State:    "all",
		AllPages: true,
	})
	if err != nil {
		return result, fmt.Errorf("sync backlog: list existing: %w", err)
	}

	byContentID := map[string]github.Issue{}
	for _, issue := range existing {
		if id := extractContentID(issue.Body); id != "" {
			byContentID[id] = issue
		}
	}

	for _, item := range items {
		issue, found := byContentID[item.TaskID]
		if found {
			if issue.Title != item.Title {
				title := item.Title
				if _, err := c.tracker.UpdateIssue(ctx, issue.Number, github.IssuePatch{Title: &title}); err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("retitle #%d: %v", issue.Number, err))
					continue
				}
				result.Updated++
			} else {
				result.Unchanged++
			}
			continue
		}

		labels := []string{MarkerLabel, StatusAvailable.Label()}
		if item.Priority != "" {
			labels = append(labels, TaskPriority(item.Priority).Label())
		}

		created, err := c.tracker.CreateIssue(ctx, item.Title, formatIssueBody(item), labels)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("create %q: %v", item.Title, err))
			continue
		}
		result.Created++
		byContentID[item.TaskID] = created

		c.logf("info", map[string]interface{}{
			"message": "backlog task published",
			"issue":   created.Number,
			"task_id": item.TaskID,
		})
		c.pause(ctx, syncCreatePause)
	}

	c.logf("info", map[string]interface{}{
		"message":   "backlog sync finished",
		"created":   result.Created,
		"updated":   result.Updated,
		"unchanged": result.Unchanged,
		"errors":    len(result.Errors),
	})
	return result, nil
}

// SyncFiles parses every existing backlog file and syncs the combined item
// set. Missing files are skipped silently; projects rarely carry all the
// conventional checklist locations.
func (c *Coordinator) SyncFiles(ctx context.Context, paths []string) (SyncResult, error) {
	var items []backlog.Item
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		parsed, err := backlog.ParseFile(path)
		if err != nil {
			return SyncResult{}, fmt.Errorf("sync backlog: %w", err)
		}
		items = append(items, parsed...)
	}
	return c.SyncBacklog(ctx, items)
}
