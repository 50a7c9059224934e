package coordinator

import (
	"context"
	"fmt"
	"sort"

	"github.com/ao92265/claude-orchestra/internal/github"
)

// AvailableTasks lists unassigned available tasks, best first. Priority and
// size narrow the listing when non-empty; limit caps the result when
// positive. The sort is stable so equal-priority tasks keep the tracker's
// ordering.
func (c *Coordinator) AvailableTasks(ctx context.Context, priority TaskPriority, size TaskSize, limit int) ([]Task, error) {
	labels := []string{MarkerLabel, StatusAvailable.Label()}
	if priority != "" {
		labels = append(labels, priority.Label())
	}
	if size != "" {
		labels = append(labels, size.Label())
	}

	issues, err := c.tracker.ListIssues(ctx, github.ListIssuesOptions{
		Labels:   labels,
		State:    "open",
		Assignee: "none",
		AllPages: true,
	})
	if err != nil {
		return nil, fmt.Errorf("list available tasks: %w", err)
	}

	tasks := make([]Task, 0, len(issues))
	for _, issue := range issues {
		tasks = append(tasks, taskFromIssue(issue))
	}

	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].Priority.rank() < tasks[j].Priority.rank()
	})

	if limit > 0 && len(tasks) > limit {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

// MyTasks lists open tasks assigned to this agent's user.
func (c *Coordinator) MyTasks(ctx context.Context) ([]Task, error) {
	issues, err := c.tracker.ListIssues(ctx, github.ListIssuesOptions{
		Labels:   []string{MarkerLabel},
		State:    "open",
		Assignee: c.agent.GitHubUsername,
		AllPages: true,
	})
	if err != nil {
		return nil, fmt.Errorf("list my tasks: %w", err)
	}

	tasks := make([]Task, 0, len(issues))
	for _, issue := range issues {
		tasks = append(tasks, taskFromIssue(issue))
	}
	return tasks, nil
}

// ActiveClaim pairs a claimed task with its current lease.
type ActiveClaim struct {
	Task  Task
	Lease Lease
}

// ActiveClaims lists every claimed or in-progress task together with its
// lease, across all agents. Review tasks are excluded: their lease lives on
// but they are no longer contended. Tasks without a readable lease are
// skipped with a warning; the listing is for visibility, not enforcement.
func (c *Coordinator) ActiveClaims(ctx context.Context) ([]ActiveClaim, error) {
	var claims []ActiveClaim

	for _, status := range []TaskStatus{StatusClaimed, StatusInProgress} {
		issues, err := c.tracker.ListIssues(ctx, github.ListIssuesOptions{
			Labels:   []string{MarkerLabel, status.Label()},
			State:    "open",
			AllPages: true,
		})
		if err != nil {
			return nil, fmt.Errorf("list active claims: %w", err)
		}

		for _, issue := range issues {
			comments, err := c.tracker.ListComments(ctx, issue.Number)
			if err != nil {
				c.logf("warn", map[string]interface{}{
					"message": "cannot read comments for claim listing",
					"issue":   issue.Number,
					"error":   err.Error(),
				})
				continue
			}
			lease, _, ok := leaseFromComments(issue.Number, comments)
			if !ok {
				c.logf("warn", map[string]interface{}{
					"message": "claimed task has no readable lease, skipping",
					"issue":   issue.Number,
				})
				continue
			}
			claims = append(claims, ActiveClaim{Task: taskFromIssue(issue), Lease: lease})
		}
	}
	return claims, nil
}
