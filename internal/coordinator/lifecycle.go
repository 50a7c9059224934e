package coordinator

import (
	"context"
	"fmt"
	"strings"

	"github.com/ao92265/claude-orchestra/internal/github"
)

// MarkPRCreated moves a task to review once its pull request exists. The
// task stays assigned; the lease keeps beating until the work concludes.
func (c *Coordinator) MarkPRCreated(ctx context.Context, issueNumber int, prRef string) error {
	for _, status := range []TaskStatus{StatusClaimed, StatusInProgress} {
		if err := c.tracker.RemoveLabel(ctx, issueNumber, status.Label()); err != nil {
			return fmt.Errorf("mark pr created #%d: %w", issueNumber, err)
		}
	}
	if err := c.tracker.AddLabels(ctx, issueNumber, []string{StatusReview.Label()}); err != nil {
		return fmt.Errorf("mark pr created #%d: %w", issueNumber, err)
	}

	message := fmt.Sprintf("🔀 Pull request opened by `%s`", c.agent.AgentID)
	if strings.TrimSpace(prRef) != "" {
		message += ": " + strings.TrimSpace(prRef)
	}
	if _, err := c.tracker.CreateComment(ctx, issueNumber, message); err != nil {
		return fmt.Errorf("mark pr created #%d: %w", issueNumber, err)
	}

	c.logf("info", map[string]interface{}{
		"message": "task moved to review",
		"issue":   issueNumber,
		"pr":      prRef,
	})
	return nil
}

// CompleteTask records the outcome and closes the issue. The lease is
// dropped from the local table; closed issues are invisible to every scan,
// so nothing else needs cleaning up.
func (c *Coordinator) CompleteTask(ctx context.Context, issueNumber int, prRef, summary string) error {
	message := fmt.Sprintf("✅ Completed by `%s`", c.agent.AgentID)
	if strings.TrimSpace(prRef) != "" {
		message += "\n\n**Pull Request**: " + strings.TrimSpace(prRef)
	}
	if strings.TrimSpace(summary) != "" {
		message += "\n\n**Summary**: " + strings.TrimSpace(summary)
	}
	if _, err := c.tracker.CreateComment(ctx, issueNumber, message); err != nil {
		return fmt.Errorf("complete #%d: %w", issueNumber, err)
	}

	closed := "closed"
	if _, err := c.tracker.UpdateIssue(ctx, issueNumber, github.IssuePatch{State: &closed}); err != nil {
		return fmt.Errorf("complete #%d: %w", issueNumber, err)
	}

	c.untrackLease(issueNumber)
	c.logf("info", map[string]interface{}{
		"message": "task completed",
		"issue":   issueNumber,
		"pr":      prRef,
	})
	return nil
}

// MarkBlocked parks a task: the blocked label replaces any working status,
// the assignee is cleared so the task shows up as needing attention, and the
// reason lands in a comment. Blocked tasks are not available; a human
// removes the label once the blocker clears.
func (c *Coordinator) MarkBlocked(ctx context.Context, issueNumber int, reason string) error {
	for _, status := range []TaskStatus{StatusClaimed, StatusInProgress, StatusReview} {
		if err := c.tracker.RemoveLabel(ctx, issueNumber, status.Label()); err != nil {
			return fmt.Errorf("mark blocked #%d: %w", issueNumber, err)
		}
	}
	if err := c.tracker.AddLabels(ctx, issueNumber, []string{StatusBlocked.Label()}); err != nil {
		return fmt.Errorf("mark blocked #%d: %w", issueNumber, err)
	}

	empty := ""
	if _, err := c.tracker.UpdateIssue(ctx, issueNumber, github.IssuePatch{Assignee: &empty}); err != nil {
		return fmt.Errorf("mark blocked #%d: %w", issueNumber, err)
	}

	message := fmt.Sprintf("🚧 Blocked, flagged by `%s`", c.agent.AgentID)
	if strings.TrimSpace(reason) != "" {
		message += "\n\n**Reason**: " + strings.TrimSpace(reason)
	}
	if _, err := c.tracker.CreateComment(ctx, issueNumber, message); err != nil {
		return fmt.Errorf("mark blocked #%d: %w", issueNumber, err)
	}

	c.untrackLease(issueNumber)
	c.logf("info", map[string]interface{}{
		"message": "task blocked",
		"issue":   issueNumber,
		"reason":  reason,
	})
	return nil
}
