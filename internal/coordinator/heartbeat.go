package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/ao92265/claude-orchestra/internal/github"
)

// StartHeartbeatLoop refreshes every held lease on the configured interval
// until StopHeartbeatLoop or ctx cancellation. Starting twice is a no-op.
// Per-lease failures are logged and retried next tick; the loop never dies
// because one update failed.
func (c *Coordinator) StartHeartbeatLoop(ctx context.Context) {
	c.mu.Lock()
	if c.heartbeatCancel != nil {
		c.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.heartbeatCancel = cancel
	c.heartbeatDone = done
	c.mu.Unlock()

	go c.heartbeatLoop(loopCtx, done)
}

// StopHeartbeatLoop cancels the loop and waits for it to exit. Safe to call
// when the loop was never started.
func (c *Coordinator) StopHeartbeatLoop() {
	c.mu.Lock()
	cancel := c.heartbeatCancel
	done := c.heartbeatDone
	c.heartbeatCancel = nil
	c.heartbeatDone = nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *Coordinator) heartbeatLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.beatOnce(ctx)
		}
	}
}

func (c *Coordinator) beatOnce(ctx context.Context) {
	c.mu.Lock()
	numbers := make([]int, 0, len(c.leases))
	for issueNumber := range c.leases {
		numbers = append(numbers, issueNumber)
	}
	c.mu.Unlock()

	for _, issueNumber := range numbers {
		if err := c.UpdateProgress(ctx, issueNumber, "", ""); err != nil {
			c.logf("warn", map[string]interface{}{
				"message": "heartbeat update failed",
				"issue":   issueNumber,
				"error":   err.Error(),
			})
		}
	}
}

// StaleClaim pairs a lease with the task it has gone stale on.
type StaleClaim struct {
	Task  Task
	Lease Lease
	Age   time.Duration
}

// CheckStaleClaims scans every claimed or in-progress task and reports the
// ones whose lease heartbeat is older than the claim timeout. Tasks whose
// lease comment is missing or unparseable are skipped with a warning; their
// liveness cannot be judged, so they are never reported stale.
func (c *Coordinator) CheckStaleClaims(ctx context.Context) ([]StaleClaim, error) {
	now := c.clock().UTC()
	var stale []StaleClaim

	for _, status := range []TaskStatus{StatusClaimed, StatusInProgress} {
		issues, err := c.tracker.ListIssues(ctx, github.ListIssuesOptions{
			Labels:   []string{MarkerLabel, status.Label()},
			State:    "open",
			AllPages: true,
		})
		if err != nil {
			return nil, fmt.Errorf("scan stale claims: %w", err)
		}

		for _, issue := range issues {
			comments, err := c.tracker.ListComments(ctx, issue.Number)
			if err != nil {
				c.logf("warn", map[string]interface{}{
					"message": "cannot read comments during stale scan",
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

			if age := lease.Age(now); age > c.claimTimeout {
				stale = append(stale, StaleClaim{
					Task:  taskFromIssue(issue),
					Lease: lease,
					Age:   age,
				})
			}
		}
	}
	return stale, nil
}

// ReclaimStaleTasks returns every stale task to the available pool:
// unassign, restore the available status, and leave an audit comment naming
// the expired lease. Failures on individual tasks are logged and skipped so
// one bad issue cannot block the rest of the sweep. Returns the number of
// tasks reclaimed.
func (c *Coordinator) ReclaimStaleTasks(ctx context.Context) (int, error) {
	stale, err := c.CheckStaleClaims(ctx)
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, claim := range stale {
		if err := c.reclaimOne(ctx, claim); err != nil {
			c.logf("warn", map[string]interface{}{
				"message": "reclaim failed",
				"issue":   claim.Task.Number,
				"error":   err.Error(),
			})
			continue
		}
		reclaimed++
	}
	return reclaimed, nil
}

func (c *Coordinator) reclaimOne(ctx context.Context, claim StaleClaim) error {
	issueNumber := claim.Task.Number

	empty := ""
	if _, err := c.tracker.UpdateIssue(ctx, issueNumber, github.IssuePatch{Assignee: &empty}); err != nil {
		return err
	}
	for _, status := range []TaskStatus{StatusClaimed, StatusInProgress} {
		if err := c.tracker.RemoveLabel(ctx, issueNumber, status.Label()); err != nil {
			return err
		}
	}
	if err := c.tracker.AddLabels(ctx, issueNumber, []string{StatusAvailable.Label()}); err != nil {
		return err
	}

	message := fmt.Sprintf(
		"♻️ Reclaimed: lease held by `%s` went stale (last heartbeat %s, %s ago).",
		claim.Lease.AgentID,
		claim.Lease.LastHeartbeat.UTC().Format(time.RFC3339),
		claim.Age.Round(time.Minute),
	)
	if _, err := c.tracker.CreateComment(ctx, issueNumber, message); err != nil {
		return err
	}

	c.logf("info", map[string]interface{}{
		"message":    "stale task reclaimed",
		"issue":      issueNumber,
		"stale_from": claim.Lease.AgentID,
	})
	return nil
}
