// Package coordinator implements cooperative task leasing over a shared
// issue tracker. Many agents read the same repository; mutual exclusion is
// optimistic: claim by assignment, then re-read to verify the assignment
// stuck before touching anything else.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ao92265/claude-orchestra/internal/github"
	"github.com/ao92265/claude-orchestra/internal/logging"
)

const (
	defaultHeartbeatInterval = 5 * time.Minute
	defaultClaimTimeout      = 30 * time.Minute

	// claimAttemptPause spaces out successive claim attempts inside
	// ClaimNextAvailable so a burst of races does not hammer the API.
	claimAttemptPause = 500 * time.Millisecond
)

// Tracker is the slice of the issue tracker the coordinator needs. The
// concrete implementation is github.Client; tests substitute a fake.
type Tracker interface {
	AuthenticatedUser(ctx context.Context) (string, error)
	ListLabels(ctx context.Context) ([]github.Label, error)
	CreateLabel(ctx context.Context, label github.Label) error
	GetIssue(ctx context.Context, issueNumber int) (github.Issue, error)
	ListIssues(ctx context.Context, opts github.ListIssuesOptions) ([]github.Issue, error)
	CreateIssue(ctx context.Context, title, body string, labels []string) (github.Issue, error)
	UpdateIssue(ctx context.Context, issueNumber int, patch github.IssuePatch) (github.Issue, error)
	AddLabels(ctx context.Context, issueNumber int, labels []string) error
	RemoveLabel(ctx context.Context, issueNumber int, label string) error
	ListComments(ctx context.Context, issueNumber int) ([]github.Comment, error)
	CreateComment(ctx context.Context, issueNumber int, body string) (github.Comment, error)
	UpdateComment(ctx context.Context, commentID int64, body string) error
}

// Options tunes a Coordinator. Zero values fall back to defaults; Clock and
// Pause exist so tests control time without sleeping.
type Options struct {
	Logger            *logging.StructuredLogger
	HeartbeatInterval time.Duration
	ClaimTimeout      time.Duration
	Clock             func() time.Time
	Pause             func(ctx context.Context, d time.Duration)
}

// Coordinator drives the lease protocol for one agent against one
// repository. It tracks the leases this process holds; leases held by other
// agents are only ever observed through the tracker.
type Coordinator struct {
	tracker Tracker
	logger  *logging.StructuredLogger

	agent             AgentIdentity
	heartbeatInterval time.Duration
	claimTimeout      time.Duration
	clock             func() time.Time
	pause             func(ctx context.Context, d time.Duration)

	mu            sync.Mutex
	leases        map[int]Lease
	leaseComments map[int]int64

	heartbeatCancel context.CancelFunc
	heartbeatDone   chan struct{}
}

// New builds a Coordinator. Setup must run before any other operation.
func New(tracker Tracker, opts Options) (*Coordinator, error) {
	if tracker == nil {
		return nil, errors.New("coordinator requires a tracker")
	}

	heartbeat := opts.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	timeout := opts.ClaimTimeout
	if timeout <= 0 {
		timeout = defaultClaimTimeout
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	pause := opts.Pause
	if pause == nil {
		pause = sleepPause
	}

	return &Coordinator{
		tracker:           tracker,
		logger:            opts.Logger,
		heartbeatInterval: heartbeat,
		claimTimeout:      timeout,
		clock:             clock,
		pause:             pause,
		leases:            map[int]Lease{},
		leaseComments:     map[int]int64{},
	}, nil
}

// Setup resolves the authenticated user, mints this session's identity, and
// ensures the label taxonomy exists. Idempotent; safe to call on every start.
func (c *Coordinator) Setup(ctx context.Context) error {
	username, err := c.tracker.AuthenticatedUser(ctx)
	if err != nil {
		return fmt.Errorf("resolve authenticated user: %w", err)
	}

	c.agent = GenerateIdentity(username, c.clock())
	c.logger = c.logger.WithFields(logging.SchemaFields{
		AgentID: c.agent.AgentID,
		RunID:   c.agent.RunID,
	})

	if err := EnsureLabels(ctx, c.tracker); err != nil {
		return err
	}

	c.logf("info", map[string]interface{}{
		"message":   "coordinator session started",
		"user":      username,
		"heartbeat": c.heartbeatInterval.String(),
		"timeout":   c.claimTimeout.String(),
	})
	return nil
}

// Identity returns this session's agent identity.
func (c *Coordinator) Identity() AgentIdentity { return c.agent }

// Close stops the heartbeat loop. Held leases stay on the tracker so another
// agent can reclaim them once they go stale.
func (c *Coordinator) Close() {
	c.StopHeartbeatLoop()
}

// ClaimFailureReason classifies why a claim did not succeed. These are
// protocol outcomes, not errors: losing a race is normal operation.
type ClaimFailureReason string

const (
	ReasonAlreadyAssigned  ClaimFailureReason = "already_assigned"
	ReasonNotAvailable     ClaimFailureReason = "not_available"
	ReasonRaceCondition    ClaimFailureReason = "race_condition"
	ReasonNoTasksAvailable ClaimFailureReason = "no_tasks_available"
	ReasonAllTasksClaimed  ClaimFailureReason = "all_tasks_claimed"
)

// ClaimResult reports one claim attempt. On success Task, Branch, and Lease
// are populated; on failure Reason says why.
type ClaimResult struct {
	Success     bool
	IssueNumber int
	Task        *Task
	Branch      string
	Lease       *Lease
	Reason      ClaimFailureReason
}

// Claim attempts to take ownership of one task. Protocol failures come back
// in the result; only tracker errors are returned as errors.
//
// The check-then-assign sequence is not atomic. The re-read after assignment
// closes most of the window: whichever agent the tracker reports as assignee
// after both writes land is the winner, and everyone else backs off. A
// tracker that resolves concurrent assignments nondeterministically can
// still, rarely, let two agents both see themselves as winner; the lease
// comment makes such collisions visible for humans to untangle.
func (c *Coordinator) Claim(ctx context.Context, issueNumber int, branch string) (ClaimResult, error) {
	failed := ClaimResult{IssueNumber: issueNumber}

	issue, err := c.tracker.GetIssue(ctx, issueNumber)
	if err != nil {
		return failed, fmt.Errorf("claim #%d: %w", issueNumber, err)
	}

	if issue.Assignee != nil && strings.TrimSpace(issue.Assignee.Login) != "" {
		if issue.Assignee.Login == c.agent.GitHubUsername {
			// Already ours, likely from a previous run. Refresh the
			// local table instead of failing.
			return c.adoptExistingClaim(ctx, issue, branch)
		}
		failed.Reason = ReasonAlreadyAssigned
		return failed, nil
	}
	if !issueHasLabel(issue, StatusAvailable.Label()) {
		failed.Reason = ReasonNotAvailable
		return failed, nil
	}

	assignee := c.agent.GitHubUsername
	if _, err := c.tracker.UpdateIssue(ctx, issueNumber, github.IssuePatch{Assignee: &assignee}); err != nil {
		return failed, fmt.Errorf("claim #%d: assign: %w", issueNumber, err)
	}

	// Verification read. If another agent's assignment landed after ours,
	// the tracker shows them and we back off without touching labels.
	verified, err := c.tracker.GetIssue(ctx, issueNumber)
	if err != nil {
		return failed, fmt.Errorf("claim #%d: verify: %w", issueNumber, err)
	}
	if verified.Assignee == nil || verified.Assignee.Login != c.agent.GitHubUsername {
		c.logf("warn", map[string]interface{}{
			"message": "lost claim race",
			"issue":   issueNumber,
		})
		failed.Reason = ReasonRaceCondition
		return failed, nil
	}

	if err := c.tracker.RemoveLabel(ctx, issueNumber, StatusAvailable.Label()); err != nil {
		return failed, fmt.Errorf("claim #%d: swap labels: %w", issueNumber, err)
	}
	if err := c.tracker.AddLabels(ctx, issueNumber, []string{StatusClaimed.Label()}); err != nil {
		return failed, fmt.Errorf("claim #%d: swap labels: %w", issueNumber, err)
	}

	if strings.TrimSpace(branch) == "" {
		branch = c.BranchName(issueNumber)
	}

	now := c.clock().UTC()
	lease := Lease{
		IssueNumber:    issueNumber,
		AgentID:        c.agent.AgentID,
		GitHubUsername: c.agent.GitHubUsername,
		Branch:         branch,
		ClaimedAt:      now,
		LastHeartbeat:  now,
	}
	comment, err := c.tracker.CreateComment(ctx, issueNumber, formatLeaseComment(lease))
	if err != nil {
		return failed, fmt.Errorf("claim #%d: record lease: %w", issueNumber, err)
	}

	c.trackLease(lease, comment.ID)

	task := taskFromIssue(verified)
	task.Status = StatusClaimed
	c.logf("info", map[string]interface{}{
		"message": "task claimed",
		"issue":   issueNumber,
		"title":   task.Title,
		"branch":  branch,
	})
	return ClaimResult{
		Success:     true,
		IssueNumber: issueNumber,
		Task:        &task,
		Branch:      branch,
		Lease:       &lease,
	}, nil
}

// adoptExistingClaim re-records a lease for an issue already assigned to this
// agent's user, typically left over from a crashed run.
func (c *Coordinator) adoptExistingClaim(ctx context.Context, issue github.Issue, branch string) (ClaimResult, error) {
	if strings.TrimSpace(branch) == "" {
		branch = c.BranchName(issue.Number)
	}

	comments, err := c.tracker.ListComments(ctx, issue.Number)
	if err != nil {
		return ClaimResult{IssueNumber: issue.Number}, fmt.Errorf("claim #%d: read lease: %w", issue.Number, err)
	}

	lease, commentID, ok := leaseFromComments(issue.Number, comments)
	if ok {
		if strings.TrimSpace(lease.Branch) != "" {
			branch = lease.Branch
		}
		lease.LastHeartbeat = c.clock().UTC()
		if err := c.tracker.UpdateComment(ctx, commentID, formatLeaseComment(lease)); err != nil {
			return ClaimResult{IssueNumber: issue.Number}, fmt.Errorf("claim #%d: refresh lease: %w", issue.Number, err)
		}
	} else {
		now := c.clock().UTC()
		lease = Lease{
			IssueNumber:    issue.Number,
			AgentID:        c.agent.AgentID,
			GitHubUsername: c.agent.GitHubUsername,
			Branch:         branch,
			ClaimedAt:      now,
			LastHeartbeat:  now,
		}
		comment, err := c.tracker.CreateComment(ctx, issue.Number, formatLeaseComment(lease))
		if err != nil {
			return ClaimResult{IssueNumber: issue.Number}, fmt.Errorf("claim #%d: record lease: %w", issue.Number, err)
		}
		commentID = comment.ID
	}

	c.trackLease(lease, commentID)

	task := taskFromIssue(issue)
	c.logf("info", map[string]interface{}{
		"message": "resumed existing claim",
		"issue":   issue.Number,
		"branch":  branch,
	})
	return ClaimResult{
		Success:     true,
		IssueNumber: issue.Number,
		Task:        &task,
		Branch:      branch,
		Lease:       &lease,
	}, nil
}

// ClaimNextAvailable claims the best available task, walking the directory
// in priority order and absorbing lost races. Tracker errors on a single
// candidate are logged and skipped; only a directory listing failure is
// fatal.
func (c *Coordinator) ClaimNextAvailable(ctx context.Context, priority TaskPriority, size TaskSize) (ClaimResult, error) {
	tasks, err := c.AvailableTasks(ctx, priority, size, 0)
	if err != nil {
		return ClaimResult{}, err
	}
	if len(tasks) == 0 {
		return ClaimResult{Reason: ReasonNoTasksAvailable}, nil
	}

	for i, task := range tasks {
		if i > 0 {
			c.pause(ctx, claimAttemptPause)
		}

		result, err := c.Claim(ctx, task.Number, "")
		if err != nil {
			c.logf("warn", map[string]interface{}{
				"message": "claim attempt failed",
				"issue":   task.Number,
				"error":   err.Error(),
			})
			continue
		}
		if result.Success {
			return result, nil
		}
		c.logf("debug", map[string]interface{}{
			"message": "claim attempt rejected",
			"issue":   task.Number,
			"reason":  string(result.Reason),
		})
	}

	return ClaimResult{Reason: ReasonAllTasksClaimed}, nil
}

// ReleaseClaim gives a task back without finishing it: unassign, restore the
// available status, and leave an audit comment. The lease comment stays in
// the history; the next claim writes a newer one that supersedes it.
func (c *Coordinator) ReleaseClaim(ctx context.Context, issueNumber int, reason string) error {
	empty := ""
	if _, err := c.tracker.UpdateIssue(ctx, issueNumber, github.IssuePatch{Assignee: &empty}); err != nil {
		return fmt.Errorf("release #%d: %w", issueNumber, err)
	}
	for _, status := range []TaskStatus{StatusClaimed, StatusInProgress} {
		if err := c.tracker.RemoveLabel(ctx, issueNumber, status.Label()); err != nil {
			return fmt.Errorf("release #%d: %w", issueNumber, err)
		}
	}
	if err := c.tracker.AddLabels(ctx, issueNumber, []string{StatusAvailable.Label()}); err != nil {
		return fmt.Errorf("release #%d: %w", issueNumber, err)
	}

	message := fmt.Sprintf("🔓 Released by `%s`", c.agent.AgentID)
	if strings.TrimSpace(reason) != "" {
		message += "\n\n**Reason**: " + strings.TrimSpace(reason)
	}
	if _, err := c.tracker.CreateComment(ctx, issueNumber, message); err != nil {
		return fmt.Errorf("release #%d: %w", issueNumber, err)
	}

	c.untrackLease(issueNumber)
	c.logf("info", map[string]interface{}{
		"message": "claim released",
		"issue":   issueNumber,
	})
	return nil
}

// UpdateProgress refreshes the lease heartbeat, optionally advancing status
// and recording a progress note. Issues this process holds no lease for are
// a warning no-op rather than an error: callers race with reclamation.
func (c *Coordinator) UpdateProgress(ctx context.Context, issueNumber int, status TaskStatus, note string) error {
	c.mu.Lock()
	lease, held := c.leases[issueNumber]
	commentID := c.leaseComments[issueNumber]
	c.mu.Unlock()

	if !held {
		c.logf("warn", map[string]interface{}{
			"message": "progress update for unheld task ignored",
			"issue":   issueNumber,
		})
		return nil
	}

	lease.LastHeartbeat = c.clock().UTC()
	if strings.TrimSpace(note) != "" {
		lease.Progress = strings.TrimSpace(note)
	}

	if status != "" && status != StatusClaimed {
		if err := c.tracker.RemoveLabel(ctx, issueNumber, StatusClaimed.Label()); err != nil {
			return fmt.Errorf("update progress #%d: %w", issueNumber, err)
		}
		if err := c.tracker.AddLabels(ctx, issueNumber, []string{status.Label()}); err != nil {
			return fmt.Errorf("update progress #%d: %w", issueNumber, err)
		}
	}

	if err := c.tracker.UpdateComment(ctx, commentID, formatLeaseComment(lease)); err != nil {
		return fmt.Errorf("update progress #%d: %w", issueNumber, err)
	}

	c.mu.Lock()
	c.leases[issueNumber] = lease
	c.mu.Unlock()
	return nil
}

// BranchName returns the working branch for a task claimed by this agent.
func (c *Coordinator) BranchName(issueNumber int) string {
	return fmt.Sprintf("%s/task/%d", c.agent.GitHubUsername, issueNumber)
}

// HeldLeases snapshots the leases this process currently tracks.
func (c *Coordinator) HeldLeases() []Lease {
	c.mu.Lock()
	defer c.mu.Unlock()

	leases := make([]Lease, 0, len(c.leases))
	for _, lease := range c.leases {
		leases = append(leases, lease)
	}
	return leases
}

func (c *Coordinator) trackLease(lease Lease, commentID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leases[lease.IssueNumber] = lease
	c.leaseComments[lease.IssueNumber] = commentID
}

func (c *Coordinator) untrackLease(issueNumber int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.leases, issueNumber)
	delete(c.leaseComments, issueNumber)
}

func (c *Coordinator) logf(level string, fields map[string]interface{}) {
	_ = c.logger.Log(level, fields)
}

func issueHasLabel(issue github.Issue, name string) bool {
	for _, label := range issue.Labels {
		if label.Name == name {
			return true
		}
	}
	return false
}

func sleepPause(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
