package coordinator

import (
	"context"
	"fmt"

	"github.com/ao92265/claude-orchestra/internal/github"
)

// MarkerLabel identifies issues managed by the coordinator. Issues without
// it are invisible to every coordinator operation.
const MarkerLabel = "orchestra-task"

// TaskStatus is the coordination state of a task. Exactly one status label
// is expected on a managed issue; the label name is "status:" + the status.
type TaskStatus string

const (
	StatusAvailable  TaskStatus = "available"
	StatusClaimed    TaskStatus = "claimed"
	StatusInProgress TaskStatus = "in-progress"
	StatusBlocked    TaskStatus = "blocked"
	StatusReview     TaskStatus = "review"
)

// Label returns the issue label carrying this status.
func (s TaskStatus) Label() string { return "status:" + string(s) }

// TaskPriority orders the task directory. The empty priority sorts last.
type TaskPriority string

const (
	PriorityHigh   TaskPriority = "high"
	PriorityMedium TaskPriority = "medium"
	PriorityLow    TaskPriority = "low"
)

// Label returns the issue label carrying this priority.
func (p TaskPriority) Label() string { return "priority:" + string(p) }

// rank maps priorities to a sort key. Lower sorts first.
func (p TaskPriority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	default:
		return 3
	}
}

// TaskSize is an optional effort hint, never interpreted by the protocol.
type TaskSize string

const (
	SizeSmall  TaskSize = "small"
	SizeMedium TaskSize = "medium"
	SizeLarge  TaskSize = "large"
)

// Label returns the issue label carrying this size.
func (z TaskSize) Label() string { return "size:" + string(z) }

// taxonomy is the full label set the coordinator needs. EnsureLabels creates
// every entry; colors match across repositories so boards look uniform.
var taxonomy = []github.Label{
	{Name: MarkerLabel, Color: "5319e7", Description: "Task managed by orchestra"},
	{Name: StatusAvailable.Label(), Color: "0e8a16", Description: "Ready to be claimed"},
	{Name: StatusClaimed.Label(), Color: "fbca04", Description: "Claimed by an agent"},
	{Name: StatusInProgress.Label(), Color: "1d76db", Description: "Actively being worked on"},
	{Name: StatusBlocked.Label(), Color: "d93f0b", Description: "Blocked, needs attention"},
	{Name: StatusReview.Label(), Color: "c5def5", Description: "PR open, awaiting review"},
	{Name: PriorityHigh.Label(), Color: "b60205", Description: "High priority"},
	{Name: PriorityMedium.Label(), Color: "fbca04", Description: "Medium priority"},
	{Name: PriorityLow.Label(), Color: "0e8a16", Description: "Low priority"},
	{Name: SizeSmall.Label(), Color: "c2e0c6", Description: "Small task"},
	{Name: SizeMedium.Label(), Color: "fef2c0", Description: "Medium task"},
	{Name: SizeLarge.Label(), Color: "f9d0c4", Description: "Large task"},
}

// EnsureLabels creates any coordination label missing from the repository.
// Safe to repeat on every startup.
func EnsureLabels(ctx context.Context, tracker Tracker) error {
	existing, err := tracker.ListLabels(ctx)
	if err != nil {
		return fmt.Errorf("list labels: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, label := range existing {
		have[label.Name] = true
	}
	for _, label := range taxonomy {
		if have[label.Name] {
			continue
		}
		if err := tracker.CreateLabel(ctx, label); err != nil {
			return fmt.Errorf("ensure label %q: %w", label.Name, err)
		}
	}
	return nil
}
