package coordinator

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ao92265/claude-orchestra/internal/backlog"
	"github.com/ao92265/claude-orchestra/internal/github"
)

// Task is the coordinator's view of one managed issue.
type Task struct {
	Number      int
	Title       string
	Description string
	Status      TaskStatus
	Priority    TaskPriority
	Size        TaskSize
	Assignee    string
	Labels      []string
	ContentID   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasLabel reports whether the task carries the named label.
func (t Task) HasLabel(name string) bool {
	for _, label := range t.Labels {
		if label == name {
			return true
		}
	}
	return false
}

var contentIDPattern = regexp.MustCompile("\\*\\*Task ID\\*\\*: `(task-[a-f0-9]+)`")

// taskFromIssue projects an issue into the task model. Unknown labels are
// carried through verbatim so callers can render them.
func taskFromIssue(issue github.Issue) Task {
	task := Task{
		Number:      issue.Number,
		Title:       issue.Title,
		Description: issue.Body,
		ContentID:   extractContentID(issue.Body),
		CreatedAt:   issue.CreatedAt,
		UpdatedAt:   issue.UpdatedAt,
	}
	if issue.Assignee != nil {
		task.Assignee = issue.Assignee.Login
	}

	for _, label := range issue.Labels {
		task.Labels = append(task.Labels, label.Name)
		switch {
		case strings.HasPrefix(label.Name, "status:"):
			task.Status = TaskStatus(strings.TrimPrefix(label.Name, "status:"))
		case strings.HasPrefix(label.Name, "priority:"):
			task.Priority = TaskPriority(strings.TrimPrefix(label.Name, "priority:"))
		case strings.HasPrefix(label.Name, "size:"):
			task.Size = TaskSize(strings.TrimPrefix(label.Name, "size:"))
		}
	}
	return task
}

// extractContentID pulls the content-derived task id out of an issue body.
// Returns the empty string when the issue was not created by the
// synchronizer.
func extractContentID(body string) string {
	match := contentIDPattern.FindStringSubmatch(body)
	if match == nil {
		return ""
	}
	return match[1]
}

// formatIssueBody renders the issue body for a backlog item. The Task ID
// line is the dedup key the synchronizer matches on; keep its shape stable.
func formatIssueBody(item backlog.Item) string {
	var b strings.Builder
	if strings.TrimSpace(item.Body) != "" {
		b.WriteString(strings.TrimRight(item.Body, "\n"))
		b.WriteString("\n\n")
	}
	b.WriteString("---\n")
	fmt.Fprintf(&b, "**Task ID**: `%s`\n", item.TaskID)
	fmt.Fprintf(&b, "**Source**: `%s`\n", item.SourceFile)
	return b.String()
}
