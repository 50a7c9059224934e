// Package backlog parses hierarchical markdown checklists into candidate
// tasks and watches the checklist files for edits.
package backlog

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"strings"
)

const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"

	// prioritySkip marks sections whose items are never candidate tasks
	// (completed work, long-form documentation).
	prioritySkip = "skip"
)

var taskLinePattern = regexp.MustCompile(`^- \[ \] (.+)$`)
var checklistLinePattern = regexp.MustCompile(`^- \[[ xX]\]`)

// Item is one unchecked checklist entry: a candidate task.
type Item struct {
	Title      string
	Body       string
	TaskID     string
	SourceFile string
	Priority   string
}

// TaskID derives the stable content-addressed identifier for a task title.
// It keys deduplication across sync runs and is never derived from the
// tracker's numeric id.
func TaskID(title string) string {
	sum := sha256.Sum256([]byte(title))
	return "task-" + hex.EncodeToString(sum[:])[:8]
}

// ParseFile reads and parses one checklist file.
func ParseFile(path string) ([]Item, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read backlog file %q: %w", path, err)
	}
	return Parse(string(content), path), nil
}

// Parse extracts candidate tasks from checklist text. Priority is inherited
// from the nearest preceding recognized section header and persists until
// the next header. Unchecked top-level items are tasks; indented lines
// immediately following a task form its body.
func Parse(content, sourceFile string) []Item {
	var items []Item
	currentPriority := PriorityMedium

	lines := strings.Split(content, "\n")
	i := 0
	for i < len(lines) {
		line := lines[i]

		if strings.HasPrefix(line, "#") {
			currentPriority = priorityForHeader(line, currentPriority)
			i++
			continue
		}

		if currentPriority == prioritySkip {
			i++
			continue
		}

		match := taskLinePattern.FindStringSubmatch(line)
		if match == nil {
			i++
			continue
		}

		title := strings.TrimSpace(match[1])

		var bodyLines []string
		j := i + 1
		for j < len(lines) {
			next := lines[j]
			if checklistLinePattern.MatchString(next) || strings.HasPrefix(next, "#") {
				break
			}
			if strings.TrimSpace(next) != "" {
				bodyLines = append(bodyLines, next)
			}
			j++
		}

		items = append(items, Item{
			Title:      title,
			Body:       strings.TrimSpace(strings.Join(bodyLines, "\n")),
			TaskID:     TaskID(title),
			SourceFile: sourceFile,
			Priority:   currentPriority,
		})
		i++
	}

	return items
}

func priorityForHeader(line, current string) string {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "highest") && strings.Contains(lower, "priority"):
		// The tracker taxonomy has no tier above high.
		return PriorityHigh
	case strings.Contains(lower, "high") && strings.Contains(lower, "priority"):
		return PriorityHigh
	case strings.Contains(lower, "medium") && strings.Contains(lower, "priority"):
		return PriorityMedium
	case strings.Contains(lower, "low") && strings.Contains(lower, "priority"):
		return PriorityLow
	case strings.Contains(lower, "completed"), strings.Contains(lower, "done"):
		return prioritySkip
	case strings.Contains(lower, "detailed"), strings.Contains(lower, "documentation"):
		return prioritySkip
	default:
		return current
	}
}
