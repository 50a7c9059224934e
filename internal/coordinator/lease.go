package coordinator

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ao92265/claude-orchestra/internal/github"
)

// leaseCommentMarker prefixes every lease comment. It is the only signal
// used to recognize a lease; comment authorship is never inspected.
const leaseCommentMarker = "<!-- orchestra-claim -->"

// Lease is the ownership record for one claimed task. It is serialized as a
// marker-prefixed markdown comment on the issue so any agent, and any human
// reading the issue, can see who holds the task and how fresh the claim is.
type Lease struct {
	IssueNumber    int
	AgentID        string
	GitHubUsername string
	Branch         string
	ClaimedAt      time.Time
	LastHeartbeat  time.Time
	Progress       string
}

// Age returns how long ago the lease last heartbeat, as seen at now.
func (l Lease) Age(now time.Time) time.Duration {
	return now.Sub(l.LastHeartbeat)
}

var (
	leaseAgentPattern     = regexp.MustCompile("Agent ID \\| `([^`]+)`")
	leaseUserPattern      = regexp.MustCompile(`GitHub User \| @(\S+)`)
	leaseClaimedPattern   = regexp.MustCompile(`Claimed At \| ([^\n|]+)`)
	leaseHeartbeatPattern = regexp.MustCompile(`Heartbeat \| ([^\n|]+)`)
	leaseBranchPattern    = regexp.MustCompile("Branch \\| `([^`]+)`")
	leaseProgressPattern  = regexp.MustCompile(`Progress \| ([^\n|]+)`)
)

// formatLeaseComment renders a lease as its marker comment. parseLeaseComment
// must be able to read everything this writes.
func formatLeaseComment(lease Lease) string {
	var b strings.Builder
	b.WriteString(leaseCommentMarker)
	b.WriteString("\n## 🤖 Task Claimed\n\n")
	b.WriteString("| Field | Value |\n")
	b.WriteString("|-------|-------|\n")
	fmt.Fprintf(&b, "| Agent ID | `%s` |\n", lease.AgentID)
	fmt.Fprintf(&b, "| GitHub User | @%s |\n", lease.GitHubUsername)
	fmt.Fprintf(&b, "| Claimed At | %s |\n", lease.ClaimedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "| Branch | `%s` |\n", lease.Branch)
	fmt.Fprintf(&b, "| Heartbeat | %s |\n", lease.LastHeartbeat.UTC().Format(time.RFC3339))
	if note := sanitizeNote(lease.Progress); note != "" {
		fmt.Fprintf(&b, "| Progress | %s |\n", note)
	}
	return b.String()
}

// sanitizeNote flattens a progress note to a single table-safe line: pipes
// and newlines would end the markdown cell and truncate on the next parse.
func sanitizeNote(note string) string {
	note = strings.NewReplacer("|", "/", "\r", " ", "\n", " ").Replace(note)
	return strings.Join(strings.Fields(note), " ")
}

// parseLeaseComment reconstructs a lease from a marker comment body. The
// boolean is false when the body does not carry the marker or is missing a
// required field.
func parseLeaseComment(issueNumber int, body string) (Lease, bool) {
	if !strings.Contains(body, leaseCommentMarker) {
		return Lease{}, false
	}

	agent := leaseAgentPattern.FindStringSubmatch(body)
	user := leaseUserPattern.FindStringSubmatch(body)
	claimed := leaseClaimedPattern.FindStringSubmatch(body)
	heartbeat := leaseHeartbeatPattern.FindStringSubmatch(body)
	if agent == nil || user == nil || claimed == nil || heartbeat == nil {
		return Lease{}, false
	}

	claimedAt, err := time.Parse(time.RFC3339, strings.TrimSpace(claimed[1]))
	if err != nil {
		return Lease{}, false
	}
	heartbeatAt, err := time.Parse(time.RFC3339, strings.TrimSpace(heartbeat[1]))
	if err != nil {
		return Lease{}, false
	}

	lease := Lease{
		IssueNumber:    issueNumber,
		AgentID:        agent[1],
		GitHubUsername: user[1],
		ClaimedAt:      claimedAt,
		LastHeartbeat:  heartbeatAt,
	}
	if branch := leaseBranchPattern.FindStringSubmatch(body); branch != nil {
		lease.Branch = branch[1]
	}
	if progress := leaseProgressPattern.FindStringSubmatch(body); progress != nil {
		lease.Progress = strings.TrimSpace(progress[1])
	}
	return lease, true
}

// leaseFromComments finds the authoritative lease among an issue's comments.
// The most recent marker comment wins; older lease comments from earlier
// claim cycles are ignored. The returned comment id addresses the winning
// comment for in-place heartbeat updates.
func leaseFromComments(issueNumber int, comments []github.Comment) (Lease, int64, bool) {
	for i := len(comments) - 1; i >= 0; i-- {
		if !strings.Contains(comments[i].Body, leaseCommentMarker) {
			continue
		}
		lease, ok := parseLeaseComment(issueNumber, comments[i].Body)
		if !ok {
			return Lease{}, 0, false
		}
		return lease, comments[i].ID, true
	}
	return Lease{}, 0, false
}
