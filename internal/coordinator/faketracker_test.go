package coordinator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ao92265/claude-orchestra/internal/github"
)

// fakeTracker is an in-memory Tracker with just enough filtering fidelity
// for the protocol: label AND-matching, assignee filters, benign label
// statuses, and a hook to make a rival win assignment races.
type fakeTracker struct {
	mu sync.Mutex

	username    string
	labels      map[string]github.Label
	issues      map[int]*github.Issue
	comments    map[int][]github.Comment
	nextIssue   int
	nextComment int64

	// rivalAssignee, when set, wins every contested assignment: any
	// attempt to assign a user overwrites with the rival instead,
	// modeling the rival's write landing last.
	rivalAssignee string

	// errOn maps a method name to an error every call of it returns.
	errOn map[string]error
}

func newFakeTracker(username string) *fakeTracker {
	return &fakeTracker{
		username: username,
		labels:   map[string]github.Label{},
		issues:   map[int]*github.Issue{},
		comments: map[int][]github.Comment{},
		errOn:    map[string]error{},
	}
}

func (f *fakeTracker) seedIssue(title, body string, labels []string, assignee string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextIssue++
	issue := &github.Issue{
		Number: f.nextIssue,
		Title:  title,
		Body:   body,
		State:  "open",
	}
	for _, name := range labels {
		issue.Labels = append(issue.Labels, github.Label{Name: name})
	}
	if assignee != "" {
		issue.Assignee = &github.User{Login: assignee}
	}
	f.issues[issue.Number] = issue
	return issue.Number
}

func (f *fakeTracker) seedComment(issueNumber int, body string, createdAt time.Time) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextComment++
	f.comments[issueNumber] = append(f.comments[issueNumber], github.Comment{
		ID:        f.nextComment,
		Body:      body,
		CreatedAt: createdAt,
	})
	return f.nextComment
}

func (f *fakeTracker) issueLabels(issueNumber int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var names []string
	for _, label := range f.issues[issueNumber].Labels {
		names = append(names, label.Name)
	}
	return names
}

func (f *fakeTracker) issueAssignee(issueNumber int) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	issue := f.issues[issueNumber]
	if issue.Assignee == nil {
		return ""
	}
	return issue.Assignee.Login
}

func (f *fakeTracker) lastComment(issueNumber int) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	comments := f.comments[issueNumber]
	if len(comments) == 0 {
		return ""
	}
	return comments[len(comments)-1].Body
}

func (f *fakeTracker) fail(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errOn[method] = err
}

func (f *fakeTracker) failure(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errOn[method]
}

func (f *fakeTracker) AuthenticatedUser(ctx context.Context) (string, error) {
	if err := f.failure("AuthenticatedUser"); err != nil {
		return "", err
	}
	return f.username, nil
}

func (f *fakeTracker) ListLabels(ctx context.Context) ([]github.Label, error) {
	if err := f.failure("ListLabels"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	labels := make([]github.Label, 0, len(f.labels))
	for _, label := range f.labels {
		labels = append(labels, label)
	}
	return labels, nil
}

func (f *fakeTracker) CreateLabel(ctx context.Context, label github.Label) error {
	if err := f.failure("CreateLabel"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.labels[label.Name] = label
	return nil
}

func (f *fakeTracker) GetIssue(ctx context.Context, issueNumber int) (github.Issue, error) {
	if err := f.failure("GetIssue"); err != nil {
		return github.Issue{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	issue, ok := f.issues[issueNumber]
	if !ok {
		return github.Issue{}, fmt.Errorf("issue #%d not found", issueNumber)
	}
	return *issue, nil
}

func (f *fakeTracker) ListIssues(ctx context.Context, opts github.ListIssuesOptions) ([]github.Issue, error) {
	if err := f.failure("ListIssues"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	state := opts.State
	if state == "" {
		state = "open"
	}

	var matches []github.Issue
	for i := 1; i <= f.nextIssue; i++ {
		issue, ok := f.issues[i]
		if !ok {
			continue
		}
		if state != "all" && issue.State != state {
			continue
		}
		if !hasAllLabels(issue, opts.Labels) {
			continue
		}
		switch opts.Assignee {
		case "":
		case "none":
			if issue.Assignee != nil {
				continue
			}
		default:
			if issue.Assignee == nil || issue.Assignee.Login != opts.Assignee {
				continue
			}
		}
		matches = append(matches, *issue)
	}
	return matches, nil
}

func (f *fakeTracker) CreateIssue(ctx context.Context, title, body string, labels []string) (github.Issue, error) {
	if err := f.failure("CreateIssue"); err != nil {
		return github.Issue{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextIssue++
	issue := &github.Issue{
		Number: f.nextIssue,
		Title:  title,
		Body:   body,
		State:  "open",
	}
	for _, name := range labels {
		issue.Labels = append(issue.Labels, github.Label{Name: name})
	}
	f.issues[issue.Number] = issue
	return *issue, nil
}

func (f *fakeTracker) UpdateIssue(ctx context.Context, issueNumber int, patch github.IssuePatch) (github.Issue, error) {
	if err := f.failure("UpdateIssue"); err != nil {
		return github.Issue{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	issue, ok := f.issues[issueNumber]
	if !ok {
		return github.Issue{}, fmt.Errorf("issue #%d not found", issueNumber)
	}
	if patch.Title != nil {
		issue.Title = *patch.Title
	}
	if patch.Body != nil {
		issue.Body = *patch.Body
	}
	if patch.State != nil {
		issue.State = *patch.State
	}
	if patch.Assignee != nil {
		switch {
		case strings.TrimSpace(*patch.Assignee) == "":
			issue.Assignee = nil
		case f.rivalAssignee != "":
			issue.Assignee = &github.User{Login: f.rivalAssignee}
		default:
			issue.Assignee = &github.User{Login: *patch.Assignee}
		}
	}
	if patch.Labels != nil {
		issue.Labels = nil
		for _, name := range patch.Labels {
			issue.Labels = append(issue.Labels, github.Label{Name: name})
		}
	}
	return *issue, nil
}

func (f *fakeTracker) AddLabels(ctx context.Context, issueNumber int, labels []string) error {
	if err := f.failure("AddLabels"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	issue, ok := f.issues[issueNumber]
	if !ok {
		return fmt.Errorf("issue #%d not found", issueNumber)
	}
	for _, name := range labels {
		if !hasAllLabels(issue, []string{name}) {
			issue.Labels = append(issue.Labels, github.Label{Name: name})
		}
	}
	return nil
}

func (f *fakeTracker) RemoveLabel(ctx context.Context, issueNumber int, label string) error {
	if err := f.failure("RemoveLabel"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	issue, ok := f.issues[issueNumber]
	if !ok {
		return fmt.Errorf("issue #%d not found", issueNumber)
	}
	kept := issue.Labels[:0]
	for _, l := range issue.Labels {
		if l.Name != label {
			kept = append(kept, l)
		}
	}
	issue.Labels = kept
	return nil
}

func (f *fakeTracker) ListComments(ctx context.Context, issueNumber int) ([]github.Comment, error) {
	if err := f.failure("ListComments"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]github.Comment{}, f.comments[issueNumber]...), nil
}

func (f *fakeTracker) CreateComment(ctx context.Context, issueNumber int, body string) (github.Comment, error) {
	if err := f.failure("CreateComment"); err != nil {
		return github.Comment{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextComment++
	comment := github.Comment{ID: f.nextComment, Body: body}
	f.comments[issueNumber] = append(f.comments[issueNumber], comment)
	return comment, nil
}

func (f *fakeTracker) UpdateComment(ctx context.Context, commentID int64, body string) error {
	if err := f.failure("UpdateComment"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	for issueNumber := range f.comments {
		for i := range f.comments[issueNumber] {
			if f.comments[issueNumber][i].ID == commentID {
				f.comments[issueNumber][i].Body = body
				return nil
			}
		}
	}
	return fmt.Errorf("comment %d not found", commentID)
}

func hasAllLabels(issue *github.Issue, wanted []string) bool {
	for _, want := range wanted {
		found := false
		for _, label := range issue.Labels {
			if label.Name == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
