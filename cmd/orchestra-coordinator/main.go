package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/ao92265/claude-orchestra/internal/backlog"
	"github.com/ao92265/claude-orchestra/internal/config"
	"github.com/ao92265/claude-orchestra/internal/coordinator"
	"github.com/ao92265/claude-orchestra/internal/github"
	"github.com/ao92265/claude-orchestra/internal/logging"
	"github.com/ao92265/claude-orchestra/internal/version"
)

const usage = `usage: orchestra-coordinator <command> [flags]

Setup
  setup        ensure labels exist and print the session identity
  sync         publish backlog checklist items as available tasks
  watch        keep syncing as backlog files change

Working
  claim        claim a specific task by issue number
  claim-next   claim the best available task
  progress     heartbeat a held task, optionally with status and note
  release      give a held task back without finishing it
  pr           mark a task as in review once its pull request exists
  complete     record the outcome and close the task
  block        park a task that cannot proceed

Visibility
  list         list available tasks, best first
  mine         list open tasks assigned to you
  claims       list active claims across all agents
  stale        list claims whose lease heartbeat expired
  reclaim      return stale claims to the available pool

Common flags: --config PATH, --repo OWNER/NAME`

func main() {
	os.Exit(RunMain(os.Args[1:], os.Stdout, os.Stderr))
}

func RunMain(args []string, out io.Writer, errOut io.Writer) int {
	if version.IsVersionRequest(args) {
		version.Print(out, "orchestra-coordinator")
		return 0
	}

	if len(args) == 0 {
		fmt.Fprintln(errOut, usage)
		return 1
	}

	sub := args[0]
	rest := args[1:]
	switch sub {
	case "setup":
		return runSetup(rest, out, errOut)
	case "sync":
		return runSync(rest, out, errOut)
	case "watch":
		return runWatch(rest, out, errOut)
	case "claim":
		return runClaim(rest, out, errOut)
	case "claim-next":
		return runClaimNext(rest, out, errOut)
	case "progress":
		return runProgress(rest, out, errOut)
	case "release":
		return runRelease(rest, out, errOut)
	case "pr":
		return runPR(rest, out, errOut)
	case "complete":
		return runComplete(rest, out, errOut)
	case "block":
		return runBlock(rest, out, errOut)
	case "list":
		return runList(rest, out, errOut)
	case "mine":
		return runMine(rest, out, errOut)
	case "claims":
		return runClaims(rest, out, errOut)
	case "stale":
		return runStale(rest, out, errOut)
	case "reclaim":
		return runReclaim(rest, out, errOut)
	case "help", "-h", "--help":
		fmt.Fprintln(out, usage)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n", sub)
		fmt.Fprintln(errOut, usage)
		return 1
	}
}

// session bundles everything a subcommand needs once flags are parsed.
type session struct {
	cfg   config.Config
	coord *coordinator.Coordinator
}

// commonFlags registers the flags every subcommand shares.
func commonFlags(fs *flag.FlagSet) (configPath, repo *string) {
	configPath = fs.String("config", "", "Path to orchestra.yaml")
	repo = fs.String("repo", "", "Repository as owner/name, overriding config")
	return configPath, repo
}

func openSession(ctx context.Context, configPath, repo string, errOut io.Writer) (*session, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if repo != "" {
		if err := cfg.SetRepo(repo); err != nil {
			return nil, err
		}
	}
	if problems := cfg.Validate(); len(problems) > 0 {
		return nil, fmt.Errorf("invalid configuration:\n  %s", strings.Join(problems, "\n  "))
	}

	client, err := github.NewClient(github.Config{
		Owner: cfg.RepoOwner,
		Repo:  cfg.RepoName,
		Token: cfg.Token,
	})
	if err != nil {
		return nil, err
	}

	logger := logging.NewStructuredLogger(errOut, cfg.LogLevel, logging.SchemaFields{
		Component: "coordinator",
	})

	coord, err := coordinator.New(client, coordinator.Options{
		Logger:            logger,
		HeartbeatInterval: cfg.HeartbeatInterval.Std(),
		ClaimTimeout:      cfg.ClaimTimeout.Std(),
	})
	if err != nil {
		return nil, err
	}
	if err := coord.Setup(ctx); err != nil {
		return nil, err
	}

	return &session{cfg: cfg, coord: coord}, nil
}

func fail(errOut io.Writer, err error) int {
	color.New(color.FgRed).Fprintf(errOut, "error: %v\n", err)
	return 1
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runSetup(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("setup", flag.ContinueOnError)
	fs.SetOutput(errOut)
	configPath, repo := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	ctx, cancel := signalContext()
	defer cancel()

	s, err := openSession(ctx, *configPath, *repo, errOut)
	if err != nil {
		return fail(errOut, err)
	}

	identity := s.coord.Identity()
	color.New(color.FgGreen).Fprintln(out, "✓ labels ready")
	fmt.Fprintf(out, "agent:  %s\n", identity.AgentID)
	fmt.Fprintf(out, "run:    %s\n", identity.RunID)
	fmt.Fprintf(out, "github: @%s\n", identity.GitHubUsername)
	fmt.Fprintln(out)
	fmt.Fprintln(out, s.cfg.Summary())
	return 0
}

func runSync(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	fs.SetOutput(errOut)
	configPath, repo := commonFlags(fs)
	var files stringListFlag
	fs.Var(&files, "file", "Backlog file to sync; repeatable, defaults to the configured list")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	ctx, cancel := signalContext()
	defer cancel()

	s, err := openSession(ctx, *configPath, *repo, errOut)
	if err != nil {
		return fail(errOut, err)
	}

	paths := []string(files)
	if len(paths) == 0 {
		paths = s.cfg.BacklogFiles
	}

	result, err := s.coord.SyncFiles(ctx, paths)
	if err != nil {
		return fail(errOut, err)
	}
	printSyncResult(out, result)
	if len(result.Errors) > 0 {
		return 1
	}
	return 0
}

func printSyncResult(out io.Writer, result coordinator.SyncResult) {
	fmt.Fprintf(out, "created %d, retitled %d, unchanged %d\n", result.Created, result.Updated, result.Unchanged)
	for _, message := range result.Errors {
		color.New(color.FgRed).Fprintf(out, "  ✗ %s\n", message)
	}
}

func runWatch(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(errOut)
	configPath, repo := commonFlags(fs)
	debounce := fs.Duration("debounce", 2*time.Second, "Quiet period after a file change before syncing")
	reclaimEvery := fs.Duration("reclaim-every", 0, "How often to return stale claims to the pool; 0 uses the claim timeout")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	ctx, cancel := signalContext()
	defer cancel()

	s, err := openSession(ctx, *configPath, *repo, errOut)
	if err != nil {
		return fail(errOut, err)
	}
	if !s.cfg.AutoSync {
		fmt.Fprintln(errOut, "auto_sync is disabled in the configuration; enable it to run watch")
		return 1
	}

	sync := func(ctx context.Context) {
		result, err := s.coord.SyncFiles(ctx, s.cfg.BacklogFiles)
		if err != nil {
			color.New(color.FgRed).Fprintf(errOut, "sync failed: %v\n", err)
			return
		}
		printSyncResult(out, result)
	}

	sync(ctx)

	interval := *reclaimEvery
	if interval <= 0 {
		interval = s.cfg.ClaimTimeout.Std()
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				reclaimed, err := s.coord.ReclaimStaleTasks(ctx)
				if err != nil {
					color.New(color.FgRed).Fprintf(errOut, "reclaim failed: %v\n", err)
					continue
				}
				if reclaimed > 0 {
					fmt.Fprintf(out, "reclaimed %d stale task(s)\n", reclaimed)
				}
			}
		}
	}()

	watcher, err := backlog.NewWatcher(s.cfg.BacklogFiles, *debounce, sync)
	if err != nil {
		return fail(errOut, err)
	}
	fmt.Fprintf(out, "watching %s\n", strings.Join(s.cfg.BacklogFiles, ", "))

	if err := watcher.Run(ctx); err != nil {
		return fail(errOut, err)
	}
	return 0
}

func runClaim(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("claim", flag.ContinueOnError)
	fs.SetOutput(errOut)
	configPath, repo := commonFlags(fs)
	issue := fs.Int("issue", 0, "Issue number to claim")
	branch := fs.String("branch", "", "Working branch; defaults to <user>/task/<issue>")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *issue <= 0 {
		fmt.Fprintln(errOut, "--issue is required")
		return 1
	}

	ctx, cancel := signalContext()
	defer cancel()

	s, err := openSession(ctx, *configPath, *repo, errOut)
	if err != nil {
		return fail(errOut, err)
	}

	result, err := s.coord.Claim(ctx, *issue, *branch)
	if err != nil {
		return fail(errOut, err)
	}
	return printClaimResult(out, result)
}

func runClaimNext(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("claim-next", flag.ContinueOnError)
	fs.SetOutput(errOut)
	configPath, repo := commonFlags(fs)
	priority := fs.String("priority", "", "Only consider this priority (high, medium, low)")
	size := fs.String("size", "", "Only consider this size (small, medium, large)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	ctx, cancel := signalContext()
	defer cancel()

	s, err := openSession(ctx, *configPath, *repo, errOut)
	if err != nil {
		return fail(errOut, err)
	}

	wantPriority := coordinator.TaskPriority(*priority)
	wantSize := coordinator.TaskSize(*size)
	if *priority == "" {
		wantPriority = coordinator.TaskPriority(s.cfg.PreferPriority)
	}
	if *size == "" {
		wantSize = coordinator.TaskSize(s.cfg.PreferSize)
	}

	result, err := s.coord.ClaimNextAvailable(ctx, wantPriority, wantSize)
	if err != nil {
		return fail(errOut, err)
	}
	return printClaimResult(out, result)
}

func printClaimResult(out io.Writer, result coordinator.ClaimResult) int {
	if !result.Success {
		color.New(color.FgYellow).Fprintf(out, "not claimed: %s\n", result.Reason)
		return 1
	}
	color.New(color.FgGreen).Fprintf(out, "✓ claimed #%d", result.IssueNumber)
	if result.Task != nil {
		fmt.Fprintf(out, " %s", result.Task.Title)
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "branch: %s\n", result.Branch)
	return 0
}

func runProgress(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("progress", flag.ContinueOnError)
	fs.SetOutput(errOut)
	configPath, repo := commonFlags(fs)
	issue := fs.Int("issue", 0, "Issue number")
	status := fs.String("status", "", "New status (in-progress)")
	note := fs.String("note", "", "Progress note for the lease comment")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *issue <= 0 {
		fmt.Fprintln(errOut, "--issue is required")
		return 1
	}

	ctx, cancel := signalContext()
	defer cancel()

	s, err := openSession(ctx, *configPath, *repo, errOut)
	if err != nil {
		return fail(errOut, err)
	}

	// A fresh process holds no lease table; adopt the claim first so the
	// update addresses the right comment.
	adopted, err := s.coord.Claim(ctx, *issue, "")
	if err != nil {
		return fail(errOut, err)
	}
	if !adopted.Success {
		color.New(color.FgYellow).Fprintf(out, "cannot update #%d: %s\n", *issue, adopted.Reason)
		return 1
	}
	if err := s.coord.UpdateProgress(ctx, *issue, coordinator.TaskStatus(*status), *note); err != nil {
		return fail(errOut, err)
	}
	color.New(color.FgGreen).Fprintf(out, "✓ progress recorded on #%d\n", *issue)
	return 0
}

func runRelease(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("release", flag.ContinueOnError)
	fs.SetOutput(errOut)
	configPath, repo := commonFlags(fs)
	issue := fs.Int("issue", 0, "Issue number")
	reason := fs.String("reason", "", "Why the task is going back")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *issue <= 0 {
		fmt.Fprintln(errOut, "--issue is required")
		return 1
	}

	ctx, cancel := signalContext()
	defer cancel()

	s, err := openSession(ctx, *configPath, *repo, errOut)
	if err != nil {
		return fail(errOut, err)
	}
	if err := s.coord.ReleaseClaim(ctx, *issue, *reason); err != nil {
		return fail(errOut, err)
	}
	color.New(color.FgGreen).Fprintf(out, "✓ released #%d\n", *issue)
	return 0
}

func runPR(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("pr", flag.ContinueOnError)
	fs.SetOutput(errOut)
	configPath, repo := commonFlags(fs)
	issue := fs.Int("issue", 0, "Issue number")
	prRef := fs.String("pr", "", "Pull request reference, for example #42 or a URL")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *issue <= 0 || *prRef == "" {
		fmt.Fprintln(errOut, "--issue and --pr are required")
		return 1
	}

	ctx, cancel := signalContext()
	defer cancel()

	s, err := openSession(ctx, *configPath, *repo, errOut)
	if err != nil {
		return fail(errOut, err)
	}
	if err := s.coord.MarkPRCreated(ctx, *issue, *prRef); err != nil {
		return fail(errOut, err)
	}
	color.New(color.FgGreen).Fprintf(out, "✓ #%d moved to review\n", *issue)
	return 0
}

func runComplete(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("complete", flag.ContinueOnError)
	fs.SetOutput(errOut)
	configPath, repo := commonFlags(fs)
	issue := fs.Int("issue", 0, "Issue number")
	prRef := fs.String("pr", "", "Pull request reference")
	summary := fs.String("summary", "", "One-line outcome")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *issue <= 0 {
		fmt.Fprintln(errOut, "--issue is required")
		return 1
	}

	ctx, cancel := signalContext()
	defer cancel()

	s, err := openSession(ctx, *configPath, *repo, errOut)
	if err != nil {
		return fail(errOut, err)
	}
	if err := s.coord.CompleteTask(ctx, *issue, *prRef, *summary); err != nil {
		return fail(errOut, err)
	}
	color.New(color.FgGreen).Fprintf(out, "✓ #%d completed and closed\n", *issue)
	return 0
}

func runBlock(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("block", flag.ContinueOnError)
	fs.SetOutput(errOut)
	configPath, repo := commonFlags(fs)
	issue := fs.Int("issue", 0, "Issue number")
	reason := fs.String("reason", "", "What the task is blocked on")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *issue <= 0 || *reason == "" {
		fmt.Fprintln(errOut, "--issue and --reason are required")
		return 1
	}

	ctx, cancel := signalContext()
	defer cancel()

	s, err := openSession(ctx, *configPath, *repo, errOut)
	if err != nil {
		return fail(errOut, err)
	}
	if err := s.coord.MarkBlocked(ctx, *issue, *reason); err != nil {
		return fail(errOut, err)
	}
	color.New(color.FgYellow).Fprintf(out, "🚧 #%d blocked\n", *issue)
	return 0
}

func runList(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(errOut)
	configPath, repo := commonFlags(fs)
	priority := fs.String("priority", "", "Only this priority")
	size := fs.String("size", "", "Only this size")
	limit := fs.Int("limit", 0, "Cap the listing")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	ctx, cancel := signalContext()
	defer cancel()

	s, err := openSession(ctx, *configPath, *repo, errOut)
	if err != nil {
		return fail(errOut, err)
	}

	tasks, err := s.coord.AvailableTasks(ctx, coordinator.TaskPriority(*priority), coordinator.TaskSize(*size), *limit)
	if err != nil {
		return fail(errOut, err)
	}
	if len(tasks) == 0 {
		fmt.Fprintln(out, "no available tasks")
		return 0
	}
	for _, task := range tasks {
		printTaskLine(out, task)
	}
	return 0
}

func runMine(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("mine", flag.ContinueOnError)
	fs.SetOutput(errOut)
	configPath, repo := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	ctx, cancel := signalContext()
	defer cancel()

	s, err := openSession(ctx, *configPath, *repo, errOut)
	if err != nil {
		return fail(errOut, err)
	}

	tasks, err := s.coord.MyTasks(ctx)
	if err != nil {
		return fail(errOut, err)
	}
	if len(tasks) == 0 {
		fmt.Fprintln(out, "nothing assigned to you")
		return 0
	}
	for _, task := range tasks {
		printTaskLine(out, task)
	}
	return 0
}

func printTaskLine(out io.Writer, task coordinator.Task) {
	priority := string(task.Priority)
	if priority == "" {
		priority = "-"
	}
	marker := priorityColor(task.Priority)
	marker.Fprintf(out, "#%-5d", task.Number)
	fmt.Fprintf(out, " [%-6s]", priority)
	if task.Size != "" {
		fmt.Fprintf(out, " (%s)", task.Size)
	}
	fmt.Fprintf(out, " %s", task.Title)
	if task.Status != "" {
		fmt.Fprintf(out, "  <%s>", task.Status)
	}
	fmt.Fprintln(out)
}

func priorityColor(priority coordinator.TaskPriority) *color.Color {
	switch priority {
	case coordinator.PriorityHigh:
		return color.New(color.FgRed, color.Bold)
	case coordinator.PriorityMedium:
		return color.New(color.FgYellow)
	case coordinator.PriorityLow:
		return color.New(color.FgGreen)
	default:
		return color.New(color.FgWhite)
	}
}

func runClaims(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("claims", flag.ContinueOnError)
	fs.SetOutput(errOut)
	configPath, repo := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	ctx, cancel := signalContext()
	defer cancel()

	s, err := openSession(ctx, *configPath, *repo, errOut)
	if err != nil {
		return fail(errOut, err)
	}

	claims, err := s.coord.ActiveClaims(ctx)
	if err != nil {
		return fail(errOut, err)
	}
	if len(claims) == 0 {
		fmt.Fprintln(out, "no active claims")
		return 0
	}
	now := time.Now().UTC()
	for _, claim := range claims {
		fmt.Fprintf(out, "#%-5d %-40s @%s (heartbeat %s ago, branch %s)\n",
			claim.Task.Number,
			truncate(claim.Task.Title, 40),
			claim.Lease.GitHubUsername,
			claim.Lease.Age(now).Round(time.Minute),
			claim.Lease.Branch,
		)
	}
	return 0
}

func runStale(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("stale", flag.ContinueOnError)
	fs.SetOutput(errOut)
	configPath, repo := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	ctx, cancel := signalContext()
	defer cancel()

	s, err := openSession(ctx, *configPath, *repo, errOut)
	if err != nil {
		return fail(errOut, err)
	}

	stale, err := s.coord.CheckStaleClaims(ctx)
	if err != nil {
		return fail(errOut, err)
	}
	if len(stale) == 0 {
		fmt.Fprintln(out, "no stale claims")
		return 0
	}
	for _, claim := range stale {
		color.New(color.FgYellow).Fprintf(out, "#%-5d %s held by %s, heartbeat %s ago\n",
			claim.Task.Number, claim.Task.Title, claim.Lease.AgentID, claim.Age.Round(time.Minute))
	}
	return 0
}

func runReclaim(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("reclaim", flag.ContinueOnError)
	fs.SetOutput(errOut)
	configPath, repo := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	ctx, cancel := signalContext()
	defer cancel()

	s, err := openSession(ctx, *configPath, *repo, errOut)
	if err != nil {
		return fail(errOut, err)
	}

	reclaimed, err := s.coord.ReclaimStaleTasks(ctx)
	if err != nil {
		return fail(errOut, err)
	}
	fmt.Fprintf(out, "reclaimed %d task(s)\n", reclaimed)
	return 0
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}

type stringListFlag []string

func (f *stringListFlag) String() string { return strings.Join(*f, ",") }
func (f *stringListFlag) Set(value string) error {
	*f = append(*f, value)
	return nil
}
