package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ao92265/claude-orchestra/internal/config"
	"github.com/ao92265/claude-orchestra/internal/coordinator"
	"github.com/ao92265/claude-orchestra/internal/github"
	"github.com/ao92265/claude-orchestra/internal/logging"
	"github.com/ao92265/claude-orchestra/internal/ui/claimboard"
	"github.com/ao92265/claude-orchestra/internal/version"
)

func main() {
	os.Exit(RunMain(os.Args[1:], os.Stdout, os.Stderr))
}

func RunMain(args []string, out io.Writer, errOut io.Writer) int {
	if version.IsVersionRequest(args) {
		version.Print(out, "orchestra-claims-tui")
		return 0
	}

	fs := flag.NewFlagSet("orchestra-claims-tui", flag.ContinueOnError)
	fs.SetOutput(errOut)
	configPath := fs.String("config", "", "Path to orchestra.yaml")
	repo := fs.String("repo", "", "Repository as owner/name, overriding config")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if *repo != "" {
		if err := cfg.SetRepo(*repo); err != nil {
			fmt.Fprintln(errOut, err)
			return 1
		}
	}
	if problems := cfg.Validate(); len(problems) > 0 {
		fmt.Fprintf(errOut, "invalid configuration:\n  %s\n", strings.Join(problems, "\n  "))
		return 1
	}

	client, err := github.NewClient(github.Config{
		Owner: cfg.RepoOwner,
		Repo:  cfg.RepoName,
		Token: cfg.Token,
	})
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}

	logger := logging.NewStructuredLogger(errOut, cfg.LogLevel, logging.SchemaFields{
		Component: "claims-tui",
	})

	coord, err := coordinator.New(client, coordinator.Options{
		Logger:            logger,
		HeartbeatInterval: cfg.HeartbeatInterval.Std(),
		ClaimTimeout:      cfg.ClaimTimeout.Std(),
	})
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if err := coord.Setup(context.Background()); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}

	model := claimboard.NewModel(coord, cfg.ClaimTimeout.Std(), time.Now)
	program := tea.NewProgram(model, tea.WithOutput(out))
	if _, err := program.Run(); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	return 0
}
