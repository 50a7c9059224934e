package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orchestra.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadReadsYAMLFile(t *testing.T) {
	path := writeConfig(t, `
repo_owner: acme
repo_name: widgets
token: ghp_file
heartbeat_interval: 2m
claim_timeout: 10m
prefer_priority: high
backlog_files:
  - TODO.md
  - docs/TASKS.md
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "acme", cfg.RepoOwner)
	require.Equal(t, "widgets", cfg.RepoName)
	require.Equal(t, "ghp_file", cfg.Token)
	require.Equal(t, 2*time.Minute, cfg.HeartbeatInterval.Std())
	require.Equal(t, 10*time.Minute, cfg.ClaimTimeout.Std())
	require.Equal(t, []string{"TODO.md", "docs/TASKS.md"}, cfg.BacklogFiles)
	require.Empty(t, cfg.Validate())
}

func TestLoadExpandsEnvPlaceholders(t *testing.T) {
	t.Setenv("ORCHESTRA_TEST_SECRET", "ghp_sub")
	path := writeConfig(t, `
repo_owner: acme
repo_name: widgets
token: ${ORCHESTRA_TEST_SECRET}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "ghp_sub", cfg.Token)
}

func TestLoadFailsOnMissingPlaceholder(t *testing.T) {
	path := writeConfig(t, "token: ${ORCHESTRA_DEFINITELY_UNSET_VAR}\n")
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "ORCHESTRA_DEFINITELY_UNSET_VAR")
}

func TestEnvOverridesFileValues(t *testing.T) {
	t.Setenv("ORCHESTRA_REPO_OWNER", "overridden")
	path := writeConfig(t, "repo_owner: acme\nrepo_name: widgets\ntoken: ghp_x\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "overridden", cfg.RepoOwner)
}

func TestEnvOverridesDuration(t *testing.T) {
	t.Setenv("ORCHESTRA_HEARTBEAT_INTERVAL", "90s")
	path := writeConfig(t, "repo_owner: acme\nrepo_name: widgets\ntoken: ghp_x\nheartbeat_interval: 2m\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 90*time.Second, cfg.HeartbeatInterval.Std())
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	path := writeConfig(t, "heartbeat_interval: soonish\n")
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "soonish")
}

func TestGitHubTokenFallback(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "ghp_ambient")
	t.Setenv("GITHUB_REPO", "acme/widgets")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "ghp_ambient", cfg.Token)
	require.Equal(t, "acme", cfg.RepoOwner)
	require.Equal(t, "widgets", cfg.RepoName)
}

func TestValidateReportsAllProblems(t *testing.T) {
	cfg := Config{
		HeartbeatInterval: Duration(10 * time.Second),
		ClaimTimeout:      Duration(15 * time.Second),
		PreferPriority:    "urgent",
		PreferSize:        "enormous",
	}

	problems := cfg.Validate()
	require.Len(t, problems, 7)
}

func TestValidateHeartbeatTimingRules(t *testing.T) {
	cfg := Config{
		RepoOwner:         "acme",
		RepoName:          "widgets",
		Token:             "ghp_x",
		HeartbeatInterval: Duration(5 * time.Minute),
		ClaimTimeout:      Duration(9 * time.Minute),
	}
	problems := cfg.Validate()
	require.Len(t, problems, 1)
	require.Contains(t, problems[0], "2x")

	cfg.ClaimTimeout = Duration(10 * time.Minute)
	require.Empty(t, cfg.Validate())
}

func TestSetRepo(t *testing.T) {
	var cfg Config
	require.Error(t, cfg.SetRepo("not-a-repo"))
	require.NoError(t, cfg.SetRepo("acme/widgets"))
	require.Equal(t, "acme", cfg.RepoOwner)
	require.Equal(t, "widgets", cfg.RepoName)
}

func TestSummaryMasksToken(t *testing.T) {
	cfg := Config{
		RepoOwner:         "acme",
		RepoName:          "widgets",
		Token:             "ghp_supersecret1234",
		HeartbeatInterval: Duration(5 * time.Minute),
		ClaimTimeout:      Duration(30 * time.Minute),
		BacklogFiles:      []string{"TODO.md"},
	}

	summary := cfg.Summary()
	require.NotContains(t, summary, "ghp_supersecret1234")
	require.Contains(t, summary, "...1234")
	require.Contains(t, summary, "acme/widgets")
}
