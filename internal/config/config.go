// Package config loads the session configuration shared by the coordinator
// binaries: repository coordinates, credentials, lease timing, and backlog
// sync preferences.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix = "ORCHESTRA"

	// minHeartbeatInterval is the floor below which renewal traffic would
	// hammer the tracker without improving liveness detection.
	minHeartbeatInterval = 60 * time.Second
)

var envPlaceholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Duration is a time.Duration that reads "5m" style strings from YAML files
// and environment variables alike.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }
func (d Duration) String() string     { return time.Duration(d).String() }

func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

// Config is the session-level configuration. File values load first, then
// ORCHESTRA_* environment variables override them.
type Config struct {
	RepoOwner string `yaml:"repo_owner" envconfig:"REPO_OWNER"`
	RepoName  string `yaml:"repo_name" envconfig:"REPO_NAME"`
	Token     string `yaml:"token" envconfig:"TOKEN"`

	// Defaults are applied in applyFallbacks rather than struct tags so
	// that file values survive the environment pass untouched.
	HeartbeatInterval Duration `yaml:"heartbeat_interval" envconfig:"HEARTBEAT_INTERVAL"`
	ClaimTimeout      Duration `yaml:"claim_timeout" envconfig:"CLAIM_TIMEOUT"`

	AutoSync     bool     `yaml:"auto_sync" envconfig:"AUTO_SYNC"`
	BacklogFiles []string `yaml:"backlog_files" envconfig:"BACKLOG_FILES"`

	PreferPriority string `yaml:"prefer_priority" envconfig:"PREFER_PRIORITY"`
	PreferSize     string `yaml:"prefer_size" envconfig:"PREFER_SIZE"`

	LogLevel string `yaml:"log_level" envconfig:"LOG_LEVEL"`
}

// Load reads an optional YAML config file and applies environment overrides.
// An empty path skips the file stage entirely.
func Load(path string) (Config, error) {
	cfg := Config{AutoSync: true}

	if strings.TrimSpace(path) != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("cannot read config at %q: %w", path, err)
		}
		expanded, err := substituteEnv(string(content), os.Getenv)
		if err != nil {
			return Config{}, fmt.Errorf("invalid config at %q: %w", path, err)
		}
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return Config{}, fmt.Errorf("cannot parse config at %q: %w", path, err)
		}
	}

	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("cannot load environment overrides: %w", err)
	}

	cfg.applyFallbacks()
	return cfg, nil
}

func (c *Config) applyFallbacks() {
	if strings.TrimSpace(c.Token) == "" {
		c.Token = os.Getenv("GITHUB_TOKEN")
	}
	if c.RepoOwner == "" || c.RepoName == "" {
		if repo := os.Getenv("GITHUB_REPO"); strings.Contains(repo, "/") {
			parts := strings.SplitN(repo, "/", 2)
			if c.RepoOwner == "" {
				c.RepoOwner = parts[0]
			}
			if c.RepoName == "" {
				c.RepoName = parts[1]
			}
		}
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = Duration(5 * time.Minute)
	}
	if c.ClaimTimeout == 0 {
		c.ClaimTimeout = Duration(30 * time.Minute)
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if len(c.BacklogFiles) == 0 {
		c.BacklogFiles = []string{"TODO.md", "docs/TODO.md", "docs/TASKS.md"}
	}
}

// SetRepo applies an owner/name override in "owner/name" form.
func (c *Config) SetRepo(repo string) error {
	parts := strings.SplitN(strings.TrimSpace(repo), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("repository must be in owner/name form, got %q", repo)
	}
	c.RepoOwner = parts[0]
	c.RepoName = parts[1]
	return nil
}

// Validate returns every configuration problem at once so a user can fix a
// config file in one pass.
func (c Config) Validate() []string {
	var problems []string

	if strings.TrimSpace(c.RepoOwner) == "" {
		problems = append(problems, "repository owner is required")
	}
	if strings.TrimSpace(c.RepoName) == "" {
		problems = append(problems, "repository name is required")
	}
	if strings.TrimSpace(c.Token) == "" {
		problems = append(problems, "tracker token is required (set ORCHESTRA_TOKEN or GITHUB_TOKEN)")
	}
	if c.HeartbeatInterval.Std() < minHeartbeatInterval {
		problems = append(problems, fmt.Sprintf("heartbeat interval must be at least %s", minHeartbeatInterval))
	}
	if c.ClaimTimeout.Std() < 2*c.HeartbeatInterval.Std() {
		problems = append(problems, "claim timeout must be at least 2x the heartbeat interval")
	}
	if c.PreferPriority != "" {
		switch c.PreferPriority {
		case "high", "medium", "low":
		default:
			problems = append(problems, fmt.Sprintf("prefer_priority %q must be one of: high, medium, low", c.PreferPriority))
		}
	}
	if c.PreferSize != "" {
		switch c.PreferSize {
		case "small", "medium", "large":
		default:
			problems = append(problems, fmt.Sprintf("prefer_size %q must be one of: small, medium, large", c.PreferSize))
		}
	}

	return problems
}

// Summary renders the effective configuration for the setup command. The
// token is always masked.
func (c Config) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Repository:         %s/%s\n", c.RepoOwner, c.RepoName)
	fmt.Fprintf(&b, "Token:              %s\n", maskToken(c.Token))
	fmt.Fprintf(&b, "Heartbeat interval: %s\n", c.HeartbeatInterval)
	fmt.Fprintf(&b, "Claim timeout:      %s\n", c.ClaimTimeout)
	fmt.Fprintf(&b, "Auto-sync backlog:  %t\n", c.AutoSync)
	fmt.Fprintf(&b, "Backlog files:      %s\n", strings.Join(c.BacklogFiles, ", "))
	if c.PreferPriority != "" {
		fmt.Fprintf(&b, "Prefer priority:    %s\n", c.PreferPriority)
	}
	if c.PreferSize != "" {
		fmt.Fprintf(&b, "Prefer size:        %s\n", c.PreferSize)
	}
	return b.String()
}

func maskToken(token string) string {
	token = strings.TrimSpace(token)
	if token == "" {
		return "NOT SET"
	}
	if len(token) <= 4 {
		return "********"
	}
	return "********..." + token[len(token)-4:]
}

func substituteEnv(content string, getenv func(string) string) (string, error) {
	var missing []string
	substituted := envPlaceholderPattern.ReplaceAllStringFunc(content, func(match string) string {
		sub := envPlaceholderPattern.FindStringSubmatch(match)
		if len(sub) != 2 {
			return match
		}
		value := strings.TrimSpace(getenv(sub[1]))
		if value == "" {
			missing = append(missing, sub[1])
			return ""
		}
		return value
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("missing environment variables: %s", strings.Join(missing, ", "))
	}
	return substituted, nil
}
