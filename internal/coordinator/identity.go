package coordinator

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/oklog/ulid/v2"
)

// AgentIdentity names one running coordinator instance. It is generated once
// at session setup and never mutated; every lease record and audit comment
// carries its AgentID.
type AgentIdentity struct {
	AgentID        string
	User           string
	Hostname       string
	PID            int
	StartedAt      time.Time
	GitHubUsername string

	// RunID distinguishes log streams from repeated runs by the same
	// user on the same host.
	RunID string
}

// GenerateIdentity builds a process-unique identity. The short hash suffix
// keeps two agents started by the same user on the same host within one
// second distinguishable.
func GenerateIdentity(githubUsername string, now time.Time) AgentIdentity {
	user := os.Getenv("USER")
	if user == "" {
		user = os.Getenv("USERNAME")
	}
	if user == "" {
		user = "unknown"
	}

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "unknown"
	}

	pid := os.Getpid()
	timestamp := now.Format("20060102_150405")

	hashInput := fmt.Sprintf("%s_%s_%d_%s", user, hostname, pid, timestamp)
	sum := sha256.Sum256([]byte(hashInput))
	suffix := hex.EncodeToString(sum[:])[:4]

	return AgentIdentity{
		AgentID:        fmt.Sprintf("%s_%s_%s_%s", user, hostname, timestamp, suffix),
		User:           user,
		Hostname:       hostname,
		PID:            pid,
		StartedAt:      now.UTC(),
		GitHubUsername: githubUsername,
		RunID:          ulid.Make().String(),
	}
}
