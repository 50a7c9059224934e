package main

import (
	"bytes"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/ao92265/claude-orchestra/internal/version"
)

func TestRunMainSupportsVersionFlag(t *testing.T) {
	original := version.Version
	version.Version = "coordinator-version-test"
	t.Cleanup(func() {
		version.Version = original
	})

	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	code := RunMain([]string{"--version"}, out, errOut)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if strings.TrimSpace(out.String()) != "orchestra-coordinator coordinator-version-test" {
		t.Fatalf("unexpected version output: %q", out.String())
	}
	if errOut.Len() != 0 {
		t.Fatalf("unexpected error output: %q", errOut.String())
	}
}

func TestRunMainWithoutArgsPrintsUsage(t *testing.T) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	code := RunMain(nil, out, errOut)
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(errOut.String(), "usage: orchestra-coordinator") {
		t.Fatalf("usage missing from stderr: %q", errOut.String())
	}
}

func TestRunMainUnknownCommand(t *testing.T) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	code := RunMain([]string{"frobnicate"}, out, errOut)
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(errOut.String(), "unknown command: frobnicate") {
		t.Fatalf("unexpected stderr: %q", errOut.String())
	}
}

func TestRunMainHelp(t *testing.T) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	code := RunMain([]string{"help"}, out, errOut)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d stderr=%q", code, errOut.String())
	}
	if !strings.Contains(out.String(), "claim-next") {
		t.Fatalf("help output incomplete: %q", out.String())
	}
}

func TestRunMainClaimRequiresIssue(t *testing.T) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	code := RunMain([]string{"claim"}, out, errOut)
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(errOut.String(), "--issue is required") {
		t.Fatalf("unexpected stderr: %q", errOut.String())
	}
}

func TestTruncateKeepsValidUTF8(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("unexpected truncation: %q", got)
	}
	got := truncate("héhéhéhéhéhé", 5)
	if !utf8.ValidString(got) {
		t.Fatalf("truncation produced invalid UTF-8: %q", got)
	}
	if got != "héhé…" {
		t.Fatalf("expected rune-aware cut, got %q", got)
	}
}

func TestRunMainBlockRequiresReason(t *testing.T) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	code := RunMain([]string{"block", "--issue", "3"}, out, errOut)
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(errOut.String(), "--issue and --reason are required") {
		t.Fatalf("unexpected stderr: %q", errOut.String())
	}
}
