package version

import (
	"fmt"
	"io"
	"runtime/debug"
)

// Version is overridden at link time for release builds.
var Version = "dev"

func IsVersionRequest(args []string) bool {
	return len(args) == 1 && (args[0] == "--version" || args[0] == "-version")
}

func Print(w io.Writer, binaryName string) {
	if w == nil {
		w = io.Discard
	}
	fmt.Fprintf(w, "%s %s\n", binaryName, Resolve())
}

// Resolve falls back to the main module version recorded by the Go
// toolchain when no link-time version was set.
func Resolve() string {
	if Version != "dev" {
		return Version
	}
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" || info.Main.Version == "(devel)" {
		return Version
	}
	return info.Main.Version
}
