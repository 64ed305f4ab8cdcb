package internal

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
)

// GetVersion returns the version with the git commit when one was linked in.
func GetVersion() string {
	if gitCommit != "" {
		return fmt.Sprintf("%s (git: %s)", version, gitCommit)
	}
	return version
}

// BuildInfo returns the link-time build stamp and the running Go version.
func BuildInfo() (string, string) {
	return buildTime, runtime.Version()
}

// NewLogger writes text records to stderr at info, or debug when asked.
func NewLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// EnvVars exposes the process environment to node descriptor expressions.
func EnvVars() map[string]string {
	vars := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}
	return vars
}
