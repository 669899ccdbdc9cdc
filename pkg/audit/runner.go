// Package audit holds what the audit modules share: running host commands
// and writing timestamped JSON reports.
package audit

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// Runner executes a host command and returns its trimmed stdout. Audit
// modules take a Runner so tests can substitute captured output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil {
		// command not found and nonzero exit both end up here; the caller
		// decides whether that fails the audit or just a section
		zap.L().Warn("command failed",
			zap.String("command", name),
			zap.Strings("args", args),
			zap.String("stderr", strings.TrimSpace(stderr.String())),
			zap.Error(err),
		)
		return "", fmt.Errorf("%s: %s: %w", name, strings.TrimSpace(stderr.String()), err)
	}
	return strings.TrimSpace(stdout.String()), nil
}
