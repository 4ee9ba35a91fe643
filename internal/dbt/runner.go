package dbt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Runner invokes the dbt binary to refresh a project's artifacts.
type Runner struct {
	// Executable names the dbt binary to invoke. Defaults to "dbt".
	Executable string

	logger *slog.Logger
}

// NewRunner returns a Runner that logs command activity to the given logger.
func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{Executable: "dbt", logger: logger}
}

// Available reports whether the dbt executable can be found on PATH.
func (r *Runner) Available() bool {
	_, err := exec.LookPath(r.Executable)
	return err == nil
}

// Invoke runs dbt with the given arguments inside dir. dbt's stderr is
// captured and included in the returned error on non-zero exit.
func (r *Runner) Invoke(ctx context.Context, dir string, args ...string) error {
	r.logger.Debug("running dbt command", "args", strings.Join(args, " "), "dir", dir)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.Executable, args...)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = os.Environ()

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("dbt %s exited with status %d: %s",
				strings.Join(args, " "), exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return fmt.Errorf("running dbt %s: %w", strings.Join(args, " "), err)
	}
	return nil
}

// Parse runs dbt parse to regenerate target/manifest.json.
func (r *Runner) Parse(ctx context.Context, dir string) error {
	r.logger.Info("Executing dbt parse...")
	return r.Invoke(ctx, dir, "--quiet", "parse")
}

// DocsGenerate runs dbt docs generate to build target/catalog.json.
func (r *Runner) DocsGenerate(ctx context.Context, dir string) error {
	r.logger.Info("Generating catalog with dbt docs generate...")
	return r.Invoke(ctx, dir, "--quiet", "docs", "generate")
}
