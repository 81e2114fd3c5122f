// Package exporter invokes the external chat-export CLI that produces the
// JSON artifacts the relay consumes.
package exporter

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rekkusuri/Discord-Chat-Forwarder/internal/logger"
)

// Request describes one bounded export: the half-open window
// [After, Before) of a single channel, written to OutPath.
type Request struct {
	ChannelID string
	After     time.Time
	Before    time.Time
	OutPath   string
}

// Exporter produces an export artifact for a window. Implemented by the
// CLI wrapper in production and by fakes in tests.
type Exporter interface {
	Export(ctx context.Context, req Request) error
}

// CLIExporter shells out to the export tool.
type CLIExporter struct {
	binPath string
	token   string
	log     *logger.Logger
}

// NewCLIExporter creates an exporter invoking the binary at binPath with
// the given bot token.
func NewCLIExporter(binPath, token string, log *logger.Logger) *CLIExporter {
	if log == nil {
		log = logger.Nop()
	}
	return &CLIExporter{binPath: binPath, token: token, log: log}
}

// Export runs the CLI for one window. A nonzero exit is returned as an
// error carrying the stderr tail; the caller treats it as window-fatal.
func (e *CLIExporter) Export(ctx context.Context, req Request) error {
	cmd := exec.CommandContext(ctx, e.binPath, e.args(req)...)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if out := strings.TrimSpace(stdout.String()); out != "" {
		e.log.Debug().Str("channel", req.ChannelID).Msg("exporter: " + out)
	}
	if err != nil {
		return fmt.Errorf("exporter exit: %w: %s", err, tail(stderr.String(), 500))
	}
	return nil
}

func (e *CLIExporter) args(req Request) []string {
	return []string{
		"export",
		"-c", req.ChannelID,
		"-f", "Json",
		"-o", req.OutPath,
		"--after", req.After.UTC().Format(time.RFC3339),
		"--before", req.Before.UTC().Format(time.RFC3339),
		"--bot", e.token,
	}
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return "…" + s[len(s)-n:]
	}
	return s
}
