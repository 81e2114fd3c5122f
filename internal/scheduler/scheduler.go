// Package scheduler drives the relay: it turns "replay everything since the
// last checkpoint" into bounded, overlapping export windows and runs the
// export+forward cycle for each with crash-safe checkpointing.
package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rekkusuri/Discord-Chat-Forwarder/internal/exporter"
	"github.com/rekkusuri/Discord-Chat-Forwarder/internal/forward"
	"github.com/rekkusuri/Discord-Chat-Forwarder/internal/logger"
)

// ForwardRunner consumes one export artifact. Implemented by the
// forwarding engine; faked in tests.
type ForwardRunner interface {
	ForwardFile(ctx context.Context, path string) (*forward.Stats, error)
}

// Progress is the persisted high-water mark for one channel.
type Progress interface {
	LastBefore() (time.Time, bool)
	Advance(t time.Time) error
}

// Options configures the window loop for one channel.
type Options struct {
	ChannelID string

	// ExportDir is the per-channel artifact directory.
	ExportDir string

	// Window is the size of each export window.
	Window time.Duration

	// Overlap pads window edges so boundary records are never missed;
	// downstream dedupe makes the re-reads safe.
	Overlap time.Duration

	// SafetyMargin keeps the ceiling short of "now" so in-flight messages
	// at the source settle before export.
	SafetyMargin time.Duration

	// Retention keeps the N most recently modified artifacts; older ones
	// are pruned after each successful window. Zero disables pruning.
	Retention int

	// DryRun keeps the checkpoint untouched so a later real run replays
	// the same windows.
	DryRun bool

	// Now is the clock, injectable for tests.
	Now func() time.Time
}

// Result summarizes one scheduler invocation. CaughtUp is false when the
// run aborted mid-catch-up on a window failure.
type Result struct {
	WindowsProcessed int
	Processed        int
	Forwarded        int
	UpTo             time.Time
	CaughtUp         bool
}

// Scheduler executes export+forward cycles window by window until the
// channel is caught up.
type Scheduler struct {
	exporter exporter.Exporter
	runner   ForwardRunner
	progress Progress
	opts     Options
	log      *logger.Logger
}

// New creates a scheduler for one channel.
func New(exp exporter.Exporter, runner ForwardRunner, progress Progress, opts Options, log *logger.Logger) *Scheduler {
	if opts.Window <= 0 {
		opts.Window = 33 * time.Minute
	}
	if opts.Overlap <= 0 {
		opts.Overlap = time.Minute
	}
	if opts.SafetyMargin <= 0 {
		opts.SafetyMargin = time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Scheduler{
		exporter: exp,
		runner:   runner,
		progress: progress,
		opts:     opts,
		log:      log,
	}
}

// Run processes windows until the channel is caught up or a window fails.
// Any failure leaves the checkpoint untouched so the next invocation
// reprocesses the same window; dedupe downstream keeps that safe.
func (s *Scheduler) Run(ctx context.Context) (*Result, error) {
	res := &Result{}
	runID := uuid.New()

	now := s.opts.Now().UTC()
	target := now.Add(-s.opts.SafetyMargin)

	lastBefore, ok := s.progress.LastBefore()
	if !ok {
		// First run: one window's worth of initial lookback.
		lastBefore = target.Add(-(s.opts.Window - s.opts.Overlap))
	}

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if !lastBefore.Before(target) {
			break
		}

		after := lastBefore.Add(-s.opts.Overlap)
		before := after.Add(s.opts.Window)
		if before.After(target) {
			before = target
		}
		if !before.After(after) {
			break
		}

		outPath := s.artifactPath(after, before)
		winLog := s.log.With().
			Str("channel", s.opts.ChannelID).
			Str("after", after.Format(time.RFC3339)).
			Str("before", before.Format(time.RFC3339)).
			Logger()

		winLog.Info().Msg("window start")

		if err := s.exporter.Export(ctx, exporter.Request{
			ChannelID: s.opts.ChannelID,
			After:     after,
			Before:    before,
			OutPath:   outPath,
		}); err != nil {
			winLog.Error().Err(err).Msg("export failed, aborting; window retries next run")
			return res, nil
		}

		stats, err := s.runner.ForwardFile(ctx, outPath)
		if err != nil {
			winLog.Error().Err(err).Msg("forward failed, aborting; window retries next run")
			return res, nil
		}

		if !s.opts.DryRun {
			if err := s.progress.Advance(before); err != nil {
				return res, fmt.Errorf("advance progress marker: %w", err)
			}
		}

		if s.opts.Retention > 0 {
			if err := enforceRetention(s.opts.ExportDir, s.opts.Retention); err != nil {
				winLog.Warn().Err(err).Msg("artifact retention failed")
			}
		}

		if err := s.appendAudit(auditRecord{
			RunID:     runID.String(),
			At:        s.opts.Now().UTC().Format(time.RFC3339),
			After:     after.Format(time.RFC3339),
			Before:    before.Format(time.RFC3339),
			Processed: stats.Processed,
			Forwarded: stats.Forwarded,
		}); err != nil {
			winLog.Warn().Err(err).Msg("audit append failed")
		}

		winLog.Info().
			Int("processed", stats.Processed).
			Int("forwarded", stats.Forwarded).
			Msg("window done")

		res.WindowsProcessed++
		res.Processed += stats.Processed
		res.Forwarded += stats.Forwarded
		res.UpTo = before

		lastBefore = before
	}

	res.CaughtUp = true
	s.log.Info().
		Str("channel", s.opts.ChannelID).
		Int("windows", res.WindowsProcessed).
		Int("forwarded", res.Forwarded).
		Time("up_to", res.UpTo).
		Msg("scheduler run complete")

	return res, nil
}

// artifactPath encodes channel and window bounds into the artifact name so
// re-runs and retention are traceable on disk.
func (s *Scheduler) artifactPath(after, before time.Time) string {
	name := fmt.Sprintf("channel_%s__after_%s__before_%s.json",
		s.opts.ChannelID,
		fsSafe(after.Format(time.RFC3339)),
		fsSafe(before.Format(time.RFC3339)))
	return filepath.Join(s.opts.ExportDir, name)
}

func fsSafe(s string) string {
	return strings.ReplaceAll(s, ":", "-")
}
