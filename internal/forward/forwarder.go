// Package forward implements the per-message forwarding engine: reply
// resolution against the identity map, attachment size policy, text
// chunking, and batched delivery through the webhook layer.
package forward

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rekkusuri/Discord-Chat-Forwarder/internal/export"
	"github.com/rekkusuri/Discord-Chat-Forwarder/internal/logger"
	"github.com/rekkusuri/Discord-Chat-Forwarder/internal/webhook"
)

// Poster delivers one payload to the destination webhook.
type Poster interface {
	Post(ctx context.Context, payload webhook.Payload, files []webhook.File) (*webhook.PostResult, error)
}

// Fetcher resolves remote attachment content.
type Fetcher interface {
	ProbeSize(ctx context.Context, url string) (int64, error)
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// DedupeState is the durable set of already-forwarded source ids.
type DedupeState interface {
	Seen(id string) bool
	MarkSeen(id string, at time.Time)
	Flush() error
}

// IdentityMap is the durable source→destination id mapping.
type IdentityMap interface {
	Resolve(sourceID string) (string, bool)
	Record(sourceID, destID string)
	Flush() error
}

// ErrPartialDelivery marks a message whose primary post succeeded but whose
// follow-up batches or trailing text parts did not.
var ErrPartialDelivery = errors.New("partial delivery")

// Options controls the forwarding engine.
type Options struct {
	// SegmentLimit bounds each text post, leaving headroom below the
	// destination's 2000-char cap for part suffixes.
	SegmentLimit int

	// AttachmentCap is the re-upload size limit in bytes; anything larger
	// (or unfetchable) is demoted to a link line.
	AttachmentCap int64

	// MaxFilesPerPost bounds file parts per post. The destination enforces
	// a hard ceiling of 10.
	MaxFilesPerPost int

	// QuotePreviewLen bounds the manual quote line's content excerpt.
	QuotePreviewLen int

	// MarkProcessedOnPartialFailure keeps the original behavior of marking
	// a message processed when its primary post succeeded but a follow-up
	// batch failed. Disabling it leaves such messages eligible for retry,
	// at the cost of duplicating the primary post.
	MarkProcessedOnPartialFailure bool

	// FlushEachMessage persists dedupe and identity state after every
	// delivered message instead of once per run.
	FlushEachMessage bool

	// DryRun logs what would be posted without delivering or recording
	// anything.
	DryRun bool
}

// DefaultOptions returns the destination platform's limits with the
// original forwarder's defaults.
func DefaultOptions() Options {
	return Options{
		SegmentLimit:                  1900,
		AttachmentCap:                 25 << 20,
		MaxFilesPerPost:               10,
		QuotePreviewLen:               180,
		MarkProcessedOnPartialFailure: true,
	}
}

// Stats summarizes one forwarding run.
type Stats struct {
	Processed int
	Forwarded int
	Skipped   int
	Failed    int
}

// Forwarder consumes canonical messages in source order and emits delivery
// requests, consulting and updating the dedupe and identity stores.
type Forwarder struct {
	poster   Poster
	fetcher  Fetcher
	dedupe   DedupeState
	identity IdentityMap
	opts     Options
	log      *logger.Logger
}

// New creates a forwarding engine.
func New(poster Poster, fetcher Fetcher, dedupe DedupeState, identity IdentityMap, opts Options, log *logger.Logger) *Forwarder {
	if opts.SegmentLimit <= 0 {
		opts.SegmentLimit = 1900
	}
	if opts.AttachmentCap <= 0 {
		opts.AttachmentCap = 25 << 20
	}
	if opts.MaxFilesPerPost <= 0 || opts.MaxFilesPerPost > 10 {
		opts.MaxFilesPerPost = 10
	}
	if opts.QuotePreviewLen <= 0 {
		opts.QuotePreviewLen = 180
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Forwarder{
		poster:   poster,
		fetcher:  fetcher,
		dedupe:   dedupe,
		identity: identity,
		opts:     opts,
		log:      log,
	}
}

// Run forwards each new message from the batch, in order. Failures are
// message-local: a failed message is logged and left unmarked so a future
// run retries it.
func (f *Forwarder) Run(ctx context.Context, msgs []export.Message) (*Stats, error) {
	stats := &Stats{Processed: len(msgs)}
	idx := export.BuildIndex(msgs)

	for i := range msgs {
		m := &msgs[i]

		if err := ctx.Err(); err != nil {
			return stats, err
		}

		if f.dedupe.Seen(m.ID) {
			stats.Skipped++
			continue
		}

		if f.opts.DryRun {
			f.log.Info().
				Str("source_id", m.ID).
				Int("body_len", len(m.Body)).
				Int("attachments", len(m.Attachments)).
				Msg("dry run, would forward")
			stats.Forwarded++
			continue
		}

		destID, err := f.forwardOne(ctx, m, idx)
		switch {
		case err == nil:
			f.markDelivered(m.ID, destID)
			stats.Forwarded++
		case errors.Is(err, ErrPartialDelivery) && f.opts.MarkProcessedOnPartialFailure:
			f.log.Warn().Err(err).Str("source_id", m.ID).Msg("partial delivery, marking processed anyway")
			f.markDelivered(m.ID, destID)
			stats.Forwarded++
		default:
			f.log.Error().Err(err).Str("source_id", m.ID).Msg("forward failed")
			stats.Failed++
		}
	}

	if !f.opts.DryRun {
		if err := f.flush(); err != nil {
			return stats, err
		}
	}

	f.log.Info().
		Int("processed", stats.Processed).
		Int("forwarded", stats.Forwarded).
		Int("skipped", stats.Skipped).
		Int("failed", stats.Failed).
		Msg("forward run complete")

	return stats, nil
}

func (f *Forwarder) markDelivered(sourceID, destID string) {
	f.dedupe.MarkSeen(sourceID, time.Now())
	if destID != "" {
		f.identity.Record(sourceID, destID)
	}
	if f.opts.FlushEachMessage {
		if err := f.flush(); err != nil {
			f.log.Warn().Err(err).Str("source_id", sourceID).Msg("state flush failed")
		}
	}
}

func (f *Forwarder) flush() error {
	if err := f.dedupe.Flush(); err != nil {
		return fmt.Errorf("flush dedupe state: %w", err)
	}
	if err := f.identity.Flush(); err != nil {
		return fmt.Errorf("flush identity map: %w", err)
	}
	return nil
}
