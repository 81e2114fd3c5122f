package forward

import (
	"context"
	"fmt"
	"os"

	"github.com/rekkusuri/Discord-Chat-Forwarder/internal/export"
)

// ForwardFile reads an export artifact from disk, normalizes it, and
// forwards every new message it contains.
func (f *Forwarder) ForwardFile(ctx context.Context, path string) (*Stats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}

	msgs, skipped, err := export.ParseArtifact(data)
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		f.log.Warn().Int("skipped", skipped).Str("artifact", path).Msg("records without id dropped")
	}

	return f.Run(ctx, msgs)
}
