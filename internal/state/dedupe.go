package state

import (
	"time"

	"github.com/rekkusuri/Discord-Chat-Forwarder/internal/logger"
)

// DedupeStore is the durable record of source ids already forwarded.
// Entries are only ever added; the store is the backstop that makes
// overlapping export windows and re-runs safe.
type DedupeStore struct {
	path string
	seen map[string]string
	log  *logger.Logger
}

type dedupeFile struct {
	SeenIDs map[string]string `json:"seen_ids"`
}

// LoadDedupe opens the dedupe store at path, creating an empty one if the
// file does not exist. A corrupt file is treated as empty with a warning:
// re-forwarding is preferable to refusing to run.
func LoadDedupe(path string, log *logger.Logger) (*DedupeStore, error) {
	s := &DedupeStore{path: path, seen: make(map[string]string), log: log}
	var f dedupeFile
	found, err := readJSON(path, &f)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("dedupe state unreadable, starting empty")
		return s, nil
	}
	if found && f.SeenIDs != nil {
		s.seen = f.SeenIDs
	}
	return s, nil
}

// Seen reports whether the source id was already processed.
func (s *DedupeStore) Seen(id string) bool {
	_, ok := s.seen[id]
	return ok
}

// MarkSeen records the source id as processed at the given instant.
func (s *DedupeStore) MarkSeen(id string, at time.Time) {
	s.seen[id] = at.UTC().Format(time.RFC3339)
}

// Len returns the number of recorded ids.
func (s *DedupeStore) Len() int {
	return len(s.seen)
}

// Flush persists the store atomically.
func (s *DedupeStore) Flush() error {
	return writeAtomic(s.path, dedupeFile{SeenIDs: s.seen})
}
