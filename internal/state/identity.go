package state

import (
	"github.com/rekkusuri/Discord-Chat-Forwarder/internal/logger"
)

// IdentityStore maps source message ids to destination message ids.
// Append-only; it is what lets a reply thread natively to a parent that was
// delivered in an earlier window or an earlier run.
type IdentityStore struct {
	path string
	ids  map[string]string
	log  *logger.Logger
}

// LoadIdentity opens the identity map at path, creating an empty one if the
// file does not exist.
func LoadIdentity(path string, log *logger.Logger) (*IdentityStore, error) {
	s := &IdentityStore{path: path, ids: make(map[string]string), log: log}
	var m map[string]string
	found, err := readJSON(path, &m)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("identity map unreadable, starting empty")
		return s, nil
	}
	if found && m != nil {
		s.ids = m
	}
	return s, nil
}

// Resolve returns the destination id recorded for a source id.
func (s *IdentityStore) Resolve(sourceID string) (string, bool) {
	dest, ok := s.ids[sourceID]
	return dest, ok
}

// Record stores a source→destination mapping.
func (s *IdentityStore) Record(sourceID, destID string) {
	s.ids[sourceID] = destID
}

// Len returns the number of recorded mappings.
func (s *IdentityStore) Len() int {
	return len(s.ids)
}

// Flush persists the map atomically.
func (s *IdentityStore) Flush() error {
	return writeAtomic(s.path, s.ids)
}
