package state

import (
	"fmt"
	"time"

	"github.com/rekkusuri/Discord-Chat-Forwarder/internal/logger"
)

// ProgressStore persists the scheduler's high-water mark: the exclusive
// upper bound of the last fully relayed window. It only ever moves forward.
type ProgressStore struct {
	path       string
	lastBefore time.Time
	log        *logger.Logger
}

type progressFile struct {
	LastBeforeISO string `json:"last_before_iso"`
}

// LoadProgress opens the progress marker at path. A missing or unreadable
// file yields an unset marker (the scheduler falls back to its initial
// lookback).
func LoadProgress(path string, log *logger.Logger) (*ProgressStore, error) {
	s := &ProgressStore{path: path, log: log}
	var f progressFile
	found, err := readJSON(path, &f)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("progress marker unreadable, starting over")
		return s, nil
	}
	if found && f.LastBeforeISO != "" {
		t, err := time.Parse(time.RFC3339, f.LastBeforeISO)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("progress marker has invalid timestamp, starting over")
			return s, nil
		}
		s.lastBefore = t.UTC()
	}
	return s, nil
}

// LastBefore returns the persisted high-water mark, if any.
func (s *ProgressStore) LastBefore() (time.Time, bool) {
	return s.lastBefore, !s.lastBefore.IsZero()
}

// Advance moves the marker forward and persists it atomically.
// Regressions are rejected.
func (s *ProgressStore) Advance(t time.Time) error {
	t = t.UTC().Truncate(time.Second)
	if !s.lastBefore.IsZero() && t.Before(s.lastBefore) {
		return fmt.Errorf("progress marker regression: %s < %s",
			t.Format(time.RFC3339), s.lastBefore.Format(time.RFC3339))
	}
	prev := s.lastBefore
	s.lastBefore = t
	if err := writeAtomic(s.path, progressFile{LastBeforeISO: t.Format(time.RFC3339)}); err != nil {
		s.lastBefore = prev
		return err
	}
	return nil
}
