package models

import (
	"sync"
	"time"
)

// DaySnapshot is a read-only view of the running day published for the
// dashboard. The driver goroutine writes it; HTTP handlers only read.
type DaySnapshot struct {
	RunID        string        `json:"run_id"`
	Date         string        `json:"date"`
	Phase        DayPhase      `json:"phase"`
	PhaseDetail  string        `json:"phase_detail"`
	UpdatedAt    time.Time     `json:"updated_at"`
	OpeningRange *OpeningRange `json:"opening_range,omitempty"`
	Record       *TradeRecord  `json:"record,omitempty"`
}

// SnapshotStore holds the latest DaySnapshot behind a lock.
type SnapshotStore struct {
	mu   sync.RWMutex
	snap DaySnapshot
}

// NewSnapshotStore returns an empty store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{}
}

// Publish replaces the stored snapshot. The record and opening range are
// copied so later driver writes cannot race with readers.
func (s *SnapshotStore) Publish(snap DaySnapshot) {
	if snap.Record != nil {
		rec := *snap.Record
		snap.Record = &rec
	}
	if snap.OpeningRange != nil {
		or := *snap.OpeningRange
		snap.OpeningRange = &or
	}
	snap.UpdatedAt = time.Now().UTC()

	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
}

// Latest returns the most recently published snapshot.
func (s *SnapshotStore) Latest() DaySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}
