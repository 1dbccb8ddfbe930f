// Package rtmemstore provides in-memory implementations of the
// rtstore interfaces, primarily for tests and determinism checks.
package rtmemstore

import (
	"context"
	"slices"
	"sync"

	"github.com/roundtable-engine/roundtable/rt/rtstore"
)

// Store captures events and snapshots in memory, in emission order.
type Store struct {
	mu        sync.Mutex
	entries   []rtstore.Entry
	snapshots []rtstore.Snapshot
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

func (s *Store) EmitEvent(_ context.Context, e rtstore.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *Store) SaveSnapshot(_ context.Context, snap rtstore.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snap)
	return nil
}

// Entries returns a copy of all captured events in emission order.
func (s *Store) Entries() []rtstore.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.entries)
}

// EntriesOfType returns captured events filtered by type, in order.
func (s *Store) EntriesOfType(t rtstore.EventType) []rtstore.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []rtstore.Entry
	for _, e := range s.entries {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Snapshots returns a copy of all captured snapshots in tick order.
func (s *Store) Snapshots() []rtstore.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.snapshots)
}

// LastSnapshot returns the most recent snapshot, or false if none exists.
func (s *Store) LastSnapshot() (rtstore.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.snapshots) == 0 {
		return rtstore.Snapshot{}, false
	}
	return s.snapshots[len(s.snapshots)-1], true
}
