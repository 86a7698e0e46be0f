package store

import (
	"context"
	"sort"
	"sync"

	"github.com/workpulse/risk-monitor/internal/models"
)

// Store is the snapshot source the monitor reads and the ingestion seam
// writes. ListByKind is a full scan; snapshot volumes are modest and scans
// run only after a completed sync.
type Store interface {
	ListByKind(ctx context.Context, kind models.Kind) ([]models.Snapshot, error)
	Put(ctx context.Context, snapshots ...models.Snapshot) error
	Delete(ctx context.Context, kind models.Kind, id string) error
	Close() error
}

// MemoryStore keeps snapshots in process memory. It backs tests and
// single-box deployments where the ingestion pipeline runs in the same
// process.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[models.Kind]map[string]models.Snapshot
}

// NewMemoryStore creates an empty in-memory snapshot store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[models.Kind]map[string]models.Snapshot)}
}

// ListByKind returns all snapshots of the kind ordered by entity id, so scan
// output is deterministic.
func (s *MemoryStore) ListByKind(_ context.Context, kind models.Kind) ([]models.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byID := s.entries[kind]
	out := make([]models.Snapshot, 0, len(byID))
	for _, snap := range byID {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Put upserts the given snapshots.
func (s *MemoryStore) Put(_ context.Context, snapshots ...models.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, snap := range snapshots {
		byID := s.entries[snap.Kind]
		if byID == nil {
			byID = make(map[string]models.Snapshot)
			s.entries[snap.Kind] = byID
		}
		byID[snap.ID] = snap
	}
	return nil
}

// Delete removes one snapshot; deleting an absent id is a no-op.
func (s *MemoryStore) Delete(_ context.Context, kind models.Kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries[kind], id)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
