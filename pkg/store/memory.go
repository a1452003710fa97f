package store

import (
	"context"
	"sync"

	"github.com/monad-tools/activeset-monitor/pkg/lifecycle"
)

type MemoryStore struct {
	mu        sync.Mutex
	snapshots map[string]lifecycle.Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string]lifecycle.Snapshot),
	}
}

func (s *MemoryStore) PutSnapshot(ctx context.Context, snapshot lifecycle.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snapshot.ValidatorName] = snapshot
	return nil
}

func (s *MemoryStore) GetSnapshot(ctx context.Context, validatorName string) (lifecycle.Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, ok := s.snapshots[validatorName]
	return snapshot, ok, nil
}

func (s *MemoryStore) ListSnapshots(ctx context.Context) ([]lifecycle.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]lifecycle.Snapshot, 0, len(s.snapshots))
	for _, snapshot := range s.snapshots {
		out = append(out, snapshot)
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
