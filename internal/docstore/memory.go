package docstore

import (
	"context"
	"maps"
	"sort"
	"sync"
)

// MemoryStore is a Store backed by in-process maps.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]map[string]Snapshot
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]map[string]Snapshot)}
}

func (s *MemoryStore) GetDocument(ctx context.Context, collection, id string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.docs[collection][id]
	if !ok {
		return missing(collection, id), nil
	}
	snap.Data = maps.Clone(snap.Data)
	return &snap, nil
}

func (s *MemoryStore) SetDocument(ctx context.Context, collection, id string, data map[string]any) (*Snapshot, error) {
	if data == nil {
		data = map[string]any{}
	}
	snap := Snapshot{
		Collection: collection,
		ID:         id,
		Exists:     true,
		Data:       maps.Clone(data),
		UpdateTime: now(),
	}

	s.mu.Lock()
	coll, ok := s.docs[collection]
	if !ok {
		coll = make(map[string]Snapshot)
		s.docs[collection] = coll
	}
	coll[id] = snap
	s.mu.Unlock()

	snap.Data = maps.Clone(snap.Data)
	return &snap, nil
}

func (s *MemoryStore) RunQuery(ctx context.Context, q QuerySpec) ([]Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	coll := s.docs[q.Collection]
	ids := make([]string, 0, len(coll))
	for id := range coll {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if q.Limit > 0 && len(ids) > q.Limit {
		ids = ids[:q.Limit]
	}

	out := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		snap := coll[id]
		snap.Data = maps.Clone(snap.Data)
		out = append(out, snap)
	}
	return out, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
