package ledger

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps the ledger in process memory. Used by tests and by
// deployments that have no database yet; it honors the same append-once
// contract as SQLStore.
type MemoryStore struct {
	mu      sync.Mutex
	nextID  int64
	records []Record
	byAtt   map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byAtt: make(map[string]struct{})}
}

func (s *MemoryStore) Append(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byAtt[rec.AttemptID]; exists {
		return ErrDuplicateAttempt
	}
	s.nextID++
	stored := *rec
	stored.ID = s.nextID
	if stored.SubmittedAt.IsZero() {
		stored.SubmittedAt = time.Now()
	}
	s.records = append(s.records, stored)
	s.byAtt[rec.AttemptID] = struct{}{}
	rec.ID = stored.ID
	return nil
}

func (s *MemoryStore) ListForMaterials(ctx context.Context, materialIDs []int64) ([]Record, error) {
	wanted := make(map[int64]struct{}, len(materialIDs))
	for _, id := range materialIDs {
		wanted[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, 0)
	for _, rec := range s.records {
		if _, ok := wanted[rec.MaterialID]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Len reports how many rows the store holds. Test helper.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
