package history

import "sync"

// memoryStore implements Store in memory.
// Useful for testing.
type memoryStore struct {
	mu      sync.RWMutex
	records []Record
	limit   int
	closed  bool
}

// NewMemoryStore creates an in-memory store keeping at most limit records
// (zero keeps everything).
func NewMemoryStore(limit int) Store {
	return &memoryStore{limit: limit}
}

// Append implements Store.Append.
func (s *memoryStore) Append(rec *Record) error {
	if err := prepare(rec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	s.records = append(s.records, *rec)
	if s.limit > 0 {
		s.prune(s.limit)
	}
	return nil
}

// List implements Store.List.
func (s *memoryStore) List(limit int) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	out := make([]*Record, 0, len(s.records))
	for i := len(s.records) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		rec := s.records[i]
		out = append(out, &rec)
	}
	return out, nil
}

// Last implements Store.Last.
func (s *memoryStore) Last() (*Record, error) {
	records, err := s.List(1)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNoRecords
	}
	return records[0], nil
}

// Prune implements Store.Prune.
func (s *memoryStore) Prune(keep int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}
	return s.prune(keep), nil
}

func (s *memoryStore) prune(keep int) int {
	if keep < 0 {
		keep = 0
	}
	excess := len(s.records) - keep
	if excess <= 0 {
		return 0
	}
	s.records = append([]Record(nil), s.records[excess:]...)
	return excess
}

// Close implements Store.Close.
func (s *memoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
