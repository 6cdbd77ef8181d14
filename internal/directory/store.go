package directory

import "sync"

// Store is a service's local injected-user cache. Operations are keyed by
// email and idempotent, so receivers can apply repeated propagation events
// without coordination.
type Store interface {
	Upsert(record Record)
	Remove(email string)
	Get(email string) (Record, bool)
	Len() int
}

// MemoryStore is the in-process Store used by services without their own
// user persistence. It is constructed at service start and injected; growth
// is unbounded until a removal arrives for each injected user.
type MemoryStore struct {
	mu      sync.RWMutex
	byEmail map[string]Record
}

// NewMemoryStore creates an empty cache.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byEmail: make(map[string]Record)}
}

func (s *MemoryStore) Upsert(record Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byEmail[record.Email] = record
}

func (s *MemoryStore) Remove(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byEmail, email)
}

func (s *MemoryStore) Get(email string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.byEmail[email]
	return record, ok
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byEmail)
}
