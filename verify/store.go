package verify

import "sync"

// Store holds the authoritative in-flight state for every user mid-flow.
// Request values are copied on the way in and out, so callers can never
// mutate shared state except through the operations below.
type Store interface {
	Get(userID int64) (Request, bool)
	// Upsert inserts or overwrites the record for the request's user id.
	Upsert(req Request)
	// Remove is idempotent; removing an absent record is a no-op.
	Remove(userID int64)
	// CompareAndDelete removes the record only when it still has the given
	// status. Reports whether a record was removed.
	CompareAndDelete(userID int64, status Status) bool
	// CompareAndSwap transitions the request from one status to another,
	// applying mutate inside the same critical section. It fails when the
	// record is absent or not in the expected status, which makes it the
	// exactly-once point for concurrent writers on the same user id.
	CompareAndSwap(userID int64, from, to Status, mutate func(*Request)) (Request, bool)
	Len() int
}

type memoryStore struct {
	mu       sync.RWMutex
	requests map[int64]*Request
}

// NewMemoryStore constructs the process-lifetime in-memory Store. In-flight
// requests do not survive a restart; users mid-flow start over with /start.
func NewMemoryStore() Store {
	return &memoryStore{requests: make(map[int64]*Request)}
}

func (s *memoryStore) Get(userID int64) (Request, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if req, ok := s.requests[userID]; ok {
		return *req, true
	}
	return Request{}, false
}

func (s *memoryStore) Upsert(req Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := req
	s.requests[req.UserID] = &stored
}

func (s *memoryStore) Remove(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.requests, userID)
}

func (s *memoryStore) CompareAndDelete(userID int64, status Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[userID]
	if !ok || req.Status != status {
		return false
	}
	delete(s.requests, userID)
	return true
}

func (s *memoryStore) CompareAndSwap(userID int64, from, to Status, mutate func(*Request)) (Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[userID]
	if !ok || req.Status != from {
		return Request{}, false
	}
	if mutate != nil {
		mutate(req)
	}
	req.Status = to
	return *req, true
}

func (s *memoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.requests)
}
