package verify

import (
	"sync"
	"testing"
	"time"
)

func TestStoreGetAbsent(t *testing.T) {
	s := NewMemoryStore()
	if _, ok := s.Get(1); ok {
		t.Fatal("expected absent request")
	}
}

func TestStoreUpsertOverwrites(t *testing.T) {
	s := NewMemoryStore()
	s.Upsert(Request{UserID: 1, Phone: "+111", Status: StatusAwaitingDocument})
	s.Upsert(Request{UserID: 1, Status: StatusAwaitingPhone})

	req, ok := s.Get(1)
	if !ok {
		t.Fatal("expected request")
	}
	if req.Status != StatusAwaitingPhone {
		t.Fatalf("status = %s, expected %s", req.Status, StatusAwaitingPhone)
	}
	if req.Phone != "" {
		t.Fatalf("expected phone reset, got %q", req.Phone)
	}
	if s.Len() != 1 {
		t.Fatalf("expected a single live record, got %d", s.Len())
	}
}

func TestStoreRemoveIdempotent(t *testing.T) {
	s := NewMemoryStore()
	s.Remove(42)
	s.Upsert(Request{UserID: 42, Status: StatusAwaitingPhone})
	s.Remove(42)
	s.Remove(42)
	if s.Len() != 0 {
		t.Fatalf("expected empty store, got %d", s.Len())
	}
}

func TestStoreCopySemantics(t *testing.T) {
	s := NewMemoryStore()
	s.Upsert(Request{UserID: 7, Status: StatusAwaitingPhone})

	req, _ := s.Get(7)
	req.Phone = "+999"
	req.Status = StatusApproved

	stored, _ := s.Get(7)
	if stored.Phone != "" || stored.Status != StatusAwaitingPhone {
		t.Fatalf("external mutation leaked into store: %+v", stored)
	}
}

func TestStoreCompareAndDelete(t *testing.T) {
	s := NewMemoryStore()
	s.Upsert(Request{UserID: 1, Status: StatusApproved})

	if s.CompareAndDelete(1, StatusRejected) {
		t.Fatal("delete with wrong status should fail")
	}
	if _, ok := s.Get(1); !ok {
		t.Fatal("record must survive a failed conditional delete")
	}
	if !s.CompareAndDelete(1, StatusApproved) {
		t.Fatal("expected delete to succeed")
	}
	if s.CompareAndDelete(1, StatusApproved) {
		t.Fatal("delete on absent record should fail")
	}
}

func TestStoreCompareAndSwap(t *testing.T) {
	s := NewMemoryStore()
	s.Upsert(Request{UserID: 1, Status: StatusAwaitingPhone, CreatedAt: time.Now()})

	req, ok := s.CompareAndSwap(1, StatusAwaitingPhone, StatusAwaitingDocument, func(r *Request) {
		r.Phone = "+15551234567"
	})
	if !ok {
		t.Fatal("expected swap to succeed")
	}
	if req.Status != StatusAwaitingDocument || req.Phone != "+15551234567" {
		t.Fatalf("unexpected result: %+v", req)
	}

	if _, ok := s.CompareAndSwap(1, StatusAwaitingPhone, StatusAwaitingDocument, nil); ok {
		t.Fatal("swap from stale status should fail")
	}
	if _, ok := s.CompareAndSwap(2, StatusAwaitingPhone, StatusAwaitingDocument, nil); ok {
		t.Fatal("swap on absent record should fail")
	}
}

func TestStoreConcurrentSwapSingleWinner(t *testing.T) {
	s := NewMemoryStore()
	s.Upsert(Request{UserID: 1, Status: StatusPendingReview})

	const attempts = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			defer wg.Done()
			if _, ok := s.CompareAndSwap(1, StatusPendingReview, StatusApproved, nil); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}
