package verify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingAudit struct {
	mu      sync.Mutex
	records []Decision
	err     error
}

func (a *recordingAudit) Record(_ context.Context, dec Decision) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.records = append(a.records, dec)
	return nil
}

func pendingRequest(t *testing.T, store Store, userID int64) {
	t.Helper()
	store.Upsert(Request{
		UserID:         userID,
		ChatID:         userID,
		FirstName:      "Alice",
		Username:       "alice",
		Phone:          "+15551234567",
		DocumentFileID: "photo-1",
		Status:         StatusPendingReview,
		CreatedAt:      time.Now(),
	})
}

func TestDecideApproveDeliversInvite(t *testing.T) {
	store := NewMemoryStore()
	notifier := &fakeNotifier{}
	audit := &recordingAudit{}
	decider := NewDecider(store, notifier, audit)
	pendingRequest(t, store, 1)

	dec, err := decider.Decide(context.Background(), 1, OutcomeApprove, "admin")
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if dec.InviteLink == "" || dec.DeliveryFailed {
		t.Fatalf("unexpected decision: %+v", dec)
	}

	msgs := notifier.userMessages(1)
	if len(msgs) != 1 || !strings.Contains(msgs[0], dec.InviteLink) {
		t.Fatalf("expected invite delivered to user, got %v", msgs)
	}
	if _, ok := store.Get(1); ok {
		t.Fatal("expected terminal record removed from store")
	}
	if len(audit.records) != 1 || audit.records[0].Outcome != OutcomeApprove {
		t.Fatalf("audit records = %+v", audit.records)
	}

	// The second click on the same request is rejected.
	if _, err := decider.Decide(context.Background(), 1, OutcomeApprove, "admin"); !errors.Is(err, ErrAlreadyHandled) {
		t.Fatalf("expected ErrAlreadyHandled, got %v", err)
	}
	if notifier.invites != 1 {
		t.Fatalf("expected a single invite, got %d", notifier.invites)
	}
}

func TestDecideConcurrentSingleWinner(t *testing.T) {
	store := NewMemoryStore()
	notifier := &fakeNotifier{}
	decider := NewDecider(store, notifier, nil)
	pendingRequest(t, store, 1)

	const clicks = 16
	var wg sync.WaitGroup
	errs := make(chan error, clicks)
	for i := 0; i < clicks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := decider.Decide(context.Background(), 1, OutcomeApprove, "admin")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var wins, dups int
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrAlreadyHandled):
			dups++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || dups != clicks-1 {
		t.Fatalf("wins=%d dups=%d", wins, dups)
	}
	if notifier.invites != 1 {
		t.Fatalf("expected exactly one invite created, got %d", notifier.invites)
	}
}

func TestDecideRejectNotifiesUser(t *testing.T) {
	store := NewMemoryStore()
	notifier := &fakeNotifier{}
	audit := &recordingAudit{}
	decider := NewDecider(store, notifier, audit)
	pendingRequest(t, store, 1)

	dec, err := decider.Decide(context.Background(), 1, OutcomeReject, "admin")
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if dec.InviteLink != "" || dec.DeliveryFailed {
		t.Fatalf("unexpected decision: %+v", dec)
	}
	if notifier.invites != 0 {
		t.Fatal("reject must not create an invite")
	}

	msgs := notifier.userMessages(1)
	if len(msgs) != 1 || !strings.Contains(msgs[0], "rejected") {
		t.Fatalf("expected rejection notice, got %v", msgs)
	}
	if _, ok := store.Get(1); ok {
		t.Fatal("expected record removed after rejection")
	}
	if len(audit.records) != 1 || audit.records[0].Outcome != OutcomeReject {
		t.Fatalf("audit records = %+v", audit.records)
	}
}

func TestDecideApproveInviteFailureStaysTerminal(t *testing.T) {
	store := NewMemoryStore()
	notifier := &fakeNotifier{inviteErr: errors.New("telegram: 400 not enough rights")}
	audit := &recordingAudit{}
	decider := NewDecider(store, notifier, audit)
	pendingRequest(t, store, 1)

	dec, err := decider.Decide(context.Background(), 1, OutcomeApprove, "admin")
	if err != nil {
		t.Fatalf("collaborator failure must not bubble: %v", err)
	}
	if !dec.DeliveryFailed || dec.InviteLink != "" {
		t.Fatalf("unexpected decision: %+v", dec)
	}

	msgs := notifier.userMessages(1)
	if len(msgs) != 1 || !strings.Contains(msgs[0], "contact support") {
		t.Fatalf("expected support message, got %v", msgs)
	}

	// The decision stands: no retry path, no lingering pending record.
	if _, ok := store.Get(1); ok {
		t.Fatal("expected record removed despite delivery failure")
	}
	if _, err := decider.Decide(context.Background(), 1, OutcomeApprove, "admin"); !errors.Is(err, ErrAlreadyHandled) {
		t.Fatalf("expected ErrAlreadyHandled, got %v", err)
	}
	if len(audit.records) != 1 || !audit.records[0].DeliveryFailed {
		t.Fatalf("audit records = %+v", audit.records)
	}
}

// restartingNotifier simulates a /start handled for the same user while the
// outcome delivery call is still in flight.
type restartingNotifier struct {
	*fakeNotifier
	store Store
}

func (n *restartingNotifier) SendUser(ctx context.Context, chatID int64, text string) error {
	n.store.Upsert(Request{
		UserID:    1,
		ChatID:    1,
		FirstName: "Alice",
		Status:    StatusAwaitingPhone,
		CreatedAt: time.Now(),
	})
	return n.fakeNotifier.SendUser(ctx, chatID, text)
}

func TestDecideRestartDuringDeliverySurvives(t *testing.T) {
	store := NewMemoryStore()
	notifier := &restartingNotifier{fakeNotifier: &fakeNotifier{}, store: store}
	decider := NewDecider(store, notifier, nil)
	pendingRequest(t, store, 1)

	if _, err := decider.Decide(context.Background(), 1, OutcomeReject, "admin"); err != nil {
		t.Fatalf("decide: %v", err)
	}

	req, ok := store.Get(1)
	if !ok {
		t.Fatal("fresh request created during delivery must not be removed")
	}
	if req.Status != StatusAwaitingPhone {
		t.Fatalf("status = %s, expected %s", req.Status, StatusAwaitingPhone)
	}
}

func TestDecideUnknownUser(t *testing.T) {
	decider := NewDecider(NewMemoryStore(), &fakeNotifier{}, nil)
	if _, err := decider.Decide(context.Background(), 404, OutcomeApprove, "admin"); !errors.Is(err, ErrAlreadyHandled) {
		t.Fatalf("expected ErrAlreadyHandled, got %v", err)
	}
}

func TestDecideUnknownOutcome(t *testing.T) {
	store := NewMemoryStore()
	decider := NewDecider(store, &fakeNotifier{}, nil)
	pendingRequest(t, store, 1)

	if _, err := decider.Decide(context.Background(), 1, Outcome("maybe"), "admin"); err == nil {
		t.Fatal("expected error for unknown outcome")
	}
	if req, ok := store.Get(1); !ok || req.Status != StatusPendingReview {
		t.Fatalf("record must be untouched, got %+v ok=%v", req, ok)
	}
}

func TestDecideAuditFailureDoesNotFailDecision(t *testing.T) {
	store := NewMemoryStore()
	notifier := &fakeNotifier{}
	decider := NewDecider(store, notifier, &recordingAudit{err: errors.New("pq: connection refused")})
	pendingRequest(t, store, 1)

	dec, err := decider.Decide(context.Background(), 1, OutcomeReject, "admin")
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if dec.Outcome != OutcomeReject {
		t.Fatalf("unexpected decision: %+v", dec)
	}
	if len(notifier.userMessages(1)) != 1 {
		t.Fatal("user must still be notified when the audit write fails")
	}
}
