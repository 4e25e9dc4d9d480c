package verify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
)

type fakeNotifier struct {
	mu         sync.Mutex
	forwarded  []Request
	sent       map[int64][]string
	invites    int
	forwardErr error
	inviteErr  error
	sendErr    error
}

func (n *fakeNotifier) ForwardSubmission(_ context.Context, req Request) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.forwardErr != nil {
		return n.forwardErr
	}
	n.forwarded = append(n.forwarded, req)
	return nil
}

func (n *fakeNotifier) CreateInvite(context.Context) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.inviteErr != nil {
		return "", n.inviteErr
	}
	n.invites++
	return fmt.Sprintf("https://t.me/+invite%d", n.invites), nil
}

func (n *fakeNotifier) SendUser(_ context.Context, chatID int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sendErr != nil {
		return n.sendErr
	}
	if n.sent == nil {
		n.sent = make(map[int64][]string)
	}
	n.sent[chatID] = append(n.sent[chatID], text)
	return nil
}

func (n *fakeNotifier) userMessages(chatID int64) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.sent[chatID]...)
}

func userEvent(userID int64) Event {
	return Event{UserID: userID, ChatID: userID, FirstName: "Alice", Username: "alice"}
}

func contactEvent(userID int64, phone string, ownerID int64) Event {
	ev := userEvent(userID)
	ev.Contact = &Contact{Phone: phone, OwnerID: ownerID}
	return ev
}

func photoEvent(userID int64, fileID string) Event {
	ev := userEvent(userID)
	ev.PhotoID = fileID
	return ev
}

func TestStartCreatesAwaitingPhone(t *testing.T) {
	store := NewMemoryStore()
	flow := NewFlow(store, &fakeNotifier{})

	reply, err := flow.Start(context.Background(), userEvent(1))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if reply.Keyboard != KeyboardContact {
		t.Fatal("expected contact keyboard on start")
	}

	req, ok := store.Get(1)
	if !ok || req.Status != StatusAwaitingPhone {
		t.Fatalf("unexpected record: %+v ok=%v", req, ok)
	}
	if req.CreatedAt.IsZero() {
		t.Fatal("expected created_at to be set")
	}
}

func TestPhotoWhileAwaitingPhoneDoesNotAdvance(t *testing.T) {
	store := NewMemoryStore()
	flow := NewFlow(store, &fakeNotifier{})
	_, _ = flow.Start(context.Background(), userEvent(1))

	if _, err := flow.Handle(context.Background(), photoEvent(1, "photo-1")); err != nil {
		t.Fatalf("handle: %v", err)
	}

	req, _ := store.Get(1)
	if req.Status != StatusAwaitingPhone {
		t.Fatalf("status = %s, expected %s", req.Status, StatusAwaitingPhone)
	}
	if req.Phone != "" {
		t.Fatalf("phone must stay empty, got %q", req.Phone)
	}
}

func TestForeignContactDoesNotAdvance(t *testing.T) {
	store := NewMemoryStore()
	flow := NewFlow(store, &fakeNotifier{})
	_, _ = flow.Start(context.Background(), userEvent(1))

	reply, err := flow.Handle(context.Background(), contactEvent(1, "+15550000000", 99))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !strings.Contains(reply.Text, "your own phone number") {
		t.Fatalf("expected reprompt, got %q", reply.Text)
	}

	req, _ := store.Get(1)
	if req.Status != StatusAwaitingPhone || req.Phone != "" {
		t.Fatalf("record mutated: %+v", req)
	}
}

func TestContactAdvancesToAwaitingDocument(t *testing.T) {
	store := NewMemoryStore()
	flow := NewFlow(store, &fakeNotifier{})
	_, _ = flow.Start(context.Background(), userEvent(1))

	reply, err := flow.Handle(context.Background(), contactEvent(1, "+15551234567", 1))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !strings.Contains(reply.Text, "+15551234567") {
		t.Fatalf("expected echo of phone, got %q", reply.Text)
	}
	if reply.Keyboard != KeyboardRemove {
		t.Fatal("expected keyboard removal after contact")
	}

	req, _ := store.Get(1)
	if req.Status != StatusAwaitingDocument {
		t.Fatalf("status = %s, expected %s", req.Status, StatusAwaitingDocument)
	}
	if req.Phone != "+15551234567" {
		t.Fatalf("phone = %q", req.Phone)
	}
}

func TestTextWhileAwaitingDocumentReprompts(t *testing.T) {
	store := NewMemoryStore()
	flow := NewFlow(store, &fakeNotifier{})
	_, _ = flow.Start(context.Background(), userEvent(1))
	_, _ = flow.Handle(context.Background(), contactEvent(1, "+15551234567", 1))

	ev := userEvent(1)
	ev.Text = "here you go"
	if _, err := flow.Handle(context.Background(), ev); err != nil {
		t.Fatalf("handle: %v", err)
	}

	req, _ := store.Get(1)
	if req.Status != StatusAwaitingDocument || req.DocumentFileID != "" {
		t.Fatalf("record mutated: %+v", req)
	}
}

func TestDocumentSubmissionForwardsToAdmins(t *testing.T) {
	store := NewMemoryStore()
	notifier := &fakeNotifier{}
	flow := NewFlow(store, notifier)
	_, _ = flow.Start(context.Background(), userEvent(1))
	_, _ = flow.Handle(context.Background(), contactEvent(1, "+15551234567", 1))

	reply, err := flow.Handle(context.Background(), photoEvent(1, "photo-1"))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !strings.Contains(reply.Text, "submitted") {
		t.Fatalf("unexpected reply %q", reply.Text)
	}

	req, _ := store.Get(1)
	if req.Status != StatusPendingReview || req.DocumentFileID != "photo-1" {
		t.Fatalf("record = %+v", req)
	}

	if len(notifier.forwarded) != 1 {
		t.Fatalf("expected one admin forward, got %d", len(notifier.forwarded))
	}
	fwd := notifier.forwarded[0]
	if fwd.Phone != "+15551234567" {
		t.Fatalf("forwarded phone = %q, expected capture to survive in transit", fwd.Phone)
	}
	if fwd.DocumentFileID != "photo-1" {
		t.Fatalf("forwarded document = %q", fwd.DocumentFileID)
	}
}

func TestForwardFailureKeepsAwaitingDocument(t *testing.T) {
	store := NewMemoryStore()
	notifier := &fakeNotifier{forwardErr: errors.New("telegram: 502")}
	flow := NewFlow(store, notifier)
	_, _ = flow.Start(context.Background(), userEvent(1))
	_, _ = flow.Handle(context.Background(), contactEvent(1, "+15551234567", 1))

	reply, err := flow.Handle(context.Background(), photoEvent(1, "photo-1"))
	if err != nil {
		t.Fatalf("collaborator failure must not bubble: %v", err)
	}
	if !strings.Contains(reply.Text, "again") {
		t.Fatalf("expected retry instruction, got %q", reply.Text)
	}

	req, _ := store.Get(1)
	if req.Status != StatusAwaitingDocument || req.DocumentFileID != "" {
		t.Fatalf("record must stay retryable: %+v", req)
	}

	// A resend after the transport recovers goes through.
	notifier.forwardErr = nil
	if _, err := flow.Handle(context.Background(), photoEvent(1, "photo-2")); err != nil {
		t.Fatalf("resend: %v", err)
	}
	req, _ = store.Get(1)
	if req.Status != StatusPendingReview || req.DocumentFileID != "photo-2" {
		t.Fatalf("record = %+v", req)
	}
}

// hookedNotifier runs a callback once after the first successful forward,
// before the caller gets to commit its transition.
type hookedNotifier struct {
	*fakeNotifier
	onForward func()
	fired     bool
}

func (n *hookedNotifier) ForwardSubmission(ctx context.Context, req Request) error {
	if err := n.fakeNotifier.ForwardSubmission(ctx, req); err != nil {
		return err
	}
	if n.onForward != nil && !n.fired {
		n.fired = true
		n.onForward()
	}
	return nil
}

func TestPhotoRaceLoserToldUnderReview(t *testing.T) {
	store := NewMemoryStore()
	base := &fakeNotifier{}
	notifier := &hookedNotifier{fakeNotifier: base}
	flow := NewFlow(store, notifier)
	_, _ = flow.Start(context.Background(), userEvent(1))
	_, _ = flow.Handle(context.Background(), contactEvent(1, "+15551234567", 1))

	// A second photo submission arrives and commits while the first one's
	// admin forward is still in flight.
	notifier.onForward = func() {
		if _, err := flow.Handle(context.Background(), photoEvent(1, "photo-2")); err != nil {
			t.Errorf("racing submission: %v", err)
		}
	}

	reply, err := flow.Handle(context.Background(), photoEvent(1, "photo-1"))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !strings.Contains(reply.Text, "under review") {
		t.Fatalf("losing submission must be answered as pending, got %q", reply.Text)
	}

	req, _ := store.Get(1)
	if req.Status != StatusPendingReview || req.DocumentFileID != "photo-2" {
		t.Fatalf("record = %+v", req)
	}
	if len(base.forwarded) != 2 {
		t.Fatalf("expected both forwards to reach the admin group, got %d", len(base.forwarded))
	}
}

func TestPendingReviewInputDoesNotMutate(t *testing.T) {
	store := NewMemoryStore()
	flow := NewFlow(store, &fakeNotifier{})
	_, _ = flow.Start(context.Background(), userEvent(1))
	_, _ = flow.Handle(context.Background(), contactEvent(1, "+15551234567", 1))
	_, _ = flow.Handle(context.Background(), photoEvent(1, "photo-1"))

	before, _ := store.Get(1)
	reply, err := flow.Handle(context.Background(), photoEvent(1, "photo-2"))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !strings.Contains(reply.Text, "under review") {
		t.Fatalf("unexpected reply %q", reply.Text)
	}

	after, _ := store.Get(1)
	if after != before {
		t.Fatalf("record mutated while pending: before=%+v after=%+v", before, after)
	}
}

func TestStartResetsExistingRequest(t *testing.T) {
	store := NewMemoryStore()
	flow := NewFlow(store, &fakeNotifier{})
	_, _ = flow.Start(context.Background(), userEvent(1))
	_, _ = flow.Handle(context.Background(), contactEvent(1, "+15551234567", 1))

	if _, err := flow.Start(context.Background(), userEvent(1)); err != nil {
		t.Fatalf("restart: %v", err)
	}

	req, _ := store.Get(1)
	if req.Status != StatusAwaitingPhone {
		t.Fatalf("status = %s, expected reset to %s", req.Status, StatusAwaitingPhone)
	}
	if req.Phone != "" || req.DocumentFileID != "" {
		t.Fatalf("expected collected data discarded: %+v", req)
	}
	if store.Len() != 1 {
		t.Fatalf("expected a single live record, got %d", store.Len())
	}
}

func TestCancelRemovesRequest(t *testing.T) {
	store := NewMemoryStore()
	flow := NewFlow(store, &fakeNotifier{})
	_, _ = flow.Start(context.Background(), userEvent(1))
	_, _ = flow.Handle(context.Background(), contactEvent(1, "+15551234567", 1))

	if _, err := flow.Cancel(context.Background(), userEvent(1)); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, ok := store.Get(1); ok {
		t.Fatal("expected record removed")
	}
	if flow.InProgress(1) {
		t.Fatal("expected no conversation in progress")
	}

	// A fresh /start begins a clean cycle with no residual phone.
	_, _ = flow.Start(context.Background(), userEvent(1))
	req, _ := store.Get(1)
	if req.Status != StatusAwaitingPhone || req.Phone != "" {
		t.Fatalf("expected fresh record, got %+v", req)
	}
}

func TestHandleWithoutRequestPointsAtStart(t *testing.T) {
	flow := NewFlow(NewMemoryStore(), &fakeNotifier{})
	reply, err := flow.Handle(context.Background(), userEvent(1))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !strings.Contains(reply.Text, "/start") {
		t.Fatalf("expected /start hint, got %q", reply.Text)
	}
}

func TestStatusReport(t *testing.T) {
	store := NewMemoryStore()
	flow := NewFlow(store, &fakeNotifier{})

	if reply := flow.StatusReport(context.Background(), 1); !strings.Contains(reply.Text, "/start") {
		t.Fatalf("expected /start hint, got %q", reply.Text)
	}

	_, _ = flow.Start(context.Background(), userEvent(1))
	if reply := flow.StatusReport(context.Background(), 1); !strings.Contains(reply.Text, "phone") {
		t.Fatalf("unexpected report %q", reply.Text)
	}

	_, _ = flow.Handle(context.Background(), contactEvent(1, "+15551234567", 1))
	_, _ = flow.Handle(context.Background(), photoEvent(1, "photo-1"))
	if reply := flow.StatusReport(context.Background(), 1); !strings.Contains(reply.Text, "review") {
		t.Fatalf("unexpected report %q", reply.Text)
	}
}
