package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/rrader/po2bot/core/logger"
	"log/slog"
)

// Keyboard selects the reply markup attached to a flow reply.
type Keyboard int

const (
	// KeyboardNone leaves the current keyboard untouched.
	KeyboardNone Keyboard = iota
	// KeyboardContact shows the share-phone-number button.
	KeyboardContact
	// KeyboardRemove hides any previously shown reply keyboard.
	KeyboardRemove
)

// Reply is the flow's answer in the user's own chat.
type Reply struct {
	Text     string
	Keyboard Keyboard
}

// Contact carries a shared phone number together with its owner's user id.
type Contact struct {
	Phone   string
	OwnerID int64
}

// Event is one inbound update from a user, reduced to what the flow needs.
type Event struct {
	UserID    int64
	ChatID    int64
	FirstName string
	LastName  string
	Username  string
	Text      string
	Contact   *Contact
	PhotoID   string
}

// Flow validates and advances a user's Request through the data-collection
// steps. Wrong-type input reprompts without mutating the record.
type Flow struct {
	store  Store
	notify Notifier
	now    func() time.Time
}

// NewFlow builds the conversation state machine on top of the given store
// and outbound collaborator.
func NewFlow(store Store, notify Notifier) *Flow {
	return &Flow{store: store, notify: notify, now: time.Now}
}

// steps is the dispatch table over the request lifecycle. Every status has
// exactly one handler; inputs that do not fit the current step reprompt.
var steps = map[Status]func(*Flow, context.Context, Event, Request) (Reply, error){
	StatusAwaitingPhone:    (*Flow).stepPhone,
	StatusAwaitingDocument: (*Flow).stepDocument,
	StatusPendingReview:    (*Flow).stepPending,
	StatusApproved:         (*Flow).stepResolved,
	StatusRejected:         (*Flow).stepResolved,
}

// Start begins a fresh conversation. Any prior record for the user is
// discarded, never merged.
func (f *Flow) Start(ctx context.Context, ev Event) (Reply, error) {
	req := Request{
		UserID:    ev.UserID,
		ChatID:    ev.ChatID,
		FirstName: ev.FirstName,
		LastName:  ev.LastName,
		Username:  ev.Username,
		Status:    StatusAwaitingPhone,
		CreatedAt: f.now(),
	}
	f.store.Upsert(req)
	logger.Info(ctx, "verify.flow", "request.started",
		slog.Int64("user_id", ev.UserID),
		slog.String("state", string(StatusAwaitingPhone)),
		slog.Int("pending_total", f.store.Len()),
	)
	return Reply{
		Text: fmt.Sprintf("Hi %s! Welcome to the verification process.\n\n"+
			"Please share your phone number by clicking the button below.", ev.FirstName),
		Keyboard: KeyboardContact,
	}, nil
}

// Cancel discards the in-flight request. Idempotent; outbound calls already
// issued (such as an admin forward) are not retracted.
func (f *Flow) Cancel(ctx context.Context, ev Event) (Reply, error) {
	f.store.Remove(ev.UserID)
	logger.Info(ctx, "verify.flow", "request.cancelled",
		slog.Int64("user_id", ev.UserID),
	)
	return Reply{
		Text:     "❌ Verification process cancelled. Use /start to begin again.",
		Keyboard: KeyboardRemove,
	}, nil
}

// StatusReport describes the caller's current position in the flow.
func (f *Flow) StatusReport(ctx context.Context, userID int64) Reply {
	req, ok := f.store.Get(userID)
	if !ok {
		return Reply{Text: "You have no active verification request. Use /start to begin."}
	}
	switch req.Status {
	case StatusAwaitingPhone:
		return Reply{Text: "Waiting for your phone number. Use the button below to share it.", Keyboard: KeyboardContact}
	case StatusAwaitingDocument:
		return Reply{Text: "Waiting for a photo of your document (ID, passport, etc.)."}
	case StatusPendingReview:
		return Reply{Text: "⏳ Your request is under review. You'll be notified once an admin decides."}
	default:
		return Reply{Text: "Your request has been resolved."}
	}
}

// InProgress reports whether the user currently has an active request.
func (f *Flow) InProgress(userID int64) bool {
	_, ok := f.store.Get(userID)
	return ok
}

// Handle dispatches one inbound update to the step handler for the user's
// current state. Users without a record are pointed at /start.
func (f *Flow) Handle(ctx context.Context, ev Event) (Reply, error) {
	req, ok := f.store.Get(ev.UserID)
	if !ok {
		return Reply{Text: "Use /start to begin the verification process."}, nil
	}
	step, ok := steps[req.Status]
	if !ok {
		return Reply{}, fmt.Errorf("verify: no step handler for state %q", req.Status)
	}
	return step(f, ctx, ev, req)
}

func (f *Flow) stepPhone(ctx context.Context, ev Event, _ Request) (Reply, error) {
	if ev.Contact == nil || ev.Contact.OwnerID != ev.UserID {
		logger.Debug(ctx, "verify.flow", "input.unexpected",
			slog.Int64("user_id", ev.UserID),
			slog.String("state", string(StatusAwaitingPhone)),
			slog.String("text", logger.SanitizeLimit(ev.Text, 64)),
		)
		return Reply{
			Text:     "❌ Please share your own phone number using the button.",
			Keyboard: KeyboardContact,
		}, nil
	}

	phone := ev.Contact.Phone
	if _, ok := f.store.CompareAndSwap(ev.UserID, StatusAwaitingPhone, StatusAwaitingDocument, func(r *Request) {
		r.Phone = phone
	}); !ok {
		// The record changed underneath us (cancel or restart race).
		return Reply{Text: "Use /start to begin the verification process."}, nil
	}

	logger.Info(ctx, "verify.flow", "phone.captured",
		slog.Int64("user_id", ev.UserID),
		slog.String("from_state", string(StatusAwaitingPhone)),
		slog.String("to_state", string(StatusAwaitingDocument)),
	)
	return Reply{
		Text: fmt.Sprintf("✅ Phone number received: %s\n\n"+
			"Now, please upload a photo of your document (ID, passport, etc.)", phone),
		Keyboard: KeyboardRemove,
	}, nil
}

func (f *Flow) stepDocument(ctx context.Context, ev Event, req Request) (Reply, error) {
	if ev.PhotoID == "" {
		logger.Debug(ctx, "verify.flow", "input.unexpected",
			slog.Int64("user_id", ev.UserID),
			slog.String("state", string(StatusAwaitingDocument)),
			slog.String("text", logger.SanitizeLimit(ev.Text, 64)),
		)
		return Reply{Text: "❌ Please send a photo of your document."}, nil
	}

	// Forward before committing: pending_review is entered only once the
	// admin group actually has the submission. On failure the record stays
	// in awaiting_document and the user resends.
	candidate := req
	candidate.DocumentFileID = ev.PhotoID
	if err := f.notify.ForwardSubmission(ctx, candidate); err != nil {
		logger.Error(ctx, "verify.flow", "submission.forward_failed",
			slog.Int64("user_id", ev.UserID),
			slog.String("state", string(req.Status)),
			slog.String("err", err.Error()),
		)
		return Reply{Text: "⚠️ Could not submit your request right now. Please send the photo again in a moment."}, nil
	}

	photoID := ev.PhotoID
	if _, ok := f.store.CompareAndSwap(ev.UserID, StatusAwaitingDocument, StatusPendingReview, func(r *Request) {
		r.DocumentFileID = photoID
	}); !ok {
		// A racing submission won the review slot while our forward was in
		// flight; the admin group may have received this one as a duplicate.
		if cur, ok := f.store.Get(ev.UserID); ok && cur.Status == StatusPendingReview {
			return f.stepPending(ctx, ev, cur)
		}
		return Reply{Text: "Use /start to begin the verification process."}, nil
	}

	logger.Info(ctx, "verify.flow", "submission.forwarded",
		slog.Int64("user_id", ev.UserID),
		slog.String("from_state", string(StatusAwaitingDocument)),
		slog.String("to_state", string(StatusPendingReview)),
	)
	return Reply{Text: "✅ Your request has been submitted!\n\n" +
		"An admin will review your information and you'll be notified once approved."}, nil
}

func (f *Flow) stepPending(context.Context, Event, Request) (Reply, error) {
	return Reply{Text: "⏳ Your request is already under review. You'll be notified once an admin decides."}, nil
}

// Terminal records normally leave the store right after the outcome is
// delivered; answer conservatively if one is still around.
func (f *Flow) stepResolved(_ context.Context, _ Event, req Request) (Reply, error) {
	if req.Status == StatusApproved {
		return Reply{Text: "Your request has already been approved."}, nil
	}
	return Reply{Text: "Your request has been rejected. Use /start to try again."}, nil
}
