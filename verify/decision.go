package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rrader/po2bot/core/logger"
	"log/slog"
)

// Outcome is a terminal admin decision.
type Outcome string

const (
	// OutcomeApprove accepts the request and grants access.
	OutcomeApprove Outcome = "approve"
	// OutcomeReject declines the request.
	OutcomeReject Outcome = "reject"
)

func (o Outcome) status() (Status, bool) {
	switch o {
	case OutcomeApprove:
		return StatusApproved, true
	case OutcomeReject:
		return StatusRejected, true
	}
	return "", false
}

// ErrAlreadyHandled is returned when a decision arrives for a request that is
// missing or no longer pending. Duplicate admin clicks land here.
var ErrAlreadyHandled = errors.New("verify: request already handled")

// Decision records the result of resolving one pending request.
type Decision struct {
	Request        Request
	Outcome        Outcome
	Actor          string
	InviteLink     string
	DeliveryFailed bool
	DecidedAt      time.Time
}

// AuditRecorder persists terminal decisions.
type AuditRecorder interface {
	Record(ctx context.Context, dec Decision) error
}

// Decider resolves pending requests to a terminal state exactly once.
type Decider struct {
	store  Store
	notify Notifier
	audit  AuditRecorder
	now    func() time.Time
}

// NewDecider wires the decision handler. audit may be nil.
func NewDecider(store Store, notify Notifier, audit AuditRecorder) *Decider {
	return &Decider{store: store, notify: notify, audit: audit, now: time.Now}
}

// Decide transitions the user's pending request to the outcome's terminal
// state. The compare-and-set on status is the exactly-once point: of two
// concurrent decisions only one passes, the rest get ErrAlreadyHandled.
// Collaborator failures after the transition do not revert it; the user is
// told to contact support and the failure is noted in the audit row.
func (d *Decider) Decide(ctx context.Context, userID int64, outcome Outcome, actor string) (Decision, error) {
	terminal, ok := outcome.status()
	if !ok {
		return Decision{}, fmt.Errorf("verify: unknown outcome %q", outcome)
	}

	req, ok := d.store.CompareAndSwap(userID, StatusPendingReview, terminal, nil)
	if !ok {
		logger.Debug(ctx, "verify.decide", "decision.duplicate",
			slog.Int64("target_user_id", userID),
			slog.String("decision", string(outcome)),
			slog.String("actor", actor),
		)
		return Decision{}, ErrAlreadyHandled
	}

	dec := Decision{Request: req, Outcome: outcome, Actor: actor, DecidedAt: d.now()}

	switch outcome {
	case OutcomeApprove:
		invite, err := d.notify.CreateInvite(ctx)
		if err == nil {
			dec.InviteLink = invite
			err = d.notify.SendUser(ctx, req.ChatID, fmt.Sprintf(
				"🎉 Congratulations! Your request has been approved by %s.\n\n"+
					"Click here to join the private group:\n%s", actor, invite))
		}
		if err != nil {
			dec.DeliveryFailed = true
			logger.Error(ctx, "verify.decide", "approve.delivery_failed",
				slog.Int64("target_user_id", userID),
				slog.String("actor", actor),
				slog.String("err", err.Error()),
			)
			_ = d.notify.SendUser(ctx, req.ChatID,
				"❌ There was an error processing your approval. Please contact support.")
		}
	case OutcomeReject:
		if err := d.notify.SendUser(ctx, req.ChatID, fmt.Sprintf(
			"❌ Unfortunately, your request has been rejected by %s.", actor)); err != nil {
			dec.DeliveryFailed = true
			logger.Error(ctx, "verify.decide", "reject.delivery_failed",
				slog.Int64("target_user_id", userID),
				slog.String("actor", actor),
				slog.String("err", err.Error()),
			)
		}
	}

	// The terminal record leaves the in-memory store; the audit journal
	// keeps the durable trace. Conditional on status: a /start handled
	// while the delivery calls were in flight has already replaced the
	// record, and that fresh request must survive.
	d.store.CompareAndDelete(userID, terminal)

	if d.audit != nil {
		if err := d.audit.Record(ctx, dec); err != nil {
			logger.Error(ctx, "verify.audit", "record.failed",
				slog.Int64("target_user_id", userID),
				slog.String("err", err.Error()),
			)
		}
	}

	logger.Info(ctx, "verify.decide", "decision.recorded",
		slog.Int64("target_user_id", userID),
		slog.String("decision", string(outcome)),
		slog.String("actor", actor),
		slog.Bool("delivery_failed", dec.DeliveryFailed),
	)
	return dec, nil
}
