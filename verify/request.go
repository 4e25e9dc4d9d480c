// Package verify implements the access-verification lifecycle: a per-user
// request record, the conversation state machine that fills it in, and the
// admin decision handling that resolves it exactly once.
package verify

import (
	"strconv"
	"strings"
	"time"
)

// Status identifies a verification request's position in its lifecycle.
// Transitions only move forward: awaiting_phone -> awaiting_document ->
// pending_review -> approved/rejected.
type Status string

const (
	// StatusAwaitingPhone means the user has started but not yet shared a phone number.
	StatusAwaitingPhone Status = "awaiting_phone"
	// StatusAwaitingDocument means the phone number is captured and a document photo is expected.
	StatusAwaitingDocument Status = "awaiting_document"
	// StatusPendingReview means the submission was forwarded to the admin group.
	StatusPendingReview Status = "pending_review"
	// StatusApproved is terminal: an admin accepted the request.
	StatusApproved Status = "approved"
	// StatusRejected is terminal: an admin declined the request.
	StatusRejected Status = "rejected"
)

// Terminal reports whether no further transitions are permitted.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Request tracks one user's verification progress. Exactly one live Request
// exists per user id; restarting the conversation replaces it.
type Request struct {
	UserID         int64
	ChatID         int64
	FirstName      string
	LastName       string
	Username       string
	Phone          string
	DocumentFileID string
	Status         Status
	CreatedAt      time.Time
}

// DisplayName returns a human-readable label for admin-facing messages.
func (r Request) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(r.FirstName) + " " + strings.TrimSpace(r.LastName))
	if name == "" {
		name = "user " + strconv.FormatInt(r.UserID, 10)
	}
	return name
}
