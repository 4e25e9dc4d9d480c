package verify

import "context"

// Notifier is the outbound messaging collaborator. Implementations must be
// safe for concurrent use. Failures are reported to the caller and never
// corrupt request state.
type Notifier interface {
	// ForwardSubmission delivers the captured document and submission
	// summary to the admin review channel, including decision controls.
	ForwardSubmission(ctx context.Context, req Request) error
	// CreateInvite returns a single-use invite link for the private group.
	CreateInvite(ctx context.Context) (string, error)
	// SendUser sends a plain text message to the given private chat.
	SendUser(ctx context.Context, chatID int64, text string) error
}
