package notifications

import (
	"context"
	"time"
)

// RegisterResult is the outcome of TokenStore.Register.
type RegisterResult struct {
	Token DeviceToken
	// Written is false when the call was deduplicated against the stored token.
	Written bool
}

// TokenStore owns the mapping recipient -> current token and its lifecycle.
// All mutations are atomic per recipient.
type TokenStore interface {
	// Register upserts the token as Active. When the value equals the stored usable value
	// and it was validated within the dedup window, nothing is written.
	// Returns ErrUnknownRecipient when the recipient does not exist.
	Register(ctx context.Context, recipientID, value string, platform Platform) (RegisterResult, error)
	Lookup(ctx context.Context, recipientID string) (DeviceToken, bool, error)
	// Invalidate retires the token and clears its value. It is idempotent and reports
	// whether a transition happened.
	Invalidate(ctx context.Context, recipientID string, reason InvalidationReason) (bool, error)
	// Touch marks value as validated now. It never revives an Invalid token.
	Touch(ctx context.Context, recipientID, value string) (bool, error)
	// MarkStale moves Active tokens last validated before olderThan to Stale.
	MarkStale(ctx context.Context, olderThan time.Time) (int, error)
	// ListStale returns usable tokens last validated before olderThan, oldest first.
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]DeviceToken, error)
	Health(ctx context.Context) (TokenHealth, error)
}

// DeliveryLog is the append-only record of delivery attempts.
type DeliveryLog interface {
	Record(ctx context.Context, attempt DeliveryAttempt) error
	// RecentFailures returns the newest non-success attempts first.
	RecentFailures(ctx context.Context, limit int) ([]DeliveryAttempt, error)
}

// Gateway sends one message envelope to one device through the vendor push service.
// Errors are *DeliveryError values carrying the taxonomy kind.
type Gateway interface {
	Send(ctx context.Context, token DeviceToken, msg NotificationMessage) (string, error)
}

// Escalator hands an undeliverable Important message to a fallback channel.
// It reports whether the escalation was handed off; failures never propagate.
type Escalator interface {
	Escalate(ctx context.Context, recipientID string, msg NotificationMessage, reason ErrorKind) bool
}
