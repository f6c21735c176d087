package notifications

import (
	"time"
)

// Platform is the push platform a token was registered for.
// It is fixed at registration and never re-inferred on the send path.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformUnknown Platform = "unknown"
)

// ParsePlatform maps a client-reported platform string to a Platform.
func ParsePlatform(s string) Platform {
	switch s {
	case "ios", "iOS", "IOS":
		return PlatformIOS
	case "android", "Android", "ANDROID":
		return PlatformAndroid
	default:
		return PlatformUnknown
	}
}

// TokenState is the lifecycle state of a device token.
type TokenState string

const (
	TokenStateActive  TokenState = "active"
	TokenStateStale   TokenState = "stale"
	TokenStateInvalid TokenState = "invalid"
)

// Usable reports whether a message may be sent to a token in this state.
func (s TokenState) Usable() bool {
	return s == TokenStateActive || s == TokenStateStale
}

// DeviceToken is a recipient's currently registered push endpoint.
type DeviceToken struct {
	RecipientID       string     `json:"recipient_id"`
	Value             string     `json:"-"`
	Platform          Platform   `json:"platform"`
	State             TokenState `json:"state"`
	RegisteredAt      time.Time  `json:"registered_at"`
	LastValidatedAt   time.Time  `json:"last_validated_at"`
	EstimatedExpiryAt time.Time  `json:"estimated_expiry_at"`
	InvalidReason     ErrorKind  `json:"invalid_reason,omitempty"`
	InvalidatedAt     *time.Time `json:"invalidated_at,omitempty"`
}

// TokenPrefix is the log-safe form of the token value.
func (t DeviceToken) TokenPrefix() string {
	if t.Value == "" {
		return ""
	}
	return tokenPrefix(t.Value)
}

// Importance classifies whether a message may be escalated to a fallback channel.
type Importance string

const (
	ImportanceNormal    Importance = "normal"
	ImportanceImportant Importance = "important"
)

// DeliveryMode selects the envelope shape.
type DeliveryMode string

const (
	// ModeAlert shows a user-visible notification.
	ModeAlert DeliveryMode = "alert"
	// ModeBackground wakes the app without alerting.
	ModeBackground DeliveryMode = "background"
	// ModeSilent is a low priority wake used to probe token freshness.
	ModeSilent DeliveryMode = "silent"
)

// Visible reports whether the mode carries user-visible fields.
func (m DeliveryMode) Visible() bool {
	return m == ModeAlert
}

// NotificationMessage is the unit of work submitted by a caller. It is never mutated after submission.
type NotificationMessage struct {
	ID          string
	RecipientID string
	Title       string
	Body        string
	Importance  Importance
	Mode        DeliveryMode
	// Data is forwarded to the app as-is.
	Data map[string]string
	// Badge is the app icon badge hint for alerts; zero leaves it unset.
	Badge int
}

// Outcome is the result class of one delivery attempt.
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeTransientFailure Outcome = "transient_failure"
	OutcomePermanentFailure Outcome = "permanent_failure"
)

// DeliveryAttempt is one try against the gateway for one message.
// AttemptNumber 0 marks a terminal outcome decided locally without a gateway call.
type DeliveryAttempt struct {
	MessageID        string    `json:"message_id"`
	SubmissionID     string    `json:"submission_id,omitempty"`
	RecipientID      string    `json:"recipient_id"`
	TokenValue       string    `json:"-"`
	AttemptNumber    int       `json:"attempt_number"`
	Timestamp        time.Time `json:"timestamp"`
	Outcome          Outcome   `json:"outcome"`
	Kind             ErrorKind `json:"kind,omitempty"`
	Platform         Platform  `json:"platform"`
	GatewayMessageID string    `json:"gateway_message_id,omitempty"`
	Error            string    `json:"error,omitempty"`
}

// TokenPrefix is the log-safe form of the token snapshot.
func (a DeliveryAttempt) TokenPrefix() string {
	return tokenPrefix(a.TokenValue)
}

// TokenHealth summarizes token states for monitoring.
type TokenHealth struct {
	ActiveCount  int64 `json:"active_count"`
	StaleCount   int64 `json:"stale_count"`
	InvalidCount int64 `json:"invalid_count"`
}

// InvalidationReason explains why a token is being retired.
type InvalidationReason struct {
	Kind ErrorKind
	// TokenValue is the snapshot the caller observed. When set and the stored value has
	// changed since, the invalidation is skipped because the token was superseded.
	TokenValue string
	Detail     string
}

// Status is the terminal state of a submission.
type Status string

const (
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
	StatusEscalated Status = "escalated"
	StatusCancelled Status = "cancelled"
)

// Result is the eventual outcome of one submission.
type Result struct {
	SubmissionID     string    `json:"submission_id"`
	MessageID        string    `json:"message_id"`
	RecipientID      string    `json:"recipient_id"`
	Status           Status    `json:"status"`
	Kind             ErrorKind `json:"kind,omitempty"`
	Attempts         int       `json:"attempts"`
	GatewayMessageID string    `json:"gateway_message_id,omitempty"`
}

// tokenPrefix returns a log-safe prefix of a token value.
func tokenPrefix(token string) string {
	return token[:min(10, len(token))] + "..."
}
