package notifications

import (
	"errors"
	"fmt"
)

// ErrorKind is the delivery error taxonomy.
type ErrorKind string

const (
	// Permanent: the token can never succeed again without re-registration.
	KindInvalidTokenFormat ErrorKind = "invalid_token_format"
	KindUnregistered       ErrorKind = "unregistered"
	KindAuthRejected       ErrorKind = "auth_rejected"

	// Permanent for this message only: the gateway refused its content, the token
	// stays usable.
	KindMessageRejected ErrorKind = "message_rejected"

	// Transient: eligible for retry.
	KindTimeout            ErrorKind = "timeout"
	KindNetworkUnavailable ErrorKind = "network_unavailable"
	KindServiceUnavailable ErrorKind = "service_unavailable"
	KindUnknown            ErrorKind = "unknown"

	// Terminal outcomes decided locally, without a gateway verdict.
	KindNoToken      ErrorKind = "no_token"
	KindTokenRevoked ErrorKind = "token_revoked"
	KindCancelled    ErrorKind = "cancelled"
	KindQueueFull    ErrorKind = "queue_full"
	// The payload exceeds MaxPayloadBytes and was never sent.
	KindPayloadTooLarge ErrorKind = "payload_too_large"
)

// Permanent reports whether a gateway verdict of this kind must never be retried.
func (k ErrorKind) Permanent() bool {
	return k.InvalidatesToken() || k == KindMessageRejected
}

// InvalidatesToken reports whether the kind proves the token can never succeed again.
func (k ErrorKind) InvalidatesToken() bool {
	switch k {
	case KindInvalidTokenFormat, KindUnregistered, KindAuthRejected:
		return true
	default:
		return false
	}
}

// Retryable reports whether an attempt that failed with this kind may be retried.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindTimeout, KindNetworkUnavailable, KindServiceUnavailable, KindUnknown:
		return true
	default:
		return false
	}
}

var (
	ErrUnknownRecipient   = errors.New("unknown recipient")
	ErrInvalidTokenFormat = errors.New("invalid token format")
	ErrPayloadTooLarge    = errors.New("notification payload too large")
)

// DeliveryError is a gateway failure translated into the error taxonomy.
type DeliveryError struct {
	Kind ErrorKind
	Err  error
}

// NewDeliveryError wraps err with kind.
func NewDeliveryError(kind ErrorKind, err error) *DeliveryError {
	return &DeliveryError{Kind: kind, Err: err}
}

func (e *DeliveryError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// KindOf extracts the error kind from err. Errors that were not translated by a
// gateway are treated as unknown, which is transient.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}
