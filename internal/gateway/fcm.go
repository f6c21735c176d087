package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"firebase.google.com/go/v4/messaging"

	"github.com/eternisai/push-relay/internal/logger"
	"github.com/eternisai/push-relay/internal/notifications"
)

// fcmSender is the subset of *messaging.Client used by FCMClient.
type fcmSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// Config configures the FCM gateway.
type Config struct {
	ProjectID       string
	CredentialsJSON string
	Envelope        EnvelopeConfig
	// DebugCurl logs a reproducible curl command for failed sends. The command
	// contains a live OAuth token; never enable it in production.
	DebugCurl bool
}

// FCMClient delivers messages through Firebase Cloud Messaging.
type FCMClient struct {
	sender fcmSender
	cfg    Config
	logger *logger.Logger
	now    func() time.Time
}

// NewFCMClient wraps a firebase messaging client.
func NewFCMClient(client *messaging.Client, cfg Config, log *logger.Logger) *FCMClient {
	return newFCMClient(client, cfg, log)
}

func newFCMClient(sender fcmSender, cfg Config, log *logger.Logger) *FCMClient {
	return &FCMClient{
		sender: sender,
		cfg:    cfg,
		logger: log.WithComponent("fcm-gateway"),
		now:    time.Now,
	}
}

// Send delivers msg to token and returns the FCM message name. Failures are
// returned as *notifications.DeliveryError.
func (c *FCMClient) Send(ctx context.Context, token notifications.DeviceToken, msg notifications.NotificationMessage) (string, error) {
	envelope := BuildEnvelope(token, msg, c.now(), c.cfg.Envelope)

	response, err := c.sender.Send(ctx, envelope)
	if err == nil {
		return response, nil
	}

	kind := translateError(err, token.Value)
	log := c.logger.WithContext(ctx)
	log.Debug("fcm send failed",
		slog.String("kind", string(kind)),
		slog.String("platform", string(token.Platform)),
		slog.String("error", err.Error()))

	if c.cfg.DebugCurl {
		log.Debug("fcm debug curl",
			slog.String("curl", GenerateDebugCurl(context.WithoutCancel(ctx), c.cfg.CredentialsJSON, c.cfg.ProjectID, envelope)))
	}

	return "", notifications.NewDeliveryError(kind, err)
}

// translateError maps an FCM or transport error onto the delivery error taxonomy.
// FCM reports a malformed token and a malformed message with the same
// INVALID_ARGUMENT code, so the token is only blamed when it fails local validation.
func translateError(err error, tokenValue string) notifications.ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return notifications.KindTimeout
	case messaging.IsUnregistered(err):
		return notifications.KindUnregistered
	case messaging.IsInvalidArgument(err):
		if _, ok := notifications.Validate(tokenValue); !ok {
			return notifications.KindInvalidTokenFormat
		}
		return notifications.KindMessageRejected
	case messaging.IsSenderIDMismatch(err), messaging.IsThirdPartyAuthError(err):
		return notifications.KindAuthRejected
	case messaging.IsUnavailable(err), messaging.IsInternal(err), messaging.IsQuotaExceeded(err):
		return notifications.KindServiceUnavailable
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return notifications.KindTimeout
		}
		return notifications.KindNetworkUnavailable
	}

	return notifications.KindUnknown
}
