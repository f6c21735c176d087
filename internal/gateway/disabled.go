package gateway

import (
	"context"
	"log/slog"

	"github.com/eternisai/push-relay/internal/logger"
	"github.com/eternisai/push-relay/internal/notifications"
)

// Disabled is used when push notifications are turned off. Every send succeeds
// without contacting FCM.
type Disabled struct {
	logger *logger.Logger
}

// NewDisabled creates a gateway that never sends.
func NewDisabled(log *logger.Logger) *Disabled {
	return &Disabled{logger: log.WithComponent("fcm-gateway")}
}

func (d *Disabled) Send(ctx context.Context, token notifications.DeviceToken, msg notifications.NotificationMessage) (string, error) {
	d.logger.WithContext(ctx).Debug("push notifications disabled, skipping",
		slog.String("platform", string(token.Platform)),
		slog.String("mode", string(msg.Mode)))
	return "disabled", nil
}
