package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/eternisai/push-relay/internal/logger"
)

// SubmitRequest is what a caller provides to send one notification.
type SubmitRequest struct {
	RecipientID string
	Title       string
	Body        string
	Importance  Importance
	Mode        DeliveryMode
	Data        map[string]string
	Badge       int
}

// Service is the entry point for callers: submitting messages, reporting observed
// tokens and reading health.
type Service struct {
	store      TokenStore
	log        DeliveryLog
	dispatcher *Dispatcher
	metrics    *Metrics
	logger     *logger.Logger
}

// NewService creates the facade over an already running dispatcher.
func NewService(store TokenStore, deliveryLog DeliveryLog, dispatcher *Dispatcher, metrics *Metrics, logger *logger.Logger) *Service {
	return &Service{
		store:      store,
		log:        deliveryLog,
		dispatcher: dispatcher,
		metrics:    metrics,
		logger:     logger.WithComponent("push-notifications"),
	}
}

// Submit queues a message and returns without waiting for delivery.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) *Submission {
	msg := NotificationMessage{
		ID:          uuid.New().String(),
		RecipientID: req.RecipientID,
		Title:       req.Title,
		Body:        req.Body,
		Importance:  req.Importance,
		Mode:        req.Mode,
		Badge:       req.Badge,
	}
	if msg.Importance == "" {
		msg.Importance = ImportanceNormal
	}
	if msg.Mode == "" {
		msg.Mode = ModeAlert
	}
	if len(req.Data) > 0 {
		msg.Data = make(map[string]string, len(req.Data))
		for k, v := range req.Data {
			msg.Data[k] = v
		}
	}

	sub := s.dispatcher.Enqueue(ctx, msg)

	s.logger.WithContext(logger.WithMessageID(ctx, msg.ID)).Debug("notification submitted",
		slog.String("submission_id", sub.ID),
		slog.String("recipient_id", msg.RecipientID),
		slog.String("importance", string(msg.Importance)),
		slog.String("mode", string(msg.Mode)))

	return sub
}

// OnTokenObserved records a token reported by a client. Malformed tokens are rejected
// before they reach the store. An empty or unknown platform is inferred from the
// token shape.
func (s *Service) OnTokenObserved(ctx context.Context, recipientID, value string, platform Platform) (DeviceToken, error) {
	log := s.logger.WithContext(logger.WithRecipientID(ctx, recipientID))
	value = strings.TrimSpace(value)

	inferred, ok := Validate(value)
	if !ok {
		s.metrics.observeRegistration("rejected")
		log.Warn("rejected malformed push token", slog.Int("length", len(value)))
		return DeviceToken{}, ErrInvalidTokenFormat
	}

	res, err := s.store.Register(ctx, recipientID, value, ResolvePlatform(platform, inferred))
	if err != nil {
		if errors.Is(err, ErrUnknownRecipient) {
			s.metrics.observeRegistration("unknown_recipient")
			return DeviceToken{}, err
		}
		s.metrics.observeRegistration("error")
		return DeviceToken{}, fmt.Errorf("failed to register push token: %w", err)
	}

	if !res.Written {
		s.metrics.observeRegistration("deduplicated")
		log.Debug("push token unchanged, registration skipped")
		return res.Token, nil
	}

	s.metrics.observeRegistration("written")
	log.Info("push token registered",
		slog.String("platform", string(res.Token.Platform)),
		slog.String("token_prefix", tokenPrefix(res.Token.Value)))

	return res.Token, nil
}

// GetTokenHealth returns token counts per state.
func (s *Service) GetTokenHealth(ctx context.Context) (TokenHealth, error) {
	health, err := s.store.Health(ctx)
	if err != nil {
		return TokenHealth{}, fmt.Errorf("failed to read token health: %w", err)
	}
	return health, nil
}

// GetRecentFailures returns the newest failed delivery attempts.
func (s *Service) GetRecentFailures(ctx context.Context, limit int) ([]DeliveryAttempt, error) {
	attempts, err := s.log.RecentFailures(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read delivery failures: %w", err)
	}
	return attempts, nil
}
