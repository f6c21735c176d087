package fallback

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/eternisai/push-relay/internal/logger"
	"github.com/eternisai/push-relay/internal/notifications"
)

// Escalation is what a channel receives when push delivery could not complete.
type Escalation struct {
	RecipientID string                   `json:"recipient_id"`
	MessageID   string                   `json:"message_id"`
	Title       string                   `json:"title"`
	Body        string                   `json:"body"`
	Reason      notifications.ErrorKind  `json:"reason"`
	Contact     Contact                  `json:"contact"`
	Importance  notifications.Importance `json:"importance"`
}

// Channel delivers an escalation out of band.
type Channel interface {
	Name() string
	// Accepts reports whether the contact has an address this channel can use.
	Accepts(contact Contact) bool
	Send(ctx context.Context, e Escalation) error
}

// Notifier escalates Important messages to every channel that can reach the
// recipient. It implements notifications.Escalator.
type Notifier struct {
	resolver ContactResolver
	channels []Channel
	keywords []string
	logger   *logger.Logger
}

// NewNotifier creates a notifier. An empty keyword list lets every Important
// message through.
func NewNotifier(resolver ContactResolver, channels []Channel, keywords []string, log *logger.Logger) *Notifier {
	normalized := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			normalized = append(normalized, k)
		}
	}

	return &Notifier{
		resolver: resolver,
		channels: channels,
		keywords: normalized,
		logger:   log.WithComponent("fallback-notifier"),
	}
}

// Escalate hands msg to the fallback channels. It reports whether at least one
// channel accepted it and never returns an error.
func (n *Notifier) Escalate(ctx context.Context, recipientID string, msg notifications.NotificationMessage, reason notifications.ErrorKind) bool {
	log := n.logger.WithContext(logger.WithMessageID(logger.WithRecipientID(ctx, recipientID), msg.ID))

	if msg.Importance != notifications.ImportanceImportant {
		log.Debug("escalation skipped, message is not important")
		return false
	}
	if !n.matchesKeywords(msg) {
		log.Info("escalation skipped, no fallback keyword in message",
			slog.String("reason", string(reason)))
		return false
	}

	contact, err := n.resolver.Resolve(ctx, recipientID)
	if err != nil {
		if errors.Is(err, ErrContactNotFound) {
			log.Warn("escalation skipped, no contact details for recipient")
		} else {
			log.Error("failed to resolve fallback contact", slog.String("error", err.Error()))
		}
		return false
	}

	escalation := Escalation{
		RecipientID: recipientID,
		MessageID:   msg.ID,
		Title:       msg.Title,
		Body:        msg.Body,
		Reason:      reason,
		Contact:     contact,
		Importance:  msg.Importance,
	}

	handedOff := false
	for _, ch := range n.channels {
		if !ch.Accepts(contact) {
			continue
		}
		if err := ch.Send(ctx, escalation); err != nil {
			log.Error("fallback channel failed",
				slog.String("channel", ch.Name()),
				slog.String("error", err.Error()))
			continue
		}
		handedOff = true
		log.Info("escalation handed off",
			slog.String("channel", ch.Name()),
			slog.String("reason", string(reason)))
	}

	if !handedOff {
		log.Warn("no fallback channel accepted the escalation",
			slog.Int("channels", len(n.channels)))
	}
	return handedOff
}

func (n *Notifier) matchesKeywords(msg notifications.NotificationMessage) bool {
	if len(n.keywords) == 0 {
		return true
	}
	text := strings.ToLower(msg.Title + " " + msg.Body)
	for _, k := range n.keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}
