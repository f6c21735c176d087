package gateway

import (
	"fmt"
	"strconv"
	"time"

	"firebase.google.com/go/v4/messaging"

	"github.com/eternisai/push-relay/internal/notifications"
)

// MaxTTL is the longest lifetime FCM accepts for a message.
const MaxTTL = 28 * 24 * time.Hour

const (
	androidPriorityHigh   = "high"
	androidPriorityNormal = "normal"

	apnsPriorityImmediate = "10"
	apnsPriorityThrottled = "5"

	apnsPushTypeAlert      = "alert"
	apnsPushTypeBackground = "background"

	defaultSound = "default"
)

// EnvelopeConfig holds the message lifetimes per delivery mode.
type EnvelopeConfig struct {
	AlertTTL  time.Duration
	SilentTTL time.Duration
}

// DefaultEnvelopeConfig is used for zero values.
var DefaultEnvelopeConfig = EnvelopeConfig{
	AlertTTL:  24 * time.Hour,
	SilentTTL: time.Hour,
}

// BuildEnvelope builds the FCM message for one token.
//
// Alerts carry visible title and body. Background and silent pushes carry no visible
// fields and set content-available. Every envelope gets its own grouping id so that
// concurrent alerts to one recipient are never collapsed into each other.
func BuildEnvelope(token notifications.DeviceToken, msg notifications.NotificationMessage, now time.Time, cfg EnvelopeConfig) *messaging.Message {
	if cfg.AlertTTL <= 0 {
		cfg.AlertTTL = DefaultEnvelopeConfig.AlertTTL
	}
	if cfg.SilentTTL <= 0 {
		cfg.SilentTTL = DefaultEnvelopeConfig.SilentTTL
	}

	mode := msg.Mode
	if mode == "" {
		mode = notifications.ModeAlert
	}

	ttl := cfg.AlertTTL
	if mode == notifications.ModeSilent {
		ttl = cfg.SilentTTL
	}
	ttl = min(ttl, MaxTTL)

	groupID := fmt.Sprintf("%s-%d", msg.ID, now.UnixNano())
	data := envelopeData(msg, mode)

	m := &messaging.Message{
		Token: token.Value,
		Data:  data,
	}

	switch token.Platform {
	case notifications.PlatformAndroid:
		m.Android = androidConfig(msg, mode, ttl, groupID)
	case notifications.PlatformIOS:
		m.APNS = apnsConfig(msg, mode, now.Add(ttl), groupID)
	default:
		// FCM applies the section matching the device it resolves the token to.
		m.Android = androidConfig(msg, mode, ttl, groupID)
		m.APNS = apnsConfig(msg, mode, now.Add(ttl), groupID)
	}

	return m
}

func envelopeData(msg notifications.NotificationMessage, mode notifications.DeliveryMode) map[string]string {
	data := map[string]string{
		"message_id": msg.ID,
		"mode":       string(mode),
	}
	if mode == notifications.ModeSilent {
		return data
	}
	for k, v := range msg.Data {
		if _, reserved := data[k]; reserved {
			continue
		}
		data[k] = v
	}
	return data
}

func androidConfig(msg notifications.NotificationMessage, mode notifications.DeliveryMode, ttl time.Duration, groupID string) *messaging.AndroidConfig {
	cfg := &messaging.AndroidConfig{
		Priority: androidPriorityHigh,
		TTL:      &ttl,
	}
	if mode == notifications.ModeSilent {
		cfg.Priority = androidPriorityNormal
	}
	if mode.Visible() {
		cfg.Notification = &messaging.AndroidNotification{
			Title: msg.Title,
			Body:  msg.Body,
			Sound: defaultSound,
			Tag:   groupID,
		}
		if msg.Badge > 0 {
			count := msg.Badge
			cfg.Notification.NotificationCount = &count
		}
	}
	return cfg
}

func apnsConfig(msg notifications.NotificationMessage, mode notifications.DeliveryMode, expiry time.Time, groupID string) *messaging.APNSConfig {
	headers := map[string]string{
		"apns-expiration": strconv.FormatInt(expiry.Unix(), 10),
	}
	aps := &messaging.Aps{ThreadID: groupID}

	if mode.Visible() {
		headers["apns-priority"] = apnsPriorityImmediate
		headers["apns-push-type"] = apnsPushTypeAlert
		aps.Alert = &messaging.ApsAlert{
			Title: msg.Title,
			Body:  msg.Body,
		}
		aps.Sound = defaultSound
		if msg.Badge > 0 {
			badge := msg.Badge
			aps.Badge = &badge
		}
	} else {
		// APNs rejects background pushes sent with priority 10.
		headers["apns-priority"] = apnsPriorityThrottled
		headers["apns-push-type"] = apnsPushTypeBackground
		aps.ContentAvailable = true
	}

	return &messaging.APNSConfig{
		Headers: headers,
		Payload: &messaging.APNSPayload{Aps: aps},
	}
}
