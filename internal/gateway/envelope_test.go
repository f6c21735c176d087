package gateway

import (
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eternisai/push-relay/internal/notifications"
)

var envelopeNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testToken(platform notifications.Platform) notifications.DeviceToken {
	return notifications.DeviceToken{
		RecipientID: "user-1",
		Value:       "dQw4w9WgXcQ:APA91bHun4MxP5egoKMwt2KZFBaFUH-1RYqx_Fs0nR6pN1eW7bdr8tA0nCc2Wd",
		Platform:    platform,
		State:       notifications.TokenStateActive,
	}
}

func testMessage(mode notifications.DeliveryMode) notifications.NotificationMessage {
	return notifications.NotificationMessage{
		ID:          "msg-1",
		RecipientID: "user-1",
		Title:       "Arrived",
		Body:        "Alex arrived at school",
		Importance:  notifications.ImportanceImportant,
		Mode:        mode,
		Data:        map[string]string{"type": "arrival", "mode": "spoofed"},
		Badge:       3,
	}
}

func TestBuildEnvelope_AndroidAlert(t *testing.T) {
	m := BuildEnvelope(testToken(notifications.PlatformAndroid), testMessage(notifications.ModeAlert), envelopeNow, EnvelopeConfig{})

	assert.Nil(t, m.APNS)
	require.NotNil(t, m.Android)
	assert.Equal(t, "high", m.Android.Priority)
	assert.Empty(t, m.Android.CollapseKey)
	require.NotNil(t, m.Android.TTL)
	assert.Equal(t, 24*time.Hour, *m.Android.TTL)

	require.NotNil(t, m.Android.Notification)
	assert.Equal(t, "Arrived", m.Android.Notification.Title)
	assert.Equal(t, "Alex arrived at school", m.Android.Notification.Body)
	assert.Equal(t, "msg-1-"+strconv.FormatInt(envelopeNow.UnixNano(), 10), m.Android.Notification.Tag)

	assert.Equal(t, "arrival", m.Data["type"])
	assert.Equal(t, "alert", m.Data["mode"])
	assert.Equal(t, "msg-1", m.Data["message_id"])
}

func TestBuildEnvelope_IOSAlert(t *testing.T) {
	m := BuildEnvelope(testToken(notifications.PlatformIOS), testMessage(notifications.ModeAlert), envelopeNow, EnvelopeConfig{})

	assert.Nil(t, m.Android)
	require.NotNil(t, m.APNS)
	assert.Equal(t, "10", m.APNS.Headers["apns-priority"])
	assert.Equal(t, "alert", m.APNS.Headers["apns-push-type"])
	assert.Equal(t, strconv.FormatInt(envelopeNow.Add(24*time.Hour).Unix(), 10), m.APNS.Headers["apns-expiration"])

	aps := m.APNS.Payload.Aps
	require.NotNil(t, aps.Alert)
	assert.Equal(t, "Arrived", aps.Alert.Title)
	assert.Equal(t, "default", aps.Sound)
	require.NotNil(t, aps.Badge)
	assert.Equal(t, 3, *aps.Badge)
	assert.False(t, aps.ContentAvailable)
	assert.NotEmpty(t, aps.ThreadID)
}

func TestBuildEnvelope_SilentHasNoAlertPayload(t *testing.T) {
	cfg := EnvelopeConfig{AlertTTL: 24 * time.Hour, SilentTTL: 30 * time.Minute}
	m := BuildEnvelope(testToken(notifications.PlatformUnknown), testMessage(notifications.ModeSilent), envelopeNow, cfg)

	assert.Nil(t, m.Notification)
	require.NotNil(t, m.Android)
	require.NotNil(t, m.APNS)

	assert.Equal(t, "normal", m.Android.Priority)
	assert.Nil(t, m.Android.Notification)
	assert.Equal(t, 30*time.Minute, *m.Android.TTL)

	aps := m.APNS.Payload.Aps
	assert.Nil(t, aps.Alert)
	assert.Nil(t, aps.Badge)
	assert.Empty(t, aps.Sound)
	assert.True(t, aps.ContentAvailable)
	assert.Equal(t, "5", m.APNS.Headers["apns-priority"])
	assert.Equal(t, "background", m.APNS.Headers["apns-push-type"])

	assert.Equal(t, map[string]string{"message_id": "msg-1", "mode": "silent"}, m.Data)

	raw, err := json.Marshal(m)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "Arrived")
	assert.Contains(t, string(raw), `"content-available":1`)
}

func TestBuildEnvelope_Background(t *testing.T) {
	m := BuildEnvelope(testToken(notifications.PlatformIOS), testMessage(notifications.ModeBackground), envelopeNow, EnvelopeConfig{})

	aps := m.APNS.Payload.Aps
	assert.Nil(t, aps.Alert)
	assert.True(t, aps.ContentAvailable)
	assert.Equal(t, "5", m.APNS.Headers["apns-priority"])
	assert.Equal(t, "arrival", m.Data["type"])

	android := BuildEnvelope(testToken(notifications.PlatformAndroid), testMessage(notifications.ModeBackground), envelopeNow, EnvelopeConfig{})
	assert.Equal(t, "high", android.Android.Priority)
	assert.Nil(t, android.Android.Notification)
}

func TestBuildEnvelope_TTLCapped(t *testing.T) {
	m := BuildEnvelope(testToken(notifications.PlatformAndroid), testMessage(notifications.ModeAlert), envelopeNow, EnvelopeConfig{AlertTTL: 90 * 24 * time.Hour})

	assert.Equal(t, MaxTTL, *m.Android.TTL)
}

func TestBuildEnvelope_GroupingIDsDiffer(t *testing.T) {
	token := testToken(notifications.PlatformIOS)
	a := BuildEnvelope(token, testMessage(notifications.ModeAlert), envelopeNow, EnvelopeConfig{})
	b := BuildEnvelope(token, testMessage(notifications.ModeAlert), envelopeNow.Add(time.Nanosecond), EnvelopeConfig{})

	assert.NotEqual(t, a.APNS.Payload.Aps.ThreadID, b.APNS.Payload.Aps.ThreadID)
}
