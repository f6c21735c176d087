package notifications

import "encoding/json"

// MaxPayloadBytes is the FCM limit on the notification and data payload of one message.
const MaxPayloadBytes = 4096

// reservedDataBytes covers the message_id and mode keys the gateway adds to every
// message: `,"message_id":"<uuid>","mode":"background"`.
const reservedDataBytes = 72

// PayloadSize estimates the bytes FCM counts against MaxPayloadBytes for msg.
func (m NotificationMessage) PayloadSize() int {
	return payloadSize(m.Mode, m.Title, m.Body, m.Data)
}

// PayloadSize estimates the payload size of the message req would submit.
func (r SubmitRequest) PayloadSize() int {
	return payloadSize(r.Mode, r.Title, r.Body, r.Data)
}

func payloadSize(mode DeliveryMode, title, body string, data map[string]string) int {
	if mode == "" {
		mode = ModeAlert
	}
	p := struct {
		Title string            `json:"title,omitempty"`
		Body  string            `json:"body,omitempty"`
		Data  map[string]string `json:"data,omitempty"`
	}{}
	// Mirrors the envelope: silent pushes carry neither visible text nor caller data.
	if mode.Visible() {
		p.Title, p.Body = title, body
	}
	if mode != ModeSilent {
		p.Data = data
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return MaxPayloadBytes + 1
	}
	return len(raw) + reservedDataBytes
}
