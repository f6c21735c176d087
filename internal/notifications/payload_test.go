package notifications

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPayloadSize(t *testing.T) {
	big := map[string]string{"blob": strings.Repeat("x", MaxPayloadBytes)}

	small := alertMessage(ImportanceNormal)
	assert.Less(t, small.PayloadSize(), MaxPayloadBytes)

	oversized := small
	oversized.Data = big
	assert.Greater(t, oversized.PayloadSize(), MaxPayloadBytes)

	// Silent pushes drop caller data, so the same data fits.
	silent := oversized
	silent.Mode = ModeSilent
	assert.Less(t, silent.PayloadSize(), MaxPayloadBytes)

	// An empty mode is sized as an alert.
	unset := small
	unset.Mode = ""
	assert.Equal(t, small.PayloadSize(), unset.PayloadSize())

	req := SubmitRequest{RecipientID: "user-1", Title: "t", Data: big}
	assert.Greater(t, req.PayloadSize(), MaxPayloadBytes)
}
