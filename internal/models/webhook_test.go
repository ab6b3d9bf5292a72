package models

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodePayload(t *testing.T, raw string) *WebhookPayload {
	t.Helper()
	var p WebhookPayload
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	return &p
}

func TestNormalizeGatewayPayload(t *testing.T) {
	p := decodePayload(t, `{"event":"message","payload":{"from":"5215@s.whatsapp.net","body":"hi AB2345","id":"MSG_1"}}`)

	msg, ok := p.Normalize()

	require.True(t, ok)
	assert.False(t, p.IsSimulation())
	assert.Equal(t, InboundMessage{Sender: "5215@s.whatsapp.net", Body: "hi AB2345", MessageID: "MSG_1"}, msg)
}

func TestNormalizeSimulationPayload(t *testing.T) {
	p := decodePayload(t, `{"sender":"+5215551234","text":"AB2345","timestamp":1700000000}`)

	msg, ok := p.Normalize()

	require.True(t, ok)
	assert.True(t, p.IsSimulation())
	assert.Equal(t, "sim-1700000000", msg.MessageID)
	assert.Equal(t, "AB2345", msg.Body)
}

func TestNormalizeRejectsIncompletePayloads(t *testing.T) {
	for name, raw := range map[string]string{
		"other event":      `{"event":"ack","payload":{"from":"5215","body":"x","id":"1"}}`,
		"missing payload":  `{"event":"message"}`,
		"missing body":     `{"event":"message","payload":{"from":"5215","id":"1"}}`,
		"missing id":       `{"event":"message","payload":{"from":"5215","body":"x"}}`,
		"simulation no ts": `{"sender":"5215","text":"AB2345"}`,
		"simulation empty": `{"sender":"","text":"AB2345","timestamp":1}`,
		"simulation short": `{"sender":"5215","text":"AB2345","timestamp":1}`,
		"simulation name":  `{"sender":"mallory","text":"AB2345","timestamp":1}`,
		"bare domain":      `{"event":"message","payload":{"from":"@s.whatsapp.net","body":"x","id":"1"}}`,
		"plus domain":      `{"event":"message","payload":{"from":"+@x","body":"x","id":"1"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, ok := decodePayload(t, raw).Normalize()
			assert.False(t, ok)
		})
	}
}
