package models

import (
	"bytes"
	"strings"

	"github.com/goccy/go-json"
)

const (
	WebhookStatusOK        = "ok"
	WebhookStatusIgnored   = "ignored"
	WebhookStatusSimulated = "simulated"
)

// Reasons reported in WebhookResult.Msg.
const (
	ReasonRateLimited      = "rate_limit_exceeded"
	ReasonNoToken          = "no_token"
	ReasonDuplicate        = "duplicate"
	ReasonSessionNotFound  = "session_not_found"
	ReasonAlreadyClaimed   = "token_already_claimed"
	ReasonPhoneMismatch    = "phone_mismatch"
	ReasonInvalidState     = "invalid_state"
	ReasonSendFailed       = "send_failed"
	ReasonUnavailable      = "unavailable"
	ReasonInvalidPayload   = "invalid_payload"
	ReasonUnsupportedEvent = "unsupported_event"
)

// InboundMessage is one message received on the channel, whatever its source.
type InboundMessage struct {
	Sender    string
	Body      string
	MessageID string
}

// WebhookResult is the only thing the channel ever learns about a message.
type WebhookResult struct {
	Status string `json:"status"`
	Msg    string `json:"msg,omitempty"`
}

func Ignored(reason string) WebhookResult {
	return WebhookResult{Status: WebhookStatusIgnored, Msg: reason}
}

// WebhookPayload accepts both the gateway event shape
// {event, payload:{from, body, id}} and the simulation shape {sender, text, timestamp}.
type WebhookPayload struct {
	Event     string          `json:"event,omitempty"`
	Payload   *GatewayMessage `json:"payload,omitempty"`
	Sender    *string         `json:"sender,omitempty"`
	Text      *string         `json:"text,omitempty"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

type GatewayMessage struct {
	From string `json:"from"`
	Body string `json:"body"`
	ID   string `json:"id"`
}

// IsSimulation reports whether the payload uses the simulation shape.
func (p *WebhookPayload) IsSimulation() bool {
	return p.Sender != nil && p.Text != nil
}

// Normalize converts the payload into an InboundMessage. ok is false for
// events other than "message", for payloads missing sender, body or id, and
// for senders with no address left after normalization. Simulated senders
// must also be phone numbers.
func (p *WebhookPayload) Normalize() (InboundMessage, bool) {
	var msg InboundMessage
	if p.IsSimulation() {
		msg.Sender = strings.TrimSpace(*p.Sender)
		msg.Body = *p.Text
		if ts := rawScalar(p.Timestamp); ts != "" {
			msg.MessageID = "sim-" + ts
		}
	} else {
		if p.Event != "message" || p.Payload == nil {
			return msg, false
		}
		msg.Sender = strings.TrimSpace(p.Payload.From)
		msg.Body = p.Payload.Body
		msg.MessageID = p.Payload.ID
	}
	if NormalizeAddress(msg.Sender) == "" || msg.Body == "" || msg.MessageID == "" {
		return msg, false
	}
	if p.IsSimulation() && !IsPhoneNumber(msg.Sender) {
		return msg, false
	}
	return msg, true
}

func rawScalar(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s
	}
	return string(trimmed)
}
