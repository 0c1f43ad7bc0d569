package mqtt_middleware

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/benmeehan/knock-agent/pkg/identity"
	mqttLib "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Envelope stamps every outgoing message with who sent it and when.
type Envelope struct {
	MessageID   string          `json:"message_id"`
	CanvasserID string          `json:"canvasser_id"`
	TeamID      string          `json:"team_id,omitempty"`
	SentAt      time.Time       `json:"sent_at"`
	Payload     json.RawMessage `json:"payload"`
}

// EnvelopeMiddleware wraps published payloads in an Envelope.
type EnvelopeMiddleware struct {
	next          MQTTMiddleware
	canvasserInfo identity.CanvasserInfoInterface
	logger        zerolog.Logger
	now           func() time.Time
}

// NewEnvelopeMiddleware creates an envelope middleware for the given canvasser.
func NewEnvelopeMiddleware(canvasserInfo identity.CanvasserInfoInterface, logger zerolog.Logger) *EnvelopeMiddleware {
	return &EnvelopeMiddleware{
		canvasserInfo: canvasserInfo,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SetNext sets the next middleware in the chain.
func (m *EnvelopeMiddleware) SetNext(next MQTTMiddleware) {
	m.next = next
}

// Publish wraps payload and forwards it. Byte slices are taken as JSON as-is.
func (m *EnvelopeMiddleware) Publish(topic string, qos byte, retained bool, payload interface{}) error {
	var raw json.RawMessage
	switch p := payload.(type) {
	case []byte:
		raw = p
	case json.RawMessage:
		raw = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to serialize payload: %w", err)
		}
		raw = b
	}
	if !json.Valid(raw) {
		return fmt.Errorf("payload for %s is not valid JSON", topic)
	}

	env := Envelope{
		MessageID:   uuid.NewString(),
		CanvasserID: m.canvasserInfo.GetCanvasserID(),
		SentAt:      m.now(),
		Payload:     raw,
	}
	if id := m.canvasserInfo.GetIdentity(); id != nil {
		env.TeamID = id.TeamID
	}

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to serialize envelope: %w", err)
	}
	m.logger.Debug().Str("topic", topic).Str("message_id", env.MessageID).Msg("Publishing enveloped message")
	return m.next.Publish(topic, qos, retained, body)
}

// Subscribe passes through.
func (m *EnvelopeMiddleware) Subscribe(topic string, qos byte, callback mqttLib.MessageHandler) error {
	return m.next.Subscribe(topic, qos, callback)
}

// Unsubscribe passes through.
func (m *EnvelopeMiddleware) Unsubscribe(topics ...string) error {
	return m.next.Unsubscribe(topics...)
}
