package control

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// EventTopic is the NATS subject outbound events publish to, mirroring the
// teacher's "cryptofunk.orchestrator.control" control-topic convention.
const EventTopic = "fluxengine.engine.events"

// NATSBridge publishes outbound Events to a NATS subject so external
// observers (dashboards, alerting, a Telegram bot) can subscribe without a
// direct Go dependency on this process.
type NATSBridge struct {
	conn  *nats.Conn
	topic string
}

// NewNATSBridge connects to url and returns a bridge publishing to topic
// (EventTopic if empty). A nil *NATSBridge is valid and Publish becomes a
// no-op, matching the orchestrator's nil-natsConn guard.
func NewNATSBridge(url, topic string) (*NATSBridge, error) {
	if topic == "" {
		topic = EventTopic
	}
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("control: connect to nats: %w", err)
	}
	log.Info().Str("nats_url", url).Str("topic", topic).Msg("control bus connected to NATS")
	return &NATSBridge{conn: nc, topic: topic}, nil
}

// Publish marshals and broadcasts an Event. Errors are logged, not
// propagated: the outbound event stream is best-effort and must never
// block the component that raised the event.
func (b *NATSBridge) Publish(ev Event) {
	if b == nil || b.conn == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	wire := struct {
		Kind      EventKind   `json:"kind"`
		Symbol    string      `json:"symbol,omitempty"`
		Payload   any         `json:"payload,omitempty"`
		Err       string      `json:"error,omitempty"`
		Timestamp time.Time   `json:"timestamp"`
	}{Kind: ev.Kind, Symbol: string(ev.Symbol), Payload: ev.Payload, Timestamp: ev.Timestamp}
	if ev.Err != nil {
		wire.Err = ev.Err.Error()
	}

	data, err := json.Marshal(wire)
	if err != nil {
		log.Error().Err(err).Str("kind", string(ev.Kind)).Msg("failed to marshal outbound event")
		return
	}
	if err := b.conn.Publish(b.topic, data); err != nil {
		log.Error().Err(err).Str("topic", b.topic).Msg("failed to publish outbound event")
	}
}

// Close closes the NATS connection without draining it first.
func (b *NATSBridge) Close() {
	if b == nil || b.conn == nil {
		return
	}
	b.conn.Close()
}
