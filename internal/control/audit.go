package control

import (
	"github.com/rs/zerolog"
)

// AuditSink receives a durable record of every Command the engine accepts
// and every Event it emits. Only this interface lives in core scope —
// the durable store (Postgres, a log shipper, whatever) lives outside
// the core and is wired in at construction time.
type AuditSink interface {
	RecordCommand(cmd Command)
	RecordEvent(ev Event)
}

// LogAuditSink is the default AuditSink: it writes a structured log line
// per command/event rather than persisting anything, suitable for paper
// mode or when no durable sink is configured.
type LogAuditSink struct {
	log zerolog.Logger
}

// NewLogAuditSink constructs a LogAuditSink.
func NewLogAuditSink(log zerolog.Logger) *LogAuditSink {
	return &LogAuditSink{log: log.With().Str("component", "audit").Logger()}
}

// RecordCommand logs an inbound command, omitting ReplyTo (unserializable)
// and TrainingOpaque (opaque payload, not ours to interpret).
func (s *LogAuditSink) RecordCommand(cmd Command) {
	s.log.Info().
		Str("kind", string(cmd.Kind)).
		Str("mode", string(cmd.Mode)).
		Str("reason", cmd.Reason).
		Msg("command received")
}

// RecordEvent logs an outbound event.
func (s *LogAuditSink) RecordEvent(ev Event) {
	entry := s.log.Info().
		Str("kind", string(ev.Kind)).
		Str("symbol", string(ev.Symbol)).
		Time("timestamp", ev.Timestamp)
	if ev.Err != nil {
		entry = entry.Err(ev.Err)
	}
	entry.Msg("event emitted")
}
