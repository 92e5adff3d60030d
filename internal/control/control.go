// Package control defines the engine's inbound command and outbound event
// vocabulary and a dispatcher that routes commands to the components
// that own each concern.
package control

import (
	"time"

	"github.com/google/uuid"

	"github.com/ajitpratap0/fluxengine/internal/domain"
)

// CommandKind enumerates the inbound command sum type.
type CommandKind string

const (
	CmdStart            CommandKind = "START"
	CmdStop             CommandKind = "STOP"
	CmdShutdown         CommandKind = "SHUTDOWN"
	CmdSetMode          CommandKind = "SET_MODE"
	CmdSetSymbols       CommandKind = "SET_SYMBOLS"
	CmdSetLeverage      CommandKind = "SET_LEVERAGE"
	CmdTrainingControl  CommandKind = "TRAINING_CONTROL"
	CmdRequestStatus    CommandKind = "REQUEST_STATUS"
	CmdRequestMetrics   CommandKind = "REQUEST_METRICS"
	CmdRequestPositions CommandKind = "REQUEST_POSITIONS"
	CmdClosePosition    CommandKind = "CLOSE_POSITION"
	CmdEmergencyStop    CommandKind = "EMERGENCY_STOP"
)

// Mode is the engine's operating mode.
type Mode string

const (
	ModePaper         Mode = "PAPER"
	ModeLive          Mode = "LIVE"
	ModeHFT           Mode = "HFT"
	ModeArbitrageOnly Mode = "ARBITRAGE_ONLY"
)

// Reply carries a command's result back to its caller.
type Reply struct {
	OK      bool
	Data    any
	Err     error
}

// Command is one inbound instruction. Exactly one of the optional payload
// fields is populated, matching Kind. When ReplyTo is non-nil the
// dispatcher sends exactly one Reply on it and closes nothing (the caller
// owns the channel's lifetime); a nil ReplyTo gets no reply.
type Command struct {
	Kind CommandKind

	Mode           Mode              // CmdSetMode
	Symbols        []domain.Symbol   // CmdSetSymbols
	Leverage       int               // CmdSetLeverage
	TrainingOpaque []byte            // CmdTrainingControl, passed through untouched
	PositionID     uuid.UUID         // CmdClosePosition
	Reason         string            // CmdEmergencyStop / CmdClosePosition

	ReplyTo chan<- Reply
}

// EventKind enumerates the outbound event sum type.
type EventKind string

const (
	EvtPositionOpened      EventKind = "POSITION_OPENED"
	EvtPositionClosed      EventKind = "POSITION_CLOSED"
	EvtOrderFailed         EventKind = "ORDER_FAILED"
	EvtPrediction          EventKind = "PREDICTION"
	EvtRiskDecision        EventKind = "RISK_DECISION"
	EvtArbitrageOpportunity EventKind = "ARBITRAGE_OPPORTUNITY"
	EvtArbitrageExecuted   EventKind = "ARBITRAGE_EXECUTED"
	EvtAnomaly             EventKind = "ANOMALY"
	EvtCircuitBreaker      EventKind = "CIRCUIT_BREAKER"
	EvtMetrics             EventKind = "METRICS"
)

// Event is one outbound notification. Payload is the Go value matching
// Kind (domain.TradeRecord, domain.Prediction, domain.RiskDecision,
// domain.ArbitrageOpportunity, a DriftEvent, a MetricsSnapshot, etc.) —
// it is carried as `any` because the set of possible payloads spans
// several packages that must not import this one.
type Event struct {
	Kind      EventKind
	Symbol    domain.Symbol
	Payload   any
	Err       error
	Timestamp time.Time
}

// DefaultMetricsInterval is how often an EvtMetrics snapshot fires.
const DefaultMetricsInterval = 5 * time.Second

// Bus is the command-in/event-out channel pair a Dispatcher reads from and
// writes to.
type Bus struct {
	Commands <-chan Command
	Events   chan<- Event
}

// Handlers bundles the component-owning functions a Dispatcher routes
// commands to. Each returns the Reply.Data payload, or an error.
type Handlers struct {
	Start            func() error
	Stop             func() error
	Shutdown         func() error
	SetMode          func(Mode) error
	SetSymbols       func([]domain.Symbol) error
	SetLeverage      func(int) error
	TrainingControl  func([]byte) error
	RequestStatus    func() (any, error)
	RequestMetrics   func() (any, error)
	RequestPositions func() (any, error)
	ClosePosition    func(uuid.UUID, string) (any, error)
	EmergencyStop    func(string) error
}

// Dispatcher routes inbound Commands to Handlers and replies on each
// Command's ReplyTo channel.
type Dispatcher struct {
	handlers Handlers
}

// NewDispatcher constructs a Dispatcher over the given component handlers.
func NewDispatcher(h Handlers) *Dispatcher {
	return &Dispatcher{handlers: h}
}

// Dispatch routes one Command and sends its Reply. Unrecognized Kind
// values reply with domain.ErrUnknownCommand.
func (d *Dispatcher) Dispatch(cmd Command) {
	reply := d.handle(cmd)
	if cmd.ReplyTo != nil {
		cmd.ReplyTo <- reply
	}
}

func (d *Dispatcher) handle(cmd Command) Reply {
	switch cmd.Kind {
	case CmdStart:
		return fromErr(d.call(d.handlers.Start))
	case CmdStop:
		return fromErr(d.call(d.handlers.Stop))
	case CmdShutdown:
		return fromErr(d.call(d.handlers.Shutdown))
	case CmdSetMode:
		if d.handlers.SetMode == nil {
			return Reply{Err: domain.ErrUnknownCommand}
		}
		return fromErr(d.handlers.SetMode(cmd.Mode))
	case CmdSetSymbols:
		if d.handlers.SetSymbols == nil {
			return Reply{Err: domain.ErrUnknownCommand}
		}
		return fromErr(d.handlers.SetSymbols(cmd.Symbols))
	case CmdSetLeverage:
		if d.handlers.SetLeverage == nil {
			return Reply{Err: domain.ErrUnknownCommand}
		}
		return fromErr(d.handlers.SetLeverage(cmd.Leverage))
	case CmdTrainingControl:
		if d.handlers.TrainingControl == nil {
			return Reply{Err: domain.ErrUnknownCommand}
		}
		return fromErr(d.handlers.TrainingControl(cmd.TrainingOpaque))
	case CmdRequestStatus:
		return fromResult(d.handlers.RequestStatus)
	case CmdRequestMetrics:
		return fromResult(d.handlers.RequestMetrics)
	case CmdRequestPositions:
		return fromResult(d.handlers.RequestPositions)
	case CmdClosePosition:
		if d.handlers.ClosePosition == nil {
			return Reply{Err: domain.ErrUnknownCommand}
		}
		data, err := d.handlers.ClosePosition(cmd.PositionID, cmd.Reason)
		if err != nil {
			return Reply{Err: err}
		}
		return Reply{OK: true, Data: data}
	case CmdEmergencyStop:
		if d.handlers.EmergencyStop == nil {
			return Reply{Err: domain.ErrUnknownCommand}
		}
		return fromErr(d.handlers.EmergencyStop(cmd.Reason))
	default:
		return Reply{Err: domain.ErrUnknownCommand}
	}
}

func (d *Dispatcher) call(fn func() error) error {
	if fn == nil {
		return domain.ErrUnknownCommand
	}
	return fn()
}

func fromErr(err error) Reply {
	if err != nil {
		return Reply{Err: err}
	}
	return Reply{OK: true}
}

func fromResult(fn func() (any, error)) Reply {
	if fn == nil {
		return Reply{Err: domain.ErrUnknownCommand}
	}
	data, err := fn()
	if err != nil {
		return Reply{Err: err}
	}
	return Reply{OK: true, Data: data}
}
