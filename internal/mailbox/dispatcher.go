package mailbox

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"

	"github.com/roach88/varpol/internal/engine"
	"github.com/roach88/varpol/internal/ir"
	"github.com/roach88/varpol/internal/metrics"
)

// Engine is the policy interface the dispatcher drives.
type Engine interface {
	Disable(ctx context.Context) error
	IsEnabled() bool
	Register(ctx context.Context, p ir.Policy) error
	Dump(buf []byte) (int, error)
	Lock(ctx context.Context) error
}

// Dispatcher decodes mailbox requests, runs them against an Engine and
// encodes the responses.
type Dispatcher struct {
	engine  Engine
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the structured logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// NewDispatcher creates a dispatcher for eng.
func NewDispatcher(eng Engine, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		engine: eng,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle processes one request and returns the response message.
//
// Only a request too short to hold a header is an error; every other
// failure is reported in the response's Result field.
//
// Response parameters by command:
//   - IsEnabled: State u8
//   - Dump: Size u32, then Size bytes of policy table on success. The
//     request's Size is the capacity the caller can accept; on
//     BufferTooSmall the response Size is the capacity required.
//   - Disable, Register, Lock: none
func (d *Dispatcher) Handle(ctx context.Context, request []byte) ([]byte, error) {
	req, err := ParseMessage(request)
	if err != nil {
		return nil, err
	}

	resp := Message{Header: req.Header}
	switch {
	case !req.Header.Valid():
		resp.Header.Result = StatusInvalidParameter
	default:
		resp.Params, resp.Header.Result = d.dispatch(ctx, req)
	}

	d.metrics.ObserveMailbox(req.Header.Command.String(), resp.Header.Result.String())
	d.logger.Debug("mailbox command",
		"command", req.Header.Command.String(),
		"result", resp.Header.Result.String(),
		"params", len(req.Params))
	return resp.MarshalBinary()
}

func (d *Dispatcher) dispatch(ctx context.Context, req Message) ([]byte, Status) {
	switch req.Header.Command {
	case CommandDisable:
		return nil, StatusOf(d.engine.Disable(ctx))

	case CommandIsEnabled:
		state := byte(0)
		if d.engine.IsEnabled() {
			state = 1
		}
		return []byte{state}, StatusSuccess

	case CommandRegister:
		p, _, err := ir.UnmarshalPolicy(req.Params)
		if err != nil {
			d.logger.Warn("malformed policy entry in mailbox", "error", err)
			return nil, StatusInvalidParameter
		}
		return nil, StatusOf(d.engine.Register(ctx, p))

	case CommandDump:
		return d.dump(req.Params)

	case CommandLock:
		return nil, StatusOf(d.engine.Lock(ctx))
	}
	return nil, StatusUnsupported
}

func (d *Dispatcher) dump(params []byte) ([]byte, Status) {
	if len(params) < 4 {
		return nil, StatusInvalidParameter
	}
	capacity := binary.LittleEndian.Uint32(params[:4])
	if capacity > MaxDumpSize {
		capacity = MaxDumpSize
	}

	buf := make([]byte, capacity)
	n, err := d.engine.Dump(buf)
	if required, ok := engine.RequiredSize(err); ok {
		return binary.LittleEndian.AppendUint32(nil, uint32(required)), StatusBufferTooSmall
	}
	if err != nil {
		return nil, StatusOf(err)
	}

	out := binary.LittleEndian.AppendUint32(make([]byte, 0, 4+n), uint32(n))
	return append(out, buf[:n]...), StatusSuccess
}
