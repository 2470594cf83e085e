package mailbox

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/roach88/varpol/internal/engine"
	"github.com/roach88/varpol/internal/ir"
)

// MaxDumpSize bounds the capacity a Client offers for a dump.
const MaxDumpSize = 16 << 20

// Transport carries one request to a dispatcher and returns its response.
type Transport interface {
	Communicate(ctx context.Context, request []byte) ([]byte, error)
}

// Local is a Transport that calls a Dispatcher in-process.
type Local struct {
	Dispatcher *Dispatcher
}

// Communicate implements Transport.
func (l Local) Communicate(ctx context.Context, request []byte) ([]byte, error) {
	return l.Dispatcher.Handle(ctx, request)
}

// Client issues mailbox commands and turns result statuses back into
// engine errors.
type Client struct {
	transport Transport
}

// NewClient creates a client over t.
func NewClient(t Transport) *Client {
	return &Client{transport: t}
}

func (c *Client) call(ctx context.Context, cmd Command, params []byte) (Message, error) {
	req, err := Message{Header: NewHeader(cmd), Params: params}.MarshalBinary()
	if err != nil {
		return Message{}, err
	}
	raw, err := c.transport.Communicate(ctx, req)
	if err != nil {
		return Message{}, fmt.Errorf("%s: %w", cmd, err)
	}
	resp, err := ParseMessage(raw)
	if err != nil {
		return Message{}, fmt.Errorf("%s: %w", cmd, err)
	}
	if resp.Header.Command != cmd {
		return Message{}, fmt.Errorf("%s: response for %s", cmd, resp.Header.Command)
	}
	return resp, nil
}

// Disable turns enforcement off.
func (c *Client) Disable(ctx context.Context) error {
	resp, err := c.call(ctx, CommandDisable, nil)
	if err != nil {
		return err
	}
	return resp.Header.Result.Err("disable")
}

// IsEnabled reports whether enforcement is active.
func (c *Client) IsEnabled(ctx context.Context) (bool, error) {
	resp, err := c.call(ctx, CommandIsEnabled, nil)
	if err != nil {
		return false, err
	}
	if err := resp.Header.Result.Err("is_enabled"); err != nil {
		return false, err
	}
	if len(resp.Params) < 1 {
		return false, fmt.Errorf("is_enabled: missing state")
	}
	return resp.Params[0] != 0, nil
}

// Register submits p.
func (c *Client) Register(ctx context.Context, p ir.Policy) error {
	entry, err := ir.MarshalPolicy(p)
	if err != nil {
		return engine.WrapError("register", engine.ErrCodeInvalidParameter, err, "encode policy")
	}
	resp, err := c.call(ctx, CommandRegister, entry)
	if err != nil {
		return err
	}
	return resp.Header.Result.Err("register")
}

// Lock locks the policy interface.
func (c *Client) Lock(ctx context.Context) error {
	resp, err := c.call(ctx, CommandLock, nil)
	if err != nil {
		return err
	}
	return resp.Header.Result.Err("lock")
}

// DumpInto requests at most capacity bytes of policy table. On
// BufferTooSmall the returned error carries the required size; see
// engine.RequiredSize.
func (c *Client) DumpInto(ctx context.Context, capacity uint32) ([]byte, error) {
	resp, err := c.call(ctx, CommandDump, binary.LittleEndian.AppendUint32(nil, capacity))
	if err != nil {
		return nil, err
	}
	switch resp.Header.Result {
	case StatusSuccess, StatusBufferTooSmall:
		if len(resp.Params) < 4 {
			return nil, fmt.Errorf("dump: missing size")
		}
	}
	switch resp.Header.Result {
	case StatusSuccess:
		size := binary.LittleEndian.Uint32(resp.Params[:4])
		data := resp.Params[4:]
		if uint64(size) > uint64(len(data)) {
			return nil, fmt.Errorf("dump: size %d exceeds %d returned bytes", size, len(data))
		}
		return data[:size], nil
	case StatusBufferTooSmall:
		required := int(binary.LittleEndian.Uint32(resp.Params[:4]))
		return nil, &engine.PolicyError{
			Code:     engine.ErrCodeBufferTooSmall,
			Op:       "dump",
			Message:  fmt.Sprintf("need %d bytes, offered %d", required, capacity),
			Required: required,
		}
	}
	return nil, resp.Header.Result.Err("dump")
}

// Dump runs the probe-then-fetch protocol and returns the whole table.
func (c *Client) Dump(ctx context.Context) ([]byte, error) {
	capacity := uint32(0)
	for {
		table, err := c.DumpInto(ctx, capacity)
		required, tooSmall := engine.RequiredSize(err)
		if !tooSmall {
			return table, err
		}
		if required > MaxDumpSize {
			return nil, fmt.Errorf("dump: table of %d bytes exceeds limit", required)
		}
		capacity = uint32(required)
	}
}
