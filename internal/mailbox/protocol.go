// Package mailbox implements the binary management channel of the policy
// engine.
//
// Every message starts with a fixed header:
//
//	Signature u32 | Revision u32 | Command u32 | Result u64
//
// followed by command parameters. Requests carry Result 0; the
// dispatcher answers in the same layout with Result set to a firmware
// status code.
package mailbox

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/roach88/varpol/internal/engine"
)

// Header constants.
const (
	// Signature is "VCPC" read as a little-endian u32.
	Signature uint32 = 'V' | 'C'<<8 | 'P'<<16 | 'C'<<24
	Revision  uint32 = 1

	HeaderSize = 4 + 4 + 4 + 8
)

// Command selects a mailbox operation.
type Command uint32

// Commands.
const (
	CommandDisable   Command = 0x0001
	CommandIsEnabled Command = 0x0002
	CommandRegister  Command = 0x0003
	CommandDump      Command = 0x0004
	CommandLock      Command = 0x0005
)

func (c Command) String() string {
	switch c {
	case CommandDisable:
		return "disable"
	case CommandIsEnabled:
		return "is_enabled"
	case CommandRegister:
		return "register"
	case CommandDump:
		return "dump"
	case CommandLock:
		return "lock"
	default:
		return fmt.Sprintf("command_%d", uint32(c))
	}
}

// Status is a 64-bit firmware status code.
type Status uint64

const errorBit Status = 1 << 63

// Status codes.
const (
	StatusSuccess           Status = 0
	StatusInvalidParameter  Status = errorBit | 2
	StatusUnsupported       Status = errorBit | 3
	StatusBufferTooSmall    Status = errorBit | 5
	StatusDeviceError       Status = errorBit | 7
	StatusWriteProtected    Status = errorBit | 8
	StatusNotFound          Status = errorBit | 14
	StatusAccessDenied      Status = errorBit | 15
	StatusAlreadyStarted    Status = errorBit | 20
	StatusSecurityViolation Status = errorBit | 26
)

var statusNames = map[Status]string{
	StatusSuccess:           "SUCCESS",
	StatusInvalidParameter:  "INVALID_PARAMETER",
	StatusUnsupported:       "UNSUPPORTED",
	StatusBufferTooSmall:    "BUFFER_TOO_SMALL",
	StatusDeviceError:       "DEVICE_ERROR",
	StatusWriteProtected:    "WRITE_PROTECTED",
	StatusNotFound:          "NOT_FOUND",
	StatusAccessDenied:      "ACCESS_DENIED",
	StatusAlreadyStarted:    "ALREADY_STARTED",
	StatusSecurityViolation: "SECURITY_VIOLATION",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STATUS_%#x", uint64(s))
}

// IsError reports whether s is an error status.
func (s Status) IsError() bool {
	return s&errorBit != 0
}

// StatusOf maps an engine error onto a status code. AlreadyLocked
// reports as WriteProtected and AlreadyExists as AlreadyStarted. Errors
// without a policy code are device errors.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	code, ok := engine.CodeOf(err)
	if !ok {
		return StatusDeviceError
	}
	switch code {
	case engine.ErrCodeInvalidParameter:
		return StatusInvalidParameter
	case engine.ErrCodeAlreadyExists:
		return StatusAlreadyStarted
	case engine.ErrCodeAlreadyLocked, engine.ErrCodeWriteProtected:
		return StatusWriteProtected
	case engine.ErrCodeAccessDenied:
		return StatusAccessDenied
	case engine.ErrCodeBufferTooSmall:
		return StatusBufferTooSmall
	case engine.ErrCodeNotFound:
		return StatusNotFound
	case engine.ErrCodeSecurityViolation:
		return StatusSecurityViolation
	case engine.ErrCodeUnsupported:
		return StatusUnsupported
	}
	return StatusDeviceError
}

// Err converts a status back into an engine error for op. Success is nil.
func (s Status) Err(op string) error {
	var code engine.ErrorCode
	switch s {
	case StatusSuccess:
		return nil
	case StatusInvalidParameter:
		code = engine.ErrCodeInvalidParameter
	case StatusAlreadyStarted:
		code = engine.ErrCodeAlreadyExists
	case StatusWriteProtected:
		code = engine.ErrCodeWriteProtected
	case StatusAccessDenied:
		code = engine.ErrCodeAccessDenied
	case StatusBufferTooSmall:
		code = engine.ErrCodeBufferTooSmall
	case StatusNotFound:
		code = engine.ErrCodeNotFound
	case StatusSecurityViolation:
		code = engine.ErrCodeSecurityViolation
	case StatusUnsupported:
		code = engine.ErrCodeUnsupported
	default:
		return fmt.Errorf("%s: mailbox status %s", op, s)
	}
	return engine.NewError(op, code, "mailbox status %s", s)
}

// ErrShortMessage is returned for messages smaller than a header.
var ErrShortMessage = errors.New("mailbox message shorter than header")

// Header is the fixed message prefix.
type Header struct {
	Signature uint32
	Revision  uint32
	Command   Command
	Result    Status
}

// NewHeader returns a request header for cmd.
func NewHeader(cmd Command) Header {
	return Header{Signature: Signature, Revision: Revision, Command: cmd}
}

// Valid reports whether the signature and revision are the expected ones.
func (h Header) Valid() bool {
	return h.Signature == Signature && h.Revision == Revision
}

// AppendBinary appends the encoded header to b.
func (h Header) AppendBinary(b []byte) ([]byte, error) {
	b = binary.LittleEndian.AppendUint32(b, h.Signature)
	b = binary.LittleEndian.AppendUint32(b, h.Revision)
	b = binary.LittleEndian.AppendUint32(b, uint32(h.Command))
	b = binary.LittleEndian.AppendUint64(b, uint64(h.Result))
	return b, nil
}

// UnmarshalBinary decodes the header at the start of b.
func (h *Header) UnmarshalBinary(b []byte) error {
	if len(b) < HeaderSize {
		return fmt.Errorf("%w: %d bytes", ErrShortMessage, len(b))
	}
	*h = Header{
		Signature: binary.LittleEndian.Uint32(b[0:4]),
		Revision:  binary.LittleEndian.Uint32(b[4:8]),
		Command:   Command(binary.LittleEndian.Uint32(b[8:12])),
		Result:    Status(binary.LittleEndian.Uint64(b[12:20])),
	}
	return nil
}

// Message is a header plus its parameter bytes.
type Message struct {
	Header Header
	Params []byte
}

// MarshalBinary encodes m.
func (m Message) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, HeaderSize+len(m.Params))
	b, _ = m.Header.AppendBinary(b)
	return append(b, m.Params...), nil
}

// ParseMessage decodes b. Params aliases b.
func ParseMessage(b []byte) (Message, error) {
	var m Message
	if err := m.Header.UnmarshalBinary(b); err != nil {
		return Message{}, err
	}
	m.Params = b[HeaderSize:]
	return m, nil
}
