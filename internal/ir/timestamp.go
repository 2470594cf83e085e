package ir

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"time"
)

// TimestampSize is the encoded size of a Timestamp.
const TimestampSize = 16

// Timestamp is the firmware calendar time carried by authenticated writes.
//
// Encoded layout (little-endian):
//
//	Year u16 | Month u8 | Day u8 | Hour u8 | Minute u8 | Second u8 | Pad1 u8 |
//	Nanosecond u32 | TimeZone i16 | Daylight u8 | Pad2 u8
type Timestamp struct {
	Year       uint16 `json:"year" yaml:"year"`
	Month      uint8  `json:"month" yaml:"month"`
	Day        uint8  `json:"day" yaml:"day"`
	Hour       uint8  `json:"hour" yaml:"hour"`
	Minute     uint8  `json:"minute" yaml:"minute"`
	Second     uint8  `json:"second" yaml:"second"`
	Pad1       uint8  `json:"-" yaml:"-"`
	Nanosecond uint32 `json:"nanosecond,omitempty" yaml:"nanosecond,omitempty"`
	TimeZone   int16  `json:"time_zone,omitempty" yaml:"time_zone,omitempty"`
	Daylight   uint8  `json:"daylight,omitempty" yaml:"daylight,omitempty"`
	Pad2       uint8  `json:"-" yaml:"-"`
}

// TimestampFromTime converts t to UTC and drops sub-second precision.
func TimestampFromTime(t time.Time) Timestamp {
	t = t.UTC()
	return Timestamp{
		Year:   uint16(t.Year()),
		Month:  uint8(t.Month()),
		Day:    uint8(t.Day()),
		Hour:   uint8(t.Hour()),
		Minute: uint8(t.Minute()),
		Second: uint8(t.Second()),
	}
}

// Time returns the timestamp as a UTC time.Time.
func (t Timestamp) Time() time.Time {
	return time.Date(int(t.Year), time.Month(t.Month), int(t.Day),
		int(t.Hour), int(t.Minute), int(t.Second), int(t.Nanosecond), time.UTC)
}

// Compare orders timestamps chronologically, field by field.
// TimeZone and Daylight do not participate.
func (t Timestamp) Compare(o Timestamp) int {
	if c := cmp.Compare(t.Year, o.Year); c != 0 {
		return c
	}
	if c := cmp.Compare(t.Month, o.Month); c != 0 {
		return c
	}
	if c := cmp.Compare(t.Day, o.Day); c != 0 {
		return c
	}
	if c := cmp.Compare(t.Hour, o.Hour); c != 0 {
		return c
	}
	if c := cmp.Compare(t.Minute, o.Minute); c != 0 {
		return c
	}
	if c := cmp.Compare(t.Second, o.Second); c != 0 {
		return c
	}
	return cmp.Compare(t.Nanosecond, o.Nanosecond)
}

// After reports whether t is strictly later than o.
func (t Timestamp) After(o Timestamp) bool {
	return t.Compare(o) > 0
}

// IsZero reports whether every field is zero.
func (t Timestamp) IsZero() bool {
	return t == Timestamp{}
}

// Validate checks calendar field ranges.
func (t Timestamp) Validate() error {
	switch {
	case t.Month < 1 || t.Month > 12:
		return fmt.Errorf("timestamp month %d out of range", t.Month)
	case t.Day < 1 || t.Day > 31:
		return fmt.Errorf("timestamp day %d out of range", t.Day)
	case t.Hour > 23:
		return fmt.Errorf("timestamp hour %d out of range", t.Hour)
	case t.Minute > 59:
		return fmt.Errorf("timestamp minute %d out of range", t.Minute)
	case t.Second > 59:
		return fmt.Errorf("timestamp second %d out of range", t.Second)
	case t.Nanosecond > 999_999_999:
		return fmt.Errorf("timestamp nanosecond %d out of range", t.Nanosecond)
	}
	return nil
}

// Authenticated reports whether the fields that must be zero in a signed
// write (padding, nanoseconds, zone and daylight) are zero.
func (t Timestamp) Authenticated() bool {
	return t.Pad1 == 0 && t.Nanosecond == 0 && t.TimeZone == 0 && t.Daylight == 0 && t.Pad2 == 0
}

// String formats the timestamp as RFC 3339 in UTC.
func (t Timestamp) String() string {
	return fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%02dZ", t.Year, t.Month, t.Day, t.Hour, t.Minute, t.Second)
}

// AppendBinary appends the 16-byte encoding of t to b.
func (t Timestamp) AppendBinary(b []byte) ([]byte, error) {
	b = binary.LittleEndian.AppendUint16(b, t.Year)
	b = append(b, t.Month, t.Day, t.Hour, t.Minute, t.Second, t.Pad1)
	b = binary.LittleEndian.AppendUint32(b, t.Nanosecond)
	b = binary.LittleEndian.AppendUint16(b, uint16(t.TimeZone))
	b = append(b, t.Daylight, t.Pad2)
	return b, nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (t Timestamp) MarshalBinary() ([]byte, error) {
	return t.AppendBinary(make([]byte, 0, TimestampSize))
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (t *Timestamp) UnmarshalBinary(b []byte) error {
	if len(b) < TimestampSize {
		return fmt.Errorf("timestamp: need %d bytes, have %d", TimestampSize, len(b))
	}
	*t = Timestamp{
		Year:       binary.LittleEndian.Uint16(b[0:2]),
		Month:      b[2],
		Day:        b[3],
		Hour:       b[4],
		Minute:     b[5],
		Second:     b[6],
		Pad1:       b[7],
		Nanosecond: binary.LittleEndian.Uint32(b[8:12]),
		TimeZone:   int16(binary.LittleEndian.Uint16(b[12:14])),
		Daylight:   b[14],
		Pad2:       b[15],
	}
	return nil
}
