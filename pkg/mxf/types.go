package mxf

import (
	"encoding/binary"
	"fmt"
	"time"

	guuid "github.com/google/uuid"
)

// UUIDSize is the byte size of an instance identity.
const UUIDSize = 16

// UUID identifies a metadata object instance within a file. Unlike
// universal labels, UUIDs always compare bytewise.
type UUID [UUIDSize]byte

// NewUUID returns a fresh random identity.
func NewUUID() UUID {
	return UUID(guuid.New())
}

// ParseUUID decodes the canonical xxxxxxxx-xxxx-... form.
func ParseUUID(s string) (UUID, error) {
	g, err := guuid.Parse(s)
	if err != nil {
		return UUID{}, fmt.Errorf("mxf: parse UUID %q: %w", s, err)
	}
	return UUID(g), nil
}

// IsZero reports whether every byte is zero.
func (u UUID) IsZero() bool {
	return u == UUID{}
}

// String renders the canonical hyphenated form.
func (u UUID) String() string {
	return guuid.UUID(u).String()
}

// Timestamp is the 8-byte MXF timestamp: calendar fields plus a 1/250s
// fraction.
type Timestamp struct {
	Year    uint16
	Month   uint8
	Day     uint8
	Hour    uint8
	Minute  uint8
	Second  uint8
	Quarter uint8 // 1/250 second units
}

// TimestampFromTime converts a time.Time (taken in UTC).
func TimestampFromTime(t time.Time) Timestamp {
	t = t.UTC()
	return Timestamp{
		Year:    uint16(t.Year()),
		Month:   uint8(t.Month()),
		Day:     uint8(t.Day()),
		Hour:    uint8(t.Hour()),
		Minute:  uint8(t.Minute()),
		Second:  uint8(t.Second()),
		Quarter: uint8(t.Nanosecond() / 4_000_000),
	}
}

// Time converts back to a time.Time in UTC.
func (ts Timestamp) Time() time.Time {
	return time.Date(int(ts.Year), time.Month(ts.Month), int(ts.Day),
		int(ts.Hour), int(ts.Minute), int(ts.Second), int(ts.Quarter)*4_000_000, time.UTC)
}

func (ts Timestamp) String() string {
	return ts.Time().Format("2006-01-02 15:04:05.000")
}

func decodeTimestamp(b []byte) (Timestamp, error) {
	if len(b) != 8 {
		return Timestamp{}, fmt.Errorf("%w: timestamp needs 8 bytes, got %d", ErrBadSet, len(b))
	}
	return Timestamp{
		Year:    binary.BigEndian.Uint16(b),
		Month:   b[2],
		Day:     b[3],
		Hour:    b[4],
		Minute:  b[5],
		Second:  b[6],
		Quarter: b[7],
	}, nil
}

func (ts Timestamp) encode(dst []byte) []byte {
	var b [8]byte
	binary.BigEndian.PutUint16(b[:], ts.Year)
	b[2], b[3], b[4] = ts.Month, ts.Day, ts.Hour
	b[5], b[6], b[7] = ts.Minute, ts.Second, ts.Quarter
	return append(dst, b[:]...)
}

// Rational is an exact ratio, used for edit rates.
type Rational struct {
	Numerator   uint32
	Denominator uint32
}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Numerator, r.Denominator)
}

func decodeRational(b []byte) (Rational, error) {
	if len(b) != 8 {
		return Rational{}, fmt.Errorf("%w: rational needs 8 bytes, got %d", ErrBadSet, len(b))
	}
	return Rational{
		Numerator:   binary.BigEndian.Uint32(b),
		Denominator: binary.BigEndian.Uint32(b[4:]),
	}, nil
}

func (r Rational) encode(dst []byte) []byte {
	var b [8]byte
	binary.BigEndian.PutUint32(b[:], r.Numerator)
	binary.BigEndian.PutUint32(b[4:], r.Denominator)
	return append(dst, b[:]...)
}
