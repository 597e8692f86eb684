// Package klv implements cursor-based access to KLV (Key-Length-Value)
// items inside SMPTE 377-family container files.
//
// The package deals only in framing: 16-byte universal label keys, BER or
// fixed-width lengths, and lazily materialised value chunks. It never
// interprets value payloads and never buffers more of a value than a caller
// asks for, so multi-terabyte essence items can be walked safely.
package klv

import "errors"

// KeyFormat selects how a KLV key is encoded on the wire.
type KeyFormat uint8

const (
	// KeyFormatUL is the full 16-byte universal label, used at file scope.
	KeyFormatUL KeyFormat = iota
	// KeyFormat1 is a 1-byte local tag.
	KeyFormat1
	// KeyFormat2 is a 2-byte big-endian local tag.
	KeyFormat2
	// KeyFormat4 is a 4-byte big-endian local tag.
	KeyFormat4
	// KeyFormatAuto infers the format from the first key at a set's scope.
	KeyFormatAuto
)

// LenFormat selects how a KLV length is encoded on the wire.
type LenFormat uint8

const (
	// LenFormatBER is BER variable-length encoding, used at file scope.
	LenFormatBER LenFormat = iota
	// LenFormat1 is a 1-byte unsigned length.
	LenFormat1
	// LenFormat2 is a 2-byte big-endian length, used inside local sets.
	LenFormat2
	// LenFormat4 is a 4-byte big-endian length.
	LenFormat4
)

// AllAvailable asks ReadData variants to run to the end of the value field
// and WriteData variants to write the rest of the chunk.
const AllAvailable int64 = -1

// Sentinel errors for structural decode and I/O failures. Call sites wrap
// these with offset context; match with errors.Is.
var (
	ErrTruncatedKL     = errors.New("klv: truncated key or length")
	ErrTruncatedValue  = errors.New("klv: truncated value")
	ErrMalformedLength = errors.New("klv: malformed BER length")
	ErrLengthOverflow  = errors.New("klv: length overflows field")
	ErrChunkTooLarge   = errors.New("klv: chunk exceeds platform size limit")
	ErrBadPosition     = errors.New("klv: invalid file position")
	ErrReadFailed      = errors.New("klv: read failed")
	ErrWriteFailed     = errors.New("klv: write failed")
)
