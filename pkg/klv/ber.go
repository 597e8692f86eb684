package klv

import (
	"fmt"
	"math"
)

// DecodeBER decodes a BER length from the front of buf.
// It returns the length and the number of bytes consumed. Truncated input
// fails with both ErrMalformedLength and ErrTruncatedKL.
func DecodeBER(buf []byte) (int64, int, error) {
	if len(buf) == 0 {
		return 0, 0, fmt.Errorf("%w: %w: empty BER input", ErrMalformedLength, ErrTruncatedKL)
	}
	b := buf[0]
	if b < 0x80 {
		return int64(b), 1, nil
	}
	n := int(b & 0x7f)
	if n == 0 || n > 8 {
		return 0, 0, fmt.Errorf("%w: BER prefix 0x%02x", ErrMalformedLength, b)
	}
	if len(buf) < 1+n {
		return 0, 0, fmt.Errorf("%w: %w: BER needs %d bytes, have %d", ErrMalformedLength, ErrTruncatedKL, 1+n, len(buf))
	}
	var v uint64
	for _, c := range buf[1 : 1+n] {
		v = v<<8 | uint64(c)
	}
	if v > math.MaxInt64 {
		return 0, 0, fmt.Errorf("%w: BER length %d exceeds 2^63-1", ErrLengthOverflow, v)
	}
	return int64(v), 1 + n, nil
}

// BERWidth returns the minimum encoded size in bytes for the given length,
// including the prefix byte for long-form encodings.
func BERWidth(length int64) int {
	if length < 0x80 {
		return 1
	}
	n := 0
	for v := uint64(length); v > 0; v >>= 8 {
		n++
	}
	return 1 + n
}

// EncodeBER appends the BER encoding of length to dst.
// A size of 0 picks the minimum width; otherwise size is the total encoded
// width in bytes (1 for short form, 2-9 for long form) and the value is
// padded with leading zeros. Lengths that do not fit the requested width
// fail with ErrLengthOverflow.
func EncodeBER(dst []byte, length int64, size int) ([]byte, error) {
	if length < 0 {
		return dst, fmt.Errorf("%w: negative length %d", ErrMalformedLength, length)
	}
	if size == 0 {
		size = BERWidth(length)
	}
	if size == 1 {
		if length >= 0x80 {
			return dst, fmt.Errorf("%w: %d needs long-form BER", ErrLengthOverflow, length)
		}
		return append(dst, byte(length)), nil
	}
	n := size - 1
	if n > 8 {
		return dst, fmt.Errorf("%w: BER width %d", ErrMalformedLength, size)
	}
	if n < 8 && uint64(length) >= uint64(1)<<(8*n) {
		return dst, fmt.Errorf("%w: %d does not fit %d BER bytes", ErrLengthOverflow, length, n)
	}
	dst = append(dst, 0x80|byte(n))
	for i := n - 1; i >= 0; i-- {
		dst = append(dst, byte(uint64(length)>>(8*i)))
	}
	return dst, nil
}

// DecodeFixedLen decodes a fixed-width big-endian unsigned length.
// width must be 1, 2 or 4.
func DecodeFixedLen(buf []byte, width int) (int64, error) {
	if len(buf) < width {
		return 0, fmt.Errorf("%w: need %d length bytes, have %d", ErrTruncatedKL, width, len(buf))
	}
	switch width {
	case 1:
		return int64(buf[0]), nil
	case 2:
		return int64(buf[0])<<8 | int64(buf[1]), nil
	case 4:
		return int64(buf[0])<<24 | int64(buf[1])<<16 | int64(buf[2])<<8 | int64(buf[3]), nil
	}
	return 0, fmt.Errorf("%w: unsupported length width %d", ErrMalformedLength, width)
}

// EncodeFixedLen appends a fixed-width big-endian unsigned length to dst.
func EncodeFixedLen(dst []byte, length int64, width int) ([]byte, error) {
	if length < 0 {
		return dst, fmt.Errorf("%w: negative length %d", ErrMalformedLength, length)
	}
	var limit int64
	switch width {
	case 1:
		limit = math.MaxUint8
	case 2:
		limit = math.MaxUint16
	case 4:
		limit = math.MaxUint32
	default:
		return dst, fmt.Errorf("%w: unsupported length width %d", ErrMalformedLength, width)
	}
	if length > limit {
		return dst, fmt.Errorf("%w: %d does not fit %d bytes", ErrLengthOverflow, length, width)
	}
	for i := width - 1; i >= 0; i-- {
		dst = append(dst, byte(uint64(length)>>(8*i)))
	}
	return dst, nil
}
