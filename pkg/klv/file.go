package klv

import (
	"encoding/binary"
	"fmt"
	"io"
)

const padBufSize = 4096

// File is a positioned byte stream over a random-access file.
//
// It wraps an io.ReadWriteSeeker (usually an *os.File) and adds the integer
// and length codecs the KLV layer needs. A File carries no locking; sharing
// one across goroutines is undefined, as is sharing the position between
// cursors without external coordination.
type File struct {
	rws  io.ReadWriteSeeker
	name string

	padBuf []byte
}

// NewFile wraps rws. name is used in error and diagnostic text only.
func NewFile(rws io.ReadWriteSeeker, name string) *File {
	return &File{rws: rws, name: name}
}

// Name returns the diagnostic name given to NewFile.
func (f *File) Name() string {
	if f == nil || f.name == "" {
		return "(unnamed)"
	}
	return f.name
}

// Tell returns the current byte position.
func (f *File) Tell() (int64, error) {
	pos, err := f.rws.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, fmt.Errorf("%w: tell %s: %v", ErrReadFailed, f.Name(), err)
	}
	return pos, nil
}

// Seek moves the position to an absolute byte offset.
// Negative positions are sentinels elsewhere in the package and are rejected.
func (f *File) Seek(pos int64) error {
	if pos < 0 {
		return fmt.Errorf("%w: seek to %d in %s", ErrBadPosition, pos, f.Name())
	}
	if _, err := f.rws.Seek(pos, io.SeekStart); err != nil {
		return fmt.Errorf("%w: seek %s to %d: %v", ErrReadFailed, f.Name(), pos, err)
	}
	return nil
}

// Read reads up to len(p) bytes from the current position. A short read at
// end of file is not an error; the actual count is returned.
func (f *File) Read(p []byte) (int, error) {
	n, err := io.ReadFull(f.rws, p)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return n, nil
	}
	if err != nil {
		return n, fmt.Errorf("%w: read %s: %v", ErrReadFailed, f.Name(), err)
	}
	return n, nil
}

// ReadExact reads exactly len(p) bytes or fails with the byte offset at
// which the file ran short.
func (f *File) ReadExact(p []byte) error {
	pos, _ := f.Tell()
	n, err := io.ReadFull(f.rws, p)
	if err != nil {
		return fmt.Errorf("%w: %d of %d bytes at offset %d in %s", ErrTruncatedValue, n, len(p), pos, f.Name())
	}
	return nil
}

// Write writes all of p at the current position, looping over short writes.
func (f *File) Write(p []byte) error {
	for len(p) > 0 {
		n, err := f.rws.Write(p)
		if err != nil {
			pos, _ := f.Tell()
			return fmt.Errorf("%w: offset %d in %s: %v", ErrWriteFailed, pos, f.Name(), err)
		}
		p = p[n:]
	}
	return nil
}

// WriteZeros writes n zero bytes, used for KLV-Fill payloads and padding.
func (f *File) WriteZeros(n int64) error {
	if n <= 0 {
		return nil
	}
	if f.padBuf == nil {
		f.padBuf = make([]byte, padBufSize)
	}
	for n > 0 {
		chunk := int64(len(f.padBuf))
		if n < chunk {
			chunk = n
		}
		if err := f.Write(f.padBuf[:chunk]); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// ReadU8 reads one byte.
func (f *File) ReadU8() (uint8, error) {
	var b [1]byte
	if err := f.ReadExact(b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadU16 reads a big-endian uint16.
func (f *File) ReadU16() (uint16, error) {
	var b [2]byte
	if err := f.ReadExact(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

// ReadU32 reads a big-endian uint32.
func (f *File) ReadU32() (uint32, error) {
	var b [4]byte
	if err := f.ReadExact(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// ReadU64 reads a big-endian uint64.
func (f *File) ReadU64() (uint64, error) {
	var b [8]byte
	if err := f.ReadExact(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

// WriteU8 writes one byte.
func (f *File) WriteU8(v uint8) error {
	return f.Write([]byte{v})
}

// WriteU16 writes a big-endian uint16.
func (f *File) WriteU16(v uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return f.Write(b[:])
}

// WriteU32 writes a big-endian uint32.
func (f *File) WriteU32(v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return f.Write(b[:])
}

// WriteU64 writes a big-endian uint64.
func (f *File) WriteU64(v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return f.Write(b[:])
}

// ReadUL reads a 16-byte universal label.
func (f *File) ReadUL() (UL, error) {
	var ul UL
	if err := f.ReadExact(ul[:]); err != nil {
		return ul, err
	}
	return ul, nil
}

// WriteUL writes a 16-byte universal label.
func (f *File) WriteUL(ul UL) error {
	return f.Write(ul[:])
}

// ReadBER reads a BER length from the current position and returns the
// length plus the number of bytes consumed.
func (f *File) ReadBER() (int64, int, error) {
	first, err := f.ReadU8()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: BER first byte: %v", ErrTruncatedKL, err)
	}
	if first < 0x80 {
		return int64(first), 1, nil
	}
	n := int(first & 0x7f)
	if n == 0 || n > 8 {
		pos, _ := f.Tell()
		return 0, 0, fmt.Errorf("%w: prefix 0x%02x near offset %d in %s", ErrMalformedLength, first, pos, f.Name())
	}
	buf := make([]byte, n)
	if err := f.ReadExact(buf); err != nil {
		return 0, 0, fmt.Errorf("%w: BER tail: %v", ErrTruncatedKL, err)
	}
	var v uint64
	for _, c := range buf {
		v = v<<8 | uint64(c)
	}
	if v > uint64(1)<<63-1 {
		return 0, 0, fmt.Errorf("%w: BER length %d", ErrLengthOverflow, v)
	}
	return int64(v), 1 + n, nil
}

// WriteBER writes length as BER using size total bytes (0 = minimum width).
// It returns the encoded width.
func (f *File) WriteBER(length int64, size int) (int, error) {
	buf, err := EncodeBER(nil, length, size)
	if err != nil {
		return 0, err
	}
	if err := f.Write(buf); err != nil {
		return 0, err
	}
	return len(buf), nil
}
