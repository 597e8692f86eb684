package klv

import (
	"fmt"
)

// maxChunk is the largest chunk the platform can hold in one []byte.
const maxChunk = int64(^uint(0) >> 1)

// Info locates one side (source or destination) of a KLV item in a file.
type Info struct {
	File *File
	// Offset is the file offset of the first key byte, -1 when unknown.
	Offset int64
	// OuterLength is the length of the entire readable value space. For
	// plain KLV items this equals the value length; wrapped variants may
	// carry hidden overhead.
	OuterLength int64
	// KLSize is the encoded size of the key and length, -1 when unknown.
	KLSize int
	Valid  bool
}

func newInfo() Info {
	return Info{Offset: -1, KLSize: -1}
}

// Cursor is the capability surface of a KLV item. *Object is the plain
// implementation; wrapped variants (encrypted essence and the like) can
// embed an *Object and override behaviour. The Object base methods never
// call back through this interface, so overriding implementations may
// compose the base behaviour without re-entry.
type Cursor interface {
	ReadKL() (int, error)
	ReadData(size int64) (int, error)
	ReadDataFrom(offset, size int64) (int, error)
	WriteKL(lenSize int) (int, error)
	WriteData(size int64) (int, error)
	WriteDataFromTo(offset, start, size int64) (int, error)
	Key() UL
	Length() int64
}

// Object gives access to a single KLV item within a container file.
//
// Huge values are handled safely by materialising them a chunk at a time:
// Data holds at most one contiguous window of the value field and DataBase
// is the offset of its first byte within that field.
//
// The object holds independent source and destination records; when only a
// source has been set the destination aliases it, which is the common
// in-place rewrite pattern.
//
// There is no interlock for concurrent access. A chunk modified in memory
// but not yet written back is not visible through a parallel read of the
// same file region.
type Object struct {
	Source Info
	Dest   Info

	// TheKey is the item's universal label. For tag-format keys the label
	// is unresolved and Tag carries the local key instead.
	TheKey UL
	// Tag is the local key when KeyFormat is a tag format.
	Tag uint32

	KeyFormat KeyFormat
	LenFormat LenFormat

	// ValueLength is the length of the value field.
	ValueLength int64

	// Data is the currently materialised chunk, DataBase the offset of its
	// first byte within the value field.
	Data     []byte
	DataBase int64

	// Handler, when set, fulfils value reads in place of the source file.
	Handler ReadHandler

	// destAliased is set while the destination mirrors the source because
	// no destination was given explicitly.
	destAliased bool
}

// NewObject returns an empty cursor with the given key.
func NewObject(key UL) *Object {
	return &Object{
		Source: newInfo(),
		Dest:   newInfo(),
		TheKey: key,
	}
}

var _ Cursor = (*Object)(nil)

// Key returns the item's universal label.
func (o *Object) Key() UL { return o.TheKey }

// Length returns the length of the value field.
func (o *Object) Length() int64 { return o.ValueLength }

// SetLength sets the value length and keeps both outer lengths in step.
func (o *Object) SetLength(n int64) {
	o.ValueLength = n
	o.Source.OuterLength = n
	o.Dest.OuterLength = n
}

// KLSize returns the key-and-length size from whichever side knows it.
func (o *Object) KLSize() int {
	if o.Source.KLSize >= 0 {
		return o.Source.KLSize
	}
	return o.Dest.KLSize
}

// SetSource records where the item was read from. If loc is negative the
// file's current position is used. A destination that has not been set
// explicitly aliases the source.
func (o *Object) SetSource(f *File, loc int64) error {
	if loc < 0 {
		pos, err := f.Tell()
		if err != nil {
			return err
		}
		loc = pos
	}
	o.Source.Valid = true
	o.Source.File = f
	o.Source.Offset = loc
	if !o.Dest.Valid || o.destAliased {
		o.Dest = o.Source
		o.destAliased = true
	}
	return nil
}

// SetDestination records where the item will be written. If loc is negative
// the file's current position is used.
func (o *Object) SetDestination(f *File, loc int64) error {
	if loc < 0 {
		pos, err := f.Tell()
		if err != nil {
			return err
		}
		loc = pos
	}
	o.Dest.Valid = true
	o.Dest.File = f
	o.Dest.Offset = loc
	o.destAliased = false
	return nil
}

// SourceLocation describes where the item came from, for diagnostics.
func (o *Object) SourceLocation() string {
	if !o.Source.Valid || o.Source.File == nil {
		return "KLV object created in memory"
	}
	return fmt.Sprintf("0x%08x in %s", o.Source.Offset, o.Source.File.Name())
}

// ReadKL decodes the key and length at the source offset (or the file's
// current position when the offset is unset), records the value length and
// KL size, and leaves the file positioned at the first value byte. It
// returns the KL size.
func (o *Object) ReadKL() (int, error) {
	f := o.Source.File
	if f == nil {
		return 0, fmt.Errorf("%w: no source file", ErrBadPosition)
	}
	if o.Source.Offset >= 0 {
		if err := f.Seek(o.Source.Offset); err != nil {
			return 0, err
		}
	} else {
		pos, err := f.Tell()
		if err != nil {
			return 0, err
		}
		o.Source.Offset = pos
	}
	o.Source.Valid = true

	keySize, err := o.readKey(f)
	if err != nil {
		return 0, err
	}

	length, lenSize, err := o.readLength(f)
	if err != nil {
		return 0, err
	}

	o.ValueLength = length
	o.Source.OuterLength = length
	o.Source.KLSize = keySize + lenSize
	if !o.Dest.Valid || o.destAliased {
		o.Dest = o.Source
		o.destAliased = true
	}
	return o.Source.KLSize, nil
}

func (o *Object) readKey(f *File) (int, error) {
	switch o.KeyFormat {
	case KeyFormatUL, KeyFormatAuto:
		ul, err := f.ReadUL()
		if err != nil {
			return 0, fmt.Errorf("%w: key at offset %d: %v", ErrTruncatedKL, o.Source.Offset, err)
		}
		o.TheKey = ul
		return ULSize, nil
	case KeyFormat1:
		v, err := f.ReadU8()
		if err != nil {
			return 0, fmt.Errorf("%w: 1-byte key: %v", ErrTruncatedKL, err)
		}
		o.Tag = uint32(v)
		return 1, nil
	case KeyFormat2:
		v, err := f.ReadU16()
		if err != nil {
			return 0, fmt.Errorf("%w: 2-byte key: %v", ErrTruncatedKL, err)
		}
		o.Tag = uint32(v)
		return 2, nil
	case KeyFormat4:
		v, err := f.ReadU32()
		if err != nil {
			return 0, fmt.Errorf("%w: 4-byte key: %v", ErrTruncatedKL, err)
		}
		o.Tag = v
		return 4, nil
	}
	return 0, fmt.Errorf("%w: key format %d", ErrMalformedLength, o.KeyFormat)
}

func (o *Object) readLength(f *File) (int64, int, error) {
	switch o.LenFormat {
	case LenFormatBER:
		return f.ReadBER()
	case LenFormat1:
		v, err := f.ReadU8()
		if err != nil {
			return 0, 0, fmt.Errorf("%w: 1-byte length: %v", ErrTruncatedKL, err)
		}
		return int64(v), 1, nil
	case LenFormat2:
		v, err := f.ReadU16()
		if err != nil {
			return 0, 0, fmt.Errorf("%w: 2-byte length: %v", ErrTruncatedKL, err)
		}
		return int64(v), 2, nil
	case LenFormat4:
		v, err := f.ReadU32()
		if err != nil {
			return 0, 0, fmt.Errorf("%w: 4-byte length: %v", ErrTruncatedKL, err)
		}
		return int64(v), 4, nil
	}
	return 0, 0, fmt.Errorf("%w: length format %d", ErrMalformedLength, o.LenFormat)
}

// ReadData materialises up to size bytes from the start of the value field.
// AllAvailable reads to the end of the value.
func (o *Object) ReadData(size int64) (int, error) {
	return o.ReadDataFrom(0, size)
}

// ReadDataFrom materialises up to size bytes starting at offset within the
// value field. The new chunk wholly replaces any previous one; afterwards
// DataBase == offset and len(Data) is the returned count.
//
// When a read handler is installed it supplies the bytes; otherwise the
// source file is read at the value position. Requests larger than the
// platform can hold in one slice fail with ErrChunkTooLarge; callers must
// fall back to ranged reads.
func (o *Object) ReadDataFrom(offset, size int64) (int, error) {
	if offset < 0 {
		return 0, fmt.Errorf("%w: value offset %d", ErrBadPosition, offset)
	}

	if o.Handler != nil {
		buf, err := o.Handler.ReadData(o, offset, size)
		if err != nil {
			return 0, err
		}
		o.Data = buf
		o.DataBase = offset
		return len(buf), nil
	}

	remaining := o.ValueLength - offset
	if remaining < 0 {
		remaining = 0
	}
	if size == AllAvailable || size > remaining {
		size = remaining
	}
	if size > maxChunk {
		return 0, fmt.Errorf("%w: %d bytes requested", ErrChunkTooLarge, size)
	}
	if size == 0 {
		o.Data = nil
		o.DataBase = offset
		return 0, nil
	}

	f := o.Source.File
	if f == nil || !o.Source.Valid || o.Source.Offset < 0 || o.Source.KLSize < 0 {
		return 0, fmt.Errorf("%w: no source to read value from", ErrBadPosition)
	}
	if err := f.Seek(o.Source.Offset + int64(o.Source.KLSize) + offset); err != nil {
		return 0, err
	}
	buf := make([]byte, size)
	n, err := f.Read(buf)
	if err != nil {
		return 0, err
	}
	o.Data = buf[:n]
	o.DataBase = offset
	return n, nil
}

// valueWindow resolves a (start, size) request against the value field and
// the source location. It returns the absolute file offset of the value
// field and the clamped request size. Handlers use it so that clamping and
// platform-size policy stay identical to direct file reads.
func (o *Object) valueWindow(start, size int64) (valueStart, clamped int64, err error) {
	if start < 0 {
		return 0, 0, fmt.Errorf("%w: value offset %d", ErrBadPosition, start)
	}
	if !o.Source.Valid || o.Source.Offset < 0 || o.Source.KLSize < 0 {
		return 0, 0, fmt.Errorf("%w: no source location", ErrBadPosition)
	}
	remaining := o.ValueLength - start
	if remaining < 0 {
		remaining = 0
	}
	if size == AllAvailable || size > remaining {
		size = remaining
	}
	if size > maxChunk {
		return 0, 0, fmt.Errorf("%w: %d bytes requested", ErrChunkTooLarge, size)
	}
	return o.Source.Offset + int64(o.Source.KLSize), size, nil
}

// WriteKL writes the key and length to the destination offset using lenSize
// bytes for the length field (0 sizes the field to match the destination KL
// size when known, else the minimum). It returns the KL size written.
func (o *Object) WriteKL(lenSize int) (int, error) {
	return o.WriteKLWithLength(lenSize, -1)
}

// WriteKLWithLength is WriteKL with an overridden value length: when
// length is non-negative it is written in place of ValueLength.
func (o *Object) WriteKLWithLength(lenSize int, length int64) (int, error) {
	f := o.Dest.File
	if f == nil {
		return 0, fmt.Errorf("%w: no destination file", ErrBadPosition)
	}
	if o.Dest.Offset >= 0 {
		if err := f.Seek(o.Dest.Offset); err != nil {
			return 0, err
		}
	} else {
		pos, err := f.Tell()
		if err != nil {
			return 0, err
		}
		o.Dest.Offset = pos
	}
	o.Dest.Valid = true

	keySize, err := o.writeKey(f)
	if err != nil {
		return 0, err
	}

	if length < 0 {
		length = o.ValueLength
	}
	if lenSize == 0 && o.Dest.KLSize > keySize {
		lenSize = o.Dest.KLSize - keySize
	}
	lenBytes, err := o.writeLength(f, length, lenSize)
	if err != nil {
		return 0, err
	}

	o.Dest.KLSize = keySize + lenBytes
	return o.Dest.KLSize, nil
}

func (o *Object) writeKey(f *File) (int, error) {
	switch o.KeyFormat {
	case KeyFormatUL, KeyFormatAuto:
		return ULSize, f.WriteUL(o.TheKey)
	case KeyFormat1:
		if o.Tag > 0xff {
			return 0, fmt.Errorf("%w: tag 0x%x in 1-byte key", ErrLengthOverflow, o.Tag)
		}
		return 1, f.WriteU8(uint8(o.Tag))
	case KeyFormat2:
		if o.Tag > 0xffff {
			return 0, fmt.Errorf("%w: tag 0x%x in 2-byte key", ErrLengthOverflow, o.Tag)
		}
		return 2, f.WriteU16(uint16(o.Tag))
	case KeyFormat4:
		return 4, f.WriteU32(o.Tag)
	}
	return 0, fmt.Errorf("%w: key format %d", ErrMalformedLength, o.KeyFormat)
}

func (o *Object) writeLength(f *File, length int64, lenSize int) (int, error) {
	switch o.LenFormat {
	case LenFormatBER:
		return f.WriteBER(length, lenSize)
	case LenFormat1:
		buf, err := EncodeFixedLen(nil, length, 1)
		if err != nil {
			return 0, err
		}
		return 1, f.Write(buf)
	case LenFormat2:
		buf, err := EncodeFixedLen(nil, length, 2)
		if err != nil {
			return 0, err
		}
		return 2, f.Write(buf)
	case LenFormat4:
		buf, err := EncodeFixedLen(nil, length, 4)
		if err != nil {
			return 0, err
		}
		return 4, f.Write(buf)
	}
	return 0, fmt.Errorf("%w: length format %d", ErrMalformedLength, o.LenFormat)
}

// WriteData writes the whole chunk (or the first size bytes of it) to the
// same offset in the destination value field it was read from.
func (o *Object) WriteData(size int64) (int, error) {
	return o.WriteDataFromTo(o.DataBase, 0, size)
}

// WriteDataFromTo writes Data[start : start+size] to the destination value
// field at offset. AllAvailable writes the rest of the chunk.
func (o *Object) WriteDataFromTo(offset, start, size int64) (int, error) {
	if start < 0 || start > int64(len(o.Data)) {
		return 0, fmt.Errorf("%w: chunk offset %d of %d", ErrBadPosition, start, len(o.Data))
	}
	avail := int64(len(o.Data)) - start
	if size == AllAvailable || size > avail {
		size = avail
	}
	if size > maxChunk {
		return 0, fmt.Errorf("%w: %d bytes to write", ErrChunkTooLarge, size)
	}
	if size == 0 {
		return 0, nil
	}
	return o.WriteDataBuffer(o.Data[start:start+size], offset)
}

// WriteDataBuffer writes buf to the destination value field at offset. The
// destination KL must be known (from ReadKL of an aliased source or a prior
// WriteKL) so the value position can be resolved.
func (o *Object) WriteDataBuffer(buf []byte, offset int64) (int, error) {
	f := o.Dest.File
	if f == nil || !o.Dest.Valid || o.Dest.Offset < 0 {
		return 0, fmt.Errorf("%w: no destination to write value to", ErrBadPosition)
	}
	if o.Dest.KLSize < 0 {
		return 0, fmt.Errorf("%w: destination KL size unknown", ErrBadPosition)
	}
	if offset < 0 {
		return 0, fmt.Errorf("%w: value offset %d", ErrBadPosition, offset)
	}
	if err := f.Seek(o.Dest.Offset + int64(o.Dest.KLSize) + offset); err != nil {
		return 0, err
	}
	if err := f.Write(buf); err != nil {
		return 0, err
	}
	return len(buf), nil
}
