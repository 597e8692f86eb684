package klv

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// ReadHandler fulfils ranged reads of a KLV value on behalf of a cursor.
//
// A handler is invoked only when a value is being materialised, never while
// the key and length are parsed. The contract:
//   - start/size address the KLV value field, not the file.
//   - The returned slice wholly replaces the cursor's chunk; no append
//     semantics.
//   - Fewer than size bytes may be returned at end of source.
//   - The handler may consult only the cursor's identity (key, value length,
//     source offsets), never its current chunk.
//
// Handlers may be shared among cursors. A handler that performs positioned
// reads (pread style) never touches the file position, which is the escape
// hatch for callers that need concurrent reads over one file.
type ReadHandler interface {
	ReadData(o *Object, start int64, size int64) ([]byte, error)
}

// ReaderAtHandler serves value reads with positioned reads from an
// io.ReaderAt, leaving every file position untouched.
type ReaderAtHandler struct {
	R io.ReaderAt
}

// ReadData reads from the value field of o via positioned reads.
func (h *ReaderAtHandler) ReadData(o *Object, start int64, size int64) ([]byte, error) {
	valueStart, remaining, err := o.valueWindow(start, size)
	if err != nil || remaining == 0 {
		return nil, err
	}
	buf := make([]byte, remaining)
	n, err := h.R.ReadAt(buf, valueStart+start)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: handler read at %d: %v", ErrReadFailed, valueStart+start, err)
	}
	return buf[:n], nil
}

// MmapHandler serves value reads from a read-only memory mapping of the
// source file. Chunk materialisation is a copy out of the mapping, so the
// chunk stays valid after Close.
type MmapHandler struct {
	data []byte
}

// NewMmapHandler maps f read-only. The mapping covers the whole file; the
// handler slices the value window out per request.
func NewMmapHandler(f *os.File) (*MmapHandler, error) {
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := st.Size()
	if size == 0 {
		return &MmapHandler{}, nil
	}
	if size > int64(int(^uint(0)>>1)) {
		return nil, fmt.Errorf("%w: cannot map %d bytes", ErrChunkTooLarge, size)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", f.Name(), err)
	}
	return &MmapHandler{data: data}, nil
}

// ReadData copies the requested value window out of the mapping.
func (h *MmapHandler) ReadData(o *Object, start int64, size int64) ([]byte, error) {
	valueStart, remaining, err := o.valueWindow(start, size)
	if err != nil || remaining == 0 {
		return nil, err
	}
	off := valueStart + start
	if off >= int64(len(h.data)) {
		return nil, nil
	}
	end := off + remaining
	if end > int64(len(h.data)) {
		end = int64(len(h.data))
	}
	out := make([]byte, end-off)
	copy(out, h.data[off:end])
	return out, nil
}

// Close releases the mapping.
func (h *MmapHandler) Close() error {
	if h.data == nil {
		return nil
	}
	err := unix.Munmap(h.data)
	h.data = nil
	return err
}
