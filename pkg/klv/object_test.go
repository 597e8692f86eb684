package klv

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

var testKey = MustUL("060e2b34.01020101.0d010301.15010500")

// makeKLVFile writes key + BER(len) + value into a temp file and opens it.
func makeKLVFile(t *testing.T, value []byte) *File {
	t.Helper()

	path := filepath.Join(t.TempDir(), "item.mxf")
	enc, err := EncodeBER(testKey[:], int64(len(value)), 0)
	if err != nil {
		t.Fatalf("encode length: %v", err)
	}
	enc = append(enc, value...)
	if err := os.WriteFile(path, enc, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return NewFile(f, path)
}

func TestReadKLAndChunkedReads(t *testing.T) {
	t.Parallel()

	value := make([]byte, 300)
	for i := range value {
		value[i] = byte(i)
	}
	f := makeKLVFile(t, value)

	o := NewObject(UL{})
	if err := o.SetSource(f, 0); err != nil {
		t.Fatalf("set source: %v", err)
	}
	klSize, err := o.ReadKL()
	if err != nil {
		t.Fatalf("read KL: %v", err)
	}
	// 16-byte key plus 0x82 xx xx length.
	if klSize != 19 {
		t.Fatalf("KL size: got %d want 19", klSize)
	}
	if o.Key() != testKey {
		t.Fatalf("key: got %s", o.Key())
	}
	if o.Length() != 300 {
		t.Fatalf("value length: got %d", o.Length())
	}

	n, err := o.ReadDataFrom(10, 20)
	if err != nil {
		t.Fatalf("read data: %v", err)
	}
	if n != 20 || o.DataBase != 10 || len(o.Data) != 20 {
		t.Fatalf("chunk state: n=%d base=%d len=%d", n, o.DataBase, len(o.Data))
	}
	if !bytes.Equal(o.Data, value[10:30]) {
		t.Fatalf("chunk bytes wrong")
	}

	// A second materialisation wholly replaces the first.
	n, err = o.ReadDataFrom(290, AllAvailable)
	if err != nil {
		t.Fatalf("read tail: %v", err)
	}
	if n != 10 || o.DataBase != 290 || len(o.Data) != 10 {
		t.Fatalf("tail chunk state: n=%d base=%d len=%d", n, o.DataBase, len(o.Data))
	}
	if o.DataBase+int64(len(o.Data)) > o.ValueLength {
		t.Fatalf("chunk invariant violated: base=%d len=%d value=%d", o.DataBase, len(o.Data), o.ValueLength)
	}

	// Reads past the value yield an empty chunk, not an error.
	n, err = o.ReadDataFrom(400, 10)
	if err != nil || n != 0 {
		t.Fatalf("past-end read: n=%d err=%v", n, err)
	}
}

func TestReadKLTruncated(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "short.mxf")
	if err := os.WriteFile(path, testKey[:8], 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = f.Close() }()

	o := NewObject(UL{})
	if err := o.SetSource(NewFile(f, path), 0); err != nil {
		t.Fatalf("set source: %v", err)
	}
	if _, err := o.ReadKL(); !errors.Is(err, ErrTruncatedKL) {
		t.Fatalf("want ErrTruncatedKL, got %v", err)
	}
}

func TestShortValueRead(t *testing.T) {
	t.Parallel()

	// Length claims 100 bytes but only 40 exist.
	path := filepath.Join(t.TempDir(), "trunc.mxf")
	enc, _ := EncodeBER(testKey[:], 100, 0)
	enc = append(enc, make([]byte, 40)...)
	if err := os.WriteFile(path, enc, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = f.Close() }()

	o := NewObject(UL{})
	if err := o.SetSource(NewFile(f, path), 0); err != nil {
		t.Fatalf("set source: %v", err)
	}
	if _, err := o.ReadKL(); err != nil {
		t.Fatalf("read KL: %v", err)
	}
	n, err := o.ReadData(AllAvailable)
	if err != nil {
		t.Fatalf("read data: %v", err)
	}
	if n != 40 {
		t.Fatalf("short read: got %d want 40", n)
	}
}

// windowHandler serves a synthetic value without any backing file. It
// counts its calls so tests can check that each materialisation went
// through the handler.
type windowHandler struct {
	valueLen int64
	calls    int
}

func (h *windowHandler) ReadData(o *Object, start, size int64) ([]byte, error) {
	h.calls++
	remaining := h.valueLen - start
	if remaining <= 0 {
		return nil, nil
	}
	if size == AllAvailable || size > remaining {
		size = remaining
	}
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte((start + int64(i)) % 251)
	}
	return buf, nil
}

func TestHandlerChunkedRead(t *testing.T) {
	t.Parallel()

	const gib = int64(1) << 30
	h := &windowHandler{valueLen: gib}
	o := NewObject(testKey)
	o.SetLength(gib)
	o.Handler = h

	n, err := o.ReadDataFrom(0, 65536)
	if err != nil || n != 65536 {
		t.Fatalf("first window: n=%d err=%v", n, err)
	}
	first := append([]byte(nil), o.Data...)

	n, err = o.ReadDataFrom(65536, 65536)
	if err != nil || n != 65536 {
		t.Fatalf("second window: n=%d err=%v", n, err)
	}
	if o.DataBase != 65536 || len(o.Data) != 65536 {
		t.Fatalf("cursor state: base=%d len=%d", o.DataBase, len(o.Data))
	}
	if bytes.Equal(first, o.Data) {
		t.Fatalf("second window must replace the first")
	}
	if h.calls != 2 {
		t.Fatalf("handler calls: %d", h.calls)
	}
}

func TestDestinationAliasesSource(t *testing.T) {
	t.Parallel()

	value := []byte("payload-bytes-here")
	f := makeKLVFile(t, value)

	o := NewObject(UL{})
	if err := o.SetSource(f, 0); err != nil {
		t.Fatalf("set source: %v", err)
	}
	if _, err := o.ReadKL(); err != nil {
		t.Fatalf("read KL: %v", err)
	}
	if !o.Dest.Valid || o.Dest.Offset != o.Source.Offset || o.Dest.File != o.Source.File {
		t.Fatalf("dest must alias source until set explicitly")
	}

	// In-place rewrite: load, mutate, write back through the alias.
	if _, err := o.ReadData(AllAvailable); err != nil {
		t.Fatalf("read: %v", err)
	}
	o.Data[0] = 'P'
	if _, err := o.WriteDataFromTo(0, 0, AllAvailable); err != nil {
		t.Fatalf("write back: %v", err)
	}
	if _, err := o.ReadData(AllAvailable); err != nil {
		t.Fatalf("re-read: %v", err)
	}
	if o.Data[0] != 'P' {
		t.Fatalf("in-place rewrite not visible")
	}
}

func TestWriteKLRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.mxf")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer func() { _ = f.Close() }()
	dst := NewFile(f, path)

	o := NewObject(testKey)
	o.SetLength(6)
	o.Data = []byte{1, 2, 3, 4, 5, 6}
	o.DataBase = 0
	if err := o.SetDestination(dst, 0); err != nil {
		t.Fatalf("set dest: %v", err)
	}
	// A 4-byte BER field is legal even for a small length.
	klSize, err := o.WriteKL(4)
	if err != nil {
		t.Fatalf("write KL: %v", err)
	}
	if klSize != ULSize+4 {
		t.Fatalf("KL size: got %d", klSize)
	}
	if _, err := o.WriteDataFromTo(0, 0, AllAvailable); err != nil {
		t.Fatalf("write data: %v", err)
	}

	back := NewObject(UL{})
	if err := back.SetSource(dst, 0); err != nil {
		t.Fatalf("set source: %v", err)
	}
	if _, err := back.ReadKL(); err != nil {
		t.Fatalf("read back KL: %v", err)
	}
	if back.Key() != testKey || back.Length() != 6 {
		t.Fatalf("read back: key=%s len=%d", back.Key(), back.Length())
	}
	if _, err := back.ReadData(AllAvailable); err != nil {
		t.Fatalf("read back data: %v", err)
	}
	if !bytes.Equal(back.Data, []byte{1, 2, 3, 4, 5, 6}) {
		t.Fatalf("value mismatch: % x", back.Data)
	}
}

func TestReaderAtHandler(t *testing.T) {
	t.Parallel()

	value := make([]byte, 128)
	for i := range value {
		value[i] = byte(255 - i)
	}
	f := makeKLVFile(t, value)

	o := NewObject(UL{})
	if err := o.SetSource(f, 0); err != nil {
		t.Fatalf("set source: %v", err)
	}
	if _, err := o.ReadKL(); err != nil {
		t.Fatalf("read KL: %v", err)
	}

	raw, err := os.Open(f.Name())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = raw.Close() }()
	o.Handler = &ReaderAtHandler{R: raw}

	n, err := o.ReadDataFrom(100, AllAvailable)
	if err != nil {
		t.Fatalf("handler read: %v", err)
	}
	if n != 28 || !bytes.Equal(o.Data, value[100:]) {
		t.Fatalf("handler window: n=%d", n)
	}
}
