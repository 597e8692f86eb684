package mxf

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/samcharles93/mxfkit/internal/logger"
	"github.com/samcharles93/mxfkit/pkg/klv"
)

// maxRunIn is the largest run-in the format allows before the header
// partition pack.
const maxRunIn = 64 * 1024

// File is a session over one MXF file: it locates the header partition
// behind any run-in, hands out partitions, and owns them for its lifetime.
type File struct {
	osf  *os.File
	kf   *klv.File
	reg  Registry
	log  logger.Logger
	path string

	// RunIn holds the bytes before the header partition pack, passed
	// through unchanged on rewrite.
	RunIn []byte

	partitions []*Partition
}

// Open opens an MXF file read-write when permitted, falling back to
// read-only, and scans for the header partition. A nil log discards
// diagnostics.
func Open(path string, reg Registry, log logger.Logger) (*File, error) {
	if log == nil {
		log = logger.Discard()
	}
	osf, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		osf, err = os.Open(path)
		if err != nil {
			return nil, err
		}
	}
	f := &File{
		osf:  osf,
		kf:   klv.NewFile(osf, path),
		reg:  reg,
		log:  log,
		path: path,
	}
	if err := f.scanRunIn(); err != nil {
		_ = osf.Close()
		return nil, err
	}
	return f, nil
}

// Close releases the underlying file and drops every partition.
func (f *File) Close() error {
	f.partitions = nil
	if f.osf == nil {
		return nil
	}
	err := f.osf.Close()
	f.osf = nil
	return err
}

// KLV exposes the session's file cursor.
func (f *File) KLV() *klv.File { return f.kf }

// Path returns the opened path.
func (f *File) Path() string { return f.path }

// scanRunIn finds the header partition pack within the first 64 KiB and
// records everything before it.
func (f *File) scanRunIn() error {
	buf := make([]byte, maxRunIn+klv.ULSize)
	if err := f.kf.Seek(0); err != nil {
		return err
	}
	n, err := f.kf.Read(buf)
	if err != nil {
		return err
	}
	buf = buf[:n]
	idx := bytes.Index(buf, partitionPrefix)
	for idx >= 0 {
		if idx <= maxRunIn && idx+klv.ULSize <= len(buf) {
			var key klv.UL
			copy(key[:], buf[idx:])
			if IsPartitionKey(key) {
				f.RunIn = append([]byte(nil), buf[:idx]...)
				if idx > 0 {
					f.log.Info("run-in before header partition", "bytes", idx)
				}
				return nil
			}
		}
		next := bytes.Index(buf[idx+1:], partitionPrefix)
		if next < 0 {
			break
		}
		idx += 1 + next
	}
	return fmt.Errorf("%w: no partition pack in first %d bytes of %s", ErrNoPartition, maxRunIn, f.path)
}

// ReadPartitionAt parses the partition pack at the given offset. The
// partition's metadata, index and essence are read on demand through its
// own methods.
func (f *File) ReadPartitionAt(offset int64) (*Partition, error) {
	o := klv.NewObject(klv.UL{})
	if err := o.SetSource(f.kf, offset); err != nil {
		return nil, err
	}
	if _, err := o.ReadKL(); err != nil {
		return nil, fmt.Errorf("partition pack at offset %d: %w", offset, err)
	}
	if !IsPartitionKey(o.Key()) {
		return nil, fmt.Errorf("%w: key %s at offset %d", ErrNotPartition, o.Key(), offset)
	}
	if _, err := o.ReadData(klv.AllAvailable); err != nil {
		return nil, err
	}
	pack, err := decodePartitionPack(o.Key(), o.Data)
	if err != nil {
		return nil, fmt.Errorf("partition pack at offset %d: %w", offset, err)
	}
	p := NewPartition(pack.Kind, f.reg, f.log)
	p.Pack = *pack
	p.file = f.kf
	p.start = offset
	p.packEnd = offset + int64(o.KLSize()) + o.Length()
	return p, nil
}

// HeaderPartition returns the partition behind the run-in.
func (f *File) HeaderPartition() (*Partition, error) {
	return f.ReadPartitionAt(int64(len(f.RunIn)))
}

// Partitions walks the file from the header partition to the end and
// returns every partition in byte order. Structural damage between
// partitions is handled by resynchronising: scanning forward for the next
// partition pack key and logging what was skipped.
func (f *File) Partitions() ([]*Partition, error) {
	if f.partitions != nil {
		return f.partitions, nil
	}
	var out []*Partition
	offset := int64(len(f.RunIn))
	for {
		p, err := f.ReadPartitionAt(offset)
		if err != nil {
			return out, err
		}
		out = append(out, p)

		next, ok, err := f.nextPartitionOffset(p)
		if err != nil {
			if resync, found := f.resync(p.packEnd); found {
				f.log.Warn("structural damage, resynchronised at next partition pack",
					"after_offset", p.packEnd, "resync_offset", resync, "err", err.Error())
				offset = resync
				continue
			}
			f.log.Warn("structural damage with no further partition pack", "err", err.Error())
			break
		}
		if !ok {
			break
		}
		offset = next
	}
	f.partitions = out
	return out, nil
}

// nextPartitionOffset skims from the end of p's pack over metadata, index
// and essence KLVs until the next partition pack key or EOF.
func (f *File) nextPartitionOffset(p *Partition) (int64, bool, error) {
	pos := p.packEnd
	// The pack's own byte counts shortcut the metadata and index regions
	// when present; the KLV walk below covers files that leave them zero.
	// The counts start after the KAG fill that may follow the pack.
	skip := int64(p.Pack.HeaderByteCount + p.Pack.IndexByteCount)
	if skip > 0 {
		if next, err := p.skipFill(pos); err == nil {
			pos = next
		}
		pos += skip
	}
	for {
		o := klv.NewObject(klv.UL{})
		if err := o.SetSource(f.kf, pos); err != nil {
			return 0, false, err
		}
		if _, err := o.ReadKL(); err != nil {
			if errors.Is(err, klv.ErrTruncatedKL) {
				return 0, false, nil
			}
			return 0, false, err
		}
		if IsPartitionKey(o.Key()) {
			return pos, true, nil
		}
		pos += int64(o.KLSize()) + o.Length()
	}
}

// resync scans forward from offset for the next partition pack key.
func (f *File) resync(offset int64) (int64, bool) {
	const window = 1 << 20
	buf := make([]byte, window)
	carry := 0
	for {
		if err := f.kf.Seek(offset + int64(carry)); err != nil {
			return 0, false
		}
		n, err := f.kf.Read(buf[carry:])
		if err != nil || n == 0 {
			return 0, false
		}
		view := buf[:carry+n]
		for from := 0; ; {
			idx := bytes.Index(view[from:], partitionPrefix)
			if idx < 0 || from+idx+klv.ULSize > len(view) {
				break
			}
			idx += from
			var key klv.UL
			copy(key[:], view[idx:])
			if IsPartitionKey(key) {
				return offset + int64(idx), true
			}
			from = idx + 1
		}
		keep := klv.ULSize - 1
		if len(view) <= keep {
			return 0, false
		}
		copy(buf, view[len(view)-keep:])
		offset += int64(len(view) - keep)
		carry = keep
	}
}
