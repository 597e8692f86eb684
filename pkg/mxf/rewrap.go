package mxf

import (
	"fmt"
	"os"

	"github.com/samcharles93/mxfkit/pkg/klv"
)

// rewrapChunk is the window size used when streaming essence values.
const rewrapChunk = 1 << 20

// Rewrap reads every partition of the session and writes an equivalent
// file at dstPath: the run-in verbatim, each partition re-serialised
// through the metadata write path (fresh KAG fill, deterministic primer
// seeded from the original), and essence copied element by element through
// chunked cursor reads so values never sit in memory whole.
func (f *File) Rewrap(dstPath string) error {
	parts, err := f.Partitions()
	if err != nil {
		return err
	}
	if len(parts) == 0 {
		return fmt.Errorf("%w: nothing to rewrap in %s", ErrNoPartition, f.path)
	}

	out, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()
	dst := klv.NewFile(out, dstPath)

	if len(f.RunIn) > 0 {
		if err := dst.Write(f.RunIn); err != nil {
			return err
		}
	}

	var written []*Partition
	prevStart := uint64(0)
	for _, src := range parts {
		if err := f.kf.Seek(src.packEnd); err != nil {
			return err
		}
		src.ClearMetadata()
		if err := src.ReadMetadata(f.kf, int64(src.Pack.HeaderByteCount)); err != nil {
			return fmt.Errorf("partition at offset %d: %w", src.start, err)
		}
		segs, err := src.ReadIndexSegments(f.kf, int64(src.Pack.IndexByteCount))
		if err != nil {
			return fmt.Errorf("partition at offset %d: %w", src.start, err)
		}
		src.IndexSegments = segs

		pos, err := dst.Tell()
		if err != nil {
			return err
		}
		outPart := NewPartition(src.Pack.Kind, f.reg, f.log)
		outPart.Pack = src.Pack
		outPart.Pack.PreviousPartition = prevStart
		outPart.Pack.BodyOffset = 0
		outPart.Primer = src.Primer
		outPart.AllMetadata = src.AllMetadata
		outPart.TopLevelMetadata = src.TopLevelMetadata
		outPart.IndexSegments = src.IndexSegments
		if err := outPart.Write(dst); err != nil {
			return fmt.Errorf("partition at offset %d: %w", src.start, err)
		}
		prevStart = uint64(pos)
		written = append(written, outPart)

		if err := copyEssence(src, dst); err != nil {
			return err
		}
	}

	// The footer offset is only known once everything is laid out; patch
	// every pack in place (the pack value size does not change).
	footer := written[len(written)-1].start
	if written[len(written)-1].Pack.Kind != KindFooter {
		footer = 0
	}
	for _, p := range written {
		p.Pack.FooterPartition = uint64(footer)
		if err := dst.Seek(p.start); err != nil {
			return err
		}
		if err := dst.WriteUL(p.Pack.key()); err != nil {
			return err
		}
		value := p.Pack.encodeValue()
		if _, err := dst.WriteBER(int64(len(value)), 4); err != nil {
			return err
		}
		if err := dst.Write(value); err != nil {
			return err
		}
	}
	return out.Sync()
}

// copyEssence streams every essence element of src to the current position
// of dst in chunks.
func copyEssence(src *Partition, dst *klv.File) error {
	ok, err := src.StartElements()
	if err != nil || !ok {
		return err
	}
	for {
		el, err := src.NextElement()
		if err != nil {
			return err
		}
		if el == nil {
			return nil
		}
		out := klv.NewObject(el.Key())
		out.SetLength(el.Length())
		if err := out.SetDestination(dst, -1); err != nil {
			return err
		}
		if _, err := out.WriteKL(0); err != nil {
			return err
		}
		var off int64
		for off < el.Length() {
			n, err := el.ReadDataFrom(off, rewrapChunk)
			if err != nil {
				return err
			}
			if n == 0 {
				return fmt.Errorf("%w: essence value short at %d of %d bytes (%s)",
					klv.ErrTruncatedValue, off, el.Length(), el.SourceLocation())
			}
			if _, err := out.WriteDataBuffer(el.Data, off); err != nil {
				return err
			}
			off += int64(n)
		}
	}
}
