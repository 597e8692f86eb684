package mxf

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/samcharles93/mxfkit/internal/logger"
	"github.com/samcharles93/mxfkit/pkg/klv"
)

// Index table segments use the format's static local tags; they decode
// without a primer.
const (
	tagIndexInstanceUID   = 0x3c0a
	tagEditUnitByteCount  = 0x3f05
	tagIndexSID           = 0x3f06
	tagBodySID            = 0x3f07
	tagSliceCount         = 0x3f08
	tagDeltaEntryArray    = 0x3f09
	tagIndexEntryArray    = 0x3f0a
	tagIndexEditRate      = 0x3f0b
	tagIndexStartPosition = 0x3f0c
	tagIndexDuration      = 0x3f0d
)

const (
	indexEntrySize = 11 // temporal (1) + key-frame (1) + flags (1) + offset (8)
	deltaEntrySize = 6  // pos table index (1) + slice (1) + element delta (4)
)

// IndexEntry maps one edit unit to its byte offset in the essence stream.
type IndexEntry struct {
	TemporalOffset int8
	KeyFrameOffset int8
	Flags          uint8
	StreamOffset   uint64
}

// DeltaEntry locates one element within an interleaved edit unit.
type DeltaEntry struct {
	PosTableIndex int8
	Slice         uint8
	ElementDelta  uint32
}

// IndexSegment is one KLV-encoded index table segment: a mapping from a
// contiguous run of edit units to byte offsets in an essence stream.
// EditUnitByteCount is non-zero for constant-size streams; variable-size
// streams carry explicit IndexEntries instead.
type IndexSegment struct {
	InstanceUID        UUID
	IndexEditRate      Rational
	IndexStartPosition int64
	IndexDuration      int64
	EditUnitByteCount  uint32
	IndexSID           uint32
	BodySID            uint32
	SliceCount         uint8
	DeltaEntries       []DeltaEntry
	IndexEntries       []IndexEntry
}

// ParseIndexSegment decodes an index table segment value.
func ParseIndexSegment(value []byte, log logger.Logger) (*IndexSegment, error) {
	s := &IndexSegment{}
	for len(value) > 0 {
		if len(value) < 4 {
			return nil, fmt.Errorf("%w: %d trailing bytes", ErrBadIndex, len(value))
		}
		tag := binary.BigEndian.Uint16(value)
		length := int(binary.BigEndian.Uint16(value[2:]))
		value = value[4:]
		if length > len(value) {
			return nil, fmt.Errorf("%w: item 0x%04x claims %d bytes, %d left", ErrBadIndex, tag, length, len(value))
		}
		payload := value[:length]
		value = value[length:]

		var err error
		switch tag {
		case tagIndexInstanceUID:
			if len(payload) != UUIDSize {
				err = fmt.Errorf("%w: InstanceUID payload %d bytes", ErrBadIndex, len(payload))
				break
			}
			copy(s.InstanceUID[:], payload)
		case tagIndexEditRate:
			s.IndexEditRate, err = decodeRational(payload)
		case tagIndexStartPosition:
			s.IndexStartPosition, err = decodeI64(payload)
		case tagIndexDuration:
			s.IndexDuration, err = decodeI64(payload)
		case tagEditUnitByteCount:
			s.EditUnitByteCount, err = decodeU32(payload)
		case tagIndexSID:
			s.IndexSID, err = decodeU32(payload)
		case tagBodySID:
			s.BodySID, err = decodeU32(payload)
		case tagSliceCount:
			if len(payload) != 1 {
				err = fmt.Errorf("%w: SliceCount payload %d bytes", ErrBadIndex, len(payload))
				break
			}
			s.SliceCount = payload[0]
		case tagDeltaEntryArray:
			s.DeltaEntries, err = decodeDeltaEntries(payload)
		case tagIndexEntryArray:
			s.IndexEntries, err = decodeIndexEntries(payload)
		default:
			log.Warn("unknown index segment tag skipped", "tag", fmt.Sprintf("0x%04x", tag))
		}
		if err != nil {
			return nil, err
		}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Encode serialises the segment value with its static tags in a fixed
// order: InstanceUID, edit rate, start position, duration, edit-unit byte
// count, IndexSID, BodySID, then the optional slice count, delta entry
// array and index entry array.
func (s *IndexSegment) Encode() []byte {
	var out []byte
	item := func(tag uint16, payload []byte) {
		var hdr [4]byte
		binary.BigEndian.PutUint16(hdr[:], tag)
		binary.BigEndian.PutUint16(hdr[2:], uint16(len(payload)))
		out = append(out, hdr[:]...)
		out = append(out, payload...)
	}

	item(tagIndexInstanceUID, s.InstanceUID[:])
	item(tagIndexEditRate, s.IndexEditRate.encode(nil))
	item(tagIndexStartPosition, encodeI64(s.IndexStartPosition))
	item(tagIndexDuration, encodeI64(s.IndexDuration))
	item(tagEditUnitByteCount, encodeU32(s.EditUnitByteCount))
	item(tagIndexSID, encodeU32(s.IndexSID))
	item(tagBodySID, encodeU32(s.BodySID))
	if s.SliceCount > 0 || len(s.DeltaEntries) > 0 {
		item(tagSliceCount, []byte{s.SliceCount})
	}
	if len(s.DeltaEntries) > 0 {
		body := make([]byte, 8, 8+len(s.DeltaEntries)*deltaEntrySize)
		binary.BigEndian.PutUint32(body, uint32(len(s.DeltaEntries)))
		binary.BigEndian.PutUint32(body[4:], deltaEntrySize)
		for _, d := range s.DeltaEntries {
			var rec [deltaEntrySize]byte
			rec[0] = byte(d.PosTableIndex)
			rec[1] = d.Slice
			binary.BigEndian.PutUint32(rec[2:], d.ElementDelta)
			body = append(body, rec[:]...)
		}
		item(tagDeltaEntryArray, body)
	}
	if len(s.IndexEntries) > 0 {
		body := make([]byte, 8, 8+len(s.IndexEntries)*indexEntrySize)
		binary.BigEndian.PutUint32(body, uint32(len(s.IndexEntries)))
		binary.BigEndian.PutUint32(body[4:], indexEntrySize)
		for _, e := range s.IndexEntries {
			var rec [indexEntrySize]byte
			rec[0] = byte(e.TemporalOffset)
			rec[1] = byte(e.KeyFrameOffset)
			rec[2] = e.Flags
			binary.BigEndian.PutUint64(rec[3:], e.StreamOffset)
			body = append(body, rec[:]...)
		}
		item(tagIndexEntryArray, body)
	}
	return out
}

// WriteTo emits the segment as a KLV set and returns the bytes written.
func (s *IndexSegment) WriteTo(f *klv.File) (int64, error) {
	value := s.Encode()
	if err := f.WriteUL(ULIndexSegment); err != nil {
		return 0, err
	}
	n, err := f.WriteBER(int64(len(value)), 4)
	if err != nil {
		return 0, err
	}
	if err := f.Write(value); err != nil {
		return 0, err
	}
	return int64(klv.ULSize + n + len(value)), nil
}

// Validate checks the segment's internal invariants: stream offsets must
// not decrease, and explicit entries must cover the declared duration.
func (s *IndexSegment) Validate() error {
	if s.EditUnitByteCount == 0 && len(s.IndexEntries) > 0 && s.IndexDuration > 0 {
		if int64(len(s.IndexEntries)) < s.IndexDuration {
			return fmt.Errorf("%w: %d entries for duration %d", ErrBadIndex, len(s.IndexEntries), s.IndexDuration)
		}
	}
	for i := 1; i < len(s.IndexEntries); i++ {
		if s.IndexEntries[i].StreamOffset < s.IndexEntries[i-1].StreamOffset {
			return fmt.Errorf("%w: stream offset decreases at entry %d", ErrBadIndex, i)
		}
	}
	return nil
}

// End returns the first edit unit after the segment's run.
func (s *IndexSegment) End() int64 {
	return s.IndexStartPosition + s.IndexDuration
}

// Table merges the index segments attached to one essence stream and
// answers edit-unit → stream-offset queries.
type Table struct {
	Segments []*IndexSegment
}

// AddSegment inserts a segment, keeping segments ordered by start position
// and rejecting overlaps with what the table already covers. Gaps are
// rejected at Lookup time rather than insertion so segments may arrive in
// any order.
func (t *Table) AddSegment(s *IndexSegment) error {
	for _, have := range t.Segments {
		if have.IndexSID != s.IndexSID {
			continue
		}
		if s.IndexStartPosition < have.End() && have.IndexStartPosition < s.End() {
			return fmt.Errorf("%w: segment [%d,%d) overlaps [%d,%d)", ErrBadIndex,
				s.IndexStartPosition, s.End(), have.IndexStartPosition, have.End())
		}
	}
	t.Segments = append(t.Segments, s)
	sort.SliceStable(t.Segments, func(i, j int) bool {
		if t.Segments[i].IndexSID != t.Segments[j].IndexSID {
			return t.Segments[i].IndexSID < t.Segments[j].IndexSID
		}
		return t.Segments[i].IndexStartPosition < t.Segments[j].IndexStartPosition
	})
	return nil
}

// Lookup resolves an edit unit on the given index stream to its byte
// offset in the essence container.
func (t *Table) Lookup(indexSID uint32, editUnit int64) (uint64, bool) {
	for _, s := range t.Segments {
		if s.IndexSID != indexSID {
			continue
		}
		if editUnit < s.IndexStartPosition || (s.IndexDuration > 0 && editUnit >= s.End()) {
			continue
		}
		rel := editUnit - s.IndexStartPosition
		if s.EditUnitByteCount > 0 {
			return uint64(rel) * uint64(s.EditUnitByteCount), true
		}
		if rel < int64(len(s.IndexEntries)) {
			return s.IndexEntries[rel].StreamOffset, true
		}
		return 0, false
	}
	return 0, false
}

// Contiguous reports whether the segments for indexSID partition their
// timeline without gaps, starting from the first segment present.
func (t *Table) Contiguous(indexSID uint32) bool {
	var prev *IndexSegment
	for _, s := range t.Segments {
		if s.IndexSID != indexSID {
			continue
		}
		if prev != nil && s.IndexStartPosition != prev.End() {
			return false
		}
		prev = s
	}
	return true
}

func decodeDeltaEntries(payload []byte) ([]DeltaEntry, error) {
	count, body, err := batchHeader(payload, deltaEntrySize)
	if err != nil {
		return nil, err
	}
	out := make([]DeltaEntry, count)
	for i := range out {
		rec := body[i*deltaEntrySize:]
		out[i] = DeltaEntry{
			PosTableIndex: int8(rec[0]),
			Slice:         rec[1],
			ElementDelta:  binary.BigEndian.Uint32(rec[2:]),
		}
	}
	return out, nil
}

func decodeIndexEntries(payload []byte) ([]IndexEntry, error) {
	count, body, err := batchHeader(payload, indexEntrySize)
	if err != nil {
		return nil, err
	}
	out := make([]IndexEntry, count)
	for i := range out {
		rec := body[i*indexEntrySize:]
		out[i] = IndexEntry{
			TemporalOffset: int8(rec[0]),
			KeyFrameOffset: int8(rec[1]),
			Flags:          rec[2],
			StreamOffset:   binary.BigEndian.Uint64(rec[3:]),
		}
	}
	return out, nil
}

func batchHeader(payload []byte, elemSize int) (int, []byte, error) {
	if len(payload) < 8 {
		return 0, nil, fmt.Errorf("%w: batch header needs 8 bytes, got %d", ErrBadIndex, len(payload))
	}
	count := int(binary.BigEndian.Uint32(payload))
	declared := int(binary.BigEndian.Uint32(payload[4:]))
	if declared != elemSize {
		return 0, nil, fmt.Errorf("%w: element size %d, want %d", ErrBadIndex, declared, elemSize)
	}
	body := payload[8:]
	if count*elemSize != len(body) {
		return 0, nil, fmt.Errorf("%w: %d x %d bytes does not cover %d-byte body", ErrBadIndex, count, elemSize, len(body))
	}
	return count, body, nil
}

func decodeU32(b []byte) (uint32, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("%w: u32 payload %d bytes", ErrBadIndex, len(b))
	}
	return binary.BigEndian.Uint32(b), nil
}

func decodeI64(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("%w: i64 payload %d bytes", ErrBadIndex, len(b))
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

func encodeU32(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b[:]
}

func encodeI64(v int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return b[:]
}
