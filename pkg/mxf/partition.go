package mxf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/samcharles93/mxfkit/internal/logger"
	"github.com/samcharles93/mxfkit/pkg/klv"
)

// minFillSize is the smallest encodable KLV-Fill item: 16-byte key plus a
// short-form BER length.
const minFillSize = klv.ULSize + 1

// packFixedSize is the partition pack value before the essence container
// batch.
const packFixedSize = 2 + 2 + 4 + 8 + 8 + 8 + 8 + 8 + 4 + 8 + 4 + klv.ULSize

// PartitionPack carries the fixed fields of a partition pack.
type PartitionPack struct {
	Kind PartitionKind

	MajorVersion uint16
	MinorVersion uint16
	KAGSize      uint32
	// ThisPartition, PreviousPartition and FooterPartition are absolute
	// byte offsets into the same file.
	ThisPartition     uint64
	PreviousPartition uint64
	FooterPartition   uint64
	// HeaderByteCount covers primer, metadata sets and trailing fill;
	// IndexByteCount covers index segments and their fill.
	HeaderByteCount uint64
	IndexByteCount  uint64
	IndexSID        uint32
	BodyOffset      uint64
	BodySID         uint32

	OperationalPattern klv.UL
	EssenceContainers  []klv.UL

	closed   bool
	complete bool
}

// IsClosed reports whether the partition was written closed.
func (pp *PartitionPack) IsClosed() bool { return pp.closed }

// IsComplete reports whether the partition's metadata was written complete.
func (pp *PartitionPack) IsComplete() bool { return pp.complete }

// Close marks the partition closed. The flag is sticky: there is no way to
// reopen within a write session.
func (pp *PartitionPack) Close() { pp.closed = true }

// MarkComplete marks the metadata complete. Sticky like Close.
func (pp *PartitionPack) MarkComplete() { pp.complete = true }

// statusByte derives byte 14 of the pack key: 01 open incomplete, 02
// closed incomplete, 03 open complete, 04 closed complete.
func (pp *PartitionPack) statusByte() byte {
	b := byte(0x01)
	if pp.closed {
		b++
	}
	if pp.complete {
		b += 2
	}
	return b
}

func (pp *PartitionPack) setStatusByte(b byte) {
	pp.closed = b == 0x02 || b == 0x04
	pp.complete = b == 0x03 || b == 0x04
}

// key builds the pack's universal label from kind and status.
func (pp *PartitionPack) key() klv.UL {
	var ul klv.UL
	copy(ul[:], partitionPrefix)
	ul[13] = byte(pp.Kind)
	ul[14] = pp.statusByte()
	ul[15] = 0x00
	return ul
}

func (pp *PartitionPack) encodeValue() []byte {
	out := make([]byte, packFixedSize, packFixedSize+8+len(pp.EssenceContainers)*klv.ULSize)
	binary.BigEndian.PutUint16(out[0:], pp.MajorVersion)
	binary.BigEndian.PutUint16(out[2:], pp.MinorVersion)
	binary.BigEndian.PutUint32(out[4:], pp.KAGSize)
	binary.BigEndian.PutUint64(out[8:], pp.ThisPartition)
	binary.BigEndian.PutUint64(out[16:], pp.PreviousPartition)
	binary.BigEndian.PutUint64(out[24:], pp.FooterPartition)
	binary.BigEndian.PutUint64(out[32:], pp.HeaderByteCount)
	binary.BigEndian.PutUint64(out[40:], pp.IndexByteCount)
	binary.BigEndian.PutUint32(out[48:], pp.IndexSID)
	binary.BigEndian.PutUint64(out[52:], pp.BodyOffset)
	binary.BigEndian.PutUint32(out[60:], pp.BodySID)
	copy(out[64:], pp.OperationalPattern[:])

	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(pp.EssenceContainers)))
	binary.BigEndian.PutUint32(hdr[4:], klv.ULSize)
	out = append(out, hdr[:]...)
	for _, ec := range pp.EssenceContainers {
		out = append(out, ec[:]...)
	}
	return out
}

func decodePartitionPack(key klv.UL, value []byte) (*PartitionPack, error) {
	if !IsPartitionKey(key) {
		return nil, fmt.Errorf("%w: key %s", ErrNotPartition, key)
	}
	if len(value) < packFixedSize+8 {
		return nil, fmt.Errorf("%w: pack value %d bytes", ErrNotPartition, len(value))
	}
	pp := &PartitionPack{Kind: PartitionKind(key[13])}
	pp.setStatusByte(key[14])
	pp.MajorVersion = binary.BigEndian.Uint16(value[0:])
	pp.MinorVersion = binary.BigEndian.Uint16(value[2:])
	pp.KAGSize = binary.BigEndian.Uint32(value[4:])
	pp.ThisPartition = binary.BigEndian.Uint64(value[8:])
	pp.PreviousPartition = binary.BigEndian.Uint64(value[16:])
	pp.FooterPartition = binary.BigEndian.Uint64(value[24:])
	pp.HeaderByteCount = binary.BigEndian.Uint64(value[32:])
	pp.IndexByteCount = binary.BigEndian.Uint64(value[40:])
	pp.IndexSID = binary.BigEndian.Uint32(value[48:])
	pp.BodyOffset = binary.BigEndian.Uint64(value[52:])
	pp.BodySID = binary.BigEndian.Uint32(value[60:])
	copy(pp.OperationalPattern[:], value[64:])

	batch := value[packFixedSize:]
	count := binary.BigEndian.Uint32(batch)
	elemSize := binary.BigEndian.Uint32(batch[4:])
	if elemSize != klv.ULSize && count > 0 {
		return nil, fmt.Errorf("%w: essence container element size %d", ErrNotPartition, elemSize)
	}
	body := batch[8:]
	if uint64(count)*uint64(klv.ULSize) > uint64(len(body)) {
		return nil, fmt.Errorf("%w: essence container batch truncated", ErrNotPartition)
	}
	for i := 0; i < int(count); i++ {
		var ec klv.UL
		copy(ec[:], body[i*klv.ULSize:])
		pp.EssenceContainers = append(pp.EssenceContainers, ec)
	}
	return pp, nil
}

// UnmatchedRef is one reference whose target UUID was not found in the
// partition.
type UnmatchedRef struct {
	Target UUID
	Owner  *MDObject
	Ref    *Ref
}

// Partition holds one partition's pack, primer, header metadata graph and
// index segments, and drives sequential essence iteration. It exclusively
// owns its metadata objects; dropping the partition drops the graph.
type Partition struct {
	Pack PartitionPack

	Primer *Primer

	// AllMetadata lists every parsed set in byte order. TopLevelMetadata
	// is the subset not reachable as a strong-reference child of any
	// other in-partition object.
	AllMetadata      []*MDObject
	TopLevelMetadata []*MDObject

	IndexSegments []*IndexSegment

	reg Registry
	log logger.Logger

	file *klv.File
	// start is the file offset of the pack key, packEnd the offset of the
	// first byte after the pack value.
	start   int64
	packEnd int64

	refTargets map[UUID]*MDObject
	unmatched  []UnmatchedRef

	// Sequential essence iteration state.
	bodyLocation     int64
	nextBodyLocation int64
}

// NewPartition returns an empty in-memory partition of the given kind.
func NewPartition(kind PartitionKind, reg Registry, log logger.Logger) *Partition {
	if log == nil {
		log = logger.Discard()
	}
	return &Partition{
		Pack:       PartitionPack{Kind: kind, MajorVersion: 1, MinorVersion: 3, KAGSize: 1},
		reg:        reg,
		log:        log,
		start:      -1,
		packEnd:    -1,
		refTargets: make(map[UUID]*MDObject),
	}
}

// Start returns the file offset of the partition pack key, -1 for an
// in-memory partition.
func (p *Partition) Start() int64 { return p.start }

// RefTargets exposes the UUID → object map built during ReadMetadata.
func (p *Partition) RefTargets() map[UUID]*MDObject { return p.refTargets }

// UnmatchedRefs exposes the references left unresolved at finalisation.
func (p *Partition) UnmatchedRefs() []UnmatchedRef { return p.unmatched }

// FindLinkParent returns the set holding a strong reference to child.
func (p *Partition) FindLinkParent(child *MDObject) *MDObject {
	return child.linkParent
}

// AddMetadata adds a set built in memory, along with every strongly linked
// descendant, and keeps the top-level list current.
func (p *Partition) AddMetadata(obj *MDObject) {
	p.addWithChildren(obj, make(map[*MDObject]bool))
	p.recomputeTopLevel()
}

func (p *Partition) addWithChildren(obj *MDObject, seen map[*MDObject]bool) {
	if seen[obj] {
		return
	}
	seen[obj] = true
	for _, have := range p.AllMetadata {
		if have == obj {
			return
		}
	}
	p.AllMetadata = append(p.AllMetadata, obj)
	if id, ok := obj.InstanceUID(); ok {
		p.refTargets[id] = obj
	}
	for _, child := range obj.StrongChildren() {
		p.addWithChildren(child, seen)
	}
}

// ClearMetadata drops the primer and every metadata set.
func (p *Partition) ClearMetadata() {
	p.Primer = nil
	p.AllMetadata = nil
	p.TopLevelMetadata = nil
	p.refTargets = make(map[UUID]*MDObject)
	p.unmatched = nil
}

func (p *Partition) recomputeTopLevel() {
	childSet := make(map[*MDObject]bool)
	for _, obj := range p.AllMetadata {
		for _, c := range obj.StrongChildren() {
			childSet[c] = true
		}
	}
	p.TopLevelMetadata = p.TopLevelMetadata[:0]
	for _, obj := range p.AllMetadata {
		if !childSet[obj] {
			p.TopLevelMetadata = append(p.TopLevelMetadata, obj)
		}
	}
}

// ReadMetadata reads KLV items from the file's current position until size
// bytes are consumed or the next item is not a header metadata set
// (size <= 0 reads until the family ends). The primer, when present, must
// come first; every subsequent set is parsed against it. On return the
// reference tables are finalised: a remaining strong reference makes the
// whole load structurally invalid, dangling weak references are warnings.
func (p *Partition) ReadMetadata(f *klv.File, size int64) error {
	res := newResolver(p.log)
	var consumed int64
	warnedNoPrimer := false

scan:
	for size <= 0 || consumed < size {
		pos, err := f.Tell()
		if err != nil {
			return err
		}
		o := klv.NewObject(klv.UL{})
		if err := o.SetSource(f, pos); err != nil {
			return err
		}
		if _, err := o.ReadKL(); err != nil {
			if errors.Is(err, klv.ErrTruncatedKL) {
				// EOF at a KLV boundary ends the metadata region.
				break
			}
			return fmt.Errorf("header metadata at offset %d: %w", pos, err)
		}
		key := o.Key()
		total := int64(o.KLSize()) + o.Length()

		switch {
		case IsFillKey(key):
			if err := f.Seek(pos + total); err != nil {
				return err
			}
			if p.Primer == nil && len(p.AllMetadata) == 0 {
				// KAG fill between the pack and the primer lies outside
				// HeaderByteCount.
				continue
			}
		case IsPrimerKey(key):
			if p.Primer != nil || len(p.AllMetadata) > 0 {
				return fmt.Errorf("%w: second primer at offset %d", ErrNoPrimer, pos)
			}
			if _, err := o.ReadData(klv.AllAvailable); err != nil {
				return err
			}
			primer, err := ParsePrimer(o.Data)
			if err != nil {
				return fmt.Errorf("primer at offset %d: %w", pos, err)
			}
			p.Primer = primer
		case IsHeaderMetadataKey(key):
			if p.Primer == nil && !warnedNoPrimer {
				p.log.Warn("header metadata without primer pack; only static tags will resolve",
					"offset", pos)
				warnedNoPrimer = true
			}
			if _, err := o.ReadData(klv.AllAvailable); err != nil {
				return err
			}
			obj, err := parseSet(key, o.Data, p.Primer, p.reg, res, p.log, klv.KeyFormatAuto)
			if err != nil {
				return fmt.Errorf("set at offset %d: %w", pos, err)
			}
			p.AllMetadata = append(p.AllMetadata, obj)
		default:
			// Not header metadata: put the cursor back on the key.
			if err := f.Seek(pos); err != nil {
				return err
			}
			break scan
		}
		consumed += total
	}

	finErr := res.finalise()
	p.refTargets = res.targets
	p.unmatched = p.unmatched[:0]
	for _, d := range res.unresolved() {
		p.unmatched = append(p.unmatched, UnmatchedRef{Target: d.target, Owner: d.owner, Ref: d.ref})
	}
	p.recomputeTopLevel()
	return finErr
}

// ReadIndexSegments scans for index table segments from the file's current
// position, up to limit bytes (limit <= 0 scans until the family ends) or
// the next partition pack.
func (p *Partition) ReadIndexSegments(f *klv.File, limit int64) ([]*IndexSegment, error) {
	var out []*IndexSegment
	var consumed int64
	for limit <= 0 || consumed < limit {
		pos, err := f.Tell()
		if err != nil {
			return out, err
		}
		o := klv.NewObject(klv.UL{})
		if err := o.SetSource(f, pos); err != nil {
			return out, err
		}
		if _, err := o.ReadKL(); err != nil {
			if errors.Is(err, klv.ErrTruncatedKL) {
				break
			}
			return out, fmt.Errorf("index scan at offset %d: %w", pos, err)
		}
		key := o.Key()
		total := int64(o.KLSize()) + o.Length()

		switch {
		case IsFillKey(key):
			if err := f.Seek(pos + total); err != nil {
				return out, err
			}
		case IsIndexKey(key):
			if _, err := o.ReadData(klv.AllAvailable); err != nil {
				return out, err
			}
			seg, err := ParseIndexSegment(o.Data, p.log)
			if err != nil {
				return out, fmt.Errorf("index segment at offset %d: %w", pos, err)
			}
			out = append(out, seg)
		default:
			if err := f.Seek(pos); err != nil {
				return out, err
			}
			return out, nil
		}
		consumed += total
	}
	return out, nil
}

// ReadIndexInto scans like ReadIndexSegments and merges the segments into
// table.
func (p *Partition) ReadIndexInto(f *klv.File, limit int64, table *Table) error {
	segs, err := p.ReadIndexSegments(f, limit)
	if err != nil {
		return err
	}
	for _, s := range segs {
		if err := table.AddSegment(s); err != nil {
			return err
		}
	}
	return nil
}

// SeekEssence positions the file at the first KLV of the partition's
// essence: past primer, header metadata, index segments and fill. It
// returns false when no essence precedes the next partition pack.
func (p *Partition) SeekEssence() (bool, error) {
	if p.file == nil || p.packEnd < 0 {
		return false, fmt.Errorf("%w: partition has no source", klv.ErrBadPosition)
	}
	f := p.file
	if err := f.Seek(p.packEnd); err != nil {
		return false, err
	}
	for {
		pos, err := f.Tell()
		if err != nil {
			return false, err
		}
		o := klv.NewObject(klv.UL{})
		if err := o.SetSource(f, pos); err != nil {
			return false, err
		}
		if _, err := o.ReadKL(); err != nil {
			if errors.Is(err, klv.ErrTruncatedKL) {
				return false, nil
			}
			return false, err
		}
		key := o.Key()
		if IsPartitionKey(key) {
			return false, nil
		}
		if IsFillKey(key) || IsPrimerKey(key) || IsIndexKey(key) || IsHeaderMetadataKey(key) {
			if err := f.Seek(pos + int64(o.KLSize()) + o.Length()); err != nil {
				return false, err
			}
			continue
		}
		return true, f.Seek(pos)
	}
}

// StartElements positions the sequential essence iterator at the first
// essence KLV. It returns false when the partition has none.
func (p *Partition) StartElements() (bool, error) {
	ok, err := p.SeekEssence()
	if err != nil || !ok {
		p.bodyLocation = -1
		return false, err
	}
	pos, err := p.file.Tell()
	if err != nil {
		return false, err
	}
	p.bodyLocation = pos
	p.nextBodyLocation = pos
	return true, nil
}

// NextElement returns a cursor for the essence element at the iterator's
// next location without materialising its value, then computes the
// location after it by skipping the element's value and at most one
// interleaved KLV-Fill item (multi-fill runs are not iterated; see
// skipFill). It returns nil when no essence remains before the next
// partition pack. A structural error ends the iteration in a defined
// state; the error carries the element's offset for logging.
func (p *Partition) NextElement() (*klv.Object, error) {
	if p.bodyLocation < 0 {
		return nil, nil
	}
	p.bodyLocation = p.nextBodyLocation

	f := p.file
	o := klv.NewObject(klv.UL{})
	if err := o.SetSource(f, p.bodyLocation); err != nil {
		return nil, err
	}
	if _, err := o.ReadKL(); err != nil {
		at := p.bodyLocation
		p.bodyLocation = -1
		if errors.Is(err, klv.ErrTruncatedKL) {
			return nil, nil
		}
		return nil, fmt.Errorf("essence element at offset %d: %w", at, err)
	}
	if IsPartitionKey(o.Key()) {
		p.bodyLocation = -1
		return nil, nil
	}

	after := p.bodyLocation + int64(o.KLSize()) + o.Length()
	next, err := p.skipFill(after)
	if err != nil {
		p.bodyLocation = -1
		return nil, err
	}
	p.nextBodyLocation = next
	return o, nil
}

// skipFill steps over a single KLV-Fill item at start. It deliberately
// does not iterate: of a run of consecutive fills only the first is
// consumed, and NextElement returns the next one as an element, matching
// the long-standing limitation of this iteration style.
func (p *Partition) skipFill(start int64) (int64, error) {
	f := p.file
	o := klv.NewObject(klv.UL{})
	if err := o.SetSource(f, start); err != nil {
		return start, err
	}
	if _, err := o.ReadKL(); err != nil {
		if errors.Is(err, klv.ErrTruncatedKL) {
			return start, nil
		}
		return start, err
	}
	if IsPartitionKey(o.Key()) || !IsFillKey(o.Key()) {
		return start, nil
	}
	return start + int64(o.KLSize()) + o.Length(), nil
}

// Write serialises the partition at the file's current position: pack,
// KAG fill, primer, metadata sets, fill, index segments, fill. The primer
// is rebuilt from the universal labels actually used, seeded by the
// current primer so rewritten partitions keep their tag assignments. The
// pack's byte counts and ThisPartition offset are patched before emission,
// so everything is laid out in memory first.
func (p *Partition) Write(f *klv.File) error {
	start, err := f.Tell()
	if err != nil {
		return err
	}
	kag := int64(p.Pack.KAGSize)
	if kag <= 0 {
		kag = 1
	}

	// Lay out the metadata block: sets allocate primer tags as they
	// encode, the primer itself is emitted first.
	primer := NewSeededPrimer(p.Primer)
	var setBlobs [][]byte
	var setKeys []klv.UL
	for _, obj := range p.emissionOrder() {
		blob, err := obj.encodeSet(primer)
		if err != nil {
			return err
		}
		setBlobs = append(setBlobs, blob)
		setKeys = append(setKeys, obj.Key)
	}

	// Fixed 4-byte BER length fields keep every KL a known size, so the
	// layout can be computed before anything is emitted.
	const setLenWidth = 4
	const setKLSize = klv.ULSize + setLenWidth
	var metaLen int64
	havePrimer := len(setBlobs) > 0
	if havePrimer {
		metaLen = int64(setKLSize) + int64(len(primer.Encode()))
		for _, blob := range setBlobs {
			metaLen += int64(setKLSize) + int64(len(blob))
		}
	}

	packValue := p.Pack.encodeValue()
	packKL := int64(setKLSize)
	fill1 := padToKAG(packKL+int64(len(packValue)), kag)
	metaStart := packKL + int64(len(packValue)) + fill1

	var fill2 int64
	if havePrimer {
		fill2 = padToKAG(metaStart+metaLen, kag)
	}

	var indexLen int64
	for _, seg := range p.IndexSegments {
		indexLen += int64(setKLSize) + int64(len(seg.Encode()))
	}
	var fill3 int64
	if indexLen > 0 {
		fill3 = padToKAG(metaStart+metaLen+fill2+indexLen, kag)
	}

	p.Pack.ThisPartition = uint64(start)
	p.Pack.HeaderByteCount = uint64(metaLen + fill2)
	p.Pack.IndexByteCount = uint64(indexLen + fill3)
	packValue = p.Pack.encodeValue()

	// Emission.
	if err := f.WriteUL(p.Pack.key()); err != nil {
		return err
	}
	if _, err := f.WriteBER(int64(len(packValue)), setLenWidth); err != nil {
		return err
	}
	if err := f.Write(packValue); err != nil {
		return err
	}
	if err := writeFill(f, fill1); err != nil {
		return err
	}
	if havePrimer {
		primerValue := primer.Encode()
		if err := f.WriteUL(ULPrimer); err != nil {
			return err
		}
		if _, err := f.WriteBER(int64(len(primerValue)), setLenWidth); err != nil {
			return err
		}
		if err := f.Write(primerValue); err != nil {
			return err
		}
		for i, blob := range setBlobs {
			if err := f.WriteUL(setKeys[i]); err != nil {
				return err
			}
			if _, err := f.WriteBER(int64(len(blob)), setLenWidth); err != nil {
				return err
			}
			if err := f.Write(blob); err != nil {
				return err
			}
		}
		if err := writeFill(f, fill2); err != nil {
			return err
		}
		p.Primer = primer
	}
	for _, seg := range p.IndexSegments {
		value := seg.Encode()
		if err := f.WriteUL(ULIndexSegment); err != nil {
			return err
		}
		if _, err := f.WriteBER(int64(len(value)), setLenWidth); err != nil {
			return err
		}
		if err := f.Write(value); err != nil {
			return err
		}
	}
	if err := writeFill(f, fill3); err != nil {
		return err
	}

	p.file = f
	p.start = start
	p.packEnd = start + packKL + int64(len(packValue))
	return nil
}

// emissionOrder returns the sets in write order: top-level objects sorted
// by type key then InstanceUID, each followed breadth-first by its strong
// children.
func (p *Partition) emissionOrder() []*MDObject {
	roots := append([]*MDObject(nil), p.TopLevelMetadata...)
	if len(roots) == 0 && len(p.AllMetadata) > 0 {
		roots = append(roots, p.AllMetadata...)
	}
	sort.SliceStable(roots, func(i, j int) bool {
		if c := compareUL(roots[i].Key, roots[j].Key); c != 0 {
			return c < 0
		}
		a, _ := roots[i].InstanceUID()
		b, _ := roots[j].InstanceUID()
		return compareUUID(a, b) < 0
	})

	var order []*MDObject
	seen := make(map[*MDObject]bool)
	queue := roots
	for len(queue) > 0 {
		obj := queue[0]
		queue = queue[1:]
		if seen[obj] {
			continue
		}
		seen[obj] = true
		order = append(order, obj)
		queue = append(queue, obj.StrongChildren()...)
	}
	return order
}

func compareUL(a, b klv.UL) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func compareUUID(a, b UUID) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// padToKAG returns the fill bytes needed to bring rel (an offset relative
// to the partition start) onto the next grid line. A gap too small to hold
// a KLV-Fill item grows by whole grid units until one fits.
func padToKAG(rel, kag int64) int64 {
	if kag <= 1 {
		return 0
	}
	pad := (kag - rel%kag) % kag
	if pad == 0 {
		return 0
	}
	for pad < minFillSize {
		pad += kag
	}
	return pad
}

// writeFill emits a KLV-Fill item of exactly pad total bytes (key, length,
// zero value), choosing the BER width that makes the arithmetic come out.
func writeFill(f *klv.File, pad int64) error {
	if pad == 0 {
		return nil
	}
	if pad < minFillSize {
		return fmt.Errorf("%w: cannot encode %d-byte fill", klv.ErrLengthOverflow, pad)
	}
	for width := 1; width <= 9; width++ {
		valueLen := pad - klv.ULSize - int64(width)
		if valueLen < 0 {
			break
		}
		if !berFits(valueLen, width) {
			continue
		}
		if err := f.WriteUL(ULFill); err != nil {
			return err
		}
		if _, err := f.WriteBER(valueLen, width); err != nil {
			return err
		}
		return f.WriteZeros(valueLen)
	}
	return fmt.Errorf("%w: cannot encode %d-byte fill", klv.ErrLengthOverflow, pad)
}

func berFits(length int64, width int) bool {
	if width == 1 {
		return length < 0x80
	}
	n := width - 1
	if n >= 8 {
		return true
	}
	return uint64(length) < uint64(1)<<(8*n)
}
