package mxf

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/samcharles93/mxfkit/pkg/klv"
)

// primerRecordSize is tag (2) plus UL (16).
const primerRecordSize = 18

// Primer is the per-partition bijective map between 2-byte local tags and
// full universal labels. It is rewritten on every write; tag allocation is
// deterministic so a rewritten partition keeps its key assignments.
type Primer struct {
	byTag map[uint16]klv.UL
	byUL  map[klv.UL]uint16
	// seed, when set, is consulted so rewrites keep prior assignments.
	seed *Primer
	// seedUsed marks tags claimed by the seed primer; dynamic allocation
	// skips them even when the seed entry itself was not carried over.
	seedUsed map[uint16]bool
	nextTag  uint16
}

// NewPrimer returns an empty primer. Dynamic tags start at 0x0001.
func NewPrimer() *Primer {
	return &Primer{
		byTag:    make(map[uint16]klv.UL),
		byUL:     make(map[klv.UL]uint16),
		seedUsed: make(map[uint16]bool),
		nextTag:  0x0001,
	}
}

// NewSeededPrimer returns an empty primer whose dynamic allocation skips
// every tag used by seed, and which reuses the seed's tag when asked to
// assign a UL the seed already knew. Passing nil is the same as NewPrimer.
func NewSeededPrimer(seed *Primer) *Primer {
	p := NewPrimer()
	if seed == nil {
		return p
	}
	for tag := range seed.byTag {
		p.seedUsed[tag] = true
	}
	p.seed = seed
	return p
}

// ULForTag resolves a local tag.
func (p *Primer) ULForTag(tag uint16) (klv.UL, bool) {
	ul, ok := p.byTag[tag]
	return ul, ok
}

// TagForUL resolves a UL without creating an assignment.
func (p *Primer) TagForUL(ul klv.UL) (uint16, bool) {
	tag, ok := p.byUL[ul]
	return tag, ok
}

// AssignTag returns the local tag for ul, creating one if needed.
// Preference order: an existing assignment, the seed primer's assignment,
// the format's static tag when free, then the lowest free dynamic tag
// counting up from 0x0001.
func (p *Primer) AssignTag(ul klv.UL, staticTag uint16) (uint16, error) {
	if tag, ok := p.byUL[ul]; ok {
		return tag, nil
	}
	if p.seed != nil {
		if tag, ok := p.seed.byUL[ul]; ok {
			if _, taken := p.byTag[tag]; !taken {
				p.insert(tag, ul)
				return tag, nil
			}
		}
	}
	if staticTag != 0 {
		if _, taken := p.byTag[staticTag]; !taken {
			p.insert(staticTag, ul)
			return staticTag, nil
		}
	}
	for {
		tag := p.nextTag
		if tag == 0 {
			return 0, fmt.Errorf("%w: local tag space exhausted", ErrBadPrimer)
		}
		p.nextTag++
		if p.seedUsed[tag] {
			continue
		}
		if _, taken := p.byTag[tag]; taken {
			continue
		}
		p.insert(tag, ul)
		return tag, nil
	}
}

// Add installs an explicit tag↔UL pair, failing on either side of a
// bijectivity clash.
func (p *Primer) Add(tag uint16, ul klv.UL) error {
	if prev, ok := p.byTag[tag]; ok && prev != ul {
		return fmt.Errorf("%w: tag 0x%04x maps to both %s and %s", ErrBadPrimer, tag, prev, ul)
	}
	if prev, ok := p.byUL[ul]; ok && prev != tag {
		return fmt.Errorf("%w: %s carries both tag 0x%04x and 0x%04x", ErrBadPrimer, ul, prev, tag)
	}
	p.insert(tag, ul)
	return nil
}

func (p *Primer) insert(tag uint16, ul klv.UL) {
	p.byTag[tag] = ul
	p.byUL[ul] = tag
}

// Len returns the number of assignments.
func (p *Primer) Len() int { return len(p.byTag) }

// Tags returns the assigned tags in ascending order.
func (p *Primer) Tags() []uint16 {
	tags := make([]uint16, 0, len(p.byTag))
	for tag := range p.byTag {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

// Encode serialises the primer value: a batch of (tag, UL) records in tag
// order.
func (p *Primer) Encode() []byte {
	tags := p.Tags()
	out := make([]byte, 0, 8+len(tags)*primerRecordSize)
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(tags)))
	binary.BigEndian.PutUint32(hdr[4:], primerRecordSize)
	out = append(out, hdr[:]...)
	for _, tag := range tags {
		ul := p.byTag[tag]
		var rec [primerRecordSize]byte
		binary.BigEndian.PutUint16(rec[:], tag)
		copy(rec[2:], ul[:])
		out = append(out, rec[:]...)
	}
	return out
}

// WriteTo emits the primer as a KLV set at the file's current position and
// returns the bytes written.
func (p *Primer) WriteTo(f *klv.File) (int64, error) {
	value := p.Encode()
	if err := f.WriteUL(ULPrimer); err != nil {
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

// ParsePrimer decodes a primer pack value.
func ParsePrimer(value []byte) (*Primer, error) {
	if len(value) < 8 {
		return nil, fmt.Errorf("%w: %d-byte value", ErrBadPrimer, len(value))
	}
	count := binary.BigEndian.Uint32(value)
	elemSize := binary.BigEndian.Uint32(value[4:])
	if elemSize != primerRecordSize {
		return nil, fmt.Errorf("%w: element size %d, want %d", ErrBadPrimer, elemSize, primerRecordSize)
	}
	need := 8 + int(count)*primerRecordSize
	if len(value) < need {
		return nil, fmt.Errorf("%w: %d records need %d bytes, have %d", ErrBadPrimer, count, need, len(value))
	}
	p := NewPrimer()
	for i := 0; i < int(count); i++ {
		rec := value[8+i*primerRecordSize:]
		tag := binary.BigEndian.Uint16(rec)
		var ul klv.UL
		copy(ul[:], rec[2:primerRecordSize])
		if err := p.Add(tag, ul); err != nil {
			return nil, err
		}
	}
	return p, nil
}
