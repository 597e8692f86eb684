package mxf

import (
	"bytes"
	"testing"

	"github.com/samcharles93/mxfkit/pkg/klv"
)

func TestPrimerSerialisation(t *testing.T) {
	t.Parallel()

	ulA := klv.MustUL("060e2b34.01010102.04010101.01010101")
	ulB := klv.MustUL("060e2b34.01010102.04010101.01010102")

	p := NewPrimer()
	if err := p.Add(0x0001, ulA); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := p.Add(0x0002, ulB); err != nil {
		t.Fatalf("add: %v", err)
	}

	value := p.Encode()
	want := []byte{
		0x00, 0x00, 0x00, 0x02, // count
		0x00, 0x00, 0x00, 0x12, // element size 18
		0x00, 0x01,
	}
	want = append(want, ulA[:]...)
	want = append(want, 0x00, 0x02)
	want = append(want, ulB[:]...)
	if !bytes.Equal(value, want) {
		t.Fatalf("encoding mismatch:\n got % x\nwant % x", value, want)
	}
}

func TestPrimerRoundTrip(t *testing.T) {
	t.Parallel()

	p := NewPrimer()
	uls := make([]klv.UL, 40)
	for i := range uls {
		ul := klv.MustUL("060e2b34.01010102.03010210.01000000")
		ul[12] = byte(i + 1)
		uls[i] = ul
		if _, err := p.AssignTag(ul, 0); err != nil {
			t.Fatalf("assign %d: %v", i, err)
		}
	}

	back, err := ParsePrimer(p.Encode())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if back.Len() != p.Len() {
		t.Fatalf("entry count: got %d want %d", back.Len(), p.Len())
	}
	for _, ul := range uls {
		wantTag, _ := p.TagForUL(ul)
		gotTag, ok := back.TagForUL(ul)
		if !ok || gotTag != wantTag {
			t.Fatalf("tag for %s: got (0x%04x, %v) want 0x%04x", ul, gotTag, ok, wantTag)
		}
		gotUL, ok := back.ULForTag(wantTag)
		if !ok || gotUL != ul {
			t.Fatalf("UL for 0x%04x: got (%s, %v)", wantTag, gotUL, ok)
		}
	}
}

func TestPrimerDynamicAllocation(t *testing.T) {
	t.Parallel()

	p := NewPrimer()
	a := klv.MustUL("060e2b34.01010101.01011502.00000000")
	b := klv.MustUL("060e2b34.01010101.01011502.00000001")
	c := klv.MustUL("060e2b34.01010101.01011502.00000002")

	tag, err := p.AssignTag(a, 0)
	if err != nil || tag != 0x0001 {
		t.Fatalf("first dynamic tag: (0x%04x, %v)", tag, err)
	}
	// A static tag is honoured when free.
	tag, err = p.AssignTag(b, 0x3c0a)
	if err != nil || tag != 0x3c0a {
		t.Fatalf("static tag: (0x%04x, %v)", tag, err)
	}
	// Re-assigning the same UL returns the existing tag.
	tag, err = p.AssignTag(a, 0)
	if err != nil || tag != 0x0001 {
		t.Fatalf("reassign: (0x%04x, %v)", tag, err)
	}
	tag, err = p.AssignTag(c, 0)
	if err != nil || tag != 0x0002 {
		t.Fatalf("second dynamic tag: (0x%04x, %v)", tag, err)
	}
}

func TestPrimerSeededAllocation(t *testing.T) {
	t.Parallel()

	seedA := klv.MustUL("060e2b34.01010101.01011502.00000000")
	seed := NewPrimer()
	if err := seed.Add(0x0001, seedA); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := seed.Add(0x0002, klv.MustUL("060e2b34.01010101.01011502.00000001")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	p := NewSeededPrimer(seed)
	// A UL the seed knew keeps its tag.
	tag, err := p.AssignTag(seedA, 0)
	if err != nil || tag != 0x0001 {
		t.Fatalf("seed reuse: (0x%04x, %v)", tag, err)
	}
	// A new UL skips tags the seed used, even unclaimed ones.
	tag, err = p.AssignTag(klv.MustUL("060e2b34.01010101.01011502.00000009"), 0)
	if err != nil || tag != 0x0003 {
		t.Fatalf("seed skip: (0x%04x, %v) want 0x0003", tag, err)
	}
}

func TestPrimerBijectivity(t *testing.T) {
	t.Parallel()

	a := klv.MustUL("060e2b34.01010101.01011502.00000000")
	b := klv.MustUL("060e2b34.01010101.01011502.00000001")
	p := NewPrimer()
	if err := p.Add(0x0001, a); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := p.Add(0x0001, b); err == nil {
		t.Fatalf("tag reuse for a different UL must fail")
	}
	if err := p.Add(0x0002, a); err == nil {
		t.Fatalf("second tag for the same UL must fail")
	}

	// Malformed element size is rejected.
	bad := []byte{0, 0, 0, 1, 0, 0, 0, 17}
	bad = append(bad, make([]byte, 17)...)
	if _, err := ParsePrimer(bad); err == nil {
		t.Fatalf("element size 17 must fail")
	}
}
