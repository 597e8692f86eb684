package mxf

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/samcharles93/mxfkit/internal/logger"
	"github.com/samcharles93/mxfkit/pkg/klv"
)

// buildParentChild returns a parent set strongly referencing one child,
// with a spread of scalar properties.
func buildParentChild(t *testing.T) (*MDObject, *MDObject) {
	t.Helper()
	parent := NewMDObject(parentType)
	child := NewMDObject(childType)
	if err := parent.SetProperty("Label", "Café \U0001f3ac"); err != nil {
		t.Fatalf("set label: %v", err)
	}
	if err := parent.SetProperty("Count", uint32(42)); err != nil {
		t.Fatalf("set count: %v", err)
	}
	if err := parent.SetProperty("Modified", Timestamp{Year: 2026, Month: 8, Day: 6, Hour: 12, Minute: 30, Second: 15, Quarter: 125}); err != nil {
		t.Fatalf("set modified: %v", err)
	}
	if err := parent.SetProperty("Items", []any{uint32(7), uint32(9), uint32(11)}); err != nil {
		t.Fatalf("set items: %v", err)
	}
	if err := child.SetProperty("Name", "clip-1"); err != nil {
		t.Fatalf("set name: %v", err)
	}
	if err := parent.SetStrongRef("Child", child); err != nil {
		t.Fatalf("set child ref: %v", err)
	}
	return parent, child
}

// writePartitionWith writes a header partition carrying the given top-level
// objects and returns the backing file.
func writePartitionWith(t *testing.T, kag uint32, objs ...*MDObject) *klv.File {
	t.Helper()
	f := openTemp(t, "meta.mxf")
	p := NewPartition(KindHeader, testReg(), logger.Discard())
	p.Pack.KAGSize = kag
	for _, o := range objs {
		p.AddMetadata(o)
	}
	if err := p.Write(f); err != nil {
		t.Fatalf("write partition: %v", err)
	}
	return f
}

// readBack parses the partition just written to f.
func readBack(t *testing.T, f *klv.File, log logger.Logger) (*Partition, error) {
	t.Helper()
	if log == nil {
		log = logger.Discard()
	}
	o := klv.NewObject(klv.UL{})
	if err := o.SetSource(f, 0); err != nil {
		t.Fatalf("set source: %v", err)
	}
	if _, err := o.ReadKL(); err != nil {
		t.Fatalf("read pack KL: %v", err)
	}
	if _, err := o.ReadData(klv.AllAvailable); err != nil {
		t.Fatalf("read pack value: %v", err)
	}
	pack, err := decodePartitionPack(o.Key(), o.Data)
	if err != nil {
		t.Fatalf("decode pack: %v", err)
	}
	p := NewPartition(pack.Kind, testReg(), log)
	p.Pack = *pack
	p.file = f
	p.start = 0
	p.packEnd = int64(o.KLSize()) + o.Length()
	return p, p.ReadMetadata(f, 0)
}

func TestStrongRefRoundTrip(t *testing.T) {
	t.Parallel()

	parent, _ := buildParentChild(t)
	f := writePartitionWith(t, 1, parent)

	p, err := readBack(t, f, nil)
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	if len(p.AllMetadata) != 2 {
		t.Fatalf("AllMetadata: %d sets", len(p.AllMetadata))
	}
	if len(p.TopLevelMetadata) != 1 || p.TopLevelMetadata[0].Name() != "Parent" {
		t.Fatalf("TopLevelMetadata wrong: %v", p.TopLevelMetadata)
	}
	gotParent := p.TopLevelMetadata[0]

	refAny, ok := gotParent.Property("Child")
	if !ok {
		t.Fatalf("child ref missing")
	}
	ref := refAny.(*Ref)
	if !ref.Strong || ref.Object == nil {
		t.Fatalf("child ref unresolved: %+v", ref)
	}
	gotChild := ref.Object
	if p.FindLinkParent(gotChild) != gotParent {
		t.Fatalf("FindLinkParent broken")
	}
	if name, _ := gotChild.Property("Name"); name != "clip-1" {
		t.Fatalf("child name: %v", name)
	}

	// Scalars survive the trip.
	if v, _ := gotParent.Property("Label"); v != "Café \U0001f3ac" {
		t.Fatalf("label: %v", v)
	}
	if v, _ := gotParent.Property("Count"); v != uint32(42) {
		t.Fatalf("count: %v", v)
	}
	if v, _ := gotParent.Property("Modified"); v != (Timestamp{Year: 2026, Month: 8, Day: 6, Hour: 12, Minute: 30, Second: 15, Quarter: 125}) {
		t.Fatalf("modified: %v", v)
	}
	items, _ := gotParent.Property("Items")
	elems := items.([]any)
	if len(elems) != 3 || elems[0] != uint32(7) || elems[2] != uint32(11) {
		t.Fatalf("items: %v", items)
	}

	// Reference tables are consistent after finalisation.
	if len(p.UnmatchedRefs()) != 0 {
		t.Fatalf("unmatched refs: %v", p.UnmatchedRefs())
	}
	childUID, _ := gotChild.InstanceUID()
	if p.RefTargets()[childUID] != gotChild {
		t.Fatalf("RefTargets missing child")
	}
}

func TestForwardReferenceResolves(t *testing.T) {
	t.Parallel()

	// The writer emits the parent before the child (breadth-first), so on
	// the read side the strong reference is seen before its target: the
	// deferred queue must drain when the child's InstanceUID registers.
	parent, child := buildParentChild(t)
	f := writePartitionWith(t, 1, parent)

	p, err := readBack(t, f, nil)
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	wantUID, _ := child.InstanceUID()
	if _, ok := p.RefTargets()[wantUID]; !ok {
		t.Fatalf("child UUID not in RefTargets")
	}
	if len(p.UnmatchedRefs()) != 0 {
		t.Fatalf("forward reference did not drain: %v", p.UnmatchedRefs())
	}
}

func TestDanglingWeakRefWarns(t *testing.T) {
	t.Parallel()

	parent, _ := buildParentChild(t)
	ghost := NewUUID()
	if err := parent.SetProperty("Peer", &Ref{Target: ghost, Strong: false}); err != nil {
		t.Fatalf("set peer: %v", err)
	}
	f := writePartitionWith(t, 1, parent)

	collect := logger.NewCollector()
	p, err := readBack(t, f, collect)
	if err != nil {
		t.Fatalf("dangling weak ref must not fail the load: %v", err)
	}
	found := false
	for _, w := range collect.Warnings() {
		if strings.Contains(w, "dangling weak reference") {
			found = true
		}
	}
	if !found {
		t.Fatalf("no warning recorded: %v", collect.Warnings())
	}
	// The unmatched entry survives, UUID-only.
	if len(p.UnmatchedRefs()) != 1 || p.UnmatchedRefs()[0].Target != ghost {
		t.Fatalf("unmatched: %v", p.UnmatchedRefs())
	}
	if _, ok := p.RefTargets()[ghost]; ok {
		t.Fatalf("ghost UUID must not be a target")
	}
}

func TestDanglingStrongRefFails(t *testing.T) {
	t.Parallel()

	parent := NewMDObject(parentType)
	if err := parent.SetProperty("Child", &Ref{Target: NewUUID(), Strong: true}); err != nil {
		t.Fatalf("set child: %v", err)
	}
	f := writePartitionWith(t, 1, parent)

	_, err := readBack(t, f, nil)
	if !errors.Is(err, ErrDanglingStrongRef) {
		t.Fatalf("want ErrDanglingStrongRef, got %v", err)
	}
}

func TestUnknownSetKeptOpaque(t *testing.T) {
	t.Parallel()

	// A set key the registry does not know: structurally valid, parsed to
	// an opaque object with its value preserved.
	mystery := klv.MustUL("060e2b34.02530101.0d010101.0101fe00")
	raw := []byte{0x99, 0x99, 0x00, 0x02, 0xab, 0xcd}

	f := openTemp(t, "opaque.mxf")
	p := NewPartition(KindHeader, testReg(), logger.Discard())
	parent, _ := buildParentChild(t)
	p.AddMetadata(parent)
	p.AddMetadata(&MDObject{Key: mystery, Raw: raw})
	if err := p.Write(f); err != nil {
		t.Fatalf("write: %v", err)
	}

	collect := logger.NewCollector()
	back, err := readBack(t, f, collect)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var opaque *MDObject
	for _, o := range back.AllMetadata {
		if o.Type == nil {
			opaque = o
		}
	}
	if opaque == nil {
		t.Fatalf("opaque set lost")
	}
	if !opaque.Key.Matches(mystery, klv.MaskIgnoreVersion) || !bytes.Equal(opaque.Raw, raw) {
		t.Fatalf("opaque set damaged: key=%s raw=% x", opaque.Key, opaque.Raw)
	}
	found := false
	for _, w := range collect.Warnings() {
		if strings.Contains(w, "unknown metadata set") {
			found = true
		}
	}
	if !found {
		t.Fatalf("no unknown-set warning: %v", collect.Warnings())
	}
}

func TestUnknownTagKeptRaw(t *testing.T) {
	t.Parallel()

	parent, _ := buildParentChild(t)
	// A property no descriptor and no primer entry will explain.
	parent.Properties = append(parent.Properties, Property{Tag: 0x9999, Value: []byte{0xde, 0xad}})
	f := writePartitionWith(t, 1, parent)

	collect := logger.NewCollector()
	back, err := readBack(t, f, collect)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	gotParent := back.TopLevelMetadata[0]
	var rawProp *Property
	for i := range gotParent.Properties {
		if gotParent.Properties[i].Tag == 0x9999 {
			rawProp = &gotParent.Properties[i]
		}
	}
	if rawProp == nil || rawProp.Desc != nil {
		t.Fatalf("unknown tag property lost: %+v", rawProp)
	}
	if !bytes.Equal(rawProp.Value.([]byte), []byte{0xde, 0xad}) {
		t.Fatalf("raw payload damaged: %v", rawProp.Value)
	}
	found := false
	for _, w := range collect.Warnings() {
		if strings.Contains(w, "unknown local tag") {
			found = true
		}
	}
	if !found {
		t.Fatalf("no unknown-tag warning: %v", collect.Warnings())
	}
}

func TestTopLevelComputation(t *testing.T) {
	t.Parallel()

	// Two independent trees plus one shared weak edge: top level is
	// exactly the set complement of strong-ref targets.
	parentA, _ := buildParentChild(t)
	parentB, childB := buildParentChild(t)
	if err := parentA.SetWeakRef("Peer", childB); err != nil {
		t.Fatalf("set weak: %v", err)
	}
	f := writePartitionWith(t, 1, parentA, parentB)

	p, err := readBack(t, f, nil)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(p.AllMetadata) != 4 {
		t.Fatalf("AllMetadata: %d", len(p.AllMetadata))
	}
	if len(p.TopLevelMetadata) != 2 {
		t.Fatalf("TopLevelMetadata: %d", len(p.TopLevelMetadata))
	}
	for _, o := range p.TopLevelMetadata {
		if o.Name() != "Parent" {
			t.Fatalf("non-parent at top level: %s", o.Name())
		}
	}
}
