package mxf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/samcharles93/mxfkit/pkg/klv"
)

// testRegistry is a minimal in-package Registry so the tests do not depend
// on the dictionary implementation.
type testRegistry struct {
	byKey  map[klv.UL]*TypeDescriptor
	byName map[string]*TypeDescriptor
}

func newTestRegistry(tds ...*TypeDescriptor) *testRegistry {
	r := &testRegistry{
		byKey:  make(map[klv.UL]*TypeDescriptor),
		byName: make(map[string]*TypeDescriptor),
	}
	for _, td := range tds {
		key := td.Key
		key[7] = 0
		r.byKey[key] = td
		r.byName[td.Name] = td
	}
	return r
}

func (r *testRegistry) LookupUL(ul klv.UL) (*TypeDescriptor, bool) {
	ul[7] = 0
	td, ok := r.byKey[ul]
	return td, ok
}

func (r *testRegistry) LookupName(name string) (*TypeDescriptor, bool) {
	td, ok := r.byName[name]
	return td, ok
}

func (r *testRegistry) FamilyMask(ul klv.UL) klv.ULMask {
	if ul.IsSMPTE() {
		return klv.MaskIgnoreVersion
	}
	return klv.MaskExact
}

var (
	parentKey = klv.MustUL("060e2b34.02530101.0d010101.01017a00")
	childKey  = klv.MustUL("060e2b34.02530101.0d010101.01017b00")

	instanceUIDDesc = &PropertyDescriptor{
		Name: "InstanceUID", Key: ULInstanceUID, Kind: KindUUID, StaticTag: 0x3c0a,
	}
	parentType = &TypeDescriptor{
		Name: "Parent",
		Key:  parentKey,
		Properties: []*PropertyDescriptor{
			instanceUIDDesc,
			{Name: "Label", Key: klv.MustUL("060e2b34.01010102.01030302.05000000"), Kind: KindUTF16},
			{Name: "Count", Key: klv.MustUL("060e2b34.01010102.01040103.05000000"), Kind: KindUInt32},
			{Name: "Modified", Key: klv.MustUL("060e2b34.01010102.07020110.02090000"), Kind: KindTimestamp},
			{Name: "Items", Key: klv.MustUL("060e2b34.01010102.01020210.05010000"), Kind: KindBatch, ElemKind: KindUInt32},
			{Name: "Child", Key: klv.MustUL("060e2b34.01010102.06010104.02090000"), Kind: KindStrongRef},
			{Name: "Peer", Key: klv.MustUL("060e2b34.01010102.06010103.05000000"), Kind: KindWeakRef},
		},
	}
	childType = &TypeDescriptor{
		Name: "Child",
		Key:  childKey,
		Properties: []*PropertyDescriptor{
			instanceUIDDesc,
			{Name: "Name", Key: klv.MustUL("060e2b34.01010102.01030302.06000000"), Kind: KindISO7},
		},
	}
)

func testReg() *testRegistry {
	return newTestRegistry(parentType, childType)
}

// openTemp creates an empty read-write temp file wrapped as a klv.File.
func openTemp(t *testing.T, name string) *klv.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return klv.NewFile(f, path)
}

// essenceKey is a generic-container element key: not in the groups
// registry, so never mistaken for header metadata.
var essenceKey = klv.MustUL("060e2b34.01020101.0d010301.15010500")

// writeEssence appends one essence KLV at the file's current position.
func writeEssence(t *testing.T, f *klv.File, value []byte) {
	t.Helper()
	if err := f.WriteUL(essenceKey); err != nil {
		t.Fatalf("essence key: %v", err)
	}
	if _, err := f.WriteBER(int64(len(value)), 0); err != nil {
		t.Fatalf("essence length: %v", err)
	}
	if err := f.Write(value); err != nil {
		t.Fatalf("essence value: %v", err)
	}
}

// writeRawFill appends a fill item of exactly total bytes.
func writeRawFill(t *testing.T, f *klv.File, total int64) {
	t.Helper()
	if err := writeFill(f, total); err != nil {
		t.Fatalf("fill: %v", err)
	}
}
