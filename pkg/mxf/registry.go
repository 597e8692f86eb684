package mxf

import "github.com/samcharles93/mxfkit/pkg/klv"

// Kind is the declared wire type of a metadata property.
type Kind uint8

const (
	// KindRaw keeps the payload as undecoded bytes.
	KindRaw Kind = iota
	KindUInt8
	KindUInt16
	KindUInt32
	KindUInt64
	// KindISO7 is a single-byte string, trailing NULs trimmed.
	KindISO7
	// KindUTF16 is a big-endian UTF-16 string.
	KindUTF16
	KindUL
	KindUUID
	KindTimestamp
	KindRational
	// KindBatch is a counted array: two 4-byte big-endian headers (count,
	// element size) followed by elements of ElemKind.
	KindBatch
	// KindStrongRef is a 16-byte UUID naming an owned child set.
	KindStrongRef
	// KindWeakRef is a 16-byte UUID naming an unowned peer set.
	KindWeakRef
)

func (k Kind) String() string {
	switch k {
	case KindRaw:
		return "raw"
	case KindUInt8:
		return "u8"
	case KindUInt16:
		return "u16"
	case KindUInt32:
		return "u32"
	case KindUInt64:
		return "u64"
	case KindISO7:
		return "iso7"
	case KindUTF16:
		return "utf16"
	case KindUL:
		return "ul"
	case KindUUID:
		return "uuid"
	case KindTimestamp:
		return "timestamp"
	case KindRational:
		return "rational"
	case KindBatch:
		return "batch"
	case KindStrongRef:
		return "strongref"
	case KindWeakRef:
		return "weakref"
	}
	return "kind?"
}

// IsRef reports whether the kind carries a reference UUID.
func (k Kind) IsRef() bool {
	return k == KindStrongRef || k == KindWeakRef
}

// fixedSize returns the wire size of fixed-width kinds, or 0 for
// variable-width ones.
func (k Kind) fixedSize() int {
	switch k {
	case KindUInt8:
		return 1
	case KindUInt16:
		return 2
	case KindUInt32:
		return 4
	case KindUInt64, KindTimestamp, KindRational:
		return 8
	case KindUL, KindUUID, KindStrongRef, KindWeakRef:
		return 16
	}
	return 0
}

// PropertyDescriptor declares one property of a metadata set type.
type PropertyDescriptor struct {
	Name string
	Key  klv.UL
	Kind Kind
	// ElemKind is the element type when Kind is KindBatch.
	ElemKind Kind
	// StaticTag is the format-assigned local tag, or 0 when the tag is
	// allocated dynamically by the primer.
	StaticTag uint16
}

// TypeDescriptor declares a metadata set type: its key and its properties
// in serialisation order.
type TypeDescriptor struct {
	Name       string
	Key        klv.UL
	Properties []*PropertyDescriptor
}

// PropertyByKey finds a property descriptor under the family mask.
func (t *TypeDescriptor) PropertyByKey(ul klv.UL, mask klv.ULMask) *PropertyDescriptor {
	for _, p := range t.Properties {
		if p.Key.Matches(ul, mask) {
			return p
		}
	}
	return nil
}

// PropertyByName finds a property descriptor by name.
func (t *TypeDescriptor) PropertyByName(name string) *PropertyDescriptor {
	for _, p := range t.Properties {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// Registry is the read-only type dictionary the metadata layer parses
// against. It is supplied externally; internal/registry carries the
// baseline implementation and dictionary loader.
type Registry interface {
	// LookupUL resolves a set key to its type descriptor, applying the
	// family mask for the key's UL family.
	LookupUL(ul klv.UL) (*TypeDescriptor, bool)
	// LookupName resolves a set type by name.
	LookupName(name string) (*TypeDescriptor, bool)
	// FamilyMask returns the comparison mask for the key's UL family.
	// Property keys inside a set are matched under the mask returned here;
	// the label predicates use klv.MaskIgnoreVersion directly. Exact
	// matching is the zero-mask case.
	FamilyMask(ul klv.UL) klv.ULMask
}
