package mxf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf16"

	"github.com/samcharles93/mxfkit/internal/logger"
	"github.com/samcharles93/mxfkit/pkg/klv"
)

// Ref is a UUID-valued edge between metadata objects. Object is filled by
// the resolver once the target's InstanceUID has been seen; for a dangling
// weak reference it stays nil and Target is all the information there is.
// The pointer never extends the target's lifetime: the partition owns all
// of its objects.
type Ref struct {
	Target UUID
	Strong bool
	Object *MDObject
}

// Property is one decoded (or deliberately undecoded) item of a metadata
// set.
type Property struct {
	// Desc is nil for properties the registry does not know.
	Desc *PropertyDescriptor
	// Tag is the local tag the property was read with (0 for UL keys).
	Tag uint16
	// Key is the property's universal label; zero when the local tag had
	// no primer mapping.
	Key klv.UL
	// Value holds the decoded value: an unsigned integer, string, klv.UL,
	// UUID, Timestamp, Rational, *Ref, []any for batches, or []byte for
	// raw payloads.
	Value any
}

// MDObject is a typed node in a partition's header metadata graph.
//
// Strong references form a forest whose roots are the partition's top-level
// objects; weak references add arbitrary extra edges and may be cyclic with
// the strong ones.
type MDObject struct {
	// Type is nil when the set key was not in the registry; Raw then
	// carries the whole undecoded value so the set survives a rewrite.
	Type *TypeDescriptor
	Key  klv.UL
	Raw  []byte

	Properties []Property

	uid        UUID
	linkParent *MDObject
}

// NewMDObject returns an empty set of the given type with a fresh
// InstanceUID.
func NewMDObject(td *TypeDescriptor) *MDObject {
	o := &MDObject{Type: td, Key: td.Key}
	o.SetInstanceUID(NewUUID())
	return o
}

// Name returns the type name, or the key when the type is unknown.
func (o *MDObject) Name() string {
	if o.Type != nil {
		return o.Type.Name
	}
	return o.Key.String()
}

// InstanceUID returns the object's identity; ok is false when the object
// carries none.
func (o *MDObject) InstanceUID() (UUID, bool) {
	return o.uid, !o.uid.IsZero()
}

// SetInstanceUID installs or replaces the identity property.
func (o *MDObject) SetInstanceUID(id UUID) {
	o.uid = id
	for i := range o.Properties {
		if o.Properties[i].Key.Matches(ULInstanceUID, klv.MaskIgnoreVersion) {
			o.Properties[i].Value = id
			return
		}
	}
	var pd *PropertyDescriptor
	if o.Type != nil {
		pd = o.Type.PropertyByKey(ULInstanceUID, klv.MaskIgnoreVersion)
	}
	o.Properties = append([]Property{{Desc: pd, Key: ULInstanceUID, Value: id}}, o.Properties...)
}

// LinkParent returns the object holding a strong reference to this one, or
// nil for a top-level object.
func (o *MDObject) LinkParent() *MDObject {
	return o.linkParent
}

// Property returns the decoded value of a named property.
func (o *MDObject) Property(name string) (any, bool) {
	for i := range o.Properties {
		if o.Properties[i].Desc != nil && o.Properties[i].Desc.Name == name {
			return o.Properties[i].Value, true
		}
	}
	return nil, false
}

// SetProperty installs a property by descriptor name, replacing any
// existing value.
func (o *MDObject) SetProperty(name string, value any) error {
	if o.Type == nil {
		return fmt.Errorf("%w: cannot set %q on untyped set %s", ErrBadSet, name, o.Key)
	}
	pd := o.Type.PropertyByName(name)
	if pd == nil {
		return fmt.Errorf("%w: type %s has no property %q", ErrUnknownUL, o.Type.Name, name)
	}
	if pd.Key.Matches(ULInstanceUID, klv.MaskIgnoreVersion) {
		id, ok := value.(UUID)
		if !ok {
			return fmt.Errorf("%w: InstanceUID must be a UUID", ErrBadSet)
		}
		o.SetInstanceUID(id)
		return nil
	}
	for i := range o.Properties {
		if o.Properties[i].Desc == pd {
			o.Properties[i].Value = value
			return nil
		}
	}
	o.Properties = append(o.Properties, Property{Desc: pd, Key: pd.Key, Value: value})
	return nil
}

// SetStrongRef installs a strong reference property pointing at child,
// assigning the child an InstanceUID if it has none.
func (o *MDObject) SetStrongRef(name string, child *MDObject) error {
	id, ok := child.InstanceUID()
	if !ok {
		id = NewUUID()
		child.SetInstanceUID(id)
	}
	child.linkParent = o
	return o.SetProperty(name, &Ref{Target: id, Strong: true, Object: child})
}

// SetWeakRef installs a weak reference property pointing at peer.
func (o *MDObject) SetWeakRef(name string, peer *MDObject) error {
	id, ok := peer.InstanceUID()
	if !ok {
		id = NewUUID()
		peer.SetInstanceUID(id)
	}
	return o.SetProperty(name, &Ref{Target: id, Strong: false, Object: peer})
}

// StrongChildren returns the resolved targets of every strong reference,
// in property order with batch elements in element order.
func (o *MDObject) StrongChildren() []*MDObject {
	var out []*MDObject
	for i := range o.Properties {
		switch v := o.Properties[i].Value.(type) {
		case *Ref:
			if v.Strong && v.Object != nil {
				out = append(out, v.Object)
			}
		case []any:
			for _, e := range v {
				if r, ok := e.(*Ref); ok && r.Strong && r.Object != nil {
					out = append(out, r.Object)
				}
			}
		}
	}
	return out
}

// parseSet decodes one header metadata set value against the registry and
// primer, registering reference edges and the InstanceUID with the
// resolver. Unknown set keys come back as opaque objects with a warning;
// unknown tags and properties are preserved raw with a warning.
func parseSet(key klv.UL, value []byte, primer *Primer, reg Registry, res *resolver, log logger.Logger, kf klv.KeyFormat) (*MDObject, error) {
	td, known := reg.LookupUL(key)
	if !known {
		log.Warn("unknown metadata set key, kept opaque", "key", key.String())
		raw := append([]byte(nil), value...)
		return &MDObject{Key: key, Raw: raw}, nil
	}
	obj := &MDObject{Type: td, Key: key}

	if kf == klv.KeyFormatAuto {
		kf = sniffKeyFormat(value)
	}

	for len(value) > 0 {
		var itemKey klv.UL
		var tag uint16
		var haveUL bool

		switch kf {
		case klv.KeyFormatUL:
			if len(value) < klv.ULSize+2 {
				return nil, fmt.Errorf("%w: %d trailing bytes in %s", ErrBadSet, len(value), td.Name)
			}
			copy(itemKey[:], value)
			value = value[klv.ULSize:]
			haveUL = true
		case klv.KeyFormat1:
			if len(value) < 1+2 {
				return nil, fmt.Errorf("%w: %d trailing bytes in %s", ErrBadSet, len(value), td.Name)
			}
			tag = uint16(value[0])
			value = value[1:]
		default: // 2-byte local tags
			if len(value) < 2+2 {
				return nil, fmt.Errorf("%w: %d trailing bytes in %s", ErrBadSet, len(value), td.Name)
			}
			tag = binary.BigEndian.Uint16(value)
			value = value[2:]
		}

		length := int(binary.BigEndian.Uint16(value))
		value = value[2:]
		if length > len(value) {
			return nil, fmt.Errorf("%w: item claims %d bytes, %d left in %s", ErrBadSet, length, len(value), td.Name)
		}
		payload := value[:length]
		value = value[length:]

		if !haveUL {
			ul, ok := primerLookup(primer, td, tag)
			if !ok {
				log.Warn("unknown local tag, property kept raw", "tag", fmt.Sprintf("0x%04x", tag), "set", td.Name)
				obj.Properties = append(obj.Properties, Property{Tag: tag, Value: append([]byte(nil), payload...)})
				continue
			}
			itemKey = ul
		}

		pd := td.PropertyByKey(itemKey, reg.FamilyMask(itemKey))
		if pd == nil {
			log.Warn("property not in type descriptor, kept raw", "key", itemKey.String(), "set", td.Name)
			obj.Properties = append(obj.Properties, Property{Tag: tag, Key: itemKey, Value: append([]byte(nil), payload...)})
			continue
		}

		v, err := decodeValue(pd, payload)
		if err != nil {
			log.Warn("property decode failed, kept raw", "property", pd.Name, "set", td.Name, "err", err.Error())
			obj.Properties = append(obj.Properties, Property{Desc: pd, Tag: tag, Key: itemKey, Value: append([]byte(nil), payload...)})
			continue
		}
		obj.Properties = append(obj.Properties, Property{Desc: pd, Tag: tag, Key: itemKey, Value: v})

		if itemKey.Matches(ULInstanceUID, klv.MaskIgnoreVersion) {
			if id, ok := v.(UUID); ok {
				obj.uid = id
				res.registerTarget(id, obj)
			}
			continue
		}
		registerRefs(res, obj, v)
	}
	return obj, nil
}

// primerLookup resolves a local tag through the primer, falling back to the
// type's static tags for properties the format assigns fixed tags to.
func primerLookup(primer *Primer, td *TypeDescriptor, tag uint16) (klv.UL, bool) {
	if primer != nil {
		if ul, ok := primer.ULForTag(tag); ok {
			return ul, true
		}
	}
	for _, pd := range td.Properties {
		if pd.StaticTag != 0 && pd.StaticTag == tag {
			return pd.Key, true
		}
	}
	return klv.UL{}, false
}

func registerRefs(res *resolver, obj *MDObject, v any) {
	switch t := v.(type) {
	case *Ref:
		res.registerRef(obj, t)
	case []any:
		for _, e := range t {
			if r, ok := e.(*Ref); ok {
				res.registerRef(obj, r)
			}
		}
	}
}

// sniffKeyFormat guesses the inner key encoding of a set value: full ULs
// start with the SMPTE designator, local tags never do.
func sniffKeyFormat(value []byte) klv.KeyFormat {
	if len(value) >= klv.ULSize+2 && bytes.HasPrefix(value, []byte{0x06, 0x0e, 0x2b, 0x34}) {
		return klv.KeyFormatUL
	}
	return klv.KeyFormat2
}

func decodeValue(pd *PropertyDescriptor, payload []byte) (any, error) {
	if pd.Kind == KindBatch {
		return decodeBatch(pd, payload)
	}
	return decodeScalar(pd.Kind, payload)
}

func decodeScalar(kind Kind, payload []byte) (any, error) {
	if want := kind.fixedSize(); want != 0 && len(payload) != want {
		return nil, fmt.Errorf("%w: %s needs %d bytes, got %d", ErrBadSet, kind, want, len(payload))
	}
	switch kind {
	case KindRaw:
		return append([]byte(nil), payload...), nil
	case KindUInt8:
		return payload[0], nil
	case KindUInt16:
		return binary.BigEndian.Uint16(payload), nil
	case KindUInt32:
		return binary.BigEndian.Uint32(payload), nil
	case KindUInt64:
		return binary.BigEndian.Uint64(payload), nil
	case KindISO7:
		return string(bytes.TrimRight(payload, "\x00")), nil
	case KindUTF16:
		return decodeUTF16(payload)
	case KindUL:
		var ul klv.UL
		copy(ul[:], payload)
		return ul, nil
	case KindUUID:
		var id UUID
		copy(id[:], payload)
		return id, nil
	case KindTimestamp:
		return decodeTimestamp(payload)
	case KindRational:
		return decodeRational(payload)
	case KindStrongRef, KindWeakRef:
		var id UUID
		copy(id[:], payload)
		return &Ref{Target: id, Strong: kind == KindStrongRef}, nil
	}
	return nil, fmt.Errorf("%w: undecodable kind %s", ErrBadSet, kind)
}

func decodeBatch(pd *PropertyDescriptor, payload []byte) (any, error) {
	if len(payload) < 8 {
		return nil, fmt.Errorf("%w: batch header needs 8 bytes, got %d", ErrBadSet, len(payload))
	}
	count := binary.BigEndian.Uint32(payload)
	elemSize := int(binary.BigEndian.Uint32(payload[4:]))
	body := payload[8:]
	if want := pd.ElemKind.fixedSize(); want != 0 && elemSize != want {
		return nil, fmt.Errorf("%w: batch of %s declares element size %d, want %d", ErrBadSet, pd.ElemKind, elemSize, want)
	}
	if elemSize <= 0 || uint64(count)*uint64(elemSize) != uint64(len(body)) {
		return nil, fmt.Errorf("%w: batch %d x %d bytes does not cover %d-byte body", ErrBadSet, count, elemSize, len(body))
	}
	out := make([]any, 0, count)
	for i := 0; i < int(count); i++ {
		elem, err := decodeScalar(pd.ElemKind, body[i*elemSize:(i+1)*elemSize])
		if err != nil {
			return nil, err
		}
		out = append(out, elem)
	}
	return out, nil
}

func decodeUTF16(payload []byte) (string, error) {
	if len(payload)%2 != 0 {
		return "", fmt.Errorf("%w: odd UTF-16 payload (%d bytes)", ErrBadSet, len(payload))
	}
	units := make([]uint16, len(payload)/2)
	for i := range units {
		units[i] = binary.BigEndian.Uint16(payload[i*2:])
	}
	for len(units) > 0 && units[len(units)-1] == 0 {
		units = units[:len(units)-1]
	}
	return string(utf16.Decode(units)), nil
}

// encodeSet serialises the set value, allocating primer tags as it goes.
// Properties are emitted in type-descriptor order, then any properties the
// descriptor does not know in their original order.
func (o *MDObject) encodeSet(primer *Primer) ([]byte, error) {
	if o.Type == nil {
		return append([]byte(nil), o.Raw...), nil
	}

	var out []byte
	emitted := make(map[int]bool, len(o.Properties))

	emit := func(idx int) error {
		p := &o.Properties[idx]
		payload, err := encodeValue(p)
		if err != nil {
			return fmt.Errorf("set %s property %s: %w", o.Name(), propName(p), err)
		}
		if len(payload) > math.MaxUint16 {
			return fmt.Errorf("%w: property %s payload %d bytes exceeds local set limit", ErrBadSet, propName(p), len(payload))
		}
		var staticTag uint16
		if p.Desc != nil {
			staticTag = p.Desc.StaticTag
		}
		key := p.Key
		if key.IsZero() && p.Desc != nil {
			key = p.Desc.Key
		}
		var tag uint16
		if key.IsZero() {
			// Tag never resolved to a UL on read; write it back verbatim.
			tag = p.Tag
		} else {
			var err error
			tag, err = primer.AssignTag(key, staticTag)
			if err != nil {
				return err
			}
		}
		var hdr [4]byte
		binary.BigEndian.PutUint16(hdr[:], tag)
		binary.BigEndian.PutUint16(hdr[2:], uint16(len(payload)))
		out = append(out, hdr[:]...)
		out = append(out, payload...)
		emitted[idx] = true
		return nil
	}

	for _, pd := range o.Type.Properties {
		for i := range o.Properties {
			if !emitted[i] && o.Properties[i].Desc == pd {
				if err := emit(i); err != nil {
					return nil, err
				}
			}
		}
	}
	for i := range o.Properties {
		if !emitted[i] {
			if err := emit(i); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func propName(p *Property) string {
	if p.Desc != nil {
		return p.Desc.Name
	}
	if !p.Key.IsZero() {
		return p.Key.String()
	}
	return fmt.Sprintf("tag 0x%04x", p.Tag)
}

func encodeValue(p *Property) ([]byte, error) {
	if p.Desc == nil {
		raw, ok := p.Value.([]byte)
		if !ok {
			return nil, fmt.Errorf("%w: undescribed property must hold raw bytes", ErrBadSet)
		}
		return raw, nil
	}
	if p.Desc.Kind == KindBatch {
		elems, ok := p.Value.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: batch property holds %T", ErrBadSet, p.Value)
		}
		return encodeBatch(p.Desc.ElemKind, elems)
	}
	return encodeScalar(p.Desc.Kind, p.Value)
}

func encodeScalar(kind Kind, v any) ([]byte, error) {
	switch kind {
	case KindRaw:
		raw, ok := v.([]byte)
		if !ok {
			return nil, fmt.Errorf("%w: raw property holds %T", ErrBadSet, v)
		}
		return raw, nil
	case KindUInt8:
		u, err := asUint(v, math.MaxUint8)
		return []byte{byte(u)}, err
	case KindUInt16:
		u, err := asUint(v, math.MaxUint16)
		if err != nil {
			return nil, err
		}
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(u))
		return b[:], nil
	case KindUInt32:
		u, err := asUint(v, math.MaxUint32)
		if err != nil {
			return nil, err
		}
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(u))
		return b[:], nil
	case KindUInt64:
		u, err := asUint(v, math.MaxUint64)
		if err != nil {
			return nil, err
		}
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], u)
		return b[:], nil
	case KindISO7:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: string property holds %T", ErrBadSet, v)
		}
		return []byte(s), nil
	case KindUTF16:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: string property holds %T", ErrBadSet, v)
		}
		units := utf16.Encode([]rune(s))
		out := make([]byte, len(units)*2)
		for i, u := range units {
			binary.BigEndian.PutUint16(out[i*2:], u)
		}
		return out, nil
	case KindUL:
		ul, ok := v.(klv.UL)
		if !ok {
			return nil, fmt.Errorf("%w: UL property holds %T", ErrBadSet, v)
		}
		return append([]byte(nil), ul[:]...), nil
	case KindUUID:
		id, ok := v.(UUID)
		if !ok {
			return nil, fmt.Errorf("%w: UUID property holds %T", ErrBadSet, v)
		}
		return append([]byte(nil), id[:]...), nil
	case KindTimestamp:
		ts, ok := v.(Timestamp)
		if !ok {
			return nil, fmt.Errorf("%w: timestamp property holds %T", ErrBadSet, v)
		}
		return ts.encode(nil), nil
	case KindRational:
		r, ok := v.(Rational)
		if !ok {
			return nil, fmt.Errorf("%w: rational property holds %T", ErrBadSet, v)
		}
		return r.encode(nil), nil
	case KindStrongRef, KindWeakRef:
		ref, ok := v.(*Ref)
		if !ok {
			return nil, fmt.Errorf("%w: reference property holds %T", ErrBadSet, v)
		}
		target := ref.Target
		if ref.Object != nil {
			if id, ok := ref.Object.InstanceUID(); ok {
				target = id
			}
		}
		return append([]byte(nil), target[:]...), nil
	}
	return nil, fmt.Errorf("%w: unencodable kind %s", ErrBadSet, kind)
}

func encodeBatch(elemKind Kind, elems []any) ([]byte, error) {
	elemSize := elemKind.fixedSize()
	if elemSize == 0 {
		return nil, fmt.Errorf("%w: batch elements must be fixed width, got %s", ErrBadSet, elemKind)
	}
	out := make([]byte, 8, 8+len(elems)*elemSize)
	binary.BigEndian.PutUint32(out, uint32(len(elems)))
	binary.BigEndian.PutUint32(out[4:], uint32(elemSize))
	for _, e := range elems {
		b, err := encodeScalar(elemKind, e)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

func asUint(v any, limit uint64) (uint64, error) {
	var u uint64
	switch t := v.(type) {
	case uint8:
		u = uint64(t)
	case uint16:
		u = uint64(t)
	case uint32:
		u = uint64(t)
	case uint64:
		u = t
	case int:
		if t < 0 {
			return 0, fmt.Errorf("%w: negative integer %d", ErrBadSet, t)
		}
		u = uint64(t)
	default:
		return 0, fmt.Errorf("%w: integer property holds %T", ErrBadSet, v)
	}
	if u > limit {
		return 0, fmt.Errorf("%w: %d exceeds field limit %d", ErrBadSet, u, limit)
	}
	return u, nil
}
