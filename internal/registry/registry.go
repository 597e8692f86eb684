// Package registry implements the read-only type dictionary the metadata
// layer parses against: lookup by universal label and by name, with the
// family-mask policy for key comparison in one place.
package registry

import (
	"github.com/samcharles93/mxfkit/pkg/klv"
	"github.com/samcharles93/mxfkit/pkg/mxf"
)

// Registry maps set keys and names to type descriptors. The zero value is
// unusable; start from New or Baseline.
type Registry struct {
	byKey  map[klv.UL]*mxf.TypeDescriptor
	byName map[string]*mxf.TypeDescriptor
}

var _ mxf.Registry = (*Registry)(nil)

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		byKey:  make(map[klv.UL]*mxf.TypeDescriptor),
		byName: make(map[string]*mxf.TypeDescriptor),
	}
}

// Register installs a type descriptor, replacing any previous entry for
// the same key or name (dictionary merges are top-wins).
func (r *Registry) Register(td *mxf.TypeDescriptor) {
	r.byKey[canonicalKey(td.Key)] = td
	r.byName[td.Name] = td
}

// LookupUL resolves a set key under the family mask.
func (r *Registry) LookupUL(ul klv.UL) (*mxf.TypeDescriptor, bool) {
	td, ok := r.byKey[canonicalKey(ul)]
	return td, ok
}

// LookupName resolves a set type by name.
func (r *Registry) LookupName(name string) (*mxf.TypeDescriptor, bool) {
	td, ok := r.byName[name]
	return td, ok
}

// FamilyMask returns the comparison mask for a key's UL family: SMPTE item
// and group keys ignore the version byte, everything else compares exact.
func (r *Registry) FamilyMask(ul klv.UL) klv.ULMask {
	if ul.IsSMPTE() {
		return klv.MaskIgnoreVersion
	}
	return klv.MaskExact
}

// canonicalKey normalises a key for map lookup under the family policy:
// the version byte is cleared for SMPTE keys, and the group-coding byte is
// cleared for group keys so local-set and fixed-layout codings of the same
// set coincide.
func canonicalKey(ul klv.UL) klv.UL {
	if !ul.IsSMPTE() {
		return ul
	}
	ul[7] = 0
	if ul[4] == 0x02 {
		ul[5] = 0
	}
	return ul
}
