package mxf

import (
	"fmt"
	"strings"

	"github.com/samcharles93/mxfkit/internal/logger"
)

// pendingRef is one deferred link: a reference UUID seen before its target.
type pendingRef struct {
	target UUID
	ref    *Ref
	owner  *MDObject
}

// resolver links strong and weak references by UUID across the objects of
// one partition. It is two-stage: a UUID→object map populated as
// InstanceUIDs are observed, and an append-only queue of deferred links.
// The queue drains whenever a new target registers, and again at
// finalisation, so forward declarations resolve in a single pass.
type resolver struct {
	targets  map[UUID]*MDObject
	deferred []pendingRef
	log      logger.Logger
}

func newResolver(log logger.Logger) *resolver {
	return &resolver{
		targets: make(map[UUID]*MDObject),
		log:     log,
	}
}

// registerTarget records an object's InstanceUID and drains any deferred
// references waiting for it.
func (r *resolver) registerTarget(id UUID, obj *MDObject) {
	if prev, ok := r.targets[id]; ok && prev != obj {
		r.log.Warn("duplicate InstanceUID", "uuid", id.String(), "set", obj.Name())
	}
	r.targets[id] = obj

	kept := r.deferred[:0]
	for _, p := range r.deferred {
		if p.target == id {
			r.link(p, obj)
			continue
		}
		kept = append(kept, p)
	}
	r.deferred = kept
}

// registerRef links the reference immediately when its target is known,
// otherwise defers it.
func (r *resolver) registerRef(owner *MDObject, ref *Ref) {
	if obj, ok := r.targets[ref.Target]; ok {
		r.link(pendingRef{target: ref.Target, ref: ref, owner: owner}, obj)
		return
	}
	r.deferred = append(r.deferred, pendingRef{target: ref.Target, ref: ref, owner: owner})
}

func (r *resolver) link(p pendingRef, obj *MDObject) {
	p.ref.Object = obj
	if p.ref.Strong {
		obj.linkParent = p.owner
	}
}

// finalise runs after every set in the partition has been parsed. Remaining
// deferred strong references make the partition structurally invalid;
// dangling weak references are tolerated with a warning and stay UUID-only.
func (r *resolver) finalise() error {
	var dangling []string
	kept := r.deferred[:0]
	for _, p := range r.deferred {
		if obj, ok := r.targets[p.target]; ok {
			r.link(p, obj)
			continue
		}
		if p.ref.Strong {
			dangling = append(dangling, p.target.String())
		} else {
			r.log.Warn("dangling weak reference", "uuid", p.target.String(), "from", p.owner.Name())
		}
		kept = append(kept, p)
	}
	r.deferred = kept
	if len(dangling) > 0 {
		return fmt.Errorf("%w: %s", ErrDanglingStrongRef, strings.Join(dangling, ", "))
	}
	return nil
}

// unresolved returns the deferred entries still outstanding, for the
// partition's UnmatchedRefs accessor.
func (r *resolver) unresolved() []pendingRef {
	return r.deferred
}
