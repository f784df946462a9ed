package crdt

import (
	"errors"

	"github.com/brunokim/mdcrdt/id"
)

// MarkKind enumerates the supported inline formatting kinds (spec.md §3).
type MarkKind struct {
	tag string
}

var (
	Bold   = MarkKind{"bold"}
	Italic = MarkKind{"italic"}
	Code   = MarkKind{"code"}
	Strike = MarkKind{"strike"}
	Link   = MarkKind{"link"}
	Image  = MarkKind{"image"}
)

// Custom returns a MarkKind for an extension formatting kind not in the
// built-in enumeration.
func Custom(name string) MarkKind { return MarkKind{"custom:" + name} }

func (k MarkKind) String() string { return k.tag }

// MarkKindFromString reconstructs a MarkKind from the string previously
// returned by String(), for codecs that serialize kinds as text rather
// than re-deriving them from the built-in constants.
func MarkKindFromString(s string) MarkKind { return MarkKind{tag: s} }

// Bias selects which side of an anchor's referenced atom the boundary sits
// on.
type Bias int

const (
	Before Bias = iota
	After
)

// Anchor is a pointer to an atom with a before/after bias, used to bound a
// mark interval (spec.md glossary).
type Anchor struct {
	Atom id.OpId
	Bias Bias
}

// MarkInterval is a single formatting run: an add-wins interval bounded by
// two anchors, with LWW attributes (e.g. a link's href).
type MarkInterval struct {
	ID    id.OpId
	Kind  MarkKind
	Start Anchor
	End   Anchor
	Attrs *Map
}

// ErrUnknownInterval is returned when a remove or attribute-set targets an
// interval ID that was never added.
var ErrUnknownInterval = errors.New("crdt: mark interval not found")

// MarkSet is the mark-set CRDT bounding formatting intervals over a
// block's text (spec.md §4.4). Adds are identified by the adding op's
// OpId; removes record the removed interval's id in a deleted-by set
// rather than deleting state, which is what gives this structure its
// add-wins semantics: a concurrent add mints a distinct interval ID, so a
// remove that raced it can never name it.
type MarkSet struct {
	intervals map[id.OpId]*MarkInterval
	removedBy map[id.OpId]map[id.OpId]struct{}
}

// NewMarkSet returns an empty mark set.
func NewMarkSet() *MarkSet {
	return &MarkSet{
		intervals: make(map[id.OpId]*MarkInterval),
		removedBy: make(map[id.OpId]map[id.OpId]struct{}),
	}
}

// Add creates a new mark interval identified by opID.
func (ms *MarkSet) Add(opID id.OpId, kind MarkKind, start, end Anchor) *MarkInterval {
	iv := &MarkInterval{ID: opID, Kind: kind, Start: start, End: end, Attrs: NewMap()}
	ms.intervals[opID] = iv
	return iv
}

// Remove records removalOp as having removed the interval identified by
// intervalID. An unknown interval is not an error: the removal is still
// recorded, so an add of that interval arriving later is not effective.
// The sync layer is responsible for causal ordering (spec.md §4.8: mark
// ops depend on their target).
func (ms *MarkSet) Remove(intervalID, removalOp id.OpId) {
	set, ok := ms.removedBy[intervalID]
	if !ok {
		set = make(map[id.OpId]struct{})
		ms.removedBy[intervalID] = set
	}
	set[removalOp] = struct{}{}
}

// SetAttr sets an attribute on the interval identified by intervalID,
// using LWW semantics. Returns ErrUnknownInterval if the interval has not
// been added.
func (ms *MarkSet) SetAttr(intervalID id.OpId, key string, opID id.OpId, value interface{}) error {
	iv, ok := ms.intervals[intervalID]
	if !ok {
		return ErrUnknownInterval
	}
	iv.Attrs.Set(key, opID, value)
	return nil
}

// IsEffective reports whether the interval identified by intervalID exists
// and has not been removed by any op (add-wins: a remove only suppresses
// the exact interval it named).
func (ms *MarkSet) IsEffective(intervalID id.OpId) bool {
	iv, ok := ms.intervals[intervalID]
	if !ok || iv == nil {
		return false
	}
	return len(ms.removedBy[intervalID]) == 0
}

// Get returns the interval identified by intervalID, regardless of
// whether it is currently effective.
func (ms *MarkSet) Get(intervalID id.OpId) (*MarkInterval, bool) {
	iv, ok := ms.intervals[intervalID]
	return iv, ok
}

// Effective returns every currently-effective interval, in no particular
// order.
func (ms *MarkSet) Effective() []*MarkInterval {
	var out []*MarkInterval
	for id, iv := range ms.intervals {
		if ms.IsEffective(id) {
			out = append(out, iv)
		}
	}
	return out
}

// Clone returns a deep copy of the mark set.
func (ms *MarkSet) Clone() *MarkSet {
	out := NewMarkSet()
	for k, v := range ms.intervals {
		cp := *v
		cp.Attrs = v.Attrs.Clone()
		out.intervals[k] = &cp
	}
	for k, set := range ms.removedBy {
		cpSet := make(map[id.OpId]struct{}, len(set))
		for op := range set {
			cpSet[op] = struct{}{}
		}
		out.removedBy[k] = cpSet
	}
	return out
}

// AnchorOffset resolves an anchor against seq to a visible grapheme
// offset, skipping tombstoned atoms when counting (so the boundary tracks
// the surviving content rather than collapsing when its exact atom is
// deleted). A Before bias places the boundary immediately before the
// referenced atom; an After bias places it immediately after.
func AnchorOffset[T any](seq *Sequence[T], a Anchor) (int, error) {
	if a.Atom.IsBoundary() {
		if a.Bias == Before {
			return 0, nil
		}
		return seq.Len(), nil
	}
	i, ok := seq.IndexOf(a.Atom)
	if !ok {
		return 0, ErrUnknownAtom
	}
	offset := 0
	for _, atom := range seq.Atoms[:i] {
		if !atom.Deleted {
			offset++
		}
	}
	if a.Bias == After && !seq.Atoms[i].Deleted {
		offset++
	}
	return offset, nil
}
