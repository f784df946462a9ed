// Package crdt provides the replicated data types that back a document:
// a sequence CRDT in the RGA family (for block order and inline text),
// last-writer-wins registers and maps, and an add-wins mark-set for
// formatting intervals.
//
// This implementation follows the origin-based integration rule described
// by Grishchenko's Causal Trees and the RGA papers it builds on, keeping
// the flat-weave representation and Compare-based tie-break convention
// used throughout this module (see the sibling packages).
package crdt

import (
	"errors"
	"fmt"

	"github.com/brunokim/mdcrdt/id"
)

// Errors returned by Sequence operations.
var (
	// ErrMissingOrigin is returned when an atom names an origin or anchor
	// that is not present in the sequence; the caller (sync layer) should
	// buffer the op until its dependency arrives (spec.md §4.8).
	ErrMissingOrigin = errors.New("crdt: origin atom not present in sequence")
	// ErrUnknownAtom is returned when an operation targets an atom ID that
	// does not exist in the sequence.
	ErrUnknownAtom = errors.New("crdt: atom not found")
	// ErrOffsetOutOfRange is returned when a grapheme offset falls outside
	// the sequence's visible length.
	ErrOffsetOutOfRange = errors.New("crdt: offset out of range")
)

// Atom is the smallest unit of a sequence CRDT: a single grapheme cluster,
// or — when T is id.OpId — a reference to a block (spec.md §3).
type Atom[T any] struct {
	// ID identifies this atom.
	ID id.OpId
	// OriginLeft and OriginRight name the atoms this atom was inserted
	// between at the time of its creation. A boundary OpId means
	// Begin (OriginLeft) or End (OriginRight).
	OriginLeft  id.OpId
	OriginRight id.OpId
	// Payload is the atom's content.
	Payload T
	// Deleted marks a tombstone: logically removed but retained so it
	// remains referenceable as an origin or mark anchor (I4).
	Deleted bool
	// DeletedBy records the op that tombstoned this atom, for causal
	// dependency tracking. Zero if not deleted.
	DeletedBy id.OpId
}

// Sequence is a Replicated Growable Array (RGA): an ordered, append-only
// log of atoms where insertion position is derived deterministically from
// each atom's origin pair, so that replicas converge regardless of
// delivery order (I3).
type Sequence[T any] struct {
	// Atoms holds every atom ever integrated, in sequence order, including
	// tombstones.
	Atoms []Atom[T]
	index map[id.OpId]int
}

// NewSequence returns an empty sequence.
func NewSequence[T any]() *Sequence[T] {
	return &Sequence[T]{index: make(map[id.OpId]int)}
}

func (s *Sequence[T]) ensureIndex() {
	if s.index == nil {
		s.index = make(map[id.OpId]int, len(s.Atoms))
	}
}

// rebuildIndex recomputes the ID → position map after the weave has been
// mutated in bulk (e.g. by an insertion shifting every later atom).
func (s *Sequence[T]) rebuildIndex() {
	s.ensureIndex()
	for k := range s.index {
		delete(s.index, k)
	}
	for i, a := range s.Atoms {
		s.index[a.ID] = i
	}
}

// leftIndex resolves an origin_left reference to a weave position, with
// Begin mapping to -1.
func (s *Sequence[T]) leftIndex(origin id.OpId) (int, error) {
	if origin.IsBoundary() {
		return -1, nil
	}
	i, ok := s.index[origin]
	if !ok {
		return 0, fmt.Errorf("%w: %v", ErrMissingOrigin, origin)
	}
	return i, nil
}

// rightIndex resolves an origin_right reference to a weave position, with
// End mapping to len(Atoms).
func (s *Sequence[T]) rightIndex(origin id.OpId) (int, error) {
	if origin.IsBoundary() {
		return len(s.Atoms), nil
	}
	i, ok := s.index[origin]
	if !ok {
		return 0, fmt.Errorf("%w: %v", ErrMissingOrigin, origin)
	}
	return i, nil
}

// Integrate inserts a new atom according to the RGA integration algorithm
// (spec.md §4.2):
//
//  1. Locate origin_left (L) and origin_right (R) in the current weave.
//  2. Walk atoms strictly between L and R. A candidate C is "concurrent but
//     earlier-placed" when C's own origin pair brackets the same (L, R)
//     window; such atoms are ordered against the new atom by OpId.
//  3. If no ordering candidate is found, insert immediately before R.
//
// Tie-break: among atoms sharing an identical origin pair, the one with
// the larger OpId ends up adjacent to origin_left, the smaller ends up
// adjacent to origin_right — verified against the worked example in
// spec.md §8 scenario 1 ("AC" + concurrent inserts of "B" and "X" between
// them converges to "AXBC": OpId(1,2) > OpId(1,1), and the larger sits
// next to the left origin).
func (s *Sequence[T]) Integrate(n Atom[T]) error {
	s.ensureIndex()
	L, err := s.leftIndex(n.OriginLeft)
	if err != nil {
		return err
	}
	R, err := s.rightIndex(n.OriginRight)
	if err != nil {
		return err
	}
	if _, exists := s.index[n.ID]; exists {
		return nil // idempotent: already integrated.
	}

	pos := R
	for i := L + 1; i < R; i++ {
		c := s.Atoms[i]
		cL, err := s.leftIndex(c.OriginLeft)
		if err != nil {
			return err
		}
		cR, err := s.rightIndex(c.OriginRight)
		if err != nil {
			return err
		}
		if cL <= L && cR >= R {
			// C is concurrent but earlier-placed: both origins bracket
			// the same window as N's. Larger OpId sits closer to L.
			if c.ID.Less(n.ID) {
				pos = i
				break
			}
		}
	}
	s.insertAt(pos, n)
	return nil
}

func (s *Sequence[T]) insertAt(i int, a Atom[T]) {
	s.Atoms = append(s.Atoms, Atom[T]{})
	copy(s.Atoms[i+1:], s.Atoms[i:])
	s.Atoms[i] = a
	s.rebuildIndex()
}

// Delete tombstones the atom identified by target, recording deletedBy for
// causal tracking. Returns ErrUnknownAtom if target is not present.
func (s *Sequence[T]) Delete(target, deletedBy id.OpId) error {
	i, ok := s.index[target]
	if !ok {
		return fmt.Errorf("%w: %v", ErrUnknownAtom, target)
	}
	if s.Atoms[i].Deleted {
		return nil // idempotent.
	}
	s.Atoms[i].Deleted = true
	s.Atoms[i].DeletedBy = deletedBy
	return nil
}

// Has reports whether an atom with the given ID has been integrated.
func (s *Sequence[T]) Has(target id.OpId) bool {
	_, ok := s.index[target]
	return ok
}

// IsDeleted reports whether the atom with the given ID is tombstoned.
// Atoms not present in the sequence are reported as not deleted.
func (s *Sequence[T]) IsDeleted(target id.OpId) bool {
	i, ok := s.index[target]
	return ok && s.Atoms[i].Deleted
}

// Get returns the atom with the given ID.
func (s *Sequence[T]) Get(target id.OpId) (Atom[T], bool) {
	i, ok := s.index[target]
	if !ok {
		return Atom[T]{}, false
	}
	return s.Atoms[i], true
}

// IndexOf returns the weave position of the atom with the given ID.
func (s *Sequence[T]) IndexOf(target id.OpId) (int, bool) {
	i, ok := s.index[target]
	return i, ok
}

// Values returns the payload of every non-tombstoned atom, in sequence
// order.
func (s *Sequence[T]) Values() []T {
	out := make([]T, 0, len(s.Atoms))
	for _, a := range s.Atoms {
		if !a.Deleted {
			out = append(out, a.Payload)
		}
	}
	return out
}

// VisibleIDs returns the OpId of every non-tombstoned atom, in sequence
// order.
func (s *Sequence[T]) VisibleIDs() []id.OpId {
	out := make([]id.OpId, 0, len(s.Atoms))
	for _, a := range s.Atoms {
		if !a.Deleted {
			out = append(out, a.ID)
		}
	}
	return out
}

// Len returns the number of non-tombstoned atoms.
func (s *Sequence[T]) Len() int {
	n := 0
	for _, a := range s.Atoms {
		if !a.Deleted {
			n++
		}
	}
	return n
}

// OriginsForOffset computes the (origin_left, origin_right) pair an
// insertion at the given visible offset should carry, skipping tombstones
// on both sides (spec.md §4.7). offset == 0 means "insert at the start";
// offset == Len() means "insert at the end".
func (s *Sequence[T]) OriginsForOffset(offset int) (left, right id.OpId, err error) {
	if offset < 0 {
		return id.OpId{}, id.OpId{}, ErrOffsetOutOfRange
	}
	visible := 0
	left = id.OpId{} // Begin
	for _, a := range s.Atoms {
		if a.Deleted {
			continue
		}
		if visible == offset {
			return left, a.ID, nil
		}
		left = a.ID
		visible++
	}
	if offset == visible {
		return left, id.OpId{}, nil // End
	}
	return id.OpId{}, id.OpId{}, ErrOffsetOutOfRange
}

// IDRange returns the OpIds of the visible atoms in [start, end), used to
// lower a DeleteRange edit to individual atom deletions.
func (s *Sequence[T]) IDRange(start, end int) ([]id.OpId, error) {
	if start < 0 || end < start {
		return nil, ErrOffsetOutOfRange
	}
	var out []id.OpId
	visible := 0
	for _, a := range s.Atoms {
		if a.Deleted {
			continue
		}
		if visible >= start && visible < end {
			out = append(out, a.ID)
		}
		visible++
	}
	if end > visible {
		return nil, ErrOffsetOutOfRange
	}
	return out, nil
}

// Clone returns a deep copy of the sequence.
func (s *Sequence[T]) Clone() *Sequence[T] {
	out := NewSequence[T]()
	out.Atoms = make([]Atom[T], len(s.Atoms))
	copy(out.Atoms, s.Atoms)
	out.rebuildIndex()
	return out
}
