// Package id provides the identity and causality primitives shared by every
// CRDT in this module: operation identifiers and the per-peer state vector
// used to decide what a replica has already seen.
package id

import "fmt"

// OpId identifies a single operation. Ordering is lexicographic on
// (Counter, Peer): the counter is the minting peer's own sequence number
// (see StateVector.NextCounter), and the peer breaks ties between operations minted at the same counter value
// by different replicas.
//
// The zero value is a sentinel boundary, never assigned to a real operation
// (counters start at 1). Depending on context it stands for the sequence's
// Begin (as an origin_left) or End (as an origin_right) — see IsBoundary.
type OpId struct {
	Counter uint64
	Peer    uint64
}

// IsBoundary reports whether id is the zero-value sentinel used to mean
// "start of sequence" (as an origin_left) or "end of sequence" (as an
// origin_right).
func (id OpId) IsBoundary() bool {
	return id.Counter == 0
}

func (id OpId) String() string {
	if id.IsBoundary() {
		return "⟂"
	}
	return fmt.Sprintf("C%d@P%d", id.Counter, id.Peer)
}

// Compare returns -1, 0, or +1 as id is less than, equal to, or greater
// than other, ordering lexicographically on (Counter, Peer).
func (id OpId) Compare(other OpId) int {
	if id.Counter != other.Counter {
		if id.Counter < other.Counter {
			return -1
		}
		return +1
	}
	if id.Peer != other.Peer {
		if id.Peer < other.Peer {
			return -1
		}
		return +1
	}
	return 0
}

// Less reports whether id sorts strictly before other.
func (id OpId) Less(other OpId) bool {
	return id.Compare(other) < 0
}

// StateVector maps a peer to the highest contiguous counter observed from
// that peer. It summarizes everything a replica has applied and is the unit
// exchanged to compute deltas (spec.md §4.1, §4.8).
type StateVector map[uint64]uint64

// New returns an empty state vector.
func New() StateVector {
	return make(StateVector)
}

// Clone returns an independent copy of sv.
func (sv StateVector) Clone() StateVector {
	out := make(StateVector, len(sv))
	for peer, counter := range sv {
		out[peer] = counter
	}
	return out
}

// HasSeen reports whether id is covered by sv, i.e. sv[id.Peer] >= id.Counter.
func (sv StateVector) HasSeen(id OpId) bool {
	return sv[id.Peer] >= id.Counter
}

// NextCounter returns the next counter to mint for peer: one past the
// highest contiguous counter sv records for peer.
func (sv StateVector) NextCounter(peer uint64) uint64 {
	return sv[peer] + 1
}

// Advance records id as seen, but only if it is the immediate successor of
// what sv already knows about id.Peer (sv[id.Peer]+1 == id.Counter). It
// returns whether the advance happened; a false return means id has a gap
// relative to sv and should be causally buffered instead (spec.md §4.8).
func (sv StateVector) Advance(id OpId) bool {
	if sv[id.Peer]+1 != id.Counter {
		return false
	}
	sv[id.Peer] = id.Counter
	return true
}

// Merge returns a new state vector holding the element-wise maximum of sv
// and other (spec.md §4.1).
func (sv StateVector) Merge(other StateVector) StateVector {
	out := sv.Clone()
	for peer, counter := range other {
		if counter > out[peer] {
			out[peer] = counter
		}
	}
	return out
}

// MergeFrom merges other into sv in place, taking the element-wise maximum.
func (sv StateVector) MergeFrom(other StateVector) {
	for peer, counter := range other {
		if counter > sv[peer] {
			sv[peer] = counter
		}
	}
}
