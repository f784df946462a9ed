// Package sync exchanges changes between replicas: it defines the change
// message exchanged over the wire, a binary codec for it, and a causal
// buffer that holds back operations until their dependencies have
// arrived, so replicas can apply a batch delivered out of order.
package sync

import (
	"errors"

	"github.com/brunokim/mdcrdt/document"
	"github.com/brunokim/mdcrdt/id"
)

// ErrResourceExhausted is returned when a configured limit (buffered op
// count, buffered payload size, decoded message size) is exceeded, per
// spec.md's resource-exhaustion policy: fail closed rather than grow
// unbounded.
var ErrResourceExhausted = errors.New("sync: resource limit exceeded")

// Limits bounds how much a replica will buffer or decode, so a malicious
// or buggy peer cannot force unbounded memory growth.
type Limits struct {
	MaxBufferedOps     int
	MaxBufferedBytes   int64
	MaxMessageBytes    int64
	MaxPeerTableLength int
	MaxStringBytes     int
}

// DefaultLimits matches spec.md's suggested defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxBufferedOps:     1 << 20, // 1,048,576
		MaxBufferedBytes:   256 << 20,
		MaxMessageBytes:    64 << 20,
		MaxPeerTableLength: 65535,
		MaxStringBytes:     16 << 20,
	}
}

// ChangeMessage is the unit exchanged between replicas: every operation
// the sender has applied since from (its state vector at the time it
// last synced with the recipient), or since the beginning of time if from
// is empty.
type ChangeMessage struct {
	From id.StateVector
	Ops  []document.Op
}

// EncodeChangesSince builds the delta message a replica should send to a
// peer whose last-known state is sv: every op doc has applied that sv
// does not already cover (document.Document.OpsSince), framed as a
// ChangeMessage whose From echoes sv so the recipient can tell what
// baseline this delta assumes (spec.md §4.8 "Encoding a delta since SV",
// §6 SyncState::encode_changes_since).
func EncodeChangesSince(doc *document.Document, sv id.StateVector) ChangeMessage {
	return ChangeMessage{From: sv.Clone(), Ops: doc.OpsSince(sv)}
}

// ConflictKind identifies which of spec.md §4.8's semantic conflict
// checks fired.
type ConflictKind int

const (
	// ConflictTextRange: a block received text edits (insert or delete)
	// from more than one peer in the same applied batch — the CRDT has
	// already merged them (RGA order, add-wins tombstones); this only
	// reports that the merge resolved a race.
	ConflictTextRange ConflictKind = iota
	// ConflictBlockKind: a block received concurrent SetBlockKind writes
	// from more than one peer in the same applied batch; the LWW
	// register has already picked a winner.
	ConflictBlockKind
	// ConflictDeleteEdit: a block is deleted while also carrying an edit
	// (text, mark, attribute, or child-order change) applied in this
	// batch; per spec.md scenario 2 the delete wins (the block stays
	// invisible) and the edit's atoms persist as unreachable tombstones.
	ConflictDeleteEdit
)

// Conflict reports one semantic conflict surfaced by a batch apply. It is
// informational: by the time it is reported, the CRDT has already
// resolved the race on its own.
type Conflict struct {
	BlockID id.OpId
	Kind    ConflictKind
}

// ApplyResult summarizes the outcome of feeding a batch of operations
// through a causal buffer (spec.md §4.8).
type ApplyResult struct {
	Applied   int
	Buffered  int
	Rejected  map[string]int
	Conflicts []Conflict
}
