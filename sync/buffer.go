package sync

import (
	"fmt"
	"sort"

	"github.com/brunokim/mdcrdt/document"
	"github.com/brunokim/mdcrdt/id"
)

// Buffer holds operations whose causal dependencies have not yet arrived,
// retrying them whenever new operations are applied (spec.md §4.8: a
// replica may receive ops out of causal order and must not drop them).
type Buffer struct {
	limits  Limits
	pending []document.Op
	bytes   int64
}

// NewBuffer returns an empty causal buffer enforcing limits.
func NewBuffer(limits Limits) *Buffer {
	return &Buffer{limits: limits}
}

// Len reports how many operations are currently buffered.
func (b *Buffer) Len() int { return len(b.pending) }

// Apply attempts to apply every op in batch to doc, in order, buffering
// any whose dependencies are not yet satisfied, then repeatedly retries
// the buffer until a pass makes no further progress.
func (b *Buffer) Apply(doc *document.Document, batch []document.Op) (ApplyResult, error) {
	result := ApplyResult{Rejected: make(map[string]int)}
	var applied []document.Op
	for _, op := range batch {
		if doc.SV.HasSeen(op.ID) {
			continue // already applied; idempotent no-op.
		}
		if depsReady(doc, op) {
			if err := doc.Apply(op); err != nil {
				result.Rejected[rejectKind(op)]++
				continue
			}
			result.Applied++
			applied = append(applied, op)
		} else {
			if err := b.push(op); err != nil {
				return result, err
			}
			result.Buffered++
		}
	}
	drained, drainedOps := b.drain(doc)
	result.Applied += drained
	applied = append(applied, drainedOps...)
	result.Buffered = len(b.pending)
	result.Conflicts = detectConflicts(doc, applied)
	return result, nil
}

func (b *Buffer) push(op document.Op) error {
	if len(b.pending) >= b.limits.MaxBufferedOps {
		return fmt.Errorf("%w: buffered op count", ErrResourceExhausted)
	}
	size := estimateSize(op)
	if b.limits.MaxBufferedBytes > 0 && b.bytes+size > b.limits.MaxBufferedBytes {
		return fmt.Errorf("%w: buffered payload size", ErrResourceExhausted)
	}
	b.bytes += size
	b.pending = append(b.pending, op)
	return nil
}

// drain repeatedly scans the pending list, applying whatever has become
// ready, until a full pass applies nothing.
func (b *Buffer) drain(doc *document.Document) (int, []document.Op) {
	applied := 0
	var appliedOps []document.Op
	for {
		progressed := false
		remaining := b.pending[:0]
		for _, op := range b.pending {
			if depsReady(doc, op) {
				if err := doc.Apply(op); err == nil {
					b.bytes -= estimateSize(op)
					applied++
					appliedOps = append(appliedOps, op)
					progressed = true
					continue
				}
			}
			remaining = append(remaining, op)
		}
		b.pending = remaining
		if !progressed {
			break
		}
	}
	return applied, appliedOps
}

// detectConflicts implements spec.md §4.8's post-batch semantic conflict
// scan. Each kind it reports is already resolved by the CRDT itself
// (RGA order, add-wins tombstones, LWW, or delete-wins) — this only
// surfaces that a race happened, keyed by the touched block. "Concurrent"
// is approximated as "co-occurring in the same applied batch from
// different peers", since the core tracks causality through per-sequence
// origin/target atoms rather than a full per-op vector clock.
func detectConflicts(doc *document.Document, applied []document.Op) []Conflict {
	textPeers := make(map[id.OpId]map[uint64]struct{})
	kindPeers := make(map[id.OpId]map[uint64]struct{})
	editedBlocks := make(map[id.OpId]struct{})

	for _, op := range applied {
		switch op.Kind {
		case document.OpInsertText, document.OpDeleteText:
			addPeer(textPeers, op.BlockID, op.ID.Peer)
		case document.OpSetBlockKind:
			addPeer(kindPeers, op.BlockID, op.ID.Peer)
		}
		if !op.BlockID.IsBoundary() {
			editedBlocks[op.BlockID] = struct{}{}
		}
	}

	var out []Conflict
	for blockID, peers := range textPeers {
		if len(peers) > 1 {
			out = append(out, Conflict{BlockID: blockID, Kind: ConflictTextRange})
		}
	}
	for blockID, peers := range kindPeers {
		if len(peers) > 1 {
			out = append(out, Conflict{BlockID: blockID, Kind: ConflictBlockKind})
		}
	}
	for blockID := range editedBlocks {
		if doc.BlockOrder.IsDeleted(blockID) {
			out = append(out, Conflict{BlockID: blockID, Kind: ConflictDeleteEdit})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockID != out[j].BlockID {
			return out[i].BlockID.Less(out[j].BlockID)
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

func addPeer(m map[id.OpId]map[uint64]struct{}, blockID id.OpId, peer uint64) {
	set, ok := m[blockID]
	if !ok {
		set = make(map[uint64]struct{})
		m[blockID] = set
	}
	set[peer] = struct{}{}
}

func rejectKind(op document.Op) string {
	switch op.Kind {
	case document.OpInsertBlock, document.OpCreateBlock:
		return "insert_block"
	case document.OpDeleteBlock:
		return "delete_block"
	case document.OpInsertText:
		return "insert_text"
	case document.OpDeleteText:
		return "delete_text"
	default:
		return "other"
	}
}

func estimateSize(op document.Op) int64 {
	size := int64(64) // fixed envelope overhead
	if s, ok := op.Value.(string); ok {
		size += int64(len(s))
	}
	return size
}

// depsReady reports whether every atom or block op references has
// already been integrated into doc, i.e. whether op can be applied now
// without hitting crdt.ErrMissingOrigin or document.ErrUnknownBlock. It
// also enforces that op is the immediate next op from its own peer
// (spec.md §4.8: "buffer it ... if ... the op has a gap in its own
// peer's counter") — without this, an op with no other dependency (a
// fresh CreateBlock, a SetFrontmatter write, ...) would apply out of
// order and leave a permanent hole in the state vector, since
// StateVector.Advance only accepts contiguous counters.
func depsReady(doc *document.Document, op document.Op) bool {
	if op.ID.Counter != doc.SV[op.ID.Peer]+1 {
		return false
	}
	switch op.Kind {
	case document.OpCreateBlock, document.OpSetFrontmatter:
		return true
	case document.OpInsertBlock:
		return originReady(doc.BlockOrder.Has, op.OriginLeft) && originReady(doc.BlockOrder.Has, op.OriginRight)
	case document.OpDeleteBlock:
		return doc.BlockOrder.Has(op.Target)
	case document.OpSetBlockKind, document.OpSetBlockAttr:
		_, ok := doc.Blocks[op.BlockID]
		return ok
	case document.OpInsertChild:
		blk, ok := doc.Blocks[op.BlockID]
		if !ok {
			return false
		}
		return originReady(blk.Children.Has, op.OriginLeft) && originReady(blk.Children.Has, op.OriginRight)
	case document.OpDeleteChild:
		blk, ok := doc.Blocks[op.BlockID]
		if !ok {
			return false
		}
		return blk.Children.Has(op.Target)
	case document.OpInsertText:
		blk, ok := doc.Blocks[op.BlockID]
		if !ok {
			return false
		}
		return originReady(blk.Text.Has, op.OriginLeft) && originReady(blk.Text.Has, op.OriginRight)
	case document.OpDeleteText:
		blk, ok := doc.Blocks[op.BlockID]
		if !ok {
			return false
		}
		return blk.Text.Has(op.Target)
	case document.OpAddMark:
		blk, ok := doc.Blocks[op.BlockID]
		if !ok {
			return false
		}
		return originReady(blk.Text.Has, op.StartAnchor.Atom) && originReady(blk.Text.Has, op.EndAnchor.Atom)
	case document.OpRemoveMark, document.OpSetMarkAttr:
		blk, ok := doc.Blocks[op.BlockID]
		if !ok {
			return false
		}
		_, exists := blk.Marks.Get(op.Target)
		return exists
	default:
		return false
	}
}

func originReady(has func(id.OpId) bool, origin id.OpId) bool {
	return origin.IsBoundary() || has(origin)
}
