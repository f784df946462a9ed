package crdt_test

import (
	"testing"

	"github.com/brunokim/mdcrdt/crdt"
	"github.com/brunokim/mdcrdt/id"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildABCDE(t *testing.T) *crdt.Sequence[string] {
	t.Helper()
	seq := crdt.NewSequence[string]()
	prev := id.OpId{}
	for i, ch := range "ABCDE" {
		opID := id.OpId{Counter: uint64(i + 1), Peer: 1}
		require.NoError(t, seq.Integrate(crdt.Atom[string]{
			ID: opID, OriginLeft: prev, OriginRight: id.OpId{}, Payload: string(ch),
		}))
		prev = opID
	}
	return seq
}

func TestMarkSetAddIsEffective(t *testing.T) {
	seq := buildABCDE(t)
	ms := crdt.NewMarkSet()
	opID := id.OpId{Counter: 100, Peer: 1}
	start := crdt.Anchor{Atom: id.OpId{Counter: 1, Peer: 1}, Bias: crdt.Before} // before "A"
	end := crdt.Anchor{Atom: id.OpId{Counter: 3, Peer: 1}, Bias: crdt.After}    // after "C"
	ms.Add(opID, crdt.Bold, start, end)

	require.True(t, ms.IsEffective(opID))

	startOffset, err := crdt.AnchorOffset(seq, start)
	require.NoError(t, err)
	endOffset, err := crdt.AnchorOffset(seq, end)
	require.NoError(t, err)
	assert.Equal(t, 0, startOffset)
	assert.Equal(t, 3, endOffset)
}

func TestMarkSetRemoveSuppressesOnlyNamedInterval(t *testing.T) {
	ms := crdt.NewMarkSet()
	opA := id.OpId{Counter: 10, Peer: 1}
	anchorStart := crdt.Anchor{Atom: id.OpId{Counter: 1, Peer: 1}, Bias: crdt.Before}
	anchorEnd := crdt.Anchor{Atom: id.OpId{Counter: 2, Peer: 1}, Bias: crdt.After}
	ms.Add(opA, crdt.Italic, anchorStart, anchorEnd)
	ms.Remove(opA, id.OpId{Counter: 11, Peer: 1})

	assert.False(t, ms.IsEffective(opA))
}

// TestMarkSetConcurrentAddWinsOverRemove reproduces the add-wins property
// described in spec.md §4.4: a remove targeting an interval it observed
// must not suppress a distinct interval concurrently added over the same
// text range, because that new interval carries its own OpId.
func TestMarkSetConcurrentAddWinsOverRemove(t *testing.T) {
	ms := crdt.NewMarkSet()
	anchorStart := crdt.Anchor{Atom: id.OpId{Counter: 1, Peer: 1}, Bias: crdt.Before}
	anchorEnd := crdt.Anchor{Atom: id.OpId{Counter: 2, Peer: 1}, Bias: crdt.After}

	original := id.OpId{Counter: 5, Peer: 1}
	ms.Add(original, crdt.Bold, anchorStart, anchorEnd)

	// Peer 2 concurrently re-adds the same range (e.g. re-applying bold
	// after observing it was already there), minting a fresh interval ID.
	concurrent := id.OpId{Counter: 5, Peer: 2}
	ms.Add(concurrent, crdt.Bold, anchorStart, anchorEnd)

	// Peer 1's remove only knew about `original`.
	ms.Remove(original, id.OpId{Counter: 6, Peer: 1})

	assert.False(t, ms.IsEffective(original))
	assert.True(t, ms.IsEffective(concurrent), "concurrent add must survive a remove that never named it")
}

func TestMarkSetSetAttrUnknownInterval(t *testing.T) {
	ms := crdt.NewMarkSet()
	err := ms.SetAttr(id.OpId{Counter: 99, Peer: 1}, "href", id.OpId{Counter: 1, Peer: 1}, "https://example.com")
	assert.ErrorIs(t, err, crdt.ErrUnknownInterval)
}

func TestMarkSetSetAttrLWW(t *testing.T) {
	ms := crdt.NewMarkSet()
	opID := id.OpId{Counter: 1, Peer: 1}
	ms.Add(opID, crdt.Link, crdt.Anchor{}, crdt.Anchor{})

	require.NoError(t, ms.SetAttr(opID, "href", id.OpId{Counter: 2, Peer: 1}, "https://a.example"))
	require.NoError(t, ms.SetAttr(opID, "href", id.OpId{Counter: 3, Peer: 1}, "https://b.example"))

	iv, ok := ms.Get(opID)
	require.True(t, ok)
	v, ok := iv.Attrs.Get("href")
	require.True(t, ok)
	assert.Equal(t, "https://b.example", v)
}

func TestAnchorOffsetBoundaries(t *testing.T) {
	seq := buildABCDE(t)
	begin, err := crdt.AnchorOffset(seq, crdt.Anchor{Atom: id.OpId{}, Bias: crdt.Before})
	require.NoError(t, err)
	assert.Equal(t, 0, begin)

	end, err := crdt.AnchorOffset(seq, crdt.Anchor{Atom: id.OpId{}, Bias: crdt.After})
	require.NoError(t, err)
	assert.Equal(t, seq.Len(), end)
}

func TestAnchorOffsetSticksAfterDeletion(t *testing.T) {
	seq := buildABCDE(t)
	// Anchor "end" on "C" (3rd atom), then delete "C": the boundary should
	// stay put relative to the surviving content rather than erroring.
	cID := id.OpId{Counter: 3, Peer: 1}
	require.NoError(t, seq.Delete(cID, id.OpId{Counter: 6, Peer: 1}))

	offset, err := crdt.AnchorOffset(seq, crdt.Anchor{Atom: cID, Bias: crdt.Before})
	require.NoError(t, err)
	assert.Equal(t, 2, offset, "offset of A,B before the now-deleted C")
}
