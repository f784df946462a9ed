package crdt_test

import (
	"testing"

	"github.com/brunokim/mdcrdt/crdt"
	"github.com/brunokim/mdcrdt/id"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func atom(counter, peer uint64, originLeft, originRight id.OpId, payload string) crdt.Atom[string] {
	return crdt.Atom[string]{
		ID:          id.OpId{Counter: counter, Peer: peer},
		OriginLeft:  originLeft,
		OriginRight: originRight,
		Payload:     payload,
	}
}

func TestSequenceIntegrateSequentialInsert(t *testing.T) {
	seq := crdt.NewSequence[string]()
	require.NoError(t, seq.Integrate(atom(1, 1, id.OpId{}, id.OpId{}, "A")))
	require.NoError(t, seq.Integrate(atom(2, 1, id.OpId{Counter: 1, Peer: 1}, id.OpId{}, "C")))

	if diff := cmp.Diff([]string{"A", "C"}, seq.Values()); diff != "" {
		t.Errorf("Values() mismatch (-want +got):\n%s", diff)
	}
}

// TestSequenceIntegrateConcurrentConvergesBothOrders reproduces spec.md §8
// scenario 1: starting from "AC", two replicas concurrently insert "B" and
// "X" between A and C. Regardless of integration order, both replicas must
// converge on the same result.
func TestSequenceIntegrateConcurrentConvergesBothOrders(t *testing.T) {
	a := id.OpId{Counter: 1, Peer: 1} // "A"
	c := id.OpId{}                    // End boundary as origin_right of A's insert point; see below

	build := func(order []int) []string {
		seq := crdt.NewSequence[string]()
		require.NoError(t, seq.Integrate(atom(1, 1, id.OpId{}, id.OpId{}, "A")))
		require.NoError(t, seq.Integrate(atom(2, 1, a, id.OpId{}, "C")))
		cID := id.OpId{Counter: 2, Peer: 1}
		ops := map[int]crdt.Atom[string]{
			1: atom(3, 1, a, cID, "B"),
			2: atom(3, 2, a, cID, "X"),
		}
		for _, k := range order {
			require.NoError(t, seq.Integrate(ops[k]))
		}
		return seq.Values()
	}
	_ = c

	orderBX := build([]int{1, 2})
	orderXB := build([]int{2, 1})

	if diff := cmp.Diff(orderBX, orderXB); diff != "" {
		t.Errorf("convergence violated depending on delivery order (-BX +XB):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"A", "X", "B", "C"}, orderBX); diff != "" {
		t.Errorf("Values() mismatch (-want +got):\n%s", diff)
	}
}

func TestSequenceIntegrateIsIdempotent(t *testing.T) {
	seq := crdt.NewSequence[string]()
	a := atom(1, 1, id.OpId{}, id.OpId{}, "A")
	require.NoError(t, seq.Integrate(a))
	require.NoError(t, seq.Integrate(a))
	require.Equal(t, 1, len(seq.Atoms))
}

func TestSequenceIntegrateMissingOriginErrors(t *testing.T) {
	seq := crdt.NewSequence[string]()
	missing := id.OpId{Counter: 9, Peer: 9}
	err := seq.Integrate(atom(1, 1, missing, id.OpId{}, "A"))
	require.ErrorIs(t, err, crdt.ErrMissingOrigin)
}

func TestSequenceDeleteTombstonesWithoutShrinkingWeave(t *testing.T) {
	seq := crdt.NewSequence[string]()
	a := atom(1, 1, id.OpId{}, id.OpId{}, "A")
	require.NoError(t, seq.Integrate(a))
	require.NoError(t, seq.Delete(a.ID, id.OpId{Counter: 2, Peer: 1}))

	require.Equal(t, 1, len(seq.Atoms), "tombstones stay in the weave (I4)")
	require.Equal(t, 0, seq.Len())
	require.True(t, seq.IsDeleted(a.ID))
}

func TestSequenceOriginsForOffsetSkipsTombstones(t *testing.T) {
	seq := crdt.NewSequence[string]()
	a := atom(1, 1, id.OpId{}, id.OpId{}, "A")
	b := atom(2, 1, a.ID, id.OpId{}, "B")
	require.NoError(t, seq.Integrate(a))
	require.NoError(t, seq.Integrate(b))
	require.NoError(t, seq.Delete(a.ID, id.OpId{Counter: 3, Peer: 1}))

	left, right, err := seq.OriginsForOffset(0)
	require.NoError(t, err)
	require.Equal(t, id.OpId{}, left)
	require.Equal(t, b.ID, right)
}

// stateMachine is a rapid state-machine model generalizing the teacher's
// ctree_property_test.go pattern to the origin-pair RGA: every actual
// insert/delete is mirrored against a plain slice model, and both must
// agree after every step.
type stateMachine struct {
	seq    *crdt.Sequence[string]
	model  []rune
	nextOp uint64
}

func (m *stateMachine) Init(t *rapid.T) {
	m.seq = crdt.NewSequence[string]()
	m.model = nil
	m.nextOp = 1
}

func (m *stateMachine) InsertCharAt(t *rapid.T) {
	offset := rapid.IntRange(0, len(m.model)).Draw(t, "offset")
	ch := rapid.RuneFrom([]rune("abcXYZ")).Draw(t, "ch")

	left, right, err := m.seq.OriginsForOffset(offset)
	if err != nil {
		t.Fatalf("OriginsForOffset(%d): %v", offset, err)
	}
	opID := id.OpId{Counter: m.nextOp, Peer: 1}
	m.nextOp++
	if err := m.seq.Integrate(crdt.Atom[string]{
		ID: opID, OriginLeft: left, OriginRight: right, Payload: string(ch),
	}); err != nil {
		t.Fatalf("Integrate: %v", err)
	}

	tail := append([]rune{}, m.model[offset:]...)
	m.model = append(append(m.model[:offset:offset], ch), tail...)
}

func (m *stateMachine) DeleteCharAt(t *rapid.T) {
	if len(m.model) == 0 {
		t.Skip("model is empty")
	}
	offset := rapid.IntRange(0, len(m.model)-1).Draw(t, "offset")
	ids, err := m.seq.IDRange(offset, offset+1)
	if err != nil || len(ids) != 1 {
		t.Fatalf("IDRange(%d, %d): %v", offset, offset+1, err)
	}
	if err := m.seq.Delete(ids[0], id.OpId{Counter: m.nextOp, Peer: 1}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	m.nextOp++
	m.model = append(m.model[:offset:offset], m.model[offset+1:]...)
}

func (m *stateMachine) Check(t *rapid.T) {
	want := string(m.model)
	got := ""
	for _, v := range m.seq.Values() {
		got += v
	}
	if got != want {
		t.Fatalf("Values() = %q, want %q", got, want)
	}
}

func TestSequenceStateMachine(t *testing.T) {
	rapid.Check(t, rapid.Run(&stateMachine{}))
}
