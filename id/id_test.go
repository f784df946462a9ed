package id_test

import (
	"testing"

	"github.com/brunokim/mdcrdt/id"
	"github.com/google/go-cmp/cmp"
)

func TestOpIdCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b id.OpId
		want int
	}{
		{"equal", id.OpId{Counter: 3, Peer: 1}, id.OpId{Counter: 3, Peer: 1}, 0},
		{"lower counter wins", id.OpId{Counter: 1, Peer: 9}, id.OpId{Counter: 2, Peer: 0}, -1},
		{"same counter, lower peer wins", id.OpId{Counter: 5, Peer: 1}, id.OpId{Counter: 5, Peer: 2}, -1},
		{"same counter, higher peer loses", id.OpId{Counter: 5, Peer: 2}, id.OpId{Counter: 5, Peer: 1}, +1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Compare(tt.b); got != tt.want {
				t.Errorf("Compare(%v, %v) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestOpIdIsBoundary(t *testing.T) {
	if !(id.OpId{}).IsBoundary() {
		t.Error("zero value should be a boundary")
	}
	if (id.OpId{Counter: 1, Peer: 0}).IsBoundary() {
		t.Error("counter 1 should not be a boundary")
	}
}

func TestStateVectorHasSeen(t *testing.T) {
	sv := id.New()
	sv[1] = 3
	tests := []struct {
		op   id.OpId
		want bool
	}{
		{id.OpId{Counter: 1, Peer: 1}, true},
		{id.OpId{Counter: 3, Peer: 1}, true},
		{id.OpId{Counter: 4, Peer: 1}, false},
		{id.OpId{Counter: 1, Peer: 2}, false},
	}
	for _, tt := range tests {
		if got := sv.HasSeen(tt.op); got != tt.want {
			t.Errorf("HasSeen(%v) = %v, want %v", tt.op, got, tt.want)
		}
	}
}

func TestStateVectorAdvance(t *testing.T) {
	sv := id.New()
	if !sv.Advance(id.OpId{Counter: 1, Peer: 7}) {
		t.Fatal("expected advance to 1 to succeed")
	}
	if sv.Advance(id.OpId{Counter: 3, Peer: 7}) {
		t.Fatal("expected advance with a gap to fail")
	}
	if !sv.Advance(id.OpId{Counter: 2, Peer: 7}) {
		t.Fatal("expected advance to 2 to succeed")
	}
	if !sv.HasSeen(id.OpId{Counter: 2, Peer: 7}) {
		t.Error("expected counter 2 to be seen")
	}
}

func TestStateVectorMerge(t *testing.T) {
	a := id.New()
	a[1] = 5
	a[2] = 1
	b := id.New()
	b[2] = 3
	b[3] = 7

	got := a.Merge(b)
	want := id.StateVector{1: 5, 2: 3, 3: 7}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Merge() mismatch (-want +got):\n%s", diff)
	}

	// a itself must be unchanged (Merge returns a new vector).
	if a[2] != 1 {
		t.Errorf("Merge mutated receiver: a[2] = %d, want 1", a[2])
	}
}

func TestStateVectorMergeFrom(t *testing.T) {
	a := id.New()
	a[1] = 5
	b := id.StateVector{1: 2, 2: 9}
	a.MergeFrom(b)
	want := id.StateVector{1: 5, 2: 9}
	if diff := cmp.Diff(want, a); diff != "" {
		t.Errorf("MergeFrom() mismatch (-want +got):\n%s", diff)
	}
}
