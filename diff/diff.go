// Package diff computes a minimal-edit grapheme-cluster diff between two
// strings, used by the edit package to lower a whole-text replacement into
// the individual insert/delete operations a sequence CRDT understands.
package diff

import (
	"fmt"
	"unicode/utf8"

	"github.com/rivo/uniseg"
)

type OpType int

const (
	Keep OpType = iota
	Insert
	Delete
)

// Operation is a single step of a diff: keep, insert, or delete one
// grapheme cluster (not a rune — see the package doc).
type Operation struct {
	Op      OpType
	Cluster string
	Dist    int
}

func graphemes(s string) ([]string, error) {
	if !utf8.ValidString(s) {
		return nil, fmt.Errorf("diff: invalid utf8 string")
	}
	var out []string
	gr := uniseg.NewGraphemes(s)
	for gr.Next() {
		out = append(out, gr.Str())
	}
	return out, nil
}

// Diff returns the sequence of keeps, inserts and deletes that transforms
// s1 into s2, operating on grapheme clusters so that combining characters
// and emoji sequences are never split (spec.md §4.7: "offsets are in
// grapheme clusters").
//
// This is the same dynamic-programming edit-distance table construction
// used throughout this module's lineage, generalized from runes to
// grapheme clusters.
func Diff(s1, s2 string) ([]Operation, error) {
	chars1, err := graphemes(s1)
	if err != nil {
		return nil, fmt.Errorf("s1: %w", err)
	}
	chars2, err := graphemes(s2)
	if err != nil {
		return nil, fmt.Errorf("s2: %w", err)
	}
	m, n := len(chars2), len(chars1)
	ops := make([]Operation, (m+1)*(n+1))
	coord := func(i, j int) int {
		return i*(n+1) + j
	}
	// Diff between s1 and an empty string: delete all clusters.
	for j, ch := range chars1 {
		ops[coord(m, j)] = Operation{Op: Delete, Cluster: ch, Dist: n - j}
	}
	// Diff between an empty string and s2: insert all clusters.
	for i, ch := range chars2 {
		ops[coord(i, n)] = Operation{Op: Insert, Cluster: ch, Dist: m - i}
	}
	// Compute all paths of operations that produce minimal edit distance.
	for i := m - 1; i >= 0; i-- {
		for j := n - 1; j >= 0; j-- {
			ch1, ch2 := chars1[j], chars2[i]
			if ch1 == ch2 {
				dist := ops[coord(i+1, j+1)].Dist
				ops[coord(i, j)] = Operation{Op: Keep, Cluster: ch1, Dist: dist}
				continue
			}
			// Pick smallest dist between possible sequences, preferring
			// insert on a tie.
			op1 := ops[coord(i, j+1)]
			op2 := ops[coord(i+1, j)]
			if op2.Dist <= op1.Dist {
				ops[coord(i, j)] = Operation{Op: Insert, Cluster: chars2[i], Dist: 1 + op2.Dist}
			} else {
				ops[coord(i, j)] = Operation{Op: Delete, Cluster: chars1[j], Dist: 1 + op1.Dist}
			}
		}
	}
	// Build sequence of operations.
	var operations []Operation
	var i, j int
	for i < m || j < n {
		op := ops[coord(i, j)]
		operations = append(operations, op)
		switch op.Op {
		case Keep:
			i++
			j++
		case Insert:
			i++
		case Delete:
			j++
		}
	}
	return operations, nil
}

// Distance returns the number of inserted/deleted grapheme clusters to
// transform s1 into s2.
func Distance(s1, s2 string) (int, error) {
	operations, err := Diff(s1, s2)
	if err != nil {
		return 0, err
	}
	if len(operations) == 0 {
		return 0, nil
	}
	return operations[0].Dist, nil
}
