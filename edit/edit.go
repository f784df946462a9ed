// Package edit provides grapheme-offset editing operations over a
// document.Document: the surface a text-editor UI calls, which lowers
// each call to the primitive CRDT operations in package document.
package edit

import (
	"github.com/brunokim/mdcrdt/crdt"
	"github.com/brunokim/mdcrdt/diff"
	"github.com/brunokim/mdcrdt/document"
	"github.com/brunokim/mdcrdt/id"
	"github.com/rivo/uniseg"
)

func graphemes(s string) []string {
	var out []string
	gr := uniseg.NewGraphemes(s)
	for gr.Next() {
		out = append(out, gr.Str())
	}
	return out
}

// InsertText inserts text at the given grapheme offset within blockID's
// text, minting one atom per grapheme cluster (spec.md §4.7). It returns
// the ops minted, in order, for replication.
func InsertText(doc *document.Document, blockID id.OpId, offset int, text string) ([]document.Op, error) {
	var ops []document.Op
	for i, cl := range graphemes(text) {
		op, err := doc.InsertText(blockID, offset+i, cl)
		if err != nil {
			return ops, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// DeleteRange tombstones the grapheme clusters in [start, end) within
// blockID's text.
func DeleteRange(doc *document.Document, blockID id.OpId, start, end int) ([]document.Op, error) {
	blk, ok := doc.Blocks[blockID]
	if !ok {
		return nil, document.ErrUnknownBlock
	}
	targets, err := blk.Text.IDRange(start, end)
	if err != nil {
		return nil, err
	}
	var ops []document.Op
	for _, target := range targets {
		op, err := doc.DeleteText(blockID, target)
		if err != nil {
			return ops, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// ReplaceText replaces the entirety of blockID's visible text with
// newText, lowering the change to a minimal sequence of inserts and
// deletes via a grapheme-level diff (package diff) rather than clearing
// and retyping — so concurrent edits elsewhere in the block, and any
// marks anchored to untouched atoms, survive the replacement.
func ReplaceText(doc *document.Document, blockID id.OpId, newText string) ([]document.Op, error) {
	blk, ok := doc.Blocks[blockID]
	if !ok {
		return nil, document.ErrUnknownBlock
	}
	ops, err := diff.Diff(blk.PlainText(), newText)
	if err != nil {
		return nil, err
	}

	var out []document.Op
	liveOffset := 0
	for _, o := range ops {
		switch o.Op {
		case diff.Keep:
			liveOffset++
		case diff.Insert:
			op, err := doc.InsertText(blockID, liveOffset, o.Cluster)
			if err != nil {
				return out, err
			}
			out = append(out, op)
			liveOffset++
		case diff.Delete:
			targets, err := blk.Text.IDRange(liveOffset, liveOffset+1)
			if err != nil || len(targets) != 1 {
				return out, err
			}
			op, err := doc.DeleteText(blockID, targets[0])
			if err != nil {
				return out, err
			}
			out = append(out, op)
			// liveOffset stays put: the deletion shifted the remaining
			// old-text position into the slot we just vacated.
		}
	}
	return out, nil
}

// AddMarkRange adds a formatting mark over the grapheme range [start, end)
// of blockID's text, resolving the range's edge atoms into anchors.
func AddMarkRange(doc *document.Document, blockID id.OpId, kind crdt.MarkKind, start, end int) (document.Op, error) {
	blk, ok := doc.Blocks[blockID]
	if !ok {
		return document.Op{}, document.ErrUnknownBlock
	}
	targets, err := blk.Text.IDRange(start, end)
	if err != nil {
		return document.Op{}, err
	}
	var startAnchor, endAnchor crdt.Anchor
	if len(targets) == 0 {
		startAnchor = crdt.Anchor{Atom: id.OpId{}, Bias: crdt.Before}
		endAnchor = crdt.Anchor{Atom: id.OpId{}, Bias: crdt.Before}
	} else {
		startAnchor = crdt.Anchor{Atom: targets[0], Bias: crdt.Before}
		endAnchor = crdt.Anchor{Atom: targets[len(targets)-1], Bias: crdt.After}
	}
	return doc.AddMark(blockID, kind, startAnchor, endAnchor)
}
