// Package document assembles the CRDTs in package crdt into a Markdown
// document: an ordered sequence of blocks, each carrying text, inline
// marks, or child blocks depending on its kind, plus a frontmatter map.
package document

import (
	"github.com/brunokim/mdcrdt/crdt"
	"github.com/brunokim/mdcrdt/id"
)

// BlockKind identifies the structural role of a block. Kind-specific
// metadata (heading level, fence info string, list ordering, table
// alignments, ...) lives in the block's Attrs map rather than in separate
// Go types, so that a concurrent SetBlockKind and a concurrent SetAttr
// compose the same way any other LWW write does.
type BlockKind string

const (
	Paragraph     BlockKind = "paragraph"
	Heading       BlockKind = "heading"
	CodeFence     BlockKind = "code_fence"
	BlockQuote    BlockKind = "block_quote"
	List          BlockKind = "list"
	ListItem      BlockKind = "list_item"
	RawBlock      BlockKind = "raw_block"
	Table         BlockKind = "table"
	ThematicBreak BlockKind = "thematic_break"
)

// Well-known Attrs keys. Kind-specific, set by the markdown parser and
// editable via SetAttr.
const (
	AttrHeadingLevel = "level"          // int, Heading
	AttrFenceInfo    = "info"           // string, CodeFence
	AttrListOrdered  = "ordered"        // bool, List
	AttrListTight    = "tight"          // bool, List
	AttrRawKind      = "raw_kind"       // string, RawBlock ("html", ...)
	AttrTableAligns  = "alignments"     // []string, Table
	AttrTableHeader  = "header_row"     // bool, Table row blocks
)

// isContainerKind reports whether blocks of kind k hold an ordered sequence
// of child block IDs (containers) rather than text content and inline marks
// (leaves).
func isContainerKind(k BlockKind) bool {
	switch k {
	case BlockQuote, List, ListItem, Table:
		return true
	default:
		return false
	}
}

// Block is a single node of the document tree. Depending on Kind it uses
// either Text+Marks (leaf content) or Children (container content); both
// fields are always allocated so that SetBlockKind can convert between
// the two without losing already-integrated atoms.
type Block struct {
	ID       id.OpId
	kind     *crdt.Register
	Attrs    *crdt.Map
	Text     *crdt.Sequence[string]
	Marks    *crdt.MarkSet
	Children *crdt.Sequence[id.OpId]

	// rawSource holds the original Markdown span this block was parsed
	// from, and dirty tracks whether any edit has touched the block since
	// parsing. The exact serializer (package markdown) uses these to decide
	// between emitting rawSource byte-for-byte and falling back to the
	// structural renderer.
	rawSource string
	dirty     bool
}

func newBlock(blockID id.OpId, opID id.OpId, kind BlockKind) *Block {
	b := &Block{
		ID:       blockID,
		kind:     &crdt.Register{},
		Attrs:    crdt.NewMap(),
		Text:     crdt.NewSequence[string](),
		Marks:    crdt.NewMarkSet(),
		Children: crdt.NewSequence[id.OpId](),
	}
	b.kind.Set(opID, kind)
	return b
}

// Kind returns the block's current kind.
func (b *Block) Kind() BlockKind {
	v, ok := b.kind.Get()
	if !ok {
		return Paragraph
	}
	return v.(BlockKind)
}

// SetKind overwrites the block's kind with LWW semantics, per opID.
func (b *Block) SetKind(opID id.OpId, kind BlockKind) bool {
	return b.kind.Set(opID, kind)
}

// IsContainer reports whether this block holds child blocks rather than
// text (spec.md §3: container vs. leaf blocks).
func (b *Block) IsContainer() bool {
	return isContainerKind(b.Kind())
}

// PlainText concatenates the block's visible grapheme clusters.
func (b *Block) PlainText() string {
	var sb []byte
	for _, v := range b.Text.Values() {
		sb = append(sb, v...)
	}
	return string(sb)
}

// SetRawSource records the original source span a freshly parsed block
// came from, and clears its dirty flag. Called only by package markdown.
func (b *Block) SetRawSource(src string) {
	b.rawSource = src
	b.dirty = false
}

// RawSource and Dirty expose the bookkeeping SetRawSource maintains, used
// by the exact serializer to decide whether rawSource is still faithful.
func (b *Block) RawSource() (string, bool) {
	return b.rawSource, b.rawSource != "" && !b.dirty
}

func (b *Block) markDirty() {
	b.dirty = true
}

func (b *Block) clone() *Block {
	cp := &Block{
		ID:        b.ID,
		kind:      &crdt.Register{},
		Attrs:     b.Attrs.Clone(),
		Text:      b.Text.Clone(),
		Marks:     b.Marks.Clone(),
		Children:  b.Children.Clone(),
		rawSource: b.rawSource,
		dirty:     b.dirty,
	}
	if v, ok := b.kind.Get(); ok {
		opID, _ := b.kind.OpId()
		cp.kind.Set(opID, v)
	}
	return cp
}
