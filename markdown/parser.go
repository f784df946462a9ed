// Package markdown parses Markdown (with YAML frontmatter and GitHub
// Flavored Markdown extensions) into a document.Document, minting fresh
// CRDT operations as it goes, and serializes a document.Document back to
// Markdown text.
package markdown

import (
	"fmt"

	"github.com/yuin/goldmark"
	gmast "github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"github.com/brunokim/mdcrdt/crdt"
	"github.com/brunokim/mdcrdt/document"
	"github.com/brunokim/mdcrdt/id"
)

var gm = goldmark.New(goldmark.WithExtensions(extension.GFM))

// Parse turns Markdown source into a fresh document.Document. Every atom
// it mints carries peer as its replica id, so a freshly parsed document
// behaves exactly like one built by a sequence of local edits from that
// peer (spec.md §4.6).
func Parse(peer uint64, source string) (*document.Document, error) {
	fm, body, _, err := splitFrontmatter(source)
	if err != nil {
		return nil, fmt.Errorf("markdown: parsing frontmatter: %w", err)
	}
	doc := document.New(peer)
	for k, v := range fm {
		if _, err := doc.SetFrontmatter(k, v); err != nil {
			return nil, err
		}
	}

	src := []byte(body)
	root := gm.Parser().Parse(text.NewReader(src))

	offset := 0
	for n := root.FirstChild(); n != nil; n = n.NextSibling() {
		if _, err := appendBlock(doc, nil, offset, n, src); err != nil {
			return nil, err
		}
		offset++
	}
	return doc, nil
}

// appendBlock inserts a single top-level-or-nested block for AST node n.
// parent is nil for top-level blocks, or the container block when n is a
// list item / blockquote child.
func appendBlock(doc *document.Document, parent *document.Block, offset int, n gmast.Node, src []byte) (*document.Block, error) {
	kind, attrs := classify(n, src)

	var blk *document.Block
	var err error
	if parent == nil {
		_, blk, err = doc.InsertBlock(offset, kind)
	} else {
		blk, err = insertChildBlock(doc, parent, offset, kind)
	}
	if err != nil {
		return nil, err
	}
	for k, v := range attrs {
		if _, err := doc.SetBlockAttr(blk.ID, k, v); err != nil {
			return nil, err
		}
	}

	switch n.Kind() {
	case gmast.KindParagraph, gmast.KindHeading, gmast.KindTextBlock:
		if err := appendInlines(doc, blk, n, src); err != nil {
			return nil, err
		}
	case gmast.KindFencedCodeBlock, gmast.KindCodeBlock:
		if err := appendLinesVerbatim(doc, blk, n, src); err != nil {
			return nil, err
		}
	case gmast.KindHTMLBlock:
		if err := appendLinesVerbatim(doc, blk, n, src); err != nil {
			return nil, err
		}
	case gmast.KindBlockquote, gmast.KindList, gmast.KindListItem:
		childOffset := 0
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			if _, err := appendBlock(doc, blk, childOffset, c, src); err != nil {
				return nil, err
			}
			childOffset++
		}
	case extast.KindTable:
		if err := appendTable(doc, blk, n, src); err != nil {
			return nil, err
		}
	}

	blk.SetRawSource(string(n.Text(src)))
	return blk, nil
}

// insertChildBlock mints a detached block (its own Text/Children/Marks,
// not placed in any order) and links it into parent's child order at
// offset.
func insertChildBlock(doc *document.Document, parent *document.Block, offset int, kind document.BlockKind) (*document.Block, error) {
	_, blk, err := doc.CreateBlock(kind)
	if err != nil {
		return nil, err
	}
	if _, err := doc.InsertChild(parent.ID, offset, blk.ID); err != nil {
		return nil, err
	}
	return blk, nil
}

func classify(n gmast.Node, src []byte) (document.BlockKind, map[string]interface{}) {
	switch v := n.(type) {
	case *gmast.Heading:
		return document.Heading, map[string]interface{}{document.AttrHeadingLevel: v.Level}
	case *gmast.FencedCodeBlock:
		info := ""
		if v.Info != nil {
			info = string(v.Info.Text(src))
		}
		return document.CodeFence, map[string]interface{}{document.AttrFenceInfo: info}
	case *gmast.CodeBlock:
		return document.CodeFence, nil
	case *gmast.Blockquote:
		return document.BlockQuote, nil
	case *gmast.List:
		return document.List, map[string]interface{}{
			document.AttrListOrdered: v.IsOrdered(),
			document.AttrListTight:  v.IsTight,
		}
	case *gmast.ListItem:
		return document.ListItem, nil
	case *gmast.ThematicBreak:
		return document.ThematicBreak, nil
	case *gmast.HTMLBlock:
		return document.RawBlock, map[string]interface{}{document.AttrRawKind: "html"}
	case *extast.Table:
		aligns := make([]string, len(v.Alignments))
		for i, a := range v.Alignments {
			aligns[i] = alignmentString(a)
		}
		return document.Table, map[string]interface{}{document.AttrTableAligns: aligns}
	default:
		return document.Paragraph, nil
	}
}

func alignmentString(a extast.Alignment) string {
	switch a {
	case extast.AlignLeft:
		return "left"
	case extast.AlignRight:
		return "right"
	case extast.AlignCenter:
		return "center"
	default:
		return ""
	}
}

// appendLinesVerbatim appends a node's raw source lines to blk's text
// without inline parsing (used for code and raw HTML blocks).
func appendLinesVerbatim(doc *document.Document, blk *document.Block, n gmast.Node, src []byte) error {
	lines := n.Lines()
	var text string
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		text += string(seg.Value(src))
	}
	return appendText(doc, blk, text)
}

// appendInlines walks n's inline children, appending their text and
// recording marks for emphasis/strong/code/strike/link/image spans.
func appendInlines(doc *document.Document, blk *document.Block, n gmast.Node, src []byte) error {
	return walkInline(doc, blk, n, src)
}

func walkInline(doc *document.Document, blk *document.Block, n gmast.Node, src []byte) error {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch v := c.(type) {
		case *gmast.Text:
			if err := appendText(doc, blk, string(v.Segment.Value(src))); err != nil {
				return err
			}
		case *gmast.String:
			if err := appendText(doc, blk, string(v.Value)); err != nil {
				return err
			}
		case *gmast.CodeSpan:
			start := blk.Text.Len()
			if err := walkInline(doc, blk, c, src); err != nil {
				return err
			}
			if err := addMarkOverRange(doc, blk, crdt.Code, start, blk.Text.Len(), nil); err != nil {
				return err
			}
		case *gmast.Emphasis:
			start := blk.Text.Len()
			if err := walkInline(doc, blk, c, src); err != nil {
				return err
			}
			kind := crdt.Italic
			if v.Level >= 2 {
				kind = crdt.Bold
			}
			if err := addMarkOverRange(doc, blk, kind, start, blk.Text.Len(), nil); err != nil {
				return err
			}
		case *extast.Strikethrough:
			start := blk.Text.Len()
			if err := walkInline(doc, blk, c, src); err != nil {
				return err
			}
			if err := addMarkOverRange(doc, blk, crdt.Strike, start, blk.Text.Len(), nil); err != nil {
				return err
			}
		case *gmast.Link:
			start := blk.Text.Len()
			if err := walkInline(doc, blk, c, src); err != nil {
				return err
			}
			attrs := map[string]interface{}{"href": string(v.Destination)}
			if len(v.Title) > 0 {
				attrs["title"] = string(v.Title)
			}
			if err := addMarkOverRange(doc, blk, crdt.Link, start, blk.Text.Len(), attrs); err != nil {
				return err
			}
		case *gmast.Image:
			start := blk.Text.Len()
			if err := walkInline(doc, blk, c, src); err != nil {
				return err
			}
			attrs := map[string]interface{}{"href": string(v.Destination)}
			if len(v.Title) > 0 {
				attrs["title"] = string(v.Title)
			}
			if err := addMarkOverRange(doc, blk, crdt.Image, start, blk.Text.Len(), attrs); err != nil {
				return err
			}
		case *gmast.AutoLink:
			if err := appendText(doc, blk, string(v.URL(src))); err != nil {
				return err
			}
		default:
			if err := walkInline(doc, blk, c, src); err != nil {
				return err
			}
		}
	}
	return nil
}

// appendText inserts each grapheme cluster of s at the end of blk's text.
func appendText(doc *document.Document, blk *document.Block, s string) error {
	gr := graphemeClusters(s)
	for _, cl := range gr {
		if _, err := doc.InsertText(blk.ID, blk.Text.Len(), cl); err != nil {
			return err
		}
	}
	return nil
}

// addMarkOverRange adds a mark covering the visible offsets [start, end)
// of blk's text, using the atoms at the range's edges as anchors.
func addMarkOverRange(doc *document.Document, blk *document.Block, kind crdt.MarkKind, start, end int, attrs map[string]interface{}) error {
	ids, err := blk.Text.IDRange(start, end)
	if err != nil || len(ids) == 0 {
		return nil
	}
	startAnchor := crdt.Anchor{Atom: ids[0], Bias: crdt.Before}
	endAnchor := crdt.Anchor{Atom: ids[len(ids)-1], Bias: crdt.After}
	op, err := doc.AddMark(blk.ID, kind, startAnchor, endAnchor)
	if err != nil {
		return err
	}
	for k, v := range attrs {
		if _, err := doc.SetMarkAttr(blk.ID, op.ID, k, v); err != nil {
			return err
		}
	}
	return nil
}

func appendTable(doc *document.Document, blk *document.Block, n gmast.Node, src []byte) error {
	rowOffset := 0
	for r := n.FirstChild(); r != nil; r = r.NextSibling() {
		isHeader := r.Kind() == extast.KindTableHeader
		rowBlk, err := insertChildBlock(doc, blk, rowOffset, document.ListItem)
		if err != nil {
			return err
		}
		if isHeader {
			if _, err := doc.SetBlockAttr(rowBlk.ID, document.AttrTableHeader, true); err != nil {
				return err
			}
		}
		cellOffset := 0
		for cell := r.FirstChild(); cell != nil; cell = cell.NextSibling() {
			cellBlk, err := insertChildBlock(doc, rowBlk, cellOffset, document.Paragraph)
			if err != nil {
				return err
			}
			if err := walkInline(doc, cellBlk, cell, src); err != nil {
				return err
			}
			cellOffset++
		}
		rowOffset++
	}
	return nil
}
