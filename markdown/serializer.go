package markdown

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/brunokim/mdcrdt/crdt"
	"github.com/brunokim/mdcrdt/document"
)

// Render serializes doc to Markdown text. When exact is true, a block
// whose rawSource is still faithful (RawSource's second return value) is
// emitted byte-for-byte; every other block falls back to the structural
// renderer. This is the resolution of the open question on exact- vs.
// structural-mode rendering: fall back to structural as soon as any atom
// in the block did not survive untouched since parsing (spec.md §4.6).
func Render(doc *document.Document, exact bool) (string, error) {
	var sb strings.Builder
	fmText, err := renderFrontmatter(doc.Frontmatter.Snapshot())
	if err != nil {
		return "", err
	}
	sb.WriteString(fmText)

	blocks := doc.VisibleBlocks()
	for i, b := range blocks {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		if exact {
			if src, ok := b.RawSource(); ok {
				sb.WriteString(strings.TrimRight(src, "\n"))
				continue
			}
		}
		s, err := renderBlock(doc, b)
		if err != nil {
			return "", err
		}
		sb.WriteString(s)
	}
	sb.WriteString("\n")
	return sb.String(), nil
}

func renderBlock(doc *document.Document, b *document.Block) (string, error) {
	switch b.Kind() {
	case document.Heading:
		level := 1
		if v, ok := b.Attrs.Get(document.AttrHeadingLevel); ok {
			level = v.(int)
		}
		text, err := renderInline(b)
		if err != nil {
			return "", err
		}
		return strings.Repeat("#", level) + " " + text, nil
	case document.Paragraph:
		return renderInline(b)
	case document.CodeFence:
		info := ""
		if v, ok := b.Attrs.Get(document.AttrFenceInfo); ok {
			info = v.(string)
		}
		return "```" + info + "\n" + b.PlainText() + "\n```", nil
	case document.RawBlock:
		return b.PlainText(), nil
	case document.ThematicBreak:
		return "---", nil
	case document.BlockQuote:
		inner, err := renderChildren(doc, b, "\n\n")
		if err != nil {
			return "", err
		}
		var out []string
		for _, line := range strings.Split(inner, "\n") {
			out = append(out, strings.TrimRight("> "+line, " "))
		}
		return strings.Join(out, "\n"), nil
	case document.List:
		return renderList(doc, b)
	case document.Table:
		return renderTable(doc, b)
	default:
		return renderInline(b)
	}
}

func childBlocks(doc *document.Document, b *document.Block) []*document.Block {
	var out []*document.Block
	for _, childID := range b.Children.VisibleIDs() {
		if c, ok := doc.Blocks[childID]; ok {
			out = append(out, c)
		}
	}
	return out
}

func renderChildren(doc *document.Document, b *document.Block, sep string) (string, error) {
	var parts []string
	for _, c := range childBlocks(doc, b) {
		s, err := renderBlock(doc, c)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, sep), nil
}

func renderList(doc *document.Document, b *document.Block) (string, error) {
	ordered := false
	if v, ok := b.Attrs.Get(document.AttrListOrdered); ok {
		ordered = v.(bool)
	}
	var lines []string
	for i, item := range childBlocks(doc, b) {
		inner, err := renderChildren(doc, item, "\n\n")
		if err != nil {
			return "", err
		}
		marker := "- "
		if ordered {
			marker = strconv.Itoa(i+1) + ". "
		}
		indented := indentContinuation(inner, strings.Repeat(" ", len(marker)))
		lines = append(lines, marker+indented)
	}
	return strings.Join(lines, "\n"), nil
}

func indentContinuation(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i := 1; i < len(lines); i++ {
		lines[i] = prefix + lines[i]
	}
	return strings.Join(lines, "\n")
}

func renderTable(doc *document.Document, b *document.Block) (string, error) {
	var aligns []string
	if v, ok := b.Attrs.Get(document.AttrTableAligns); ok {
		aligns = v.([]string)
	}
	rows := childBlocks(doc, b)
	var lines []string
	for ri, row := range rows {
		cells := childBlocks(doc, row)
		var rendered []string
		for _, c := range cells {
			s, err := renderInline(c)
			if err != nil {
				return "", err
			}
			rendered = append(rendered, s)
		}
		lines = append(lines, "| "+strings.Join(rendered, " | ")+" |")
		if ri == 0 {
			sepCells := make([]string, len(cells))
			for i := range sepCells {
				align := ""
				if i < len(aligns) {
					align = aligns[i]
				}
				sepCells[i] = alignmentMarker(align)
			}
			lines = append(lines, "| "+strings.Join(sepCells, " | ")+" |")
		}
	}
	return strings.Join(lines, "\n"), nil
}

func alignmentMarker(align string) string {
	switch align {
	case "left":
		return ":---"
	case "right":
		return "---:"
	case "center":
		return ":---:"
	default:
		return "---"
	}
}

// markSpan is a resolved, offset-bounded view of a crdt.MarkInterval used
// for rendering.
type markSpan struct {
	start, end int
	kind       crdt.MarkKind
	attrs      map[string]interface{}
}

func resolvedMarks(b *document.Block) ([]markSpan, error) {
	var spans []markSpan
	for _, iv := range b.Marks.Effective() {
		start, err := crdt.AnchorOffset(b.Text, iv.Start)
		if err != nil {
			return nil, fmt.Errorf("markdown: resolving mark start: %w", err)
		}
		end, err := crdt.AnchorOffset(b.Text, iv.End)
		if err != nil {
			return nil, fmt.Errorf("markdown: resolving mark end: %w", err)
		}
		if end <= start {
			continue
		}
		spans = append(spans, markSpan{start: start, end: end, kind: iv.Kind, attrs: iv.Attrs.Snapshot()})
	}
	// Outer marks (wider spans) must open before narrower ones nested
	// inside them, so sort by start ascending, then by span length
	// descending.
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return (spans[i].end - spans[i].start) > (spans[j].end - spans[j].start)
	})
	return spans, nil
}

func openTag(kind crdt.MarkKind, attrs map[string]interface{}) string {
	switch kind {
	case crdt.Bold:
		return "**"
	case crdt.Italic:
		return "*"
	case crdt.Code:
		return "`"
	case crdt.Strike:
		return "~~"
	case crdt.Link:
		return "["
	case crdt.Image:
		return "!["
	default:
		return ""
	}
}

func closeTag(kind crdt.MarkKind, attrs map[string]interface{}) string {
	switch kind {
	case crdt.Bold:
		return "**"
	case crdt.Italic:
		return "*"
	case crdt.Code:
		return "`"
	case crdt.Strike:
		return "~~"
	case crdt.Link, crdt.Image:
		href, _ := attrs["href"].(string)
		return "](" + href + ")"
	default:
		return ""
	}
}

// renderInline renders a leaf block's text with its effective marks
// overlaid as Markdown inline syntax. Marks whose ranges cross (neither
// nested nor disjoint) are flattened into per-segment active sets, so a
// mark may legally close and reopen around a competing span rather than
// produce invalid nesting (the resolved policy for overlapping marks:
// spec.md §4.4 leaves merge-on-serialize behavior to the implementation).
func renderInline(b *document.Block) (string, error) {
	graphemes := b.Text.Values()
	spans, err := resolvedMarks(b)
	if err != nil {
		return "", err
	}
	if len(spans) == 0 {
		return escapeText(strings.Join(graphemes, "")), nil
	}

	breakpoints := map[int]bool{0: true, len(graphemes): true}
	for _, sp := range spans {
		breakpoints[sp.start] = true
		breakpoints[sp.end] = true
	}
	offsets := make([]int, 0, len(breakpoints))
	for o := range breakpoints {
		offsets = append(offsets, o)
	}
	sort.Ints(offsets)

	var sb strings.Builder
	var active []markSpan
	for i := 0; i+1 < len(offsets); i++ {
		start, end := offsets[i], offsets[i+1]
		var nowActive []markSpan
		for _, sp := range spans {
			if sp.start <= start && sp.end >= end {
				nowActive = append(nowActive, sp)
			}
		}
		// Keep the outermost open marks that stay active; close everything
		// above them, innermost (most recently opened) first, so a mark that
		// crosses an ending one is closed here and reopened below.
		keep := 0
		for keep < len(active) && containsSpan(nowActive, active[keep]) {
			keep++
		}
		for j := len(active) - 1; j >= keep; j-- {
			sb.WriteString(closeTag(active[j].kind, active[j].attrs))
		}
		active = active[:keep]
		// Open newly active (or reopen closed) marks, outermost first.
		for _, sp := range nowActive {
			if !containsSpan(active, sp) {
				sb.WriteString(openTag(sp.kind, sp.attrs))
				active = append(active, sp)
			}
		}
		sb.WriteString(escapeText(strings.Join(graphemes[start:end], "")))
	}
	for j := len(active) - 1; j >= 0; j-- {
		sb.WriteString(closeTag(active[j].kind, active[j].attrs))
	}
	return sb.String(), nil
}

// containsSpan compares by (kind, start, end) rather than struct equality,
// since markSpan carries a map field and is therefore not comparable with
// ==.
func containsSpan(spans []markSpan, target markSpan) bool {
	for _, sp := range spans {
		if sp.kind == target.kind && sp.start == target.start && sp.end == target.end {
			return true
		}
	}
	return false
}

// escapeText backslash-escapes the emphasis, code-span and link
// punctuation (\ * _ ` [ ]) so it is not reinterpreted as inline syntax.
// Other Markdown syntax in plain text, such as ~, or #, >, - and list
// numbers at the start of a line, is left unescaped.
func escapeText(s string) string {
	replacer := strings.NewReplacer(
		"\\", "\\\\",
		"*", "\\*",
		"_", "\\_",
		"`", "\\`",
		"[", "\\[",
		"]", "\\]",
	)
	return replacer.Replace(s)
}
