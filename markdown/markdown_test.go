package markdown_test

import (
	"strings"
	"testing"

	"github.com/brunokim/mdcrdt/markdown"
	"github.com/stretchr/testify/require"
)

func TestParseFrontmatterAndParagraph(t *testing.T) {
	src := "---\ntitle: Hello\n---\nHello *world*.\n"
	doc, err := markdown.Parse(1, src)
	require.NoError(t, err)

	v, ok := doc.Frontmatter.Get("title")
	require.True(t, ok)
	require.Equal(t, "Hello", v)

	blocks := doc.VisibleBlocks()
	require.Len(t, blocks, 1)
	require.Contains(t, blocks[0].PlainText(), "Hello")
}

func TestParseHeadingLevel(t *testing.T) {
	doc, err := markdown.Parse(1, "## Section\n")
	require.NoError(t, err)
	blocks := doc.VisibleBlocks()
	require.Len(t, blocks, 1)
	v, ok := blocks[0].Attrs.Get("level")
	require.True(t, ok)
	require.Equal(t, 2, v)
}

func TestRenderStructuralRoundTripsPlainParagraph(t *testing.T) {
	doc, err := markdown.Parse(1, "Hello world\n")
	require.NoError(t, err)
	out, err := markdown.Render(doc, false)
	require.NoError(t, err)
	require.True(t, strings.Contains(out, "Hello world"))
}

func TestRenderBoldMark(t *testing.T) {
	doc, err := markdown.Parse(1, "Hello **world**\n")
	require.NoError(t, err)
	out, err := markdown.Render(doc, false)
	require.NoError(t, err)
	require.Contains(t, out, "**world**")
}

func TestRenderCodeFence(t *testing.T) {
	doc, err := markdown.Parse(1, "```go\nfmt.Println(1)\n```\n")
	require.NoError(t, err)
	out, err := markdown.Render(doc, false)
	require.NoError(t, err)
	require.Contains(t, out, "```go")
	require.Contains(t, out, "fmt.Println(1)")
}
