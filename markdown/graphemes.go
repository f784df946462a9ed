package markdown

import "github.com/rivo/uniseg"

// graphemeClusters splits s into user-perceived characters, so that the
// parser mints one text atom per grapheme cluster rather than per byte or
// rune (spec.md §4.7).
func graphemeClusters(s string) []string {
	var out []string
	gr := uniseg.NewGraphemes(s)
	for gr.Next() {
		out = append(out, gr.Str())
	}
	return out
}
