package textutil

import (
	"html"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// invisible are the filler characters bulk senders pad preview text with:
// combining grapheme joiner, zero-width space/non-joiner/joiner, BOM and NBSP.
var invisible = runes.In(&unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x00A0, Hi: 0x00A0, Stride: 1},
		{Lo: 0x034F, Hi: 0x034F, Stride: 1},
		{Lo: 0x200B, Hi: 0x200D, Stride: 1},
		{Lo: 0xFEFF, Hi: 0xFEFF, Stride: 1},
	},
})

// CleanSnippet strips invisible padding characters from a provider snippet,
// decodes HTML entities and trims surrounding whitespace.
func CleanSnippet(s string) string {
	s = html.UnescapeString(EnsureUTF8(s))
	out, _, err := transform.String(runes.Remove(invisible), s)
	if err != nil {
		out = s
	}
	return strings.TrimSpace(out)
}
