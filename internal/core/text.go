package core

import (
	"io"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// NewTextReader wraps r so the CSV reader always sees UTF-8 text.
//
// A leading byte order mark is consumed. A UTF-16 BOM (Excel's "Unicode
// Text" export) switches decoding to UTF-16. Without a BOM the input is read
// as UTF-8 and invalid sequences become U+FFFD instead of failing the parse.
func NewTextReader(r io.Reader) io.Reader {
	return transform.NewReader(r, transform.Chain(
		unicode.BOMOverride(unicode.UTF8.NewDecoder()),
		runes.ReplaceIllFormed(),
	))
}
