// Package textutil provides text cleanup helpers for message headers and snippets.
package textutil

import (
	"strings"
	"unicode/utf8"

	"github.com/gogs/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// fallbackEncodings are tried in order when detection is inconclusive.
// Western single-byte charsets dominate marketing mail, so they go first.
var fallbackEncodings = []encoding.Encoding{
	charmap.Windows1252,
	charmap.ISO8859_1,
	charmap.ISO8859_15,
	japanese.ShiftJIS,
	korean.EUCKR,
	simplifiedchinese.GBK,
}

// EnsureUTF8 returns s unchanged when it is valid UTF-8. Otherwise it tries
// charset detection, then a list of common mail charsets, and finally
// replaces the invalid bytes.
func EnsureUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	data := []byte(s)

	minConfidence := 30
	if len(data) > 50 {
		minConfidence = 50
	}
	if res, err := chardet.NewTextDetector().DetectBest(data); err == nil && res.Confidence >= minConfidence {
		if enc := EncodingByName(res.Charset); enc != nil {
			if out, ok := decodeWith(enc, data); ok {
				return out
			}
		}
	}

	for _, enc := range fallbackEncodings {
		if out, ok := decodeWith(enc, data); ok {
			return out
		}
	}
	return SanitizeUTF8(s)
}

func decodeWith(enc encoding.Encoding, data []byte) (string, bool) {
	decoded, err := enc.NewDecoder().Bytes(data)
	if err != nil || !utf8.Valid(decoded) {
		return "", false
	}
	return string(decoded), true
}

// SanitizeUTF8 replaces invalid UTF-8 bytes with U+FFFD.
func SanitizeUTF8(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}

// EncodingByName maps an IANA charset name (as reported by chardet or a
// Content-Type header) to an encoding. Unknown names return nil.
func EncodingByName(name string) encoding.Encoding {
	switch strings.ToLower(name) {
	case "windows-1252", "cp1252":
		return charmap.Windows1252
	case "iso-8859-1", "latin1", "latin-1":
		return charmap.ISO8859_1
	case "iso-8859-15", "latin9":
		return charmap.ISO8859_15
	case "iso-8859-2", "latin2":
		return charmap.ISO8859_2
	case "shift_jis", "shift-jis", "sjis":
		return japanese.ShiftJIS
	case "euc-jp", "eucjp":
		return japanese.EUCJP
	case "iso-2022-jp":
		return japanese.ISO2022JP
	case "euc-kr", "euckr":
		return korean.EUCKR
	case "gb2312", "gbk":
		return simplifiedchinese.GBK
	case "gb18030":
		return simplifiedchinese.GB18030
	case "koi8-r":
		return charmap.KOI8R
	default:
		return nil
	}
}

// TruncateRunes shortens s to at most maxRunes runes, ending in "..." when cut.
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	if maxRunes <= 3 {
		return string(runes[:maxRunes])
	}
	return string(runes[:maxRunes-3]) + "..."
}
