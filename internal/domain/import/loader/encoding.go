package loader

import (
	"bytes"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	xunicode "golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// EncodingUTF8 is reported for BOM-less valid UTF-8 and for UTF-8 with a BOM.
const EncodingUTF8 = "utf-8"

// DefaultEncodingPriority favours Central European code pages, which most
// non-UTF-8 statements in the wild use.
var DefaultEncodingPriority = []string{"windows-1250", "iso-8859-2", "windows-1252"}

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// DecodeText converts content to UTF-8 and returns the name of the source encoding.
// BOMs win; valid UTF-8 passes through; otherwise each candidate code page in
// priority order is scored and the best one is used.
func DecodeText(content []byte, priority []string) (string, string) {
	switch {
	case bytes.HasPrefix(content, bomUTF8):
		return string(content[len(bomUTF8):]), EncodingUTF8
	case bytes.HasPrefix(content, bomUTF16LE), bytes.HasPrefix(content, bomUTF16BE):
		dec := xunicode.BOMOverride(xunicode.UTF8.NewDecoder())
		if out, _, err := transform.Bytes(dec, content); err == nil {
			if bytes.HasPrefix(content, bomUTF16LE) {
				return string(out), "utf-16le"
			}
			return string(out), "utf-16be"
		}
	}

	if utf8.Valid(content) {
		return string(content), EncodingUTF8
	}

	if len(priority) == 0 {
		priority = DefaultEncodingPriority
	}

	bestName, bestText, bestScore := "", "", 0
	for _, name := range priority {
		enc, err := htmlindex.Get(name)
		if err != nil {
			continue
		}
		text, ok := decodeWith(enc, content)
		if !ok {
			continue
		}
		if score := scoreDecoded(text); bestName == "" || score > bestScore {
			bestName, bestText, bestScore = name, text, score
		}
	}
	if bestName == "" {
		return strings.ToValidUTF8(string(content), "\uFFFD"), EncodingUTF8
	}
	return bestText, bestName
}

func decodeWith(enc encoding.Encoding, content []byte) (string, bool) {
	out, err := enc.NewDecoder().Bytes(content)
	if err != nil {
		return "", false
	}
	return string(out), true
}

// scoreDecoded rewards non-ASCII letters and penalises control and replacement
// characters, which appear when a code page is the wrong guess.
func scoreDecoded(text string) int {
	score := 0
	for _, r := range text {
		if r < utf8.RuneSelf {
			continue
		}
		switch {
		case r == utf8.RuneError, unicode.IsControl(r):
			score -= 3
		case unicode.IsLetter(r):
			score++
		case unicode.IsPunct(r), unicode.IsSymbol(r), unicode.IsSpace(r):
		default:
			score--
		}
	}
	return score
}

// SplitLines normalises line endings, strips a leading BOM and drops trailing
// empty lines.
func SplitLines(text string) []string {
	text = strings.TrimPrefix(text, "\ufeff")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
