package mt940

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// letters that carry no combining mark in Unicode and so survive NFD.
var letterTable = map[rune]string{
	'ł': "l", 'Ł': "L",
	'ß': "ss",
	'æ': "ae", 'Æ': "AE",
	'ø': "o", 'Ø': "O",
	'đ': "d", 'Đ': "D",
	'œ': "oe", 'Œ': "OE",
	'þ': "th", 'Þ': "TH",
	'ı': "i",
	'–': "-", '—': "-",
	'‘': "'", '’': "'",
	'“': "'", '”': "'", '"': "'",
	'€': "EUR",
}

// isSwiftX reports whether r belongs to the SWIFT X character set.
func isSwiftX(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	return strings.ContainsRune("/-?:().,'+ ", r)
}

// transliterate maps s onto the SWIFT X set. Accents are stripped, the
// letter table applied, and whatever remains outside the set becomes a space.
// dropped counts the runes that had no representation.
func transliterate(s string) (out string, dropped int) {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}

	var b strings.Builder
	b.Grow(len(stripped))
	for _, r := range stripped {
		if isSwiftX(r) {
			b.WriteRune(r)
			continue
		}
		if repl, ok := letterTable[r]; ok {
			b.WriteString(repl)
			continue
		}
		if unicode.IsSpace(r) {
			b.WriteByte(' ')
			continue
		}
		dropped++
		b.WriteByte(' ')
	}
	return strings.Join(strings.Fields(b.String()), " "), dropped
}

// sanitizeReference keeps the reference characters allowed in field 61.
func sanitizeReference(ref string) string {
	clean, _ := transliterate(ref)
	clean = strings.ReplaceAll(clean, " ", "")
	clean = strings.TrimLeft(clean, "/")
	// "//" opens the bank reference subfield of field 61.
	for strings.Contains(clean, "//") {
		clean = strings.ReplaceAll(clean, "//", "/")
	}
	if len(clean) > referenceLength {
		clean = clean[:referenceLength]
	}
	return strings.TrimRight(clean, "/")
}

// wrap splits text into lines of at most width characters, breaking at the
// last space when there is one. truncated reports text beyond maxLines.
func wrap(text string, width, maxLines int) (lines []string, truncated bool) {
	for text != "" {
		if len(lines) == maxLines {
			return lines, true
		}
		if len(text) <= width {
			lines = append(lines, text)
			break
		}
		cut := strings.LastIndexByte(text[:width+1], ' ')
		if cut <= 0 {
			cut = width
		}
		lines = append(lines, strings.TrimRight(text[:cut], " "))
		text = strings.TrimLeft(text[cut:], " ")
	}
	return lines, false
}

// guardLine prevents a continuation line from being read as a new field or
// as the message terminator.
func guardLine(line string) string {
	if strings.HasPrefix(line, "-") || strings.HasPrefix(line, ":") {
		return "." + line[1:]
	}
	return line
}
