// Package sniffer inspects delimited statement text: it finds the header row
// and delimiter, fingerprints the header and infers the regional dialect of
// amounts and dates.
package sniffer

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"strings"
	"unicode"

	"github.com/cloudflare/ahocorasick"
)

// Header vocabulary of the statement exports we see, lower case.
var headerKeywords = []string{
	// English
	"date", "description", "amount", "debit", "credit", "balance", "reference", "currency",
	"details", "payee", "value date", "booking date",
	// Polish
	"data operacji", "data księgowania", "data ksiegowania", "data waluty", "opis", "tytuł", "tytul",
	"kwota", "saldo", "kontrahent", "obciążenia", "uznania", "waluta", "nr rachunku",
	// German
	"buchungstag", "valuta", "wertstellung", "verwendungszweck", "betrag", "umsatz", "soll", "haben",
	// Portuguese
	"data mov", "descrição", "descricao", "débito", "debito", "crédito", "credito", "data valor",
	// Spanish
	"fecha", "descripción", "descripcion", "importe", "cargo", "abono",
}

var headerMatcher = ahocorasick.NewStringMatcher(headerKeywords)

// Candidate delimiters in tie-break order.
var delimiters = []rune{';', '\t', ',', '|'}

const (
	// headerSearchDepth bounds how deep into the document the header row may be.
	headerSearchDepth = 20
	defaultSamples    = 5
)

var (
	ErrEmptyFile        = errors.New("file is empty")
	ErrNoHeadersFound   = errors.New("could not find data headers")
	ErrInvalidDelimiter = errors.New("could not detect valid delimiter")
)

// Layout is the sniffed shape of a delimited statement.
type Layout struct {
	Delimiter   rune
	HeaderRow   int      // zero-based
	Headers     []string // trimmed header cells
	Fingerprint string   // see Fingerprint
	SampleRows  [][]string
}

// Options override parts of the detection.
type Options struct {
	// HeaderRow pins the header line. -1 searches for it.
	HeaderRow int
	// Delimiter overrides the detected delimiter when non-zero.
	Delimiter rune
	// Samples is the number of data rows returned, 5 when zero.
	Samples int
}

// Sniff detects the header row and delimiter of lines.
func Sniff(lines []string) (*Layout, error) {
	return SniffWithOptions(lines, Options{HeaderRow: -1})
}

// SniffWithOptions detects the layout of lines, honouring opts.
func SniffWithOptions(lines []string, opts Options) (*Layout, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyFile
	}

	var head headerCandidate
	if opts.HeaderRow >= 0 {
		if opts.HeaderRow >= len(lines) {
			return nil, ErrNoHeadersFound
		}
		head = inspect(lines, opts.HeaderRow)
		if head.delimiter == 0 && opts.Delimiter == 0 {
			return nil, ErrInvalidDelimiter
		}
	} else {
		var ok bool
		if head, ok = locateHeader(lines); !ok {
			return nil, ErrNoHeadersFound
		}
	}
	if opts.Delimiter != 0 {
		head.delimiter = opts.Delimiter
	}

	headers, err := SplitRecord(head.text, head.delimiter)
	if err != nil {
		return nil, err
	}
	for i := range headers {
		headers[i] = strings.TrimSpace(headers[i])
	}

	samples := opts.Samples
	if samples <= 0 {
		samples = defaultSamples
	}
	return &Layout{
		Delimiter:   head.delimiter,
		HeaderRow:   head.row,
		Headers:     headers,
		Fingerprint: Fingerprint(headers),
		SampleRows:  sampleRows(lines, head.delimiter, head.row+1, samples),
	}, nil
}

// SplitRecord splits one line into fields, honouring double quotes.
func SplitRecord(line string, delimiter rune) ([]string, error) {
	reader := csv.NewReader(strings.NewReader(line))
	reader.Comma = delimiter
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	return reader.Read()
}

// DetectDelimiter returns the most frequent candidate delimiter of line, or 0.
func DetectDelimiter(line string) rune {
	d, _ := dominantDelimiter(line)
	return d
}

// Fingerprint hashes the header names with case, punctuation and the
// delimiter stripped, so one bank layout always yields the same value.
func Fingerprint(headers []string) string {
	names := make([]string, 0, len(headers))
	for _, h := range headers {
		name := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return unicode.ToLower(r)
			}
			return -1
		}, h)
		if name != "" {
			names = append(names, name)
		}
	}
	sum := sha256.Sum256([]byte(strings.Join(names, "|")))
	return hex.EncodeToString(sum[:])
}

// headerCandidate is one line considered as the header.
type headerCandidate struct {
	row       int
	text      string
	delimiter rune
	fields    int // delimiter occurrences
	hits      int // header keywords found
}

func inspect(lines []string, row int) headerCandidate {
	text := trimLine(lines[row], row == 0)
	d, n := dominantDelimiter(text)
	c := headerCandidate{row: row, text: text, delimiter: d, fields: n}
	if n > 0 {
		c.hits = len(headerMatcher.MatchThreadSafe([]byte(strings.ToLower(text))))
	}
	return c
}

// locateHeader prefers the widest line carrying header keywords; preamble
// lines such as "Waluta;PLN" match keywords too but have few columns. Without
// any keyword line the widest delimited line wins.
func locateHeader(lines []string) (headerCandidate, bool) {
	var keyword, plain headerCandidate
	keyword.row, plain.row = -1, -1

	for row := 0; row < len(lines) && row <= headerSearchDepth; row++ {
		c := inspect(lines, row)
		if strings.TrimSpace(c.text) == "" || c.fields == 0 {
			continue
		}
		switch {
		case c.hits > 0:
			if keyword.row < 0 || c.fields*10+c.hits > keyword.fields*10+keyword.hits {
				keyword = c
			}
		case c.fields > plain.fields:
			plain = c
		}
	}

	if keyword.row >= 0 && keyword.fields >= 2 {
		return keyword, true
	}
	if plain.row >= 0 && plain.fields >= 2 {
		return plain, true
	}
	return headerCandidate{}, false
}

// trimLine drops the byte order mark and the line ending. Leading
// delimiters are kept: they separate empty cells.
func trimLine(line string, first bool) string {
	if first {
		line = strings.TrimPrefix(line, "\uFEFF")
	}
	return strings.TrimRight(line, "\r\n")
}

func dominantDelimiter(line string) (rune, int) {
	best, bestCount := rune(0), 0
	for _, d := range delimiters {
		if n := strings.Count(line, string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best, bestCount
}

// sampleRows returns up to limit non-empty records from start on.
func sampleRows(lines []string, delimiter rune, start, limit int) [][]string {
	var rows [][]string
	for i := start; i < len(lines) && len(rows) < limit; i++ {
		line := trimLine(lines[i], false)
		if strings.TrimSpace(line) == "" {
			continue
		}
		if record, err := SplitRecord(line, delimiter); err == nil {
			rows = append(rows, record)
		}
	}
	return rows
}
