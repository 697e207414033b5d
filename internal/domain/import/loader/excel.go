package loader

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/xuri/excelize/v2"
)

// preferredSheets are names banks give to the transaction sheet, best first.
var preferredSheets = []string{
	"transactions", "transakcje", "historia", "operacje", "wyciag", "umsaetze",
	"movimentos", "extrato", "statement", "data", "sheet1",
}

// readWorkbook returns the cell rows of the transaction sheet and its name.
// Fully empty rows are dropped and cells are flattened to a single line.
func readWorkbook(content []byte) ([][]string, string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, "", fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, "", fmt.Errorf("workbook has no sheets")
	}

	var firstNonEmpty string
	var firstRows [][]string
	for _, name := range orderSheets(sheets) {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read sheet %s: %w", name, err)
		}
		rows = cleanRows(rows)
		if len(rows) == 0 {
			continue
		}
		if isPreferredSheet(name) {
			return rows, name, nil
		}
		if firstNonEmpty == "" {
			firstNonEmpty, firstRows = name, rows
		}
	}

	return firstRows, firstNonEmpty, nil
}

// orderSheets puts exact preferred matches first, then fuzzy matches ranked by
// distance, then the remaining sheets in workbook order.
func orderSheets(sheets []string) []string {
	type ranked struct {
		name string
		rank int
	}
	var exact, fuzzyMatches, rest []ranked
	for _, sheet := range sheets {
		best := -1
		isExact := false
		for i, preferred := range preferredSheets {
			if strings.EqualFold(strings.TrimSpace(sheet), preferred) {
				isExact = true
				best = i
				break
			}
			if r := fuzzy.RankMatchNormalizedFold(preferred, sheet); r >= 0 && (best < 0 || r < best) {
				best = r
			}
		}
		switch {
		case isExact:
			exact = append(exact, ranked{sheet, best})
		case best >= 0:
			fuzzyMatches = append(fuzzyMatches, ranked{sheet, best})
		default:
			rest = append(rest, ranked{sheet, 0})
		}
	}

	sort.SliceStable(exact, func(i, j int) bool { return exact[i].rank < exact[j].rank })
	sort.SliceStable(fuzzyMatches, func(i, j int) bool { return fuzzyMatches[i].rank < fuzzyMatches[j].rank })

	out := make([]string, 0, len(sheets))
	for _, group := range [][]ranked{exact, fuzzyMatches, rest} {
		for _, r := range group {
			out = append(out, r.name)
		}
	}
	return out
}

func isPreferredSheet(name string) bool {
	for _, preferred := range preferredSheets {
		if strings.EqualFold(strings.TrimSpace(name), preferred) || fuzzy.MatchNormalizedFold(preferred, name) {
			return true
		}
	}
	return false
}

func cleanRows(rows [][]string) [][]string {
	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		cells := make([]string, len(row))
		empty := true
		for i, cell := range row {
			cells[i] = sanitizeCell(cell)
			if cells[i] != "" {
				empty = false
			}
		}
		if empty {
			continue
		}
		for len(cells) > 0 && cells[len(cells)-1] == "" {
			cells = cells[:len(cells)-1]
		}
		out = append(out, cells)
	}
	return out
}

var cellReplacer = strings.NewReplacer("\t", " ", "\r\n", " ", "\n", " ", "\r", " ")

func sanitizeCell(s string) string {
	return strings.TrimSpace(cellReplacer.Replace(s))
}

// RenderTabs joins each row with tabs. This is the primary rendering of a spreadsheet.
func RenderTabs(rows [][]string) []string {
	lines := make([]string, len(rows))
	for i, row := range rows {
		lines[i] = strings.Join(row, "\t")
	}
	return lines
}

// RenderDelimited renders rows as delimited text with RFC 4180 quoting.
func RenderDelimited(rows [][]string, delimiter rune) []string {
	lines := make([]string, 0, len(rows))
	var buf bytes.Buffer
	for _, row := range rows {
		buf.Reset()
		w := csv.NewWriter(&buf)
		w.Comma = delimiter
		if err := w.Write(row); err != nil {
			lines = append(lines, strings.Join(row, string(delimiter)))
			continue
		}
		w.Flush()
		lines = append(lines, strings.TrimRight(buf.String(), "\r\n"))
	}
	return lines
}
