package extractor

import (
	"fmt"
	"strings"

	"github.com/kamilgrymuza/csv2mt/internal/domain/statement"
)

// Chunk is an ordered, read-only slice of a document.
type Chunk struct {
	Index int
	// Text is the chunk content. Context repeats the document's leading
	// lines for chunks after the first and is never extracted from.
	Text    string
	Context string
	// Units is the number of lines or pages in the chunk.
	Units int
}

// SplitLines partitions lines into non-overlapping chunks of at most size
// lines. Chunks after the first carry the first contextLines lines of the
// document as context.
func SplitLines(lines []string, size, contextLines int) []Chunk {
	if len(lines) == 0 {
		return nil
	}
	if size <= 0 {
		size = len(lines)
	}
	contextLines = min(max(contextLines, 0), len(lines))
	header := strings.Join(lines[:contextLines], "\n")

	chunks := make([]Chunk, 0, (len(lines)+size-1)/size)
	for start := 0; start < len(lines); start += size {
		end := min(start+size, len(lines))
		c := Chunk{
			Index: len(chunks),
			Text:  strings.Join(lines[start:end], "\n"),
			Units: end - start,
		}
		if start > 0 {
			c.Context = header
		}
		chunks = append(chunks, c)
	}
	return chunks
}

// SplitPages partitions pages into non-overlapping chunks of at most size
// pages. Page boundaries are marked in the text.
func SplitPages(pages []statement.Page, size int) []Chunk {
	if len(pages) == 0 {
		return nil
	}
	if size <= 0 {
		size = len(pages)
	}

	chunks := make([]Chunk, 0, (len(pages)+size-1)/size)
	for start := 0; start < len(pages); start += size {
		end := min(start+size, len(pages))
		var b strings.Builder
		for _, p := range pages[start:end] {
			fmt.Fprintf(&b, "--- page %d ---\n%s\n", p.Number, p.Text)
		}
		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Text:  strings.TrimRight(b.String(), "\n"),
			Units: end - start,
		})
	}
	return chunks
}
