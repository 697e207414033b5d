package loader

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kamilgrymuza/csv2mt/internal/domain/statement"
)

// readPDFPages lifts plain text from every page. Pages whose text cannot be
// decoded are returned empty. The pdf library panics on some malformed files,
// so panics are turned into errors.
func readPDFPages(content []byte) (pages []statement.Page, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("pdf reader crashed: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}

	numPages := r.NumPage()
	if numPages == 0 {
		return nil, fmt.Errorf("pdf has no pages")
	}

	pages = make([]statement.Page, 0, numPages)
	for i := 1; i <= numPages; i++ {
		pages = append(pages, statement.Page{Number: i, Text: pageText(r.Page(i))})
	}
	return pages, nil
}

func pageText(p pdf.Page) (text string) {
	defer func() {
		if recover() != nil {
			text = ""
		}
	}()

	if p.V.IsNull() {
		return ""
	}

	fonts := make(map[string]*pdf.Font)
	for _, name := range p.Fonts() {
		f := p.Font(name)
		fonts[name] = &f
	}

	text, err := p.GetPlainText(fonts)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}
