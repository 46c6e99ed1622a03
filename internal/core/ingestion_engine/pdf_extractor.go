package ingestion_engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/markdave123-py/docindex/internal/core"
)

var _ core.DocumentExtractor = (*PDFExtractor)(nil)

// PDFExtractor reads page text with the pure-Go ledongthuc/pdf parser.
type PDFExtractor struct {
	maxPages int
}

func NewPDFExtractor(maxPages int) *PDFExtractor {
	return &PDFExtractor{maxPages: maxPages}
}

func (e *PDFExtractor) Extract(ctx context.Context, data []byte) (out *core.ExtractedText, err error) {
	if len(data) == 0 {
		return nil, core.ExtractionError("parse pdf", errors.New("empty document"))
	}

	// The parser panics on some malformed xref tables.
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, core.ExtractionError("parse pdf", fmt.Errorf("parser panic: %v", r))
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, core.ExtractionError("parse pdf", err)
	}

	pages := reader.NumPage()
	if e.maxPages > 0 && pages > e.maxPages {
		return nil, core.ExtractionError("parse pdf",
			fmt.Errorf("%w: %d pages, limit %d", core.ErrDocumentTooLarge, pages, e.maxPages))
	}

	var sb strings.Builder
	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, core.ExtractionError("parse pdf", err)
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// one unreadable page should not sink the document
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(text)
	}

	return &core.ExtractedText{
		Text:      sb.String(),
		PageCount: pages,
		Metadata:  map[string]string{"extractor": "pdf"},
	}, nil
}
