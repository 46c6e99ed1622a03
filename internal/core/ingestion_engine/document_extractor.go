package ingestion_engine

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"code.sajari.com/docconv"

	"github.com/markdave123-py/docindex/internal/core"
)

var _ core.DocumentExtractor = (*DocconvExtractor)(nil)

// DocconvExtractor implements core.DocumentExtractor using sajari/docconv.
// PDF conversion shells out to poppler's pdftotext and pdfinfo.
type DocconvExtractor struct {
	useReadability bool
	maxPages       int
}

func NewDocconvExtractor(useReadability bool, maxPages int) *DocconvExtractor {
	return &DocconvExtractor{useReadability: useReadability, maxPages: maxPages}
}

func (e *DocconvExtractor) Extract(ctx context.Context, data []byte) (*core.ExtractedText, error) {
	res, err := docconv.Convert(bytes.NewReader(data), "application/pdf", e.useReadability)
	if err != nil {
		return nil, core.ExtractionError("docconv", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, core.ExtractionError("docconv", err)
	}
	if res.Error != "" {
		return nil, core.ExtractionError("docconv", fmt.Errorf("%s", res.Error))
	}

	pages := pageCountFromMeta(res.Meta)
	if e.maxPages > 0 && pages > e.maxPages {
		return nil, core.ExtractionError("docconv",
			fmt.Errorf("%w: %d pages, limit %d", core.ErrDocumentTooLarge, pages, e.maxPages))
	}

	meta := map[string]string{"extractor": "docconv"}
	for k, v := range res.Meta {
		meta[k] = v
	}
	return &core.ExtractedText{Text: res.Body, PageCount: pages, Metadata: meta}, nil
}

// pageCountFromMeta reads pdfinfo's "Pages" field. Zero means unknown.
func pageCountFromMeta(meta map[string]string) int {
	n, err := strconv.Atoi(strings.TrimSpace(meta["Pages"]))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
