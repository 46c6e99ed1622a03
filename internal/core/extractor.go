package core

import "context"

// ExtractedText represents the result of text extraction.
type ExtractedText struct {
	Text      string
	PageCount int
	Metadata  map[string]string
}

// DocumentExtractor turns raw document bytes into a flat text stream plus page count.
type DocumentExtractor interface {
	Extract(ctx context.Context, data []byte) (*ExtractedText, error)
}
