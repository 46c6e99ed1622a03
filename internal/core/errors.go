package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a pipeline failure by the stage that produced it.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindFetch
	KindExtraction
	KindEmbedding
	KindIndexing
)

func (k ErrorKind) String() string {
	switch k {
	case KindFetch:
		return "fetch"
	case KindExtraction:
		return "extraction"
	case KindEmbedding:
		return "embedding"
	case KindIndexing:
		return "indexing"
	default:
		return "unknown"
	}
}

var (
	ErrBlobNotFound      = errors.New("blob not found")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrNoIndexableText   = errors.New("document contains no indexable text")
	ErrDocumentTooLarge  = errors.New("document exceeds size limit")
	ErrJobActive         = errors.New("an ingestion job is already active for this document")
	ErrJobNotFound       = errors.New("job not found")
	ErrInvalidRequest    = errors.New("invalid request")
)

// PipelineError is the failure variant of every stage outcome.
type PipelineError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *PipelineError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

func FetchError(op string, err error) error {
	return &PipelineError{Kind: KindFetch, Op: op, Err: err}
}

func ExtractionError(op string, err error) error {
	return &PipelineError{Kind: KindExtraction, Op: op, Err: err}
}

func EmbeddingError(op string, err error) error {
	return &PipelineError{Kind: KindEmbedding, Op: op, Err: err}
}

func IndexingError(op string, err error) error {
	return &PipelineError{Kind: KindIndexing, Op: op, Err: err}
}

// KindOf reports the outermost stage kind in err's chain.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// IsKind reports whether any error in err's chain has the given kind.
func IsKind(err error, kind ErrorKind) bool {
	for err != nil {
		var pe *PipelineError
		if !errors.As(err, &pe) {
			return false
		}
		if pe.Kind == kind {
			return true
		}
		err = pe.Err
	}
	return false
}
