package ingestion_engine

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/markdave123-py/docindex/internal/config"
	"github.com/markdave123-py/docindex/internal/models"
)

// segmentPattern matches a sentence-like run and its terminating punctuation.
var segmentPattern = regexp.MustCompile(`[^.!?]+[.!?]*`)

// Chunker groups sentence segments into size-bounded chunks. All lengths are
// counted in runes. It is a pure function of its input and thresholds.
//
// minChars:     a chunk is flushed on overflow only once it is longer than this.
// idealChars:   a chunk is flushed as soon as it reaches this length.
// maxChars:     no chunk is longer than this.
// overlapWords: trailing words of the last flushed segment that seed the next chunk.
// noiseFloor:   a final chunk shorter than this is dropped.
type Chunker struct {
	minChars     int
	idealChars   int
	maxChars     int
	overlapWords int
	noiseFloor   int
}

func NewChunker(c config.ChunkingConfig) *Chunker {
	return &Chunker{
		minChars:     c.MinChars,
		idealChars:   c.IdealChars,
		maxChars:     c.MaxChars,
		overlapWords: c.OverlapWords,
		noiseFloor:   c.NoiseFloor,
	}
}

// Chunk splits text into chunks indexed 0..n-1 in source order.
func (c *Chunker) Chunk(text string) []models.TextChunk {
	var (
		chunks []models.TextChunk
		buf    []string
		bufLen int
		// fresh is false while buf holds nothing but the seeded overlap.
		fresh bool
	)

	// flush emits buf as a chunk when it carries new text, then clears it.
	flush := func() {
		if fresh && bufLen > 0 {
			chunks = append(chunks, models.TextChunk{
				Index: len(chunks),
				Text:  strings.Join(buf, " "),
			})
		}
		buf = buf[:0]
		bufLen = 0
		fresh = false
	}

	for _, seg := range c.segments(text) {
		n := utf8.RuneCountInString(seg)

		if bufLen > 0 && bufLen+1+n > c.maxChars && bufLen > c.minChars {
			flush()
		}

		if bufLen > 0 {
			bufLen++
		}
		buf = append(buf, seg)
		bufLen += n
		fresh = true

		if bufLen >= c.idealChars {
			flush()
			if tail := lastWords(seg, c.overlapWords); tail != "" {
				buf = append(buf, tail)
				bufLen = utf8.RuneCountInString(tail)
			}
		}
	}

	if fresh && bufLen >= c.noiseFloor {
		flush()
	}
	return chunks
}

// segments returns whitespace-normalised sentence segments. Segments longer
// than maxChars-minChars-1 are split so that a buffer at or under minChars can
// always take the next segment without passing maxChars.
func (c *Chunker) segments(text string) []string {
	limit := c.maxChars - c.minChars - 1
	if limit < 1 {
		limit = 1
	}

	var out []string
	for _, m := range segmentPattern.FindAllString(text, -1) {
		seg := strings.Join(strings.Fields(m), " ")
		if seg == "" {
			continue
		}
		if utf8.RuneCountInString(seg) <= limit {
			out = append(out, seg)
			continue
		}
		out = append(out, splitWords(seg, limit)...)
	}
	return out
}

// splitWords packs the words of seg into pieces of at most limit runes.
// A single word longer than limit is cut.
func splitWords(seg string, limit int) []string {
	var (
		out    []string
		cur    strings.Builder
		curLen int
	)
	for _, w := range strings.Fields(seg) {
		for _, piece := range cutRunes(w, limit) {
			pl := utf8.RuneCountInString(piece)
			if curLen > 0 && curLen+1+pl > limit {
				out = append(out, cur.String())
				cur.Reset()
				curLen = 0
			}
			if curLen > 0 {
				cur.WriteByte(' ')
				curLen++
			}
			cur.WriteString(piece)
			curLen += pl
		}
	}
	if curLen > 0 {
		out = append(out, cur.String())
	}
	return out
}

func cutRunes(w string, limit int) []string {
	if utf8.RuneCountInString(w) <= limit {
		return []string{w}
	}
	r := []rune(w)
	var out []string
	for len(r) > limit {
		out = append(out, string(r[:limit]))
		r = r[limit:]
	}
	if len(r) > 0 {
		out = append(out, string(r))
	}
	return out
}

func lastWords(s string, n int) string {
	if n <= 0 {
		return ""
	}
	words := strings.Fields(s)
	if len(words) > n {
		words = words[len(words)-n:]
	}
	return strings.Join(words, " ")
}
