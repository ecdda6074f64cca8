// Package chunker splits document text into overlapping, sentence-aware
// segments sized for embedding and retrieval.
package chunker

import (
	"fmt"
	"unicode/utf8"
)

// Segment is one chunk of the source text.
//
// Start and End are byte offsets into the original text and Text equals
// text[Start:End]. Consecutive segments overlap: concatenating the
// non-overlapping portions text[prev.End:cur.End] in order reconstructs
// the original text exactly.
type Segment struct {
	Text  string
	Start int
	End   int
}

// Chunker packs sentences into segments of at most MaxChars bytes, with
// up to Overlap bytes of the previous segment repeated at the start of
// the next one.
type Chunker struct {
	maxChars int
	overlap  int
}

// New creates a chunker. overlap must be smaller than maxChars.
func New(maxChars, overlap int) (*Chunker, error) {
	if maxChars <= 0 {
		return nil, fmt.Errorf("max chars must be positive, got %d", maxChars)
	}
	if overlap < 0 || overlap >= maxChars {
		return nil, fmt.Errorf("overlap must be in [0, %d), got %d", maxChars, overlap)
	}
	return &Chunker{maxChars: maxChars, overlap: overlap}, nil
}

// Chunk splits text into segments.
//
// Sentences are never cut mid-way unless a single sentence exceeds the
// segment size, in which case it is force-split on rune boundaries.
// Empty input yields zero segments.
func (c *Chunker) Chunk(text string) []Segment {
	if text == "" {
		return nil
	}

	pieces := splitSentences(text)
	pieces = forceSplit(text, pieces, c.maxChars)

	var segments []Segment
	curStart := pieces[0].start

	for i := 0; i < len(pieces); i++ {
		end := pieces[i].end

		// Does the next piece still fit in the current segment?
		if i+1 < len(pieces) && pieces[i+1].end-curStart <= c.maxChars {
			continue
		}

		segments = append(segments, Segment{
			Text:  text[curStart:end],
			Start: curStart,
			End:   end,
		})

		if i+1 < len(pieces) {
			curStart = c.nextStart(text, pieces, i, end)
		}
	}

	return segments
}

// nextStart computes where the segment after pieces[i] begins: as many
// trailing whole sentences of the finished segment as fit in the overlap
// budget, falling back to a raw trailing-byte overlap when even the last
// sentence is too long. The overlap shrinks if it would leave no room
// for the upcoming piece.
func (c *Chunker) nextStart(text string, pieces []span, i, end int) int {
	budget := c.overlap
	nextLen := pieces[i+1].end - pieces[i+1].start
	if room := c.maxChars - nextLen; room < budget {
		budget = room
	}
	if budget <= 0 {
		return end
	}

	// Back off over whole sentences first.
	start := end
	for j := i; j >= 0; j-- {
		if end-pieces[j].start > budget {
			break
		}
		start = pieces[j].start
	}
	if start < end {
		return start
	}

	// Last sentence alone exceeds the budget: raw byte overlap, aligned
	// to a rune boundary.
	start = end - budget
	for start < end && !utf8.RuneStart(text[start]) {
		start++
	}
	return start
}

// span is a half-open byte range into the source text.
type span struct {
	start int
	end   int
}

// sentence terminators. A sentence ends after one or more of these
// followed by whitespace (which stays attached to the sentence), or at a
// newline.
func isTerminator(b byte) bool {
	return b == '.' || b == '!' || b == '?'
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// splitSentences cuts text into contiguous sentence spans. Every byte of
// the input belongs to exactly one span.
func splitSentences(text string) []span {
	var spans []span
	start := 0

	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			spans = append(spans, span{start, i + 1})
			start = i + 1
			continue
		}
		if isTerminator(text[i]) {
			// Swallow runs of terminators ("..." or "?!").
			j := i
			for j+1 < len(text) && isTerminator(text[j+1]) {
				j++
			}
			// Only a boundary when followed by whitespace or EOF.
			if j+1 >= len(text) || isSpace(text[j+1]) {
				// Trailing spaces stay with the sentence; a newline
				// boundary is handled by the rule above.
				for j+1 < len(text) && (text[j+1] == ' ' || text[j+1] == '\t') {
					j++
				}
				spans = append(spans, span{start, j + 1})
				start = j + 1
			}
			i = j
		}
	}

	if start < len(text) {
		spans = append(spans, span{start, len(text)})
	}
	return spans
}

// forceSplit breaks any sentence longer than maxChars into maxChars-sized
// windows on rune boundaries.
func forceSplit(text string, pieces []span, maxChars int) []span {
	out := make([]span, 0, len(pieces))
	for _, p := range pieces {
		for p.end-p.start > maxChars {
			cut := p.start + maxChars
			for cut > p.start && !utf8.RuneStart(text[cut]) {
				cut--
			}
			if cut == p.start {
				// Pathological maxChars smaller than one rune.
				cut = p.start + maxChars
			}
			out = append(out, span{p.start, cut})
			p.start = cut
		}
		if p.end > p.start {
			out = append(out, p)
		}
	}
	return out
}
