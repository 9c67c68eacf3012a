// Package chunker splits extracted page text into overlapping,
// boundary-aware chunks suitable for embedding and indexing.
package chunker

import (
	"strings"
	"unicode"

	"github.com/res-labs/hrcopilot/internal/core/domain"
)

// DefaultChunkSize is the default character budget per chunk.
const DefaultChunkSize = 2000

// DefaultOverlap is the default number of characters carried over
// from the end of one chunk into the start of the next.
const DefaultOverlap = 500

// maxHeadingLen bounds how long a line may be and still count as a
// section heading.
const maxHeadingLen = 80

// Chunker splits extracted pages into chunks, preferring paragraph
// boundaries and falling back to sentence boundaries for oversized
// paragraphs. Chunk IDs are deterministic per (document, page,
// sequence) so re-chunking unchanged content produces identical IDs.
type Chunker struct {
	chunkSize int
	overlap   int
}

// Option configures the chunker.
type Option func(*Chunker)

// WithChunkSize sets the chunk character budget.
func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between consecutive chunks in characters.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// New creates a chunker with the given options.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultOverlap,
	}

	for _, opt := range opts {
		opt(c)
	}

	// Ensure overlap doesn't exceed the budget
	if c.overlap >= c.chunkSize {
		c.overlap = c.chunkSize / 4
	}

	return c
}

// Split chunks the extracted pages of a document. Pages are chunked
// independently so every chunk carries an exact page number. The
// section heading most recently seen carries forward across pages
// until a new heading appears.
func (c *Chunker) Split(doc domain.SourceDocument, pages []domain.ExtractedPage) []domain.Chunk {
	var chunks []domain.Chunk
	heading := ""

	for _, page := range pages {
		text := strings.TrimSpace(page.Text)
		if text == "" {
			continue
		}

		seq := 0
		var b strings.Builder
		chunkHeading := heading

		// seeded marks the builder prefix carried over from the previous
		// chunk's tail; a flush with nothing beyond it would emit a chunk
		// that is pure overlap.
		seeded := 0

		flush := func() {
			if b.Len() <= seeded {
				return
			}
			body := strings.TrimSpace(b.String())
			if body == "" {
				return
			}

			chunks = append(chunks, domain.Chunk{
				ID:             domain.ChunkID(doc.ID, page.PageNumber, seq),
				DocumentID:     doc.ID,
				DocumentTitle:  doc.Title,
				SourceURL:      doc.SourceURL,
				PageNumber:     page.PageNumber,
				SectionHeading: chunkHeading,
				Text:           body,
				Department:     doc.Department,
				DocType:        doc.DocType,
				LastModified:   doc.ModifiedAt,
			})
			seq++

			tail := overlapTail(body, c.overlap)
			b.Reset()
			if tail != "" {
				b.WriteString(tail)
			}
			seeded = b.Len()
			chunkHeading = heading
		}

		appendPiece := func(piece string) {
			if b.Len() > seeded && b.Len()+len(piece)+2 > c.chunkSize {
				flush()
			}
			if b.Len() > 0 && b.Len()+len(piece)+2 > c.chunkSize {
				// The budget wins over the overlap: trim the seeded tail
				// until the piece fits.
				keep := c.chunkSize - len(piece) - 2
				tail := b.String()
				b.Reset()
				if keep > 0 {
					b.WriteString(strings.TrimSpace(tail[len(tail)-keep:]))
				}
				seeded = b.Len()
			}
			if b.Len() > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString(piece)
		}

		for _, para := range splitParagraphs(text) {
			if h, ok := headingOf(para); ok {
				heading = h
				if b.Len() == 0 {
					chunkHeading = heading
				}
			}

			if len(para) <= c.chunkSize {
				appendPiece(para)
				continue
			}

			// Oversized paragraph: fall back to sentences,
			// hard-splitting any sentence that still exceeds
			// the budget on its own.
			for _, sent := range splitSentences(para) {
				for len(sent) > c.chunkSize {
					appendPiece(sent[:c.chunkSize])
					flush()
					sent = sent[c.chunkSize:]
				}
				if sent != "" {
					appendPiece(sent)
				}
			}
		}

		flush()
	}

	return chunks
}

// splitParagraphs splits text on blank lines, trimming each block.
func splitParagraphs(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")
	paras := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			paras = append(paras, p)
		}
	}
	return paras
}

// splitSentences breaks a paragraph at sentence-ending punctuation
// followed by whitespace.
func splitSentences(para string) []string {
	var sents []string
	start := 0
	for i := 0; i < len(para)-1; i++ {
		switch para[i] {
		case '.', '!', '?':
			if para[i+1] == ' ' || para[i+1] == '\n' {
				s := strings.TrimSpace(para[start : i+1])
				if s != "" {
					sents = append(sents, s)
				}
				start = i + 1
			}
		}
	}
	if s := strings.TrimSpace(para[start:]); s != "" {
		sents = append(sents, s)
	}
	return sents
}

// headingOf reports whether a paragraph is a section heading. A
// heading is either a single Markdown '#' line or a short line in
// all capitals.
func headingOf(para string) (string, bool) {
	if strings.Contains(para, "\n") {
		return "", false
	}

	line := strings.TrimSpace(para)
	if line == "" || len(line) > maxHeadingLen {
		return "", false
	}

	if strings.HasPrefix(line, "#") {
		return strings.TrimSpace(strings.TrimLeft(line, "#")), true
	}

	hasLetter := false
	for _, r := range line {
		if unicode.IsLower(r) {
			return "", false
		}
		if unicode.IsLetter(r) {
			hasLetter = true
		}
	}
	if !hasLetter {
		return "", false
	}
	return line, true
}

// overlapTail returns the trailing portion of a chunk body to seed the
// next chunk with, preferring to start at a sentence boundary.
func overlapTail(body string, overlap int) string {
	if overlap <= 0 || len(body) <= overlap {
		return ""
	}

	tail := body[len(body)-overlap:]

	// Align to the sentence boundary nearest the cut, if one exists.
	for i := 0; i < len(tail)-1; i++ {
		switch tail[i] {
		case '.', '!', '?':
			if tail[i+1] == ' ' || tail[i+1] == '\n' {
				return strings.TrimSpace(tail[i+1:])
			}
		}
	}
	return strings.TrimSpace(tail)
}
