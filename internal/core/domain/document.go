package domain

import (
	"encoding/base64"
	"fmt"
	"time"
)

// SourceDocument is a document as observed in the external document store.
// The pipeline never owns these; it only reacts to their changes.
type SourceDocument struct {
	// ID is the document's identifier in the store.
	ID string

	// LibraryID identifies the library (drive) the document belongs to.
	LibraryID string

	// Title is the human-readable title, falling back to the filename.
	Title string

	// SourceURL is the web location of the document for citations.
	SourceURL string

	// MIMEType is the content type reported by the store.
	MIMEType string

	// VersionToken changes whenever the document content or metadata changes.
	VersionToken string

	// ModifiedAt is the store's last-modified timestamp.
	ModifiedAt time.Time

	// Deleted marks a deletion-candidate change item.
	Deleted bool

	// Department and DocType are classification metadata carried into chunks.
	Department string
	DocType    string
}

// ExtractionMethod identifies which path produced an extracted page.
type ExtractionMethod string

const (
	// ExtractionNative is structural extraction (PDF text layer, DOCX XML).
	ExtractionNative ExtractionMethod = "native"

	// ExtractionOCR is optical recognition via the extraction service.
	ExtractionOCR ExtractionMethod = "ocr"
)

// ExtractedPage is one page of extracted text. The shape is identical for
// both extraction paths so downstream stages never branch on provenance.
type ExtractedPage struct {
	DocumentID string
	PageNumber int
	Text       string

	// Confidence is 1.0 for native extraction and the recognizer's mean word
	// confidence for OCR. Degraded extractions carry a low value.
	Confidence float64

	Method ExtractionMethod
}

// Chunk is the atomic indexed unit: a bounded passage of document text plus
// its embedding and the metadata needed for citation and security trimming.
type Chunk struct {
	// ID is deterministic from (DocumentID, PageNumber, sequence) so that
	// re-ingesting the same document version overwrites rather than duplicates.
	ID string

	DocumentID     string
	DocumentTitle  string
	SourceURL      string
	PageNumber     int
	SectionHeading string

	// Text is the raw passage text without any embedding prefix.
	Text string

	// Vector is the embedding, nil until the embedding stage ran.
	Vector []float32

	Department   string
	DocType      string
	LastModified time.Time

	// GroupIDs is always a copy of the owning document's latest resolved ACL.
	GroupIDs []string
}

// ChunkID builds the deterministic chunk identifier. The document ID is
// base64url-encoded so the result stays a valid index key for arbitrary
// store identifiers.
func ChunkID(documentID string, pageNumber, seq int) string {
	encoded := base64.RawURLEncoding.EncodeToString([]byte(documentID))
	return fmt.Sprintf("%s-%d-%d", encoded, pageNumber, seq)
}

// EmbeddingInput returns the text sent to the embedding service for a chunk:
// a structured prefix so the vector captures document context, then the
// passage itself. The stored chunk text stays prefix-free.
func (c *Chunk) EmbeddingInput() string {
	return fmt.Sprintf("Title: %s | Section: %s | %s", c.DocumentTitle, c.SectionHeading, c.Text)
}
