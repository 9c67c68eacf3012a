// Package extract routes document content to native text extraction or
// OCR, producing per-page text records for chunking.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/res-labs/hrcopilot/internal/core/domain"
	"github.com/res-labs/hrcopilot/internal/core/ports/driven"
	"github.com/res-labs/hrcopilot/internal/logger"
)

// DefaultOCRThreshold is the minimum native characters per page below
// which the page is considered scanned and re-routed to OCR.
const DefaultOCRThreshold = 100

// degradedConfidence marks pages kept from native extraction because
// OCR was unavailable.
const degradedConfidence = 0.2

// Router extracts text from document bytes. Native extraction runs
// first; pages with too little native text are replaced by OCR output
// when the OCR service is available.
type Router struct {
	ocr       driven.OCRService
	runner    CommandRunner
	threshold int
}

// Option configures the router.
type Option func(*Router)

// WithOCRThreshold sets the per-page character threshold for OCR re-routing.
func WithOCRThreshold(threshold int) Option {
	return func(r *Router) {
		if threshold > 0 {
			r.threshold = threshold
		}
	}
}

// WithRunner sets the command runner used for pdftotext.
func WithRunner(runner CommandRunner) Option {
	return func(r *Router) {
		if runner != nil {
			r.runner = runner
		}
	}
}

// NewRouter creates a router. The OCR service may be nil, in which case
// scanned pages are kept as low-confidence native output.
func NewRouter(ocr driven.OCRService, opts ...Option) *Router {
	r := &Router{
		ocr:       ocr,
		runner:    ExecRunner{},
		threshold: DefaultOCRThreshold,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Extract produces per-page text for the document. When OCR quota is
// exhausted or no OCR service is configured, pages that needed OCR are
// returned as low-confidence native output and the error wraps
// domain.ErrExtractionDegraded; callers should index the result anyway.
func (r *Router) Extract(ctx context.Context, doc domain.SourceDocument, content []byte) ([]domain.ExtractedPage, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("document %s: empty content: %w", doc.ID, domain.ErrInvalidInput)
	}

	pages, err := r.nativePages(ctx, doc, content)
	if err != nil {
		return nil, err
	}

	var sparse []int
	for i, p := range pages {
		if p.Method == domain.ExtractionNative && len(strings.TrimSpace(p.Text)) < r.threshold {
			sparse = append(sparse, i)
		}
	}
	if len(sparse) == 0 {
		return pages, nil
	}

	if r.ocr == nil {
		return degrade(doc, pages, sparse)
	}

	ocrPages, err := r.ocr.Analyze(ctx, content)
	if err != nil {
		if errors.Is(err, domain.ErrQuotaExhausted) {
			logger.Warn("document %s: OCR quota exhausted, keeping native text", doc.ID)
			return degrade(doc, pages, sparse)
		}
		return nil, fmt.Errorf("document %s: ocr: %w", doc.ID, err)
	}

	byPage := make(map[int]domain.ExtractedPage, len(ocrPages))
	for _, p := range ocrPages {
		byPage[p.PageNumber] = p
	}

	for _, i := range sparse {
		ocr, ok := byPage[pages[i].PageNumber]
		if !ok || strings.TrimSpace(ocr.Text) == "" {
			continue
		}
		ocr.DocumentID = doc.ID
		pages[i] = ocr
	}
	return pages, nil
}

// nativePages runs format-specific native extraction.
func (r *Router) nativePages(ctx context.Context, doc domain.SourceDocument, content []byte) ([]domain.ExtractedPage, error) {
	switch doc.MIMEType {
	case MIMETypePDF:
		texts, err := extractPDF(ctx, r.runner, content)
		if err != nil {
			return nil, err
		}
		pages := make([]domain.ExtractedPage, 0, len(texts))
		for i, text := range texts {
			pages = append(pages, nativePage(doc.ID, i+1, text))
		}
		return pages, nil

	case MIMETypeDOCX:
		text, err := extractDOCX(content)
		if err != nil {
			return nil, err
		}
		return []domain.ExtractedPage{nativePage(doc.ID, 1, text)}, nil

	case "text/plain", "text/markdown", "text/html":
		return []domain.ExtractedPage{nativePage(doc.ID, 1, string(content))}, nil

	default:
		// Unknown binary formats go straight to OCR when available.
		if r.ocr != nil {
			pages, err := r.ocr.Analyze(ctx, content)
			if err != nil {
				return nil, fmt.Errorf("document %s: ocr: %w", doc.ID, err)
			}
			for i := range pages {
				pages[i].DocumentID = doc.ID
			}
			return pages, nil
		}
		return nil, fmt.Errorf("document %s: unsupported type %q: %w", doc.ID, doc.MIMEType, domain.ErrInvalidInput)
	}
}

func nativePage(docID string, number int, text string) domain.ExtractedPage {
	return domain.ExtractedPage{
		DocumentID: docID,
		PageNumber: number,
		Text:       text,
		Confidence: 1.0,
		Method:     domain.ExtractionNative,
	}
}

// degrade marks the sparse pages low-confidence and reports the
// degradation without failing the document.
func degrade(doc domain.SourceDocument, pages []domain.ExtractedPage, sparse []int) ([]domain.ExtractedPage, error) {
	for _, i := range sparse {
		pages[i].Confidence = degradedConfidence
	}
	return pages, fmt.Errorf("document %s: %d page(s) below native text threshold: %w",
		doc.ID, len(sparse), domain.ErrExtractionDegraded)
}
