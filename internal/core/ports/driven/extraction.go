package driven

import (
	"context"

	"github.com/res-labs/hrcopilot/internal/core/domain"
)

// OCRService performs optical text recognition on document bytes. The
// underlying service is asynchronous; adapters hide the poll loop and return
// the finished result.
//
// Quota exhaustion is reported as domain.ErrQuotaExhausted so the extraction
// router can degrade to native-only output instead of failing the document.
type OCRService interface {
	// Analyze recognises text in the document and returns one ExtractedPage
	// per page, with Method set to domain.ExtractionOCR and per-page
	// confidence filled in.
	Analyze(ctx context.Context, content []byte) ([]domain.ExtractedPage, error)
}
