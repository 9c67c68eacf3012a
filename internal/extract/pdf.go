package extract

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/res-labs/hrcopilot/internal/core/domain"
)

// MIMETypePDF is the MIME type of PDF documents.
const MIMETypePDF = "application/pdf"

// extractPDF extracts per-page text from a PDF using pdftotext.
// pdftotext separates pages with form feeds, which is what gives the
// downstream pipeline its page numbering.
func extractPDF(ctx context.Context, runner CommandRunner, content []byte) ([]string, error) {
	tmp, err := os.CreateTemp("", "hrcopilot-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close temp file: %w", err)
	}

	out, err := runner.Run(ctx, "pdftotext", "-layout", "-enc", "UTF-8", tmp.Name(), "-")
	if err != nil {
		return nil, fmt.Errorf("pdftotext: %w (%s)", err, InstallInstructions())
	}

	pages := strings.Split(string(out), "\f")
	// pdftotext emits a trailing form feed after the last page
	if len(pages) > 1 && strings.TrimSpace(pages[len(pages)-1]) == "" {
		pages = pages[:len(pages)-1]
	}
	if len(pages) == 0 {
		return nil, domain.ErrInvalidInput
	}
	return pages, nil
}

// InstallInstructions returns guidance for installing pdftotext.
func InstallInstructions() string {
	return "pdftotext is required for PDF extraction: " +
		"macOS: brew install poppler; Debian/Ubuntu: apt install poppler-utils"
}
