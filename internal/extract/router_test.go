package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/res-labs/hrcopilot/internal/core/domain"
)

// mockRunner is a test double for CommandRunner.
type mockRunner struct {
	output []byte
	err    error
}

func (m *mockRunner) Run(_ context.Context, _ string, _ ...string) ([]byte, error) {
	return m.output, m.err
}

// mockOCR is a test double for the OCR service.
type mockOCR struct {
	pages []domain.ExtractedPage
	err   error
	calls int
}

func (m *mockOCR) Analyze(_ context.Context, _ []byte) ([]domain.ExtractedPage, error) {
	m.calls++
	return m.pages, m.err
}

func pdfDoc() domain.SourceDocument {
	return domain.SourceDocument{ID: "doc-1", MIMEType: MIMETypePDF}
}

func makeDOCX(t *testing.T, paragraphs ...string) []byte {
	t.Helper()

	var runs strings.Builder
	for _, p := range paragraphs {
		runs.WriteString("<w:p><w:r><w:t>" + p + "</w:t></w:r></w:p>")
	}
	docXML := `<?xml version="1.0"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		runs.String() + `</w:body></w:document>`

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = f.Write([]byte(docXML))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExtractEmptyContent(t *testing.T) {
	r := NewRouter(nil)

	_, err := r.Extract(context.Background(), pdfDoc(), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestExtractPDFSplitsPages(t *testing.T) {
	longText := strings.Repeat("Policy text for the page. ", 10)
	runner := &mockRunner{output: []byte(longText + "\f" + longText + "\f")}
	r := NewRouter(nil, WithRunner(runner))

	pages, err := r.Extract(context.Background(), pdfDoc(), []byte("%PDF-1.7"))
	require.NoError(t, err)
	require.Len(t, pages, 2)

	assert.Equal(t, 1, pages[0].PageNumber)
	assert.Equal(t, 2, pages[1].PageNumber)
	assert.Equal(t, domain.ExtractionNative, pages[0].Method)
	assert.Equal(t, 1.0, pages[0].Confidence)
}

func TestExtractPDFCommandFailure(t *testing.T) {
	runner := &mockRunner{err: errors.New("exec: \"pdftotext\": executable file not found")}
	r := NewRouter(nil, WithRunner(runner))

	_, err := r.Extract(context.Background(), pdfDoc(), []byte("%PDF-1.7"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pdftotext")
}

func TestExtractDOCXSinglePage(t *testing.T) {
	content := makeDOCX(t,
		strings.Repeat("First paragraph of the handbook. ", 5),
		"Second paragraph.")
	doc := domain.SourceDocument{ID: "doc-2", MIMEType: MIMETypeDOCX}
	r := NewRouter(nil)

	pages, err := r.Extract(context.Background(), doc, content)
	require.NoError(t, err)
	require.Len(t, pages, 1)

	assert.Equal(t, 1, pages[0].PageNumber)
	assert.Contains(t, pages[0].Text, "First paragraph of the handbook.")
	assert.Contains(t, pages[0].Text, "\n\nSecond paragraph.")
}

func TestExtractDOCXInvalidArchive(t *testing.T) {
	doc := domain.SourceDocument{ID: "doc-2", MIMEType: MIMETypeDOCX}
	r := NewRouter(nil)

	_, err := r.Extract(context.Background(), doc, []byte("not a zip"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestExtractPlainTextPassthrough(t *testing.T) {
	doc := domain.SourceDocument{ID: "doc-3", MIMEType: "text/plain"}
	text := strings.Repeat("Exported document text. ", 10)
	r := NewRouter(nil)

	pages, err := r.Extract(context.Background(), doc, []byte(text))
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, text, pages[0].Text)
}

func TestExtractSparsePageReroutedToOCR(t *testing.T) {
	longText := strings.Repeat("Readable native text. ", 10)
	// Page 2 has almost no native text: a scanned page.
	runner := &mockRunner{output: []byte(longText + "\f· ·")}
	ocr := &mockOCR{pages: []domain.ExtractedPage{
		{PageNumber: 1, Text: "ocr page one", Confidence: 0.99, Method: domain.ExtractionOCR},
		{PageNumber: 2, Text: "Recognised scanned text for page two.", Confidence: 0.97, Method: domain.ExtractionOCR},
	}}
	r := NewRouter(ocr, WithRunner(runner))

	pages, err := r.Extract(context.Background(), pdfDoc(), []byte("%PDF-1.7"))
	require.NoError(t, err)
	require.Len(t, pages, 2)

	// Page 1 keeps its native text; only the sparse page is replaced.
	assert.Equal(t, domain.ExtractionNative, pages[0].Method)
	assert.Equal(t, domain.ExtractionOCR, pages[1].Method)
	assert.Equal(t, "Recognised scanned text for page two.", pages[1].Text)
	assert.Equal(t, "doc-1", pages[1].DocumentID)
	assert.Equal(t, 1, ocr.calls)
}

func TestExtractNoOCRNeededSkipsOCRCall(t *testing.T) {
	longText := strings.Repeat("Readable native text. ", 10)
	runner := &mockRunner{output: []byte(longText)}
	ocr := &mockOCR{}
	r := NewRouter(ocr, WithRunner(runner))

	_, err := r.Extract(context.Background(), pdfDoc(), []byte("%PDF-1.7"))
	require.NoError(t, err)
	assert.Zero(t, ocr.calls)
}

func TestExtractQuotaExhaustedDegrades(t *testing.T) {
	runner := &mockRunner{output: []byte("· ·")}
	ocr := &mockOCR{err: domain.ErrQuotaExhausted}
	r := NewRouter(ocr, WithRunner(runner))

	pages, err := r.Extract(context.Background(), pdfDoc(), []byte("%PDF-1.7"))
	require.ErrorIs(t, err, domain.ErrExtractionDegraded)
	require.Len(t, pages, 1)

	assert.Equal(t, domain.ExtractionNative, pages[0].Method)
	assert.InDelta(t, degradedConfidence, pages[0].Confidence, 1e-9)
}

func TestExtractOCRHardFailure(t *testing.T) {
	runner := &mockRunner{output: []byte("· ·")}
	ocr := &mockOCR{err: errors.New("service unavailable")}
	r := NewRouter(ocr, WithRunner(runner))

	pages, err := r.Extract(context.Background(), pdfDoc(), []byte("%PDF-1.7"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrExtractionDegraded)
	assert.Nil(t, pages)
}

func TestExtractNoOCRConfiguredDegrades(t *testing.T) {
	runner := &mockRunner{output: []byte("· ·")}
	r := NewRouter(nil, WithRunner(runner))

	pages, err := r.Extract(context.Background(), pdfDoc(), []byte("%PDF-1.7"))
	require.ErrorIs(t, err, domain.ErrExtractionDegraded)
	require.Len(t, pages, 1)
}

func TestExtractUnknownTypeUsesOCR(t *testing.T) {
	doc := domain.SourceDocument{ID: "doc-9", MIMEType: "image/tiff"}
	ocr := &mockOCR{pages: []domain.ExtractedPage{
		{PageNumber: 1, Text: "scanned form", Confidence: 0.9, Method: domain.ExtractionOCR},
	}}
	r := NewRouter(ocr)

	pages, err := r.Extract(context.Background(), doc, []byte{0x49, 0x49, 0x2a})
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "doc-9", pages[0].DocumentID)
}

func TestExtractUnknownTypeWithoutOCR(t *testing.T) {
	doc := domain.SourceDocument{ID: "doc-9", MIMEType: "image/tiff"}
	r := NewRouter(nil)

	_, err := r.Extract(context.Background(), doc, []byte{0x49})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
