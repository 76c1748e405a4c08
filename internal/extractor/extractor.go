// Package extractor turns uploaded document bytes into clean text. For PDFs
// it runs an ordered fallback chain: a fast whole-document pass, then
// page-by-page reconstruction from positioned text runs, then optional OCR
// for scanned documents. Absence of text is a normal outcome, not an error.
package extractor

import (
	"bytes"
	"io"
	"log"
	"strings"

	"lessonforge/internal/textclean"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PageText is the text of a single page. PageNumber is 1-based and entries
// produced by ExtractPages are ordered and contiguous.
type PageText struct {
	PageNumber int    `json:"page_number"`
	Text       string `json:"text"`
}

// TextRun is one positioned string fragment from a page content stream.
// X and Y are the run's origin in page coordinate space, W its width.
type TextRun struct {
	Text string
	X    float64
	Y    float64
	W    float64
}

// Engine extracts text from document buffers. A nil OCR engine disables the
// OCR tier; the other extraction tiers still run.
type Engine struct {
	OCR OcrEngine
}

// NewEngine builds an extraction engine. ocr may be nil.
func NewEngine(ocr OcrEngine) *Engine {
	return &Engine{OCR: ocr}
}

// minUsefulText is the length gate on the fast extraction path. Some
// malformed PDFs "succeed" with near-empty output; falling through to the
// per-page path avoids returning that garbage.
const minUsefulText = 200

// ocrPageCap bounds the number of pages rasterized for OCR so a large
// scanned document cannot pin the CPU indefinitely.
const ocrPageCap = 10

// openPDF validates the buffer with pdfcpu (relaxed mode) before handing it
// to the text-extraction reader. The pdfcpu gate catches non-PDF bytes
// cheaply; ledongthuc/pdf can panic on garbage input, so callers still wrap
// page access in recover.
func openPDF(buf []byte) (*pdf.Reader, int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	ctx, err := api.ReadContext(bytes.NewReader(buf), conf)
	if err != nil {
		return nil, 0, err
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return nil, 0, err
	}

	r, err := pdf.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return nil, 0, err
	}
	return r, ctx.PageCount, nil
}

// ExtractText extracts the whole document as one cleaned string. The chain
// is: fast whole-document pass, per-page run reconstruction, OCR. Every
// tier degrades to the next; a buffer with no recoverable text yields "".
func (e *Engine) ExtractText(buf []byte) string {
	if len(buf) == 0 {
		return ""
	}

	r, pageCount, err := openPDF(buf)
	if err != nil {
		return ""
	}

	if text := wholeDocumentText(r); len(text) > minUsefulText {
		return textclean.Clean(text)
	}

	if text := joinPages(extractPages(r, pageCount)); len(text) > minUsefulText {
		return textclean.Clean(text)
	}

	if e != nil && e.OCR != nil {
		if text := e.ocrDocument(buf, pageCount); text != "" {
			return textclean.Clean(text)
		}
	}

	return ""
}

// ExtractPages extracts text page by page, one entry per page in order.
// A page whose extraction fails contributes an empty string; no length gate
// is applied.
func (e *Engine) ExtractPages(buf []byte) []PageText {
	if len(buf) == 0 {
		return nil
	}
	r, pageCount, err := openPDF(buf)
	if err != nil {
		return nil
	}
	return extractPages(r, pageCount)
}

// PageRuns returns the positioned text runs of every page, for geometric
// reconstruction (table detection). Runs with empty trimmed text are
// dropped. A failing page contributes a nil slice.
func (e *Engine) PageRuns(buf []byte) [][]TextRun {
	if len(buf) == 0 {
		return nil
	}
	r, pageCount, err := openPDF(buf)
	if err != nil {
		return nil
	}

	out := make([][]TextRun, 0, pageCount)
	for i := 1; i <= pageCount; i++ {
		out = append(out, pageRuns(r, i))
	}
	return out
}

// wholeDocumentText is the fast path: the reader's combined plain text.
func wholeDocumentText(r *pdf.Reader) (text string) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("extractor: whole-document pass panicked: %v", rec)
			text = ""
		}
	}()

	rd, err := r.GetPlainText()
	if err != nil {
		return ""
	}
	data, err := io.ReadAll(rd)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// extractPages reconstructs each page's text from its positioned runs,
// joined with single spaces in content-stream order.
func extractPages(r *pdf.Reader, pageCount int) []PageText {
	pages := make([]PageText, 0, pageCount)
	for i := 1; i <= pageCount; i++ {
		pages = append(pages, PageText{PageNumber: i, Text: pageText(r, i)})
	}
	return pages
}

// pageText extracts a single page, isolating panics from malformed content
// streams so one broken page cannot abort the whole document.
func pageText(r *pdf.Reader, pageNum int) (text string) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("extractor: page %d panicked: %v", pageNum, rec)
			text = ""
		}
	}()

	p := r.Page(pageNum)
	if p.V.IsNull() {
		return ""
	}

	content := p.Content()
	if len(content.Text) == 0 {
		// Pages without positioned runs sometimes still carry plain text.
		if s, err := p.GetPlainText(nil); err == nil {
			return strings.TrimSpace(s)
		}
		return ""
	}

	var sb strings.Builder
	for _, t := range content.Text {
		s := strings.TrimSpace(t.S)
		if s == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(s)
	}
	return sb.String()
}

// pageRuns maps a page's content stream to TextRuns.
func pageRuns(r *pdf.Reader, pageNum int) (runs []TextRun) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("extractor: runs for page %d panicked: %v", pageNum, rec)
			runs = nil
		}
	}()

	p := r.Page(pageNum)
	if p.V.IsNull() {
		return nil
	}

	content := p.Content()
	for _, t := range content.Text {
		s := strings.TrimSpace(t.S)
		if s == "" {
			continue
		}
		w := t.W
		if w <= 0 {
			// Rough width estimate when the content stream carries none.
			w = float64(len(s)) * 5
		}
		runs = append(runs, TextRun{Text: s, X: t.X, Y: t.Y, W: w})
	}
	return runs
}

// joinPages joins non-empty page texts with a blank line as the paragraph
// separator between pages.
func joinPages(pages []PageText) string {
	var parts []string
	for _, p := range pages {
		if strings.TrimSpace(p.Text) != "" {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}
