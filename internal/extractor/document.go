package extractor

import (
	"fmt"
	"path/filepath"
	"strings"

	"lessonforge/internal/textclean"
)

// DocumentChunk is one page of extracted text tagged with its source
// document, the unit the indexer and retriever work in.
type DocumentChunk struct {
	PageNumber int
	Text       string
	Document   string
}

// ExtractDocument extracts a document buffer into page chunks, dispatching
// on the filename extension. Supported: .pdf, .docx, .txt, .md. Page texts
// are cleaned; pages that yielded nothing are dropped.
func (e *Engine) ExtractDocument(buf []byte, filename string) ([]DocumentChunk, error) {
	name := filepath.Base(filename)

	var pages []PageText
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		pages = e.pdfPagesWithFallback(buf)
	case ".docx":
		var err error
		pages, err = extractDOCX(buf)
		if err != nil {
			return nil, err
		}
	case ".txt", ".md":
		pages = []PageText{{PageNumber: 1, Text: string(buf)}}
	default:
		return nil, fmt.Errorf("unsupported file type: %s", name)
	}

	var chunks []DocumentChunk
	for _, p := range pages {
		text := textclean.Clean(p.Text)
		if text == "" {
			continue
		}
		chunks = append(chunks, DocumentChunk{
			PageNumber: p.PageNumber,
			Text:       text,
			Document:   name,
		})
	}
	return chunks, nil
}

// pdfPagesWithFallback extracts per-page text, and when the document as a
// whole yields too little (scanned PDF), reruns through the OCR tier as a
// single synthetic page so downstream consumers still see content.
func (e *Engine) pdfPagesWithFallback(buf []byte) []PageText {
	pages := e.ExtractPages(buf)

	total := 0
	for _, p := range pages {
		total += len(strings.TrimSpace(p.Text))
	}
	if total > minUsefulText {
		return pages
	}

	if text := e.ExtractText(buf); text != "" {
		return []PageText{{PageNumber: 1, Text: text}}
	}
	return pages
}
