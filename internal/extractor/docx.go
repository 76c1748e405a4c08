package extractor

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/nguyenthenguyen/docx"
)

// docxCharsPerPage groups DOCX paragraphs into logical pages. DOCX has no
// physical page breaks, so page numbers are synthesized for citations.
const docxCharsPerPage = 3000

// extractDOCX extracts text from DOCX bytes, split into logical pages.
func extractDOCX(buf []byte) ([]PageText, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return nil, fmt.Errorf("read docx: %w", err)
	}
	defer r.Close()

	doc := r.Editable()
	paragraphs := splitDOCXParagraphs(doc.GetContent())

	var pages []PageText
	var pageBuf strings.Builder
	pageNum := 1

	flush := func() {
		if pageBuf.Len() == 0 {
			return
		}
		pages = append(pages, PageText{
			PageNumber: pageNum,
			Text:       strings.TrimSpace(pageBuf.String()),
		})
		pageNum++
		pageBuf.Reset()
	}

	for _, para := range paragraphs {
		text := strings.TrimSpace(para)
		if text == "" {
			continue
		}
		if pageBuf.Len() > 0 && pageBuf.Len()+len(text) > docxCharsPerPage {
			flush()
		}
		if pageBuf.Len() > 0 {
			pageBuf.WriteString("\n")
		}
		pageBuf.WriteString(text)
	}
	flush()

	if len(pages) == 0 {
		pages = append(pages, PageText{PageNumber: 1, Text: ""})
	}
	return pages, nil
}

// splitDOCXParagraphs splits DOCX XML content by <w:p> paragraph tags and
// strips the remaining XML tags from each paragraph.
func splitDOCXParagraphs(xmlStr string) []string {
	parts := strings.Split(xmlStr, "<w:p")
	var paragraphs []string
	for _, part := range parts {
		cleaned := strings.TrimSpace(stripTags(part))
		if cleaned != "" {
			paragraphs = append(paragraphs, cleaned)
		}
	}
	return paragraphs
}

func stripTags(xmlStr string) string {
	var sb strings.Builder
	inTag := false
	for _, r := range xmlStr {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
