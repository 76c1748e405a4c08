// Package ssot assembles a single-source-of-truth excerpt for one unit of
// an uploaded document, bounded in length and safe to embed in a grounding
// prompt. Page-aware extraction is preferred; heading segmentation and
// table serialization are fallbacks.
package ssot

import (
	"regexp"
	"strconv"
	"strings"

	"lessonforge/internal/extractor"
	"lessonforge/internal/segment"
	"lessonforge/internal/tables"
)

// DefaultMaxChars bounds the assembled context when no limit is given.
const DefaultMaxChars = 8000

// accumulationSlack multiplies MaxChars into the hard bound on page
// accumulation before trimming, so a missing next-unit marker cannot pull
// in the rest of the document.
const accumulationSlack = 2

// Table fallback shape: CSVs from the first few pages, each capped.
const (
	tableFallbackPages = 3
	tableSnippetMax    = 1000
)

// trimBacktrackMin is the position a paragraph or sentence break must
// exceed for the length trim to backtrack to it. Below that the trim is
// hard at MaxChars.
const trimBacktrackMin = 200

// QuestionPlaceholder marks where the caller substitutes the user's
// question into Prompt.
const QuestionPlaceholder = "<INSERT USER QUESTION HERE>"

// Options tunes context assembly.
type Options struct {
	MaxChars int
}

// UnitContext is the assembled excerpt and its grounding prompt. Context
// is "" when the unit could not be found by any strategy.
type UnitContext struct {
	Context string `json:"context"`
	Prompt  string `json:"prompt"`
}

// BuildUnitContext assembles the context for one unit of a PDF buffer.
// Strategies in order: page-aware accumulation from the first page carrying
// a unit or section token, whole-document segmentation, table CSVs. The
// result is trimmed to MaxChars at a paragraph or sentence boundary.
func BuildUnitContext(e *extractor.Engine, buf []byte, unitNumber int, opts Options) UnitContext {
	maxChars := opts.MaxChars
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	body := pageAwareBody(e, buf, unitNumber, maxChars)

	if body == "" {
		cleaned := e.ExtractText(buf)
		if cleaned != "" {
			body = segment.ExtractUnitBody(cleaned, unitNumber, segment.DefaultBodyMaxChars)
			if body == "" {
				body = segment.UnitContent(cleaned, unitNumber)
			}
		}
	}
	body = strings.TrimSpace(body)

	if body == "" {
		body = tableFallback(e, buf)
	}

	body = trimToBoundary(body, maxChars)

	return UnitContext{
		Context: body,
		Prompt:  buildPrompt(body, unitNumber),
	}
}

// pageAwareBody scans pages in order for the first one carrying a title
// token ("Unit 3") or section token ("3.1"), then accumulates consecutive
// pages until the next unit begins or the safety bound is hit.
func pageAwareBody(e *extractor.Engine, buf []byte, unitNumber, maxChars int) string {
	return bodyFromPages(e.ExtractPages(buf), unitNumber, maxChars)
}

func bodyFromPages(pages []extractor.PageText, unitNumber, maxChars int) string {
	if len(pages) == 0 {
		return ""
	}

	n := strconv.Itoa(unitNumber)
	titleToken := regexp.MustCompile(`(?i)\b(?:Unit|Chapter)\s*` + n + `\b`)
	sectionToken := regexp.MustCompile(`\b` + n + `\.[0-9]{1,3}\b`)
	anyUnitToken := regexp.MustCompile(`(?i)\b(?:Unit|Chapter)\s*[0-9]{1,3}\b`)

	startIdx := -1
	for i, p := range pages {
		if titleToken.MatchString(p.Text) || sectionToken.MatchString(p.Text) {
			startIdx = i
			break
		}
	}
	if startIdx < 0 {
		return ""
	}

	bound := maxChars * accumulationSlack
	var collected []string
	total := 0
	for i := startIdx; i < len(pages) && total < bound; i++ {
		if i > startIdx && anyUnitToken.MatchString(pages[i].Text) {
			break
		}
		collected = append(collected, pages[i].Text)
		total += len(pages[i].Text)
	}
	return strings.Join(collected, "\n\n")
}

// tableFallback serializes tables from the first few pages as a last-resort
// context. A unit with no running prose may still exist as tabular data.
func tableFallback(e *extractor.Engine, buf []byte) string {
	return tableSnippets(tables.Extract(e, buf))
}

func tableSnippets(res tables.Result) string {
	csvMap := res.ToCSV()

	var snippets []string
	taken := 0
	for _, p := range res.Pages {
		if taken >= tableFallbackPages {
			break
		}
		taken++
		for _, csv := range csvMap[p.PageNumber] {
			if len(csv) > tableSnippetMax {
				csv = csv[:tableSnippetMax]
			}
			snippets = append(snippets, csv)
		}
	}
	return strings.Join(snippets, "\n\n")
}

// trimToBoundary cuts body at maxChars, backtracking to the last paragraph
// break or sentence end so the excerpt does not stop mid-sentence.
func trimToBoundary(body string, maxChars int) string {
	if len(body) <= maxChars {
		return body
	}
	trimmed := body[:maxChars]
	lastBreak := strings.LastIndex(trimmed, "\n\n")
	if i := strings.LastIndex(trimmed, ". "); i > lastBreak {
		lastBreak = i
	}
	if lastBreak > trimBacktrackMin {
		trimmed = trimmed[:lastBreak+1]
	}
	return trimmed
}

func buildPrompt(context string, unitNumber int) string {
	var sb strings.Builder
	sb.WriteString("You are given the following authoritative excerpt from a user's textbook (Unit ")
	sb.WriteString(strconv.Itoa(unitNumber))
	sb.WriteString("). Use only this text to answer the user's question. If the answer is not present, say you don't know and suggest where the user might look in the unit.\n\nContext:\n")
	sb.WriteString(context)
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(QuestionPlaceholder)
	return sb.String()
}

// PromptWithQuestion substitutes a concrete question into a grounding
// prompt built by BuildUnitContext.
func PromptWithQuestion(prompt, question string) string {
	return strings.Replace(prompt, QuestionPlaceholder, question, 1)
}
