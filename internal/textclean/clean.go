// Package textclean normalizes text extracted from PDFs and OCR output.
// Extraction frequently yields Windows line endings, hard-wrapped lines,
// hyphenated word splits, and ligature/quote substitutions; downstream
// heading detection and chunking assume these are gone.
package textclean

import (
	"regexp"
	"strings"
)

var (
	reCRLF        = regexp.MustCompile(`\r\n?`)
	reHorizSpace  = regexp.MustCompile(`[ \t]+`)
	reManyBlank   = regexp.MustCompile(`\n{3,}`)
	reHyphenBreak = regexp.MustCompile(`-\n\s*`)
	reParaBreak   = regexp.MustCompile(`\n{2,}`)
	reMultiSpace  = regexp.MustCompile(`[ \t]{2,}`)
	rePunctSpace  = regexp.MustCompile(`\s+([,.!?;:])`)
	reNewlinePad  = regexp.MustCompile(`[ \t]*\n[ \t]*`)
)

// ocrReplacer fixes character-level OCR and encoding artifacts. New
// substitution pairs go here, not in control flow.
var ocrReplacer = strings.NewReplacer(
	"ﬁ", "fi",
	"ﬂ", "fl",
	"‘", "'",
	"’", "'",
	"“", `"`,
	"”", `"`,
	"–", "-",
	"—", "-",
)

// NormalizeWhitespace converts line endings to \n, collapses runs of
// horizontal whitespace to a single space, and caps consecutive newlines
// at two (one blank line).
func NormalizeWhitespace(s string) string {
	s = reCRLF.ReplaceAllString(s, "\n")
	s = reHorizSpace.ReplaceAllString(s, " ")
	s = reManyBlank.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// FixHyphenation rejoins words split by a hyphen at a line ending
// ("hy-\nphen" becomes "hyphen"), then removes line wrapping inside
// paragraphs: single newlines become spaces while blank lines (paragraph
// separators) are preserved.
func FixHyphenation(s string) string {
	if s == "" {
		return s
	}
	s = reHyphenBreak.ReplaceAllString(s, "")
	s = reManyBlank.ReplaceAllString(s, "\n\n")

	// Join wrapped lines paragraph by paragraph so the result is stable
	// under repeated cleaning.
	paras := reParaBreak.Split(s, -1)
	for i, p := range paras {
		paras[i] = strings.ReplaceAll(p, "\n", " ")
	}
	s = strings.Join(paras, "\n\n")

	s = reMultiSpace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// FixOCRArtifacts expands fi/fl ligature codepoints and normalizes curly
// quotes and en/em dashes to plain ASCII.
func FixOCRArtifacts(s string) string {
	return ocrReplacer.Replace(s)
}

// NormalizePunctuation removes whitespace immediately before closing
// punctuation and strips padding around remaining newlines.
func NormalizePunctuation(s string) string {
	s = rePunctSpace.ReplaceAllString(s, "$1")
	return reNewlinePad.ReplaceAllString(s, "\n")
}

// Clean runs the full normalization sequence on raw extracted text. The
// step order matters: hyphenation repair assumes normalized newlines, and
// punctuation spacing assumes joined lines. Clean never fails and is
// idempotent; empty input yields empty output.
func Clean(raw string) string {
	if raw == "" {
		return ""
	}
	out := NormalizeWhitespace(raw)
	out = FixHyphenation(out)
	out = FixOCRArtifacts(out)
	out = NormalizePunctuation(out)
	return strings.TrimSpace(out)
}
