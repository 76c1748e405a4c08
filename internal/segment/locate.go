package segment

import (
	"regexp"
	"strconv"
	"strings"
)

// DefaultBodyMaxChars bounds how much body text ExtractUnitBody returns
// when no next-unit marker is found.
const DefaultBodyMaxChars = 20000

// tocBodyMinOffset is the position a title-phrase match must exceed to be
// treated as the section body rather than the table-of-contents line that
// produced the phrase in the first place.
const tocBodyMinOffset = 1000

// nextTokenSkip is how far past a body start the next-unit search begins,
// so the start's own heading token is not matched as the end.
const nextTokenSkip = 10

// tocSnippetTail and titleCandidateWords shape the ToC title candidate:
// up to 80 characters after "Unit N", reduced to its first 6 words.
const (
	tocSnippetTail      = 80
	titleCandidateWords = 6
)

var (
	nextUnitRe = regexp.MustCompile(`(?i)\b(Unit|Chapter)\s*[0-9]{1,3}\b`)
	digitsRe   = regexp.MustCompile(`[0-9]+`)
	unitWordRe = regexp.MustCompile(`(?i)unit`)
)

// ExtractUnitBody locates the actual content start of a unit, which is not
// the same as the unit's first mention: a table of contents lists every
// unit long before its body begins. Strategies are tried in order of
// precedence; the first that anchors a start position wins. Returns ""
// when no anchor is found.
func ExtractUnitBody(cleaned string, unitNumber, maxChars int) string {
	if cleaned == "" {
		return ""
	}
	if maxChars <= 0 {
		maxChars = DefaultBodyMaxChars
	}
	n := strconv.Itoa(unitNumber)

	// A ToC-style mention carries the unit title; that title phrase
	// reappears at the real body start.
	tocRe := regexp.MustCompile(`(?i)Unit\s*` + n + `[^\n]{0,` + strconv.Itoa(tocSnippetTail) + `}`)
	if snippet := tocRe.FindString(cleaned); snippet != "" {
		if candidate := titleCandidate(snippet); candidate != "" {
			candRe := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(candidate))
			if loc := candRe.FindStringIndex(cleaned); loc != nil && loc[0] > tocBodyMinOffset {
				return sliceBody(cleaned, loc[0], maxChars)
			}
			if start, ok := sectionLineStart(cleaned, n); ok {
				return sliceBody(cleaned, start, maxChars)
			}
		}
	}

	// Line-anchored section numbering like "3.1" marks the body directly.
	if start, ok := sectionLineStart(cleaned, n); ok {
		return sliceBody(cleaned, start, maxChars)
	}

	// Last resort: the first raw token occurrence anywhere.
	unitToken := regexp.MustCompile(`(?i)\b(?:Unit|Chapter)\s*` + n + `\b`)
	if loc := unitToken.FindStringIndex(cleaned); loc != nil {
		return sliceBody(cleaned, loc[0], maxChars)
	}

	return ""
}

// titleCandidate reduces a ToC snippet like "Unit 3 Photosynthesis ... 45"
// to a short phrase to search the body for.
func titleCandidate(snippet string) string {
	s := digitsRe.ReplaceAllString(snippet, "")
	s = unitWordRe.ReplaceAllString(s, "")
	words := strings.Fields(strings.TrimSpace(s))
	if len(words) > titleCandidateWords {
		words = words[:titleCandidateWords]
	}
	return strings.Join(words, " ")
}

// sectionLineStart finds a line starting with "{N}.{subsection}".
func sectionLineStart(text, n string) (int, bool) {
	re := regexp.MustCompile(`(?m)^[ \t]*` + n + `\.[0-9]{1,3}\b`)
	if loc := re.FindStringIndex(text); loc != nil {
		return loc[0], true
	}
	return 0, false
}

// sliceBody cuts from start to the next unit token or maxChars, whichever
// comes first.
func sliceBody(text string, start, maxChars int) string {
	end := start + maxChars
	if end > len(text) {
		end = len(text)
	}
	searchFrom := start + nextTokenSkip
	if searchFrom < len(text) {
		if loc := nextUnitRe.FindStringIndex(text[searchFrom:]); loc != nil {
			if e := searchFrom + loc[0]; e < end {
				end = e
			}
		}
	}
	return strings.TrimSpace(text[start:end])
}

// UnitContent returns the best available content for a unit: the located
// body first, then the line-anchored section map under its key variants,
// then the inline fallback scan matched loosely by keyword and number.
// Returns "" when the unit cannot be found at all.
func UnitContent(cleaned string, unitNumber int) string {
	if body := ExtractUnitBody(cleaned, unitNumber, DefaultBodyMaxChars); body != "" {
		return body
	}

	n := strconv.Itoa(unitNumber)
	m := SplitIntoUnits(cleaned)
	for _, key := range []string{"Unit " + n, "unit " + n, "Chapter " + n} {
		if s, ok := m.Get(key); ok {
			return s.Content
		}
	}

	m.merge(FallbackUnits(cleaned))
	looseRe := regexp.MustCompile(`(?i)\b(?:Unit|Chapter)\s*` + n + `\b`)
	for _, key := range m.Keys() {
		if looseRe.MatchString(key) {
			s, _ := m.Get(key)
			return s.Content
		}
	}
	return ""
}
