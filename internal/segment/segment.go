// Package segment splits cleaned document text into logical units keyed by
// detected headings ("Unit 3", "Chapter 12"). Detection is conservative and
// tolerant of common OCR corruptions of the heading keywords.
package segment

import (
	"regexp"
	"strconv"
	"strings"
)

// Section is one detected unit: its display title and accumulated body.
type Section struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// SectionMap holds detected sections keyed by "{Keyword} {Number}", in
// document order.
type SectionMap struct {
	order    []string
	sections map[string]Section
}

// Get returns the section for a key such as "Unit 3".
func (m *SectionMap) Get(key string) (Section, bool) {
	if m == nil || m.sections == nil {
		return Section{}, false
	}
	s, ok := m.sections[key]
	return s, ok
}

// Keys returns the section keys in document order.
func (m *SectionMap) Keys() []string {
	if m == nil {
		return nil
	}
	return m.order
}

// Len reports the number of detected sections.
func (m *SectionMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.order)
}

func (m *SectionMap) put(key string, s Section) {
	if m.sections == nil {
		m.sections = make(map[string]Section)
	}
	if _, exists := m.sections[key]; !exists {
		m.order = append(m.order, key)
	}
	m.sections[key] = s
}

// merge adds other's sections without overwriting existing keys.
func (m *SectionMap) merge(other *SectionMap) {
	for _, k := range other.Keys() {
		if _, ok := m.Get(k); !ok {
			s, _ := other.Get(k)
			m.put(k, s)
		}
	}
}

var (
	// Heading keywords corrupted by OCR, fixed before pattern matching.
	reOCRUnit    = regexp.MustCompile(`(?i)un[l1i]t`)
	reOCRChapter = regexp.MustCompile(`(?i)chapt?r`)
	reCurlyQuote = regexp.MustCompile("[‘’“”]")
	reWS         = regexp.MustCompile(`\s+`)

	headingRe       = regexp.MustCompile(`(?i)^\s*(Unit|Chapter|Lesson|Section)\b[\s\-:]*([0-9]{1,3})\b(.*)$`)
	inlineHeadingRe = regexp.MustCompile(`(?i)\b(Unit|Chapter|Lesson|Section)\s*([0-9]{1,3})\b`)
)

// preNormalizeHeadingLine repairs OCR damage to heading keywords so that
// "Un1t 3" still matches the heading pattern.
func preNormalizeHeadingLine(line string) string {
	line = reOCRUnit.ReplaceAllString(line, "Unit")
	line = reOCRChapter.ReplaceAllString(line, "Chapter")
	line = reCurlyQuote.ReplaceAllString(line, "'")
	line = reWS.ReplaceAllString(line, " ")
	return strings.TrimSpace(line)
}

// SplitIntoUnits scans line by line for heading markers and accumulates the
// body of each section. The heading line itself is not part of the body,
// and text before the first heading belongs to no section.
func SplitIntoUnits(cleaned string) *SectionMap {
	out := &SectionMap{}
	if cleaned == "" {
		return out
	}

	var (
		currentKey   string
		currentTitle string
		buffer       []string
	)
	flush := func() {
		if currentKey == "" {
			return
		}
		out.put(currentKey, Section{
			Title:   currentTitle,
			Content: strings.TrimSpace(strings.Join(buffer, "\n")),
		})
	}

	for _, rawLine := range strings.Split(cleaned, "\n") {
		line := preNormalizeHeadingLine(strings.TrimSuffix(rawLine, "\r"))
		m := headingRe.FindStringSubmatch(line)
		if m != nil {
			flush()
			kind := strings.TrimSpace(m[1])
			num := strings.TrimSpace(m[2])
			trailing := strings.TrimSpace(m[3])
			currentTitle = kind + " " + num
			if trailing != "" {
				currentTitle += " - " + trailing
			}
			currentKey = kind + " " + num
			buffer = nil
			continue
		}
		if currentKey != "" {
			buffer = append(buffer, rawLine)
		}
	}
	flush()
	return out
}

// fallbackWindow bounds the content captured per inline heading occurrence
// when the line-anchored scan finds nothing.
const fallbackWindow = 2000

// FallbackUnits scans for heading tokens anywhere in the text, not only at
// line starts. Each occurrence captures a bounded window up to the next
// occurrence. Used when SplitIntoUnits finds nothing usable.
func FallbackUnits(cleaned string) *SectionMap {
	out := &SectionMap{}
	if cleaned == "" {
		return out
	}

	locs := inlineHeadingRe.FindAllStringSubmatchIndex(cleaned, -1)
	for i, loc := range locs {
		kind := cleaned[loc[2]:loc[3]]
		num := cleaned[loc[4]:loc[5]]

		start := loc[0]
		end := len(cleaned)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		if end > start+fallbackWindow {
			end = start + fallbackWindow
		}

		n, _ := strconv.Atoi(num)
		key := kind + " " + strconv.Itoa(n)
		out.put(key, Section{
			Title:   key,
			Content: strings.TrimSpace(cleaned[start:end]),
		})
	}
	return out
}
