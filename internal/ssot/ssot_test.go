package ssot

import (
	"strings"
	"testing"

	"lessonforge/internal/extractor"
	"lessonforge/internal/tables"
)

// ========== page-aware accumulation ==========

func TestBodyFromPages_AccumulatesUntilNextUnit(t *testing.T) {
	pages := []extractor.PageText{
		{PageNumber: 1, Text: "Table of contents listing topics"},
		{PageNumber: 2, Text: "Unit 3 Photosynthesis begins here with chlorophyll"},
		{PageNumber: 3, Text: "continuation of the light reactions discussion"},
		{PageNumber: 4, Text: "Unit 4 Respiration begins here"},
	}
	body := bodyFromPages(pages, 3, DefaultMaxChars)

	if !strings.Contains(body, "chlorophyll") {
		t.Errorf("start page missing from body: %q", body)
	}
	if !strings.Contains(body, "light reactions") {
		t.Errorf("continuation page missing from body: %q", body)
	}
	if strings.Contains(body, "Respiration") {
		t.Errorf("next unit's page leaked into body: %q", body)
	}
}

func TestBodyFromPages_StartPageTokenDoesNotStop(t *testing.T) {
	// The start page itself contains a unit token; only later pages stop
	// the accumulation.
	pages := []extractor.PageText{
		{PageNumber: 1, Text: "Unit 2 Optics with lenses and mirrors"},
		{PageNumber: 2, Text: "refraction continues without any markers"},
	}
	body := bodyFromPages(pages, 2, DefaultMaxChars)
	if !strings.Contains(body, "refraction") {
		t.Errorf("accumulation stopped on the start page's own token: %q", body)
	}
}

func TestBodyFromPages_SectionTokenAnchors(t *testing.T) {
	pages := []extractor.PageText{
		{PageNumber: 1, Text: "front matter"},
		{PageNumber: 2, Text: "5.1 Momentum and impulse in collisions"},
	}
	body := bodyFromPages(pages, 5, DefaultMaxChars)
	if !strings.Contains(body, "Momentum") {
		t.Errorf("section token did not anchor the start page: %q", body)
	}
}

func TestBodyFromPages_NoAnchor(t *testing.T) {
	pages := []extractor.PageText{
		{PageNumber: 1, Text: "nothing relevant"},
		{PageNumber: 2, Text: "still nothing"},
	}
	if body := bodyFromPages(pages, 7, DefaultMaxChars); body != "" {
		t.Errorf("expected empty body without anchors, got %q", body)
	}
}

func TestBodyFromPages_AccumulationBound(t *testing.T) {
	long := strings.Repeat("x", 600)
	pages := []extractor.PageText{
		{PageNumber: 1, Text: "Unit 1 start " + long},
		{PageNumber: 2, Text: long},
		{PageNumber: 3, Text: long},
		{PageNumber: 4, Text: long},
	}
	body := bodyFromPages(pages, 1, 500)
	// bound is maxChars * accumulationSlack; one more page may be joined
	// after the bound is crossed but far pages must not be.
	if len(body) > 500*accumulationSlack+len(long)+10 {
		t.Errorf("accumulation ran past the safety bound: %d chars", len(body))
	}
}

func TestBodyFromPages_Empty(t *testing.T) {
	if body := bodyFromPages(nil, 1, DefaultMaxChars); body != "" {
		t.Errorf("expected empty body for no pages, got %q", body)
	}
}

// ========== boundary trim ==========

func TestTrimToBoundary_ShortBodyUntouched(t *testing.T) {
	body := "short body"
	if got := trimToBoundary(body, 100); got != body {
		t.Errorf("short body modified: %q", got)
	}
}

func TestTrimToBoundary_BacktracksToSentence(t *testing.T) {
	prefix := strings.Repeat("a", 300) + ". "
	body := prefix + strings.Repeat("b", 300)
	got := trimToBoundary(body, 400)
	if len(got) != 301 {
		t.Errorf("trim did not backtrack to the sentence end: len=%d", len(got))
	}
	if !strings.HasSuffix(got, ".") {
		t.Errorf("trimmed body should end at the sentence: %q", got[len(got)-5:])
	}
}

func TestTrimToBoundary_BacktracksToParagraph(t *testing.T) {
	body := strings.Repeat("a", 300) + "\n\n" + strings.Repeat("b", 300)
	got := trimToBoundary(body, 400)
	if strings.Count(got, "b") > 1 {
		t.Errorf("trim kept a partial paragraph: %q", got)
	}
}

func TestTrimToBoundary_HardCutWithoutBreaks(t *testing.T) {
	body := strings.Repeat("a", 1000)
	got := trimToBoundary(body, 400)
	if len(got) != 400 {
		t.Errorf("expected hard cut at 400, got %d", len(got))
	}
}

func TestTrimToBoundary_EarlyBreakIgnored(t *testing.T) {
	// A break before trimBacktrackMin must not shorten the excerpt to a
	// useless stub.
	body := "Intro. " + strings.Repeat("a", 1000)
	got := trimToBoundary(body, 400)
	if len(got) != 400 {
		t.Errorf("early break should be ignored, got len=%d", len(got))
	}
}

// ========== table fallback ==========

func TestTableSnippets_CapsPagesAndLength(t *testing.T) {
	longCell := strings.Repeat("c", 1500)
	mkTable := func() tables.Table {
		return tables.Table{Rows: [][]string{
			{longCell, "x"}, {"a", "b"}, {"d", "e"},
		}}
	}
	res := tables.Result{Pages: []tables.PageTables{
		{PageNumber: 1, Tables: []tables.Table{mkTable()}},
		{PageNumber: 2, Tables: []tables.Table{mkTable()}},
		{PageNumber: 3, Tables: []tables.Table{mkTable()}},
		{PageNumber: 4, Tables: []tables.Table{{Rows: [][]string{{"MARKER", "z"}, {"1", "2"}, {"3", "4"}}}}},
	}}
	got := tableSnippets(res)

	if strings.Contains(got, "MARKER") {
		t.Errorf("fourth page should be excluded from the fallback")
	}
	for _, part := range strings.Split(got, "\n\n") {
		if len(part) > tableSnippetMax {
			t.Errorf("snippet exceeds cap: %d chars", len(part))
		}
	}
}

func TestTableSnippets_NoTables(t *testing.T) {
	res := tables.Result{Pages: []tables.PageTables{{PageNumber: 1}}}
	if got := tableSnippets(res); got != "" {
		t.Errorf("expected empty fallback, got %q", got)
	}
}

// ========== prompt ==========

func TestBuildPrompt_EmbedsContextAndUnit(t *testing.T) {
	p := buildPrompt("the excerpt text", 3)
	if !strings.Contains(p, "Unit 3") {
		t.Errorf("prompt missing unit number: %q", p)
	}
	if !strings.Contains(p, "the excerpt text") {
		t.Errorf("prompt missing context: %q", p)
	}
	if !strings.Contains(p, QuestionPlaceholder) {
		t.Errorf("prompt missing question placeholder: %q", p)
	}
}

func TestPromptWithQuestion(t *testing.T) {
	p := buildPrompt("ctx", 1)
	got := PromptWithQuestion(p, "What is photosynthesis?")
	if strings.Contains(got, QuestionPlaceholder) {
		t.Errorf("placeholder not replaced: %q", got)
	}
	if !strings.Contains(got, "What is photosynthesis?") {
		t.Errorf("question not substituted: %q", got)
	}
}

// ========== full assembly on non-PDF input ==========

func TestBuildUnitContext_EmptyBuffer(t *testing.T) {
	e := extractor.NewEngine(nil)
	got := BuildUnitContext(e, nil, 3, Options{})
	if got.Context != "" {
		t.Errorf("empty buffer should yield empty context, got %q", got.Context)
	}
	if !strings.Contains(got.Prompt, "Unit 3") {
		t.Errorf("prompt should still be built: %q", got.Prompt)
	}
}
