package llm

import (
	"strings"
	"testing"

	"lessonforge/internal/indexer"
	"lessonforge/internal/retriever"
)

// ========== parseAnswer ==========

func TestParseAnswer_ValidJSON(t *testing.T) {
	raw := `{
		"thinking": "The definition is in Unit 2.",
		"answer": "Photosynthesis converts light energy into chemical energy.",
		"documents": ["biology.pdf"],
		"pages": [5],
		"footnotes": [{"id": 1, "document": "biology.pdf", "page": 5}],
		"confidence": 0.9,
		"confidence_reason": "Definition stated verbatim"
	}`

	got, err := parseAnswer(raw, "What is photosynthesis?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Answer != "Photosynthesis converts light energy into chemical energy." {
		t.Errorf("answer = %q", got.Answer)
	}
	if got.Thinking != "The definition is in Unit 2." {
		t.Errorf("thinking = %q, want chain-of-thought text", got.Thinking)
	}
	if got.Confidence != 0.9 {
		t.Errorf("confidence = %f, want 0.9", got.Confidence)
	}
	if len(got.Documents) != 1 || got.Documents[0] != "biology.pdf" {
		t.Errorf("documents = %v, want [biology.pdf]", got.Documents)
	}
	if len(got.Pages) != 1 || got.Pages[0] != 5 {
		t.Errorf("pages = %v, want [5]", got.Pages)
	}
	if len(got.Footnotes) != 1 {
		t.Fatalf("expected 1 footnote, got %d", len(got.Footnotes))
	}
	if got.Footnotes[0].Document != "biology.pdf" || got.Footnotes[0].Page != 5 {
		t.Errorf("footnote = %+v, want biology.pdf p.5", got.Footnotes[0])
	}
	if got.Question != "What is photosynthesis?" {
		t.Errorf("question = %q, want original question", got.Question)
	}
}

func TestParseAnswer_WrappedInCodeFence(t *testing.T) {
	raw := "```json\n" + `{
		"answer": "The answer is here.",
		"documents": [],
		"pages": [],
		"confidence": 0.7
	}` + "\n```"

	got, err := parseAnswer(raw, "q")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Answer != "The answer is here." {
		t.Errorf("answer = %q, want 'The answer is here.'", got.Answer)
	}
}

func TestParseAnswer_PrefixedWithText(t *testing.T) {
	raw := `Here is my response:

{
	"answer": "Extracted answer.",
	"documents": ["chemistry.pdf"],
	"pages": [1],
	"confidence": 0.8
}`

	got, err := parseAnswer(raw, "q")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Answer != "Extracted answer." {
		t.Errorf("answer = %q, expected 'Extracted answer.'", got.Answer)
	}
}

func TestParseAnswer_InvalidJSON_FallsBackToRawText(t *testing.T) {
	raw := "This is not JSON at all, just plain text from the LLM."

	got, err := parseAnswer(raw, "q")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Should return the raw text as the answer
	if got.Answer != raw {
		t.Errorf("expected raw text as fallback answer, got %q", got.Answer)
	}
	if got.Confidence != 0.5 {
		t.Errorf("expected 0.5 confidence for fallback, got %f", got.Confidence)
	}
}

func TestParseAnswer_EmptyAnswerField_FallsBackToRawText(t *testing.T) {
	raw := `{
		"answer": "",
		"documents": [],
		"pages": [],
		"confidence": 0.6
	}`

	got, err := parseAnswer(raw, "q")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Empty answer field should fall back to raw JSON text
	if got.Answer == "" {
		t.Error("expected non-empty answer when answer field is empty")
	}
}

func TestParseAnswer_PagesAsStrings(t *testing.T) {
	// Some LLMs return pages as strings instead of ints.
	raw := `{
		"answer": "Test answer.",
		"documents": ["physics.pdf"],
		"pages": ["5", "10"],
		"confidence": 0.7
	}`

	got, err := parseAnswer(raw, "q")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Answer != "Test answer." {
		t.Errorf("answer = %q, want 'Test answer.'", got.Answer)
	}
	if len(got.Pages) != 2 || got.Pages[0] != 5 || got.Pages[1] != 10 {
		t.Errorf("pages = %v, want [5 10]", got.Pages)
	}
}

func TestParseAnswer_FootnotesWithStringPages(t *testing.T) {
	raw := `{
		"answer": "Some answer.",
		"documents": ["physics.pdf"],
		"pages": [3],
		"footnotes": [{"id": 1, "document": "physics.pdf", "page": "3"}],
		"confidence": 0.8
	}`

	got, err := parseAnswer(raw, "q")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Footnotes) == 0 {
		t.Fatal("expected at least 1 footnote")
	}
	if got.Footnotes[0].Document != "physics.pdf" {
		t.Errorf("footnote document = %q, want 'physics.pdf'", got.Footnotes[0].Document)
	}
	if got.Footnotes[0].Page != 3 {
		t.Errorf("footnote page = %d, want 3", got.Footnotes[0].Page)
	}
}

func TestParseAnswer_NoFootnotes(t *testing.T) {
	raw := `{
		"answer": "Answer without footnotes.",
		"documents": ["history.pdf"],
		"pages": [1],
		"confidence": 0.6
	}`

	got, err := parseAnswer(raw, "q")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Footnotes) != 0 {
		t.Errorf("expected 0 footnotes, got %d", len(got.Footnotes))
	}
}

func TestParseAnswer_MultipleDocumentsAndPages(t *testing.T) {
	raw := `{
		"answer": "Combined answer from multiple sources.",
		"documents": ["bio.pdf", "chem.pdf", "phys.pdf"],
		"pages": [1, 5, 12],
		"footnotes": [
			{"id": 1, "document": "bio.pdf", "page": 1},
			{"id": 2, "document": "chem.pdf", "page": 5},
			{"id": 3, "document": "phys.pdf", "page": 12}
		],
		"confidence": 0.85,
		"confidence_reason": "Multiple units corroborate"
	}`

	got, err := parseAnswer(raw, "q")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Documents) != 3 {
		t.Errorf("expected 3 documents, got %d", len(got.Documents))
	}
	if len(got.Pages) != 3 {
		t.Errorf("expected 3 pages, got %d", len(got.Pages))
	}
	if len(got.Footnotes) != 3 {
		t.Errorf("expected 3 footnotes, got %d", len(got.Footnotes))
	}
	if got.ConfidenceReason != "Multiple units corroborate" {
		t.Errorf("confidence_reason = %q", got.ConfidenceReason)
	}
}

// ========== FormatContext ==========

func TestFormatContext_IncludesOutlineAndExcerpts(t *testing.T) {
	outlines := []indexer.DocumentOutline{
		{
			Document: "biology.pdf",
			Title:    "Unit 1 - Cells",
			Sections: []indexer.Section{
				{Name: "Unit 1", PageStart: 1, PageEnd: 9},
				{Name: "Unit 2", PageStart: 10, PageEnd: 20},
			},
		},
	}
	results := []retriever.Result{
		{Document: "biology.pdf", PageNumber: 12, Section: "Unit 2", Text: "chunk text", ParentText: "full page about mitochondria"},
	}

	got := FormatContext(results, outlines)

	if !strings.Contains(got, "DOCUMENT OUTLINES") {
		t.Error("expected outline header")
	}
	if !strings.Contains(got, "Unit 2 (pp.10-20)") {
		t.Errorf("expected section page range, got:\n%s", got)
	}
	if !strings.Contains(got, "full page about mitochondria") {
		t.Error("expected parent text in excerpt, not the chunk")
	}
	if !strings.Contains(got, "Unit: Unit 2") {
		t.Error("expected excerpt header to carry the unit name")
	}
	if !strings.Contains(got, "[Source 1]") {
		t.Error("expected numbered source header")
	}
}

func TestFormatContext_FallsBackToChunkText(t *testing.T) {
	results := []retriever.Result{
		{Document: "old.pdf", PageNumber: 1, Text: "chunk only"},
	}

	got := FormatContext(results, nil)

	if !strings.Contains(got, "chunk only") {
		t.Error("expected chunk text fallback when parent text is empty")
	}
	if strings.Contains(got, "DOCUMENT OUTLINES") {
		t.Error("no outline header expected without outlines")
	}
}

// ========== NewProvider ==========

func TestNewProvider_UnknownProvider(t *testing.T) {
	_, err := NewProvider("unknown_provider", "key", "")
	if err == nil {
		t.Error("expected error for unknown provider, got nil")
	}
}

func TestNewProvider_EmptyKey(t *testing.T) {
	// NewProvider creates a provider instance even with empty key.
	// Key validation happens at query time, not at construction.
	p, err := NewProvider("openai", "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Error("expected non-nil provider even with empty key")
	}
}

func TestNewProvider_ValidOpenAI(t *testing.T) {
	p, err := NewProvider("openai", "sk-test-key-123", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Error("expected non-nil provider")
	}
}

func TestNewProvider_ValidAnthropic(t *testing.T) {
	p, err := NewProvider("anthropic", "sk-ant-test-key", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Error("expected non-nil provider")
	}
}
