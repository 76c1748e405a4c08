package textclean

import (
	"strings"
	"testing"
)

// ========== Clean ==========

func TestClean_EmptyInput(t *testing.T) {
	if got := Clean(""); got != "" {
		t.Errorf("Clean of empty = %q, want empty", got)
	}
}

func TestClean_Idempotent(t *testing.T) {
	samples := []string{
		"plain text",
		"hy-\nphen and wrap\nped lines",
		"a\n\nb\n\n\n\nc",
		"spaced , punctuation !",
		"“curly” and ‘quoted’ — dashed",
		"  \t leading and trailing \t ",
	}
	for _, s := range samples {
		once := Clean(s)
		twice := Clean(once)
		if once != twice {
			t.Errorf("Clean not idempotent for %q: first %q, second %q", s, once, twice)
		}
	}
}

func TestClean_HyphenatedLineWrap(t *testing.T) {
	got := Clean("exam-\nple")
	if !strings.Contains(got, "example") {
		t.Errorf("Clean = %q, want joined word 'example'", got)
	}
	if strings.Contains(got, "exam-") {
		t.Errorf("Clean = %q, hyphenation artifact survived", got)
	}
}

func TestClean_ParagraphPreserved(t *testing.T) {
	got := Clean("a\n\nb")
	if got != "a\n\nb" {
		t.Errorf("Clean = %q, want paragraph break preserved", got)
	}
}

func TestClean_SingleNewlineJoined(t *testing.T) {
	got := Clean("a\nb")
	if got != "a b" {
		t.Errorf("Clean = %q, want 'a b'", got)
	}
}

func TestClean_WrappedParagraphJoined(t *testing.T) {
	got := Clean("first line\nsecond line\nthird line\n\nnext paragraph")
	want := "first line second line third line\n\nnext paragraph"
	if got != want {
		t.Errorf("Clean = %q, want %q", got, want)
	}
}

func TestClean_CollapsesBlankRuns(t *testing.T) {
	got := Clean("a\n\n\n\n\nb")
	if got != "a\n\nb" {
		t.Errorf("Clean = %q, want exactly one blank line", got)
	}
}

func TestClean_WindowsLineEndings(t *testing.T) {
	got := Clean("a\r\nb\r\rc")
	if strings.Contains(got, "\r") {
		t.Errorf("Clean = %q, carriage returns survived", got)
	}
}

// ========== NormalizeWhitespace ==========

func TestNormalizeWhitespace_CollapsesRuns(t *testing.T) {
	got := NormalizeWhitespace("a  \t  b")
	if got != "a b" {
		t.Errorf("NormalizeWhitespace = %q, want 'a b'", got)
	}
}

// ========== FixOCRArtifacts ==========

func TestFixOCRArtifacts_Ligatures(t *testing.T) {
	got := FixOCRArtifacts("eﬁcient workﬂow")
	if got != "eficient workflow" {
		t.Errorf("FixOCRArtifacts = %q", got)
	}
}

func TestFixOCRArtifacts_QuotesAndDashes(t *testing.T) {
	got := FixOCRArtifacts("“hi” ‘there’ – now — then")
	want := `"hi" 'there' - now - then`
	if got != want {
		t.Errorf("FixOCRArtifacts = %q, want %q", got, want)
	}
}

// ========== NormalizePunctuation ==========

func TestNormalizePunctuation_StripsLeadingSpace(t *testing.T) {
	got := NormalizePunctuation("wait , stop ! why ?")
	if got != "wait, stop! why?" {
		t.Errorf("NormalizePunctuation = %q", got)
	}
}

func TestNormalizePunctuation_KeepsParagraphBreak(t *testing.T) {
	got := NormalizePunctuation("a \n \n b")
	if got != "a\n\nb" {
		t.Errorf("NormalizePunctuation = %q, want blank line kept", got)
	}
}
