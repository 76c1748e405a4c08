package tables

import (
	"strings"
	"testing"

	"lessonforge/internal/extractor"
)

// threeRowRuns builds three lines of two-column positioned runs, the
// smallest layout that survives the table filters.
func threeRowRuns() []extractor.TextRun {
	return []extractor.TextRun{
		{Text: "Name", X: 50, Y: 700}, {Text: "Score", X: 300, Y: 700},
		{Text: "Alice", X: 52, Y: 680}, {Text: "90", X: 302, Y: 680},
		{Text: "Bob", X: 54, Y: 660}, {Text: "85", X: 304, Y: 660},
	}
}

// ========== table detection ==========

func TestFromRuns_ThreeRowTwoColumnTable(t *testing.T) {
	res := FromRuns([][]extractor.TextRun{threeRowRuns()})

	if len(res.Pages) != 1 {
		t.Fatalf("got %d pages, want 1", len(res.Pages))
	}
	page := res.Pages[0]
	if page.PageNumber != 1 {
		t.Errorf("page number = %d, want 1", page.PageNumber)
	}
	if len(page.Tables) != 1 {
		t.Fatalf("got %d tables, want 1", len(page.Tables))
	}
	rows := page.Tables[0].Rows
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	if rows[0][0] != "Name" || rows[0][1] != "Score" {
		t.Errorf("header row = %v", rows[0])
	}
	if rows[1][0] != "Alice" || rows[1][1] != "90" {
		t.Errorf("row 1 = %v", rows[1])
	}
	if rows[2][0] != "Bob" || rows[2][1] != "85" {
		t.Errorf("row 2 = %v", rows[2])
	}
}

func TestFromRuns_TwoRowsRejected(t *testing.T) {
	runs := []extractor.TextRun{
		{Text: "Name", X: 50, Y: 700}, {Text: "Score", X: 300, Y: 700},
		{Text: "Alice", X: 52, Y: 680}, {Text: "90", X: 302, Y: 680},
	}
	res := FromRuns([][]extractor.TextRun{runs})
	if len(res.Pages[0].Tables) != 0 {
		t.Errorf("two-row layout should yield no tables, got %d", len(res.Pages[0].Tables))
	}
}

func TestFromRuns_SingleColumnRejected(t *testing.T) {
	runs := []extractor.TextRun{
		{Text: "Paragraph one", X: 50, Y: 700},
		{Text: "Paragraph two", X: 51, Y: 680},
		{Text: "Paragraph three", X: 52, Y: 660},
		{Text: "Paragraph four", X: 50, Y: 640},
	}
	res := FromRuns([][]extractor.TextRun{runs})
	if len(res.Pages[0].Tables) != 0 {
		t.Errorf("single-column text should yield no tables, got %d", len(res.Pages[0].Tables))
	}
}

func TestFromRuns_EmptyPage(t *testing.T) {
	res := FromRuns([][]extractor.TextRun{nil})
	if len(res.Pages) != 1 {
		t.Fatalf("got %d pages, want 1", len(res.Pages))
	}
	if len(res.Pages[0].Tables) != 0 {
		t.Errorf("empty page should yield no tables")
	}
}

func TestFromRuns_PageOrderPreserved(t *testing.T) {
	res := FromRuns([][]extractor.TextRun{nil, threeRowRuns(), nil})
	if len(res.Pages) != 3 {
		t.Fatalf("got %d pages, want 3", len(res.Pages))
	}
	for i, p := range res.Pages {
		if p.PageNumber != i+1 {
			t.Errorf("page %d has number %d", i, p.PageNumber)
		}
	}
	if len(res.Pages[1].Tables) != 1 {
		t.Errorf("middle page should carry the table")
	}
}

func TestFromRuns_SameColumnRunsJoined(t *testing.T) {
	// Two runs in the left column of one line join with a space.
	runs := []extractor.TextRun{
		{Text: "First", X: 50, Y: 700}, {Text: "Name", X: 58, Y: 700}, {Text: "Score", X: 300, Y: 700},
		{Text: "Alice", X: 52, Y: 680}, {Text: "90", X: 302, Y: 680},
		{Text: "Bob", X: 54, Y: 660}, {Text: "85", X: 304, Y: 660},
	}
	res := FromRuns([][]extractor.TextRun{runs})
	if len(res.Pages[0].Tables) != 1 {
		t.Fatalf("expected one table")
	}
	if got := res.Pages[0].Tables[0].Rows[0][0]; got != "First Name" {
		t.Errorf("joined cell = %q, want 'First Name'", got)
	}
}

func TestFromRuns_LineGroupingTolerance(t *testing.T) {
	// Runs with y within 4 points land on the same line.
	runs := []extractor.TextRun{
		{Text: "Name", X: 50, Y: 700}, {Text: "Score", X: 300, Y: 697},
		{Text: "Alice", X: 52, Y: 680}, {Text: "90", X: 302, Y: 683},
		{Text: "Bob", X: 54, Y: 660}, {Text: "85", X: 304, Y: 658},
	}
	res := FromRuns([][]extractor.TextRun{runs})
	if len(res.Pages[0].Tables) != 1 {
		t.Fatalf("expected one table despite jittered y positions")
	}
	if len(res.Pages[0].Tables[0].Rows) != 3 {
		t.Errorf("got %d rows, want 3", len(res.Pages[0].Tables[0].Rows))
	}
}

// ========== serialization ==========

func TestToCSV_RoundTrip(t *testing.T) {
	res := FromRuns([][]extractor.TextRun{threeRowRuns()})
	csvs := res.ToCSV()

	pageCSVs, ok := csvs[1]
	if !ok || len(pageCSVs) != 1 {
		t.Fatalf("expected one CSV for page 1, got %v", csvs)
	}
	lines := strings.Split(pageCSVs[0], "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d CSV lines, want 3", len(lines))
	}
	want := [][]string{{"Name", "Score"}, {"Alice", "90"}, {"Bob", "85"}}
	for i, line := range lines {
		cells := strings.Split(line, ",")
		if len(cells) != 2 || cells[0] != want[i][0] || cells[1] != want[i][1] {
			t.Errorf("line %d = %q, want %v", i, line, want[i])
		}
	}
}

func TestCSVField_Quoting(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"has,comma", `"has,comma"`},
		{`has"quote`, `"has""quote"`},
		{"has\nnewline", "\"has\nnewline\""},
	}
	for _, c := range cases {
		if got := csvField(c.in); got != c.want {
			t.Errorf("csvField(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestToHTML_Escaping(t *testing.T) {
	res := Result{Pages: []PageTables{{
		PageNumber: 1,
		Tables: []Table{{Rows: [][]string{
			{"a<b", `say "hi"`},
			{"x&y", "z"},
			{"p", "q"},
		}}},
	}}}
	htmls := res.ToHTML()

	h := htmls[1][0]
	if !strings.HasPrefix(h, `<table border="1">`) || !strings.HasSuffix(h, "</table>") {
		t.Errorf("html wrapper wrong: %q", h)
	}
	for _, want := range []string{"a&lt;b", "say &quot;hi&quot;", "x&amp;y"} {
		if !strings.Contains(h, want) {
			t.Errorf("html missing %q: %q", want, h)
		}
	}
	if strings.Contains(h, "a<b") {
		t.Errorf("unescaped cell leaked into html: %q", h)
	}
}

func TestToHTML_TablelessPage(t *testing.T) {
	res := Result{Pages: []PageTables{{PageNumber: 2}}}
	htmls := res.ToHTML()
	if got := htmls[2]; len(got) != 0 {
		t.Errorf("tableless page should map to empty slice, got %v", got)
	}
}
