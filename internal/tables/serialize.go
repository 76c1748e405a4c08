package tables

import "strings"

// ToCSV serializes every table to CSV, keyed by page number, one string per
// table. Fields containing a quote, comma or newline are wrapped in quotes
// with embedded quotes doubled.
func (r Result) ToCSV() map[int][]string {
	out := make(map[int][]string, len(r.Pages))
	for _, p := range r.Pages {
		csvs := make([]string, 0, len(p.Tables))
		for _, t := range p.Tables {
			lines := make([]string, 0, len(t.Rows))
			for _, row := range t.Rows {
				cells := make([]string, len(row))
				for i, c := range row {
					cells[i] = csvField(c)
				}
				lines = append(lines, strings.Join(cells, ","))
			}
			csvs = append(csvs, strings.Join(lines, "\n"))
		}
		out[p.PageNumber] = csvs
	}
	return out
}

// ToHTML serializes every table to a minimal <table> string, keyed by page
// number. Cell text is entity-escaped.
func (r Result) ToHTML() map[int][]string {
	out := make(map[int][]string, len(r.Pages))
	for _, p := range r.Pages {
		htmls := make([]string, 0, len(p.Tables))
		for _, t := range p.Tables {
			var sb strings.Builder
			sb.WriteString(`<table border="1">`)
			for _, row := range t.Rows {
				sb.WriteString("<tr>")
				for _, c := range row {
					sb.WriteString("<td>")
					sb.WriteString(escapeHTML(c))
					sb.WriteString("</td>")
				}
				sb.WriteString("</tr>")
			}
			sb.WriteString("</table>")
			htmls = append(htmls, sb.String())
		}
		out[p.PageNumber] = htmls
	}
	return out
}

func csvField(s string) string {
	escaped := strings.ReplaceAll(s, `"`, `""`)
	if strings.ContainsAny(s, "\",\n") {
		return `"` + escaped + `"`
	}
	return escaped
}

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
)

func escapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}
