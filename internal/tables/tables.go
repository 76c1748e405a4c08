// Package tables reconstructs tabular data from positioned text runs.
// No layout model is available, so tables are inferred geometrically:
// runs cluster into lines by y-position, column boundaries come from
// unusually wide x-gaps, and weak candidates are filtered out.
package tables

import (
	"log"
	"math"
	"sort"
	"strings"

	"lessonforge/internal/extractor"
	"lessonforge/internal/textclean"
)

// Table is rows of cell strings. Every retained row has at least two
// non-empty cells and a table has at least three such rows.
type Table struct {
	Rows [][]string `json:"rows"`
}

// PageTables holds the table candidates found on one page.
type PageTables struct {
	PageNumber int     `json:"page_number"`
	Tables     []Table `json:"tables"`
}

// Result is the per-page outcome for a whole document. Every page gets an
// entry, tableless pages included.
type Result struct {
	Pages []PageTables `json:"pages"`
}

// yTolerance groups runs into the same line when their y-positions are
// within this many points.
const yTolerance = 4

// minColumns, minRowCells and minRows gate what counts as a table.
const (
	minColumns  = 2
	minRowCells = 2
	minRows     = 3
)

// Extract reconstructs tables for every page of a PDF buffer. A page whose
// processing panics contributes an empty table list, never an abort.
func Extract(e *extractor.Engine, buf []byte) Result {
	return FromRuns(e.PageRuns(buf))
}

// FromRuns reconstructs tables from already-extracted page runs, one entry
// per input page in order.
func FromRuns(pageRuns [][]extractor.TextRun) Result {
	out := Result{Pages: make([]PageTables, 0, len(pageRuns))}
	for i, runs := range pageRuns {
		out.Pages = append(out.Pages, PageTables{
			PageNumber: i + 1,
			Tables:     pageTables(i+1, runs),
		})
	}
	return out
}

func pageTables(pageNum int, runs []extractor.TextRun) (tables []Table) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("tables: page %d panicked: %v", pageNum, rec)
			tables = nil
		}
	}()

	if len(runs) == 0 {
		return nil
	}

	// Top-to-bottom (descending y), left-to-right within equal y.
	sorted := make([]extractor.TextRun, len(runs))
	copy(sorted, runs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Y != sorted[j].Y {
			return sorted[i].Y > sorted[j].Y
		}
		return sorted[i].X < sorted[j].X
	})

	// Cluster into lines: a run joins the first line whose anchor y is
	// within tolerance, otherwise starts a new one.
	var lines [][]extractor.TextRun
	for _, r := range sorted {
		placed := false
		for li := range lines {
			if math.Abs(lines[li][0].Y-r.Y) <= yTolerance {
				lines[li] = append(lines[li], r)
				placed = true
				break
			}
		}
		if !placed {
			lines = append(lines, []extractor.TextRun{r})
		}
	}
	for li := range lines {
		sort.SliceStable(lines[li], func(i, j int) bool {
			return lines[li][i].X < lines[li][j].X
		})
	}

	centers := columnCenters(sorted)
	if len(centers) < minColumns {
		return nil
	}

	var rows [][]string
	for _, line := range lines {
		row := make([]string, len(centers))
		for _, r := range line {
			ci := nearestColumn(centers, r.X)
			if row[ci] == "" {
				row[ci] = r.Text
			} else {
				row[ci] += " " + r.Text
			}
		}
		nonEmpty := 0
		for _, c := range row {
			if strings.TrimSpace(c) != "" {
				nonEmpty++
			}
		}
		if nonEmpty >= minRowCells {
			for i, c := range row {
				if c != "" {
					row[i] = textclean.Clean(c)
				}
			}
			rows = append(rows, row)
		}
	}

	if len(rows) < minRows {
		return nil
	}
	return []Table{{Rows: rows}}
}

// columnCenters infers column centers from the distinct rounded x-positions
// on the page. Gaps wide enough relative to the typical inter-run gap mark
// column boundaries.
func columnCenters(runs []extractor.TextRun) []int {
	seen := make(map[int]bool)
	var xs []int
	for _, r := range runs {
		x := int(math.Round(r.X))
		if !seen[x] {
			seen[x] = true
			xs = append(xs, x)
		}
	}
	sort.Ints(xs)

	if len(xs) < 2 {
		return nil
	}

	gaps := make([]int, 0, len(xs)-1)
	for i := 1; i < len(xs); i++ {
		gaps = append(gaps, xs[i]-xs[i-1])
	}

	threshold := gapThreshold(gaps)

	// Split the x positions at every wide gap.
	var columns [][]int
	current := []int{xs[0]}
	for i := 1; i < len(xs); i++ {
		if xs[i]-xs[i-1] >= threshold {
			columns = append(columns, current)
			current = nil
		}
		current = append(current, xs[i])
	}
	columns = append(columns, current)

	if len(columns) < minColumns {
		return nil
	}

	centers := make([]int, len(columns))
	for i, col := range columns {
		sum := 0
		for _, x := range col {
			sum += x
		}
		centers[i] = int(math.Round(float64(sum) / float64(len(col))))
	}
	return centers
}

// gapThreshold picks the separator width from the gap distribution. The
// median guards against a few huge gaps inflating the mean; the floor of 12
// keeps ordinary word spacing from splitting columns.
func gapThreshold(gaps []int) int {
	sorted := make([]int, len(gaps))
	copy(sorted, gaps)
	sort.Ints(sorted)

	var median int
	n := len(sorted)
	if n%2 == 1 {
		median = sorted[n/2]
	} else {
		median = int(math.Round(float64(sorted[n/2-1]+sorted[n/2]) / 2))
	}

	sum := 0
	for _, g := range gaps {
		sum += g
	}
	mean := int(math.Round(float64(sum) / float64(len(gaps))))

	m := median
	if m == 0 {
		m = mean
	}
	if mean < m {
		m = mean
	}
	base := m
	if base < 8 {
		base = 8
	}
	threshold := int(math.Round(float64(base) * 1.4))
	if threshold < 12 {
		threshold = 12
	}
	return threshold
}

func nearestColumn(centers []int, x float64) int {
	best := 0
	bestDist := math.Abs(x - float64(centers[0]))
	for i := 1; i < len(centers); i++ {
		if d := math.Abs(x - float64(centers[i])); d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best
}
