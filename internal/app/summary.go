package app

import (
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"
)

var summaryHeader = []string{"SOURCE", "STATUS", "STOP", "PAGES", "COLLECTED", "DETAILS", "NORMALIZED", "SKIPPED", "PERSISTED", "FAILURES"}

// FormatSummary renders the per-source counts as an aligned table. Columns
// are padded by display width so accented source names line up.
func FormatSummary(results []Result) string {
	rows := [][]string{summaryHeader}
	for _, r := range results {
		rows = append(rows, []string{
			r.Source,
			r.Status(),
			string(r.Stop),
			strconv.Itoa(r.Pages),
			strconv.Itoa(r.Collected),
			strconv.Itoa(r.Details),
			strconv.Itoa(r.Normalized),
			strconv.Itoa(r.Skipped),
			strconv.Itoa(r.Persisted),
			strconv.Itoa(len(r.Failures)),
		})
	}

	var sb strings.Builder
	sb.WriteString(FormatTable(rows))

	for _, r := range results {
		if r.Err != nil {
			sb.WriteString(r.Source + ": " + r.Err.Error() + "\n")
		}
	}
	return sb.String()
}

// FormatTable left-aligns rows into columns two spaces apart.
func FormatTable(rows [][]string) string {
	var widths []int
	for _, row := range rows {
		for i, cell := range row {
			if i == len(widths) {
				widths = append(widths, 0)
			}
			if w := runewidth.StringWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var sb strings.Builder
	for _, row := range rows {
		for i, cell := range row {
			sb.WriteString(cell)
			if i < len(row)-1 {
				sb.WriteString(strings.Repeat(" ", widths[i]-runewidth.StringWidth(cell)+2))
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
