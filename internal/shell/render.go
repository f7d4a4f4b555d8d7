package shell

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// renderTable prints headers and rows in aligned columns. Column widths
// use terminal cell width, so wide runes in file names keep the columns
// straight.
func renderTable(o *IO, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = runewidth.StringWidth(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			if w := runewidth.StringWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	line := func(cells []string) string {
		var b strings.Builder

		for i, cell := range cells {
			if i > 0 {
				b.WriteString("  ")
			}

			b.WriteString(runewidth.FillRight(cell, widths[i]))
		}

		return strings.TrimRight(b.String(), " ")
	}

	o.Println(line(headers))

	for _, row := range rows {
		o.Println(line(row))
	}
}
