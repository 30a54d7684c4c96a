package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/vulnverified/blindspot/internal/engine"
)

var candidateHeaders = []string{"Domain", "Class", "Addresses"}

// WriteTable renders the SSRF candidates as a terminal table, internal
// candidates first, each group in classification order.
func WriteTable(w io.Writer, res engine.Results, noColor bool) {
	if len(res.Internal) == 0 && len(res.External) == 0 {
		fmt.Fprintln(w, "\nNo SSRF candidates discovered.")
		return
	}

	var rows [][]string
	for _, rec := range res.Internal {
		rows = append(rows, []string{rec.Domain, "internal", truncate(strings.Join(rec.Addrs, ", "), 50)})
	}
	for _, rec := range res.External {
		rows = append(rows, []string{rec.Domain, "external", truncate(strings.Join(rec.Addrs, ", "), 50)})
	}

	fmt.Fprintln(w)

	if noColor {
		writeSimpleTable(w, rows)
		return
	}

	t := table.New().
		Headers(candidateHeaders...).
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
			}
			if col == 1 && rows[row][1] == "internal" {
				return lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
			}
			return lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
		})

	for _, row := range rows {
		t.Row(row...)
	}

	fmt.Fprintln(w, t.Render())
}

func writeSimpleTable(w io.Writer, rows [][]string) {
	widths := make([]int, len(candidateHeaders))
	for i, h := range candidateHeaders {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	for i, h := range candidateHeaders {
		if i > 0 {
			fmt.Fprint(w, " | ")
		}
		fmt.Fprintf(w, "%-*s", widths[i], h)
	}
	fmt.Fprintln(w)

	for i, width := range widths {
		if i > 0 {
			fmt.Fprint(w, "-+-")
		}
		fmt.Fprint(w, strings.Repeat("-", width))
	}
	fmt.Fprintln(w)

	for _, row := range rows {
		for i, cell := range row {
			if i > 0 {
				fmt.Fprint(w, " | ")
			}
			fmt.Fprintf(w, "%-*s", widths[i], cell)
		}
		fmt.Fprintln(w)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
