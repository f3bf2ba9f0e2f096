package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"numtrack/internal/core"
	"numtrack/internal/ledger"
)

var (
	success = color.New(color.FgGreen).SprintfFunc()
	warning = color.New(color.FgYellow).SprintfFunc()
	keptFmt = color.New(color.FgGreen).SprintFunc()
	excFmt  = color.New(color.FgRed).SprintFunc()
	header  = color.New(color.Bold).SprintFunc()
)

// printTable writes one row per number. Kept and excess columns appear only
// once a threshold is set.
func printTable(w io.Writer, sum ledger.Summary) {
	if len(sum.Rows) == 0 {
		fmt.Fprintln(w, "No values recorded yet.")
		return
	}
	t := table{header: []string{"Number", "Values", "Total"}}
	if sum.ShowBreakdown {
		t.header = append(t.header, "Kept", "Excess")
	}
	for _, row := range sum.Rows {
		cells := []cell{
			{text: string(row.Label)},
			{text: joinValues(row.Entries)},
			{text: core.FormatValue(row.Total)},
		}
		if sum.ShowBreakdown {
			excess := cell{text: core.FormatValue(row.Excess)}
			if row.Excess > 0 {
				excess.style = excFmt
			}
			cells = append(cells, cell{text: core.FormatValue(row.Kept), style: keptFmt}, excess)
		}
		t.rows = append(t.rows, cells)
	}
	t.write(w)
}

type cell struct {
	text  string
	style func(a ...any) string
}

// table pads on the plain text and colors afterwards, so escape codes never
// count towards column widths.
type table struct {
	header []string
	rows   [][]cell
}

func (t table) write(w io.Writer) {
	widths := make([]int, len(t.header))
	for i, h := range t.header {
		widths[i] = len(h)
	}
	for _, row := range t.rows {
		for i, c := range row {
			widths[i] = max(widths[i], len(c.text))
		}
	}

	line := make([]string, len(t.header))
	for i, h := range t.header {
		line[i] = header(pad(h, widths[i], i == len(t.header)-1))
	}
	fmt.Fprintln(w, strings.Join(line, "  "))
	for _, row := range t.rows {
		for i, c := range row {
			text := pad(c.text, widths[i], i == len(row)-1)
			if c.style != nil {
				text = c.style(text)
			}
			line[i] = text
		}
		fmt.Fprintln(w, strings.Join(line[:len(row)], "  "))
	}
}

func pad(s string, width int, last bool) string {
	if last {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

func printSummary(w io.Writer, sum ledger.Summary) {
	fmt.Fprintf(w, "Threshold:    %s\n", core.FormatValue(sum.Threshold))
	fmt.Fprintf(w, "Grand total:  %s\n", core.FormatValue(sum.GrandTotal))
	if !sum.ShowBreakdown {
		return
	}
	fmt.Fprintf(w, "Total kept:   %s\n", keptFmt(core.FormatValue(sum.TotalKept)))
	fmt.Fprintf(w, "Total excess: %s\n", excFmt(core.FormatValue(sum.TotalExcess)))
	fmt.Fprintf(w, "Excess:       %s\n", sum.ConsolidatedExcess)
}

func printEntries(w io.Writer, label core.Label, entries []float64) {
	if len(entries) == 0 {
		fmt.Fprintf(w, "%s has no values.\n", label)
		return
	}
	var total float64
	for i, v := range entries {
		fmt.Fprintf(w, "%s[%d]  %s\n", label, i, core.FormatValue(v))
		total += v
	}
	fmt.Fprintf(w, "total   %s\n", core.FormatValue(total))
}

func joinValues(vals []float64) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strings.Join(parts, ", ")
}
