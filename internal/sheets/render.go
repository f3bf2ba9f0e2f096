package sheets

import (
	"strings"

	"numtrack/internal/core"
	"numtrack/internal/ledger"
)

// Header is the first row of every exported ledger tab.
var Header = []string{"Number", "Values", "Total", "Kept", "Excess"}

// Render lays a summary out as spreadsheet rows: the header, one row per
// label with entries, a blank separator and the totals block. Kept and
// excess cells are left empty while the threshold is 0.
func Render(sum ledger.Summary) [][]string {
	rows := make([][]string, 0, len(sum.Rows)+7)
	rows = append(rows, append([]string(nil), Header...))
	for _, r := range sum.Rows {
		vals := make([]string, len(r.Entries))
		for i, v := range r.Entries {
			vals[i] = core.FormatValue(v)
		}
		row := []string{string(r.Label), strings.Join(vals, ", "), core.FormatValue(r.Total), "", ""}
		if sum.ShowBreakdown {
			row[3] = core.FormatValue(r.Kept)
			row[4] = core.FormatValue(r.Excess)
		}
		rows = append(rows, row)
	}
	rows = append(rows,
		[]string{},
		[]string{"Threshold", core.FormatValue(sum.Threshold)},
		[]string{"Grand total", core.FormatValue(sum.GrandTotal)},
	)
	if sum.ShowBreakdown {
		rows = append(rows,
			[]string{"Total kept", core.FormatValue(sum.TotalKept)},
			[]string{"Total excess", core.FormatValue(sum.TotalExcess)},
			[]string{"Consolidated excess", sum.ConsolidatedExcess},
		)
	}
	return rows
}
