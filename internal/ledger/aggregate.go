package ledger

import (
	"math"
	"strings"

	"numtrack/internal/core"
)

// Row is the per-label breakdown shown in tables and exports.
type Row struct {
	Label   core.Label `json:"number" yaml:"number"`
	Entries []float64  `json:"values" yaml:"values"`
	Total   float64    `json:"total" yaml:"total"`
	Kept    float64    `json:"kept" yaml:"kept"`
	Excess  float64    `json:"excess" yaml:"excess"`
}

// Summary bundles every derived value for one snapshot.
type Summary struct {
	Threshold          float64 `json:"threshold" yaml:"threshold"`
	GrandTotal         float64 `json:"grandTotal" yaml:"grand_total"`
	TotalKept          float64 `json:"totalKept" yaml:"total_kept"`
	TotalExcess        float64 `json:"totalExcess" yaml:"total_excess"`
	ConsolidatedExcess string  `json:"consolidatedExcess" yaml:"consolidated_excess"`
	// ShowBreakdown gates presentation of kept/excess only; the numbers
	// above are always computed.
	ShowBreakdown bool  `json:"showBreakdown" yaml:"show_breakdown"`
	Rows          []Row `json:"rows" yaml:"rows"`
}

// NoExcess is the consolidated string when no label exceeds the threshold.
const NoExcess = "None"

// Sum adds up the entries of label, 0 when absent.
func Sum(s Snapshot, label core.Label) float64 {
	var total float64
	for _, v := range s.Entries[label] {
		total += v
	}
	return total
}

// Kept is min(sum, threshold).
func Kept(s Snapshot, label core.Label) float64 {
	return math.Min(Sum(s, label), s.Threshold)
}

// Excess is max(sum - threshold, 0).
func Excess(s Snapshot, label core.Label) float64 {
	return math.Max(Sum(s, label)-s.Threshold, 0)
}

// GrandTotal sums every label; it does not depend on the threshold.
func GrandTotal(s Snapshot) float64 {
	var total float64
	for _, l := range core.Labels() {
		total += Sum(s, l)
	}
	return total
}

// TotalKept sums Kept over all 100 labels.
func TotalKept(s Snapshot) float64 {
	var total float64
	for _, l := range core.Labels() {
		total += Kept(s, l)
	}
	return total
}

// TotalExcess sums Excess over all 100 labels.
func TotalExcess(s Snapshot) float64 {
	var total float64
	for _, l := range core.Labels() {
		total += Excess(s, l)
	}
	return total
}

// ConsolidatedExcess lists "label(excess)" for every label with a positive
// excess in ascending label order, e.g. "05(60), 17(3.5)", or "None".
func ConsolidatedExcess(s Snapshot) string {
	var parts []string
	for _, l := range core.Labels() {
		if ex := Excess(s, l); ex > 0 {
			parts = append(parts, string(l)+"("+core.FormatValue(ex)+")")
		}
	}
	if len(parts) == 0 {
		return NoExcess
	}
	return strings.Join(parts, ", ")
}

// Rows returns one row per label that has entries, in ascending label order.
func Rows(s Snapshot) []Row {
	rows := make([]Row, 0, len(s.Entries))
	for _, l := range core.Labels() {
		vals, ok := s.Entries[l]
		if !ok || len(vals) == 0 {
			continue
		}
		rows = append(rows, Row{
			Label:   l,
			Entries: append([]float64(nil), vals...),
			Total:   Sum(s, l),
			Kept:    Kept(s, l),
			Excess:  Excess(s, l),
		})
	}
	return rows
}

// Summarize computes every aggregate for s.
func Summarize(s Snapshot) Summary {
	return Summary{
		Threshold:          s.Threshold,
		GrandTotal:         GrandTotal(s),
		TotalKept:          TotalKept(s),
		TotalExcess:        TotalExcess(s),
		ConsolidatedExcess: ConsolidatedExcess(s),
		ShowBreakdown:      s.Threshold > 0,
		Rows:               Rows(s),
	}
}
