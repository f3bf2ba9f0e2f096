package ledger

import (
	"reflect"
	"testing"

	"numtrack/internal/core"
)

func TestAggregatesWithThreshold(t *testing.T) {
	s := Snapshot{
		Entries:   map[core.Label][]float64{"05": {30, 80}},
		Threshold: 50,
	}
	if got := Sum(s, "05"); got != 110 {
		t.Fatalf("sum = %v", got)
	}
	if got := Kept(s, "05"); got != 50 {
		t.Fatalf("kept = %v", got)
	}
	if got := Excess(s, "05"); got != 60 {
		t.Fatalf("excess = %v", got)
	}
	if got := ConsolidatedExcess(s); got != "05(60)" {
		t.Fatalf("consolidated = %q", got)
	}
	if got := TotalExcess(s); got != 60 {
		t.Fatalf("total excess = %v", got)
	}
	// 99 absent labels each keep min(0, 50) = 0.
	if got := TotalKept(s); got != 50 {
		t.Fatalf("total kept = %v", got)
	}
	if got := GrandTotal(s); got != 110 {
		t.Fatalf("grand total = %v", got)
	}
}

func TestAggregatesAbsentLabel(t *testing.T) {
	s := EmptySnapshot()
	s.Threshold = 10
	if Sum(s, "33") != 0 || Kept(s, "33") != 0 || Excess(s, "33") != 0 {
		t.Fatal("absent label must aggregate to zero")
	}
	if got := ConsolidatedExcess(s); got != NoExcess {
		t.Fatalf("consolidated = %q, want %q", got, NoExcess)
	}
}

func TestZeroThresholdFormulasStillHold(t *testing.T) {
	s := Snapshot{Entries: map[core.Label][]float64{"01": {5}, "12": {2.5, 1}}}
	if got := Kept(s, "01"); got != 0 {
		t.Fatalf("kept = %v, want 0", got)
	}
	if got := Excess(s, "01"); got != 5 {
		t.Fatalf("excess = %v, want 5", got)
	}
	if got := ConsolidatedExcess(s); got != "01(5), 12(3.5)" {
		t.Fatalf("consolidated = %q", got)
	}
	sum := Summarize(s)
	if sum.ShowBreakdown {
		t.Fatal("breakdown must be hidden when threshold is 0")
	}
	if sum.TotalExcess != 8.5 || sum.GrandTotal != 8.5 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
}

func TestRowsOrderedAndCopied(t *testing.T) {
	s := Snapshot{
		Entries:   map[core.Label][]float64{"40": {1}, "02": {3, 4}, "17": {}},
		Threshold: 5,
	}
	rows := Rows(s)
	want := []Row{
		{Label: "02", Entries: []float64{3, 4}, Total: 7, Kept: 5, Excess: 2},
		{Label: "40", Entries: []float64{1}, Total: 1, Kept: 1, Excess: 0},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Fatalf("rows = %+v, want %+v", rows, want)
	}
	rows[0].Entries[0] = 100
	if s.Entries["02"][0] != 3 {
		t.Fatal("rows must not alias snapshot entries")
	}
}

func TestSummarizeIsIdempotent(t *testing.T) {
	s := Snapshot{
		Entries:   map[core.Label][]float64{"05": {30, 80}, "99": {0.1, 0.2}},
		Threshold: 50,
	}
	a, b := Summarize(s), Summarize(s)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("summaries differ: %+v vs %+v", a, b)
	}
	if !a.ShowBreakdown {
		t.Fatal("breakdown must be shown when threshold > 0")
	}
}
