package sheets

import (
	"reflect"
	"testing"

	"numtrack/internal/core"
	"numtrack/internal/ledger"
)

func TestRender_WithThreshold(t *testing.T) {
	sum := ledger.Summarize(ledger.Snapshot{
		Entries:   map[core.Label][]float64{"05": {30, 80}, "17": {2.5}},
		Threshold: 50,
	})
	got := Render(sum)
	want := [][]string{
		{"Number", "Values", "Total", "Kept", "Excess"},
		{"05", "30, 80", "110", "50", "60"},
		{"17", "2.5", "2.5", "2.5", "0"},
		{},
		{"Threshold", "50"},
		{"Grand total", "112.5"},
		{"Total kept", "52.5"},
		{"Total excess", "60"},
		{"Consolidated excess", "05(60)"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Render() =\n%v\nwant\n%v", got, want)
	}
}

func TestRender_ZeroThresholdHidesBreakdown(t *testing.T) {
	sum := ledger.Summarize(ledger.Snapshot{Entries: map[core.Label][]float64{"01": {5}}})
	got := Render(sum)
	want := [][]string{
		{"Number", "Values", "Total", "Kept", "Excess"},
		{"01", "5", "5", "", ""},
		{},
		{"Threshold", "0"},
		{"Grand total", "5"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Render() =\n%v\nwant\n%v", got, want)
	}
}

func TestRender_Empty(t *testing.T) {
	got := Render(ledger.Summarize(ledger.EmptySnapshot()))
	if len(got) != 4 || got[0][0] != "Number" || got[3][1] != "0" {
		t.Fatalf("unexpected empty render: %v", got)
	}
}
