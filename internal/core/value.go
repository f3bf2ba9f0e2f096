// Package core provides the label set, label-list parsing and value parsing.
//
// This file contains functions for parsing entry values from user text
// and formatting them back for display.
package core

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// ErrNotANumber is returned when a value field fails numeric parsing.
var ErrNotANumber = errors.New("please enter a valid number for value")

// ParseValue converts user text into an entry value.
//
// It accepts an optional sign and either a dot or, when no dot is present,
// a single comma as decimal separator. Blank input, NaN and infinities are
// rejected.
//
// Examples:
//
//	ParseValue("50")    -> 50, nil
//	ParseValue("-12.5") -> -12.5, nil
//	ParseValue("12,5")  -> 12.5, nil
//	ParseValue("abc")   -> 0, ErrNotANumber
func ParseValue(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrNotANumber
	}
	if !strings.Contains(s, ".") && strings.Count(s, ",") == 1 {
		s = strings.Replace(s, ",", ".", 1)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, ErrNotANumber
	}
	if !IsFinite(v) {
		return 0, ErrNotANumber
	}
	return v, nil
}

// IsFinite reports whether v is neither NaN nor an infinity.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// FormatValue renders v with the shortest representation that round-trips,
// e.g. 60 -> "60", 12.5 -> "12.5".
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
