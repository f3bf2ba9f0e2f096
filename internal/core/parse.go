// Package core provides the label set, label-list parsing and value parsing.
//
// This file contains the free-text label parser used by the add form and
// the API, plus the live auto-formatting helper used while typing.
package core

import (
	"errors"
	"strings"
)

var (
	// ErrNoValidLabels is returned when the input yields no usable labels.
	ErrNoValidLabels = errors.New("no valid numbers found")
	// ErrInvalidLabels is wrapped by InvalidLabelsError.
	ErrInvalidLabels = errors.New("invalid numbers")
)

// InvalidLabelsError names every token that fell outside the label set.
// The whole input is rejected when this error is returned.
type InvalidLabelsError struct {
	Tokens []string
}

func (e *InvalidLabelsError) Error() string {
	return "invalid numbers: " + strings.Join(e.Tokens, ", ") + ". Please use numbers between 0-99"
}

func (e *InvalidLabelsError) Unwrap() error {
	return ErrInvalidLabels
}

// FilterInput drops every character that is not a decimal digit, comma or period.
func FilterInput(raw string) string {
	return strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == ',' || r == '.' {
			return r
		}
		return -1
	}, raw)
}

// ParseLabels converts free text such as "00,04.67" into labels.
//
// Periods and commas are equivalent separators, empty segments are dropped
// and single digits are zero-padded ("5" -> "05"). Validation is
// all-or-nothing: one invalid token rejects the valid ones too.
// Duplicates are preserved in input order.
//
// Examples:
//
//	ParseLabels("00,04,67") -> [00 04 67], nil
//	ParseLabels("5")        -> [05], nil
//	ParseLabels("abc")      -> nil, ErrNoValidLabels
//	ParseLabels("00,999")   -> nil, &InvalidLabelsError{Tokens: [999]}
func ParseLabels(raw string) ([]Label, error) {
	normalized := strings.ReplaceAll(FilterInput(raw), ".", ",")

	var (
		valid   []Label
		invalid []string
	)
	for _, seg := range strings.Split(normalized, ",") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		padded := seg
		if len(padded) < 2 {
			padded = strings.Repeat("0", 2-len(padded)) + padded
		}
		if IsLabel(padded) {
			valid = append(valid, Label(padded))
		} else {
			invalid = append(invalid, seg)
		}
	}

	if len(invalid) > 0 {
		return nil, &InvalidLabelsError{Tokens: invalid}
	}
	if len(valid) == 0 {
		return nil, ErrNoValidLabels
	}
	return valid, nil
}

// AutoFormat applies the typing assist to a new keystroke.
//
// prev is the text before the keystroke and next the raw text after it.
// When the filtered text grew by exactly one character, ends with two digits
// and its length is congruent to 2 modulo 3, a comma is appended.
// cursor is the position the caret should move to (end of text).
func AutoFormat(prev, next string) (text string, cursor int) {
	text = FilterInput(next)
	n := len(text)
	if n >= 2 && n == len(prev)+1 && n%3 == 2 && isDigit(text[n-1]) && isDigit(text[n-2]) {
		text += ","
	}
	return text, len(text)
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
