// This file implements helpers for decoding and normalising request input.

package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"numtrack/internal/core"
	"numtrack/internal/ledger"
)

// Caps on JSON request bodies. Whole-ledger uploads get more room.
const (
	maxBodyBytes     = 64 << 10
	maxSnapshotBytes = 1 << 20
)

var errEmptyBody = errors.New("request body is empty")

// decodeJSON reads one JSON object from r into dst, rejecting unknown
// fields and trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	return decodeJSONLimit(w, r, dst, maxBodyBytes)
}

func decodeJSONLimit(w http.ResponseWriter, r *http.Request, dst any, limit int64) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return fmt.Errorf("read body: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return errEmptyBody
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("malformed JSON: %w", err)
	}
	if dec.More() {
		return errors.New("malformed JSON: trailing data")
	}
	return nil
}

// flexString accepts a JSON string or number, so "5" and 5 both work for
// label keys.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	s, err := stringValue(data)
	if err != nil {
		return err
	}
	*f = flexString(s)
	return nil
}

// flexValue holds a raw value field until it is parsed with core.ParseValue,
// so "12,5" from a form and 12.5 from a client both work.
type flexValue struct {
	raw string
	set bool
}

func (f *flexValue) UnmarshalJSON(data []byte) error {
	s, err := stringValue(data)
	if err != nil {
		return err
	}
	f.raw, f.set = s, true
	return nil
}

// Float parses the held text; a missing value is not a number.
func (f flexValue) Float() (float64, error) {
	if !f.set {
		return 0, core.ErrNotANumber
	}
	return core.ParseValue(f.raw)
}

// stringValue converts a JSON scalar to its text form.
func stringValue(data []byte) (string, error) {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		return "", nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return "", err
		}
		return sanitizeInput(s), nil
	case data[0] == '-' || (data[0] >= '0' && data[0] <= '9'):
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return "", err
		}
		return n.String(), nil
	default:
		return "", fmt.Errorf("expected string or number, got %s", data)
	}
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// parseLabel normalises a single label such as "5" or "05".
func parseLabel(raw string) (core.Label, error) {
	raw = sanitizeInput(raw)
	if len(raw) == 1 {
		raw = "0" + raw
	}
	if !core.IsLabel(raw) {
		return "", fmt.Errorf("%w: %q", ledger.ErrInvalidLabel, raw)
	}
	return core.Label(raw), nil
}

// parseIndex parses a non-negative entry position from a path segment.
func parseIndex(raw string) (int, error) {
	idx, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid index %q", raw)
	}
	return idx, nil
}
