package core

import "strconv"

// LabelCount is the size of the fixed label universe.
const LabelCount = 100

// Label is a two-digit bucket identifier in the closed set "00".."99".
type Label string

var labels = func() []Label {
	out := make([]Label, LabelCount)
	for i := range out {
		out[i] = labelOf(i)
	}
	return out
}()

func labelOf(i int) Label {
	if i < 10 {
		return Label("0" + strconv.Itoa(i))
	}
	return Label(strconv.Itoa(i))
}

// Labels returns every valid label in ascending order.
// The returned slice is a copy.
func Labels() []Label {
	return append([]Label(nil), labels...)
}

// IsLabel reports whether s is exactly one of the 100 labels.
func IsLabel(s string) bool {
	if len(s) != 2 {
		return false
	}
	return s[0] >= '0' && s[0] <= '9' && s[1] >= '0' && s[1] <= '9'
}

// Valid reports whether l belongs to the label set.
func (l Label) Valid() bool {
	return IsLabel(string(l))
}

// String implements fmt.Stringer
func (l Label) String() string {
	return string(l)
}
