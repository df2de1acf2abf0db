package watchdog

import "strings"

// fieldSize rounds a catalog cardinality up to whole bytes.
func fieldSize(n int) int { return (n + 7) / 8 }

// FieldSize is the byte length of every Field.
const FieldSize = (CodeCount + 7) / 8

// Field is a bit-vector over the event catalog. Bit c%8 of byte c/8 holds
// code c. Identification, Handled and Result all share this type.
type Field [FieldSize]byte

// Set sets the bit of c. Codes outside the catalog are ignored.
func (f *Field) Set(c Code) {
	if c.Valid() {
		f[c/8] |= 1 << (c % 8)
	}
}

// Clear clears the bit of c.
func (f *Field) Clear(c Code) {
	if c.Valid() {
		f[c/8] &^= 1 << (c % 8)
	}
}

// Get reports whether the bit of c is set.
func (f *Field) Get(c Code) bool {
	if !c.Valid() {
		return false
	}
	return f[c/8]&(1<<(c%8)) != 0
}

// Or sets every bit that is set in other.
func (f *Field) Or(other *Field) {
	for i := range f {
		f[i] |= other[i]
	}
}

// AndNot clears every bit that is set in other.
func (f *Field) AndNot(other *Field) {
	for i := range f {
		f[i] &^= other[i]
	}
}

// IsZero reports whether no bit is set.
func (f *Field) IsZero() bool {
	for _, b := range f {
		if b != 0 {
			return false
		}
	}
	return true
}

// Reset clears every bit.
func (f *Field) Reset() { *f = Field{} }

// Codes lists the set codes in ascending order.
func (f *Field) Codes() []Code {
	var out []Code
	for i := 0; i < CodeCount; i++ {
		if f.Get(Code(i)) {
			out = append(out, Code(i))
		}
	}
	return out
}

// Names lists the names of the set codes in ascending order.
func (f *Field) Names() []string {
	codes := f.Codes()
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = c.String()
	}
	return out
}

// String prints one digit per code, lowest code first.
func (f *Field) String() string {
	var sb strings.Builder
	sb.Grow(CodeCount)
	for i := 0; i < CodeCount; i++ {
		if f.Get(Code(i)) {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

// FieldOf builds a Field with the given codes set.
func FieldOf(codes ...Code) Field {
	var f Field
	for _, c := range codes {
		f.Set(c)
	}
	return f
}
