package types

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Value represents a typed datum.
type Value struct {
	Type    TypeID
	IsNull  bool
	Int     int64 // int4, int8
	Float   float64
	Numeric decimal.Decimal
	Text    string // text, varchar
	Bool    bool
	Time    time.Time // timestamp, date
	Elems   []Value   // arrays
}

// NewInt4 creates an int4 value.
func NewInt4(v int32) Value {
	return Value{Type: Int4, Int: int64(v)}
}

// NewInt8 creates an int8 value.
func NewInt8(v int64) Value {
	return Value{Type: Int8, Int: v}
}

// NewFloat8 creates a float8 value.
func NewFloat8(v float64) Value {
	return Value{Type: Float8, Float: v}
}

// NewNumeric creates a numeric value.
func NewNumeric(v decimal.Decimal) Value {
	return Value{Type: Numeric, Numeric: v}
}

// NewText creates a text value.
func NewText(v string) Value {
	return Value{Type: Text, Text: v}
}

// NewVarchar creates a varchar value.
func NewVarchar(v string) Value {
	return Value{Type: Varchar, Text: v}
}

// NewBool creates a bool value.
func NewBool(v bool) Value {
	return Value{Type: Bool, Bool: v}
}

// NewTimestamp creates a timestamp value.
func NewTimestamp(v time.Time) Value {
	return Value{Type: Timestamp, Time: v}
}

// NewDate creates a date value truncated to midnight UTC.
func NewDate(v time.Time) Value {
	y, m, d := v.Date()
	return Value{Type: Date, Time: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// NewArray creates an array value of the given array type.
func NewArray(arrayType TypeID, elems []Value) Value {
	return Value{Type: arrayType, Elems: elems}
}

// Null creates a NULL value of the given type.
func Null(t TypeID) Value {
	return Value{Type: t, IsNull: true}
}

// String returns a human-readable representation.
func (v Value) String() string {
	if v.IsNull {
		return "NULL"
	}
	switch v.Type {
	case Int4, Int8:
		return strconv.FormatInt(v.Int, 10)
	case Float8:
		return formatFloat(v.Float)
	case Numeric:
		return v.Numeric.String()
	case Text, Varchar:
		return v.Text
	case Bool:
		if v.Bool {
			return "true"
		}
		return "false"
	case Timestamp:
		return v.Time.Format("2006-01-02 15:04:05.999999")
	case Date:
		return v.Time.Format("2006-01-02")
	}
	if v.Elems != nil || isArrayID(v.Type) {
		parts := make([]string, len(v.Elems))
		for i, e := range v.Elems {
			parts[i] = e.String()
		}
		return "{" + strings.Join(parts, ",") + "}"
	}
	return "?"
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func isArrayID(id TypeID) bool {
	switch id {
	case BoolArray, Int4Array, TextArray, VarcharArray, Int8Array, Float8Array,
		TimestampArray, DateArray, NumericArray:
		return true
	}
	return false
}

// Compare orders two values of the same type.
// Returns -1 if left < right, 0 if equal, 1 if left > right.
// NULLs sort last (greater than any non-NULL value) and are equal to each other.
func Compare(left, right Value) int {
	if left.IsNull && right.IsNull {
		return 0
	}
	if left.IsNull {
		return 1
	}
	if right.IsNull {
		return -1
	}

	switch left.Type {
	case Int4, Int8:
		return cmpInt(left.Int, right.Int)
	case Float8:
		return cmpFloat(left.Float, right.Float)
	case Numeric:
		return left.Numeric.Cmp(right.Numeric)
	case Text, Varchar:
		return strings.Compare(left.Text, right.Text)
	case Bool:
		if left.Bool == right.Bool {
			return 0
		}
		if !left.Bool {
			return -1
		}
		return 1
	case Timestamp, Date:
		if left.Time.Before(right.Time) {
			return -1
		} else if left.Time.After(right.Time) {
			return 1
		}
		return 0
	}

	// arrays compare element-wise, then by length
	n := len(left.Elems)
	if len(right.Elems) < n {
		n = len(right.Elems)
	}
	for i := 0; i < n; i++ {
		if c := Compare(left.Elems[i], right.Elems[i]); c != 0 {
			return c
		}
	}
	return cmpInt(int64(len(left.Elems)), int64(len(right.Elems)))
}

func cmpInt(a, b int64) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

// cmpFloat treats NaN as equal to itself and greater than every other value.
func cmpFloat(a, b float64) int {
	aNaN, bNaN := math.IsNaN(a), math.IsNaN(b)
	switch {
	case aNaN && bNaN:
		return 0
	case aNaN:
		return 1
	case bNaN:
		return -1
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Equal reports whether two values compare equal (NULL equals NULL).
func Equal(left, right Value) bool {
	return Compare(left, right) == 0
}
