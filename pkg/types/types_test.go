package types

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/JayabrataBasu/veridicalagg/pkg/dberr"
)

func TestLookupSpellings(t *testing.T) {
	r := NewRegistry()
	tests := []struct {
		name string
		want TypeID
	}{
		{"int4", Int4},
		{"INTEGER", Int4},
		{"pg_catalog.int8", Int8},
		{"double precision", Float8},
		{`"any"`, Any},
		{"any", Any},
		{"anyelement", AnyElement},
		{"int4[]", Int4Array},
		{"_float8", Float8Array},
		{"timestamp without time zone", Timestamp},
		{"character varying", Varchar},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			typ, err := r.Lookup(tt.name)
			if err != nil {
				t.Fatalf("Lookup(%q) error: %v", tt.name, err)
			}
			if typ.ID != tt.want {
				t.Errorf("Lookup(%q) = %d, want %d", tt.name, typ.ID, tt.want)
			}
		})
	}

	if _, err := r.Lookup("nosuchtype"); !errors.Is(err, dberr.ErrTypeResolution) {
		t.Errorf("expected TypeResolutionError, got %v", err)
	}
	if _, err := r.Lookup("anyelement[]"); err == nil {
		t.Error("expected error for array of pseudo-type")
	}
}

func TestClassification(t *testing.T) {
	r := NewRegistry()

	for _, id := range []TypeID{AnyElement, AnyArray, AnyNonArray} {
		if !IsPolymorphic(id) {
			t.Errorf("%s should be polymorphic", r.Format(id))
		}
	}
	for _, id := range []TypeID{Any, Internal, Int4} {
		if IsPolymorphic(id) {
			t.Errorf("%s should not be polymorphic", r.Format(id))
		}
	}
	if !r.IsPseudo(Internal) || r.IsPseudo(Text) {
		t.Error("pseudo classification wrong")
	}
	if r.ElementType(Int4Array) != Int4 {
		t.Error("expected int4 element type")
	}
	if r.ElementType(Int4) != InvalidType {
		t.Error("scalar has no element type")
	}
	if r.Format(Any) != `"any"` || r.Format(Float8Array) != "float8[]" {
		t.Errorf("unexpected formatting: %s %s", r.Format(Any), r.Format(Float8Array))
	}
}

func TestBinaryCoercible(t *testing.T) {
	r := NewRegistry()
	tests := []struct {
		src, target TypeID
		want        bool
	}{
		{Int4, Int4, true},
		{Int4, Int8, false},
		{Varchar, Text, true},
		{Int4, Any, true},
		{Int4, AnyElement, true},
		{Int4Array, AnyArray, true},
		{Int4, AnyArray, false},
		{Int4Array, AnyNonArray, false},
		{Text, AnyNonArray, true},
		{Internal, AnyElement, false},
	}
	for _, tt := range tests {
		if got := r.IsBinaryCoercible(tt.src, tt.target); got != tt.want {
			t.Errorf("IsBinaryCoercible(%s, %s) = %v, want %v",
				r.Format(tt.src), r.Format(tt.target), got, tt.want)
		}
	}
}

func TestInputRoutines(t *testing.T) {
	r := NewRegistry()
	fixed := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	r.Now = func() time.Time { return fixed }

	tests := []struct {
		typ     TypeID
		input   string
		want    string
		wantErr bool
	}{
		{Int4, " 42 ", "42", false},
		{Int4, "4000000000", "", true},
		{Int4, "4x", "", true},
		{Int8, "-9000000000", "-9000000000", false},
		{Float8, "2.5", "2.5", false},
		{Float8, "NaN", "NaN", false},
		{Numeric, "10.250", "10.25", false},
		{Numeric, "abc", "", true},
		{Bool, "yes", "true", false},
		{Bool, "maybe", "", true},
		{Text, "hello", "hello", false},
		{Timestamp, "now", "2024-03-01 12:30:00", false},
		{Timestamp, "2020-01-02 03:04:05", "2020-01-02 03:04:05", false},
		{Date, "today", "2024-03-01", false},
		{Float8Array, "{0,0,0}", "{0,0,0}", false},
		{TextArray, `{a,"b,c",NULL}`, "{a,b,c,NULL}", false},
		{Int4Array, "1,2", "", true},
		{AnyElement, "1", "", true},
	}
	for _, tt := range tests {
		v, err := r.Parse(tt.typ, tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("Parse(%s, %q) expected error", r.Format(tt.typ), tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse(%s, %q) error: %v", r.Format(tt.typ), tt.input, err)
			continue
		}
		if v.String() != tt.want {
			t.Errorf("Parse(%s, %q) = %s, want %s", r.Format(tt.typ), tt.input, v.String(), tt.want)
		}
	}
}

func TestCompare(t *testing.T) {
	if Compare(NewInt4(1), NewInt4(2)) != -1 {
		t.Error("1 < 2")
	}
	if Compare(Null(Int4), NewInt4(2)) != 1 {
		t.Error("NULL sorts last")
	}
	if Compare(Null(Int4), Null(Int4)) != 0 {
		t.Error("NULLs compare equal")
	}
	if Compare(NewFloat8(math.NaN()), NewFloat8(math.Inf(1))) != 1 {
		t.Error("NaN sorts above infinity")
	}
	r := NewRegistry()
	a, _ := r.Parse(Numeric, "1.50")
	b, _ := r.Parse(Numeric, "1.5")
	if !Equal(a, b) {
		t.Error("numeric scale must not affect equality")
	}
}

func TestFromAny(t *testing.T) {
	r := NewRegistry()

	v, err := r.FromAny(Int4, 25)
	if err != nil || v.Int != 25 || v.Type != Int4 {
		t.Fatalf("FromAny int: %v %v", v, err)
	}
	v, err = r.FromAny(Float8, "0.5")
	if err != nil || v.Float != 0.5 {
		t.Fatalf("FromAny float string: %v %v", v, err)
	}
	v, err = r.FromAny(Int8Array, []interface{}{1, 2, "3"})
	if err != nil || v.String() != "{1,2,3}" {
		t.Fatalf("FromAny array: %v %v", v, err)
	}
	v, err = r.FromAny(Text, nil)
	if err != nil || !v.IsNull {
		t.Fatalf("FromAny nil should give NULL: %v %v", v, err)
	}
	if _, err := r.FromAny(Int4, int64(math.MaxInt64)); err == nil {
		t.Error("expected out of range error")
	}
}
