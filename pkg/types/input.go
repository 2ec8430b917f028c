package types

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"

	"github.com/JayabrataBasu/veridicalagg/pkg/dberr"
)

var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	time.RFC3339Nano,
	"2006-01-02 15:04",
	"2006-01-02",
}

// Parse runs the input routine of type id over text. Pseudo-types have no input
// routine. Literals such as "now" are evaluated against r.Now at call time.
func (r *Registry) Parse(id TypeID, text string) (Value, error) {
	t, ok := r.byID[id]
	if !ok {
		return Value{}, dberr.UndefinedObject("type %d does not exist", id)
	}
	if t.Kind == KindPseudo {
		return Value{}, dberr.Definition("cannot accept a value of type %s", r.Format(id))
	}
	if t.Kind == KindArray {
		return r.parseArray(t, text)
	}

	s := strings.TrimSpace(text)
	switch id {
	case Bool:
		b, ok := parseBool(s)
		if !ok {
			return Value{}, invalidSyntax("boolean", text)
		}
		return NewBool(b), nil

	case Int4:
		n, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			if isRangeErr(err) {
				return Value{}, dberr.InvalidInput("value %q is out of range for type integer", text)
			}
			return Value{}, invalidSyntax("integer", text)
		}
		return NewInt4(int32(n)), nil

	case Int8:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			if isRangeErr(err) {
				return Value{}, dberr.InvalidInput("value %q is out of range for type bigint", text)
			}
			return Value{}, invalidSyntax("bigint", text)
		}
		return NewInt8(n), nil

	case Float8:
		f, err := parseFloat(s)
		if err != nil {
			return Value{}, invalidSyntax("double precision", text)
		}
		return NewFloat8(f), nil

	case Numeric:
		d, err := decimal.NewFromString(s)
		if err != nil {
			return Value{}, invalidSyntax("numeric", text)
		}
		return NewNumeric(d), nil

	case Text:
		return NewText(text), nil

	case Varchar:
		return NewVarchar(text), nil

	case Timestamp:
		ts, err := r.parseTimestamp(s)
		if err != nil {
			return Value{}, invalidSyntax("timestamp", text)
		}
		return NewTimestamp(ts), nil

	case Date:
		ts, err := r.parseTimestamp(s)
		if err != nil {
			return Value{}, invalidSyntax("date", text)
		}
		return NewDate(ts), nil
	}

	return Value{}, dberr.Internal("no input routine for type %s", t.Name)
}

func invalidSyntax(typeName, text string) error {
	return dberr.InvalidInput("invalid input syntax for type %s: %q", typeName, text)
}

func isRangeErr(err error) bool {
	ne, ok := err.(*strconv.NumError)
	return ok && ne.Err == strconv.ErrRange
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "t", "true", "y", "yes", "on", "1":
		return true, true
	case "f", "false", "n", "no", "off", "0":
		return false, true
	}
	return false, false
}

func parseFloat(s string) (float64, error) {
	switch strings.ToLower(s) {
	case "nan":
		return math.NaN(), nil
	case "infinity", "inf", "+infinity":
		return math.Inf(1), nil
	case "-infinity", "-inf":
		return math.Inf(-1), nil
	}
	return strconv.ParseFloat(s, 64)
}

func (r *Registry) parseTimestamp(s string) (time.Time, error) {
	now := r.Now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch strings.ToLower(s) {
	case "now":
		return now, nil
	case "today":
		return midnight, nil
	case "tomorrow":
		return midnight.AddDate(0, 0, 1), nil
	case "yesterday":
		return midnight.AddDate(0, 0, -1), nil
	case "epoch":
		return time.Unix(0, 0).UTC(), nil
	}
	var lastErr error
	for _, layout := range timestampLayouts {
		ts, err := time.Parse(layout, s)
		if err == nil {
			return ts.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// parseArray accepts the {a,b,"c d",NULL} literal form.
func (r *Registry) parseArray(t *Type, text string) (Value, error) {
	s := strings.TrimSpace(text)
	if len(s) < 2 || s[0] != '{' || s[len(s)-1] != '}' {
		return Value{}, dberr.InvalidInput("malformed array literal: %q", text)
	}
	body := s[1 : len(s)-1]
	elems := []Value{}
	if strings.TrimSpace(body) == "" {
		return NewArray(t.ID, elems), nil
	}

	var cur strings.Builder
	quoted, inQuotes, escaped := false, false, false
	flush := func() error {
		item := cur.String()
		cur.Reset()
		if !quoted {
			item = strings.TrimSpace(item)
			if strings.EqualFold(item, "NULL") {
				elems = append(elems, Null(t.Elem))
				return nil
			}
		}
		v, err := r.Parse(t.Elem, item)
		if err != nil {
			return err
		}
		elems = append(elems, v)
		quoted = false
		return nil
	}
	for _, ch := range body {
		switch {
		case escaped:
			cur.WriteRune(ch)
			escaped = false
		case ch == '\\' && inQuotes:
			escaped = true
		case ch == '"':
			inQuotes = !inQuotes
			quoted = true
		case ch == ',' && !inQuotes:
			if err := flush(); err != nil {
				return Value{}, err
			}
		default:
			cur.WriteRune(ch)
		}
	}
	if inQuotes {
		return Value{}, dberr.InvalidInput("malformed array literal: %q", text)
	}
	if err := flush(); err != nil {
		return Value{}, err
	}
	return NewArray(t.ID, elems), nil
}

// FromAny converts a loosely typed Go value (from YAML, flags or JSON) into a
// value of type id. Strings go through the type's input routine.
func (r *Registry) FromAny(id TypeID, v interface{}) (Value, error) {
	if v == nil {
		return Null(id), nil
	}
	if s, ok := v.(string); ok {
		if strings.EqualFold(strings.TrimSpace(s), "null") {
			return Null(id), nil
		}
		return r.Parse(id, s)
	}
	switch id {
	case Bool:
		b, err := cast.ToBoolE(v)
		if err != nil {
			return Value{}, dberr.InvalidInput("cannot convert %v to boolean", v)
		}
		return NewBool(b), nil
	case Int4:
		n, err := cast.ToInt64E(v)
		if err != nil || n < math.MinInt32 || n > math.MaxInt32 {
			return Value{}, dberr.InvalidInput("cannot convert %v to integer", v)
		}
		return NewInt4(int32(n)), nil
	case Int8:
		n, err := cast.ToInt64E(v)
		if err != nil {
			return Value{}, dberr.InvalidInput("cannot convert %v to bigint", v)
		}
		return NewInt8(n), nil
	case Float8:
		f, err := cast.ToFloat64E(v)
		if err != nil {
			return Value{}, dberr.InvalidInput("cannot convert %v to double precision", v)
		}
		return NewFloat8(f), nil
	case Numeric:
		s, err := cast.ToStringE(v)
		if err != nil {
			return Value{}, dberr.InvalidInput("cannot convert %v to numeric", v)
		}
		return r.Parse(Numeric, s)
	case Text, Varchar:
		s, err := cast.ToStringE(v)
		if err != nil {
			return Value{}, dberr.InvalidInput("cannot convert %v to %s", v, r.Format(id))
		}
		return r.Parse(id, s)
	case Timestamp, Date:
		ts, err := cast.ToTimeE(v)
		if err != nil {
			return Value{}, dberr.InvalidInput("cannot convert %v to %s", v, r.Format(id))
		}
		if id == Date {
			return NewDate(ts), nil
		}
		return NewTimestamp(ts.UTC()), nil
	}
	if elem := r.ElementType(id); elem != InvalidType {
		items, err := cast.ToSliceE(v)
		if err != nil {
			return Value{}, dberr.InvalidInput("cannot convert %v to %s", v, r.Format(id))
		}
		elems := make([]Value, len(items))
		for i, item := range items {
			if elems[i], err = r.FromAny(elem, item); err != nil {
				return Value{}, err
			}
		}
		return NewArray(id, elems), nil
	}
	return Value{}, dberr.Definition("cannot accept a value of type %s", r.Format(id))
}
