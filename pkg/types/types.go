// Package types provides the type system used by the aggregate catalog: type
// identities, pseudo-type and polymorphism classification, binary coercibility,
// textual input routines and typed values.
package types

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/JayabrataBasu/veridicalagg/pkg/dberr"
)

// TypeID identifies a type. Builtin IDs match PostgreSQL's OIDs so catalogs
// imported from a live server map one to one.
type TypeID uint32

// InvalidType means "no type" (e.g. an aggregate without a transition type).
const InvalidType TypeID = 0

const (
	Bool      TypeID = 16
	Int8      TypeID = 20
	Int4      TypeID = 23
	Text      TypeID = 25
	Float8    TypeID = 701
	Varchar   TypeID = 1043
	Date      TypeID = 1082
	Timestamp TypeID = 1114
	Numeric   TypeID = 1700

	BoolArray      TypeID = 1000
	Int4Array      TypeID = 1007
	TextArray      TypeID = 1009
	VarcharArray   TypeID = 1015
	Int8Array      TypeID = 1016
	Float8Array    TypeID = 1022
	TimestampArray TypeID = 1115
	DateArray      TypeID = 1182
	NumericArray   TypeID = 1231

	Any         TypeID = 2276
	AnyArray    TypeID = 2277
	Internal    TypeID = 2281
	AnyElement  TypeID = 2283
	AnyNonArray TypeID = 2776
)

// Kind is the broad category of a type.
type Kind uint8

const (
	KindBase Kind = iota
	KindArray
	KindPseudo
)

func (k Kind) String() string {
	switch k {
	case KindBase:
		return "base"
	case KindArray:
		return "array"
	case KindPseudo:
		return "pseudo"
	default:
		return "unknown"
	}
}

// Type describes one registered type.
type Type struct {
	ID      TypeID
	Name    string
	Kind    Kind
	Elem    TypeID // element type for arrays
	Array   TypeID // array type whose element is this type
	aliases []string
}

// IsArray reports whether t is an array type.
func (t *Type) IsArray() bool { return t.Kind == KindArray }

// Registry is the type catalog. It is immutable once built and safe for
// concurrent use.
type Registry struct {
	byID   map[TypeID]*Type
	byName map[string]*Type

	// Now is the clock used by input routines for "now"-like literals.
	Now func() time.Time
}

// NewRegistry returns a registry holding the builtin types.
func NewRegistry() *Registry {
	r := &Registry{
		byID:   make(map[TypeID]*Type),
		byName: make(map[string]*Type),
		Now:    time.Now,
	}

	r.addBase(Bool, "bool", BoolArray, "boolean")
	r.addBase(Int8, "int8", Int8Array, "bigint")
	r.addBase(Int4, "int4", Int4Array, "integer", "int")
	r.addBase(Text, "text", TextArray)
	r.addBase(Float8, "float8", Float8Array, "double precision", "float")
	r.addBase(Varchar, "varchar", VarcharArray, "character varying")
	r.addBase(Date, "date", DateArray)
	r.addBase(Timestamp, "timestamp", TimestampArray, "timestamp without time zone")
	r.addBase(Numeric, "numeric", NumericArray, "decimal")

	r.addPseudo(Any, "any")
	r.addPseudo(AnyArray, "anyarray")
	r.addPseudo(Internal, "internal")
	r.addPseudo(AnyElement, "anyelement")
	r.addPseudo(AnyNonArray, "anynonarray")

	return r
}

func (r *Registry) addBase(id TypeID, name string, arrayID TypeID, aliases ...string) {
	base := &Type{ID: id, Name: name, Kind: KindBase, Array: arrayID, aliases: aliases}
	arr := &Type{ID: arrayID, Name: "_" + name, Kind: KindArray, Elem: id}
	r.register(base)
	r.register(arr)
}

func (r *Registry) addPseudo(id TypeID, name string) {
	r.register(&Type{ID: id, Name: name, Kind: KindPseudo})
}

func (r *Registry) register(t *Type) {
	r.byID[t.ID] = t
	r.byName[t.Name] = t
	for _, a := range t.aliases {
		r.byName[a] = t
	}
}

// ByID returns the type with the given id.
func (r *Registry) ByID(id TypeID) (*Type, bool) {
	t, ok := r.byID[id]
	return t, ok
}

// Lookup resolves a type name. It accepts PostgreSQL spellings: quoted names
// ("any"), a pg_catalog. prefix, SQL aliases and a trailing [] for arrays.
func (r *Registry) Lookup(name string) (*Type, error) {
	norm := normalizeTypeName(name)
	isArray := false
	for strings.HasSuffix(norm, "[]") {
		norm = strings.TrimSpace(strings.TrimSuffix(norm, "[]"))
		isArray = true
	}
	t, ok := r.byName[norm]
	if !ok {
		return nil, dberr.UndefinedObject("type %q does not exist", strings.TrimSpace(name))
	}
	if !isArray {
		return t, nil
	}
	if t.Kind != KindBase {
		return nil, dberr.UndefinedObject("type %q does not exist", strings.TrimSpace(name))
	}
	return r.byID[t.Array], nil
}

func normalizeTypeName(name string) string {
	s := strings.TrimSpace(name)
	s = strings.TrimPrefix(s, "pg_catalog.")
	if len(s) >= 2 && s[0] == '"' && strings.HasSuffix(s, "\"") {
		// quoted identifiers keep their case
		return s[1 : len(s)-1]
	}
	s = strings.ToLower(s)
	s = strings.Join(strings.Fields(s), " ")
	if strings.HasPrefix(s, "_") {
		// internal array spelling, e.g. _int4
		return strings.TrimPrefix(s, "_") + "[]"
	}
	return s
}

// Format returns the SQL spelling used in messages, quoting "any" as PostgreSQL does.
func (r *Registry) Format(id TypeID) string {
	if id == InvalidType {
		return "-"
	}
	t, ok := r.byID[id]
	if !ok {
		return fmt.Sprintf("type %d", id)
	}
	if t.ID == Any {
		return `"any"`
	}
	if t.Kind == KindArray {
		return r.Format(t.Elem) + "[]"
	}
	return t.Name
}

// FormatList formats a type vector as "(t1, t2)".
func (r *Registry) FormatList(ids []TypeID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = r.Format(id)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// IsPseudo reports whether id is a pseudo-type.
func (r *Registry) IsPseudo(id TypeID) bool {
	t, ok := r.byID[id]
	return ok && t.Kind == KindPseudo
}

// IsPolymorphic reports whether id is resolved per call (anyelement family).
func IsPolymorphic(id TypeID) bool {
	switch id {
	case AnyElement, AnyArray, AnyNonArray:
		return true
	}
	return false
}

// IsInternal reports whether id is the opaque internal pseudo-type.
func IsInternal(id TypeID) bool { return id == Internal }

// ElementType returns the element type of an array type, or InvalidType.
func (r *Registry) ElementType(id TypeID) TypeID {
	t, ok := r.byID[id]
	if !ok || t.Kind != KindArray {
		return InvalidType
	}
	return t.Elem
}

// ArrayType returns the array type over id, or InvalidType.
func (r *Registry) ArrayType(id TypeID) TypeID {
	t, ok := r.byID[id]
	if !ok || t.Kind != KindBase {
		return InvalidType
	}
	return t.Array
}

// binaryCoercible lists concrete pairs that share a representation.
var binaryCoercible = map[[2]TypeID]bool{
	{Varchar, Text}:           true,
	{Text, Varchar}:           true,
	{VarcharArray, TextArray}: true,
}

// IsBinaryCoercible reports whether a value of src can be used where target is
// expected without a run-time conversion.
func (r *Registry) IsBinaryCoercible(src, target TypeID) bool {
	if src == target {
		return true
	}
	switch target {
	case Any:
		return true
	case AnyElement:
		return !r.IsPseudo(src) || IsPolymorphic(src)
	case AnyArray:
		return src == AnyArray || r.ElementType(src) != InvalidType
	case AnyNonArray:
		t, ok := r.byID[src]
		return ok && (t.Kind == KindBase || src == AnyNonArray || src == AnyElement)
	}
	return binaryCoercible[[2]TypeID{src, target}]
}

// implicitCasts lists conversions applied silently at call sites. They need a
// run-time conversion, so they are never binary coercible.
var implicitCasts = map[[2]TypeID]bool{
	{Int4, Int8}:      true,
	{Int4, Float8}:    true,
	{Int4, Numeric}:   true,
	{Int8, Float8}:    true,
	{Int8, Numeric}:   true,
	{Numeric, Float8}: true,
	{Date, Timestamp}: true,
}

// CanCoerce reports whether src is accepted where target is expected, either
// binary coercibly or through an implicit cast.
func (r *Registry) CanCoerce(src, target TypeID) bool {
	return r.IsBinaryCoercible(src, target) || implicitCasts[[2]TypeID{src, target}]
}

// Names returns all registered canonical type names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byID))
	for _, t := range r.byID {
		names = append(names, t.Name)
	}
	sort.Strings(names)
	return names
}
