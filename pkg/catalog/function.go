package catalog

import (
	"strings"

	"github.com/JayabrataBasu/veridicalagg/pkg/types"
)

// ArgMode is the declared mode of a function argument.
type ArgMode string

const (
	ArgModeIn       ArgMode = "i"
	ArgModeVariadic ArgMode = "v"
)

// String returns the SQL keyword.
func (m ArgMode) String() string {
	switch m {
	case ArgModeVariadic:
		return "VARIADIC"
	default:
		return "IN"
	}
}

// FuncKind distinguishes normal functions from aggregate placeholders.
type FuncKind string

const (
	FuncNormal    FuncKind = "f"
	FuncAggregate FuncKind = "a"
)

// Volatility is the function volatility class.
type Volatility string

const (
	VolatilityImmutable Volatility = "i"
	VolatilityStable    Volatility = "s"
	VolatilityVolatile  Volatility = "v"
)

// Function is one entry of the function catalog. Aggregates have an entry of
// kind FuncAggregate that carries their name, arguments and result type.
type Function struct {
	ID         FuncID         `json:"id"`
	Namespace  string         `json:"namespace"`
	Name       string         `json:"name"`
	ArgTypes   []types.TypeID `json:"arg_types"`
	ArgModes   []ArgMode      `json:"arg_modes,omitempty"` // nil when every argument is IN
	ArgNames   []string       `json:"arg_names,omitempty"`
	ReturnType types.TypeID   `json:"return_type"`
	ReturnsSet bool           `json:"returns_set,omitempty"`
	Strict     bool           `json:"strict"`
	Kind       FuncKind       `json:"kind"`
	Volatility Volatility     `json:"volatility"`
	Owner      string         `json:"owner"`
	Builtin    bool           `json:"-"`
}

// QualifiedName returns namespace.name.
func (f *Function) QualifiedName() string {
	return f.Namespace + "." + f.Name
}

// VariadicType returns the declared type of the VARIADIC argument, or
// InvalidType when the function is not variadic.
func (f *Function) VariadicType() types.TypeID {
	for i, m := range f.ArgModes {
		if m == ArgModeVariadic && i < len(f.ArgTypes) {
			return f.ArgTypes[i]
		}
	}
	return types.InvalidType
}

// Signature formats name(argtypes) with VARIADIC markers.
func (f *Function) Signature(reg *types.Registry) string {
	parts := make([]string, len(f.ArgTypes))
	for i, t := range f.ArgTypes {
		parts[i] = reg.Format(t)
		if i < len(f.ArgModes) && f.ArgModes[i] == ArgModeVariadic {
			parts[i] = "VARIADIC " + parts[i]
		}
	}
	return f.Name + "(" + strings.Join(parts, ", ") + ")"
}

func (f *Function) sameSignature(namespace, name string, argTypes []types.TypeID) bool {
	if f.Namespace != namespace || f.Name != name || len(f.ArgTypes) != len(argTypes) {
		return false
	}
	for i := range argTypes {
		if f.ArgTypes[i] != argTypes[i] {
			return false
		}
	}
	return true
}

// Operator is a binary operator.
type Operator struct {
	ID        OperatorID   `json:"id"`
	Namespace string       `json:"namespace"`
	Name      string       `json:"name"`
	Left      types.TypeID `json:"left"`
	Right     types.TypeID `json:"right"`
	Result    types.TypeID `json:"result"`
	Builtin   bool         `json:"-"`
}

// Namespace is a schema.
type Namespace struct {
	Name    string `json:"name"`
	Owner   string `json:"owner"`
	Builtin bool   `json:"-"`
}

// Builtin namespace names.
const (
	NamespaceCatalog = "pg_catalog"
	NamespacePublic  = "public"
)

// SplitQualifiedName splits "ns.name" into its parts. A bare name has an
// empty namespace.
func SplitQualifiedName(qualified string) (namespace, name string) {
	if i := strings.LastIndex(qualified, "."); i >= 0 {
		return qualified[:i], qualified[i+1:]
	}
	return "", qualified
}
