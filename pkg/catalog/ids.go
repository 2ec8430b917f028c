package catalog

import "fmt"

// OID identifies a catalog object. Builtin objects use OIDs below
// FirstNormalOID; objects created at run time are numbered from it.
type OID uint32

// FirstNormalOID is the first OID handed out to user-defined objects.
const FirstNormalOID OID = 16384

// FuncID is the resolved handle of a function. Aggregates keep the FuncIDs of
// their support functions and never look them up by name again.
type FuncID OID

// OperatorID is the resolved handle of an operator.
type OperatorID OID

// InvalidFuncID and InvalidOperatorID mean "none".
const (
	InvalidFuncID     FuncID     = 0
	InvalidOperatorID OperatorID = 0
)

// Valid reports whether id refers to a function.
func (id FuncID) Valid() bool { return id != InvalidFuncID }

// Valid reports whether id refers to an operator.
func (id OperatorID) Valid() bool { return id != InvalidOperatorID }

// ObjectClass is the kind of object an ObjectAddress points at.
type ObjectClass string

const (
	ClassFunction  ObjectClass = "function"
	ClassOperator  ObjectClass = "operator"
	ClassType      ObjectClass = "type"
	ClassNamespace ObjectClass = "namespace"
)

// ObjectAddress identifies any catalog object.
type ObjectAddress struct {
	Class ObjectClass `json:"class"`
	ID    OID         `json:"id"`
}

func (a ObjectAddress) String() string {
	return fmt.Sprintf("%s %d", a.Class, a.ID)
}

// FunctionAddress returns the address of a function.
func FunctionAddress(id FuncID) ObjectAddress {
	return ObjectAddress{Class: ClassFunction, ID: OID(id)}
}

// OperatorAddress returns the address of an operator.
func OperatorAddress(id OperatorID) ObjectAddress {
	return ObjectAddress{Class: ClassOperator, ID: OID(id)}
}

// TypeAddress returns the address of a type.
func TypeAddress(id uint32) ObjectAddress {
	return ObjectAddress{Class: ClassType, ID: OID(id)}
}

// DependencyType mirrors the strength of a dependency edge.
type DependencyType string

// DependencyNormal edges block dropping the referenced object unless the drop
// cascades to the dependent.
const DependencyNormal DependencyType = "n"

// Dependency records "Dependent depends on Referenced".
type Dependency struct {
	Dependent  ObjectAddress  `json:"dependent"`
	Referenced ObjectAddress  `json:"referenced"`
	Type       DependencyType `json:"type"`
}
