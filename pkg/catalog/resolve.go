package catalog

import (
	"strings"

	"github.com/JayabrataBasu/veridicalagg/pkg/dberr"
	"github.com/JayabrataBasu/veridicalagg/pkg/types"
)

// LookupAggFunction resolves a transition or final function for an aggregate
// definition. The call signature is matched without variadic expansion, so a
// function declared VARIADIC "any" matches any single trailing argument.
// Set-returning functions and functions that would need a run-time argument
// conversion are rejected, and the acting role needs EXECUTE on the result.
// retType is the declared return type, refined from the actual argument
// types when it is polymorphic.
func (tx *Tx) LookupAggFunction(qualified string, argTypes []types.TypeID) (fn *Function, retType types.TypeID, err error) {
	reg := tx.store.types
	callSig := callSignature(reg, qualified, argTypes)

	fn, err = tx.selectCandidate(qualified, argTypes, callSig)
	if err != nil {
		return nil, types.InvalidType, err
	}
	if fn.ReturnsSet {
		return nil, types.InvalidType, dberr.DatatypeMismatch("function %s returns a set", callSig)
	}

	retType, err = refineReturnType(reg, argTypes, fn.ArgTypes, fn.ReturnType)
	if err != nil {
		return nil, types.InvalidType, err
	}

	for i, declared := range fn.ArgTypes {
		if !types.IsPolymorphic(declared) && !reg.IsBinaryCoercible(argTypes[i], declared) {
			return nil, types.InvalidType, dberr.DatatypeMismatch(
				"function %s requires run-time type coercion",
				callSignature(reg, qualified, fn.ArgTypes))
		}
	}

	if err := tx.CheckFunctionExecute(fn); err != nil {
		return nil, types.InvalidType, err
	}
	return fn, retType, nil
}

// selectCandidate picks the single best function for the call: an exact
// match if one exists, otherwise the coercible candidate with the most exact
// argument positions.
func (tx *Tx) selectCandidate(qualified string, argTypes []types.TypeID, callSig string) (*Function, error) {
	reg := tx.store.types
	ns, name := SplitQualifiedName(qualified)
	search := searchPath(ns)

	visible := tx.visibleFunctions()
	var candidates []*Function
	for _, nsName := range search {
		for _, fn := range visible {
			if fn.Namespace != nsName || fn.Name != name || fn.Kind != FuncNormal ||
				len(fn.ArgTypes) != len(argTypes) {
				continue
			}
			candidates = append(candidates, fn)
		}
	}

	for _, fn := range candidates {
		if sameTypes(fn.ArgTypes, argTypes) {
			return fn, nil
		}
	}

	var best []*Function
	bestScore := -1
	for _, fn := range candidates {
		if !coercibleCall(reg, argTypes, fn.ArgTypes) {
			continue
		}
		score := 0
		for i := range argTypes {
			if argTypes[i] == fn.ArgTypes[i] {
				score++
			}
		}
		switch {
		case score > bestScore:
			best, bestScore = []*Function{fn}, score
		case score == bestScore:
			best = append(best, fn)
		}
	}

	switch len(best) {
	case 0:
		return nil, dberr.UndefinedFunction("function %s does not exist", callSig)
	case 1:
		return best[0], nil
	}
	return nil, dberr.UndefinedFunction("function %s is not unique", callSig).
		WithHint("Could not choose a best candidate function.")
}

// coercibleCall reports whether actual argument types can call a function
// declared with declared, keeping polymorphic bindings consistent.
func coercibleCall(reg *types.Registry, actual, declared []types.TypeID) bool {
	for i := range actual {
		if !reg.CanCoerce(actual[i], declared[i]) {
			return false
		}
	}
	_, err := bindPolymorphic(reg, actual, declared)
	return err == nil
}

// bindPolymorphic returns the concrete element type the polymorphic
// parameters bind to, or InvalidType when every polymorphic parameter
// received a polymorphic argument.
func bindPolymorphic(reg *types.Registry, actual, declared []types.TypeID) (types.TypeID, error) {
	elem := types.InvalidType
	for i, d := range declared {
		if !types.IsPolymorphic(d) {
			continue
		}
		a := actual[i]
		if types.IsPolymorphic(a) {
			continue
		}
		candidate := a
		if d == types.AnyArray {
			candidate = reg.ElementType(a)
			if candidate == types.InvalidType {
				return types.InvalidType, dberr.DatatypeMismatch(
					"argument declared anyarray is not an array but type %s", reg.Format(a))
			}
		}
		if d == types.AnyNonArray && reg.ElementType(a) != types.InvalidType {
			return types.InvalidType, dberr.DatatypeMismatch(
				"type matched to anynonarray is an array type: %s", reg.Format(a))
		}
		if elem != types.InvalidType && elem != candidate {
			return types.InvalidType, dberr.DatatypeMismatch(
				"arguments declared \"anyelement\" are not all alike").
				WithDetail("%s versus %s", reg.Format(elem), reg.Format(candidate))
		}
		elem = candidate
	}
	return elem, nil
}

// refineReturnType resolves a polymorphic return type from the call. The
// result may stay polymorphic when the arguments themselves are polymorphic.
func refineReturnType(reg *types.Registry, actual, declared []types.TypeID, ret types.TypeID) (types.TypeID, error) {
	elem, err := bindPolymorphic(reg, actual, declared)
	if err != nil {
		return types.InvalidType, err
	}
	if !types.IsPolymorphic(ret) || elem == types.InvalidType {
		return ret, nil
	}
	if ret == types.AnyArray {
		arr := reg.ArrayType(elem)
		if arr == types.InvalidType {
			return types.InvalidType, dberr.UndefinedObject(
				"could not find array type for data type %s", reg.Format(elem))
		}
		return arr, nil
	}
	return elem, nil
}

// LookupOperator resolves a binary operator by name and operand types.
func (tx *Tx) LookupOperator(qualified string, left, right types.TypeID) (*Operator, error) {
	reg := tx.store.types
	ns, name := SplitQualifiedName(qualified)
	search := searchPath(ns)
	ops := tx.store.Operators()
	for _, nsName := range search {
		for _, op := range ops {
			if op.Namespace == nsName && op.Name == name && op.Left == left && op.Right == right {
				return op, nil
			}
		}
	}
	return nil, dberr.UndefinedFunction("operator does not exist: %s %s %s",
		reg.Format(left), qualified, reg.Format(right))
}

func sameTypes(a, b []types.TypeID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func callSignature(reg *types.Registry, name string, argTypes []types.TypeID) string {
	parts := make([]string, len(argTypes))
	for i, t := range argTypes {
		parts[i] = reg.Format(t)
	}
	return name + "(" + strings.Join(parts, ", ") + ")"
}
