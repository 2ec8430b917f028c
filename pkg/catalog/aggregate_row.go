package catalog

import (
	"encoding/json"

	"github.com/JayabrataBasu/veridicalagg/pkg/types"
)

// AggregateRow is the aggregate catalog entry. It is immutable once
// committed. Zero handles mean "none".
type AggregateRow struct {
	OwningFunction         FuncID       `json:"owningFunctionId"`
	TransitionFunction     FuncID       `json:"transitionFunctionId,omitempty"`
	FinalFunction          FuncID       `json:"finalFunctionId,omitempty"`
	SortOperator           OperatorID   `json:"sortOperatorId,omitempty"`
	TransitionSortOperator OperatorID   `json:"transitionSortOperatorId,omitempty"`
	TransitionType         types.TypeID `json:"transitionTypeId,omitempty"`
	IsOrderedSet           bool         `json:"isOrderedSet"`
	DirectArgs             DirectArgs   `json:"directArgSentinel"`
	InitialValueText       *string      `json:"initialValueText"`
}

// UnmarshalJSON restores the DirectArgs variant using the sibling
// isOrderedSet flag.
func (r *AggregateRow) UnmarshalJSON(data []byte) error {
	type plain AggregateRow
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if !p.IsOrderedSet {
		p.DirectArgs = DirectArgs{}
	}
	*r = AggregateRow(p)
	return nil
}

// InitialValue parses the stored initial value with the input routine of the
// transition type. Parsing happens on every call, so literals like "now"
// reflect the time of use. ok is false when there is no initial value.
func (r *AggregateRow) InitialValue(reg *types.Registry) (v types.Value, ok bool, err error) {
	return r.InitialValueAs(reg, r.TransitionType)
}

// InitialValueAs parses the initial value as resolved, the concrete type a
// polymorphic transition type was bound to for the current call.
func (r *AggregateRow) InitialValueAs(reg *types.Registry, resolved types.TypeID) (types.Value, bool, error) {
	if r.InitialValueText == nil {
		return types.Null(resolved), false, nil
	}
	v, err := reg.Parse(resolved, *r.InitialValueText)
	if err != nil {
		return types.Value{}, false, err
	}
	return v, true, nil
}

// IsHypothetical reports whether the row describes a hypothetical-set aggregate.
func (r *AggregateRow) IsHypothetical() bool {
	return r.DirectArgs.Kind() == HypotheticalSet
}
