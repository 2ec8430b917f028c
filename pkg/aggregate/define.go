package aggregate

import (
	"github.com/JayabrataBasu/veridicalagg/internal/logger"
	"github.com/JayabrataBasu/veridicalagg/pkg/catalog"
	"github.com/JayabrataBasu/veridicalagg/pkg/dberr"
	"github.com/JayabrataBasu/veridicalagg/pkg/types"
)

// Definer validates DefinitionRequests and stages them in a catalog
// transaction.
type Definer struct {
	log *logger.Logger
}

// NewDefiner returns a Definer. A nil logger discards output.
func NewDefiner(log *logger.Logger) *Definer {
	if log == nil {
		log = logger.NewNop()
	}
	return &Definer{log: log}
}

// Register checks req and stages the aggregate's function entry, its
// catalog row and its dependency edges in tx. Nothing is visible to other
// transactions until tx commits; on error the caller aborts tx.
func (d *Definer) Register(tx *catalog.Tx, req *DefinitionRequest) (catalog.FuncID, error) {
	reg := tx.Types()
	numArgs := len(req.ArgTypes)
	isOrderedSet := req.IsOrderedSet()
	transType := req.TransitionType

	if isOrderedSet {
		if req.TransitionFunc != "" {
			return catalog.InvalidFuncID, dberr.Internal("ordered set functions cannot have transition functions")
		}
		if req.FinalFunc == "" {
			return catalog.InvalidFuncID, dberr.Internal("ordered set functions must have final functions")
		}
	} else {
		if req.TransitionFunc == "" {
			return catalog.InvalidFuncID, dberr.Internal("aggregate must have a transition function")
		}
		if req.Strict {
			return catalog.InvalidFuncID, dberr.Internal("aggregate with transition function must not be explicitly STRICT")
		}
	}

	hasPolyArg, hasInternalArg := false, false
	for _, t := range req.ArgTypes {
		if types.IsPolymorphic(t) {
			hasPolyArg = true
		} else if types.IsInternal(t) {
			hasInternalArg = true
		}
	}

	variadicType, err := variadicArgument(reg, req)
	if err != nil {
		return catalog.InvalidFuncID, err
	}

	directArgs, err := classifyDirectArgs(req, numArgs, variadicType)
	if err != nil {
		return catalog.InvalidFuncID, err
	}

	if types.IsPolymorphic(transType) && !hasPolyArg {
		return catalog.InvalidFuncID, dberr.Definition("cannot determine transition data type").
			WithDetail("An aggregate using a polymorphic transition type must have at least one polymorphic argument.")
	}

	row := &catalog.AggregateRow{
		TransitionType:   transType,
		IsOrderedSet:     isOrderedSet,
		DirectArgs:       directArgs,
		InitialValueText: req.InitialValue,
	}

	var finalType types.TypeID
	if !isOrderedSet {
		transFn, err := d.lookupTransitionFunc(tx, req, numArgs)
		if err != nil {
			return catalog.InvalidFuncID, err
		}
		row.TransitionFunction = transFn.ID
	}

	switch {
	case isOrderedSet:
		fnArgs := append([]types.TypeID(nil), req.ArgTypes...)
		if transType != types.InvalidType && variadicType != types.Any {
			fnArgs = append(fnArgs, transType)
		}
		finalFn, ret, err := tx.LookupAggFunction(req.FinalFunc, fnArgs)
		if err != nil {
			return catalog.InvalidFuncID, err
		}
		// the final function also receives NULL placeholder arguments
		if finalFn.Strict {
			return catalog.InvalidFuncID, dberr.Definition("ordered set final functions must not be declared STRICT")
		}
		row.FinalFunction, finalType = finalFn.ID, ret
	case req.FinalFunc != "":
		finalFn, ret, err := tx.LookupAggFunction(req.FinalFunc, []types.TypeID{transType})
		if err != nil {
			return catalog.InvalidFuncID, err
		}
		row.FinalFunction, finalType = finalFn.ID, ret
	default:
		finalType = transType
	}

	if finalType == types.InvalidType {
		return catalog.InvalidFuncID, dberr.Internal("aggregate %s has no result type", req.QualifiedName())
	}
	if types.IsPolymorphic(finalType) && !hasPolyArg {
		return catalog.InvalidFuncID, dberr.DatatypeMismatch("cannot determine result data type").
			WithDetail("An aggregate returning a polymorphic type must have at least one polymorphic argument.")
	}
	if types.IsInternal(finalType) && !hasInternalArg {
		return catalog.InvalidFuncID, dberr.Definition("unsafe use of pseudo-type \"internal\"").
			WithDetail("A function returning \"internal\" must have at least one \"internal\" argument.")
	}

	if req.SortOp != "" {
		if numArgs != 1 {
			return catalog.InvalidFuncID, dberr.Definition("sort operator can only be specified for single-argument aggregates")
		}
		op, err := tx.LookupOperator(req.SortOp, req.ArgTypes[0], req.ArgTypes[0])
		if err != nil {
			return catalog.InvalidFuncID, err
		}
		row.SortOperator = op.ID
	}

	if req.TransitionSortOp != "" {
		if !isOrderedSet || transType == types.InvalidType {
			return catalog.InvalidFuncID, dberr.Definition(
				"transition sort operator can only be specified for ordered set functions with transition types")
		}
		op, err := tx.LookupOperator(req.TransitionSortOp, transType, transType)
		if err != nil {
			return catalog.InvalidFuncID, err
		}
		row.TransitionSortOperator = op.ID
	}

	for _, t := range req.ArgTypes {
		if err := tx.CheckTypeUsage(t); err != nil {
			return catalog.InvalidFuncID, err
		}
	}
	if transType != types.InvalidType {
		if err := tx.CheckTypeUsage(transType); err != nil {
			return catalog.InvalidFuncID, err
		}
	}
	if err := tx.CheckTypeUsage(finalType); err != nil {
		return catalog.InvalidFuncID, err
	}

	fid, err := tx.CreateFunction(&catalog.Function{
		Namespace:  req.Namespace,
		Name:       req.Name,
		ArgTypes:   append([]types.TypeID(nil), req.ArgTypes...),
		ArgModes:   append([]catalog.ArgMode(nil), req.ArgModes...),
		ArgNames:   append([]string(nil), req.ArgNames...),
		ReturnType: finalType,
		Strict:     req.Strict,
		Kind:       catalog.FuncAggregate,
		Volatility: catalog.VolatilityImmutable,
		Owner:      tx.Role(),
	})
	if err != nil {
		return catalog.InvalidFuncID, err
	}

	row.OwningFunction = fid
	if err := tx.InsertAggregate(row); err != nil {
		return catalog.InvalidFuncID, err
	}
	if err := recordDependencies(tx, row, variadicType); err != nil {
		return catalog.InvalidFuncID, err
	}

	d.log.Info("aggregate registered",
		"aggregate", req.QualifiedName(),
		"oid", fid,
		"args", reg.FormatList(req.ArgTypes),
		"direct_args", directArgs.String(),
		"result", reg.Format(finalType),
		"role", tx.Role())
	return fid, nil
}

// lookupTransitionFunc resolves the transition function of a plain
// aggregate and checks it against the transition type.
func (d *Definer) lookupTransitionFunc(tx *catalog.Tx, req *DefinitionRequest, numArgs int) (*catalog.Function, error) {
	reg := tx.Types()
	transType := req.TransitionType

	fnArgs := make([]types.TypeID, 0, numArgs+1)
	fnArgs = append(fnArgs, transType)
	fnArgs = append(fnArgs, req.ArgTypes...)

	fn, ret, err := tx.LookupAggFunction(req.TransitionFunc, fnArgs)
	if err != nil {
		return nil, err
	}
	// polymorphic transition types demand exact equality, and concrete
	// ones are held to the same rule
	if ret != transType {
		return nil, dberr.DatatypeMismatch("return type of transition function %s is not %s",
			req.TransitionFunc, reg.Format(transType))
	}

	// a strict transition function with no initial value seeds its state
	// from the first input
	if fn.Strict && req.InitialValue == nil {
		if numArgs < 1 || !reg.IsBinaryCoercible(req.ArgTypes[0], transType) {
			return nil, dberr.Definition("must not omit initial value when transition function is strict and transition type is not compatible with input type")
		}
	}
	return fn, nil
}

// variadicArgument validates the argument mode vector and returns the type
// of the VARIADIC argument, or InvalidType when there is none.
func variadicArgument(reg *types.Registry, req *DefinitionRequest) (types.TypeID, error) {
	variadicType := types.InvalidType
	if req.ArgModes != nil && len(req.ArgModes) != len(req.ArgTypes) {
		return types.InvalidType, dberr.Internal("argument mode vector has %d entries for %d arguments",
			len(req.ArgModes), len(req.ArgTypes))
	}
	for i, mode := range req.ArgModes {
		switch mode {
		case catalog.ArgModeVariadic:
			if variadicType != types.InvalidType {
				return types.InvalidType, dberr.Definition("VARIADIC can not be specified more than once")
			}
			variadicType = req.ArgTypes[i]
			if req.IsOrderedSet() && i >= req.NumDirectArgs && variadicType != types.Any {
				return types.InvalidType, dberr.Definition("VARIADIC ordered arguments must be of type ANY")
			}
		case catalog.ArgModeIn:
			if variadicType != types.InvalidType {
				return types.InvalidType, dberr.Definition("VARIADIC argument must be last")
			}
		default:
			return types.InvalidType, dberr.Internal("invalid argument mode %q", string(mode))
		}
	}

	switch variadicType {
	case types.InvalidType, types.AnyArray, types.Any:
	default:
		if reg.ElementType(variadicType) == types.InvalidType {
			return types.InvalidType, dberr.Definition("VARIADIC parameter must be an array")
		}
	}
	return variadicType, nil
}

// classifyDirectArgs derives the direct-argument variant of the request.
func classifyDirectArgs(req *DefinitionRequest, numArgs int, variadicType types.TypeID) (catalog.DirectArgs, error) {
	if req.Hypothetical {
		if numArgs != req.NumDirectArgs || variadicType != types.Any {
			return catalog.DirectArgs{}, dberr.Definition("Invalid argument types for hypothetical set function").
				WithHint("Required declaration is (..., variadic \"any\") WITHIN GROUP (*)")
		}
		return catalog.Hypothetical(), nil
	}
	if !req.IsOrderedSet() {
		return catalog.DirectArgs{}, nil
	}
	if numArgs == req.NumDirectArgs {
		if variadicType != types.Any {
			return catalog.DirectArgs{}, dberr.Definition("Invalid argument types for ordered set function").
				WithHint("WITHIN GROUP (*) is not allowed without variadic \"any\"")
		}
		return catalog.Variable(), nil
	}
	return catalog.Fixed(req.NumDirectArgs), nil
}

// recordDependencies stages the edges from the aggregate to the objects its
// row refers to. A plain aggregate reaches its transition type through its
// functions, and so does an ordered-set aggregate whose final function
// takes the transition type; only the variadic "any" form records it.
func recordDependencies(tx *catalog.Tx, row *catalog.AggregateRow, variadicType types.TypeID) error {
	self := catalog.FunctionAddress(row.OwningFunction)
	var refs []catalog.ObjectAddress
	if row.TransitionFunction.Valid() {
		refs = append(refs, catalog.FunctionAddress(row.TransitionFunction))
	}
	if row.FinalFunction.Valid() {
		refs = append(refs, catalog.FunctionAddress(row.FinalFunction))
	}
	if row.SortOperator.Valid() {
		refs = append(refs, catalog.OperatorAddress(row.SortOperator))
	}
	if row.TransitionSortOperator.Valid() {
		refs = append(refs, catalog.OperatorAddress(row.TransitionSortOperator))
	}
	if row.TransitionType != types.InvalidType && row.IsOrderedSet && variadicType == types.Any {
		refs = append(refs, catalog.TypeAddress(uint32(row.TransitionType)))
	}
	for _, ref := range refs {
		if err := tx.RecordDependency(self, ref); err != nil {
			return err
		}
	}
	return nil
}
