package catalog

import (
	t "github.com/JayabrataBasu/veridicalagg/pkg/types"
)

// BootstrapOwner owns every builtin object.
const BootstrapOwner = "bootstrap"

// Builtin final functions of the hypothetical-set aggregates.
const (
	FuncHypotheticalRank        = "hypothetical_rank_final"
	FuncHypotheticalDenseRank   = "hypothetical_dense_rank_final"
	FuncHypotheticalPercentRank = "hypothetical_percent_rank_final"
	FuncHypotheticalCumeDist    = "hypothetical_cume_dist_final"
)

type builtinFunc struct {
	id       FuncID
	name     string
	args     []t.TypeID
	variadic bool // last argument is VARIADIC
	ret      t.TypeID
	strict   bool
	retset   bool
}

var builtinFuncs = []builtinFunc{
	{5001, "int4pl", []t.TypeID{t.Int4, t.Int4}, false, t.Int4, true, false},
	{5002, "int8pl", []t.TypeID{t.Int8, t.Int8}, false, t.Int8, true, false},
	{5003, "float8pl", []t.TypeID{t.Float8, t.Float8}, false, t.Float8, true, false},
	{5004, "numeric_add", []t.TypeID{t.Numeric, t.Numeric}, false, t.Numeric, true, false},
	{5005, "int4_sum", []t.TypeID{t.Int8, t.Int4}, false, t.Int8, false, false},
	{5006, "int8inc", []t.TypeID{t.Int8}, false, t.Int8, true, false},
	{5007, "int8inc_any", []t.TypeID{t.Int8, t.Any}, false, t.Int8, true, false},
	{5008, "float8_accum", []t.TypeID{t.Float8Array, t.Float8}, false, t.Float8Array, true, false},
	{5009, "float8_avg", []t.TypeID{t.Float8Array}, false, t.Float8, true, false},
	{5010, "int4larger", []t.TypeID{t.Int4, t.Int4}, false, t.Int4, true, false},
	{5011, "int4smaller", []t.TypeID{t.Int4, t.Int4}, false, t.Int4, true, false},
	{5012, "array_append", []t.TypeID{t.AnyArray, t.AnyElement}, false, t.AnyArray, false, false},
	{5013, "array_agg_transfn", []t.TypeID{t.Internal, t.AnyElement}, false, t.Internal, false, false},
	{5014, "array_agg_finalfn", []t.TypeID{t.Internal}, false, t.AnyArray, false, false},
	{5015, "textcat", []t.TypeID{t.Text, t.Text}, false, t.Text, true, false},
	{5016, "generate_series", []t.TypeID{t.Int4, t.Int4}, false, t.Int4, true, true},
	{5017, "timestamp_larger", []t.TypeID{t.Timestamp, t.Timestamp}, false, t.Timestamp, true, false},

	{5100, FuncHypotheticalRank, []t.TypeID{t.Any}, true, t.Int8, false, false},
	{5101, FuncHypotheticalDenseRank, []t.TypeID{t.Any}, true, t.Int8, false, false},
	{5102, FuncHypotheticalPercentRank, []t.TypeID{t.Any}, true, t.Float8, false, false},
	{5103, FuncHypotheticalCumeDist, []t.TypeID{t.Any}, true, t.Float8, false, false},
	{5104, "percentile_disc_final", []t.TypeID{t.Float8, t.AnyElement}, false, t.AnyElement, false, false},
	{5105, "percentile_cont_final", []t.TypeID{t.Float8, t.Float8}, false, t.Float8, true, false},
	{5106, "mode_final", []t.TypeID{t.AnyElement}, false, t.AnyElement, false, false},
	{5107, "percentile_disc_multi_final", []t.TypeID{t.Float8Array, t.AnyElement}, false, t.AnyArray, false, false},
	{5108, "ordered_count_final", []t.TypeID{t.Float8, t.Any}, true, t.Int8, false, false},
	{5109, "ordered_accum_final", []t.TypeID{t.Float8, t.Float8, t.Float8Array}, false, t.Float8, false, false},
}

// comparison operators installed for every sortable base type
var builtinOperatorNames = []string{"<", ">", "="}

var sortableTypes = []t.TypeID{
	t.Bool, t.Int4, t.Int8, t.Float8, t.Numeric, t.Text, t.Varchar, t.Date, t.Timestamp,
	t.Float8Array,
}

// bootstrap installs builtin namespaces, functions and operators.
func (s *Store) bootstrap() {
	s.namespaces[NamespaceCatalog] = &Namespace{Name: NamespaceCatalog, Owner: BootstrapOwner, Builtin: true}
	s.namespaces[NamespacePublic] = &Namespace{Name: NamespacePublic, Owner: BootstrapOwner, Builtin: true}

	for _, b := range builtinFuncs {
		fn := &Function{
			ID:         b.id,
			Namespace:  NamespaceCatalog,
			Name:       b.name,
			ArgTypes:   b.args,
			ReturnType: b.ret,
			ReturnsSet: b.retset,
			Strict:     b.strict,
			Kind:       FuncNormal,
			Volatility: VolatilityImmutable,
			Owner:      BootstrapOwner,
			Builtin:    true,
		}
		if b.variadic {
			fn.ArgModes = make([]ArgMode, len(b.args))
			for i := range fn.ArgModes {
				fn.ArgModes[i] = ArgModeIn
			}
			fn.ArgModes[len(b.args)-1] = ArgModeVariadic
		}
		s.functions[fn.ID] = fn
	}

	next := OperatorID(6000)
	for _, typ := range sortableTypes {
		for _, name := range builtinOperatorNames {
			s.operators[next] = &Operator{
				ID:        next,
				Namespace: NamespaceCatalog,
				Name:      name,
				Left:      typ,
				Right:     typ,
				Result:    t.Bool,
				Builtin:   true,
			}
			next++
		}
	}
}
