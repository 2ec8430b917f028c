package aggregate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JayabrataBasu/veridicalagg/internal/logger"
	"github.com/JayabrataBasu/veridicalagg/pkg/auth"
	"github.com/JayabrataBasu/veridicalagg/pkg/catalog"
	"github.com/JayabrataBasu/veridicalagg/pkg/dberr"
	"github.com/JayabrataBasu/veridicalagg/pkg/types"
)

type fixture struct {
	store *catalog.Store
	roles *auth.RoleCatalog
	proc  *Processor
	def   *Definer
	logs  *observer.ObservedLogs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	roles, err := auth.NewRoleCatalog("")
	if err != nil {
		t.Fatalf("NewRoleCatalog failed: %v", err)
	}
	if err := roles.CreateRole("alice", "secret", false); err != nil {
		t.Fatalf("CreateRole failed: %v", err)
	}
	store, err := catalog.Open(catalog.Options{Roles: roles})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	core, logs := observer.New(zapcore.DebugLevel)
	log := logger.NewWithCore(core)
	return &fixture{
		store: store,
		roles: roles,
		proc:  NewProcessor(log),
		def:   NewDefiner(log),
		logs:  logs,
	}
}

// define runs one CREATE AGGREGATE in its own catalog transaction.
func (f *fixture) define(role, name string, args ArgumentSpec, attrs ...Attribute) (catalog.FuncID, *DefinitionRequest, error) {
	tx := f.store.Begin(context.Background(), role)
	req, err := f.proc.ParseDefinition(tx, name, args, attrs)
	if err != nil {
		tx.Abort()
		return catalog.InvalidFuncID, nil, err
	}
	fid, err := f.def.Register(tx, req)
	if err != nil {
		tx.Abort()
		return catalog.InvalidFuncID, req, err
	}
	return fid, req, tx.Commit()
}

func (f *fixture) mustDefine(t *testing.T, name string, args ArgumentSpec, attrs ...Attribute) (*catalog.AggregateRow, *catalog.Function) {
	t.Helper()
	fid, _, err := f.define("admin", name, args, attrs...)
	if err != nil {
		t.Fatalf("define %s failed: %v", name, err)
	}
	row, ok := f.store.Aggregate(fid)
	if !ok {
		t.Fatalf("aggregate %s not in catalog", name)
	}
	fn, _ := f.store.Function(fid)
	return row, fn
}

func (f *fixture) dependencyTargets(fid catalog.FuncID) []catalog.ObjectAddress {
	var out []catalog.ObjectAddress
	for _, d := range f.store.DependenciesOf(catalog.FunctionAddress(fid)) {
		out = append(out, d.Referenced)
	}
	return out
}

func param(typ string) Param         { return Param{Type: typ} }
func variadicParam(typ string) Param { return Param{Type: typ, Variadic: true} }

func expectKind(t *testing.T, err error, kind error, fragment string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error containing %q, got nil", fragment)
	}
	if !errors.Is(err, kind) {
		t.Fatalf("expected %v, got %v", kind, err)
	}
	if !strings.Contains(err.Error(), fragment) {
		t.Fatalf("error %q does not mention %q", err, fragment)
	}
}

func TestPlainAggregate(t *testing.T) {
	f := newFixture(t)
	row, fn := f.mustDefine(t, "my_sum", PlainArgs(param("int4")),
		Attr("sfunc", "int4pl"), Attr("stype", "int4"))

	if row.IsOrderedSet || row.DirectArgs.Sentinel() != 0 {
		t.Errorf("plain aggregate encoded as %v", row.DirectArgs)
	}
	if row.TransitionFunction != 5001 || row.FinalFunction.Valid() {
		t.Errorf("unexpected functions: trans %d final %d", row.TransitionFunction, row.FinalFunction)
	}
	if fn.Kind != catalog.FuncAggregate || fn.ReturnType != types.Int4 || fn.Owner != "admin" {
		t.Errorf("unexpected function entry %+v", fn)
	}
	if fn.Volatility != catalog.VolatilityImmutable || fn.Strict {
		t.Errorf("placeholder entry should be immutable and not strict: %+v", fn)
	}
	want := []catalog.ObjectAddress{catalog.FunctionAddress(5001)}
	if diff := cmp.Diff(want, f.dependencyTargets(row.OwningFunction)); diff != "" {
		t.Errorf("dependencies mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregateWithFinalFunction(t *testing.T) {
	f := newFixture(t)
	row, fn := f.mustDefine(t, "my_avg", PlainArgs(param("float8")),
		Attr("sfunc", "float8_accum"), Attr("stype", "float8[]"),
		Attr("finalfunc", "float8_avg"), Attr("initcond", "{0,0,0}"))

	if fn.ReturnType != types.Float8 {
		t.Errorf("result type = %d, want float8", fn.ReturnType)
	}
	if row.InitialValueText == nil || *row.InitialValueText != "{0,0,0}" {
		t.Errorf("initial value not stored as text: %v", row.InitialValueText)
	}
	want := []catalog.ObjectAddress{catalog.FunctionAddress(5008), catalog.FunctionAddress(5009)}
	if diff := cmp.Diff(want, f.dependencyTargets(row.OwningFunction)); diff != "" {
		t.Errorf("dependencies mismatch (-want +got):\n%s", diff)
	}
}

func TestLegacyForm(t *testing.T) {
	f := newFixture(t)
	_, fn := f.mustDefine(t, "my_count", ArgumentSpec{OldStyle: true},
		Attr("basetype", "ANY"), Attr("sfunc1", "int8inc"), Attr("stype1", "int8"), Attr("initcond1", "0"))
	if len(fn.ArgTypes) != 0 {
		t.Errorf("basetype ANY should give zero arguments, got %v", fn.ArgTypes)
	}

	_, fn = f.mustDefine(t, "my_max", ArgumentSpec{OldStyle: true},
		Attr("BaseType", "int4"), Attr("SFUNC", "int4larger"), Attr("STYPE", "int4"))
	if diff := cmp.Diff([]types.TypeID{types.Int4}, fn.ArgTypes); diff != "" {
		t.Errorf("argument types mismatch (-want +got):\n%s", diff)
	}
}

func TestPolymorphicAggregate(t *testing.T) {
	f := newFixture(t)
	row, fn := f.mustDefine(t, "array_accum", PlainArgs(param("anyelement")),
		Attr("sfunc", "array_append"), Attr("stype", "anyarray"), Attr("initcond", "{}"))
	if fn.ReturnType != types.AnyArray || row.TransitionType != types.AnyArray {
		t.Errorf("unexpected types: result %d transition %d", fn.ReturnType, row.TransitionType)
	}

	_, _, err := f.define("admin", "bad_poly", PlainArgs(param("int4")),
		Attr("sfunc", "array_append"), Attr("stype", "anyarray"))
	expectKind(t, err, dberr.ErrDefinition, "cannot determine transition data type")
}

func TestInternalTransitionType(t *testing.T) {
	f := newFixture(t)
	_, fn := f.mustDefine(t, "my_array_agg", PlainArgs(param("anyelement")),
		Attr("sfunc", "array_agg_transfn"), Attr("stype", "internal"), Attr("finalfunc", "array_agg_finalfn"))
	if fn.ReturnType != types.AnyArray {
		t.Errorf("result type = %d, want anyarray", fn.ReturnType)
	}

	_, _, err := f.define("alice", "alice_array_agg", PlainArgs(param("anyelement")),
		Attr("sfunc", "array_agg_transfn"), Attr("stype", "internal"), Attr("finalfunc", "array_agg_finalfn"))
	expectKind(t, err, dberr.ErrDefinition, "aggregate transition data type cannot be internal")

	_, _, err = f.define("admin", "leaky", PlainArgs(param("anyelement")),
		Attr("sfunc", "array_agg_transfn"), Attr("stype", "internal"))
	expectKind(t, err, dberr.ErrDefinition, `unsafe use of pseudo-type "internal"`)
}

func TestTransitionFunctionChecks(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name     string
		args     ArgumentSpec
		attrs    []Attribute
		kind     error
		fragment string
	}{
		{
			name:     "return type mismatch",
			args:     ArgumentSpec{OldStyle: true},
			attrs:    []Attribute{Attr("basetype", "any"), Attr("sfunc", "float8_avg"), Attr("stype", "float8[]")},
			kind:     dberr.ErrTypeResolution,
			fragment: "return type of transition function float8_avg is not float8[]",
		},
		{
			name:     "strict without initial value",
			args:     PlainArgs(param("float8")),
			attrs:    []Attribute{Attr("sfunc", "float8_accum"), Attr("stype", "float8[]")},
			kind:     dberr.ErrDefinition,
			fragment: "must not omit initial value",
		},
		{
			name:     "missing function",
			args:     PlainArgs(param("int4")),
			attrs:    []Attribute{Attr("sfunc", "no_such_fn"), Attr("stype", "int4")},
			kind:     dberr.ErrTypeResolution,
			fragment: "function no_such_fn(int4, int4) does not exist",
		},
		{
			name:     "set returning",
			args:     PlainArgs(param("int4")),
			attrs:    []Attribute{Attr("sfunc", "generate_series"), Attr("stype", "int4")},
			kind:     dberr.ErrTypeResolution,
			fragment: "returns a set",
		},
		{
			name:     "run-time coercion",
			args:     PlainArgs(param("int4")),
			attrs:    []Attribute{Attr("sfunc", "int4_sum"), Attr("stype", "int4")},
			kind:     dberr.ErrTypeResolution,
			fragment: "requires run-time type coercion",
		},
		{
			name:     "bad initial value",
			args:     PlainArgs(param("int4")),
			attrs:    []Attribute{Attr("sfunc", "int4pl"), Attr("stype", "int4"), Attr("initcond", "abc")},
			kind:     dberr.ErrDefinition,
			fragment: "abc",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.define("admin", "agg_"+strings.ReplaceAll(tt.name, " ", "_"), tt.args, tt.attrs...)
			expectKind(t, err, tt.kind, tt.fragment)
		})
	}
}

func TestOrderedSetShapes(t *testing.T) {
	f := newFixture(t)

	t.Run("hypothetical", func(t *testing.T) {
		row, fn := f.mustDefine(t, "my_rank", OrderedArgs(1, variadicParam(`"any"`)),
			Attr("finalfunc", catalog.FuncHypotheticalRank), Attr("hypothetical", ""))
		if row.DirectArgs.Sentinel() != catalog.SentinelHypotheticalSet || !row.IsHypothetical() {
			t.Errorf("expected hypothetical-set sentinel, got %v", row.DirectArgs)
		}
		if fn.ReturnType != types.Int8 {
			t.Errorf("result type = %d, want int8", fn.ReturnType)
		}
		want := []catalog.ObjectAddress{catalog.FunctionAddress(5100)}
		if diff := cmp.Diff(want, f.dependencyTargets(fn.ID)); diff != "" {
			t.Errorf("dependencies mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("variable direct", func(t *testing.T) {
		row, _ := f.mustDefine(t, "my_rank_any", OrderedArgs(1, variadicParam("any")),
			Attr("finalfunc", catalog.FuncHypotheticalRank))
		if row.DirectArgs.Sentinel() != catalog.SentinelVariableDirect {
			t.Errorf("expected variable-direct sentinel, got %v", row.DirectArgs)
		}
	})

	t.Run("fixed direct", func(t *testing.T) {
		row, fn := f.mustDefine(t, "my_percentile", OrderedArgs(1, param("float8"), param("anyelement")),
			Attr("finalfunc", "percentile_disc_final"))
		if n, ok := row.DirectArgs.Count(); !ok || n != 1 || row.DirectArgs.Sentinel() != 1 {
			t.Errorf("expected FixedDirect(1), got %v", row.DirectArgs)
		}
		if fn.ReturnType != types.AnyElement {
			t.Errorf("result type = %d, want anyelement", fn.ReturnType)
		}
	})

	t.Run("transition type appended to final signature", func(t *testing.T) {
		row, _ := f.mustDefine(t, "my_accum", OrderedArgs(1, param("float8"), param("float8")),
			Attr("stype", "float8[]"), Attr("finalfunc", "ordered_accum_final"), Attr("transsortop", "<"))
		if row.TransitionSortOperator == catalog.InvalidOperatorID {
			t.Error("transition sort operator not recorded")
		}
		for _, ref := range f.dependencyTargets(row.OwningFunction) {
			if ref.Class == catalog.ClassType {
				t.Errorf("unexpected type dependency %v", ref)
			}
		}
	})

	t.Run("variadic any records transition type", func(t *testing.T) {
		row, _ := f.mustDefine(t, "my_ordered_count", OrderedArgs(1, param("float8"), variadicParam("any")),
			Attr("stype", "float8"), Attr("finalfunc", "ordered_count_final"))
		want := []catalog.ObjectAddress{
			catalog.FunctionAddress(5108),
			catalog.TypeAddress(uint32(types.Float8)),
		}
		if diff := cmp.Diff(want, f.dependencyTargets(row.OwningFunction)); diff != "" {
			t.Errorf("dependencies mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestHypotheticalShapeErrors(t *testing.T) {
	f := newFixture(t)
	shapes := []ArgumentSpec{
		OrderedArgs(1, param("int4")),
		OrderedArgs(1, param("float8"), variadicParam("any")),
		PlainArgs(variadicParam("any")),
	}
	for _, args := range shapes {
		tx := f.store.Begin(context.Background(), "admin")
		req := &DefinitionRequest{
			Namespace:     catalog.NamespacePublic,
			Name:          "bad_rank",
			NumDirectArgs: args.NumDirectArgs,
			FinalFunc:     catalog.FuncHypotheticalRank,
			Hypothetical:  true,
		}
		if err := f.proc.readParams(req, tx.Types(), args.Params); err != nil {
			t.Fatalf("readParams failed: %v", err)
		}
		if !req.IsOrderedSet() {
			req.TransitionFunc = "int8inc_any"
			req.TransitionType = types.Int8
		}
		_, err := f.def.Register(tx, req)
		tx.Abort()

		expectKind(t, err, dberr.ErrDefinition, "Invalid argument types for hypothetical set function")
		var de *dberr.Error
		if !errors.As(err, &de) || !strings.Contains(de.Hint, `variadic "any"`) {
			t.Errorf("missing hint naming the required shape: %v", err)
		}
	}

	_, _, err := f.define("admin", "star_without_any", OrderedArgs(1, param("float8")),
		Attr("finalfunc", "percentile_cont_final"))
	expectKind(t, err, dberr.ErrDefinition, "Invalid argument types for ordered set function")
}

func TestOrderedSetErrors(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name     string
		args     ArgumentSpec
		attrs    []Attribute
		kind     error
		fragment string
	}{
		{"sfunc on ordered set", OrderedArgs(1, param("float8"), param("float8")),
			[]Attribute{Attr("sfunc", "float8pl"), Attr("stype", "float8"), Attr("finalfunc", "percentile_cont_final")},
			dberr.ErrDefinition, "sfunc must not be specified for ordered set functions"},
		{"missing finalfunc", OrderedArgs(1, param("float8"), param("float8")),
			nil, dberr.ErrDefinition, "finalfunc must be specified for ordered set functions"},
		{"strict final function", OrderedArgs(1, param("float8"), param("float8")),
			[]Attribute{Attr("finalfunc", "percentile_cont_final")},
			dberr.ErrDefinition, "ordered set final functions must not be declared STRICT"},
		{"internal transition type", OrderedArgs(1, param("float8"), param("float8")),
			[]Attribute{Attr("stype", "internal"), Attr("finalfunc", "ordered_accum_final")},
			dberr.ErrDefinition, "aggregate transition data type cannot be internal"},
		{"initcond without stype", OrderedArgs(1, variadicParam("any")),
			[]Attribute{Attr("finalfunc", catalog.FuncHypotheticalRank), Attr("initcond", "0")},
			dberr.ErrDefinition, "INITVAL must not be specified without STYPE"},
		{"transsortop without stype", OrderedArgs(1, variadicParam("any")),
			[]Attribute{Attr("finalfunc", catalog.FuncHypotheticalRank), Attr("transsortop", "<")},
			dberr.ErrDefinition, "transition sort operator can only be specified"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.define("admin", "ordered_agg", tt.args, tt.attrs...)
			expectKind(t, err, tt.kind, tt.fragment)
		})
	}
}

func TestArgumentModeErrors(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name     string
		args     ArgumentSpec
		attrs    []Attribute
		fragment string
	}{
		{"variadic twice", PlainArgs(variadicParam("int4[]"), variadicParam("int4[]")),
			[]Attribute{Attr("sfunc", "int4pl"), Attr("stype", "int4")},
			"VARIADIC can not be specified more than once"},
		{"variadic not last", PlainArgs(variadicParam("int4[]"), param("int4")),
			[]Attribute{Attr("sfunc", "int4pl"), Attr("stype", "int4")},
			"VARIADIC argument must be last"},
		{"ordered variadic not any", OrderedArgs(1, param("float8"), variadicParam("float8[]")),
			[]Attribute{Attr("finalfunc", "percentile_cont_final")},
			"VARIADIC ordered arguments must be of type ANY"},
		{"variadic not array", PlainArgs(variadicParam("int4")),
			[]Attribute{Attr("sfunc", "int4pl"), Attr("stype", "int4")},
			"VARIADIC parameter must be an array"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.define("admin", "variadic_agg", tt.args, tt.attrs...)
			expectKind(t, err, dberr.ErrDefinition, tt.fragment)
		})
	}
}

func TestSortOperators(t *testing.T) {
	f := newFixture(t)
	row, _ := f.mustDefine(t, "my_max", PlainArgs(param("int4")),
		Attr("sfunc", "int4larger"), Attr("stype", "int4"), Attr("sortop", ">"))
	op, ok := f.store.Operator(row.SortOperator)
	if !ok || op.Name != ">" || op.Left != types.Int4 {
		t.Fatalf("sort operator not resolved: %+v", op)
	}
	deps := f.dependencyTargets(row.OwningFunction)
	if len(deps) != 2 || deps[1] != catalog.OperatorAddress(row.SortOperator) {
		t.Errorf("expected transition function and sort operator dependencies, got %v", deps)
	}

	_, _, err := f.define("admin", "two_arg", ArgumentSpec{OldStyle: true},
		Attr("basetype", "any"), Attr("sfunc", "int8inc"), Attr("stype", "int8"), Attr("initcond", "0"), Attr("sortop", "<"))
	expectKind(t, err, dberr.ErrDefinition, "sort operator can only be specified for single-argument aggregates")

	_, _, err = f.define("admin", "plain_transsort", PlainArgs(param("int4")),
		Attr("sfunc", "int4pl"), Attr("stype", "int4"), Attr("transsortop", "<"))
	expectKind(t, err, dberr.ErrDefinition, "transition sort operator can only be specified")

	_, _, err = f.define("admin", "odd_sortop", PlainArgs(param("int4")),
		Attr("sfunc", "int4pl"), Attr("stype", "int4"), Attr("sortop", "~~"))
	expectKind(t, err, dberr.ErrTypeResolution, "operator does not exist")
}

func TestProcessorAttributeRules(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name     string
		args     ArgumentSpec
		attrs    []Attribute
		fragment string
	}{
		{"missing stype", PlainArgs(param("int4")), []Attribute{Attr("sfunc", "int4pl")},
			"aggregate stype must be specified"},
		{"missing sfunc", PlainArgs(param("int4")), []Attribute{Attr("stype", "int4")},
			"aggregate sfunc must be specified"},
		{"explicit strict", PlainArgs(param("int4")),
			[]Attribute{Attr("sfunc", "int4pl"), Attr("stype", "int4"), Attr("strict", "")},
			"may not be explicitly declared STRICT"},
		{"legacy without basetype", ArgumentSpec{OldStyle: true},
			[]Attribute{Attr("sfunc", "int4pl"), Attr("stype", "int4")},
			"aggregate input type must be specified"},
		{"modern with basetype", PlainArgs(param("int4")),
			[]Attribute{Attr("basetype", "int4"), Attr("sfunc", "int4pl"), Attr("stype", "int4")},
			"basetype is redundant"},
		{"pseudo transition type", PlainArgs(param("int4")),
			[]Attribute{Attr("sfunc", "int4pl"), Attr("stype", `"any"`)},
			`aggregate transition data type cannot be "any"`},
		{"bad flag value", PlainArgs(param("int4")),
			[]Attribute{Attr("sfunc", "int4pl"), Attr("stype", "int4"), Attr("strict", "maybe")},
			"requires a Boolean value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.define("admin", "attr_agg", tt.args, tt.attrs...)
			expectKind(t, err, dberr.ErrDefinition, tt.fragment)
		})
	}
}

func TestUnknownAttributeWarns(t *testing.T) {
	f := newFixture(t)
	_, req, err := f.define("admin", "chatty", PlainArgs(param("int4")),
		Attr("sfunc", "int4pl"), Attr("stype", "int4"), Attr("parallel", "safe"))
	if err != nil {
		t.Fatalf("definition should proceed despite unknown attribute: %v", err)
	}
	want := []string{`aggregate attribute "parallel" not recognized`}
	if diff := cmp.Diff(want, req.Warnings); diff != "" {
		t.Errorf("warnings mismatch (-want +got):\n%s", diff)
	}
	if n := f.logs.FilterMessage(want[0]).Len(); n != 1 {
		t.Errorf("expected one logged warning, got %d", n)
	}
	if n := f.logs.FilterMessage("aggregate registered").Len(); n != 1 {
		t.Errorf("expected registration to be logged once, got %d", n)
	}
}

func TestPrivileges(t *testing.T) {
	t.Run("create on namespace", func(t *testing.T) {
		f := newFixture(t)
		tx := f.store.Begin(context.Background(), "admin")
		if err := tx.CreateNamespace("locked"); err != nil {
			t.Fatalf("CreateNamespace failed: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
		_, _, err := f.define("alice", "locked.my_sum", PlainArgs(param("int4")),
			Attr("sfunc", "int4pl"), Attr("stype", "int4"))
		expectKind(t, err, dberr.ErrPermission, "permission denied for schema locked")

		if err := f.roles.Grant("alice", auth.NamespaceObject("locked"), auth.PrivCreate); err != nil {
			t.Fatalf("Grant failed: %v", err)
		}
		if _, _, err := f.define("alice", "locked.my_sum", PlainArgs(param("int4")),
			Attr("sfunc", "int4pl"), Attr("stype", "int4")); err != nil {
			t.Fatalf("define after grant failed: %v", err)
		}
	})

	t.Run("usage on argument type", func(t *testing.T) {
		f := newFixture(t)
		if err := f.roles.Revoke(auth.Public, auth.TypeObject(uint32(types.Numeric), "numeric"), auth.PrivUsage); err != nil {
			t.Fatalf("Revoke failed: %v", err)
		}
		_, _, err := f.define("alice", "num_sum", PlainArgs(param("numeric")),
			Attr("sfunc", "numeric_add"), Attr("stype", "numeric"))
		expectKind(t, err, dberr.ErrPermission, "permission denied for type numeric")

		// superusers bypass the check
		if _, _, err := f.define("admin", "num_sum", PlainArgs(param("numeric")),
			Attr("sfunc", "numeric_add"), Attr("stype", "numeric")); err != nil {
			t.Fatalf("superuser define failed: %v", err)
		}
	})

	t.Run("execute on final function", func(t *testing.T) {
		f := newFixture(t)
		obj := auth.FunctionObject(5009, "float8_avg")
		if err := f.roles.Revoke(auth.Public, obj, auth.PrivExecute); err != nil {
			t.Fatalf("Revoke failed: %v", err)
		}
		_, _, err := f.define("alice", "alice_avg", PlainArgs(param("float8")),
			Attr("sfunc", "float8_accum"), Attr("stype", "float8[]"),
			Attr("finalfunc", "float8_avg"), Attr("initcond", "{0,0,0}"))
		expectKind(t, err, dberr.ErrPermission, "permission denied for function float8_avg")
	})
}

func TestFailedRegistrationLeavesCatalogUnchanged(t *testing.T) {
	f := newFixture(t)
	before := f.store.Stats()

	_, _, err := f.define("admin", "broken", PlainArgs(param("int4")),
		Attr("sfunc", "int4pl"), Attr("stype", "int4"), Attr("sortop", "~~"))
	if err == nil {
		t.Fatal("expected failure")
	}

	after := f.store.Stats()
	if after.Functions != before.Functions || after.Aggregates != before.Aggregates ||
		after.Dependencies != before.Dependencies {
		t.Errorf("failed registration changed the catalog: before %+v after %+v", before, after)
	}
	if len(f.store.FunctionByName("broken")) != 0 {
		t.Error("placeholder function leaked")
	}
}

func TestDuplicateRegistration(t *testing.T) {
	f := newFixture(t)
	f.mustDefine(t, "twice", PlainArgs(param("int4")), Attr("sfunc", "int4pl"), Attr("stype", "int4"))

	_, _, err := f.define("admin", "twice", PlainArgs(param("int4")), Attr("sfunc", "int4pl"), Attr("stype", "int4"))
	expectKind(t, err, dberr.ErrUniqueViolation, "already exists")

	// an overload with a different signature is fine
	f.mustDefine(t, "twice", PlainArgs(param("int8")), Attr("sfunc", "int8pl"), Attr("stype", "int8"))
}

func TestInitialValueEvaluatedAtUse(t *testing.T) {
	f := newFixture(t)
	reg := f.store.Types()
	defined := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	used := time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)

	reg.Now = func() time.Time { return defined }
	row, _ := f.mustDefine(t, "last_seen", PlainArgs(param("timestamp")),
		Attr("sfunc", "timestamp_larger"), Attr("stype", "timestamp"), Attr("initcond", "now"))
	if *row.InitialValueText != "now" {
		t.Fatalf("initial value should be stored unparsed, got %q", *row.InitialValueText)
	}

	reg.Now = func() time.Time { return used }
	v, ok, err := row.InitialValue(reg)
	if err != nil || !ok {
		t.Fatalf("InitialValue failed: %v %v", ok, err)
	}
	if !v.Time.Equal(used) {
		t.Errorf("initial value = %v, want the time of use %v", v.Time, used)
	}
}
