package pgimport

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/JayabrataBasu/veridicalagg/pkg/aggregate"
	"github.com/JayabrataBasu/veridicalagg/pkg/catalog"
)

func strPtr(s string) *string { return &s }

func TestTypeName(t *testing.T) {
	tests := map[string]string{
		"int4":    "int4",
		"_float8": "float8[]",
		"any":     "any",
	}
	for in, want := range tests {
		if got := typeName(in); got != want {
			t.Errorf("typeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStatement(t *testing.T) {
	tests := []struct {
		name      string
		def       Definition
		namespace string
		wantName  string
		wantArgs  aggregate.ArgumentSpec
		wantAttrs []aggregate.Attribute
	}{
		{
			name: "normal aggregate",
			def: Definition{
				Namespace: "analytics", Name: "my_avg", Kind: KindNormal,
				ArgTypes: []string{"float8"}, ArgNames: []string{"x"},
				TransFunc: "float8_accum", FinalFunc: "float8_avg",
				TransType: "float8[]", InitValue: strPtr("{0,0,0}"),
			},
			wantName: "analytics.my_avg",
			wantArgs: aggregate.PlainArgs(aggregate.Param{Name: "x", Type: "float8"}),
			wantAttrs: []aggregate.Attribute{
				aggregate.Attr("sfunc", "float8_accum"),
				aggregate.Attr("stype", "float8[]"),
				aggregate.Attr("finalfunc", "float8_avg"),
				aggregate.Attr("initcond", "{0,0,0}"),
			},
		},
		{
			name: "sort operator and target schema",
			def: Definition{
				Namespace: "pg_catalog", Name: "max", Kind: KindNormal,
				ArgTypes: []string{"int4"}, TransFunc: "int4larger",
				TransType: "int4", SortOp: ">",
			},
			namespace: "imported",
			wantName:  "imported.max",
			wantArgs:  aggregate.PlainArgs(aggregate.Param{Type: "int4"}),
			wantAttrs: []aggregate.Attribute{
				aggregate.Attr("sfunc", "int4larger"),
				aggregate.Attr("stype", "int4"),
				aggregate.Attr("sortop", ">"),
			},
		},
		{
			name: "hypothetical",
			def: Definition{
				Namespace: "pg_catalog", Name: "rank", Kind: KindHypothetical,
				NumDirectArgs: 1, ArgTypes: []string{"any"}, ArgModes: []string{"v"},
				TransFunc: "ordered_set_transition_multi", FinalFunc: "rank_final",
				TransType: "internal",
			},
			namespace: "imported",
			wantName:  "imported.rank",
			wantArgs:  aggregate.OrderedArgs(1, aggregate.Param{Type: "any", Variadic: true}),
			wantAttrs: []aggregate.Attribute{
				aggregate.Attr("finalfunc", catalog.FuncHypotheticalRank),
				aggregate.Attr("hypothetical", ""),
			},
		},
		{
			name: "ordered set",
			def: Definition{
				Namespace: "pg_catalog", Name: "percentile_disc", Kind: KindOrderedSet,
				NumDirectArgs: 1, ArgTypes: []string{"float8", "anyelement"},
				TransFunc: "ordered_set_transition", FinalFunc: "percentile_disc_final",
				TransType: "internal",
			},
			wantName: "pg_catalog.percentile_disc",
			wantArgs: aggregate.OrderedArgs(1,
				aggregate.Param{Type: "float8"},
				aggregate.Param{Type: "anyelement"},
			),
			wantAttrs: []aggregate.Attribute{aggregate.Attr("finalfunc", "percentile_disc_final")},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmt := tt.def.Statement(tt.namespace)
			if stmt.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", stmt.Name, tt.wantName)
			}
			if diff := cmp.Diff(tt.wantArgs, stmt.Args); diff != "" {
				t.Errorf("Args mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantAttrs, stmt.Attrs); diff != "" {
				t.Errorf("Attrs mismatch (-want +got):\n%s", diff)
			}
			if stmt.Text() != "postgres: "+tt.def.QualifiedName() {
				t.Errorf("Text() = %q", stmt.Text())
			}
		})
	}
}
