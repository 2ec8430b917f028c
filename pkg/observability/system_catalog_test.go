package observability

import (
	"context"
	"strings"
	"testing"

	"github.com/JayabrataBasu/veridicalagg/pkg/aggregate"
	"github.com/JayabrataBasu/veridicalagg/pkg/catalog"
)

func newStore(t *testing.T) *catalog.Store {
	t.Helper()
	store, err := catalog.Open(catalog.Options{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	return store
}

func define(t *testing.T, store *catalog.Store, name string, args aggregate.ArgumentSpec, attrs ...aggregate.Attribute) {
	t.Helper()
	tx := store.Begin(context.Background(), "admin")
	req, err := aggregate.NewProcessor(nil).ParseDefinition(tx, name, args, attrs)
	if err != nil {
		tx.Abort()
		t.Fatalf("ParseDefinition(%s): %v", name, err)
	}
	if _, err := aggregate.NewDefiner(nil).Register(tx, req); err != nil {
		tx.Abort()
		t.Fatalf("Register(%s): %v", name, err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func rowMap(row SystemTableRow) map[string]interface{} {
	m := make(map[string]interface{}, len(row.Columns))
	for i, c := range row.Columns {
		m[c] = row.Values[i]
	}
	return m
}

func TestNewSystemCatalog(t *testing.T) {
	store := newStore(t)
	sc := NewSystemCatalog(store)
	if sc == nil {
		t.Fatal("NewSystemCatalog returned nil")
	}
	if sc.store != store {
		t.Error("store not set correctly")
	}
	if sc.stats == nil {
		t.Error("stats not initialized")
	}
}

func TestStatistics(t *testing.T) {
	stats := NewStatistics()

	if stats.StartTime.IsZero() {
		t.Error("StartTime not set")
	}

	stats.RecordDefinition(true)
	stats.RecordDefinition(true)
	stats.RecordDefinition(false)
	stats.RecordEvaluation(true, 1000000)
	stats.RecordEvaluation(false, 3000000)
	stats.RecordImport(5, 2)

	snapshot := stats.Snapshot()
	if snapshot.DefinitionsExecuted != 3 {
		t.Errorf("expected 3 definitions, got %d", snapshot.DefinitionsExecuted)
	}
	if snapshot.DefinitionsSucceeded != 2 || snapshot.DefinitionsFailed != 1 {
		t.Errorf("unexpected definition split %d/%d", snapshot.DefinitionsSucceeded, snapshot.DefinitionsFailed)
	}
	if snapshot.EvaluationsExecuted != 2 || snapshot.EvaluationsFailed != 1 {
		t.Errorf("unexpected evaluation counts %d/%d", snapshot.EvaluationsExecuted, snapshot.EvaluationsFailed)
	}
	if avg := avgEvalTime(&snapshot); avg != 2.0 {
		t.Errorf("expected avg eval time 2ms, got %f", avg)
	}
	if snapshot.AggregatesImported != 5 || snapshot.ImportsSkipped != 2 {
		t.Errorf("unexpected import counts %d/%d", snapshot.AggregatesImported, snapshot.ImportsSkipped)
	}
}

func TestAvgEvalTimeEmpty(t *testing.T) {
	if avg := avgEvalTime(&Statistics{}); avg != 0 {
		t.Errorf("expected 0, got %f", avg)
	}
}

func TestGetAggregates(t *testing.T) {
	store := newStore(t)
	define(t, store, "my_sum", aggregate.PlainArgs(aggregate.Param{Type: "int4"}),
		aggregate.Attr("sfunc", "int4pl"),
		aggregate.Attr("stype", "int4"),
		aggregate.Attr("initcond", "0"),
		aggregate.Attr("sortop", ">"))
	define(t, store, "my_rank", aggregate.OrderedArgs(1, aggregate.Param{Type: "any", Variadic: true}),
		aggregate.Attr("finalfunc", catalog.FuncHypotheticalRank),
		aggregate.Attr("hypothetical", ""))

	sc := NewSystemCatalog(store)
	rows := sc.GetAggregates()
	if len(rows) != 2 {
		t.Fatalf("expected 2 aggregates, got %d", len(rows))
	}

	rank := rowMap(rows[0])
	if rank["aggregate"] != "public.my_rank" {
		t.Errorf("expected public.my_rank first, got %v", rank["aggregate"])
	}
	if rank["kind"] != "hypothetical" || rank["direct_args"] != int32(-2) {
		t.Errorf("unexpected rank row %v", rank)
	}
	if rank["finalfn"] != "pg_catalog."+catalog.FuncHypotheticalRank {
		t.Errorf("unexpected finalfn %v", rank["finalfn"])
	}
	if rank["result"] != "int8" {
		t.Errorf("unexpected result type %v", rank["result"])
	}

	sum := rowMap(rows[1])
	if sum["kind"] != "normal" || sum["transfn"] != "pg_catalog.int4pl" {
		t.Errorf("unexpected sum row %v", sum)
	}
	if sum["transtype"] != "int4" || sum["initcond"] != "0" || sum["sortop"] != ">" {
		t.Errorf("unexpected sum row %v", sum)
	}

	deps := sc.GetDependencies()
	var sawRankFinal bool
	for _, d := range deps {
		m := rowMap(d)
		if m["dependent"] == "function public.my_rank" &&
			m["referenced"] == "function pg_catalog."+catalog.FuncHypotheticalRank {
			sawRankFinal = true
		}
	}
	if !sawRankFinal {
		t.Errorf("missing my_rank -> final function dependency in %v", deps)
	}

	fns := sc.GetFunctions(catalog.NamespacePublic)
	if len(fns) != 2 {
		t.Errorf("expected 2 public functions, got %d", len(fns))
	}
	if all := sc.GetFunctions(""); len(all) <= len(fns) {
		t.Errorf("expected builtins in the unfiltered view, got %d rows", len(all))
	}
}

func TestActiveTransactionsAndLocks(t *testing.T) {
	store := newStore(t)
	sc := NewSystemCatalog(store)

	if rows := sc.GetActiveTransactions(); len(rows) != 0 {
		t.Errorf("expected no active transactions, got %d", len(rows))
	}

	tx := store.Begin(context.Background(), "admin")
	if err := tx.CreateNamespace("analytics"); err != nil {
		t.Fatalf("CreateNamespace: %v", err)
	}

	txns := sc.GetActiveTransactions()
	if len(txns) != 1 {
		t.Fatalf("expected 1 active transaction, got %d", len(txns))
	}
	if m := rowMap(txns[0]); m["role"] != "admin" || m["state"] != "IN_PROGRESS" {
		t.Errorf("unexpected transaction row %v", m)
	}

	locks := sc.GetLocks()
	if len(locks) != 1 {
		t.Fatalf("expected 1 lock, got %d", len(locks))
	}
	m := rowMap(locks[0])
	if m["resource"] != "name:namespaces:.analytics" {
		t.Errorf("unexpected resource %v", m["resource"])
	}
	if !strings.HasSuffix(m["holders"].(string), ":X") {
		t.Errorf("expected an exclusive holder, got %v", m["holders"])
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if rows := sc.GetLocks(); len(rows) != 0 {
		t.Errorf("expected locks released after commit, got %d", len(rows))
	}
	if rows := sc.GetActiveTransactions(); len(rows) != 0 {
		t.Errorf("expected no active transactions after commit, got %d", len(rows))
	}
}

func TestGetStatistics(t *testing.T) {
	store := newStore(t)
	sc := NewSystemCatalog(store)
	sc.Stats().RecordDefinition(true)

	rows := sc.GetStatistics()
	metrics := make(map[string]interface{})
	for _, row := range rows {
		metrics[row.Values[0].(string)] = row.Values[1]
	}
	for _, name := range []string{"uptime_seconds", "aggregates", "catalog_commits", "locks_held", "definitions_succeeded", "avg_eval_time_ms"} {
		if _, ok := metrics[name]; !ok {
			t.Errorf("missing metric %s", name)
		}
	}
	if metrics["definitions_succeeded"] != int64(1) {
		t.Errorf("expected 1 successful definition, got %v", metrics["definitions_succeeded"])
	}
	if metrics["aggregates"] != 0 {
		t.Errorf("expected 0 aggregates, got %v", metrics["aggregates"])
	}
}

func TestGetMemoryStats(t *testing.T) {
	sc := NewSystemCatalog(newStore(t))
	rows := sc.GetMemoryStats()
	if len(rows) != 4 {
		t.Errorf("expected 4 memory metrics, got %d", len(rows))
	}
}

func TestPrometheusMetrics(t *testing.T) {
	sc := NewSystemCatalog(newStore(t))
	sc.Stats().RecordDefinition(true)
	sc.Stats().RecordEvaluation(false, 10)

	out := sc.PrometheusMetrics()
	for _, want := range []string{
		`veridicalagg_definitions_total{status="success"} 1`,
		`veridicalagg_evaluations_total{status="failed"} 1`,
		`veridicalagg_catalog_objects{kind="aggregate"} 0`,
		"# TYPE veridicalagg_uptime_seconds gauge",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
