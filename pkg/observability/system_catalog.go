// Package observability provides system views and counters for veridicalagg.
package observability

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JayabrataBasu/veridicalagg/pkg/catalog"
	"github.com/JayabrataBasu/veridicalagg/pkg/types"
)

// SystemCatalog exposes the catalog, transaction and lock state as rows.
type SystemCatalog struct {
	store *catalog.Store
	stats *Statistics
}

// Statistics tracks engine activity.
type Statistics struct {
	mu sync.RWMutex

	// Definition statistics
	DefinitionsExecuted  int64
	DefinitionsSucceeded int64
	DefinitionsFailed    int64

	// Evaluation statistics
	EvaluationsExecuted int64
	EvaluationsFailed   int64
	TotalEvalTimeNs     int64

	// Import statistics
	AggregatesImported int64
	ImportsSkipped     int64

	StartTime time.Time
}

// NewSystemCatalog creates a system catalog over store.
func NewSystemCatalog(store *catalog.Store) *SystemCatalog {
	return &SystemCatalog{
		store: store,
		stats: NewStatistics(),
	}
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime: time.Now(),
	}
}

// RecordDefinition records one DDL statement.
func (s *Statistics) RecordDefinition(success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.DefinitionsExecuted++
	if success {
		s.DefinitionsSucceeded++
	} else {
		s.DefinitionsFailed++
	}
}

// RecordEvaluation records one hypothetical-set evaluation.
func (s *Statistics) RecordEvaluation(success bool, durationNs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.EvaluationsExecuted++
	s.TotalEvalTimeNs += durationNs
	if !success {
		s.EvaluationsFailed++
	}
}

// RecordImport records the outcome of one import run.
func (s *Statistics) RecordImport(imported, skipped int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.AggregatesImported += int64(imported)
	s.ImportsSkipped += int64(skipped)
}

// Snapshot returns a copy of current statistics.
func (s *Statistics) Snapshot() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Statistics{
		DefinitionsExecuted:  s.DefinitionsExecuted,
		DefinitionsSucceeded: s.DefinitionsSucceeded,
		DefinitionsFailed:    s.DefinitionsFailed,
		EvaluationsExecuted:  s.EvaluationsExecuted,
		EvaluationsFailed:    s.EvaluationsFailed,
		TotalEvalTimeNs:      s.TotalEvalTimeNs,
		AggregatesImported:   s.AggregatesImported,
		ImportsSkipped:       s.ImportsSkipped,
		StartTime:            s.StartTime,
	}
}

// SystemTableRow represents a row in a system view.
type SystemTableRow struct {
	Columns []string
	Values  []interface{}
}

// GetActiveTransactions returns the open catalog transactions.
func (sc *SystemCatalog) GetActiveTransactions() []SystemTableRow {
	txns := sc.store.Txns().GetActiveTransactions()
	sort.Slice(txns, func(i, j int) bool { return txns[i].ID < txns[j].ID })

	var rows []SystemTableRow
	for _, tx := range txns {
		rows = append(rows, SystemTableRow{
			Columns: []string{"txn_id", "role", "state", "started_at"},
			Values:  []interface{}{tx.ID, tx.Role, tx.State().String(), tx.StartedAt.Format(time.RFC3339)},
		})
	}
	return rows
}

// GetLocks returns the locked catalog names.
func (sc *SystemCatalog) GetLocks() []SystemTableRow {
	var rows []SystemTableRow
	for _, info := range sc.store.Locks().Snapshot() {
		holders := make([]string, 0, len(info.Holders))
		for id, mode := range info.Holders {
			holders = append(holders, fmt.Sprintf("%d:%s", id, mode))
		}
		sort.Strings(holders)
		rows = append(rows, SystemTableRow{
			Columns: []string{"resource", "holders", "waiting_count"},
			Values:  []interface{}{info.Resource.String(), strings.Join(holders, ","), info.WaitingCount},
		})
	}
	return rows
}

// GetAggregates returns one row per aggregate, ordered by name.
func (sc *SystemCatalog) GetAggregates() []SystemTableRow {
	reg := sc.store.Types()
	var rows []SystemTableRow
	for _, agg := range sc.store.Aggregates() {
		fn, ok := sc.store.Function(agg.OwningFunction)
		if !ok {
			continue
		}
		initcond := ""
		if agg.InitialValueText != nil {
			initcond = *agg.InitialValueText
		}
		rows = append(rows, SystemTableRow{
			Columns: []string{"aggregate", "arguments", "result", "kind", "direct_args", "transfn", "finalfn", "sortop", "transtype", "initcond"},
			Values: []interface{}{
				fn.QualifiedName(),
				fn.Signature(reg),
				reg.Format(fn.ReturnType),
				aggregateKind(agg),
				agg.DirectArgs.Sentinel(),
				sc.functionName(agg.TransitionFunction),
				sc.functionName(agg.FinalFunction),
				sc.operatorName(agg.SortOperator),
				formatType(reg, agg.TransitionType),
				initcond,
			},
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Values[0].(string) < rows[j].Values[0].(string)
	})
	return rows
}

func aggregateKind(agg *catalog.AggregateRow) string {
	switch agg.DirectArgs.Kind() {
	case catalog.HypotheticalSet:
		return "hypothetical"
	case catalog.NotOrderedSet:
		return "normal"
	}
	return "ordered-set"
}

func formatType(reg *types.Registry, id types.TypeID) string {
	if id == types.InvalidType {
		return ""
	}
	return reg.Format(id)
}

func (sc *SystemCatalog) functionName(id catalog.FuncID) string {
	if !id.Valid() {
		return ""
	}
	if fn, ok := sc.store.Function(id); ok {
		return fn.QualifiedName()
	}
	return fmt.Sprintf("%d", id)
}

func (sc *SystemCatalog) operatorName(id catalog.OperatorID) string {
	if !id.Valid() {
		return ""
	}
	if op, ok := sc.store.Operator(id); ok {
		return op.Name
	}
	return fmt.Sprintf("%d", id)
}

// GetFunctions returns the functions of one namespace, or every namespace
// when namespace is empty.
func (sc *SystemCatalog) GetFunctions(namespace string) []SystemTableRow {
	reg := sc.store.Types()
	var rows []SystemTableRow
	for _, fn := range sc.store.Functions() {
		if namespace != "" && fn.Namespace != namespace {
			continue
		}
		rows = append(rows, SystemTableRow{
			Columns: []string{"schema", "function", "result", "kind", "owner"},
			Values:  []interface{}{fn.Namespace, fn.Signature(reg), reg.Format(fn.ReturnType), string(fn.Kind), fn.Owner},
		})
	}
	return rows
}

// GetDependencies returns the dependency edges recorded for aggregates.
func (sc *SystemCatalog) GetDependencies() []SystemTableRow {
	var rows []SystemTableRow
	for _, dep := range sc.store.Dependencies() {
		rows = append(rows, SystemTableRow{
			Columns: []string{"dependent", "referenced", "type"},
			Values:  []interface{}{sc.describe(dep.Dependent), sc.describe(dep.Referenced), string(dep.Type)},
		})
	}
	return rows
}

func (sc *SystemCatalog) describe(addr catalog.ObjectAddress) string {
	switch addr.Class {
	case catalog.ClassFunction:
		if fn, ok := sc.store.Function(catalog.FuncID(addr.ID)); ok {
			return "function " + fn.QualifiedName()
		}
	case catalog.ClassOperator:
		if op, ok := sc.store.Operator(catalog.OperatorID(addr.ID)); ok {
			return "operator " + op.Name
		}
	case catalog.ClassType:
		return "type " + sc.store.Types().Format(types.TypeID(addr.ID))
	}
	return addr.String()
}

// GetStatistics returns engine statistics.
func (sc *SystemCatalog) GetStatistics() []SystemTableRow {
	stats := sc.stats.Snapshot()
	cat := sc.store.Stats()
	tx := sc.store.Txns().Stats()
	active, waiting := sc.store.Locks().Stats()
	uptime := time.Since(stats.StartTime)

	metric := func(name string, v interface{}) SystemTableRow {
		return SystemTableRow{Columns: []string{"metric", "value"}, Values: []interface{}{name, v}}
	}
	return []SystemTableRow{
		metric("uptime_seconds", int64(uptime.Seconds())),
		metric("namespaces", cat.Namespaces),
		metric("functions", cat.Functions),
		metric("aggregates", cat.Aggregates),
		metric("dependencies", cat.Dependencies),
		metric("catalog_commits", cat.Commits),
		metric("catalog_aborts", cat.Aborts),
		metric("transactions_started", tx.Started),
		metric("transactions_committed", tx.Committed),
		metric("transactions_aborted", tx.Aborted),
		metric("locks_held", active),
		metric("locks_waiting", waiting),
		metric("definitions_succeeded", stats.DefinitionsSucceeded),
		metric("definitions_failed", stats.DefinitionsFailed),
		metric("evaluations_executed", stats.EvaluationsExecuted),
		metric("evaluations_failed", stats.EvaluationsFailed),
		metric("avg_eval_time_ms", avgEvalTime(&stats)),
		metric("aggregates_imported", stats.AggregatesImported),
		metric("imports_skipped", stats.ImportsSkipped),
	}
}

func avgEvalTime(stats *Statistics) float64 {
	if stats.EvaluationsExecuted == 0 {
		return 0
	}
	return float64(stats.TotalEvalTimeNs) / float64(stats.EvaluationsExecuted) / 1e6
}

// GetMemoryStats returns memory statistics.
func (sc *SystemCatalog) GetMemoryStats() []SystemTableRow {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return []SystemTableRow{
		{Columns: []string{"metric", "value"}, Values: []interface{}{"heap_alloc_mb", m.HeapAlloc / 1024 / 1024}},
		{Columns: []string{"metric", "value"}, Values: []interface{}{"heap_objects", m.HeapObjects}},
		{Columns: []string{"metric", "value"}, Values: []interface{}{"goroutines", runtime.NumGoroutine()}},
		{Columns: []string{"metric", "value"}, Values: []interface{}{"gc_cycles", m.NumGC}},
	}
}

// Stats returns the statistics tracker.
func (sc *SystemCatalog) Stats() *Statistics {
	return sc.stats
}

// PrometheusMetrics returns metrics in Prometheus text format.
func (sc *SystemCatalog) PrometheusMetrics() string {
	stats := sc.stats.Snapshot()
	cat := sc.store.Stats()

	return fmt.Sprintf(`# HELP veridicalagg_definitions_total Aggregate DDL statements executed
# TYPE veridicalagg_definitions_total counter
veridicalagg_definitions_total{status="success"} %d
veridicalagg_definitions_total{status="failed"} %d

# HELP veridicalagg_evaluations_total Hypothetical-set evaluations
# TYPE veridicalagg_evaluations_total counter
veridicalagg_evaluations_total{status="success"} %d
veridicalagg_evaluations_total{status="failed"} %d

# HELP veridicalagg_catalog_objects Catalog object counts
# TYPE veridicalagg_catalog_objects gauge
veridicalagg_catalog_objects{kind="aggregate"} %d
veridicalagg_catalog_objects{kind="function"} %d
veridicalagg_catalog_objects{kind="dependency"} %d

# HELP veridicalagg_uptime_seconds Engine uptime in seconds
# TYPE veridicalagg_uptime_seconds gauge
veridicalagg_uptime_seconds %d
`,
		stats.DefinitionsSucceeded, stats.DefinitionsFailed,
		stats.EvaluationsExecuted-stats.EvaluationsFailed, stats.EvaluationsFailed,
		cat.Aggregates, cat.Functions, cat.Dependencies,
		int64(time.Since(stats.StartTime).Seconds()),
	)
}
