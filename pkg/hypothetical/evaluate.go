package hypothetical

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/JayabrataBasu/veridicalagg/pkg/catalog"
	"github.com/JayabrataBasu/veridicalagg/pkg/dberr"
	"github.com/JayabrataBasu/veridicalagg/pkg/types"
)

// Result holds all four rank-family values for one hypothetical row.
type Result struct {
	Rank        int64
	DenseRank   int64
	PercentRank float64
	CumeDist    float64
}

// Evaluate computes every rank-family value from a single sort and scan.
func Evaluate(c *AggContext, args ...types.Value) (Result, error) {
	pos, err := c.positionalRank(args)
	if err != nil {
		return Result{}, err
	}
	n := c.RowCount()
	return Result{
		Rank:        pos.rank,
		DenseRank:   pos.rank - pos.duplicates,
		PercentRank: percentRank(pos.rank, n),
		CumeDist:    cumeDist(pos.rank, n),
	}, nil
}

// Task pairs a group with the hypothetical row to place in it.
type Task struct {
	Group *AggContext
	Args  []types.Value
}

// EvaluatePartitions evaluates independent groups on up to workers
// goroutines. Results are returned in task order. The first error cancels
// the remaining work.
func EvaluatePartitions(ctx context.Context, tasks []Task, workers int) ([]Result, error) {
	if workers < 1 {
		workers = 1
	}
	results := make([]Result, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := Evaluate(task.Group, task.Args...)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// FinalFunc is a finalize entry point. It returns an int8 or float8 datum.
type FinalFunc func(c *AggContext, args []types.Value) (types.Value, error)

// FinalFuncs maps builtin final function names to entry points.
var FinalFuncs = map[string]FinalFunc{
	catalog.FuncHypotheticalRank: func(c *AggContext, args []types.Value) (types.Value, error) {
		r, err := Rank(c, args...)
		return types.NewInt8(r), err
	},
	catalog.FuncHypotheticalDenseRank: func(c *AggContext, args []types.Value) (types.Value, error) {
		r, err := DenseRank(c, args...)
		return types.NewInt8(r), err
	},
	catalog.FuncHypotheticalPercentRank: func(c *AggContext, args []types.Value) (types.Value, error) {
		r, err := PercentRank(c, args...)
		return types.NewFloat8(r), err
	},
	catalog.FuncHypotheticalCumeDist: func(c *AggContext, args []types.Value) (types.Value, error) {
		r, err := CumeDist(c, args...)
		return types.NewFloat8(r), err
	},
}

// Dispatcher resolves final function handles to entry points once.
type Dispatcher struct {
	byID map[catalog.FuncID]FinalFunc
}

// NewDispatcher binds every FinalFuncs entry to the function id the store
// gives its name.
func NewDispatcher(store *catalog.Store) (*Dispatcher, error) {
	d := &Dispatcher{byID: make(map[catalog.FuncID]FinalFunc, len(FinalFuncs))}
	for name, fn := range FinalFuncs {
		matches := store.FunctionByName(catalog.NamespaceCatalog + "." + name)
		if len(matches) != 1 {
			return nil, dberr.Internal("cache lookup failed for function %s", name)
		}
		d.byID[matches[0].ID] = fn
	}
	return d, nil
}

// Lookup returns the entry point bound to a final function id.
func (d *Dispatcher) Lookup(id catalog.FuncID) (FinalFunc, bool) {
	fn, ok := d.byID[id]
	return fn, ok
}

// Call finalizes aggregate row for one group.
func (d *Dispatcher) Call(row *catalog.AggregateRow, c *AggContext, args []types.Value) (types.Value, error) {
	if !row.IsHypothetical() {
		return types.Value{}, dberr.Definition("aggregate %d is not a hypothetical-set aggregate", row.OwningFunction)
	}
	fn, ok := d.Lookup(row.FinalFunction)
	if !ok {
		return types.Value{}, dberr.Internal("no entry point for final function %d", row.FinalFunction)
	}
	return fn(c, args)
}
