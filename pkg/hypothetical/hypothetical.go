// Package hypothetical evaluates the hypothetical-set aggregates rank,
// dense_rank, percent_rank and cume_dist. Each call inserts the direct
// arguments as an extra row into a sorted copy of the group and reports
// where that row lands.
package hypothetical

import (
	"sort"

	"github.com/JayabrataBasu/veridicalagg/pkg/dberr"
	"github.com/JayabrataBasu/veridicalagg/pkg/types"
)

// SortKey describes one ORDER BY column of the group.
type SortKey struct {
	Type       types.TypeID
	Desc       bool
	NullsFirst bool
}

// Asc returns an ascending key with NULLs last.
func Asc(t types.TypeID) SortKey { return SortKey{Type: t} }

// Desc returns a descending key with NULLs first.
func Desc(t types.TypeID) SortKey { return SortKey{Type: t, Desc: true, NullsFirst: true} }

// Row is one buffered group row, one value per sort key.
type Row []types.Value

type markedRow struct {
	vals   Row
	marker bool
}

// AggContext holds the rows of one group. It is not safe for concurrent
// use; independent groups may be evaluated in parallel.
type AggContext struct {
	keys    []SortKey
	rows    []Row
	scratch []markedRow
}

// NewAggContext returns an empty group sorted by keys.
func NewAggContext(keys ...SortKey) *AggContext {
	return &AggContext{keys: append([]SortKey(nil), keys...)}
}

// SortKeys returns the declared sort keys.
func (c *AggContext) SortKeys() []SortKey { return append([]SortKey(nil), c.keys...) }

// RowCount returns the number of real rows in the group.
func (c *AggContext) RowCount() int64 { return int64(len(c.rows)) }

// Add buffers one real row.
func (c *AggContext) Add(vals ...types.Value) error {
	if err := c.checkTuple(vals, "row"); err != nil {
		return err
	}
	c.rows = append(c.rows, append(Row(nil), vals...))
	return nil
}

// Reset drops all buffered rows.
func (c *AggContext) Reset() {
	c.rows = nil
	c.scratch = nil
}

// checkTuple verifies a tuple has one value of the declared type per key.
// Typed or untyped NULLs are accepted in any position.
func (c *AggContext) checkTuple(vals []types.Value, what string) error {
	if len(vals) != len(c.keys) {
		return dberr.RuntimeTypeMismatch("type mismatch in hypothetical-set function").
			WithDetail("%s has %d columns but the group is sorted by %d", what, len(vals), len(c.keys))
	}
	for i, v := range vals {
		if v.IsNull && (v.Type == types.InvalidType || v.Type == c.keys[i].Type) {
			continue
		}
		if v.Type != c.keys[i].Type {
			return dberr.RuntimeTypeMismatch("type mismatch in hypothetical-set function").
				WithDetail("%s column %d has type %d but sort key %d has type %d",
					what, i+1, v.Type, i+1, c.keys[i].Type)
		}
	}
	return nil
}

// compare orders two tuples by the sort keys.
func (c *AggContext) compare(a, b Row) int {
	for i, k := range c.keys {
		av, bv := a[i], b[i]
		switch {
		case av.IsNull && bv.IsNull:
			continue
		case av.IsNull:
			if k.NullsFirst {
				return -1
			}
			return 1
		case bv.IsNull:
			if k.NullsFirst {
				return 1
			}
			return -1
		}
		cmp := types.Compare(av, bv)
		if k.Desc {
			cmp = -cmp
		}
		if cmp != 0 {
			return cmp
		}
	}
	return 0
}

// position is the outcome of one sort and scan.
type position struct {
	rank       int64 // 1-based position of the hypothetical row
	duplicates int64 // equal adjacent boundaries up to and including the hypothetical row
}

// positionalRank sorts the group plus the hypothetical row and scans to
// the hypothetical row. Equal keys keep the hypothetical row after the real
// rows. The scratch buffer is emptied on return.
func (c *AggContext) positionalRank(args []types.Value) (position, error) {
	if err := c.checkTuple(args, "hypothetical argument list"); err != nil {
		return position{}, err
	}

	buf := c.scratch[:0]
	for _, r := range c.rows {
		buf = append(buf, markedRow{vals: r})
	}
	buf = append(buf, markedRow{vals: Row(args), marker: true})
	c.scratch = buf
	defer c.clearScratch()

	sort.SliceStable(buf, func(i, j int) bool {
		if cmp := c.compare(buf[i].vals, buf[j].vals); cmp != 0 {
			return cmp < 0
		}
		return !buf[i].marker && buf[j].marker
	})

	var pos position
	for i, r := range buf {
		if i > 0 && c.compare(buf[i-1].vals, r.vals) == 0 {
			pos.duplicates++
		}
		if r.marker {
			pos.rank = int64(i + 1)
			return pos, nil
		}
	}
	return position{}, dberr.Internal("hypothetical row lost during sort")
}

func (c *AggContext) clearScratch() {
	for i := range c.scratch {
		c.scratch[i] = markedRow{}
	}
	c.scratch = c.scratch[:0]
}

// Rank returns 1 + the number of rows sorting before the hypothetical row.
func Rank(c *AggContext, args ...types.Value) (int64, error) {
	pos, err := c.positionalRank(args)
	if err != nil {
		return 0, err
	}
	return pos.rank, nil
}

// DenseRank returns the rank without gaps: Rank less the number of equal
// adjacent pairs up to and including the pair ending at the hypothetical row.
func DenseRank(c *AggContext, args ...types.Value) (int64, error) {
	pos, err := c.positionalRank(args)
	if err != nil {
		return 0, err
	}
	return pos.rank - pos.duplicates, nil
}

// PercentRank returns (rank - 1) / N for a group of N real rows. An empty
// group yields 0.
func PercentRank(c *AggContext, args ...types.Value) (float64, error) {
	pos, err := c.positionalRank(args)
	if err != nil {
		return 0, err
	}
	return percentRank(pos.rank, c.RowCount()), nil
}

// CumeDist returns rank / (N + 1).
func CumeDist(c *AggContext, args ...types.Value) (float64, error) {
	pos, err := c.positionalRank(args)
	if err != nil {
		return 0, err
	}
	return cumeDist(pos.rank, c.RowCount()), nil
}

func percentRank(rank, n int64) float64 {
	if n == 0 {
		return 0
	}
	return float64(rank-1) / float64(n)
}

func cumeDist(rank, n int64) float64 {
	return float64(rank) / float64(n+1)
}
