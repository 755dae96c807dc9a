// Package optimizer implements a heuristic query planner: given an
// index kind, the live row count, and the shape of the incoming query,
// it recommends a beam width (HNSW ef_search), a probe count (IVFPQ
// nprobe), and whether a filtered query should pre-filter through the
// payload index or post-filter candidates during the scan.
//
// This is a narrow descendant of a full relational query optimizer: no
// logical/physical plan trees, no cost-based join ordering, just a
// small set of rules over a handful of inputs, memoized per query shape.
package optimizer

import (
	"fmt"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/jaywyawhare/gigavector/pkg/gvconfig"
	"github.com/jaywyawhare/gigavector/pkg/vindex"
)

// Decision is the optimizer's recommendation for one query shape.
type Decision struct {
	// EfSearch is the HNSW beam width to use; 0 if not applicable.
	EfSearch int
	// NProbe is the IVFPQ probe count to use; 0 if not applicable.
	NProbe int
	// PreFilter recommends evaluating the payload index before the
	// vector scan rather than filtering candidates during it.
	PreFilter bool
}

// Optimizer recommends search parameters from row-count and query-shape
// statistics, with a small decision cache for repeated shapes.
type Optimizer struct {
	enabled bool
	cache   *ristretto.Cache[string, Decision]
}

// New returns an Optimizer configured per cfg. When cfg.Enabled is
// false, Recommend always returns the zero Decision (static defaults).
func New(cfg gvconfig.OptimizerConfig) (*Optimizer, error) {
	o := &Optimizer{enabled: cfg.Enabled}
	if !cfg.Enabled {
		return o, nil
	}

	size := cfg.DecisionCacheSize
	if size <= 0 {
		size = 1024
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, Decision]{
		NumCounters: int64(size) * 10,
		MaxCost:     int64(size),
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("optimizer: create decision cache: %w", err)
	}
	o.cache = cache
	return o, nil
}

// Close releases cache resources. Safe to call on a disabled Optimizer.
func (o *Optimizer) Close() {
	if o.cache != nil {
		o.cache.Close()
	}
}

// Recommend returns a Decision for a query against an index of kind
// holding liveRows live vectors, requesting k results, with or without
// an attached filter expression and filterSelectivity estimate (the
// fraction of rows expected to pass the filter, in [0,1]; callers
// without an estimate should pass 1.0 to mean "unknown, assume most
// rows pass").
func (o *Optimizer) Recommend(kind vindex.Kind, liveRows, k int, hasFilter bool, filterSelectivity float64) Decision {
	if !o.enabled {
		return Decision{}
	}

	key := decisionKey(kind, liveRows, k, hasFilter, filterSelectivity)
	if cached, ok := o.cache.Get(key); ok {
		return cached
	}

	d := recommend(kind, liveRows, k, hasFilter, filterSelectivity)
	o.cache.Set(key, d, 1)
	o.cache.Wait()
	return d
}

// recommend is the pure heuristic core, factored out of Recommend so it
// can be unit tested without a live cache.
func recommend(kind vindex.Kind, liveRows, k int, hasFilter bool, filterSelectivity float64) Decision {
	d := Decision{PreFilter: hasFilter && filterSelectivity < 0.3}

	switch kind {
	case vindex.KindHNSW:
		d.EfSearch = efSearchFor(liveRows, k)
	case vindex.KindIVFPQ:
		d.NProbe = nprobeFor(liveRows, k)
	}
	return d
}

// efSearchFor scales the HNSW beam width with both requested k (a
// wider beam is needed to keep recall when more results are requested)
// and the graph's size (a larger graph needs a proportionally wider
// beam to reach the same recall, since the greedy descent has more
// layers and more candidates to consider per layer).
func efSearchFor(liveRows, k int) int {
	base := 2 * k
	if base < 16 {
		base = 16
	}
	switch {
	case liveRows > 1_000_000:
		base *= 4
	case liveRows > 100_000:
		base *= 2
	}
	if base > 1000 {
		base = 1000
	}
	return base
}

// nprobeFor scales IVFPQ's probe count with k and collection size the
// same way efSearchFor does for HNSW: more requested results or more
// coarse cells both call for probing a wider slice of the index.
func nprobeFor(liveRows, k int) int {
	base := k / 4
	if base < 1 {
		base = 1
	}
	switch {
	case liveRows > 1_000_000:
		base *= 4
	case liveRows > 100_000:
		base *= 2
	}
	if base > 256 {
		base = 256
	}
	return base
}

// decisionKey buckets liveRows and filterSelectivity into coarse
// ranges so the cache holds one entry per query *shape*, not one per
// distinct row count — a collection growing by ones would otherwise
// never hit the cache.
func decisionKey(kind vindex.Kind, liveRows, k int, hasFilter bool, filterSelectivity float64) string {
	return fmt.Sprintf("%d|%s|%d|%t|%s", kind, rowBucket(liveRows), k, hasFilter, selectivityBucket(filterSelectivity))
}

func rowBucket(liveRows int) string {
	switch {
	case liveRows <= 1_000:
		return "xs"
	case liveRows <= 10_000:
		return "s"
	case liveRows <= 100_000:
		return "m"
	case liveRows <= 1_000_000:
		return "l"
	default:
		return "xl"
	}
}

func selectivityBucket(sel float64) string {
	switch {
	case sel < 0.1:
		return "sparse"
	case sel < 0.3:
		return "low"
	case sel < 0.7:
		return "mid"
	default:
		return "high"
	}
}
