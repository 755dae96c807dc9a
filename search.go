package gigavector

import (
	"sort"
	"time"

	"github.com/jaywyawhare/gigavector/pkg/filterlang"
	"github.com/jaywyawhare/gigavector/pkg/gverrors"
	"github.com/jaywyawhare/gigavector/pkg/optimizer"
	"github.com/jaywyawhare/gigavector/pkg/storage"
	"github.com/jaywyawhare/gigavector/pkg/vindex"
)

// efSearchSetter and nProbeSetter are satisfied by *vindex.HNSW and
// *vindex.IVFPQ respectively, letting applyDecision tune a query's beam
// width or probe count without vindex exposing kind-specific methods on
// its shared Index interface.
type efSearchSetter interface {
	SetEfSearch(ef int)
}

type nProbeSetter interface {
	SetNProbe(nprobe int)
}

// Search returns the k closest live rows to query under the database's
// configured metric.
func (db *Database) Search(query []float32, k int) ([]vindex.Result, error) {
	return db.SearchFiltered(query, k, "")
}

// SearchFiltered returns the k closest live rows to query whose metadata
// satisfies filterExpr (parsed per pkg/filterlang's grammar), or every
// live row if filterExpr is empty.
func (db *Database) SearchFiltered(query []float32, k int, filterExpr string) ([]vindex.Result, error) {
	if len(query) != db.dim {
		return nil, gverrors.Newf(gverrors.BadArgument, "gigavector: expected dimension %d, got %d", db.dim, len(query))
	}

	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, errClosed()
	}

	expr, err := db.parseFilter(filterExpr)
	if err != nil {
		return nil, err
	}

	hasFilter := expr != nil
	selectivity := 1.0
	var filterFn vindex.FilterFunc

	if hasFilter {
		if cmp, ok := expr.(filterlang.Comparison); ok && cmp.Op == filterlang.OpEq {
			candidates := db.payload.Eq(cmp.Field, cmp.Literal)
			if live := db.store.Len(); live > 0 {
				selectivity = float64(len(candidates)) / float64(live)
			}
			decision := db.optimizer.Recommend(db.index.Kind(), db.store.LiveCount(), k, true, selectivity)
			if decision.PreFilter {
				// The payload index returns a candidate superset (every
				// boolean entry compares equal, for one), so each candidate
				// is checked against the filter expression itself.
				match := db.metadataFilterFunc(expr)
				var matched []storage.RowIndex
				for _, row := range candidates {
					if match(row) {
						matched = append(matched, row)
					}
				}
				return db.exactSearchOver(matched, query, k)
			}
		}
		filterFn = db.metadataFilterFunc(expr)
	}

	decision := db.optimizer.Recommend(db.index.Kind(), db.store.LiveCount(), k, hasFilter, selectivity)
	db.applyDecision(decision)

	return db.index.Search(query, k, db.combinedFilter(filterFn))
}

// RangeSearch returns every live row within radius of query, optionally
// restricted by filterExpr.
func (db *Database) RangeSearch(query []float32, radius float32, filterExpr string) ([]vindex.Result, error) {
	if len(query) != db.dim {
		return nil, gverrors.Newf(gverrors.BadArgument, "gigavector: expected dimension %d, got %d", db.dim, len(query))
	}

	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, errClosed()
	}

	expr, err := db.parseFilter(filterExpr)
	if err != nil {
		return nil, err
	}
	var filterFn vindex.FilterFunc
	if expr != nil {
		filterFn = db.metadataFilterFunc(expr)
	}

	return db.index.RangeSearch(query, radius, db.combinedFilter(filterFn))
}

func (db *Database) parseFilter(filterExpr string) (filterlang.Expr, error) {
	if filterExpr == "" {
		return nil, nil
	}
	expr, err := filterlang.Parse(filterExpr)
	if err != nil {
		return nil, gverrors.Wrap(err, gverrors.BadArgument, "gigavector: parse filter")
	}
	return expr, nil
}

func (db *Database) metadataFilterFunc(expr filterlang.Expr) vindex.FilterFunc {
	return func(row storage.RowIndex) bool {
		bag, err := db.store.Metadata(row)
		if err != nil {
			return false
		}
		return filterlang.Evaluate(expr, bag)
	}
}

// combinedFilter composes the lazy-TTL check with an optional
// user-supplied filter. TTL is checked read-only here: an expired row
// is excluded from results immediately, without upgrading the read lock
// to tombstone it, leaving that to the next background sweep.
func (db *Database) combinedFilter(userFilter vindex.FilterFunc) vindex.FilterFunc {
	return func(row storage.RowIndex) bool {
		if db.config.TTL.LazyExpiration {
			if expired, err := db.ttlMgr.IsExpired(row, time.Now()); err == nil && expired {
				return false
			}
		}
		if userFilter != nil {
			return userFilter(row)
		}
		return true
	}
}

func (db *Database) applyDecision(d optimizer.Decision) {
	if setter, ok := db.index.(efSearchSetter); ok && d.EfSearch > 0 {
		setter.SetEfSearch(d.EfSearch)
	}
	if setter, ok := db.index.(nProbeSetter); ok && d.NProbe > 0 {
		setter.SetNProbe(d.NProbe)
	}
}

// exactSearchOver computes exact distances for a pre-filtered candidate
// set and returns the k closest, used when the optimizer decides a
// highly selective equality filter makes scanning candidates directly
// cheaper than a full index search followed by filtering.
func (db *Database) exactSearchOver(candidates []storage.RowIndex, query []float32, k int) ([]vindex.Result, error) {
	dist := db.metric.Func()
	out := make([]vindex.Result, 0, len(candidates))
	for _, row := range candidates {
		deleted, err := db.store.IsDeleted(row)
		if err != nil || deleted {
			continue
		}
		if db.config.TTL.LazyExpiration {
			if expired, err := db.ttlMgr.IsExpired(row, time.Now()); err == nil && expired {
				continue
			}
		}
		vec, err := db.store.Get(row)
		if err != nil {
			continue
		}
		out = append(out, vindex.Result{Row: row, Distance: dist(query, vec)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].Row < out[j].Row
	})
	if k < len(out) {
		out = out[:k]
	}
	return out, nil
}
