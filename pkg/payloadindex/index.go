// Package payloadindex implements the per-field secondary index: a
// sorted array of (row, typed value) entries per metadata field,
// supporting binary-searched equality and range lookups, a linear prefix
// scan, and AND-composition across fields. There is no contains lookup.
package payloadindex

import (
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/jaywyawhare/gigavector/pkg/metadata"
	"github.com/jaywyawhare/gigavector/pkg/storage"
)

var defaultCollator = collate.New(language.Und)

type entry struct {
	row   storage.RowIndex
	value metadata.Value
}

// fieldIndex is one field's sorted array.
type fieldIndex struct {
	entries []entry
}

// Index accelerates single-field comparisons over a row's metadata.
// Results it returns are always a candidate superset; the filter
// expression evaluator over the row's real metadata bag remains the
// authoritative judge of whether a row actually matches.
type Index struct {
	fields map[string]*fieldIndex
}

// New returns an empty payload index.
func New() *Index {
	return &Index{fields: make(map[string]*fieldIndex)}
}

func (ix *Index) fieldFor(name string) *fieldIndex {
	f, ok := ix.fields[name]
	if !ok {
		f = &fieldIndex{}
		ix.fields[name] = f
	}
	return f
}

// compareValues orders two metadata.Values the same way Evaluate's
// comparison semantics do: numeric-vs-numeric and string-vs-string are
// ordered (strings via locale-aware collation), everything else is
// considered incomparable and sorts by Kind as a stable tiebreak so the
// array stays a valid binary-search target.
func compareValues(a, b metadata.Value) int {
	if a.IsNumeric() && b.IsNumeric() {
		af, bf := a.AsFloat64(), b.AsFloat64()
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	if a.Kind == metadata.KindString && b.Kind == metadata.KindString {
		return defaultCollator.CompareString(a.Str, b.Str)
	}
	if a.Kind != b.Kind {
		if a.Kind < b.Kind {
			return -1
		}
		return 1
	}
	return 0
}

// Insert adds (row, value) to field's sorted array, maintaining order.
func (ix *Index) Insert(field string, row storage.RowIndex, value metadata.Value) {
	f := ix.fieldFor(field)
	pos := sort.Search(len(f.entries), func(i int) bool {
		return compareValues(f.entries[i].value, value) >= 0
	})
	f.entries = append(f.entries, entry{})
	copy(f.entries[pos+1:], f.entries[pos:])
	f.entries[pos] = entry{row: row, value: value.DeepCopy()}
}

// Remove purges row's entry from field, if present.
func (ix *Index) Remove(field string, row storage.RowIndex, value metadata.Value) {
	f, ok := ix.fields[field]
	if !ok {
		return
	}
	pos := sort.Search(len(f.entries), func(i int) bool {
		return compareValues(f.entries[i].value, value) >= 0
	})
	for pos < len(f.entries) && compareValues(f.entries[pos].value, value) == 0 {
		if f.entries[pos].row == row {
			f.entries = append(f.entries[:pos], f.entries[pos+1:]...)
			return
		}
		pos++
	}
}

// RemoveRow purges row from every field. Rare relative to queries, so a
// linear scan across fields (each itself a sorted-slice removal) is an
// acceptable cost; a row's field set is typically small.
func (ix *Index) RemoveRow(row storage.RowIndex, bag metadata.Bag) {
	for field, value := range bag {
		ix.Remove(field, row, value)
	}
}

// Update moves row's entry for field from oldValue to newValue.
func (ix *Index) Update(field string, row storage.RowIndex, oldValue, newValue metadata.Value) {
	ix.Remove(field, row, oldValue)
	ix.Insert(field, row, newValue)
}

// Eq returns the rows whose field equals value.
func (ix *Index) Eq(field string, value metadata.Value) []storage.RowIndex {
	f, ok := ix.fields[field]
	if !ok {
		return nil
	}
	lo := sort.Search(len(f.entries), func(i int) bool {
		return compareValues(f.entries[i].value, value) >= 0
	})
	var out []storage.RowIndex
	for i := lo; i < len(f.entries) && compareValues(f.entries[i].value, value) == 0; i++ {
		out = append(out, f.entries[i].row)
	}
	return out
}

// Neq returns the rows whose field does not equal value.
func (ix *Index) Neq(field string, value metadata.Value) []storage.RowIndex {
	f, ok := ix.fields[field]
	if !ok {
		return nil
	}
	eqSet := make(map[storage.RowIndex]bool)
	for _, r := range ix.Eq(field, value) {
		eqSet[r] = true
	}
	out := make([]storage.RowIndex, 0, len(f.entries))
	for _, e := range f.entries {
		if !eqSet[e.row] {
			out = append(out, e.row)
		}
	}
	return out
}

// Range returns rows whose field value satisfies lowInclusive <= v (if
// hasLow) and v <= highInclusive / v < highExclusive depending on
// inclusive flags. Pass hasLow/hasHigh false to leave that bound open.
func (ix *Index) Range(field string, low metadata.Value, hasLow, lowInclusive bool, high metadata.Value, hasHigh, highInclusive bool) []storage.RowIndex {
	f, ok := ix.fields[field]
	if !ok {
		return nil
	}

	lo := 0
	if hasLow {
		lo = sort.Search(len(f.entries), func(i int) bool {
			c := compareValues(f.entries[i].value, low)
			if lowInclusive {
				return c >= 0
			}
			return c > 0
		})
	}

	hi := len(f.entries)
	if hasHigh {
		hi = sort.Search(len(f.entries), func(i int) bool {
			c := compareValues(f.entries[i].value, high)
			if highInclusive {
				return c > 0
			}
			return c >= 0
		})
	}

	if lo >= hi {
		return nil
	}
	out := make([]storage.RowIndex, 0, hi-lo)
	for i := lo; i < hi; i++ {
		out = append(out, f.entries[i].row)
	}
	return out
}

// Prefix returns rows whose string field starts with prefix, compared
// byte-wise. It scans every entry of the field.
func (ix *Index) Prefix(field, prefix string) []storage.RowIndex {
	f, ok := ix.fields[field]
	if !ok {
		return nil
	}
	var out []storage.RowIndex
	for _, e := range f.entries {
		if e.value.Kind == metadata.KindString && len(e.value.Str) >= len(prefix) && e.value.Str[:len(prefix)] == prefix {
			out = append(out, e.row)
		}
	}
	return out
}

// IntersectSorted returns the AND of two row-index sets produced by Eq/
// Range/Prefix calls on different fields. Inputs need not be
// pre-sorted; this sorts defensively before merging.
func IntersectSorted(a, b []storage.RowIndex) []storage.RowIndex {
	sa := append([]storage.RowIndex(nil), a...)
	sb := append([]storage.RowIndex(nil), b...)
	sort.Slice(sa, func(i, j int) bool { return sa[i] < sa[j] })
	sort.Slice(sb, func(i, j int) bool { return sb[i] < sb[j] })

	var out []storage.RowIndex
	i, j := 0, 0
	for i < len(sa) && j < len(sb) {
		switch {
		case sa[i] < sb[j]:
			i++
		case sa[i] > sb[j]:
			j++
		default:
			out = append(out, sa[i])
			i++
			j++
		}
	}
	return out
}
