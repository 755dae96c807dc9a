// Package conditional implements compare-and-swap style mutations over
// the SoA store: every write is gated on a list of conditions evaluated
// against the row's current state before anything is changed.
package conditional

import (
	"github.com/jaywyawhare/gigavector/pkg/gverrors"
	"github.com/jaywyawhare/gigavector/pkg/metadata"
	"github.com/jaywyawhare/gigavector/pkg/storage"
)

// ConditionKind identifies which predicate a Condition evaluates.
type ConditionKind int

const (
	VersionEquals ConditionKind = iota
	VersionLessThan
	MetadataKeyEquals
	MetadataKeyExists
	MetadataKeyAbsent
	RowNotDeleted
)

// Condition is one predicate evaluated against a row before a
// conditional mutation is applied. Exactly the fields relevant to Kind
// are meaningful.
type Condition struct {
	Kind    ConditionKind
	Version uint64
	Key     string
	Value   metadata.Value
}

// VersionEqualsCond requires the row's current version to equal v.
func VersionEqualsCond(v uint64) Condition {
	return Condition{Kind: VersionEquals, Version: v}
}

// VersionLessThanCond requires the row's current version to be < v.
func VersionLessThanCond(v uint64) Condition {
	return Condition{Kind: VersionLessThan, Version: v}
}

// MetadataKeyEqualsCond requires row.metadata[key] to equal v.
func MetadataKeyEqualsCond(key string, v metadata.Value) Condition {
	return Condition{Kind: MetadataKeyEquals, Key: key, Value: v}
}

// MetadataKeyExistsCond requires key to be present in the row's metadata.
func MetadataKeyExistsCond(key string) Condition {
	return Condition{Kind: MetadataKeyExists, Key: key}
}

// MetadataKeyAbsentCond requires key to be absent from the row's metadata.
func MetadataKeyAbsentCond(key string) Condition {
	return Condition{Kind: MetadataKeyAbsent, Key: key}
}

// RowNotDeletedCond requires the row to not currently be tombstoned.
func RowNotDeletedCond() Condition {
	return Condition{Kind: RowNotDeleted}
}

// Operation is one conditional mutation request. Exactly one of
// NewVector, the metadata pair, or Delete should be set; ApplyBatch
// treats each Operation as an independent commit point.
type Operation struct {
	Row           storage.RowIndex
	Conditions    []Condition
	NewVector     []float32 // non-nil: update the row's vector
	MetadataKey   string    // non-empty together with MetadataSet: attach metadata
	MetadataValue metadata.Value
	MetadataSet   bool
	Delete        bool
}

// Outcome is one Operation's per-row result from ApplyBatch.
type Outcome struct {
	Row storage.RowIndex
	Err error
}

// Manager applies conditional mutations directly against a Store. The
// caller is responsible for holding the database's exclusive write lock
// around Apply/ApplyBatch, matching the single-writer-lock concurrency
// model — Manager itself does no locking.
type Manager struct {
	store *storage.Store
}

// New returns a Manager operating over store.
func New(store *storage.Store) *Manager {
	return &Manager{store: store}
}

// Apply evaluates op's conditions against its row and, if all hold,
// performs the mutation. Returns NotFound if the row doesn't exist,
// ConditionFailed if any condition doesn't hold, or the underlying
// storage error otherwise.
func (m *Manager) Apply(op Operation) error {
	vector, vecErr := m.store.Get(op.Row)
	if vecErr != nil {
		return gverrors.Wrap(vecErr, gverrors.NotFound, "conditional: row not found")
	}
	if err := m.evaluate(op.Row, op.Conditions); err != nil {
		return err
	}

	switch {
	case op.Delete:
		return m.store.Delete(op.Row)
	case op.NewVector != nil:
		return m.store.Update(op.Row, op.NewVector)
	case op.MetadataSet:
		return m.store.AttachMetadata(op.Row, op.MetadataKey, op.MetadataValue)
	default:
		_ = vector // no mutation requested: conditions still checked, nothing to change
		return nil
	}
}

// ApplyBatch runs Apply independently for every operation, in order.
// Each row is its own commit point: a failure on one operation never
// rolls back or blocks any other.
func (m *Manager) ApplyBatch(ops []Operation) []Outcome {
	outcomes := make([]Outcome, len(ops))
	for i, op := range ops {
		outcomes[i] = Outcome{Row: op.Row, Err: m.Apply(op)}
	}
	return outcomes
}

// MigrateEmbedding is the version-equals convenience: replace row's
// vector only if its current version is exactly expectedVersion.
func (m *Manager) MigrateEmbedding(row storage.RowIndex, newVector []float32, expectedVersion uint64) error {
	return m.Apply(Operation{
		Row:        row,
		Conditions: []Condition{VersionEqualsCond(expectedVersion)},
		NewVector:  newVector,
	})
}

func (m *Manager) evaluate(row storage.RowIndex, conditions []Condition) error {
	for _, cond := range conditions {
		ok, err := m.evaluateOne(row, cond)
		if err != nil {
			return err
		}
		if !ok {
			return gverrors.Newf(gverrors.ConditionFailed, "conditional: row %d failed condition %v", row, cond.Kind)
		}
	}
	return nil
}

func (m *Manager) evaluateOne(row storage.RowIndex, cond Condition) (bool, error) {
	switch cond.Kind {
	case VersionEquals:
		v, err := m.store.Version(row)
		if err != nil {
			return false, err
		}
		return v == cond.Version, nil
	case VersionLessThan:
		v, err := m.store.Version(row)
		if err != nil {
			return false, err
		}
		return v < cond.Version, nil
	case MetadataKeyEquals:
		bag, err := m.store.Metadata(row)
		if err != nil {
			return false, err
		}
		existing, ok := bag[cond.Key]
		return ok && existing.Equal(cond.Value), nil
	case MetadataKeyExists:
		bag, err := m.store.Metadata(row)
		if err != nil {
			return false, err
		}
		_, ok := bag[cond.Key]
		return ok, nil
	case MetadataKeyAbsent:
		bag, err := m.store.Metadata(row)
		if err != nil {
			return false, err
		}
		_, ok := bag[cond.Key]
		return !ok, nil
	case RowNotDeleted:
		deleted, err := m.store.IsDeleted(row)
		if err != nil {
			return false, err
		}
		return !deleted, nil
	default:
		return false, gverrors.Newf(gverrors.BadArgument, "conditional: unknown condition kind %d", cond.Kind)
	}
}
