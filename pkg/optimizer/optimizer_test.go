package optimizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaywyawhare/gigavector/pkg/gvconfig"
	"github.com/jaywyawhare/gigavector/pkg/vindex"
)

func TestDisabledOptimizerReturnsZeroDecision(t *testing.T) {
	o, err := New(gvconfig.OptimizerConfig{Enabled: false})
	require.NoError(t, err)
	defer o.Close()

	d := o.Recommend(vindex.KindHNSW, 1_000_000, 10, true, 0.01)
	assert.Equal(t, Decision{}, d)
}

func TestRecommendWidensEfSearchWithCollectionSize(t *testing.T) {
	small := recommend(vindex.KindHNSW, 500, 10, false, 1.0)
	large := recommend(vindex.KindHNSW, 2_000_000, 10, false, 1.0)
	assert.Less(t, small.EfSearch, large.EfSearch)
	assert.Zero(t, small.NProbe, "HNSW decisions never set NProbe")
}

func TestRecommendWidensNProbeWithCollectionSize(t *testing.T) {
	small := recommend(vindex.KindIVFPQ, 500, 10, false, 1.0)
	large := recommend(vindex.KindIVFPQ, 2_000_000, 10, false, 1.0)
	assert.Less(t, small.NProbe, large.NProbe)
	assert.Zero(t, small.EfSearch, "IVFPQ decisions never set EfSearch")
}

func TestRecommendPreFiltersOnlyForSelectiveFilters(t *testing.T) {
	selective := recommend(vindex.KindHNSW, 10_000, 10, true, 0.01)
	broad := recommend(vindex.KindHNSW, 10_000, 10, true, 0.9)
	unfiltered := recommend(vindex.KindHNSW, 10_000, 10, false, 1.0)

	assert.True(t, selective.PreFilter)
	assert.False(t, broad.PreFilter)
	assert.False(t, unfiltered.PreFilter)
}

func TestEnabledOptimizerCachesRepeatedShape(t *testing.T) {
	o, err := New(gvconfig.OptimizerConfig{Enabled: true, DecisionCacheSize: 16})
	require.NoError(t, err)
	defer o.Close()

	first := o.Recommend(vindex.KindHNSW, 5_000, 10, false, 1.0)
	second := o.Recommend(vindex.KindHNSW, 5_000, 10, false, 1.0)
	assert.Equal(t, first, second)
}

func TestEfSearchNeverExceedsCap(t *testing.T) {
	d := recommend(vindex.KindHNSW, 10_000_000, 10_000, false, 1.0)
	assert.LessOrEqual(t, d.EfSearch, 1000)
}

func TestNProbeNeverExceedsCap(t *testing.T) {
	d := recommend(vindex.KindIVFPQ, 10_000_000, 10_000, false, 1.0)
	assert.LessOrEqual(t, d.NProbe, 256)
}
