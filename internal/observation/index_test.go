package observation

import (
	"testing"
	"time"

	"traqo/internal/types"

	"github.com/stretchr/testify/assert"
)

func obs(id int, pattern, instrument, trend string) types.Observation {
	return types.Observation{
		ID:         id,
		Patterns:   []string{pattern},
		Instrument: instrument,
		Timeframe:  "daily",
		TrendShort: trend,
		Timestamp:  time.Date(2026, 1, 1+id, 0, 0, 0, 0, time.UTC),
		Outcomes: map[int]types.HorizonOutcome{
			5: {ReturnPct: 1.0, Direction: types.DirectionBullish},
		},
	}
}

func TestIDSetIntersect(t *testing.T) {
	a := IDSet{1: {}, 2: {}, 3: {}}
	b := IDSet{2: {}, 3: {}, 4: {}}
	got := a.Intersect(b)
	assert.Len(t, got, 2)
	assert.Contains(t, got, 2)
	assert.Contains(t, got, 3)

	assert.Empty(t, a.Intersect(IDSet{}))
	assert.Empty(t, IDSet{}.Intersect(b))

	// Clone 独立于原集合
	c := a.Clone()
	delete(c, 1)
	assert.Contains(t, a, 1)
}

func TestIndexLookups(t *testing.T) {
	ds := &Dataset{Observations: []types.Observation{
		obs(0, "doji", "tcs", "bullish"),
		obs(1, "doji", "infy", "bearish"),
		obs(2, "hammer", "tcs", "bullish"),
	}}
	idx := NewIndex(ds)

	assert.Equal(t, 3, idx.Size())
	assert.Len(t, idx.ByPattern("doji"), 2)
	assert.Len(t, idx.ByPattern("DOJI "), 2, "查询键应归一化")
	assert.Len(t, idx.ByTrend("bullish"), 2)
	assert.Empty(t, idx.ByPattern("missing"))
	assert.ElementsMatch(t, []string{"doji", "hammer"}, idx.Patterns())
}

func TestIndexBaseRate(t *testing.T) {
	ds := &Dataset{
		Observations: []types.Observation{obs(0, "doji", "tcs", "bullish")},
		BaseRates: map[types.Horizon]map[types.Direction]float64{
			types.HorizonSwing5: {types.DirectionBullish: 0.6},
		},
	}
	idx := NewIndex(ds)
	assert.InDelta(t, 0.6, idx.BaseRate(types.HorizonSwing5, types.DirectionBullish), 1e-9)
	assert.Zero(t, idx.BaseRate(types.HorizonSwing10, types.DirectionBullish))
}
