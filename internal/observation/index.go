package observation

import (
	"strings"

	"traqo/internal/types"
)

// IDSet 观测 ID 集合。
type IDSet map[int]struct{}

// Intersect 返回与 other 的交集，任一为空则返回空集。
func (s IDSet) Intersect(other IDSet) IDSet {
	if len(s) == 0 || len(other) == 0 {
		return IDSet{}
	}
	small, large := s, other
	if len(large) < len(small) {
		small, large = large, small
	}
	out := make(IDSet, len(small))
	for id := range small {
		if _, ok := large[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out
}

// Clone 返回集合副本。
func (s IDSet) Clone() IDSet {
	out := make(IDSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// Index 按维度建好的倒排索引，构建后只读。
type Index struct {
	dataset *Dataset

	byPattern   map[string]IDSet
	byTimeframe map[string]IDSet
	byTrend     map[string]IDSet
	byVolZone   map[string]IDSet
	byPricePos  map[string]IDSet
	bySector    map[string]IDSet
	byRegime    map[string]IDSet
}

// NewIndex 基于数据集构建倒排索引。
func NewIndex(ds *Dataset) *Index {
	idx := &Index{
		dataset:     ds,
		byPattern:   make(map[string]IDSet),
		byTimeframe: make(map[string]IDSet),
		byTrend:     make(map[string]IDSet),
		byVolZone:   make(map[string]IDSet),
		byPricePos:  make(map[string]IDSet),
		bySector:    make(map[string]IDSet),
		byRegime:    make(map[string]IDSet),
	}
	for _, o := range ds.Observations {
		for _, p := range o.Patterns {
			addTo(idx.byPattern, p, o.ID)
		}
		addTo(idx.byTimeframe, o.Timeframe, o.ID)
		addTo(idx.byTrend, o.TrendShort, o.ID)
		addTo(idx.byVolZone, o.VolZone, o.ID)
		addTo(idx.byPricePos, o.PricePos, o.ID)
		addTo(idx.bySector, o.Sector, o.ID)
		addTo(idx.byRegime, o.RegimeBroad(), o.ID)
	}
	return idx
}

func addTo(m map[string]IDSet, key string, id int) {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return
	}
	set, ok := m[key]
	if !ok {
		set = make(IDSet)
		m[key] = set
	}
	set[id] = struct{}{}
}

func lookup(m map[string]IDSet, key string) IDSet {
	return m[strings.ToLower(strings.TrimSpace(key))]
}

// ByPattern 返回形态的观测集合。
func (idx *Index) ByPattern(pattern string) IDSet { return lookup(idx.byPattern, pattern) }

// ByTimeframe 返回时间框架的观测集合。
func (idx *Index) ByTimeframe(tf string) IDSet { return lookup(idx.byTimeframe, tf) }

// ByTrend 返回短期趋势标签的观测集合。
func (idx *Index) ByTrend(trend string) IDSet { return lookup(idx.byTrend, trend) }

// ByVolZone 返回波动区间标签的观测集合。
func (idx *Index) ByVolZone(zone string) IDSet { return lookup(idx.byVolZone, zone) }

// ByPricePos 返回相对价格位置标签的观测集合。
func (idx *Index) ByPricePos(pos string) IDSet { return lookup(idx.byPricePos, pos) }

// BySector 返回板块的观测集合。
func (idx *Index) BySector(sector string) IDSet { return lookup(idx.bySector, sector) }

// ByRegime 返回市场状态标签的观测集合。
func (idx *Index) ByRegime(regime string) IDSet { return lookup(idx.byRegime, regime) }

// Observation 按 ID 取出观测记录。
func (idx *Index) Observation(id int) types.Observation { return idx.dataset.Observations[id] }

// Size 返回索引覆盖的观测数量。
func (idx *Index) Size() int { return len(idx.dataset.Observations) }

// BaseRate 返回某周期某方向的无条件基准率。
func (idx *Index) BaseRate(h types.Horizon, d types.Direction) float64 {
	if byDir, ok := idx.dataset.BaseRates[h]; ok {
		return byDir[d]
	}
	return 0
}

// Patterns 返回索引中出现过的全部形态标签。
func (idx *Index) Patterns() []string {
	out := make([]string, 0, len(idx.byPattern))
	for p := range idx.byPattern {
		out = append(out, p)
	}
	return out
}
