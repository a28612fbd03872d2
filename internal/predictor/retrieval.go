package predictor

import (
	"sort"
	"strings"

	"traqo/internal/observation"
	"traqo/internal/types"
)

// Context 是一次预测查询携带的上下文标签，全部可选。
type Context struct {
	Instrument string
	Sector     string
	Timeframe  string
	TrendShort string
	VolZone    string
	PricePos   string
	Regime     string
}

func (c Context) normalized() Context {
	norm := func(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
	return Context{
		Instrument: norm(c.Instrument),
		Sector:     norm(c.Sector),
		Timeframe:  norm(c.Timeframe),
		TrendShort: norm(c.TrendShort),
		VolZone:    norm(c.VolZone),
		PricePos:   norm(c.PricePos),
		Regime:     norm(c.Regime),
	}
}

// retrieval 是级联检索的结果，丢弃的约束显式列出，便于测试断言。
type retrieval struct {
	ids           []int
	tier          types.Tier
	droppedFields []string
}

// retrieve 逐层放宽上下文约束，返回第一个满足最低样本量的层级。
// 每层都先做单标的/单板块配额裁剪，裁剪后仍需达到最低样本量。
func (p *Predictor) retrieve(pattern string, ctx Context) retrieval {
	patternSet := p.index.ByPattern(pattern)
	if len(patternSet) == 0 {
		return retrieval{tier: types.TierNone}
	}

	constrain := func(set observation.IDSet, dim observation.IDSet, active bool) observation.IDSet {
		if !active {
			return set
		}
		return set.Intersect(dim)
	}
	hasPricePos := ctx.PricePos != "" && ctx.PricePos != "none" && ctx.PricePos != "unknown"

	tier1 := patternSet.Clone()
	tier1 = constrain(tier1, p.index.ByTimeframe(ctx.Timeframe), ctx.Timeframe != "")
	tier1 = constrain(tier1, p.index.ByTrend(ctx.TrendShort), ctx.TrendShort != "")
	tier1 = constrain(tier1, p.index.ByVolZone(ctx.VolZone), ctx.VolZone != "")
	tier1 = constrain(tier1, p.index.ByPricePos(ctx.PricePos), hasPricePos)
	if ids, ok := p.qualify(tier1, ctx); ok {
		return retrieval{ids: ids, tier: types.Tier1}
	}

	tier2 := patternSet.Clone()
	tier2 = constrain(tier2, p.index.ByTimeframe(ctx.Timeframe), ctx.Timeframe != "")
	tier2 = constrain(tier2, p.index.ByTrend(ctx.TrendShort), ctx.TrendShort != "")
	if ids, ok := p.qualify(tier2, ctx); ok {
		return retrieval{ids: ids, tier: types.Tier2, droppedFields: []string{"vol_zone", "price_position"}}
	}

	tier3 := patternSet.Clone()
	tier3 = constrain(tier3, p.index.ByTimeframe(ctx.Timeframe), ctx.Timeframe != "")
	if ids, ok := p.qualify(tier3, ctx); ok {
		return retrieval{ids: ids, tier: types.Tier3, droppedFields: []string{"vol_zone", "price_position", "trend_short"}}
	}

	capped := p.capPerSector(p.capPerInstrument(sortedIDs(patternSet), ctx.Instrument), ctx.Sector)
	if len(capped) >= p.cfg.MinMatches {
		return retrieval{
			ids:           p.truncate(p.sectorFirst(capped, ctx.Sector)),
			tier:          types.Tier4,
			droppedFields: []string{"vol_zone", "price_position", "trend_short", "timeframe"},
		}
	}
	return retrieval{ids: p.truncate(sortedIDs(patternSet)), tier: types.TierNone}
}

// qualify 检查裁剪前后样本量是否都达标，达标则返回排序裁剪后的候选。
func (p *Predictor) qualify(set observation.IDSet, ctx Context) ([]int, bool) {
	if len(set) < p.cfg.MinMatches {
		return nil, false
	}
	capped := p.capPerSector(p.capPerInstrument(sortedIDs(set), ctx.Instrument), ctx.Sector)
	if len(capped) < p.cfg.MinMatches {
		return nil, false
	}
	return p.truncate(p.sectorFirst(capped, ctx.Sector)), true
}

// truncate 留出 3 倍余量，最终按时间取 TOP_K 在聚合阶段完成。
func (p *Predictor) truncate(ids []int) []int {
	if limit := p.cfg.TopK * 3; len(ids) > limit {
		return ids[:limit]
	}
	return ids
}

// sortedIDs 把集合展开成确定性的升序序列（ID 即时间序）。
func sortedIDs(set observation.IDSet) []int {
	ids := make([]int, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// capPerInstrument 限制单一标的的贡献量，抽样取等距样本保持确定性。
// 查询标的本身允许随样本量放宽，但不超过全局上限。
func (p *Predictor) capPerInstrument(ids []int, queryInstrument string) []int {
	buckets, order := bucketBy(ids, func(id int) string { return p.index.Observation(id).Instrument })
	capped := make([]int, 0, len(ids))
	for _, key := range order {
		limit := p.cfg.MaxPerInstrument
		group := buckets[key]
		if key == queryInstrument && queryInstrument != "" {
			self := len(group) / 5
			if self < 3 {
				self = 3
			}
			if self < limit {
				limit = self
			}
		}
		capped = append(capped, subsample(group, limit)...)
	}
	return capped
}

// capPerSector 限制单一板块的贡献量；查询板块未知时跳过。
func (p *Predictor) capPerSector(ids []int, querySector string) []int {
	if querySector == "" || querySector == "unknown" {
		return ids
	}
	buckets, order := bucketBy(ids, func(id int) string { return p.index.Observation(id).Sector })
	capped := make([]int, 0, len(ids))
	for _, key := range order {
		capped = append(capped, subsample(buckets[key], p.cfg.MaxPerSector)...)
	}
	return capped
}

// sectorFirst 把同板块样本排到前面，提高截断后的相关性。
func (p *Predictor) sectorFirst(ids []int, querySector string) []int {
	if querySector == "" || querySector == "unknown" {
		return ids
	}
	same := make([]int, 0, len(ids))
	other := make([]int, 0, len(ids))
	for _, id := range ids {
		if p.index.Observation(id).Sector == querySector {
			same = append(same, id)
		} else {
			other = append(other, id)
		}
	}
	return append(same, other...)
}

func bucketBy(ids []int, keyFn func(int) string) (map[string][]int, []string) {
	buckets := make(map[string][]int)
	order := make([]string, 0)
	for _, id := range ids {
		key := keyFn(id)
		if key == "" {
			key = "unknown"
		}
		if _, seen := buckets[key]; !seen {
			order = append(order, key)
		}
		buckets[key] = append(buckets[key], id)
	}
	return buckets, order
}

// subsample 等距抽样，保持输入顺序与确定性。
func subsample(ids []int, limit int) []int {
	if limit <= 0 || len(ids) <= limit {
		return ids
	}
	step := float64(len(ids)) / float64(limit)
	out := make([]int, 0, limit)
	for i := 0; i < limit; i++ {
		out = append(out, ids[int(float64(i)*step)])
	}
	return out
}
