package predictor

import (
	"context"
	"math"
	"sort"
	"strings"

	"traqo/internal/config"
	"traqo/internal/domaincfg"
	"traqo/internal/metrics"
	"traqo/internal/observation"
	"traqo/internal/types"

	"golang.org/x/sync/errgroup"
)

// Blender 把纸面交易反馈混入原始预测，由反馈引擎实现。
type Blender interface {
	Apply(pred *types.Prediction, trend string, horizon types.Horizon, sector string)
}

// Predictor 分层统计预测器。索引只读，Predict 无副作用，可并发调用。
type Predictor struct {
	index   *observation.Index
	cfg     config.PredictorConfig
	tables  func() domaincfg.Snapshot
	slCfg   config.SizingConfig
	blender Blender

	accepted map[types.Tier]bool
	primary  types.Horizon
}

// New 构建预测器。blender 可为 nil，此时输出纯统计预测。
func New(idx *observation.Index, cfg config.PredictorConfig, slCfg config.SizingConfig,
	tables func() domaincfg.Snapshot, blender Blender) *Predictor {
	accepted := make(map[types.Tier]bool, len(cfg.AcceptedTiers))
	for _, t := range cfg.AcceptedTiers {
		accepted[types.Tier(t)] = true
	}
	return &Predictor{
		index:    idx,
		cfg:      cfg,
		slCfg:    slCfg,
		tables:   tables,
		blender:  blender,
		accepted: accepted,
		primary:  types.Horizon(cfg.PrimaryHorizon),
	}
}

// Predict 对单个形态 + 上下文生成预测。
// 第二返回值为 false 表示无预测（样本不足或层级被拒），这是常态而非错误。
func (p *Predictor) Predict(pattern string, ctx Context) (*types.Prediction, bool) {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	ctx = ctx.normalized()
	tables := p.tables()
	if !tables.IsTradeable(pattern) {
		metrics.PredictionsAbsent.Inc()
		return nil, false
	}

	ret := p.retrieve(pattern, ctx)
	if len(ret.ids) < 3 || !p.accepted[ret.tier] {
		metrics.PredictionsAbsent.Inc()
		return nil, false
	}

	matches := make([]types.Observation, 0, len(ret.ids))
	for _, id := range ret.ids {
		matches = append(matches, p.index.Observation(id))
	}
	// 时间降序取 TOP_K，优先近期样本
	sort.SliceStable(matches, func(a, b int) bool { return matches[a].Timestamp.After(matches[b].Timestamp) })
	if len(matches) > p.cfg.TopK {
		matches = matches[:p.cfg.TopK]
	}

	pred := &types.Prediction{
		Pattern:       pattern,
		Tier:          ret.tier,
		NMatches:      len(matches),
		DroppedFields: ret.droppedFields,
		Horizons:      make(map[types.Horizon]types.HorizonStats),
	}
	for _, h := range types.AllHorizons {
		if stats, ok := p.aggregateHorizon(matches, h); ok {
			pred.Horizons[h] = stats
		}
	}
	primary, ok := pred.Horizons[p.primary]
	if !ok {
		metrics.PredictionsAbsent.Inc()
		return nil, false
	}
	pred.Direction = primary.Direction
	pred.BullishEdge = primary.BullishEdge
	pred.BearishEdge = primary.BearishEdge
	pred.AvgReturn = primary.AvgReturn
	pred.MedianReturn = primary.MedianReturn

	p.simulateTrades(pred, matches, tables)
	p.scoreConfidence(pred, primary)

	pred.RawWinRate = pred.WinRate
	pred.RawConfidence = pred.ConfidenceScore
	if p.blender != nil {
		p.blender.Apply(pred, ctx.TrendShort, p.primary, ctx.Sector)
	}

	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		seen[m.Instrument] = struct{}{}
	}
	pred.InstrumentDiversity = len(seen)

	metrics.PredictionsTotal.WithLabelValues(pred.Tier.String()).Inc()
	return pred, true
}

// PredictMulti 处理逗号分隔的多形态标签，返回修正优势最强的预测。
func (p *Predictor) PredictMulti(patterns string, ctx Context) (*types.Prediction, bool) {
	var best *types.Prediction
	for _, raw := range strings.Split(patterns, ",") {
		pattern := strings.ToLower(strings.TrimSpace(raw))
		if pattern == "" {
			continue
		}
		pred, ok := p.Predict(pattern, ctx)
		if !ok {
			continue
		}
		if best == nil || math.Abs(pred.BullishEdge) > math.Abs(best.BullishEdge) {
			best = pred
		}
	}
	return best, best != nil
}

// Query 是批量预测的一项输入。
type Query struct {
	Patterns string
	Ctx      Context
}

// PredictBatch 并行处理相互独立的查询；索引只读，可安全并发。
// 无预测的查询在结果中对应 nil。
func (p *Predictor) PredictBatch(ctx context.Context, queries []Query) ([]*types.Prediction, error) {
	results := make([]*types.Prediction, len(queries))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			if pred, ok := p.PredictMulti(q.Patterns, q.Ctx); ok {
				results[i] = pred
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// aggregateHorizon 聚合单一周期上的方向分布与收益统计。
func (p *Predictor) aggregateHorizon(matches []types.Observation, h types.Horizon) (types.HorizonStats, bool) {
	var (
		returns []float64
		counts  = map[types.Direction]int{}
	)
	for _, m := range matches {
		out, ok := m.Outcomes[h.Days()]
		if !ok {
			continue
		}
		returns = append(returns, out.ReturnPct)
		counts[out.Direction]++
	}
	if len(returns) == 0 {
		return types.HorizonStats{}, false
	}

	total := counts[types.DirectionBullish] + counts[types.DirectionBearish] + counts[types.DirectionNeutral]
	bullishPct, bearishPct := 50.0, 50.0
	if total > 0 {
		bullishPct = float64(counts[types.DirectionBullish]) / float64(total) * 100
		bearishPct = float64(counts[types.DirectionBearish]) / float64(total) * 100
	}
	// 基准率修正：扣掉数据集的无条件方向占比，剩下的才是形态带来的优势
	bullishEdge := bullishPct - p.index.BaseRate(h, types.DirectionBullish)*100
	bearishEdge := bearishPct - p.index.BaseRate(h, types.DirectionBearish)*100

	direction := types.DirectionNeutral
	if math.Abs(bullishEdge) >= p.cfg.NeutralEdgePts || math.Abs(bearishEdge) >= p.cfg.NeutralEdgePts {
		if bullishEdge > bearishEdge {
			direction = types.DirectionBullish
		} else {
			direction = types.DirectionBearish
		}
	}

	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)
	stats := types.HorizonStats{
		Direction:    direction,
		BullishPct:   round2(bullishPct),
		BearishPct:   round2(bearishPct),
		BullishEdge:  round2(bullishEdge),
		BearishEdge:  round2(bearishEdge),
		AvgReturn:    mean(returns),
		MedianReturn: median(sorted),
		StdReturn:    stddev(returns),
		MinReturn:    sorted[0],
		MaxReturn:    sorted[len(sorted)-1],
		Count:        len(returns),
	}
	return stats, true
}

// simulateTrades 按预测方向模拟成交，并叠加 ATR 止损重算胜率与盈亏比。
func (p *Predictor) simulateTrades(pred *types.Prediction, matches []types.Observation, tables domaincfg.Snapshot) {
	slMult := p.slCfg.StandardSLMultiplier
	if tables.IsStructural(pred.Pattern) {
		slMult = p.slCfg.StructuralSLMultiplier
	}

	var (
		raw, withSL  []float64
		slTriggered  int
		mfes, maes   []float64
		slPcts       []float64
	)
	for _, m := range matches {
		out, ok := m.Outcomes[p.primary.Days()]
		if !ok {
			continue
		}
		mfe, mae := out.MFE, out.MAE
		if fb, ok := m.Outcomes[types.HorizonSwing5.Days()]; ok && mfe == 0 && mae == 0 {
			mfe, mae = fb.MFE, fb.MAE
		}
		mfes = append(mfes, mfe)
		maes = append(maes, mae)

		slPct := 1.0
		if m.ATR > 0 && m.Close > 0 {
			slPct = slMult * m.ATR / m.Close * 100
		}
		slPct = clamp(slPct, p.slCfg.SLFloorPct, p.slCfg.SLCapPct)
		slPcts = append(slPcts, slPct)

		switch pred.Direction {
		case types.DirectionBullish:
			raw = append(raw, out.ReturnPct)
			if mae < -slPct {
				withSL = append(withSL, -slPct)
				slTriggered++
			} else {
				withSL = append(withSL, out.ReturnPct)
			}
		case types.DirectionBearish:
			raw = append(raw, -out.ReturnPct)
			if mfe > slPct {
				withSL = append(withSL, -slPct)
				slTriggered++
			} else {
				withSL = append(withSL, -out.ReturnPct)
			}
		}
	}

	pred.WinRate, pred.ProfitFactor = winRateAndPF(raw)
	pred.SLWinRate, pred.SLProfitFactor = winRateAndPF(withSL)
	if len(withSL) > 0 {
		pred.SLTriggerPct = round2(float64(slTriggered) / float64(len(withSL)) * 100)
	}
	pred.AvgMFE = mean(mfes)
	pred.AvgMAE = mean(maes)
	if pred.AvgMAE != 0 {
		pred.RRRatio = round2(math.Abs(pred.AvgMFE / pred.AvgMAE))
	}
	pred.StopLossPct = mean(slPcts)
}

// scoreConfidence 按固定权重合成信心分：优势、样本量、层级质量、盈亏比。
func (p *Predictor) scoreConfidence(pred *types.Prediction, primary types.HorizonStats) {
	edgeStrength := math.Max(math.Abs(primary.BullishEdge), math.Abs(primary.BearishEdge)) / 100
	sampleAdequacy := math.Min(1.0, float64(pred.NMatches)/float64(p.cfg.SampleAdequacy))
	pfFactor := clamp((pred.ProfitFactor-0.5)/1.5, 0, 1)

	score := edgeStrength*p.cfg.EdgeWeight +
		sampleAdequacy*p.cfg.SampleWeight +
		pred.Tier.Quality()*p.cfg.TierWeight +
		pfFactor*p.cfg.PFWeight
	pred.ConfidenceScore = math.Round(score*10000) / 10000
	pred.ConfidenceLevel = types.LevelForScore(pred.ConfidenceScore)
}

func winRateAndPF(trades []float64) (winRate, pf float64) {
	if len(trades) == 0 {
		return 0, 0
	}
	var wins, grossWin, grossLoss float64
	for _, t := range trades {
		if t > 0 {
			wins++
			grossWin += t
		} else {
			grossLoss += -t
		}
	}
	winRate = round2(wins / float64(len(trades)) * 100)
	if grossLoss <= 0 {
		grossLoss = 0.001
	}
	pf = math.Round(grossWin/grossLoss*1000) / 1000
	return winRate, pf
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func stddev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	var sum float64
	for _, x := range xs {
		sum += (x - m) * (x - m)
	}
	return math.Sqrt(sum / float64(len(xs)))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
