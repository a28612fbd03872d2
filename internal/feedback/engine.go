package feedback

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"traqo/internal/config"
	"traqo/internal/logger"
	"traqo/internal/types"
)

// Repository 是反馈数据的持久化端口，由 internal/store 实现。
type Repository interface {
	SaveOutcomes(ctx context.Context, records []types.OutcomeRecord) (int, error)
	ListOutcomes(ctx context.Context) ([]types.OutcomeRecord, error)
	ReplaceAdjustments(ctx context.Context, records []types.AdjustmentRecord) error
	LoadAdjustments(ctx context.Context) ([]types.AdjustmentRecord, error)
}

// Engine 维护分段调整记录与经验规则的内存快照，
// 实现预测器的混合接口。快照整体替换，读侧无锁竞争。
type Engine struct {
	cfg  config.FeedbackConfig
	repo Repository

	mu          sync.RWMutex
	adjustments map[types.SegmentKind]map[string]types.AdjustmentRecord
	rules       []types.Rule
	fileRules   []types.Rule
	derived     []types.Rule
	patternFlt  map[string]types.FilterAdjustment
	horizonFlt  map[string]types.FilterAdjustment

	nowFn func() time.Time
}

// NewEngine 从存储加载既有调整记录。反馈缺失只降级不报错。
func NewEngine(ctx context.Context, cfg config.FeedbackConfig, repo Repository) (*Engine, error) {
	e := &Engine{
		cfg:         cfg,
		repo:        repo,
		adjustments: emptyAdjustments(),
		patternFlt:  map[string]types.FilterAdjustment{},
		horizonFlt:  map[string]types.FilterAdjustment{},
		nowFn:       time.Now,
	}
	if repo != nil {
		records, err := repo.LoadAdjustments(ctx)
		if err != nil {
			logger.Warnf("反馈调整记录加载失败，降级为纯统计预测: %v", err)
		} else {
			e.installAdjustments(records)
		}
	}
	return e, nil
}

func emptyAdjustments() map[types.SegmentKind]map[string]types.AdjustmentRecord {
	return map[types.SegmentKind]map[string]types.AdjustmentRecord{
		types.SegmentPattern: {},
		types.SegmentTrend:   {},
		types.SegmentHorizon: {},
		types.SegmentTriple:  {},
		types.SegmentSector:  {},
	}
}

func (e *Engine) installAdjustments(records []types.AdjustmentRecord) {
	snap := emptyAdjustments()
	for _, r := range records {
		snap[r.Kind][r.Key.Encode()] = r
	}
	e.mu.Lock()
	e.adjustments = snap
	e.mu.Unlock()
	logger.Infof("反馈快照已装载: %d 条调整记录", len(records))
}

func (e *Engine) lookup(kind types.SegmentKind, key types.FeedbackKey) (types.AdjustmentRecord, bool) {
	rec, ok := e.adjustments[kind][key.Encode()]
	return rec, ok
}

// Apply 把最具体的可用反馈分段混入预测胜率，并按规则修正信心。
// 原始值已由调用方存入 RawWinRate/RawConfidence，这里只做覆盖。
func (e *Engine) Apply(pred *types.Prediction, trend string, horizon types.Horizon, sector string) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	pattern := pred.Pattern
	label := horizon.Label()

	var (
		paperWR float64
		paperN  int
		source  string
	)
	pick := func(rec types.AdjustmentRecord, minTrades int, src string) bool {
		if rec.TotalTrades < minTrades {
			return false
		}
		paperWR = rec.BlendBase()
		paperN = rec.TotalTrades
		source = src
		return true
	}

	// 级联：triple → horizon → sector → trend → pattern，先到先得
	matched := false
	if trend != "" && label != "" {
		key := types.FeedbackKey{Pattern: pattern, Trend: trend, Horizon: label}
		if rec, ok := e.lookup(types.SegmentTriple, key); ok {
			matched = pick(rec, e.cfg.MinTripleTrades, "triple:"+key.Encode())
		}
	}
	if !matched && label != "" {
		key := types.FeedbackKey{Pattern: pattern, Horizon: label}
		if rec, ok := e.lookup(types.SegmentHorizon, key); ok {
			matched = pick(rec, e.cfg.MinSegmentTrades, "horizon:"+key.Encode())
		}
	}
	if !matched && sector != "" && sector != "unknown" {
		key := types.FeedbackKey{Pattern: pattern, Sector: sector}
		if rec, ok := e.lookup(types.SegmentSector, key); ok {
			matched = pick(rec, e.cfg.MinSegmentTrades, "sector:"+key.Encode())
		}
	}
	if !matched && trend != "" {
		key := types.FeedbackKey{Pattern: pattern, Trend: trend}
		if rec, ok := e.lookup(types.SegmentTrend, key); ok {
			matched = pick(rec, e.cfg.MinTrendTrades, "regime:"+key.Encode())
		}
	}
	if !matched {
		key := types.FeedbackKey{Pattern: pattern}
		if rec, ok := e.lookup(types.SegmentPattern, key); ok {
			matched = pick(rec, e.cfg.MinSegmentTrades, "pattern:"+pattern)
		}
	}

	if matched && paperN >= e.cfg.MinSegmentTrades {
		w := math.Min(e.cfg.BlendCap, float64(paperN)/(float64(paperN)+e.cfg.BlendShrink))
		blended := pred.WinRate*(1-w) + paperWR*w
		pred.WinRate = math.Round(blended*100) / 100
		pred.FeedbackApplied = true
		pred.FeedbackSource = source
		pred.FeedbackPaperWR = math.Round(paperWR*10) / 10
		pred.FeedbackTrades = paperN
		pred.BlendWeight = math.Round(w*100) / 100
	}

	e.applyRules(pred, trend)
}

// applyRules 按定性规则对信心做有符号修正，幅度随规则置信度放大。
func (e *Engine) applyRules(pred *types.Prediction, trend string) {
	var boost float64
	for _, rule := range e.rules {
		scale := math.Min(3.0, 1.0+rule.Confidence*2.5)
		switch {
		case rule.Context == "trend_alignment" && trend != "":
			aligned := (pred.Direction == types.DirectionBullish && trend == "bullish") ||
				(pred.Direction == types.DirectionBearish && trend == "bearish")
			if aligned {
				boost += 0.05 * scale * rule.Confidence
			} else {
				boost -= 0.04 * scale * rule.Confidence
			}
		case rule.Context == "volume_confirmation":
			boost += 0.03 * scale * rule.Confidence
		case strings.HasPrefix(rule.Context, "volume_per_pattern_"):
			if strings.TrimPrefix(rule.Context, "volume_per_pattern_") == pred.Pattern {
				boost += 0.04 * scale * rule.Confidence
			}
		case rule.Context == "stop_loss_tuning":
			boost -= 0.04 * scale * rule.Confidence
		}
	}
	if boost == 0 {
		return
	}
	newConf := math.Max(0, math.Min(1, pred.ConfidenceScore+boost))
	pred.ConfidenceScore = math.Round(newConf*10000) / 10000
	pred.ConfidenceLevel = types.LevelForScore(pred.ConfidenceScore)
	pred.ConfAdjustment = math.Round(boost*10000) / 10000
}

// HorizonWinRate 返回周期感知的反馈胜率（扫描过滤用）：
// triple 优先，其次 horizon 分段。
func (e *Engine) HorizonWinRate(pattern, trend, horizonLabel string) (float64, string, bool) {
	if horizonLabel == "" {
		return 0, "", false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if trend != "" {
		key := types.FeedbackKey{Pattern: pattern, Trend: trend, Horizon: horizonLabel}
		if rec, ok := e.lookup(types.SegmentTriple, key); ok && rec.TotalTrades >= e.cfg.MinTripleTrades {
			return rec.BlendBase(), "triple:" + key.Encode(), true
		}
	}
	key := types.FeedbackKey{Pattern: pattern, Horizon: horizonLabel}
	if rec, ok := e.lookup(types.SegmentHorizon, key); ok && rec.TotalTrades >= e.cfg.MinSegmentTrades {
		return rec.BlendBase(), "horizon:" + key.Encode(), true
	}
	return 0, "", false
}

// PatternFilter 返回形态级别的过滤调整（否决或放宽）。
func (e *Engine) PatternFilter(pattern string) (types.FilterAdjustment, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	f, ok := e.patternFlt[pattern]
	return f, ok
}

// HorizonFilter 返回 pattern+horizon 级别的过滤调整。
func (e *Engine) HorizonFilter(pattern, horizonLabel string) (types.FilterAdjustment, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	f, ok := e.horizonFlt[pattern+"__"+horizonLabel]
	return f, ok
}

// Rules 返回当前生效的规则集合（文件规则 + 摄取推导规则）。
func (e *Engine) Rules() []types.Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]types.Rule(nil), e.rules...)
}

func (e *Engine) setRules(fileRules, derived []types.Rule) {
	e.mu.Lock()
	if fileRules != nil {
		e.fileRules = fileRules
	}
	if derived != nil {
		e.derived = derived
	}
	e.rules = append(append([]types.Rule(nil), e.fileRules...), e.derived...)
	e.mu.Unlock()
}
