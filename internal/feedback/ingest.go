package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"traqo/internal/logger"
	"traqo/internal/metrics"
	"traqo/internal/types"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// outcomeSchema 约束回流记录的分段字段完整性。
// 历史实现曾因 horizon/sector 缺失而静默降级到宽分段，
// 这里在摄取入口直接拒绝不完整记录。
const outcomeSchema = `{
  "type": "object",
  "required": ["trace_id", "instrument", "sector", "patterns", "trend_short", "horizon_label", "exit_reason", "closed_at"],
  "properties": {
    "trace_id":      {"type": "string", "minLength": 1},
    "instrument":    {"type": "string", "minLength": 1},
    "sector":        {"type": "string", "minLength": 1},
    "patterns":      {"type": "array", "minItems": 1, "items": {"type": "string", "minLength": 1}},
    "trend_short":   {"type": "string", "minLength": 1},
    "horizon_label": {"type": "string", "minLength": 1},
    "exit_reason":   {"type": "string", "minLength": 1},
    "closed_at":     {"type": "string", "minLength": 1}
  }
}`

var compiledOutcomeSchema = jsonschema.MustCompileString("outcome.json", outcomeSchema)

func validateOutcome(rec types.OutcomeRecord) error {
	doc := map[string]any{
		"trace_id":      rec.TraceID,
		"instrument":    rec.Instrument,
		"sector":        rec.Sector,
		"patterns":      toAnySlice(rec.Patterns),
		"trend_short":   rec.TrendShort,
		"horizon_label": rec.HorizonLabel,
		"exit_reason":   rec.ExitReason,
		"closed_at":     rec.ClosedAt.Format(time.RFC3339),
	}
	if rec.ClosedAt.IsZero() {
		doc["closed_at"] = ""
	}
	return compiledOutcomeSchema.Validate(doc)
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// Ingest 把平仓结果写入反馈存储并重建全部分段调整记录。
// 任何记录分段字段不完整都会整体失败，绝不静默丢弃。
func (e *Engine) Ingest(ctx context.Context, records []types.OutcomeRecord) error {
	if len(records) == 0 {
		return nil
	}
	for i, rec := range records {
		if err := validateOutcome(rec); err != nil {
			metrics.FeedbackIngested.WithLabelValues("rejected").Inc()
			return fmt.Errorf("反馈记录 %d (trace=%s) 分段字段不完整: %w", i, rec.TraceID, err)
		}
	}
	if e.repo == nil {
		return fmt.Errorf("反馈存储未初始化")
	}
	added, err := e.repo.SaveOutcomes(ctx, records)
	if err != nil {
		return fmt.Errorf("反馈记录持久化失败: %w", err)
	}
	metrics.FeedbackIngested.WithLabelValues("accepted").Add(float64(added))
	if added < len(records) {
		logger.Infof("反馈摄取: %d 条新记录, %d 条重复跳过", added, len(records)-added)
	}
	return e.Rebuild(ctx)
}

// Rebuild 从全量结果历史重算调整记录、过滤调整与推导规则。
func (e *Engine) Rebuild(ctx context.Context) error {
	history, err := e.repo.ListOutcomes(ctx)
	if err != nil {
		return fmt.Errorf("反馈历史读取失败: %w", err)
	}
	if len(history) < 3 {
		logger.Debugf("反馈历史不足 3 条，跳过重建")
		return nil
	}

	now := e.nowFn()
	agg := newAggregator(e.cfg.HalfLifeDays, now)
	for _, rec := range history {
		agg.add(rec)
	}

	adjustments := agg.adjustments(now)
	if err := e.repo.ReplaceAdjustments(ctx, adjustments); err != nil {
		return fmt.Errorf("调整记录写入失败: %w", err)
	}
	e.installAdjustments(adjustments)
	e.installFilters(agg)
	e.setRules(nil, agg.deriveRules(history))
	logger.Infof("反馈重建完成: %d 条结果 -> %d 条调整记录", len(history), len(adjustments))
	return nil
}

// aggregator 按 5 类复合键累加结果，衰减权重半衰期默认 60 天。
type aggregator struct {
	halfLife float64
	now      time.Time
	buckets  map[types.SegmentKind]map[string]*bucket
	keys     map[string]types.FeedbackKey
}

type bucket struct {
	wins, losses  int
	weightedWins  float64
	weightedTotal float64
	returnSum     float64
	returnCount   int
	slExits       int
}

func newAggregator(halfLife float64, now time.Time) *aggregator {
	return &aggregator{
		halfLife: halfLife,
		now:      now,
		buckets: map[types.SegmentKind]map[string]*bucket{
			types.SegmentPattern: {},
			types.SegmentTrend:   {},
			types.SegmentHorizon: {},
			types.SegmentTriple:  {},
			types.SegmentSector:  {},
		},
		keys: map[string]types.FeedbackKey{},
	}
}

// decayWeight 近期交易权重更高；时间未知取 0.5。
func (a *aggregator) decayWeight(closedAt time.Time) float64 {
	if closedAt.IsZero() {
		return 0.5
	}
	ageDays := a.now.Sub(closedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Pow(2, -ageDays/a.halfLife)
}

func (a *aggregator) add(rec types.OutcomeRecord) {
	w := a.decayWeight(rec.ClosedAt)
	for _, pattern := range rec.Patterns {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		if pattern == "" {
			continue
		}
		keys := []types.FeedbackKey{
			{Pattern: pattern},
			{Pattern: pattern, Trend: rec.TrendShort},
			{Pattern: pattern, Horizon: rec.HorizonLabel},
			{Pattern: pattern, Trend: rec.TrendShort, Horizon: rec.HorizonLabel},
			{Pattern: pattern, Sector: rec.Sector},
		}
		for _, key := range keys {
			if !key.Valid() || key.Sector == "unknown" {
				continue
			}
			a.bucketFor(key).observe(rec, w)
		}
	}
}

func (a *aggregator) bucketFor(key types.FeedbackKey) *bucket {
	kind := key.Kind()
	enc := key.Encode()
	b, ok := a.buckets[kind][enc]
	if !ok {
		b = &bucket{}
		a.buckets[kind][enc] = b
		a.keys[string(kind)+"|"+enc] = key
	}
	return b
}

func (b *bucket) observe(rec types.OutcomeRecord, w float64) {
	if rec.Win {
		b.wins++
		b.weightedWins += w
	} else {
		b.losses++
	}
	b.weightedTotal += w
	b.returnSum += rec.ReturnPct
	b.returnCount++
	if rec.ExitReason == "stop_loss_hit" {
		b.slExits++
	}
}

func (b *bucket) total() int { return b.wins + b.losses }

func (b *bucket) winRate() float64 {
	if b.total() == 0 {
		return 0
	}
	return float64(b.wins) / float64(b.total()) * 100
}

func (b *bucket) decayWinRate() float64 {
	if b.weightedTotal <= 0 {
		return b.winRate()
	}
	return b.weightedWins / b.weightedTotal * 100
}

func (b *bucket) avgReturn() float64 {
	if b.returnCount == 0 {
		return 0
	}
	return b.returnSum / float64(b.returnCount)
}

// adjustments 产出样本量 ≥2 的全部分段记录，顺序确定。
func (a *aggregator) adjustments(now time.Time) []types.AdjustmentRecord {
	var out []types.AdjustmentRecord
	for kind, byKey := range a.buckets {
		encs := make([]string, 0, len(byKey))
		for enc := range byKey {
			encs = append(encs, enc)
		}
		sort.Strings(encs)
		for _, enc := range encs {
			b := byKey[enc]
			if b.total() < 2 {
				continue
			}
			out = append(out, types.AdjustmentRecord{
				Key:                  a.keys[string(kind)+"|"+enc],
				Kind:                 kind,
				TotalTrades:          b.total(),
				Wins:                 b.wins,
				WinRate:              math.Round(b.winRate()*10) / 10,
				DecayWeightedWinRate: math.Round(b.decayWinRate()*100) / 100,
				AvgReturn:            math.Round(b.avgReturn()*100) / 100,
				UpdatedAt:            now,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Key.Encode() < out[j].Key.Encode()
	})
	return out
}

// installFilters 由聚合结果推导扫描过滤的否决/放宽名单。
func (e *Engine) installFilters(agg *aggregator) {
	patternFlt := map[string]types.FilterAdjustment{}
	for enc, b := range agg.buckets[types.SegmentPattern] {
		total := b.total()
		if total < 5 {
			continue
		}
		wr := b.winRate()
		if wr < 45 {
			patternFlt[enc] = types.FilterAdjustment{
				Key: enc, ActualWR: wr, Trades: total, Action: types.FilterActionReject,
				Reason: fmt.Sprintf("纸面胜率 %.0f%% (%d 笔) 低于 45%%", wr, total),
			}
		} else if wr > 70 && total >= 10 {
			patternFlt[enc] = types.FilterAdjustment{
				Key: enc, ActualWR: wr, Trades: total, Action: types.FilterActionRelax,
				Reason: fmt.Sprintf("纸面胜率 %.0f%% (%d 笔)，放宽过滤门槛", wr, total),
			}
		}
	}
	horizonFlt := map[string]types.FilterAdjustment{}
	for enc, b := range agg.buckets[types.SegmentHorizon] {
		total := b.total()
		if total < 3 {
			continue
		}
		wr := b.winRate()
		if wr < 40 {
			horizonFlt[enc] = types.FilterAdjustment{
				Key: enc, ActualWR: wr, Trades: total, Action: types.FilterActionReject,
				Reason: fmt.Sprintf("周期分段胜率 %.0f%% (%d 笔)", wr, total),
			}
		} else if wr > 70 && total >= 5 {
			horizonFlt[enc] = types.FilterAdjustment{
				Key: enc, ActualWR: wr, Trades: total, Action: types.FilterActionRelax,
				Reason: fmt.Sprintf("周期分段胜率 %.0f%% (%d 笔)", wr, total),
			}
		}
	}
	e.mu.Lock()
	e.patternFlt = patternFlt
	e.horizonFlt = horizonFlt
	e.mu.Unlock()
}

// deriveRules 从结果历史推导定性规则（趋势一致性、止损调优）。
// 量能类规则依赖入场时指标，由外部规则文件提供。
func (a *aggregator) deriveRules(history []types.OutcomeRecord) []types.Rule {
	var rules []types.Rule

	alignedWins, alignedTotal, againstWins, againstTotal := 0, 0, 0, 0
	slExits := 0
	for _, rec := range history {
		aligned := string(rec.Direction) == rec.TrendShort
		if aligned {
			alignedTotal++
			if rec.Win {
				alignedWins++
			}
		} else {
			againstTotal++
			if rec.Win {
				againstWins++
			}
		}
		if rec.ExitReason == "stop_loss_hit" {
			slExits++
		}
	}
	if alignedTotal >= 3 && againstTotal >= 3 {
		alignedWR := float64(alignedWins) / float64(alignedTotal) * 100
		againstWR := float64(againstWins) / float64(againstTotal) * 100
		if alignedWR > againstWR+10 {
			rules = append(rules, types.Rule{
				Context:    "trend_alignment",
				Confidence: math.Min(0.9, float64(alignedTotal)/20),
				Type:       "prefer",
				Text: fmt.Sprintf("顺势交易胜率 %.0f%% vs 逆势 %.0f%%，优先顺势形态",
					alignedWR, againstWR),
			})
		}
	}
	if slExits >= 3 {
		slRate := float64(slExits) / float64(len(history)) * 100
		if slRate > 40 {
			rules = append(rules, types.Rule{
				Context:    "stop_loss_tuning",
				Confidence: math.Min(0.8, float64(slExits)/10),
				Type:       "adjust",
				Text:       fmt.Sprintf("止损触发率 %.0f%%，考虑放宽止损或等待更强确认", slRate),
			})
		}
	}
	return rules
}

// DumpAdjustments 导出当前快照（ops 接口只读展示用）。
func (e *Engine) DumpAdjustments() map[string]json.RawMessage {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]json.RawMessage, len(e.adjustments))
	for kind, byKey := range e.adjustments {
		if len(byKey) == 0 {
			continue
		}
		raw, err := json.Marshal(byKey)
		if err != nil {
			continue
		}
		out[string(kind)] = raw
	}
	return out
}
