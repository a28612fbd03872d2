package feedback

import (
	"context"
	"fmt"
	"testing"
	"time"

	"traqo/internal/config"
	"traqo/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memRepo 内存反馈存储，trace_id 去重语义与 gorm 实现一致。
type memRepo struct {
	outcomes    []types.OutcomeRecord
	seen        map[string]bool
	adjustments []types.AdjustmentRecord
}

func newMemRepo() *memRepo {
	return &memRepo{seen: map[string]bool{}}
}

func (r *memRepo) SaveOutcomes(ctx context.Context, records []types.OutcomeRecord) (int, error) {
	added := 0
	for _, rec := range records {
		if r.seen[rec.TraceID] {
			continue
		}
		r.seen[rec.TraceID] = true
		r.outcomes = append(r.outcomes, rec)
		added++
	}
	return added, nil
}

func (r *memRepo) ListOutcomes(ctx context.Context) ([]types.OutcomeRecord, error) {
	return append([]types.OutcomeRecord(nil), r.outcomes...), nil
}

func (r *memRepo) ReplaceAdjustments(ctx context.Context, records []types.AdjustmentRecord) error {
	r.adjustments = append([]types.AdjustmentRecord(nil), records...)
	return nil
}

func (r *memRepo) LoadAdjustments(ctx context.Context) ([]types.AdjustmentRecord, error) {
	return append([]types.AdjustmentRecord(nil), r.adjustments...), nil
}

func testFeedbackConfig() config.FeedbackConfig {
	return config.FeedbackConfig{
		HalfLifeDays:     60,
		BlendCap:         0.50,
		BlendShrink:      20,
		MinTripleTrades:  3,
		MinSegmentTrades: 2,
		MinTrendTrades:   3,
	}
}

func outcome(trace, pattern, trend, horizonLabel string, win bool, closedAt time.Time) types.OutcomeRecord {
	ret := 2.0
	reason := "target_hit"
	if !win {
		ret = -1.5
		reason = "stop_loss_hit"
	}
	return types.OutcomeRecord{
		TraceID:      trace,
		Instrument:   "tcs",
		Sector:       "it",
		Patterns:     []string{pattern},
		Direction:    types.DirectionBullish,
		TrendShort:   trend,
		HorizonLabel: horizonLabel,
		Win:          win,
		ReturnPct:    ret,
		ExitReason:   reason,
		ClosedAt:     closedAt,
	}
}

func TestIngestRejectsIncompleteRecord(t *testing.T) {
	e, err := NewEngine(context.Background(), testFeedbackConfig(), newMemRepo())
	require.NoError(t, err)

	bad := outcome("t1", "doji", "bullish", "Swing_5d", true, time.Now())
	bad.HorizonLabel = ""
	err = e.Ingest(context.Background(), []types.OutcomeRecord{bad})
	assert.Error(t, err, "分段字段缺失必须整体拒绝")
}

func TestIngestDeduplicatesByTraceID(t *testing.T) {
	repo := newMemRepo()
	e, err := NewEngine(context.Background(), testFeedbackConfig(), repo)
	require.NoError(t, err)

	now := time.Now()
	recs := []types.OutcomeRecord{
		outcome("t1", "doji", "bullish", "Swing_5d", true, now),
		outcome("t2", "doji", "bullish", "Swing_5d", true, now),
		outcome("t3", "doji", "bullish", "Swing_5d", false, now),
	}
	require.NoError(t, e.Ingest(context.Background(), recs))
	require.NoError(t, e.Ingest(context.Background(), recs[:1]), "重复摄取应幂等")
	assert.Len(t, repo.outcomes, 3)
}

func TestRebuildProducesSegmentedAdjustments(t *testing.T) {
	repo := newMemRepo()
	e, err := NewEngine(context.Background(), testFeedbackConfig(), repo)
	require.NoError(t, err)

	now := time.Now()
	var recs []types.OutcomeRecord
	for i := 0; i < 4; i++ {
		recs = append(recs, outcome(fmt.Sprintf("t%d", i), "doji", "bullish", "Swing_5d", i < 3, now))
	}
	require.NoError(t, e.Ingest(context.Background(), recs))

	// 5 类分段都应出现：pattern/regime/horizon/triple/sector
	kinds := map[types.SegmentKind]int{}
	for _, a := range repo.adjustments {
		kinds[a.Kind]++
	}
	for _, k := range []types.SegmentKind{types.SegmentPattern, types.SegmentTrend, types.SegmentHorizon, types.SegmentTriple, types.SegmentSector} {
		assert.Positive(t, kinds[k], "缺少 %s 分段", k)
	}
	for _, a := range repo.adjustments {
		assert.Equal(t, 4, a.TotalTrades)
		assert.InDelta(t, 75.0, a.WinRate, 0.11)
	}
}

func TestApplyBlendsTowardPaperWinRate(t *testing.T) {
	repo := newMemRepo()
	e, err := NewEngine(context.Background(), testFeedbackConfig(), repo)
	require.NoError(t, err)

	now := time.Now()
	var recs []types.OutcomeRecord
	for i := 0; i < 10; i++ {
		recs = append(recs, outcome(fmt.Sprintf("t%d", i), "doji", "bullish", "Swing_5d", i < 9, now))
	}
	require.NoError(t, e.Ingest(context.Background(), recs))

	pred := &types.Prediction{
		Pattern:         "doji",
		Direction:       types.DirectionBullish,
		WinRate:         60.0,
		RawWinRate:      60.0,
		ConfidenceScore: 0.5,
	}
	e.Apply(pred, "bullish", types.HorizonSwing5, "it")

	require.True(t, pred.FeedbackApplied)
	assert.Contains(t, pred.FeedbackSource, "triple:")
	assert.Equal(t, 10, pred.FeedbackTrades)
	// 混合权重受 BlendCap 约束: min(0.5, 10/30) = 0.33
	assert.LessOrEqual(t, pred.BlendWeight, 0.50)
	assert.InDelta(t, 0.33, pred.BlendWeight, 0.01)
	// 纸面胜率 90 向上拉动统计胜率 60
	assert.Greater(t, pred.WinRate, 60.0)
	assert.Less(t, pred.WinRate, 90.0)
	assert.Equal(t, 60.0, pred.RawWinRate, "原始值保留供审计")
}

func TestBlendWeightNeverExceedsCap(t *testing.T) {
	repo := newMemRepo()
	e, err := NewEngine(context.Background(), testFeedbackConfig(), repo)
	require.NoError(t, err)

	// 大样本：n/(n+shrink) 趋近 1，但混合权重必须停在 cap
	now := time.Now()
	var recs []types.OutcomeRecord
	for i := 0; i < 200; i++ {
		recs = append(recs, outcome(fmt.Sprintf("t%d", i), "doji", "bullish", "Swing_5d", i%2 == 0, now))
	}
	require.NoError(t, e.Ingest(context.Background(), recs))

	pred := &types.Prediction{Pattern: "doji", Direction: types.DirectionBullish, WinRate: 60.0}
	e.Apply(pred, "bullish", types.HorizonSwing5, "it")
	require.True(t, pred.FeedbackApplied)
	assert.InDelta(t, 0.50, pred.BlendWeight, 1e-9)
}

func TestApplySkipsThinSegments(t *testing.T) {
	repo := newMemRepo()
	e, err := NewEngine(context.Background(), testFeedbackConfig(), repo)
	require.NoError(t, err)

	// 只有 3 条历史，triple 达标（>=3）但换一个 trend 查询时
	// 级联仍会落到 horizon 分段
	now := time.Now()
	var recs []types.OutcomeRecord
	for i := 0; i < 3; i++ {
		recs = append(recs, outcome(fmt.Sprintf("t%d", i), "doji", "bullish", "Swing_5d", true, now))
	}
	require.NoError(t, e.Ingest(context.Background(), recs))

	pred := &types.Prediction{Pattern: "doji", Direction: types.DirectionBullish, WinRate: 55.0}
	e.Apply(pred, "bearish", types.HorizonSwing5, "it")
	require.True(t, pred.FeedbackApplied)
	assert.Contains(t, pred.FeedbackSource, "horizon:")
}

func TestHorizonWinRate(t *testing.T) {
	repo := newMemRepo()
	e, err := NewEngine(context.Background(), testFeedbackConfig(), repo)
	require.NoError(t, err)

	now := time.Now()
	var recs []types.OutcomeRecord
	for i := 0; i < 5; i++ {
		recs = append(recs, outcome(fmt.Sprintf("t%d", i), "doji", "bullish", "Swing_3d", i < 4, now))
	}
	require.NoError(t, e.Ingest(context.Background(), recs))

	wr, src, ok := e.HorizonWinRate("doji", "bullish", "Swing_3d")
	require.True(t, ok)
	assert.Contains(t, src, "triple:")
	assert.Greater(t, wr, 0.0)

	_, _, ok = e.HorizonWinRate("doji", "", "")
	assert.False(t, ok, "缺 horizon 标签直接不命中")

	_, _, ok = e.HorizonWinRate("doji", "bullish", "Swing_25d")
	assert.False(t, ok)
}

func TestDeriveTrendAlignmentRule(t *testing.T) {
	repo := newMemRepo()
	e, err := NewEngine(context.Background(), testFeedbackConfig(), repo)
	require.NoError(t, err)

	now := time.Now()
	var recs []types.OutcomeRecord
	// 顺势（direction==trend）4 胜 0 负，逆势 0 胜 4 负
	for i := 0; i < 4; i++ {
		recs = append(recs, outcome(fmt.Sprintf("a%d", i), "doji", "bullish", "Swing_5d", true, now))
	}
	for i := 0; i < 4; i++ {
		recs = append(recs, outcome(fmt.Sprintf("b%d", i), "doji", "bearish", "Swing_5d", false, now))
	}
	require.NoError(t, e.Ingest(context.Background(), recs))

	var found bool
	for _, r := range e.Rules() {
		if r.Context == "trend_alignment" {
			found = true
		}
	}
	assert.True(t, found, "应推导出趋势一致性规则")
}

func TestPatternFilterRejectsLowWinRate(t *testing.T) {
	repo := newMemRepo()
	e, err := NewEngine(context.Background(), testFeedbackConfig(), repo)
	require.NoError(t, err)

	now := time.Now()
	var recs []types.OutcomeRecord
	for i := 0; i < 6; i++ {
		recs = append(recs, outcome(fmt.Sprintf("t%d", i), "broadening", "bullish", "Swing_5d", i == 0, now))
	}
	require.NoError(t, e.Ingest(context.Background(), recs))

	f, ok := e.PatternFilter("broadening")
	require.True(t, ok)
	assert.Equal(t, types.FilterActionReject, f.Action)

	hf, ok := e.HorizonFilter("broadening", "Swing_5d")
	require.True(t, ok)
	assert.Equal(t, types.FilterActionReject, hf.Action)
}

func TestDecayWeightsFavorRecentTrades(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	agg := newAggregator(60, now)

	// 近期全败，远期全胜：衰减加权胜率应低于原始胜率
	for i := 0; i < 5; i++ {
		agg.add(outcome(fmt.Sprintf("old%d", i), "doji", "bullish", "Swing_5d", true, now.AddDate(0, 0, -300)))
	}
	for i := 0; i < 5; i++ {
		agg.add(outcome(fmt.Sprintf("new%d", i), "doji", "bullish", "Swing_5d", false, now.AddDate(0, 0, -1)))
	}
	adjustments := agg.adjustments(now)
	require.NotEmpty(t, adjustments)
	for _, a := range adjustments {
		if a.Kind == types.SegmentPattern {
			assert.InDelta(t, 50.0, a.WinRate, 0.11)
			assert.Less(t, a.DecayWeightedWinRate, 15.0,
				"近期连败应将衰减胜率压到远低于 50%%")
		}
	}
}
