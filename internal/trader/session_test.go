package trader

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"traqo/internal/config"
	"traqo/internal/domaincfg"
	"traqo/internal/feedback"
	"traqo/internal/observation"
	"traqo/internal/predictor"
	"traqo/internal/regime"
	"traqo/internal/risk"
	"traqo/internal/sizing"
	"traqo/internal/store"
	"traqo/internal/types"
)

// memStore 是全内存的 store.Store 实现，语义对齐 gormstore：
// 去重键、终态保护、trace_id 幂等、单行风控状态。
type memStore struct {
	seq       int64
	trades    []types.Trade
	riskSt    *types.RiskState
	outcomes  map[string]types.OutcomeRecord
	outOrder  []string
	adjusts   []types.AdjustmentRecord
	scans     map[string]store.ScanRecord
	lastScan  string
	summaries map[string]types.DailySummary
}

func newMemStore() *memStore {
	return &memStore{
		outcomes:  map[string]types.OutcomeRecord{},
		scans:     map[string]store.ScanRecord{},
		summaries: map[string]types.DailySummary{},
	}
}

func dedupKey(t *types.Trade) string {
	return fmt.Sprintf("%s|%d|%s", t.Instrument, t.Horizon.Days(), t.EntryDate.Format(dateLayout))
}

func (m *memStore) InsertTrade(_ context.Context, t *types.Trade) (bool, error) {
	for i := range m.trades {
		if dedupKey(&m.trades[i]) == dedupKey(t) {
			return false, nil
		}
	}
	m.seq++
	t.ID = m.seq
	m.trades = append(m.trades, *t)
	return true, nil
}

func (m *memStore) CloseTrade(_ context.Context, t *types.Trade, st *types.RiskState) (bool, error) {
	for i := range m.trades {
		if m.trades[i].ID != t.ID {
			continue
		}
		if m.trades[i].Status.Terminal() {
			return false, nil
		}
		m.trades[i] = *t
		if st != nil {
			cp := *st
			m.riskSt = &cp
		}
		return true, nil
	}
	return false, fmt.Errorf("trade %d 不存在", t.ID)
}

func (m *memStore) ListOpenTrades(_ context.Context) ([]types.Trade, error) {
	var out []types.Trade
	for _, t := range m.trades {
		if t.Status == types.TradeStatusOpen {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStore) ListTradesClosedOn(_ context.Context, date string) ([]types.Trade, error) {
	var out []types.Trade
	for _, t := range m.trades {
		if t.Status.Terminal() && t.ExitDate.Format(dateLayout) == date {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStore) ListRecentTrades(_ context.Context, limit int) ([]types.Trade, error) {
	out := append([]types.Trade(nil), m.trades...)
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memStore) LoadRiskState(_ context.Context) (*types.RiskState, error) {
	if m.riskSt == nil {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *m.riskSt
	return &cp, nil
}

func (m *memStore) SaveRiskState(_ context.Context, st *types.RiskState) error {
	cp := *st
	m.riskSt = &cp
	return nil
}

func (m *memStore) SaveOutcomes(_ context.Context, records []types.OutcomeRecord) (int, error) {
	added := 0
	for _, r := range records {
		if _, ok := m.outcomes[r.TraceID]; ok {
			continue
		}
		m.outcomes[r.TraceID] = r
		m.outOrder = append(m.outOrder, r.TraceID)
		added++
	}
	return added, nil
}

func (m *memStore) ListOutcomes(_ context.Context) ([]types.OutcomeRecord, error) {
	out := make([]types.OutcomeRecord, 0, len(m.outOrder))
	for _, id := range m.outOrder {
		out = append(out, m.outcomes[id])
	}
	return out, nil
}

func (m *memStore) ReplaceAdjustments(_ context.Context, records []types.AdjustmentRecord) error {
	m.adjusts = append([]types.AdjustmentRecord(nil), records...)
	return nil
}

func (m *memStore) LoadAdjustments(_ context.Context) ([]types.AdjustmentRecord, error) {
	return append([]types.AdjustmentRecord(nil), m.adjusts...), nil
}

func (m *memStore) LastScanDate(_ context.Context) (string, error) { return m.lastScan, nil }

func (m *memStore) HasScan(_ context.Context, date string) (bool, error) {
	_, ok := m.scans[date]
	return ok, nil
}

func (m *memStore) RecordScan(_ context.Context, rec store.ScanRecord) error {
	m.scans[rec.Date] = rec
	if rec.Date > m.lastScan {
		m.lastScan = rec.Date
	}
	return nil
}

func (m *memStore) UpsertDailySummary(_ context.Context, s types.DailySummary) error {
	m.summaries[s.Date] = s
	return nil
}

func (m *memStore) ListRecentSummaries(_ context.Context, limit int) ([]types.DailySummary, error) {
	return nil, nil
}

func (m *memStore) Close() error { return nil }

var _ store.Store = (*memStore)(nil)

// fakeBarSource 按标的返回固定日线，[from, to] 闭区间过滤。
type fakeBarSource struct {
	bars map[string][]OHLCBar
}

func (f *fakeBarSource) DailyBars(_ context.Context, instrument string, from, to time.Time) ([]OHLCBar, error) {
	var out []OHLCBar
	for _, b := range f.bars[instrument] {
		if b.Date.Before(dateOnly(from)) || b.Date.After(dateOnly(to)) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

type fakeSignalSource struct {
	byDate map[string][]Signal
}

func (f *fakeSignalSource) SignalsFor(_ context.Context, day time.Time) ([]Signal, error) {
	return f.byDate[day.Format(dateLayout)], nil
}

// regimeStub 让状态判定退回保守默认（bull_low_vol，缩放 1.0）。
type regimeStub struct{}

func (regimeStub) DailyCloses(context.Context, string) ([]regime.Bar, error) {
	return nil, fmt.Errorf("行情不可用")
}

func sessionConfig() config.Config {
	return config.Config{
		Predictor: config.PredictorConfig{
			MinMatches:       5,
			TopK:             50,
			MaxPerInstrument: 5,
			MaxPerSector:     15,
			PrimaryHorizon:   5,
			NeutralEdgePts:   3.0,
			AcceptedTiers:    []int{1, 2},
			EdgeWeight:       0.30,
			SampleWeight:     0.20,
			TierWeight:       0.25,
			PFWeight:         0.25,
			SampleAdequacy:   30,
		},
		Feedback: config.FeedbackConfig{
			HalfLifeDays:     60,
			BlendCap:         0.50,
			BlendShrink:      20,
			MinTripleTrades:  3,
			MinSegmentTrades: 2,
			MinTrendTrades:   3,
		},
		Sizing: config.SizingConfig{
			KellyFraction:          0.5,
			MaxPositionPct:         3.0,
			MinPositionPct:         0.5,
			SLFloorPct:             0.3,
			SLCapPct:               5.0,
			StructuralSLMultiplier: 2.0,
			StandardSLMultiplier:   1.5,
		},
		Risk: config.RiskConfig{
			InitialCapital:         1000000,
			MaxDailyLossPct:        2.0,
			MaxConsecutiveLosses:   5,
			MaxDrawdownPct:         10.0,
			MaxDailyTrades:         10,
			MaxMonthlyLossPct:      5.0,
			CooldownMinutes:        60,
			MaxConcurrentPositions: 10,
			MaxPositionsPerSector:  10,
		},
		Regime: config.RegimeConfig{
			IndexInstrument:     "nifty50",
			DMAPeriod:           200,
			VIXInstrument:       "indiavix",
			VIXHighThreshold:    20.0,
			VIXExtremeThreshold: 30.0,
		},
		Trading: config.TradingConfig{
			MinWinRate:        55.0,
			MinRRRatio:        1.5,
			ShadowSampleEvery: 5,
		},
	}
}

// mixedDataset 构造 9 胜 3 负的 double_bottom 历史：
// 模拟胜率 75%，方向多头，完整 Tier1 上下文。
func mixedDataset() *observation.Dataset {
	obs := make([]types.Observation, 0, 12)
	for i := 0; i < 12; i++ {
		ret, dir, mfe, mae := 2.0, types.DirectionBullish, 2.5, -0.5
		if i%4 == 3 {
			ret, dir, mfe, mae = -1.0, types.DirectionBearish, 0.5, -1.5
		}
		obs = append(obs, types.Observation{
			ID:         i,
			Patterns:   []string{"double_bottom"},
			Instrument: fmt.Sprintf("inst%d", i%3),
			Sector:     "it",
			Timeframe:  "daily",
			TrendShort: "bullish",
			VolZone:    "neutral",
			PricePos:   "above_vwap",
			Timestamp:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i),
			Close:      100,
			ATR:        1.5,
			Outcomes: map[int]types.HorizonOutcome{
				5: {ReturnPct: ret, Direction: dir, MFE: mfe, MAE: mae},
			},
		})
	}
	return &observation.Dataset{
		Observations: obs,
		BaseRates: map[types.Horizon]map[types.Direction]float64{
			types.HorizonSwing5: {
				types.DirectionBullish: 0.5,
				types.DirectionBearish: 0.4,
			},
		},
	}
}

func bullishSignal(instrument string) Signal {
	return Signal{
		Instrument: instrument,
		Timeframe:  "daily",
		Patterns:   []string{"double_bottom"},
		Close:      100,
		ATR:        1.5,
		TrendShort: "bullish",
		VolZone:    "neutral",
		PricePos:   "above_vwap",
	}
}

type sessionFixture struct {
	sess    *Session
	st      *memStore
	riskMgr *risk.Manager
	fb      *feedback.Engine
}

func newSessionFixture(t *testing.T, st *memStore, bars BarSource, signals SignalSource,
	now time.Time, mutate func(*config.Config)) *sessionFixture {
	t.Helper()
	ctx := context.Background()
	cfg := sessionConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	tables := func() domaincfg.Snapshot { return domaincfg.Snapshot{} }

	fb, err := feedback.NewEngine(ctx, cfg.Feedback, st)
	require.NoError(t, err)
	idx := observation.NewIndex(mixedDataset())
	pred := predictor.New(idx, cfg.Predictor, cfg.Sizing, tables, fb)
	riskMgr, err := risk.NewManager(ctx, cfg.Risk, st)
	require.NoError(t, err)
	sizer := sizing.NewSizer(cfg.Sizing, tables)
	detector := regime.NewDetector(cfg.Regime, regimeStub{}, tables)

	sess := NewSession(cfg, st, pred, fb, riskMgr, sizer, detector, bars, signals, tables)
	sess.nowFn = func() time.Time { return now }
	return &sessionFixture{sess: sess, st: st, riskMgr: riskMgr, fb: fb}
}

func TestRunScansAndOpensTrades(t *testing.T) {
	wed := day(2026, 2, 4)
	thu := day(2026, 2, 5)
	st := newMemStore()
	bars := &fakeBarSource{bars: map[string][]OHLCBar{
		"RELIANCE": {{Date: thu, Open: 101.5, High: 102, Low: 101, Close: 101.8}},
	}}
	signals := &fakeSignalSource{byDate: map[string][]Signal{
		"2026-02-04": {bullishSignal("RELIANCE")},
	}}
	fx := newSessionFixture(t, st, bars, signals, wed, nil)

	rep, err := fx.sess.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, rep.Scanned)
	assert.Equal(t, 0, rep.CatchupDays)
	assert.Equal(t, 4, rep.SignalsSeen)
	assert.Equal(t, 4, rep.TradesOpened)
	assert.Equal(t, 0, rep.Rejected)
	assert.Equal(t, 0, rep.TradesClosed)

	require.Len(t, st.trades, 4)
	var swing5 *types.Trade
	for i := range st.trades {
		tr := &st.trades[i]
		assert.Equal(t, types.TradeStatusOpen, tr.Status)
		assert.True(t, sameDay(thu, tr.EntryDate), "入场日应为次一交易日")
		assert.Equal(t, 101.5, tr.EntryPrice, "入场价取入场日开盘价")
		assert.Equal(t, types.DirectionBullish, tr.Direction)
		assert.NotEmpty(t, tr.TraceID)
		if tr.Horizon == types.HorizonSwing5 {
			swing5 = tr
		}
	}
	require.NotNil(t, swing5)
	assert.InDelta(t, 2.25, swing5.SLPct, 1e-9)
	assert.InDelta(t, 99.22, swing5.SLPrice, 1e-9)
	assert.InDelta(t, 106.07, swing5.TargetPrice, 1e-9)
	assert.InDelta(t, 3.0, swing5.PositionPct, 1e-9)
	assert.InDelta(t, 30000.0, swing5.PositionValue, 1e-6)

	// 水位 + 当日摘要已写入。
	assert.Contains(t, st.scans, "2026-02-04")
	assert.Contains(t, st.summaries, "2026-02-04")
	assert.Equal(t, 4, st.summaries["2026-02-04"].Opened)
}

func TestRunSameDayIsNoOp(t *testing.T) {
	wed := day(2026, 2, 4)
	st := newMemStore()
	bars := &fakeBarSource{bars: map[string][]OHLCBar{}}
	signals := &fakeSignalSource{byDate: map[string][]Signal{
		"2026-02-04": {bullishSignal("RELIANCE")},
	}}
	fx := newSessionFixture(t, st, bars, signals, wed, nil)

	ctx := context.Background()
	_, err := fx.sess.Run(ctx)
	require.NoError(t, err)
	opened := len(st.trades)
	require.Equal(t, 4, opened)

	rep, err := fx.sess.Run(ctx)
	require.NoError(t, err)
	assert.False(t, rep.Scanned)
	assert.Equal(t, 0, rep.TradesOpened)
	assert.Len(t, st.trades, opened, "重复扫描不产生新交易")
}

func TestRunSkipsScanOnWeekend(t *testing.T) {
	sat := day(2026, 2, 7)
	st := newMemStore()
	signals := &fakeSignalSource{byDate: map[string][]Signal{
		"2026-02-07": {bullishSignal("RELIANCE")},
	}}
	fx := newSessionFixture(t, st, &fakeBarSource{}, signals, sat, nil)

	rep, err := fx.sess.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, rep.Scanned)
	assert.Empty(t, st.trades)
	assert.NotContains(t, st.scans, "2026-02-07")
}

func TestScanEntryPriceFallsBackToSignalClose(t *testing.T) {
	wed := day(2026, 2, 4)
	st := newMemStore()
	// 入场日行情缺失。
	signals := &fakeSignalSource{byDate: map[string][]Signal{
		"2026-02-04": {bullishSignal("TCS")},
	}}
	fx := newSessionFixture(t, st, &fakeBarSource{}, signals, wed, nil)

	_, err := fx.sess.Run(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, st.trades)
	for _, tr := range st.trades {
		assert.Equal(t, 100.0, tr.EntryPrice)
	}
}

// openTestTrade 直接落一笔 OPEN 交易，绕过扫描管线。
func openTestTrade(t *testing.T, st *memStore, instrument string, dir types.Direction,
	entry time.Time, entryPrice, slPrice, targetPrice float64, shadow bool) int64 {
	t.Helper()
	tr := types.Trade{
		TraceID:     uuid.NewString(),
		Instrument:  instrument,
		Sector:      "it",
		Direction:   dir,
		Horizon:     types.HorizonSwing5,
		Patterns:    []string{"double_bottom"},
		EntryPrice:  entryPrice,
		SLPrice:     slPrice,
		TargetPrice: targetPrice,
		TrendShort:  "bullish",
		EntryDate:   entry,
		ExpiryDate:  AddTradingDays(entry, 5),
		Status:      types.TradeStatusOpen,
		PositionPct: 10,
		Shadow:      shadow,
	}
	if !shadow {
		tr.PositionValue = 100000
	}
	created, err := st.InsertTrade(context.Background(), &tr)
	require.NoError(t, err)
	require.True(t, created)
	return tr.ID
}

func tradeByID(t *testing.T, st *memStore, id int64) types.Trade {
	t.Helper()
	for _, tr := range st.trades {
		if tr.ID == id {
			return tr
		}
	}
	t.Fatalf("trade %d 不存在", id)
	return types.Trade{}
}

func TestMonitorSLBeforeTargetSameBar(t *testing.T) {
	mon := day(2026, 2, 2)
	tue := day(2026, 2, 3)
	st := newMemStore()
	id := openTestTrade(t, st, "HDFCBANK", types.DirectionBullish, mon, 100, 98, 104, false)
	bars := &fakeBarSource{bars: map[string][]OHLCBar{
		// 同一根内双触发，按保守假设先到止损。
		"HDFCBANK": {{Date: tue, Open: 100, High: 104.5, Low: 97.5, Close: 103}},
	}}
	fx := newSessionFixture(t, st, bars, &fakeSignalSource{}, tue, nil)

	closed, shadowClosed, err := fx.sess.monitorDay(context.Background(), tue)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)
	assert.Equal(t, 0, shadowClosed)

	tr := tradeByID(t, st, id)
	assert.Equal(t, types.TradeStatusClosedSL, tr.Status)
	assert.Equal(t, ExitReasonSL, tr.ExitReason)
	assert.Equal(t, 98.0, tr.ExitPrice)
	assert.InDelta(t, -2.0, tr.ActualReturn, 1e-9)
	assert.True(t, tr.SLWouldHit)

	// 真实平仓同事务更新资金：100000 × -2% = -2000。
	assert.True(t, fx.riskMgr.Capital().Equal(decimal.NewFromInt(998000)),
		"capital = %s", fx.riskMgr.Capital())
	require.NotNil(t, st.riskSt)
	assert.True(t, st.riskSt.Capital.Equal(decimal.NewFromInt(998000)))
}

func TestMonitorTargetHit(t *testing.T) {
	mon := day(2026, 2, 2)
	tue := day(2026, 2, 3)
	st := newMemStore()
	id := openTestTrade(t, st, "HDFCBANK", types.DirectionBullish, mon, 100, 98, 104, false)
	bars := &fakeBarSource{bars: map[string][]OHLCBar{
		"HDFCBANK": {{Date: tue, Open: 100, High: 104.2, Low: 99, Close: 103.5}},
	}}
	fx := newSessionFixture(t, st, bars, &fakeSignalSource{}, tue, nil)

	closed, _, err := fx.sess.monitorDay(context.Background(), tue)
	require.NoError(t, err)
	require.Equal(t, 1, closed)

	tr := tradeByID(t, st, id)
	assert.Equal(t, types.TradeStatusClosedTarget, tr.Status)
	assert.Equal(t, ExitReasonTarget, tr.ExitReason)
	assert.InDelta(t, 4.0, tr.ActualReturn, 1e-9)
	assert.False(t, tr.SLWouldHit)
	assert.True(t, fx.riskMgr.Capital().Equal(decimal.NewFromInt(1004000)))
}

func TestMonitorBearishSLPriority(t *testing.T) {
	mon := day(2026, 2, 2)
	tue := day(2026, 2, 3)
	st := newMemStore()
	id := openTestTrade(t, st, "SBIN", types.DirectionBearish, mon, 100, 102, 96, false)
	bars := &fakeBarSource{bars: map[string][]OHLCBar{
		"SBIN": {{Date: tue, Open: 100, High: 102.5, Low: 95, Close: 99}},
	}}
	fx := newSessionFixture(t, st, bars, &fakeSignalSource{}, tue, nil)

	_, _, err := fx.sess.monitorDay(context.Background(), tue)
	require.NoError(t, err)

	tr := tradeByID(t, st, id)
	assert.Equal(t, types.TradeStatusClosedSL, tr.Status)
	assert.InDelta(t, -2.0, tr.ActualReturn, 1e-9)
}

func TestMonitorExpiryClosesAtLastClose(t *testing.T) {
	mon := day(2026, 2, 2)
	st := newMemStore()
	id := openTestTrade(t, st, "ITC", types.DirectionBullish, mon, 100, 98, 104, false)
	expiry := AddTradingDays(mon, 5) // 2026-02-09

	var seq []OHLCBar
	for _, d := range TradingDaysBetween(day(2026, 2, 3), expiry) {
		seq = append(seq, OHLCBar{Date: d, Open: 100.5, High: 103, Low: 99, Close: 101.3})
	}
	bars := &fakeBarSource{bars: map[string][]OHLCBar{"ITC": seq}}
	fx := newSessionFixture(t, st, bars, &fakeSignalSource{}, expiry, nil)

	ctx := context.Background()

	// 到期前一日不平仓。
	closed, _, err := fx.sess.monitorDay(ctx, day(2026, 2, 6))
	require.NoError(t, err)
	assert.Equal(t, 0, closed)

	closed, _, err = fx.sess.monitorDay(ctx, expiry)
	require.NoError(t, err)
	require.Equal(t, 1, closed)

	tr := tradeByID(t, st, id)
	assert.Equal(t, types.TradeStatusClosedExpiry, tr.Status)
	assert.Equal(t, ExitReasonExpired, tr.ExitReason)
	assert.Equal(t, 101.3, tr.ExitPrice)
	assert.InDelta(t, 1.3, tr.ActualReturn, 1e-9)
	assert.True(t, sameDay(expiry, tr.ExitDate))

	// 重复监控幂等。
	closed, _, err = fx.sess.monitorDay(ctx, expiry)
	require.NoError(t, err)
	assert.Equal(t, 0, closed)
}

func TestMonitorShadowSkipsRiskAccounting(t *testing.T) {
	mon := day(2026, 2, 2)
	tue := day(2026, 2, 3)
	st := newMemStore()
	id := openTestTrade(t, st, "INFY", types.DirectionBullish, mon, 100, 98, 104, true)
	bars := &fakeBarSource{bars: map[string][]OHLCBar{
		"INFY": {{Date: tue, Open: 100, High: 105, Low: 99, Close: 104.8}},
	}}
	fx := newSessionFixture(t, st, bars, &fakeSignalSource{}, tue, nil)

	closed, shadowClosed, err := fx.sess.monitorDay(context.Background(), tue)
	require.NoError(t, err)
	assert.Equal(t, 0, closed)
	assert.Equal(t, 1, shadowClosed)

	tr := tradeByID(t, st, id)
	assert.Equal(t, types.TradeStatusClosedTarget, tr.Status)
	// 影子交易不动资金。
	assert.True(t, fx.riskMgr.Capital().Equal(decimal.NewFromInt(1000000)))
}

func TestRunCatchUpMonitorsMissedDays(t *testing.T) {
	mon := day(2026, 2, 2)
	tue := day(2026, 2, 3)
	thu := day(2026, 2, 5)
	st := newMemStore()
	st.scans["2026-02-02"] = store.ScanRecord{Date: "2026-02-02"}
	st.lastScan = "2026-02-02"
	id := openTestTrade(t, st, "HDFCBANK", types.DirectionBullish, mon, 100, 98, 104, false)
	bars := &fakeBarSource{bars: map[string][]OHLCBar{
		"HDFCBANK": {{Date: tue, Open: 101, High: 104.4, Low: 100, Close: 104}},
	}}
	fx := newSessionFixture(t, st, bars, &fakeSignalSource{}, thu, nil)

	rep, err := fx.sess.Run(context.Background())
	require.NoError(t, err)

	// 漏掉周二、周三两个交易日；回溯平仓发生在周二。
	assert.Equal(t, 2, rep.CatchupDays)
	assert.True(t, rep.Scanned)
	tr := tradeByID(t, st, id)
	assert.Equal(t, types.TradeStatusClosedTarget, tr.Status)
	assert.True(t, sameDay(tue, tr.ExitDate))
	assert.Contains(t, st.scans, "2026-02-05")

	// 补扫平仓不在今日，结果不回流今日反馈。
	assert.Empty(t, st.outcomes)
}

func TestRunEmitsOutcomesAndSummary(t *testing.T) {
	wed := day(2026, 2, 4)
	thu := day(2026, 2, 5)
	st := newMemStore()
	st.scans["2026-02-04"] = store.ScanRecord{Date: "2026-02-04"}
	st.lastScan = "2026-02-04"
	id := openTestTrade(t, st, "HDFCBANK", types.DirectionBullish, wed, 100, 98, 104, false)
	// 测试里 PositionValue 固定 100000，目标价命中 → +4000。
	bars := &fakeBarSource{bars: map[string][]OHLCBar{
		"HDFCBANK": {{Date: thu, Open: 100.5, High: 104.6, Low: 100, Close: 104.2}},
	}}
	fx := newSessionFixture(t, st, bars, &fakeSignalSource{}, thu, nil)

	rep, err := fx.sess.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.TradesClosed)

	require.Len(t, st.outcomes, 1)
	tr := tradeByID(t, st, id)
	out, ok := st.outcomes[tr.TraceID]
	require.True(t, ok)
	assert.Equal(t, "Swing_5d", out.HorizonLabel)
	assert.True(t, out.Win)
	assert.Equal(t, ExitReasonTarget, out.ExitReason)

	sum, ok := st.summaries["2026-02-05"]
	require.True(t, ok)
	assert.Equal(t, 1, sum.Closed)
	assert.Equal(t, 1, sum.Wins)
	assert.Equal(t, 0, sum.Losses)
	assert.True(t, sum.PnL.Equal(decimal.NewFromInt(4000)), "pnl = %s", sum.PnL)
	assert.Equal(t, "HDFCBANK", sum.BestInstrument)
}

func TestScanShadowSampling(t *testing.T) {
	wed := day(2026, 2, 4)
	st := newMemStore()
	signals := &fakeSignalSource{byDate: map[string][]Signal{
		"2026-02-04": {bullishSignal("RELIANCE")},
	}}
	fx := newSessionFixture(t, st, &fakeBarSource{}, signals, wed, func(cfg *config.Config) {
		// 胜率 75% 的预测全部被门槛挡下，逐一转为影子跟踪。
		cfg.Trading.MinWinRate = 90
		cfg.Trading.ShadowSampleEvery = 1
	})

	rep, err := fx.sess.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, rep.TradesOpened)
	assert.Equal(t, 4, rep.Rejected)
	assert.Equal(t, 4, rep.ShadowOpened)
	require.Len(t, st.trades, 4)
	for _, tr := range st.trades {
		assert.True(t, tr.Shadow)
		assert.Zero(t, tr.PositionPct)
		assert.Zero(t, tr.PositionValue)
	}
}

func TestPreviewIsReadOnly(t *testing.T) {
	wed := day(2026, 2, 4)
	st := newMemStore()
	signals := &fakeSignalSource{byDate: map[string][]Signal{
		"2026-02-04": {bullishSignal("RELIANCE")},
	}}
	fx := newSessionFixture(t, st, &fakeBarSource{}, signals, wed, nil)

	out, err := fx.sess.Preview(context.Background(), wed)
	require.NoError(t, err)
	require.Len(t, out, 4)
	for _, p := range out {
		assert.True(t, p.WouldEnter, "win rate 75%% 应通过默认门槛: %v", p.SkipReasons)
		assert.InDelta(t, 75.0, p.WinRate, 1e-9)
		assert.Equal(t, string(types.DirectionBullish), p.Direction)
	}
	assert.Empty(t, st.trades)
	assert.Empty(t, st.scans)
}
