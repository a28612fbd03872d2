package regime

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traqo/internal/config"
	"traqo/internal/domaincfg"
	"traqo/internal/types"
)

type stubBars struct {
	series map[string][]Bar
	err    error
}

func (s *stubBars) DailyCloses(_ context.Context, instrument string) ([]Bar, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.series[instrument], nil
}

func closes(start time.Time, values ...float64) []Bar {
	bars := make([]Bar, 0, len(values))
	for i, v := range values {
		bars = append(bars, Bar{Date: start.AddDate(0, 0, i), Close: v})
	}
	return bars
}

func testRegimeConfig() config.RegimeConfig {
	return config.RegimeConfig{
		IndexInstrument:     "nifty50",
		DMAPeriod:           5,
		VIXInstrument:       "indiavix",
		VIXHighThreshold:    20.0,
		VIXExtremeThreshold: 30.0,
	}
}

func scaleTables() func() domaincfg.Snapshot {
	return func() domaincfg.Snapshot {
		return domaincfg.Snapshot{Tables: domaincfg.Tables{
			RegimeScales: map[string]float64{
				"bull_low_vol":  1.0,
				"bull_high_vol": 0.7,
				"bear_low_vol":  0.5,
				"bear_high_vol": 0.3,
				"extreme":       0.0,
			},
			RegimeHorizonScales: map[string]map[string]float64{
				"bear_high_vol": {"Swing_10d": 0.2},
			},
		}}
	}
}

func TestDetectBullLowVol(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := &stubBars{series: map[string][]Bar{
		"nifty50":  closes(start, 100, 101, 102, 103, 104, 105, 106, 107, 108, 109, 110),
		"indiavix": closes(start, 15, 14.5, 14),
	}}
	d := NewDetector(testRegimeConfig(), bars, scaleTables())

	st, err := d.Detect(context.Background(), start.AddDate(0, 0, 30))
	require.NoError(t, err)
	assert.Equal(t, "bull_low_vol", st.Label)
	assert.Equal(t, "bull", st.Trend)
	assert.Equal(t, "low_vol", st.VIXLevel)
	assert.InDelta(t, 1.0, st.Scale, 1e-9)
	assert.Equal(t, 110.0, st.IndexClose)
	assert.InDelta(t, 108.0, st.DMA, 1e-9)
	assert.Equal(t, 14.0, st.VIXValue)
}

func TestDetectBearHighVol(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := &stubBars{series: map[string][]Bar{
		"nifty50":  closes(start, 110, 109, 108, 107, 106, 105, 104, 103, 102, 101, 100),
		"indiavix": closes(start, 18, 21, 22),
	}}
	d := NewDetector(testRegimeConfig(), bars, scaleTables())

	st, err := d.Detect(context.Background(), start.AddDate(0, 0, 30))
	require.NoError(t, err)
	assert.Equal(t, "bear_high_vol", st.Label)
	assert.Equal(t, "bear", st.Trend)
	assert.Equal(t, "high_vol", st.VIXLevel)
	assert.InDelta(t, 0.3, st.Scale, 1e-9)
}

func TestDetectExtremeOverridesTrend(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := &stubBars{series: map[string][]Bar{
		"nifty50":  closes(start, 100, 101, 102, 103, 104, 105, 106),
		"indiavix": closes(start, 28, 31, 35),
	}}
	d := NewDetector(testRegimeConfig(), bars, scaleTables())

	st, err := d.Detect(context.Background(), start.AddDate(0, 0, 30))
	require.NoError(t, err)
	assert.Equal(t, "extreme", st.Label)
	assert.Equal(t, "extreme", st.VIXLevel)
	assert.Zero(t, st.Scale, "极端波动禁止开仓")
}

func TestDetectCutoffIgnoresFutureBars(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// asOf 之后的 VIX 冲高不应影响判定。
	bars := &stubBars{series: map[string][]Bar{
		"nifty50":  closes(start, 100, 101, 102, 103, 104, 105, 106),
		"indiavix": closes(start, 15, 14, 35, 36),
	}}
	d := NewDetector(testRegimeConfig(), bars, scaleTables())

	st, err := d.Detect(context.Background(), start.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, "low_vol", st.VIXLevel)
	assert.Equal(t, 14.0, st.VIXValue)
}

func TestDetectDefaultsOnMissingData(t *testing.T) {
	d := NewDetector(testRegimeConfig(), &stubBars{err: fmt.Errorf("行情不可用")}, scaleTables())

	st, err := d.Detect(context.Background(), time.Date(2026, 2, 4, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err, "数据缺失降级为保守默认而非失败")
	assert.Equal(t, "bull_low_vol", st.Label)
	assert.InDelta(t, 1.0, st.Scale, 1e-9)

	// 指数样本不足同样默认 bull。
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	short := &stubBars{series: map[string][]Bar{
		"nifty50":  closes(start, 100, 99),
		"indiavix": closes(start, 15),
	}}
	st, err = NewDetector(testRegimeConfig(), short, scaleTables()).
		Detect(context.Background(), start.AddDate(0, 0, 30))
	require.NoError(t, err)
	assert.Equal(t, "bull", st.Trend)
}

func TestHorizonScaleUsesOverrideTable(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := &stubBars{series: map[string][]Bar{
		"nifty50":  closes(start, 110, 109, 108, 107, 106, 105, 104),
		"indiavix": closes(start, 22, 23, 24),
	}}
	d := NewDetector(testRegimeConfig(), bars, scaleTables())
	ctx := context.Background()
	asOf := start.AddDate(0, 0, 30)

	// bear_high_vol 对 10 日周期有专项覆盖，其余回落到全局表。
	assert.InDelta(t, 0.2, d.HorizonScale(ctx, types.HorizonSwing10, asOf), 1e-9)
	assert.InDelta(t, 0.3, d.HorizonScale(ctx, types.HorizonSwing5, asOf), 1e-9)
}
