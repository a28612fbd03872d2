package observation

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"traqo/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFeed(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "observations.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func feedRecord(ticker, pattern, ts string, ret float64, dir string) string {
	return fmt.Sprintf(`{
		"pattern": "%s", "ticker": "%s", "sector": "it", "timeframe": "daily",
		"trend_short": "bullish", "vol_zone": "neutral", "price_position": "above_vwap",
		"market_regime": "bull_low_vol|phase2", "timestamp": "%s",
		"close": 100.0, "atr": 1.5,
		"fwd_5_return": %.2f, "fwd_5_direction": "%s", "fwd_5_mfe": 2.0, "fwd_5_mae": -1.0
	}`, pattern, ticker, ts, ret, dir)
}

func TestLoaderLoad(t *testing.T) {
	loader, err := NewLoader(true, types.HorizonSwing5)
	require.NoError(t, err)

	path := writeFeed(t, "["+
		feedRecord("TCS", "Double Bottom", "2026-01-05", 1.2, "bullish")+","+
		feedRecord("INFY", "doji", "2026-01-02", -0.8, "bearish")+
		"]")

	ds, err := loader.Load(path)
	require.NoError(t, err)
	require.Len(t, ds.Observations, 2)

	// 归一化：标的与形态小写，时间升序重排 ID
	assert.Equal(t, "infy", ds.Observations[0].Instrument)
	assert.Equal(t, "tcs", ds.Observations[1].Instrument)
	assert.Equal(t, []string{"double bottom"}, ds.Observations[1].Patterns)
	assert.Equal(t, 0, ds.Observations[0].ID)
	assert.Equal(t, 1, ds.Observations[1].ID)

	// 基准率：5 日周期 1 bullish + 1 bearish
	assert.InDelta(t, 0.5, ds.BaseRates[types.HorizonSwing5][types.DirectionBullish], 1e-9)
	assert.InDelta(t, 0.5, ds.BaseRates[types.HorizonSwing5][types.DirectionBearish], 1e-9)
}

func TestLoaderStrictRejectsBadRecord(t *testing.T) {
	loader, err := NewLoader(true, types.HorizonSwing5)
	require.NoError(t, err)

	// close <= 0 违反 schema
	bad := `[{"pattern": "doji", "ticker": "tcs", "timeframe": "daily",
		"timestamp": "2026-01-05", "close": 0,
		"fwd_5_return": 1.0, "fwd_5_direction": "bullish"}]`
	_, err = loader.Load(writeFeed(t, bad))
	assert.Error(t, err)
}

func TestLoaderLenientSkipsBadRecord(t *testing.T) {
	loader, err := NewLoader(false, types.HorizonSwing5)
	require.NoError(t, err)

	path := writeFeed(t, "["+
		feedRecord("tcs", "doji", "2026-01-05", 1.0, "bullish")+","+
		`{"pattern": "", "ticker": "x", "timeframe": "daily", "timestamp": "2026-01-05", "close": 10}`+
		"]")
	ds, err := loader.Load(path)
	require.NoError(t, err)
	assert.Len(t, ds.Observations, 1)
}

func TestLoaderDropsRecordsWithoutPrimaryOutcome(t *testing.T) {
	loader, err := NewLoader(true, types.HorizonSwing5)
	require.NoError(t, err)

	// 缺 fwd_5_* 的记录不参与统计
	noOutcome := `{"pattern": "doji", "ticker": "tcs", "timeframe": "daily",
		"timestamp": "2026-01-05", "close": 100.0,
		"fwd_1_return": 0.5, "fwd_1_direction": "bullish"}`
	path := writeFeed(t, "["+
		feedRecord("infy", "doji", "2026-01-02", 1.0, "bullish")+","+noOutcome+
		"]")
	ds, err := loader.Load(path)
	require.NoError(t, err)
	assert.Len(t, ds.Observations, 1)
	assert.Equal(t, "infy", ds.Observations[0].Instrument)
}

func TestLoaderEmptyFeedIsError(t *testing.T) {
	loader, err := NewLoader(true, types.HorizonSwing5)
	require.NoError(t, err)
	_, err = loader.Load(writeFeed(t, "[]"))
	assert.Error(t, err)
}

func TestRegimeBroad(t *testing.T) {
	o := types.Observation{Regime: "bull_low_vol|phase2|expansion"}
	assert.Equal(t, "bull_low_vol", o.RegimeBroad())
	o.Regime = "bear_high_vol"
	assert.Equal(t, "bear_high_vol", o.RegimeBroad())
}
