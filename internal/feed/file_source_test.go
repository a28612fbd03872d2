package feed

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDailyBarsFilterAndOrder(t *testing.T) {
	dir := t.TempDir()
	// 故意乱序，读取后应按日期升序。
	writeFile(t, filepath.Join(dir, "hdfcbank.json"), `[
		{"date": "2026-02-05", "open": 101.5, "high": 103.0, "low": 100.5, "close": 102.2},
		{"date": "2026-02-03", "open": 100.0, "high": 101.0, "low": 99.0, "close": 100.5},
		{"date": "2026-02-04", "open": 100.5, "high": 102.0, "low": 100.0, "close": 101.4},
		{"date": "2026-02-06", "open": 102.0, "high": 104.0, "low": 101.5, "close": 103.8}
	]`)
	src := NewFileBarSource(dir)
	ctx := context.Background()

	bars, err := src.DailyBars(ctx, "HDFCBANK",
		time.Date(2026, 2, 4, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 2, 5, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, "2026-02-04", bars[0].Date.Format("2006-01-02"))
	assert.Equal(t, "2026-02-05", bars[1].Date.Format("2006-01-02"))
	assert.Equal(t, 101.5, bars[1].Open)

	// 区间外为空而非错误。
	bars, err = src.DailyBars(ctx, "hdfcbank",
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, bars)
}

func TestDailyBarsMissingFileIsError(t *testing.T) {
	src := NewFileBarSource(t.TempDir())
	_, err := src.DailyBars(context.Background(), "TCS",
		time.Date(2026, 2, 4, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 2, 5, 0, 0, 0, 0, time.UTC))
	assert.Error(t, err)
}

func TestDailyBarsRejectsBadRecords(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "bad1.json"), `[{"date": "2026-02-04", "open": 100, "high": 101, "low": 99, "close": 0}]`)
	writeFile(t, filepath.Join(dir, "bad2.json"), `[{"date": "04-02-2026", "open": 100, "high": 101, "low": 99, "close": 100}]`)
	writeFile(t, filepath.Join(dir, "bad3.json"), `{"date": "2026-02-04"}`)

	src := NewFileBarSource(dir)
	ctx := context.Background()
	from := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)

	_, err := src.DailyBars(ctx, "bad1", from, to)
	assert.Error(t, err, "close=0 非法")
	_, err = src.DailyBars(ctx, "bad2", from, to)
	assert.Error(t, err, "日期格式非法")
	_, err = src.DailyBars(ctx, "bad3", from, to)
	assert.Error(t, err, "顶层必须是数组")
}

func TestDailyBarsCacheInvalidatesOnModTime(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "itc.json")
	writeFile(t, path, `[{"date": "2026-02-04", "open": 100, "high": 101, "low": 99, "close": 100.5}]`)

	src := NewFileBarSource(dir)
	ctx := context.Background()
	from := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)

	bars, err := src.DailyBars(ctx, "ITC", from, to)
	require.NoError(t, err)
	require.Len(t, bars, 1)

	// 重写文件并回拨 mtime 保证与缓存不同。
	writeFile(t, path, `[
		{"date": "2026-02-04", "open": 100, "high": 101, "low": 99, "close": 100.5},
		{"date": "2026-02-05", "open": 100.5, "high": 102, "low": 100, "close": 101.8}
	]`)
	stale := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, stale, stale))

	bars, err = src.DailyBars(ctx, "ITC", from, to)
	require.NoError(t, err)
	assert.Len(t, bars, 2)
}

func TestSignalsForFiltersByDate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signals.json")
	writeFile(t, path, `[
		{"date": "2026-02-04", "ticker": "hdfcbank", "timeframe": "daily",
		 "patterns": ["double_bottom", " hammer "], "close": 1520.5, "atr": 22.4,
		 "trend_short": "bullish", "vol_zone": "neutral", "price_position": "above_vwap"},
		{"date": "2026-02-05", "ticker": "TCS", "patterns": ["doji"], "close": 3400},
		{"date": "2026-02-04", "ticker": "", "patterns": ["doji"], "close": 100},
		{"date": "2026-02-04", "ticker": "SBIN", "patterns": [], "close": 100},
		{"date": "2026-02-04", "ticker": "INFY", "patterns": ["hammer"], "close": 0}
	]`)
	src := NewFileSignalSource(path)

	sigs, err := src.SignalsFor(context.Background(), time.Date(2026, 2, 4, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	// 缺 ticker、空 patterns、close<=0 的记录全部跳过。
	require.Len(t, sigs, 1)

	sig := sigs[0]
	assert.Equal(t, "HDFCBANK", sig.Instrument, "ticker 统一大写")
	assert.Equal(t, "daily", sig.Timeframe)
	assert.Equal(t, []string{"double_bottom", "hammer"}, sig.Patterns)
	assert.Equal(t, 1520.5, sig.Close)
	assert.Equal(t, 22.4, sig.ATR)
	assert.Equal(t, "bullish", sig.TrendShort)
	assert.Equal(t, "neutral", sig.VolZone)
	assert.Equal(t, "above_vwap", sig.PricePos)
}

func TestSignalsForMissingFileMeansNoSignals(t *testing.T) {
	src := NewFileSignalSource(filepath.Join(t.TempDir(), "absent.json"))
	sigs, err := src.SignalsFor(context.Background(), time.Date(2026, 2, 4, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Nil(t, sigs)
}

func TestSignalsForRejectsNonArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signals.json")
	writeFile(t, path, `{"date": "2026-02-04"}`)
	src := NewFileSignalSource(path)
	_, err := src.SignalsFor(context.Background(), time.Date(2026, 2, 4, 0, 0, 0, 0, time.UTC))
	assert.Error(t, err)
}
