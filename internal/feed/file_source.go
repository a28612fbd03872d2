package feed

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"traqo/internal/logger"
	"traqo/internal/trader"

	"github.com/tidwall/gjson"
)

const dateLayout = "2006-01-02"

// FileBarSource 从目录中按标的读取日线 JSON（<instrument>.json，数组，
// 元素含 date/open/high/low/close）。文件由外部行情管线落盘，本层只读。
type FileBarSource struct {
	dir string

	mu    sync.Mutex
	cache map[string]barCacheEntry
}

type barCacheEntry struct {
	modTime time.Time
	bars    []trader.OHLCBar
}

func NewFileBarSource(dir string) *FileBarSource {
	return &FileBarSource{dir: dir, cache: make(map[string]barCacheEntry)}
}

var _ trader.BarSource = (*FileBarSource)(nil)

// DailyBars 返回 [from, to] 区间内的日线，升序。
// 文件缺失视为行情尚未落盘，返回错误交给调用方降级处理。
func (s *FileBarSource) DailyBars(ctx context.Context, instrument string, from, to time.Time) ([]trader.OHLCBar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	all, err := s.load(instrument)
	if err != nil {
		return nil, err
	}
	out := make([]trader.OHLCBar, 0, len(all))
	for _, b := range all {
		if b.Date.Before(from) || b.Date.After(to) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// load 带 mtime 缓存：文件未变时直接复用上次解析结果。
func (s *FileBarSource) load(instrument string) ([]trader.OHLCBar, error) {
	name := strings.ToLower(strings.TrimSpace(instrument))
	if name == "" {
		return nil, fmt.Errorf("instrument 为空")
	}
	path := filepath.Join(s.dir, name+".json")

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("日线文件不可用 %s: %w", path, err)
	}

	s.mu.Lock()
	entry, ok := s.cache[name]
	s.mu.Unlock()
	if ok && entry.modTime.Equal(info.ModTime()) {
		return entry.bars, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取日线文件失败 %s: %w", path, err)
	}
	parsed := gjson.ParseBytes(raw)
	if !parsed.IsArray() {
		return nil, fmt.Errorf("日线文件必须是 JSON 数组: %s", path)
	}

	var bars []trader.OHLCBar
	for i, rec := range parsed.Array() {
		day, err := time.ParseInLocation(dateLayout, rec.Get("date").String(), time.UTC)
		if err != nil {
			return nil, fmt.Errorf("日线记录 %d 日期非法 (%s): %w", i, path, err)
		}
		bar := trader.OHLCBar{
			Date:  day,
			Open:  rec.Get("open").Float(),
			High:  rec.Get("high").Float(),
			Low:   rec.Get("low").Float(),
			Close: rec.Get("close").Float(),
		}
		if bar.Close <= 0 || bar.High < bar.Low {
			return nil, fmt.Errorf("日线记录 %d 数值非法 (%s)", i, path)
		}
		bars = append(bars, bar)
	}
	sort.SliceStable(bars, func(a, b int) bool { return bars[a].Date.Before(bars[b].Date) })

	s.mu.Lock()
	s.cache[name] = barCacheEntry{modTime: info.ModTime(), bars: bars}
	s.mu.Unlock()
	return bars, nil
}

// FileSignalSource 从单个 JSON 文件读取形态信号（数组，元素含
// date/ticker/timeframe/patterns/close/atr 及可选上下文字段）。
type FileSignalSource struct {
	path string
}

func NewFileSignalSource(path string) *FileSignalSource {
	return &FileSignalSource{path: path}
}

var _ trader.SignalSource = (*FileSignalSource)(nil)

// SignalsFor 返回指定交易日的全部信号。文件缺失按无信号处理：
// 扫描器当天可能还没跑完，不应让整个会话失败。
func (s *FileSignalSource) SignalsFor(ctx context.Context, day time.Time) ([]trader.Signal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warnf("信号文件不存在，按空信号处理: %s", s.path)
			return nil, nil
		}
		return nil, fmt.Errorf("读取信号文件失败 %s: %w", s.path, err)
	}
	parsed := gjson.ParseBytes(raw)
	if !parsed.IsArray() {
		return nil, fmt.Errorf("信号文件必须是 JSON 数组: %s", s.path)
	}

	want := day.Format(dateLayout)
	var out []trader.Signal
	for i, rec := range parsed.Array() {
		if rec.Get("date").String() != want {
			continue
		}
		sig := trader.Signal{
			Instrument: strings.ToUpper(strings.TrimSpace(rec.Get("ticker").String())),
			Timeframe:  rec.Get("timeframe").String(),
			Close:      rec.Get("close").Float(),
			ATR:        rec.Get("atr").Float(),
			TrendShort: rec.Get("trend_short").String(),
			VolZone:    rec.Get("vol_zone").String(),
			PricePos:   rec.Get("price_position").String(),
		}
		for _, p := range rec.Get("patterns").Array() {
			if v := strings.TrimSpace(p.String()); v != "" {
				sig.Patterns = append(sig.Patterns, v)
			}
		}
		if sig.Instrument == "" || len(sig.Patterns) == 0 || sig.Close <= 0 {
			logger.Warnf("信号记录 %d 缺少必填字段，跳过", i)
			continue
		}
		out = append(out, sig)
	}
	return out, nil
}
