package regime

import (
	"context"
	"time"

	"traqo/internal/config"
	"traqo/internal/domaincfg"
	"traqo/internal/logger"
	"traqo/internal/types"

	"github.com/markcheno/go-talib"
)

// Bar 是一根日线（仅用到收盘价）。
type Bar struct {
	Date  time.Time
	Close float64
}

// BarSource 提供指数与波动率指数的日线序列。
// 行情获取由外部协作方实现，这里只定义端口。
type BarSource interface {
	DailyCloses(ctx context.Context, instrument string) ([]Bar, error)
}

// Status 是一次市场状态判定的结果。
type Status struct {
	Label      string  // bull_low_vol / bull_high_vol / bear_low_vol / bear_high_vol / extreme
	Scale      float64 // 仓位缩放系数，extreme 为 0
	Trend      string  // bull / bear
	VIXLevel   string  // low_vol / high_vol / extreme
	IndexClose float64
	DMA        float64
	VIXValue   float64
	AsOf       time.Time
}

// Detector 用指数 200 日均线 + 波动率指数双因子判定市场状态。
type Detector struct {
	cfg    config.RegimeConfig
	bars   BarSource
	tables func() domaincfg.Snapshot
}

// NewDetector 构建状态判定器。
func NewDetector(cfg config.RegimeConfig, bars BarSource, tables func() domaincfg.Snapshot) *Detector {
	return &Detector{cfg: cfg, bars: bars, tables: tables}
}

// Detect 判定 asOf 时点（含当日）的市场状态。
// 数据缺失时退回保守默认并告警，不阻断决策链路。
func (d *Detector) Detect(ctx context.Context, asOf time.Time) (Status, error) {
	st := Status{
		Label:    "bull_low_vol",
		Scale:    1.0,
		Trend:    "bull",
		VIXLevel: "low_vol",
		AsOf:     asOf,
	}

	closes, err := d.closesUpTo(ctx, d.cfg.IndexInstrument, asOf)
	if err != nil {
		logger.Warnf("指数行情获取失败，趋势默认 bull: %v", err)
	} else if len(closes) >= d.cfg.DMAPeriod {
		sma := talib.Sma(closes, d.cfg.DMAPeriod)
		st.IndexClose = closes[len(closes)-1]
		st.DMA = sma[len(sma)-1]
		if st.IndexClose > st.DMA {
			st.Trend = "bull"
		} else {
			st.Trend = "bear"
		}
	} else {
		logger.Warnf("指数样本不足 %d 根，趋势默认 bull", d.cfg.DMAPeriod)
	}

	vix, err := d.closesUpTo(ctx, d.cfg.VIXInstrument, asOf)
	if err != nil {
		logger.Warnf("波动率指数获取失败，默认 low_vol: %v", err)
	} else if len(vix) > 0 {
		st.VIXValue = vix[len(vix)-1]
		switch {
		case st.VIXValue >= d.cfg.VIXExtremeThreshold:
			st.VIXLevel = "extreme"
		case st.VIXValue >= d.cfg.VIXHighThreshold:
			st.VIXLevel = "high_vol"
		default:
			st.VIXLevel = "low_vol"
		}
	}

	switch {
	case st.VIXLevel == "extreme":
		st.Label = "extreme"
	case st.Trend == "bull" && st.VIXLevel == "low_vol":
		st.Label = "bull_low_vol"
	case st.Trend == "bull":
		st.Label = "bull_high_vol"
	case st.VIXLevel == "low_vol":
		st.Label = "bear_low_vol"
	default:
		st.Label = "bear_high_vol"
	}
	st.Scale = d.tables().RegimeScale(st.Label, types.PrimaryHorizon)
	return st, nil
}

// HorizonScale 返回指定周期下的状态缩放系数。
// 长周期对逆风状态更敏感，覆盖表在领域配置中维护。
func (d *Detector) HorizonScale(ctx context.Context, horizon types.Horizon, asOf time.Time) float64 {
	st, _ := d.Detect(ctx, asOf)
	return d.tables().RegimeScale(st.Label, horizon)
}

func (d *Detector) closesUpTo(ctx context.Context, instrument string, asOf time.Time) ([]float64, error) {
	bars, err := d.bars.DailyCloses(ctx, instrument)
	if err != nil {
		return nil, err
	}
	cutoff := asOf
	out := make([]float64, 0, len(bars))
	for _, b := range bars {
		if !cutoff.IsZero() && b.Date.After(cutoff) {
			continue
		}
		out = append(out, b.Close)
	}
	return out, nil
}
