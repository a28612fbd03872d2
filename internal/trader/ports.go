package trader

import (
	"context"
	"time"
)

// OHLCBar 是一根日线。行情获取不在本仓库范围内，统一走端口注入。
type OHLCBar struct {
	Date  time.Time
	Open  float64
	High  float64
	Low   float64
	Close float64
}

// BarSource 提供持仓监控所需的日线序列，按日期升序返回。
type BarSource interface {
	DailyBars(ctx context.Context, instrument string, from, to time.Time) ([]OHLCBar, error)
}

// Signal 是特征管线对某个标的在某个交易日产出的形态信号。
// Patterns 已经是检测结果，这里不做任何形态识别。
type Signal struct {
	Instrument string
	Timeframe  string
	Patterns   []string
	Close      float64
	ATR        float64
	TrendShort string
	VolZone    string
	PricePos   string
}

// SignalSource 提供某个交易日的全部候选信号。
type SignalSource interface {
	SignalsFor(ctx context.Context, day time.Time) ([]Signal, error)
}
