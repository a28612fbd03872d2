package types

import (
	"strings"
	"time"
)

// Direction 表示一个方向结论（历史结果或预测输出共用）。
type Direction string

const (
	DirectionBullish Direction = "bullish"
	DirectionBearish Direction = "bearish"
	DirectionNeutral Direction = "neutral"
)

// ParseDirection 将外部 feed 中的方向字符串归一化。
func ParseDirection(raw string) Direction {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "bullish", "bull", "long":
		return DirectionBullish
	case "bearish", "bear", "short":
		return DirectionBearish
	default:
		return DirectionNeutral
	}
}

func (d Direction) Valid() bool {
	return d == DirectionBullish || d == DirectionBearish || d == DirectionNeutral
}

// Opposite 返回相反方向；neutral 不变。
func (d Direction) Opposite() Direction {
	switch d {
	case DirectionBullish:
		return DirectionBearish
	case DirectionBearish:
		return DirectionBullish
	default:
		return DirectionNeutral
	}
}

// HorizonOutcome 是单一持仓周期上的已实现前向结果。
type HorizonOutcome struct {
	ReturnPct float64   // 前向收益（百分比，+1.23 表示 +1.23%）
	Direction Direction // 已实现方向
	MFE       float64   // 最大有利波动（%）
	MAE       float64   // 最大不利波动（%，负值）
}

// Observation 是特征管线产出的不可变历史记录。
// 构建索引之后只读，预测阶段绝不修改。
type Observation struct {
	ID          int
	Patterns    []string // 形态标签（feed 中逗号分隔，载入时拆分）
	Instrument  string
	Sector      string
	Timeframe   string
	TrendShort  string // bullish / bearish / sideways
	VolZone     string // 波动区位标签（如 oversold / neutral / overbought）
	PricePos    string // 相对价格位置（如 above_vwap / below_vwap）
	Regime      string // 市场状态标签（组合串，首段用于宽匹配）
	Timestamp   time.Time
	Close       float64
	ATR         float64
	Outcomes    map[int]HorizonOutcome // horizon(天) -> 已实现结果
}

// HasOutcome 判断指定周期是否有完整的前向结果。
func (o *Observation) HasOutcome(horizon Horizon) bool {
	out, ok := o.Outcomes[horizon.Days()]
	return ok && out.Direction.Valid()
}

// RegimeBroad 返回 regime 串的首段，用于宽匹配索引。
func (o *Observation) RegimeBroad() string {
	if i := strings.IndexByte(o.Regime, '|'); i >= 0 {
		return o.Regime[:i]
	}
	return o.Regime
}
