package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskState 是账户级风控状态，单写者，每次平仓后原子落库。
// 资金字段用 decimal 精确累加，保证 capital == initial + Σ pnl。
type RiskState struct {
	Capital        decimal.Decimal
	PeakCapital    decimal.Decimal
	InitialCapital decimal.Decimal

	CurrentDate  string // YYYY-MM-DD，跨日重置日内计数
	CurrentMonth string // YYYY-MM，跨月重置月度计数

	TradesToday       int
	DailyPnL          decimal.Decimal
	MonthlyPnL        decimal.Decimal
	ConsecutiveLosses int

	DailyLossBreaker       bool
	DailyTradesBreaker     bool
	ConsecutiveLossBreaker bool
	DrawdownBreaker        bool
	MonthlyLossBreaker     bool

	CooldownUntil *time.Time

	UpdatedAt time.Time
}

// NewRiskState 以初始资金构建全新状态。
func NewRiskState(initialCapital decimal.Decimal, now time.Time) *RiskState {
	return &RiskState{
		Capital:        initialCapital,
		PeakCapital:    initialCapital,
		InitialCapital: initialCapital,
		CurrentDate:    now.Format("2006-01-02"),
		CurrentMonth:   now.Format("2006-01"),
		DailyPnL:       decimal.Zero,
		MonthlyPnL:     decimal.Zero,
		UpdatedAt:      now,
	}
}

// DrawdownPct 返回相对峰值资金的回撤（%）。
func (s *RiskState) DrawdownPct() float64 {
	if s.PeakCapital.IsZero() {
		return 0
	}
	dd, _ := s.PeakCapital.Sub(s.Capital).Div(s.PeakCapital).Mul(decimal.NewFromInt(100)).Float64()
	return dd
}

// AnyBreaker 判断是否有任一熔断器处于触发状态。
func (s *RiskState) AnyBreaker() bool {
	return s.DailyLossBreaker || s.DailyTradesBreaker || s.ConsecutiveLossBreaker ||
		s.DrawdownBreaker || s.MonthlyLossBreaker
}
