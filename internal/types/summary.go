package types

import "github.com/shopspring/decimal"

// DailySummary 是按日聚合的交易摘要，日终写入，重跑幂等覆盖。
type DailySummary struct {
	Date string // YYYY-MM-DD

	Opened  int
	Closed  int
	Wins    int
	Losses  int
	Expired int

	PnL          decimal.Decimal
	CapitalAfter decimal.Decimal

	BestInstrument  string
	BestReturn      float64
	WorstInstrument string
	WorstReturn     float64
}
