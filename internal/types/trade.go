package types

import "time"

// TradeStatus 是交易生命周期状态。终态不可逆。
type TradeStatus int

const (
	TradeStatusUnknown TradeStatus = 0
	TradeStatusOpen    TradeStatus = 1
	TradeStatusClosedSL TradeStatus = 2 // 止损触发
	TradeStatusClosedTarget TradeStatus = 3 // 目标价触发
	TradeStatusClosedExpiry TradeStatus = 4 // 周期到期
	TradeStatusCancelled    TradeStatus = 5 // 接受后、成交前被前置检查否决
)

var tradeStatusNames = map[TradeStatus]string{
	TradeStatusUnknown:      "UNKNOWN",
	TradeStatusOpen:         "OPEN",
	TradeStatusClosedSL:     "CLOSED_SL",
	TradeStatusClosedTarget: "CLOSED_TARGET",
	TradeStatusClosedExpiry: "CLOSED_EXPIRY",
	TradeStatusCancelled:    "CANCELLED",
}

func (s TradeStatus) String() string {
	if n, ok := tradeStatusNames[s]; ok {
		return n
	}
	return "UNKNOWN"
}

// Terminal 判断状态是否为终态。
func (s TradeStatus) Terminal() bool {
	switch s {
	case TradeStatusClosedSL, TradeStatusClosedTarget, TradeStatusClosedExpiry, TradeStatusCancelled:
		return true
	}
	return false
}

// CanTransition 校验状态迁移是否合法：只允许 OPEN → 终态，终态不再变化。
func (s TradeStatus) CanTransition(next TradeStatus) bool {
	if s == next {
		return false
	}
	return s == TradeStatusOpen && next.Terminal()
}

// Trade 是一笔持久化的纸面交易。
// (Instrument, Horizon, EntryDate) 构成幂等去重键。
type Trade struct {
	ID         int64
	TraceID    string // uuid，贯穿信号→持仓→反馈
	Instrument string
	Sector     string
	Direction  Direction
	Horizon    Horizon
	Patterns   []string

	EntryPrice  float64
	TargetPrice float64
	SLPrice     float64
	TargetPct   float64
	SLPct       float64
	RRRatio     float64

	PredictedWinRate float64
	PredictedPF      float64
	Confidence       ConfidenceLevel
	NMatches         int
	Tier             Tier
	TrendShort       string // 入场时的短期趋势，反馈分段用

	PositionPct   float64 // 资金占比（%）
	PositionValue float64

	EntryDate  time.Time
	ExpiryDate time.Time

	Status       TradeStatus
	ExitPrice    float64
	ExitDate     time.Time
	ExitReason   string
	ActualReturn float64 // 已实现收益（%）
	SLWouldHit   bool    // 配置止损在持仓期间是否会触发（审计字段）

	Shadow bool // 被过滤信号的影子跟踪，不计入资金与风控

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Won 判断已平仓交易是否盈利。
func (t *Trade) Won() bool {
	return t.Status.Terminal() && t.Status != TradeStatusCancelled && t.ActualReturn > 0
}

// Outcome 把已平仓交易打包成反馈摄取记录。
func (t *Trade) Outcome() OutcomeRecord {
	return OutcomeRecord{
		TraceID:      t.TraceID,
		Instrument:   t.Instrument,
		Sector:       t.Sector,
		Patterns:     t.Patterns,
		Direction:    t.Direction,
		TrendShort:   t.TrendShort,
		HorizonLabel: t.Horizon.Label(),
		Win:          t.Won(),
		ReturnPct:    t.ActualReturn,
		ExitReason:   t.ExitReason,
		SLWouldHit:   t.SLWouldHit,
		ClosedAt:     t.ExitDate,
	}
}

// OutcomeRecord 是平仓后回流反馈存储的结果记录。
// 分段字段（Patterns/TrendShort/HorizonLabel/Sector）必须完整，
// 摄取端会做 schema 校验并在缺失时直接拒绝。
type OutcomeRecord struct {
	TraceID      string
	Instrument   string
	Sector       string
	Patterns     []string
	Direction    Direction
	TrendShort   string
	HorizonLabel string
	Win          bool
	ReturnPct    float64
	ExitReason   string
	SLWouldHit   bool
	ClosedAt     time.Time
}
