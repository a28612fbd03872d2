package model

import (
	"time"

	"gorm.io/datatypes"
)

// PaperTradeModel 是纸面交易的持久化行。
// (instrument, horizon_days, entry_date) 为幂等去重键，重复插入静默忽略。
type PaperTradeModel struct {
	ID          int64          `gorm:"column:id;primaryKey"`
	TraceID     string         `gorm:"column:trace_id;index"`
	Instrument  string         `gorm:"column:instrument;uniqueIndex:idx_trade_dedup,priority:1"`
	HorizonDays int            `gorm:"column:horizon_days;uniqueIndex:idx_trade_dedup,priority:2"`
	EntryDate   string         `gorm:"column:entry_date;uniqueIndex:idx_trade_dedup,priority:3"`
	Sector      string         `gorm:"column:sector"`
	Direction   string         `gorm:"column:direction"`
	PatternsJSON datatypes.JSON `gorm:"column:patterns_json;type:TEXT"`

	EntryPrice  float64 `gorm:"column:entry_price"`
	TargetPrice float64 `gorm:"column:target_price"`
	SLPrice     float64 `gorm:"column:sl_price"`
	TargetPct   float64 `gorm:"column:target_pct"`
	SLPct       float64 `gorm:"column:sl_pct"`
	RRRatio     float64 `gorm:"column:rr_ratio"`

	PredictedWinRate float64 `gorm:"column:predicted_win_rate"`
	PredictedPF      float64 `gorm:"column:predicted_pf"`
	Confidence       string  `gorm:"column:confidence"`
	NMatches         int     `gorm:"column:n_matches"`
	Tier             int     `gorm:"column:tier"`
	TrendShort       string  `gorm:"column:trend_short"`

	PositionPct   float64 `gorm:"column:position_pct"`
	PositionValue float64 `gorm:"column:position_value"`

	ExpiryDate string `gorm:"column:expiry_date"`

	Status       int     `gorm:"column:status"`
	ExitPrice    float64 `gorm:"column:exit_price"`
	ExitDateUnix int64   `gorm:"column:exit_date"`
	ExitReason   string  `gorm:"column:exit_reason"`
	ActualReturn float64 `gorm:"column:actual_return"`
	SLWouldHit   int     `gorm:"column:sl_would_hit"`

	IsShadow int `gorm:"column:is_shadow;index"`

	CreatedAtUnix int64 `gorm:"column:created_at"`
	UpdatedAtUnix int64 `gorm:"column:updated_at"`

	CreatedAt time.Time `gorm:"-"`
	UpdatedAt time.Time `gorm:"-"`
}

func (PaperTradeModel) TableName() string { return "paper_trades" }

// RiskStateModel 是账户风控状态的单行快照，主键恒为 1。
// 资金字段以字符串存储，避免浮点累加误差。
type RiskStateModel struct {
	ID             int64  `gorm:"column:id;primaryKey"`
	Capital        string `gorm:"column:capital"`
	PeakCapital    string `gorm:"column:peak_capital"`
	InitialCapital string `gorm:"column:initial_capital"`

	// SQLite 中 current_date 是保留字，列名避开。
	CurrentDate  string `gorm:"column:current_day"`
	CurrentMonth string `gorm:"column:current_month"`

	TradesToday       int    `gorm:"column:trades_today"`
	DailyPnL          string `gorm:"column:daily_pnl"`
	MonthlyPnL        string `gorm:"column:monthly_pnl"`
	ConsecutiveLosses int    `gorm:"column:consecutive_losses"`

	DailyLossBreaker       int `gorm:"column:daily_loss_breaker"`
	DailyTradesBreaker     int `gorm:"column:daily_trades_breaker"`
	ConsecutiveLossBreaker int `gorm:"column:consecutive_loss_breaker"`
	DrawdownBreaker        int `gorm:"column:drawdown_breaker"`
	MonthlyLossBreaker     int `gorm:"column:monthly_loss_breaker"`

	CooldownUntilUnix *int64 `gorm:"column:cooldown_until"`

	UpdatedAtUnix int64 `gorm:"column:updated_at"`

	UpdatedAt time.Time `gorm:"-"`
}

func (RiskStateModel) TableName() string { return "risk_state" }

// AdjustmentModel 是反馈聚合的分段调整记录，重建时整表替换。
type AdjustmentModel struct {
	ID     int64  `gorm:"column:id;primaryKey"`
	Kind   string `gorm:"column:kind;uniqueIndex:idx_adjustment_key,priority:1"`
	KeyEnc string `gorm:"column:key_enc;uniqueIndex:idx_adjustment_key,priority:2"`

	Pattern      string `gorm:"column:pattern"`
	Trend        string `gorm:"column:trend"`
	HorizonLabel string `gorm:"column:horizon_label"`
	Sector       string `gorm:"column:sector"`

	TotalTrades          int     `gorm:"column:total_trades"`
	Wins                 int     `gorm:"column:wins"`
	WinRate              float64 `gorm:"column:win_rate"`
	DecayWeightedWinRate float64 `gorm:"column:decay_weighted_win_rate"`
	AvgReturn            float64 `gorm:"column:avg_return"`

	UpdatedAtUnix int64 `gorm:"column:updated_at"`

	UpdatedAt time.Time `gorm:"-"`
}

func (AdjustmentModel) TableName() string { return "feedback_adjustments" }

// OutcomeModel 是平仓结果的反馈存档，trace_id 幂等去重。
type OutcomeModel struct {
	ID           int64          `gorm:"column:id;primaryKey"`
	TraceID      string         `gorm:"column:trace_id;uniqueIndex"`
	Instrument   string         `gorm:"column:instrument"`
	Sector       string         `gorm:"column:sector"`
	PatternsJSON datatypes.JSON `gorm:"column:patterns_json;type:TEXT"`
	Direction    string         `gorm:"column:direction"`
	TrendShort   string         `gorm:"column:trend_short"`
	HorizonLabel string         `gorm:"column:horizon_label"`
	Win          int            `gorm:"column:win"`
	ReturnPct    float64        `gorm:"column:return_pct"`
	ExitReason   string         `gorm:"column:exit_reason"`
	SLWouldHit   int            `gorm:"column:sl_would_hit"`
	ClosedAtUnix int64          `gorm:"column:closed_at"`

	CreatedAtUnix int64 `gorm:"column:created_at"`

	CreatedAt time.Time `gorm:"-"`
}

func (OutcomeModel) TableName() string { return "trade_outcomes" }

// ScanLogModel 记录每个交易日的扫描水位，补扫时用来跳过已处理日期。
type ScanLogModel struct {
	ID           int64  `gorm:"column:id;primaryKey"`
	ScanDate     string `gorm:"column:scan_date;uniqueIndex"`
	SignalsSeen  int    `gorm:"column:signals_seen"`
	TradesOpened int    `gorm:"column:trades_opened"`
	ShadowOpened int    `gorm:"column:shadow_opened"`
	Rejected     int    `gorm:"column:rejected"`

	CreatedAtUnix int64 `gorm:"column:created_at"`
}

func (ScanLogModel) TableName() string { return "scan_log" }

// DailySummaryModel 是按日聚合的运营摘要。
type DailySummaryModel struct {
	ID          int64  `gorm:"column:id;primaryKey"`
	SummaryDate string `gorm:"column:summary_date;uniqueIndex"`

	Opened  int `gorm:"column:opened"`
	Closed  int `gorm:"column:closed"`
	Wins    int `gorm:"column:wins"`
	Losses  int `gorm:"column:losses"`
	Expired int `gorm:"column:expired"`

	PnL          string `gorm:"column:pnl"`
	CapitalAfter string `gorm:"column:capital_after"`

	BestInstrument  string  `gorm:"column:best_instrument"`
	BestReturn      float64 `gorm:"column:best_return"`
	WorstInstrument string  `gorm:"column:worst_instrument"`
	WorstReturn     float64 `gorm:"column:worst_return"`

	CreatedAtUnix int64 `gorm:"column:created_at"`
	UpdatedAtUnix int64 `gorm:"column:updated_at"`
}

func (DailySummaryModel) TableName() string { return "daily_summaries" }
