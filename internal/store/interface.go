package store

import (
	"context"

	"traqo/internal/types"
)

// ScanRecord 是一次每日扫描的水位记录。
type ScanRecord struct {
	Date         string // YYYY-MM-DD
	SignalsSeen  int
	TradesOpened int
	ShadowOpened int
	Rejected     int
}

// TradeRepository 负责纸面交易的持久化。
type TradeRepository interface {
	// InsertTrade 插入新交易。去重键冲突时不写入并返回 false。
	InsertTrade(ctx context.Context, t *types.Trade) (bool, error)
	// CloseTrade 在单事务内落平仓字段；st 非 nil 时同事务写入风控状态。
	// 已处于终态的交易不会被覆盖，返回 false。
	CloseTrade(ctx context.Context, t *types.Trade, st *types.RiskState) (bool, error)
	ListOpenTrades(ctx context.Context) ([]types.Trade, error)
	ListTradesClosedOn(ctx context.Context, date string) ([]types.Trade, error)
	ListRecentTrades(ctx context.Context, limit int) ([]types.Trade, error)
}

// RiskStateRepository 负责账户风控状态快照，单行读写。
type RiskStateRepository interface {
	LoadRiskState(ctx context.Context) (*types.RiskState, error)
	SaveRiskState(ctx context.Context, st *types.RiskState) error
}

// FeedbackRepository 负责平仓结果与分段调整记录。
type FeedbackRepository interface {
	// SaveOutcomes 按 trace_id 幂等写入，返回实际新增条数。
	SaveOutcomes(ctx context.Context, records []types.OutcomeRecord) (int, error)
	ListOutcomes(ctx context.Context) ([]types.OutcomeRecord, error)
	// ReplaceAdjustments 整表替换重建结果。
	ReplaceAdjustments(ctx context.Context, records []types.AdjustmentRecord) error
	LoadAdjustments(ctx context.Context) ([]types.AdjustmentRecord, error)
}

// ScanLogRepository 负责扫描水位，补扫逻辑据此跳过已处理日期。
type ScanLogRepository interface {
	LastScanDate(ctx context.Context) (string, error)
	HasScan(ctx context.Context, date string) (bool, error)
	RecordScan(ctx context.Context, rec ScanRecord) error
}

// SummaryRepository 负责每日运营摘要。
type SummaryRepository interface {
	UpsertDailySummary(ctx context.Context, s types.DailySummary) error
	ListRecentSummaries(ctx context.Context, limit int) ([]types.DailySummary, error)
}

// Store 是数据库访问入口。
type Store interface {
	TradeRepository
	RiskStateRepository
	FeedbackRepository
	ScanLogRepository
	SummaryRepository

	Close() error
}
