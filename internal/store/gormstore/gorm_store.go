package gormstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"traqo/internal/store"
	storemodel "traqo/internal/store/model"
	"traqo/internal/types"
)

type (
	paperTradeModel   = storemodel.PaperTradeModel
	riskStateModel    = storemodel.RiskStateModel
	adjustmentModel   = storemodel.AdjustmentModel
	outcomeModel      = storemodel.OutcomeModel
	scanLogModel      = storemodel.ScanLogModel
	dailySummaryModel = storemodel.DailySummaryModel
)

const dateLayout = "2006-01-02"

// riskStateRowID 风控状态为单行快照，主键固定。
const riskStateRowID = 1

// GormStore implements trade, risk and feedback storage using Gorm + SQLite.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore initializes a new GormStore instance.
func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: 数据库路径不能为空")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	models := []interface{}{
		&paperTradeModel{},
		&riskStateModel{},
		&adjustmentModel{},
		&outcomeModel{},
		&scanLogModel{},
		&dailySummaryModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a small amount of parallelism for concurrent HTTP reads
	// while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SQLDB exposes the underlying *sql.DB for shared connections.
func (s *GormStore) SQLDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	return s.db.DB()
}

// GormDB exposes the underlying *gorm.DB (read-only reference).
func (s *GormStore) GormDB() *gorm.DB {
	if s == nil {
		return nil
	}
	return s.db
}

var _ store.Store = (*GormStore)(nil)

// --------------------- PaperTrade Implementation -------------------------

func (s *GormStore) InsertTrade(ctx context.Context, t *types.Trade) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("gorm store 未初始化")
	}
	if t == nil {
		return false, fmt.Errorf("trade 必填")
	}
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	m := newPaperTradeModel(t)
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "instrument"}, {Name: "horizon_days"}, {Name: "entry_date"}},
			DoNothing: true,
		}).
		Create(&m)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	t.ID = m.ID
	return true, nil
}

// CloseTrade 只允许 OPEN → 终态，条件更新保证并发与重放下的幂等。
// st 非 nil 时风控状态与平仓字段在同一事务内提交。
func (s *GormStore) CloseTrade(ctx context.Context, t *types.Trade, st *types.RiskState) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("gorm store 未初始化")
	}
	if t == nil || t.ID <= 0 {
		return false, fmt.Errorf("trade id 必填")
	}
	if !t.Status.Terminal() {
		return false, fmt.Errorf("平仓状态非法: %s", t.Status)
	}
	closed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&paperTradeModel{}).
			Where("id = ? AND status = ?", t.ID, int(types.TradeStatusOpen)).
			Updates(map[string]interface{}{
				"status":        int(t.Status),
				"exit_price":    t.ExitPrice,
				"exit_date":     unixOrZero(t.ExitDate),
				"exit_reason":   t.ExitReason,
				"actual_return": t.ActualReturn,
				"sl_would_hit":  b2i(t.SLWouldHit),
				"updated_at":    time.Now().Unix(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		closed = true
		if st == nil {
			return nil
		}
		return saveRiskState(tx, st)
	})
	if err != nil {
		return false, err
	}
	return closed, nil
}

func (s *GormStore) ListOpenTrades(ctx context.Context) ([]types.Trade, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	var models []paperTradeModel
	if err := s.db.WithContext(ctx).
		Where("status = ?", int(types.TradeStatusOpen)).
		Order("entry_date ASC, id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return tradesFromModels(models)
}

func (s *GormStore) ListTradesClosedOn(ctx context.Context, date string) ([]types.Trade, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	day, err := time.Parse(dateLayout, date)
	if err != nil {
		return nil, fmt.Errorf("日期格式非法 %q: %w", date, err)
	}
	start := day.Unix()
	end := day.AddDate(0, 0, 1).Unix()
	var models []paperTradeModel
	if err := s.db.WithContext(ctx).
		Where("status != ? AND exit_date >= ? AND exit_date < ?", int(types.TradeStatusOpen), start, end).
		Order("id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return tradesFromModels(models)
}

func (s *GormStore) ListRecentTrades(ctx context.Context, limit int) ([]types.Trade, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	if limit <= 0 {
		limit = 50
	}
	var models []paperTradeModel
	if err := s.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	return tradesFromModels(models)
}

// --------------------- RiskState Implementation -------------------------

func (s *GormStore) LoadRiskState(ctx context.Context) (*types.RiskState, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	var m riskStateModel
	if err := s.db.WithContext(ctx).Where("id = ?", riskStateRowID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gorm.ErrRecordNotFound
		}
		return nil, err
	}
	return riskStateFromModel(m)
}

func (s *GormStore) SaveRiskState(ctx context.Context, st *types.RiskState) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	if st == nil {
		return fmt.Errorf("risk state 必填")
	}
	return saveRiskState(s.db.WithContext(ctx), st)
}

func saveRiskState(tx *gorm.DB, st *types.RiskState) error {
	m := newRiskStateModel(st)
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&m).Error
}

// --------------------- Feedback Implementation -------------------------

func (s *GormStore) SaveOutcomes(ctx context.Context, records []types.OutcomeRecord) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("gorm store 未初始化")
	}
	if len(records) == 0 {
		return 0, nil
	}
	now := time.Now().Unix()
	models := make([]outcomeModel, 0, len(records))
	for _, rec := range records {
		m, err := newOutcomeModel(rec)
		if err != nil {
			return 0, err
		}
		m.CreatedAtUnix = now
		models = append(models, m)
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "trace_id"}},
			DoNothing: true,
		}).
		Create(&models)
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

func (s *GormStore) ListOutcomes(ctx context.Context) ([]types.OutcomeRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	var models []outcomeModel
	if err := s.db.WithContext(ctx).Order("closed_at ASC, id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	records := make([]types.OutcomeRecord, 0, len(models))
	for _, m := range models {
		rec, err := outcomeFromModel(m)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *GormStore) ReplaceAdjustments(ctx context.Context, records []types.AdjustmentRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM feedback_adjustments").Error; err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		models := make([]adjustmentModel, 0, len(records))
		for _, rec := range records {
			models = append(models, newAdjustmentModel(rec))
		}
		return tx.Create(&models).Error
	})
}

func (s *GormStore) LoadAdjustments(ctx context.Context) ([]types.AdjustmentRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	var models []adjustmentModel
	if err := s.db.WithContext(ctx).Order("kind ASC, key_enc ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	records := make([]types.AdjustmentRecord, 0, len(models))
	for _, m := range models {
		records = append(records, adjustmentFromModel(m))
	}
	return records, nil
}

// --------------------- ScanLog Implementation -------------------------

func (s *GormStore) LastScanDate(ctx context.Context) (string, error) {
	if s == nil || s.db == nil {
		return "", fmt.Errorf("gorm store 未初始化")
	}
	var m scanLogModel
	err := s.db.WithContext(ctx).Order("scan_date DESC").First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return m.ScanDate, nil
}

func (s *GormStore) HasScan(ctx context.Context, date string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("gorm store 未初始化")
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&scanLogModel{}).
		Where("scan_date = ?", date).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *GormStore) RecordScan(ctx context.Context, rec store.ScanRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	if rec.Date == "" {
		return fmt.Errorf("scan_date 必填")
	}
	m := scanLogModel{
		ScanDate:      rec.Date,
		SignalsSeen:   rec.SignalsSeen,
		TradesOpened:  rec.TradesOpened,
		ShadowOpened:  rec.ShadowOpened,
		Rejected:      rec.Rejected,
		CreatedAtUnix: time.Now().Unix(),
	}
	updates := clause.Assignments(map[string]interface{}{
		"signals_seen":  gorm.Expr("excluded.signals_seen"),
		"trades_opened": gorm.Expr("excluded.trades_opened"),
		"shadow_opened": gorm.Expr("excluded.shadow_opened"),
		"rejected":      gorm.Expr("excluded.rejected"),
	})
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "scan_date"}},
			DoUpdates: updates,
		}).
		Create(&m).Error
}

// --------------------- DailySummary Implementation -------------------------

func (s *GormStore) UpsertDailySummary(ctx context.Context, sum types.DailySummary) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	if sum.Date == "" {
		return fmt.Errorf("summary_date 必填")
	}
	now := time.Now().Unix()
	m := dailySummaryModel{
		SummaryDate:     sum.Date,
		Opened:          sum.Opened,
		Closed:          sum.Closed,
		Wins:            sum.Wins,
		Losses:          sum.Losses,
		Expired:         sum.Expired,
		PnL:             sum.PnL.String(),
		CapitalAfter:    sum.CapitalAfter.String(),
		BestInstrument:  sum.BestInstrument,
		BestReturn:      sum.BestReturn,
		WorstInstrument: sum.WorstInstrument,
		WorstReturn:     sum.WorstReturn,
		CreatedAtUnix:   now,
		UpdatedAtUnix:   now,
	}
	updates := clause.Assignments(map[string]interface{}{
		"opened":           gorm.Expr("excluded.opened"),
		"closed":           gorm.Expr("excluded.closed"),
		"wins":             gorm.Expr("excluded.wins"),
		"losses":           gorm.Expr("excluded.losses"),
		"expired":          gorm.Expr("excluded.expired"),
		"pnl":              gorm.Expr("excluded.pnl"),
		"capital_after":    gorm.Expr("excluded.capital_after"),
		"best_instrument":  gorm.Expr("excluded.best_instrument"),
		"best_return":      gorm.Expr("excluded.best_return"),
		"worst_instrument": gorm.Expr("excluded.worst_instrument"),
		"worst_return":     gorm.Expr("excluded.worst_return"),
		"updated_at":       gorm.Expr("excluded.updated_at"),
	})
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "summary_date"}},
			DoUpdates: updates,
		}).
		Create(&m).Error
}

func (s *GormStore) ListRecentSummaries(ctx context.Context, limit int) ([]types.DailySummary, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	if limit <= 0 {
		limit = 30
	}
	var models []dailySummaryModel
	if err := s.db.WithContext(ctx).
		Order("summary_date DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	summaries := make([]types.DailySummary, 0, len(models))
	for _, m := range models {
		summaries = append(summaries, types.DailySummary{
			Date:            m.SummaryDate,
			Opened:          m.Opened,
			Closed:          m.Closed,
			Wins:            m.Wins,
			Losses:          m.Losses,
			Expired:         m.Expired,
			PnL:             parseDecimal(m.PnL),
			CapitalAfter:    parseDecimal(m.CapitalAfter),
			BestInstrument:  m.BestInstrument,
			BestReturn:      m.BestReturn,
			WorstInstrument: m.WorstInstrument,
			WorstReturn:     m.WorstReturn,
		})
	}
	return summaries, nil
}

// --------------------- Converters -------------------------

func newPaperTradeModel(t *types.Trade) paperTradeModel {
	return paperTradeModel{
		ID:               t.ID,
		TraceID:          t.TraceID,
		Instrument:       t.Instrument,
		HorizonDays:      t.Horizon.Days(),
		EntryDate:        t.EntryDate.Format(dateLayout),
		Sector:           t.Sector,
		Direction:        string(t.Direction),
		PatternsJSON:     marshalStrings(t.Patterns),
		EntryPrice:       t.EntryPrice,
		TargetPrice:      t.TargetPrice,
		SLPrice:          t.SLPrice,
		TargetPct:        t.TargetPct,
		SLPct:            t.SLPct,
		RRRatio:          t.RRRatio,
		PredictedWinRate: t.PredictedWinRate,
		PredictedPF:      t.PredictedPF,
		Confidence:       string(t.Confidence),
		NMatches:         t.NMatches,
		Tier:             int(t.Tier),
		TrendShort:       t.TrendShort,
		PositionPct:      t.PositionPct,
		PositionValue:    t.PositionValue,
		ExpiryDate:       t.ExpiryDate.Format(dateLayout),
		Status:           int(t.Status),
		ExitPrice:        t.ExitPrice,
		ExitDateUnix:     unixOrZero(t.ExitDate),
		ExitReason:       t.ExitReason,
		ActualReturn:     t.ActualReturn,
		SLWouldHit:       b2i(t.SLWouldHit),
		IsShadow:         b2i(t.Shadow),
		CreatedAtUnix:    unixOrZero(t.CreatedAt),
		UpdatedAtUnix:    unixOrZero(t.UpdatedAt),
	}
}

func tradeFromModel(m paperTradeModel) (types.Trade, error) {
	entry, err := time.Parse(dateLayout, m.EntryDate)
	if err != nil {
		return types.Trade{}, fmt.Errorf("trade %d entry_date 解析失败: %w", m.ID, err)
	}
	expiry, err := time.Parse(dateLayout, m.ExpiryDate)
	if err != nil {
		return types.Trade{}, fmt.Errorf("trade %d expiry_date 解析失败: %w", m.ID, err)
	}
	return types.Trade{
		ID:               m.ID,
		TraceID:          m.TraceID,
		Instrument:       m.Instrument,
		Sector:           m.Sector,
		Direction:        types.Direction(m.Direction),
		Horizon:          types.Horizon(m.HorizonDays),
		Patterns:         unmarshalStrings(m.PatternsJSON),
		EntryPrice:       m.EntryPrice,
		TargetPrice:      m.TargetPrice,
		SLPrice:          m.SLPrice,
		TargetPct:        m.TargetPct,
		SLPct:            m.SLPct,
		RRRatio:          m.RRRatio,
		PredictedWinRate: m.PredictedWinRate,
		PredictedPF:      m.PredictedPF,
		Confidence:       types.ConfidenceLevel(m.Confidence),
		NMatches:         m.NMatches,
		Tier:             types.Tier(m.Tier),
		TrendShort:       m.TrendShort,
		PositionPct:      m.PositionPct,
		PositionValue:    m.PositionValue,
		EntryDate:        entry,
		ExpiryDate:       expiry,
		Status:           types.TradeStatus(m.Status),
		ExitPrice:        m.ExitPrice,
		ExitDate:         timeFromUnix(m.ExitDateUnix),
		ExitReason:       m.ExitReason,
		ActualReturn:     m.ActualReturn,
		SLWouldHit:       m.SLWouldHit != 0,
		Shadow:           m.IsShadow != 0,
		CreatedAt:        timeFromUnix(m.CreatedAtUnix),
		UpdatedAt:        timeFromUnix(m.UpdatedAtUnix),
	}, nil
}

func tradesFromModels(models []paperTradeModel) ([]types.Trade, error) {
	trades := make([]types.Trade, 0, len(models))
	for _, m := range models {
		t, err := tradeFromModel(m)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, nil
}

func newRiskStateModel(st *types.RiskState) riskStateModel {
	m := riskStateModel{
		ID:                     riskStateRowID,
		Capital:                st.Capital.String(),
		PeakCapital:            st.PeakCapital.String(),
		InitialCapital:         st.InitialCapital.String(),
		CurrentDate:            st.CurrentDate,
		CurrentMonth:           st.CurrentMonth,
		TradesToday:            st.TradesToday,
		DailyPnL:               st.DailyPnL.String(),
		MonthlyPnL:             st.MonthlyPnL.String(),
		ConsecutiveLosses:      st.ConsecutiveLosses,
		DailyLossBreaker:       b2i(st.DailyLossBreaker),
		DailyTradesBreaker:     b2i(st.DailyTradesBreaker),
		ConsecutiveLossBreaker: b2i(st.ConsecutiveLossBreaker),
		DrawdownBreaker:        b2i(st.DrawdownBreaker),
		MonthlyLossBreaker:     b2i(st.MonthlyLossBreaker),
		UpdatedAtUnix:          unixOrZero(st.UpdatedAt),
	}
	if st.CooldownUntil != nil {
		u := st.CooldownUntil.Unix()
		m.CooldownUntilUnix = &u
	}
	return m
}

func riskStateFromModel(m riskStateModel) (*types.RiskState, error) {
	capital, err := decimal.NewFromString(m.Capital)
	if err != nil {
		return nil, fmt.Errorf("risk state capital 字段损坏 %q: %w", m.Capital, err)
	}
	peak, err := decimal.NewFromString(m.PeakCapital)
	if err != nil {
		return nil, fmt.Errorf("risk state peak_capital 字段损坏 %q: %w", m.PeakCapital, err)
	}
	initial, err := decimal.NewFromString(m.InitialCapital)
	if err != nil {
		return nil, fmt.Errorf("risk state initial_capital 字段损坏 %q: %w", m.InitialCapital, err)
	}
	st := &types.RiskState{
		Capital:                capital,
		PeakCapital:            peak,
		InitialCapital:         initial,
		CurrentDate:            m.CurrentDate,
		CurrentMonth:           m.CurrentMonth,
		TradesToday:            m.TradesToday,
		DailyPnL:               parseDecimal(m.DailyPnL),
		MonthlyPnL:             parseDecimal(m.MonthlyPnL),
		ConsecutiveLosses:      m.ConsecutiveLosses,
		DailyLossBreaker:       m.DailyLossBreaker != 0,
		DailyTradesBreaker:     m.DailyTradesBreaker != 0,
		ConsecutiveLossBreaker: m.ConsecutiveLossBreaker != 0,
		DrawdownBreaker:        m.DrawdownBreaker != 0,
		MonthlyLossBreaker:     m.MonthlyLossBreaker != 0,
		UpdatedAt:              timeFromUnix(m.UpdatedAtUnix),
	}
	if m.CooldownUntilUnix != nil {
		t := time.Unix(*m.CooldownUntilUnix, 0).UTC()
		st.CooldownUntil = &t
	}
	return st, nil
}

func newAdjustmentModel(rec types.AdjustmentRecord) adjustmentModel {
	return adjustmentModel{
		Kind:                 string(rec.Kind),
		KeyEnc:               rec.Key.Encode(),
		Pattern:              rec.Key.Pattern,
		Trend:                rec.Key.Trend,
		HorizonLabel:         rec.Key.Horizon,
		Sector:               rec.Key.Sector,
		TotalTrades:          rec.TotalTrades,
		Wins:                 rec.Wins,
		WinRate:              rec.WinRate,
		DecayWeightedWinRate: rec.DecayWeightedWinRate,
		AvgReturn:            rec.AvgReturn,
		UpdatedAtUnix:        unixOrZero(rec.UpdatedAt),
	}
}

func adjustmentFromModel(m adjustmentModel) types.AdjustmentRecord {
	return types.AdjustmentRecord{
		Key: types.FeedbackKey{
			Pattern: m.Pattern,
			Trend:   m.Trend,
			Horizon: m.HorizonLabel,
			Sector:  m.Sector,
		},
		Kind:                 types.SegmentKind(m.Kind),
		TotalTrades:          m.TotalTrades,
		Wins:                 m.Wins,
		WinRate:              m.WinRate,
		DecayWeightedWinRate: m.DecayWeightedWinRate,
		AvgReturn:            m.AvgReturn,
		UpdatedAt:            timeFromUnix(m.UpdatedAtUnix),
	}
}

func newOutcomeModel(rec types.OutcomeRecord) (outcomeModel, error) {
	if strings.TrimSpace(rec.TraceID) == "" {
		return outcomeModel{}, fmt.Errorf("outcome trace_id 必填")
	}
	return outcomeModel{
		TraceID:      rec.TraceID,
		Instrument:   rec.Instrument,
		Sector:       rec.Sector,
		PatternsJSON: marshalStrings(rec.Patterns),
		Direction:    string(rec.Direction),
		TrendShort:   rec.TrendShort,
		HorizonLabel: rec.HorizonLabel,
		Win:          b2i(rec.Win),
		ReturnPct:    rec.ReturnPct,
		ExitReason:   rec.ExitReason,
		SLWouldHit:   b2i(rec.SLWouldHit),
		ClosedAtUnix: unixOrZero(rec.ClosedAt),
	}, nil
}

func outcomeFromModel(m outcomeModel) (types.OutcomeRecord, error) {
	return types.OutcomeRecord{
		TraceID:      m.TraceID,
		Instrument:   m.Instrument,
		Sector:       m.Sector,
		Patterns:     unmarshalStrings(m.PatternsJSON),
		Direction:    types.Direction(m.Direction),
		TrendShort:   m.TrendShort,
		HorizonLabel: m.HorizonLabel,
		Win:          m.Win != 0,
		ReturnPct:    m.ReturnPct,
		ExitReason:   m.ExitReason,
		SLWouldHit:   m.SLWouldHit != 0,
		ClosedAt:     timeFromUnix(m.ClosedAtUnix),
	}, nil
}

// --------------------- Helpers -------------------------

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func marshalStrings(values []string) datatypes.JSON {
	if len(values) == 0 {
		return datatypes.JSON("[]")
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return datatypes.JSON("[]")
	}
	return datatypes.JSON(raw)
}

func unmarshalStrings(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil
	}
	return values
}

func parseDecimal(raw string) decimal.Decimal {
	if raw == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeFromUnix(u int64) time.Time {
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0).UTC()
}
