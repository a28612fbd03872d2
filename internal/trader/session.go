package trader

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"traqo/internal/config"
	"traqo/internal/domaincfg"
	"traqo/internal/feedback"
	"traqo/internal/logger"
	"traqo/internal/predictor"
	"traqo/internal/regime"
	"traqo/internal/risk"
	"traqo/internal/sizing"
	"traqo/internal/store"
	"traqo/internal/types"
)

const dateLayout = "2006-01-02"

// Session 是交易生命周期引擎：补扫、扫描、持仓监控、日终摘要、
// 结果回流反馈。所有状态变更走同一个 goroutine，存储是唯一写入者。
type Session struct {
	trading config.TradingConfig
	sizeCfg config.SizingConfig

	st       store.Store
	pred     *predictor.Predictor
	fb       *feedback.Engine
	riskMgr  *risk.Manager
	sizer    *sizing.Sizer
	detector *regime.Detector
	bars     BarSource
	signals  SignalSource
	tables   func() domaincfg.Snapshot

	nowFn func() time.Time
}

// NewSession 组装一个会话引擎。
func NewSession(cfg config.Config, st store.Store, pred *predictor.Predictor,
	fb *feedback.Engine, riskMgr *risk.Manager, sizer *sizing.Sizer,
	detector *regime.Detector, bars BarSource, signals SignalSource,
	tables func() domaincfg.Snapshot) *Session {
	return &Session{
		trading:  cfg.Trading,
		sizeCfg:  cfg.Sizing,
		st:       st,
		pred:     pred,
		fb:       fb,
		riskMgr:  riskMgr,
		sizer:    sizer,
		detector: detector,
		bars:     bars,
		signals:  signals,
		tables:   tables,
		nowFn:    time.Now,
	}
}

// RunReport 汇总一次完整会话的动作计数。
type RunReport struct {
	RunDate      string `json:"run_date"`
	CatchupDays  int    `json:"catchup_days"`
	Scanned      bool   `json:"scanned"`
	SignalsSeen  int    `json:"signals_seen"`
	TradesOpened int    `json:"trades_opened"`
	ShadowOpened int    `json:"shadow_opened"`
	Rejected     int    `json:"rejected"`
	TradesClosed int    `json:"trades_closed"`
	ShadowClosed int    `json:"shadow_closed"`
}

// Run 执行一次完整会话：补扫 → 扫描 → 监控 → 摘要 → 反馈回流。
// 存储错误视为致命，立即中止并上抛。
func (s *Session) Run(ctx context.Context) (RunReport, error) {
	today := dateOnly(s.nowFn())
	rep := RunReport{RunDate: today.Format(dateLayout)}
	logger.Infof("交易会话开始: %s", rep.RunDate)

	n, err := s.catchUp(ctx, today)
	if err != nil {
		return rep, err
	}
	rep.CatchupDays = n

	if IsTradingDay(today) {
		scanRep, err := s.scanDay(ctx, today)
		if err != nil {
			return rep, err
		}
		rep.Scanned = !scanRep.Skipped
		rep.SignalsSeen = scanRep.SignalsSeen
		rep.TradesOpened = scanRep.Opened
		rep.ShadowOpened = scanRep.Shadow
		rep.Rejected = scanRep.Rejected
	} else {
		logger.Infof("%s 非交易日，跳过扫描", rep.RunDate)
	}

	closed, shadowClosed, err := s.monitorDay(ctx, today)
	if err != nil {
		return rep, err
	}
	rep.TradesClosed = closed
	rep.ShadowClosed = shadowClosed

	if err := s.writeSummary(ctx, today, rep.TradesOpened); err != nil {
		return rep, err
	}
	// 回流平仓结果；Ingest 内部会重建调整快照，下一次扫描即可使用。
	if err := s.emitOutcomes(ctx, today); err != nil {
		return rep, err
	}

	logger.Infof("交易会话结束: 补扫 %d 日，开仓 %d，平仓 %d，影子 %d/%d",
		rep.CatchupDays, rep.TradesOpened, rep.TradesClosed, rep.ShadowOpened, rep.ShadowClosed)
	return rep, nil
}

// catchUp 对上次扫描水位之后、昨日为止的漏掉交易日逐日监控，
// 用真实行情补平仓（回溯平仓）。漏掉的日子不补开仓，信号已失效。
func (s *Session) catchUp(ctx context.Context, today time.Time) (int, error) {
	last, err := s.st.LastScanDate(ctx)
	if err != nil {
		return 0, fmt.Errorf("扫描水位读取失败: %w", err)
	}
	if last == "" {
		logger.Infof("首次运行，无需补扫")
		return 0, nil
	}
	lastDay, err := time.Parse(dateLayout, last)
	if err != nil {
		return 0, fmt.Errorf("扫描水位日期损坏 %q: %w", last, err)
	}
	missed := TradingDaysBetween(lastDay.AddDate(0, 0, 1), today.AddDate(0, 0, -1))
	if len(missed) == 0 {
		return 0, nil
	}
	logger.Infof("补扫 %d 个漏掉的交易日: %s ~ %s",
		len(missed), missed[0].Format(dateLayout), missed[len(missed)-1].Format(dateLayout))
	for _, d := range missed {
		if _, _, err := s.monitorDay(ctx, d); err != nil {
			return 0, err
		}
	}
	return len(missed), nil
}

// writeSummary 写入当日运营摘要，重跑幂等覆盖。
func (s *Session) writeSummary(ctx context.Context, day time.Time, opened int) error {
	dateStr := day.Format(dateLayout)
	closed, err := s.st.ListTradesClosedOn(ctx, dateStr)
	if err != nil {
		return fmt.Errorf("平仓列表读取失败: %w", err)
	}
	sum := types.DailySummary{Date: dateStr, Opened: opened, CapitalAfter: s.riskMgr.Capital()}
	pnl := decimal.Zero
	first := true
	for _, t := range closed {
		if t.Shadow {
			continue
		}
		sum.Closed++
		if t.Won() {
			sum.Wins++
		} else {
			sum.Losses++
		}
		if t.Status == types.TradeStatusClosedExpiry {
			sum.Expired++
		}
		pnl = pnl.Add(tradePnL(t))
		if first || t.ActualReturn > sum.BestReturn {
			sum.BestInstrument, sum.BestReturn = t.Instrument, t.ActualReturn
		}
		if first || t.ActualReturn < sum.WorstReturn {
			sum.WorstInstrument, sum.WorstReturn = t.Instrument, t.ActualReturn
		}
		first = false
	}
	sum.PnL = pnl
	return s.st.UpsertDailySummary(ctx, sum)
}

// emitOutcomes 把当日平仓的真实交易打包回流反馈存储。
// 影子交易只用于过滤质量统计，不参与反馈混合。
func (s *Session) emitOutcomes(ctx context.Context, day time.Time) error {
	closed, err := s.st.ListTradesClosedOn(ctx, day.Format(dateLayout))
	if err != nil {
		return fmt.Errorf("平仓列表读取失败: %w", err)
	}
	var outcomes []types.OutcomeRecord
	for _, t := range closed {
		if t.Shadow {
			continue
		}
		outcomes = append(outcomes, t.Outcome())
	}
	if len(outcomes) == 0 {
		return nil
	}
	return s.fb.Ingest(ctx, outcomes)
}

// tradePnL 把百分比收益换算成资金盈亏。
func tradePnL(t types.Trade) decimal.Decimal {
	return decimal.NewFromFloat(t.PositionValue).
		Mul(decimal.NewFromFloat(t.ActualReturn)).
		Div(decimal.NewFromInt(100)).
		Round(2)
}
