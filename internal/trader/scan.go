package trader

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"traqo/internal/domaincfg"
	"traqo/internal/logger"
	"traqo/internal/metrics"
	"traqo/internal/predictor"
	"traqo/internal/sizing"
	"traqo/internal/store"
	"traqo/internal/types"
)

type scanReport struct {
	Skipped     bool
	SignalsSeen int
	Opened      int
	Shadow      int
	Rejected    int
}

// scanDay 对某个交易日的全部候选信号做预测、过滤、风控门控与开仓。
// 同一日期重复执行是无操作（扫描水位 + 去重键双重保险）。
func (s *Session) scanDay(ctx context.Context, day time.Time) (scanReport, error) {
	dateStr := day.Format(dateLayout)
	var rep scanReport

	done, err := s.st.HasScan(ctx, dateStr)
	if err != nil {
		return rep, fmt.Errorf("扫描水位查询失败: %w", err)
	}
	if done {
		logger.Infof("%s 已扫描过，跳过", dateStr)
		rep.Skipped = true
		return rep, nil
	}

	sigs, err := s.signals.SignalsFor(ctx, day)
	if err != nil {
		return rep, fmt.Errorf("信号源读取失败: %w", err)
	}
	logger.Infof("扫描 %s: %d 个候选信号", dateStr, len(sigs))

	snap := s.tables()
	var shadowPool []types.Trade

	for _, sig := range sigs {
		tradeable := make([]string, 0, len(sig.Patterns))
		for _, p := range sig.Patterns {
			if snap.IsTradeable(p) {
				tradeable = append(tradeable, p)
			}
		}
		if len(tradeable) == 0 || sig.TrendShort == "" {
			continue
		}
		sector := snap.SectorOf(sig.Instrument)
		timeframe := sig.Timeframe
		if timeframe == "" {
			timeframe = "daily"
		}
		pred, ok := s.pred.PredictMulti(strings.Join(tradeable, ","), predictor.Context{
			Instrument: sig.Instrument,
			Sector:     sector,
			Timeframe:  timeframe,
			TrendShort: sig.TrendShort,
			VolZone:    sig.VolZone,
			PricePos:   sig.PricePos,
		})
		if !ok || pred.Direction == types.DirectionNeutral {
			continue
		}
		structural := false
		for _, p := range tradeable {
			if snap.IsStructural(p) {
				structural = true
				break
			}
		}

		for _, h := range tradeableHorizons {
			levels, ok := computeLevels(h, sig, pred, structural, s.sizeCfg)
			if !ok {
				continue
			}
			rep.SignalsSeen++

			// 周期感知的反馈胜率覆盖：triple 优先于 horizon 分段。
			wr := pred.WinRate
			fbSrc := ""
			for _, p := range tradeable {
				if v, src, ok := s.fb.HorizonWinRate(p, sig.TrendShort, h.Label()); ok {
					wr, fbSrc = v, src
					break
				}
			}

			skip := s.entryFilters(snap, tradeable, h, wr, pred.ConfidenceLevel, levels.RRRatio)

			trade := s.buildTrade(ctx, day, sig, pred, h, levels, sector, wr)

			if len(skip) > 0 {
				metrics.EntriesRejected.WithLabelValues("filter").Inc()
				rep.Rejected++
				shadowPool = append(shadowPool, trade)
				logger.Debugf("过滤 %s %s: %s", sig.Instrument, h.Label(), strings.Join(skip, "; "))
				continue
			}

			// 风控门控：熔断器 → 板块集中度 → 周期加权并发。
			if ok, rej := s.riskMgr.CanTrade(); !ok {
				metrics.EntriesRejected.WithLabelValues(rej.Breaker).Inc()
				rep.Rejected++
				logger.Warnf("风控拒绝 %s %s: %s", sig.Instrument, h.Label(), rej.Reason)
				continue
			}
			open, err := s.st.ListOpenTrades(ctx)
			if err != nil {
				return rep, fmt.Errorf("持仓列表读取失败: %w", err)
			}
			openReal := open[:0:0]
			for _, t := range open {
				if !t.Shadow {
					openReal = append(openReal, t)
				}
			}
			if rej := s.riskMgr.CheckSectorLimit(sector, openReal); rej != nil {
				metrics.EntriesRejected.WithLabelValues(rej.Breaker).Inc()
				rep.Rejected++
				logger.Infof("拒绝 %s %s: %s", sig.Instrument, h.Label(), rej.Reason)
				continue
			}
			if rej := s.riskMgr.CheckHorizonLimit(h, openReal); rej != nil {
				metrics.EntriesRejected.WithLabelValues(rej.Breaker).Inc()
				rep.Rejected++
				logger.Infof("拒绝 %s %s: %s", sig.Instrument, h.Label(), rej.Reason)
				continue
			}

			res := s.sizer.Size(sizing.Inputs{
				WinRate:      wr,
				ProfitFactor: pred.ProfitFactor,
				SLPct:        levels.SLPct,
				Confidence:   pred.ConfidenceLevel,
				Horizon:      h,
				Sector:       sector,
				RegimeScale:  s.detector.HorizonScale(ctx, h, day),
			}, s.riskMgr.Capital())
			if res.PositionPct <= 0 {
				metrics.EntriesRejected.WithLabelValues("position_too_small").Inc()
				rep.Rejected++
				continue
			}
			trade.PositionPct = res.PositionPct
			trade.PositionValue, _ = res.PositionValue.Float64()

			created, err := s.st.InsertTrade(ctx, &trade)
			if err != nil {
				return rep, fmt.Errorf("开仓写入失败: %w", err)
			}
			if !created {
				logger.Infof("重复信号忽略: %s %s @ %s", sig.Instrument, h.Label(), trade.EntryDate.Format(dateLayout))
				continue
			}
			rep.Opened++
			metrics.TradesOpened.WithLabelValues(h.Label()).Inc()
			logger.Infof("开仓: %s %s %s @ %.2f (WR=%.0f%%, R:R=%.1fx, 仓位 %.2f%%)%s",
				sig.Instrument, h.Label(), trade.Direction, trade.EntryPrice,
				wr, levels.RRRatio, res.PositionPct,
				fbTag(fbSrc))
		}
	}

	// 被过滤信号按固定步长抽样为影子交易，跟踪过滤质量。
	if every := s.trading.ShadowSampleEvery; every > 0 {
		for i := range shadowPool {
			if i%every != 0 {
				continue
			}
			t := shadowPool[i]
			t.Shadow = true
			t.PositionPct = 0
			t.PositionValue = 0
			created, err := s.st.InsertTrade(ctx, &t)
			if err != nil {
				return rep, fmt.Errorf("影子交易写入失败: %w", err)
			}
			if created {
				rep.Shadow++
			}
		}
		if rep.Shadow > 0 {
			logger.Infof("影子跟踪 %d 个被过滤信号", rep.Shadow)
		}
	}

	if err := s.st.RecordScan(ctx, store.ScanRecord{
		Date:         dateStr,
		SignalsSeen:  rep.SignalsSeen,
		TradesOpened: rep.Opened,
		ShadowOpened: rep.Shadow,
		Rejected:     rep.Rejected,
	}); err != nil {
		return rep, fmt.Errorf("扫描水位写入失败: %w", err)
	}
	logger.Infof("扫描完成 %s: %d 信号，%d 开仓，%d 拒绝", dateStr, rep.SignalsSeen, rep.Opened, rep.Rejected)
	return rep, nil
}

// entryFilters 评估全部入场过滤器，返回拒绝原因（空切片即放行）。
// 反馈否决直接拒绝；反馈放宽则下调胜率/盈亏比阈值，周期级放宽幅度更大。
func (s *Session) entryFilters(snap domaincfg.Snapshot, patterns []string, h types.Horizon,
	wr float64, conf types.ConfidenceLevel, rr float64) []string {

	wrTh := snap.MinWinRateFor(h, s.trading.MinWinRate)
	rrTh := s.trading.MinRRRatio
	var skip []string
	for _, p := range patterns {
		if f, ok := s.fb.HorizonFilter(p, h.Label()); ok {
			switch f.Action {
			case types.FilterActionReject:
				skip = append(skip, fmt.Sprintf("周期反馈否决: %s", f.Reason))
			case types.FilterActionRelax:
				wrTh = math.Max(40.0, wrTh-8.0)
				rrTh = math.Max(1.0, rrTh-0.3)
			}
			continue
		}
		if f, ok := s.fb.PatternFilter(p); ok {
			switch f.Action {
			case types.FilterActionReject:
				skip = append(skip, fmt.Sprintf("形态反馈否决: %s", f.Reason))
			case types.FilterActionRelax:
				wrTh = math.Max(45.0, wrTh-5.0)
				rrTh = math.Max(1.2, rrTh-0.2)
			}
		}
	}
	if wr < wrTh {
		skip = append(skip, fmt.Sprintf("胜率不足 %.1f < %.1f", wr, wrTh))
	}
	if conf == types.ConfidenceLow {
		skip = append(skip, "低信心")
	}
	if rr < rrTh {
		skip = append(skip, fmt.Sprintf("盈亏比不足 %.1f < %.1f", rr, rrTh))
	}
	return skip
}

// buildTrade 把信号 + 预测 + 价位装配成待插入的交易。
// 入场价取次日开盘价，行情未就绪时退回信号收盘价。
func (s *Session) buildTrade(ctx context.Context, day time.Time, sig Signal,
	pred *types.Prediction, h types.Horizon, levels Levels, sector string, wr float64) types.Trade {

	entryDate := AddTradingDays(day, 1)
	entryPrice := s.entryOpen(ctx, sig.Instrument, entryDate, sig.Close)
	sl, target := priceLevels(entryPrice, levels.Direction, levels.SLPct, levels.TargetPct)

	return types.Trade{
		TraceID:          uuid.NewString(),
		Instrument:       sig.Instrument,
		Sector:           sector,
		Direction:        levels.Direction,
		Horizon:          h,
		Patterns:         append([]string(nil), sig.Patterns...),
		EntryPrice:       entryPrice,
		TargetPrice:      target,
		SLPrice:          sl,
		TargetPct:        levels.TargetPct,
		SLPct:            levels.SLPct,
		RRRatio:          levels.RRRatio,
		PredictedWinRate: math.Round(wr*10) / 10,
		PredictedPF:      pred.ProfitFactor,
		Confidence:       pred.ConfidenceLevel,
		NMatches:         pred.NMatches,
		Tier:             pred.Tier,
		TrendShort:       sig.TrendShort,
		EntryDate:        entryDate,
		ExpiryDate:       AddTradingDays(entryDate, h.Days()),
		Status:           types.TradeStatusOpen,
	}
}

// entryOpen 取入场日开盘价；日线尚未生成时退回信号收盘价。
func (s *Session) entryOpen(ctx context.Context, instrument string, entryDate time.Time, fallback float64) float64 {
	bars, err := s.bars.DailyBars(ctx, instrument, entryDate, entryDate)
	if err != nil || len(bars) == 0 {
		return fallback
	}
	for _, b := range bars {
		if sameDay(b.Date, entryDate) && b.Open > 0 {
			return b.Open
		}
	}
	return fallback
}

func fbTag(src string) string {
	if src == "" {
		return ""
	}
	return " [fb:" + src + "]"
}
