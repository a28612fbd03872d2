package trader

import (
	"context"
	"fmt"
	"math"
	"time"

	"traqo/internal/logger"
	"traqo/internal/metrics"
	"traqo/internal/types"
)

// 平仓原因，反馈推导规则依赖这些字面值。
const (
	ExitReasonSL      = "stop_loss_hit"
	ExitReasonTarget  = "target_hit"
	ExitReasonExpired = "expired"
)

// monitorDay 逐根日线检查全部未平仓交易：止损优先于目标价，
// 到期日由当日收盘强制平仓。已平仓交易是无操作，重复执行幂等。
func (s *Session) monitorDay(ctx context.Context, day time.Time) (closed, shadowClosed int, err error) {
	open, err := s.st.ListOpenTrades(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("持仓列表读取失败: %w", err)
	}
	if len(open) == 0 {
		logger.Debugf("无持仓可监控")
		return 0, 0, nil
	}
	logger.Infof("监控 %d 个持仓 @ %s", len(open), day.Format(dateLayout))

	byInstrument := make(map[string][]types.Trade)
	order := make([]string, 0, len(open))
	for _, t := range open {
		if _, ok := byInstrument[t.Instrument]; !ok {
			order = append(order, t.Instrument)
		}
		byInstrument[t.Instrument] = append(byInstrument[t.Instrument], t)
	}

	for _, instrument := range order {
		trades := byInstrument[instrument]
		earliest := trades[0].EntryDate
		for _, t := range trades[1:] {
			if t.EntryDate.Before(earliest) {
				earliest = t.EntryDate
			}
		}
		bars, err := s.bars.DailyBars(ctx, instrument, earliest, day)
		if err != nil {
			logger.Warnf("监控 %s 行情读取失败: %v", instrument, err)
			continue
		}
		if len(bars) == 0 {
			continue
		}
		for i := range trades {
			c, sc, err := s.monitorTrade(ctx, &trades[i], bars, day)
			if err != nil {
				return closed, shadowClosed, err
			}
			closed += c
			shadowClosed += sc
		}
	}
	metrics.OpenPositions.Set(float64(len(open) - closed - shadowClosed))
	logger.Infof("监控完成: %d 平仓, %d 影子平仓", closed, shadowClosed)
	return closed, shadowClosed, nil
}

// monitorTrade 回放入场次日起的日线，命中止损/目标即平仓，
// 未命中且过了到期日则按到期日内最后一根收盘价平仓。
func (s *Session) monitorTrade(ctx context.Context, t *types.Trade, bars []OHLCBar, day time.Time) (closed, shadowClosed int, err error) {
	cutoff := day
	if t.ExpiryDate.Before(cutoff) {
		cutoff = t.ExpiryDate
	}
	slBreached := false
	var lastInWindow *OHLCBar

	for i := range bars {
		b := bars[i]
		if !b.Date.After(dateOnly(t.EntryDate)) || b.Date.After(dateOnly(cutoff)) {
			continue
		}
		lastInWindow = &bars[i]
		if breachesSL(t, b) {
			slBreached = true
		}
		if exit, ok := checkExit(t, b); ok {
			exit.SLWouldHit = slBreached
			if err := s.closeTrade(ctx, t, exit); err != nil {
				return 0, 0, err
			}
			if t.Shadow {
				return 0, 1, nil
			}
			return 1, 0, nil
		}
	}

	// 到期检查：窗口内有行情且已到期，按最后收盘价了结。
	if !dateOnly(day).Before(dateOnly(t.ExpiryDate)) && lastInWindow != nil {
		ret := calcReturn(t, lastInWindow.Close)
		exit := tradeExit{
			Status:     types.TradeStatusClosedExpiry,
			Price:      lastInWindow.Close,
			Date:       lastInWindow.Date,
			Reason:     ExitReasonExpired,
			Return:     ret,
			SLWouldHit: slBreached,
		}
		if err := s.closeTrade(ctx, t, exit); err != nil {
			return 0, 0, err
		}
		if t.Shadow {
			return 0, 1, nil
		}
		return 1, 0, nil
	}
	return 0, 0, nil
}

type tradeExit struct {
	Status     types.TradeStatus
	Price      float64
	Date       time.Time
	Reason     string
	Return     float64
	SLWouldHit bool
}

// checkExit 在单根日线上判断出场：止损优先于目标价。
// 同一根内双触发时按保守假设认定止损先发生。
func checkExit(t *types.Trade, b OHLCBar) (tradeExit, bool) {
	if t.Direction == types.DirectionBullish {
		if b.Low <= t.SLPrice {
			return tradeExit{Status: types.TradeStatusClosedSL, Price: t.SLPrice, Date: b.Date,
				Reason: ExitReasonSL, Return: calcReturn(t, t.SLPrice)}, true
		}
		if b.High >= t.TargetPrice {
			return tradeExit{Status: types.TradeStatusClosedTarget, Price: t.TargetPrice, Date: b.Date,
				Reason: ExitReasonTarget, Return: calcReturn(t, t.TargetPrice)}, true
		}
		return tradeExit{}, false
	}
	if b.High >= t.SLPrice {
		return tradeExit{Status: types.TradeStatusClosedSL, Price: t.SLPrice, Date: b.Date,
			Reason: ExitReasonSL, Return: calcReturn(t, t.SLPrice)}, true
	}
	if b.Low <= t.TargetPrice {
		return tradeExit{Status: types.TradeStatusClosedTarget, Price: t.TargetPrice, Date: b.Date,
			Reason: ExitReasonTarget, Return: calcReturn(t, t.TargetPrice)}, true
	}
	return tradeExit{}, false
}

func breachesSL(t *types.Trade, b OHLCBar) bool {
	if t.Direction == types.DirectionBullish {
		return b.Low <= t.SLPrice
	}
	return b.High >= t.SLPrice
}

// calcReturn 按方向计算已实现收益（%）。
func calcReturn(t *types.Trade, exitPrice float64) float64 {
	if t.EntryPrice == 0 {
		return 0
	}
	if t.Direction == types.DirectionBullish {
		return math.Round((exitPrice-t.EntryPrice)/t.EntryPrice*100*100) / 100
	}
	return math.Round((t.EntryPrice-exitPrice)/t.EntryPrice*100*100) / 100
}

// closeTrade 落平仓字段；真实交易同事务更新风控状态。
// 落库失败视为致命错误，调用方中止会话。
func (s *Session) closeTrade(ctx context.Context, t *types.Trade, exit tradeExit) error {
	t.Status = exit.Status
	t.ExitPrice = exit.Price
	t.ExitDate = exit.Date
	t.ExitReason = exit.Reason
	t.ActualReturn = exit.Return
	t.SLWouldHit = exit.SLWouldHit

	var st *types.RiskState
	if !t.Shadow {
		st = s.riskMgr.ApplyClose(tradePnL(*t))
	}
	ok, err := s.st.CloseTrade(ctx, t, st)
	if err != nil {
		return fmt.Errorf("平仓落库失败 trade=%d: %w", t.ID, err)
	}
	if !ok {
		// 已是终态，无操作。
		logger.Debugf("交易 %d 已平仓，跳过", t.ID)
		return nil
	}
	metrics.TradesClosed.WithLabelValues(exit.Reason).Inc()
	logger.Infof("平仓: %s %s → %s (%+.2f%%)%s",
		t.Instrument, t.Horizon.Label(), t.Status, exit.Return, shadowTag(t.Shadow))
	return nil
}

func shadowTag(shadow bool) string {
	if shadow {
		return " [shadow]"
	}
	return ""
}
