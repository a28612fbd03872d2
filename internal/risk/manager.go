package risk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"traqo/internal/config"
	"traqo/internal/logger"
	"traqo/internal/metrics"
	"traqo/internal/types"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Repository 是风控状态的持久化端口。写失败必须上抛：
// 风控状态是安全关键数据，绝不允许静默回退到默认值。
type Repository interface {
	LoadRiskState(ctx context.Context) (*types.RiskState, error)
	SaveRiskState(ctx context.Context, st *types.RiskState) error
}

// 熔断器名称，拒绝原因与指标标签共用。
const (
	BreakerDailyLoss       = "daily_loss"
	BreakerDailyTrades     = "max_daily_trades"
	BreakerConsecutive     = "consecutive_losses"
	BreakerDrawdown        = "max_drawdown"
	BreakerMonthlyLoss     = "monthly_loss"
	BreakerCooldown        = "in_cooldown"
	GateSectorLimit        = "sector_limit"
	GateHorizonWeight      = "horizon_weight_limit"
)

// Rejection 是一次带名称的风控拒绝，属正常控制流而非错误。
type Rejection struct {
	Breaker string
	Current float64
	Limit   float64
	Reason  string
}

func (r *Rejection) String() string {
	if r == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", r.Breaker, r.Reason)
}

// Manager 维护账户风控状态并执行熔断检查。
// 所有修改经由单一会话 goroutine，内部锁只用于 HTTP 只读快照。
type Manager struct {
	cfg  config.RiskConfig
	repo Repository

	mu sync.Mutex
	st *types.RiskState

	nowFn func() time.Time
}

// NewManager 加载持久化状态，不存在则按初始资金新建。
// 重载后的 CanTrade 判定与落库前完全一致。
func NewManager(ctx context.Context, cfg config.RiskConfig, repo Repository) (*Manager, error) {
	if repo == nil {
		return nil, fmt.Errorf("风控存储未初始化")
	}
	m := &Manager{cfg: cfg, repo: repo, nowFn: time.Now}
	st, err := repo.LoadRiskState(ctx)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		st = types.NewRiskState(decimal.NewFromFloat(cfg.InitialCapital), m.nowFn())
		if err := repo.SaveRiskState(ctx, st); err != nil {
			return nil, fmt.Errorf("风控状态初始化落库失败: %w", err)
		}
		logger.Infof("风控状态新建: 初始资金 %s", st.Capital.StringFixed(2))
	case err != nil:
		return nil, fmt.Errorf("风控状态加载失败: %w", err)
	default:
		logger.Infof("风控状态已恢复: 资金 %s, 峰值 %s, 连亏 %d",
			st.Capital.StringFixed(2), st.PeakCapital.StringFixed(2), st.ConsecutiveLosses)
	}
	m.st = st
	m.rollover()
	m.publishGauges()
	return m, nil
}

// rollover 跨日/跨月时重置对应计数与熔断器。回撤熔断器不随日期重置。
func (m *Manager) rollover() {
	now := m.nowFn()
	if d := now.Format("2006-01-02"); d != m.st.CurrentDate {
		m.st.CurrentDate = d
		m.st.TradesToday = 0
		m.st.DailyPnL = decimal.Zero
		m.st.DailyLossBreaker = false
		m.st.DailyTradesBreaker = false
	}
	if mo := now.Format("2006-01"); mo != m.st.CurrentMonth {
		m.st.CurrentMonth = mo
		m.st.MonthlyPnL = decimal.Zero
		m.st.MonthlyLossBreaker = false
	}
}

// inCooldown 判断冷却期；到期时顺带清除连亏熔断器。
func (m *Manager) inCooldown() bool {
	if m.st.CooldownUntil == nil {
		return false
	}
	if m.nowFn().Before(*m.st.CooldownUntil) {
		return true
	}
	m.st.CooldownUntil = nil
	m.st.ConsecutiveLossBreaker = false
	return false
}

func (m *Manager) triggerCooldown(breaker, reason string) {
	until := m.nowFn().Add(time.Duration(m.cfg.CooldownMinutes) * time.Minute)
	m.st.CooldownUntil = &until
	metrics.BreakerTrips.WithLabelValues(breaker).Inc()
	logger.Warnf("熔断触发 [%s]: %s, 冷却至 %s", breaker, reason, until.Format("15:04:05"))
}

// CanTrade 当且仅当所有熔断器清除且不在冷却期时返回 true。
// 拒绝时返回首个命中的熔断器及当前值/阈值。
func (m *Manager) CanTrade() (bool, *Rejection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canTradeLocked()
}

func (m *Manager) canTradeLocked() (bool, *Rejection) {
	m.rollover()

	if m.st.DrawdownBreaker {
		dd := m.st.DrawdownPct()
		return false, &Rejection{Breaker: BreakerDrawdown, Current: dd, Limit: m.cfg.MaxDrawdownPct,
			Reason: fmt.Sprintf("回撤 %.2f%% >= %.2f%%", dd, m.cfg.MaxDrawdownPct)}
	}
	if m.inCooldown() {
		return false, &Rejection{Breaker: BreakerCooldown,
			Reason: fmt.Sprintf("冷却期至 %s", m.st.CooldownUntil.Format("15:04:05"))}
	}
	if m.st.DailyLossBreaker {
		return false, &Rejection{Breaker: BreakerDailyLoss, Current: m.dailyLossPct(), Limit: m.cfg.MaxDailyLossPct,
			Reason: fmt.Sprintf("日内亏损 %.2f%% >= %.2f%%", m.dailyLossPct(), m.cfg.MaxDailyLossPct)}
	}
	if m.st.DailyTradesBreaker {
		return false, &Rejection{Breaker: BreakerDailyTrades, Current: float64(m.st.TradesToday), Limit: float64(m.cfg.MaxDailyTrades),
			Reason: fmt.Sprintf("日内交易数 %d >= %d", m.st.TradesToday, m.cfg.MaxDailyTrades)}
	}
	if m.st.ConsecutiveLossBreaker {
		return false, &Rejection{Breaker: BreakerConsecutive, Current: float64(m.st.ConsecutiveLosses), Limit: float64(m.cfg.MaxConsecutiveLosses),
			Reason: fmt.Sprintf("连续亏损 %d 笔", m.st.ConsecutiveLosses)}
	}
	if m.st.MonthlyLossBreaker {
		return false, &Rejection{Breaker: BreakerMonthlyLoss, Current: m.monthlyLossPct(), Limit: m.cfg.MaxMonthlyLossPct,
			Reason: fmt.Sprintf("月度亏损 %.2f%% >= %.2f%%", m.monthlyLossPct(), m.cfg.MaxMonthlyLossPct)}
	}
	return true, nil
}

func (m *Manager) dailyLossPct() float64 {
	if m.st.DailyPnL.Sign() >= 0 || m.st.Capital.IsZero() {
		return 0
	}
	pct, _ := m.st.DailyPnL.Abs().Div(m.st.Capital).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}

func (m *Manager) monthlyLossPct() float64 {
	if m.st.MonthlyPnL.Sign() >= 0 || m.st.InitialCapital.IsZero() {
		return 0
	}
	pct, _ := m.st.MonthlyPnL.Abs().Div(m.st.InitialCapital).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}

// RecordTrade 记录一笔平仓并重估全部熔断器，状态变更整体落库。
// 落库失败视为致命错误上抛，调用方应中止会话。
func (m *Manager) RecordTrade(ctx context.Context, pnl decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover()
	m.recordLocked(pnl)

	if err := m.repo.SaveRiskState(ctx, m.st); err != nil {
		return fmt.Errorf("风控状态落库失败: %w", err)
	}
	m.publishGauges()
	return nil
}

// ApplyClose 更新状态并返回快照，持久化交给调用方，
// 以便把状态写入与平仓更新合并为同一事务。落库失败时
// 调用方应中止会话，避免内存状态与库内快照分叉。
func (m *Manager) ApplyClose(pnl decimal.Decimal) *types.RiskState {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover()
	m.recordLocked(pnl)
	m.publishGauges()
	snap := *m.st
	return &snap
}

func (m *Manager) recordLocked(pnl decimal.Decimal) {
	m.st.TradesToday++
	m.st.Capital = m.st.Capital.Add(pnl)
	m.st.DailyPnL = m.st.DailyPnL.Add(pnl)
	m.st.MonthlyPnL = m.st.MonthlyPnL.Add(pnl)
	if pnl.Sign() < 0 {
		m.st.ConsecutiveLosses++
	} else {
		m.st.ConsecutiveLosses = 0
	}
	if m.st.Capital.GreaterThan(m.st.PeakCapital) {
		m.st.PeakCapital = m.st.Capital
	}

	if pct := m.dailyLossPct(); pct >= m.cfg.MaxDailyLossPct && !m.st.DailyLossBreaker {
		m.st.DailyLossBreaker = true
		m.triggerCooldown(BreakerDailyLoss, fmt.Sprintf("日内亏损 %.2f%%", pct))
	}
	if m.st.ConsecutiveLosses >= m.cfg.MaxConsecutiveLosses && !m.st.ConsecutiveLossBreaker {
		m.st.ConsecutiveLossBreaker = true
		m.triggerCooldown(BreakerConsecutive, fmt.Sprintf("连续亏损 %d 笔", m.st.ConsecutiveLosses))
	}
	if dd := m.st.DrawdownPct(); dd >= m.cfg.MaxDrawdownPct && !m.st.DrawdownBreaker {
		m.st.DrawdownBreaker = true
		m.triggerCooldown(BreakerDrawdown, fmt.Sprintf("回撤 %.2f%%", dd))
	}
	if m.st.TradesToday >= m.cfg.MaxDailyTrades && !m.st.DailyTradesBreaker {
		m.st.DailyTradesBreaker = true
		metrics.BreakerTrips.WithLabelValues(BreakerDailyTrades).Inc()
	}
	if pct := m.monthlyLossPct(); pct >= m.cfg.MaxMonthlyLossPct && !m.st.MonthlyLossBreaker {
		m.st.MonthlyLossBreaker = true
		m.triggerCooldown(BreakerMonthlyLoss, fmt.Sprintf("月度亏损 %.2f%%", pct))
	}

	m.st.UpdatedAt = m.nowFn()
}

// CheckSectorLimit 前置门控：同板块并发持仓不得超过上限。
func (m *Manager) CheckSectorLimit(sector string, open []types.Trade) *Rejection {
	count := 0
	for _, t := range open {
		if t.Sector == sector {
			count++
		}
	}
	if count >= m.cfg.MaxPositionsPerSector {
		return &Rejection{Breaker: GateSectorLimit, Current: float64(count), Limit: float64(m.cfg.MaxPositionsPerSector),
			Reason: fmt.Sprintf("板块 %s 已有 %d/%d 个持仓", sector, count, m.cfg.MaxPositionsPerSector)}
	}
	return nil
}

// CheckHorizonLimit 前置门控：按周期加权的并发持仓限制。
// 长周期锁定资金更久，占用权重 = horizon/5。
func (m *Manager) CheckHorizonLimit(horizon types.Horizon, open []types.Trade) *Rejection {
	var weight float64
	for _, t := range open {
		weight += t.Horizon.Weight()
	}
	newWeight := horizon.Weight()
	limit := float64(m.cfg.MaxConcurrentPositions)
	if weight+newWeight > limit {
		return &Rejection{Breaker: GateHorizonWeight, Current: weight + newWeight, Limit: limit,
			Reason: fmt.Sprintf("加权持仓 %.1f + %.1f 超过上限 %.0f", weight, newWeight, limit)}
	}
	return nil
}

// ResetBreakers 人工复位全部熔断器，必须显式确认。
func (m *Manager) ResetBreakers(ctx context.Context, confirm bool) error {
	if !confirm {
		return fmt.Errorf("复位熔断器需要显式确认")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.DailyLossBreaker = false
	m.st.DailyTradesBreaker = false
	m.st.ConsecutiveLossBreaker = false
	m.st.DrawdownBreaker = false
	m.st.MonthlyLossBreaker = false
	m.st.CooldownUntil = nil
	m.st.ConsecutiveLosses = 0
	m.st.MonthlyPnL = decimal.Zero
	m.st.UpdatedAt = m.nowFn()
	if err := m.repo.SaveRiskState(ctx, m.st); err != nil {
		return fmt.Errorf("风控状态落库失败: %w", err)
	}
	logger.Warnf("全部熔断器已人工复位")
	return nil
}

// Status 返回只读状态快照（ops 接口用）。
func (m *Manager) Status() StatusView {
	m.mu.Lock()
	defer m.mu.Unlock()
	ok, rej := m.canTradeLocked()
	view := StatusView{
		CanTrade:          ok,
		Capital:           m.st.Capital.StringFixed(2),
		InitialCapital:    m.st.InitialCapital.StringFixed(2),
		PeakCapital:       m.st.PeakCapital.StringFixed(2),
		DrawdownPct:       m.st.DrawdownPct(),
		DailyPnL:          m.st.DailyPnL.StringFixed(2),
		MonthlyPnL:        m.st.MonthlyPnL.StringFixed(2),
		TradesToday:       m.st.TradesToday,
		ConsecutiveLosses: m.st.ConsecutiveLosses,
		Breakers: map[string]bool{
			BreakerDailyLoss:   m.st.DailyLossBreaker,
			BreakerDailyTrades: m.st.DailyTradesBreaker,
			BreakerConsecutive: m.st.ConsecutiveLossBreaker,
			BreakerDrawdown:    m.st.DrawdownBreaker,
			BreakerMonthlyLoss: m.st.MonthlyLossBreaker,
		},
	}
	if rej != nil {
		view.RejectReason = rej.String()
	}
	if m.st.CooldownUntil != nil {
		view.CooldownUntil = m.st.CooldownUntil.Format(time.RFC3339)
	}
	return view
}

// StatusView 是对外暴露的风控状态快照。
type StatusView struct {
	CanTrade          bool            `json:"can_trade"`
	RejectReason      string          `json:"reject_reason,omitempty"`
	Capital           string          `json:"capital"`
	InitialCapital    string          `json:"initial_capital"`
	PeakCapital       string          `json:"peak_capital"`
	DrawdownPct       float64         `json:"drawdown_pct"`
	DailyPnL          string          `json:"daily_pnl"`
	MonthlyPnL        string          `json:"monthly_pnl"`
	TradesToday       int             `json:"trades_today"`
	ConsecutiveLosses int             `json:"consecutive_losses"`
	Breakers          map[string]bool `json:"breakers"`
	CooldownUntil     string          `json:"cooldown_until,omitempty"`
}

func (m *Manager) publishGauges() {
	capital, _ := m.st.Capital.Float64()
	metrics.Capital.Set(capital)
	metrics.DrawdownPct.Set(m.st.DrawdownPct())
}

// Capital 返回当前资金（仓位计算用）。
func (m *Manager) Capital() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.Capital
}
