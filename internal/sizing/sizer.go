package sizing

import (
	"math"

	"traqo/internal/config"
	"traqo/internal/domaincfg"
	"traqo/internal/types"

	"github.com/shopspring/decimal"
)

// Inputs 是一次仓位计算的完整输入。
type Inputs struct {
	WinRate      float64 // 百分比（0-100）
	ProfitFactor float64
	SLPct        float64 // 本笔交易的止损幅度（%）
	Confidence   types.ConfidenceLevel
	Horizon      types.Horizon
	Sector       string
	RegimeScale  float64 // 市场状态缩放，0 表示禁止开仓
}

// Result 给出仓位结论及全部中间系数，便于审计复算。
type Result struct {
	KellyRawPct   float64 // 分数 Kelly 后、系数调整前（%）
	PositionPct   float64 // 最终资金占比（%），0 表示不开仓
	PositionValue decimal.Decimal
	RiskPerTrade  decimal.Decimal // 止损触发时的预期亏损额
	RiskPctCap    float64

	ConfMultiplier    float64
	HorizonMultiplier float64
	SectorMultiplier  float64
	RegimeScale       float64

	AvgWinEst  float64
	AvgLossEst float64
}

// Sizer 分数 Kelly 仓位计算器。纯函数，无副作用。
type Sizer struct {
	cfg    config.SizingConfig
	tables func() domaincfg.Snapshot
}

// NewSizer 构建仓位计算器。
func NewSizer(cfg config.SizingConfig, tables func() domaincfg.Snapshot) *Sizer {
	return &Sizer{cfg: cfg, tables: tables}
}

// kelly 计算分数 Kelly 持仓比例（0-1），裁剪到配置上限。
func (s *Sizer) kelly(winProb, avgWin, avgLoss float64) float64 {
	if avgLoss <= 0 || winProb <= 0 || winProb >= 1 {
		return 0
	}
	r := avgWin / avgLoss
	kelly := winProb - (1-winProb)/r
	kelly *= s.cfg.KellyFraction
	return math.Max(0, math.Min(kelly, s.cfg.MaxPositionPct/100))
}

// Size 根据预测统计与当前资金计算仓位。
// 结果低于最低仓位时归零（不开仓），这是预期输出而非错误。
func (s *Sizer) Size(in Inputs, capital decimal.Decimal) Result {
	snap := s.tables()
	res := Result{
		RegimeScale:       in.RegimeScale,
		HorizonMultiplier: snap.HorizonSizeMultiplier(in.Horizon),
		SectorMultiplier:  snap.SectorVolMultiplier(in.Sector),
		PositionValue:     decimal.Zero,
		RiskPerTrade:      decimal.Zero,
	}
	switch in.Confidence {
	case types.ConfidenceHigh:
		res.ConfMultiplier = 1.0
	case types.ConfidenceMedium:
		res.ConfMultiplier = 0.7
	case types.ConfidenceLow:
		res.ConfMultiplier = 0.4
	default:
		res.ConfMultiplier = 0.5
	}

	w := in.WinRate / 100
	// 由 PF 恒等式反推平均盈亏：PF = (w·avg_win) / ((1-w)·avg_loss)，avg_loss ≈ 止损幅度
	avgLoss := in.SLPct
	avgWin := avgLoss
	if w > 0 && w < 1 {
		avgWin = in.ProfitFactor * (1 - w) * avgLoss / w
	}
	res.AvgWinEst = round4(avgWin)
	res.AvgLossEst = round4(avgLoss)

	kellyRaw := s.kelly(w, avgWin, avgLoss)
	res.KellyRawPct = round2(kellyRaw * 100)

	pct := kellyRaw * res.ConfMultiplier * 100
	pct *= res.HorizonMultiplier
	pct *= res.SectorMultiplier
	pct *= in.RegimeScale

	if pct < s.cfg.MinPositionPct {
		pct = 0
	}
	pct = math.Min(pct, s.cfg.MaxPositionPct)
	res.PositionPct = round2(pct)

	if res.PositionPct > 0 {
		pctDec := decimal.NewFromFloat(res.PositionPct)
		res.PositionValue = capital.Mul(pctDec).Div(decimal.NewFromInt(100)).Round(2)
		res.RiskPerTrade = res.PositionValue.Mul(decimal.NewFromFloat(in.SLPct)).Div(decimal.NewFromInt(100)).Round(2)
		res.RiskPctCap = math.Round(res.PositionPct*in.SLPct/100*10000) / 10000
	}
	return res
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
