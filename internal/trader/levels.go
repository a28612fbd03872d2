package trader

import (
	"math"

	"traqo/internal/config"
	"traqo/internal/types"
)

// horizonLevelParams 是各持仓周期的止损缩放与最低盈亏比。
// 短周期收紧止损，长周期放宽；25d 不在交易范围内。
type horizonLevelParams struct {
	slScale float64 // ATR 止损乘数的周期缩放
	slCap   float64 // 止损上限（%）
	rrMin   float64 // 目标价最低盈亏比
}

var horizonLevels = map[types.Horizon]horizonLevelParams{
	types.HorizonBTST:    {slScale: 0.7, slCap: 2.5, rrMin: 1.5},
	types.HorizonSwing3:  {slScale: 0.8, slCap: 3.5, rrMin: 1.8},
	types.HorizonSwing5:  {slScale: 1.0, slCap: 5.0, rrMin: 2.0},
	types.HorizonSwing10: {slScale: 1.2, slCap: 5.0, rrMin: 2.0},
}

// tradeableHorizons 按长度升序，扫描对每个周期独立评估。
var tradeableHorizons = []types.Horizon{
	types.HorizonBTST, types.HorizonSwing3, types.HorizonSwing5, types.HorizonSwing10,
}

// Levels 是单一周期上计算出的入场参数。
// 价格按实际成交价另行推导，这里只给百分比。
type Levels struct {
	Direction types.Direction
	SLPct     float64
	TargetPct float64
	RRRatio   float64
}

// priceLevels 由成交价与百分比推导止损/目标价。
func priceLevels(entry float64, direction types.Direction, slPct, targetPct float64) (sl, target float64) {
	if direction == types.DirectionBullish {
		return round2p(entry * (1 - slPct/100)), round2p(entry * (1 + targetPct/100))
	}
	return round2p(entry * (1 + slPct/100)), round2p(entry * (1 - targetPct/100))
}

// computeLevels 由 ATR 推导某周期的止损/目标价。
// 结构性形态（头肩、双底类）用更宽的止损乘数，避免被颈线回抽扫掉。
func computeLevels(h types.Horizon, sig Signal, pred *types.Prediction,
	structural bool, cfg config.SizingConfig) (Levels, bool) {

	params, ok := horizonLevels[h]
	if !ok || sig.Close <= 0 {
		return Levels{}, false
	}
	slMult := cfg.StandardSLMultiplier
	if structural {
		slMult = cfg.StructuralSLMultiplier
	}
	atr := sig.ATR
	if atr <= 0 {
		atr = sig.Close * 0.015
	}
	slPct := params.slScale * slMult * atr / sig.Close * 100
	slPct = math.Max(cfg.SLFloorPct, math.Min(params.slCap, slPct))

	// 周期方向：有该周期统计则用其方向，否则退回主方向。
	direction := pred.Direction
	var avgRet float64
	if hs, ok := pred.Horizons[h]; ok {
		if hs.Direction == types.DirectionBullish || hs.Direction == types.DirectionBearish {
			direction = hs.Direction
		}
		avgRet = math.Abs(hs.AvgReturn)
	}

	targetPct := slPct * params.rrMin
	if avgRet > targetPct {
		targetPct = avgRet
	}

	rr := 0.0
	if slPct > 0 {
		rr = math.Round(targetPct/slPct*10) / 10
	}
	return Levels{
		Direction: direction,
		SLPct:     math.Round(slPct*100) / 100,
		TargetPct: math.Round(targetPct*100) / 100,
		RRRatio:   rr,
	}, true
}

func round2p(v float64) float64 { return math.Round(v*100) / 100 }
