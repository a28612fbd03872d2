package types

// Tier 表示检索时实际使用的上下文放宽层级。
type Tier int

const (
	TierNone Tier = 0 // 未达到任何层级的最低样本量
	Tier1    Tier = 1 // timeframe ∧ trend ∧ vol_zone ∧ price_pos
	Tier2    Tier = 2 // timeframe ∧ trend
	Tier3    Tier = 3 // timeframe
	Tier4    Tier = 4 // 仅形态
)

var tierNames = map[Tier]string{
	TierNone: "insufficient",
	Tier1:    "tier_1_exact",
	Tier2:    "tier_2_relax_zone",
	Tier3:    "tier_3_relax_trend",
	Tier4:    "tier_4_pattern_only",
}

func (t Tier) String() string {
	if s, ok := tierNames[t]; ok {
		return s
	}
	return "unknown"
}

// Quality 返回该层级的历史质量权重，用于信心公式。
func (t Tier) Quality() float64 {
	switch t {
	case Tier1:
		return 1.0
	case Tier2:
		return 0.8
	case Tier3:
		return 0.5
	case Tier4:
		return 0.3
	default:
		return 0.1
	}
}

// ConfidenceLevel 是信心分数的离散档位。
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "HIGH"
	ConfidenceMedium ConfidenceLevel = "MEDIUM"
	ConfidenceLow    ConfidenceLevel = "LOW"
)

// LevelForScore 按固定阈值划分信心档位：>0.55 HIGH，>0.35 MEDIUM，否则 LOW。
func LevelForScore(score float64) ConfidenceLevel {
	switch {
	case score > 0.55:
		return ConfidenceHigh
	case score > 0.35:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// HorizonStats 是单一周期上的聚合统计。
type HorizonStats struct {
	Direction    Direction
	BullishPct   float64
	BearishPct   float64
	BullishEdge  float64 // 基准率修正后的多头优势（百分点）
	BearishEdge  float64
	AvgReturn    float64
	MedianReturn float64
	StdReturn    float64
	MinReturn    float64
	MaxReturn    float64
	Count        int
}

// Edge 返回占优方向的修正优势。
func (h HorizonStats) Edge() float64 {
	if h.BearishEdge > h.BullishEdge {
		return h.BearishEdge
	}
	return h.BullishEdge
}

// Prediction 是预测器的瞬态输出，直接交给仓位与风控消费，不落库。
type Prediction struct {
	Pattern  string
	Tier     Tier
	NMatches int
	// DroppedFields 记录级联放宽时丢弃的上下文约束，便于测试直接断言。
	DroppedFields []string

	Horizons map[Horizon]HorizonStats

	// 主周期细节
	Direction    Direction
	BullishEdge  float64
	BearishEdge  float64
	AvgReturn    float64
	MedianReturn float64

	WinRate      float64 // 百分比（0-100）
	ProfitFactor float64
	SLWinRate    float64 // 止损模拟后的胜率
	SLProfitFactor float64
	SLTriggerPct float64
	AvgMFE       float64
	AvgMAE       float64
	RRRatio      float64
	StopLossPct  float64 // 本次信号适用的 ATR 止损（已夹取）

	ConfidenceScore float64
	ConfidenceLevel ConfidenceLevel

	InstrumentDiversity int

	// 反馈混合审计字段：保留混合前原始值用于 A/B 比对。
	RawWinRate    float64
	RawConfidence float64
	FeedbackApplied bool
	FeedbackSource  string
	FeedbackPaperWR float64
	FeedbackTrades  int
	BlendWeight     float64
	ConfAdjustment  float64
}

// PrimaryStats 返回主周期统计；缺失时第二返回值为 false。
func (p *Prediction) PrimaryStats() (HorizonStats, bool) {
	s, ok := p.Horizons[PrimaryHorizon]
	return s, ok
}

// Edge 返回预测方向上的修正优势。
func (p *Prediction) Edge() float64 {
	if p.Direction == DirectionBearish {
		return p.BearishEdge
	}
	return p.BullishEdge
}
