package types

import "time"

// AdjustmentRecord 是某个复合键下的纸面交易聚合结果。
// 仅由反馈摄取重建，预测阶段只读。
type AdjustmentRecord struct {
	Key                  FeedbackKey
	Kind                 SegmentKind
	TotalTrades          int
	Wins                 int
	WinRate              float64 // 原始胜率（0-100）
	DecayWeightedWinRate float64 // 时间衰减加权胜率，近期交易权重更高
	AvgReturn            float64
	UpdatedAt            time.Time
}

// BlendBase 返回混合使用的胜率：优先衰减加权值。
func (a AdjustmentRecord) BlendBase() float64 {
	if a.DecayWeightedWinRate > 0 {
		return a.DecayWeightedWinRate
	}
	return a.WinRate
}

// Rule 是定性经验规则，对预测信心做有符号修正。
type Rule struct {
	Context    string  `yaml:"context"`
	Confidence float64 `yaml:"confidence"`
	Text       string  `yaml:"rule"`
	Type       string  `yaml:"type"` // prefer / adjust / avoid
}

// FilterAdjustment 是扫描过滤阶段的经验性放宽或否决。
type FilterAdjustment struct {
	Key      string
	ActualWR float64
	Trades   int
	Action   string // reject / relax
	Reason   string
}

const (
	FilterActionReject = "reject"
	FilterActionRelax  = "relax"
)
