package types

// Horizon 是以交易日计的持仓周期。
type Horizon int

const (
	HorizonBTST    Horizon = 1
	HorizonSwing3  Horizon = 3
	HorizonSwing5  Horizon = 5 // 主周期
	HorizonSwing10 Horizon = 10
	HorizonSwing25 Horizon = 25
)

// PrimaryHorizon 是聚合与信心计算使用的主周期。
const PrimaryHorizon = HorizonSwing5

// AllHorizons 按长度升序列出全部受支持周期。
var AllHorizons = []Horizon{HorizonBTST, HorizonSwing3, HorizonSwing5, HorizonSwing10, HorizonSwing25}

var horizonLabels = map[Horizon]string{
	HorizonBTST:    "BTST_1d",
	HorizonSwing3:  "Swing_3d",
	HorizonSwing5:  "Swing_5d",
	HorizonSwing10: "Swing_10d",
	HorizonSwing25: "Swing_25d",
}

// Label 返回周期的反馈分段标签（如 "Swing_5d"）。
func (h Horizon) Label() string {
	if l, ok := horizonLabels[h]; ok {
		return l
	}
	return ""
}

// Days 返回持仓天数。
func (h Horizon) Days() int { return int(h) }

// Weight 返回并发仓位占用的槽位权重：周期越长锁定资金越久。
func (h Horizon) Weight() float64 { return float64(h) / float64(PrimaryHorizon) }

// ParseHorizonLabel 由标签反查周期，未知标签返回 (0, false)。
func ParseHorizonLabel(label string) (Horizon, bool) {
	for h, l := range horizonLabels {
		if l == label {
			return h, true
		}
	}
	return 0, false
}
