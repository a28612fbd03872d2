package types

import "strings"

// SegmentKind 标识调整记录的分段维度。
type SegmentKind string

const (
	SegmentPattern SegmentKind = "pattern"           // pattern
	SegmentTrend   SegmentKind = "regime"            // pattern + trend
	SegmentHorizon SegmentKind = "horizon"           // pattern + horizon
	SegmentTriple  SegmentKind = "triple"            // pattern + trend + horizon
	SegmentSector  SegmentKind = "sector"            // pattern + sector
)

// FeedbackKey 是调整记录的结构化复合键。
// 旧实现用 "pattern__trend__horizon" 字符串拼接，极易因字段缺失
// 静默降级到更宽的分段；这里改为显式可选字段。
type FeedbackKey struct {
	Pattern string
	Trend   string // 可选
	Horizon string // 可选，周期标签
	Sector  string // 可选
}

// Kind 根据已填字段推断分段维度。Trend+Sector 或 Horizon+Sector
// 不是合法组合，调用方不应构造。
func (k FeedbackKey) Kind() SegmentKind {
	switch {
	case k.Trend != "" && k.Horizon != "":
		return SegmentTriple
	case k.Horizon != "":
		return SegmentHorizon
	case k.Sector != "":
		return SegmentSector
	case k.Trend != "":
		return SegmentTrend
	default:
		return SegmentPattern
	}
}

// Encode 生成存储主键。保留旧格式以便平滑迁移既有反馈数据。
func (k FeedbackKey) Encode() string {
	parts := []string{k.Pattern}
	if k.Trend != "" {
		parts = append(parts, k.Trend)
	}
	if k.Horizon != "" {
		parts = append(parts, k.Horizon)
	}
	if k.Sector != "" {
		parts = append(parts, k.Sector)
	}
	return strings.Join(parts, "__")
}

// Valid 校验键的完整性：pattern 必填，Trend/Horizon/Sector 组合合法。
func (k FeedbackKey) Valid() bool {
	if strings.TrimSpace(k.Pattern) == "" {
		return false
	}
	if k.Sector != "" && (k.Trend != "" || k.Horizon != "") {
		return false
	}
	return true
}
