package app

import (
	"fmt"
	"sort"
	"strings"

	"traqo/internal/risk"
)

// StartupSummary 启动时打印一次的配置与状态摘要。
type StartupSummary struct {
	Env          string
	DBPath       string
	HTTPAddr     string
	Observations int
	Patterns     int
	Sectors      int
	RiskStatus   risk.StatusView
}

func (s *StartupSummary) Print() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%*s\n", 40+len("启动配置摘要 (STARTUP SUMMARY)")/2, "启动配置摘要 (STARTUP SUMMARY)")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Println("[运行环境 (RUNTIME)]")
	fmt.Printf("  环境: %s\n", s.Env)
	fmt.Printf("  数据库: %s\n", s.DBPath)
	fmt.Printf("  HTTP 监听: %s\n", s.HTTPAddr)
	fmt.Println()

	fmt.Println("[观测数据 (OBSERVATION FEED)]")
	fmt.Printf("  观测条数: %d\n", s.Observations)
	fmt.Printf("  形态种类: %d\n", s.Patterns)
	fmt.Printf("  板块数量: %d\n", s.Sectors)
	fmt.Println()

	fmt.Println("[风控状态 (RISK STATUS)]")
	fmt.Printf("  可交易: %v\n", s.RiskStatus.CanTrade)
	if s.RiskStatus.RejectReason != "" {
		fmt.Printf("  拦截原因: %s\n", s.RiskStatus.RejectReason)
	}
	fmt.Printf("  资金: %s (峰值 %s, 回撤 %.2f%%)\n",
		s.RiskStatus.Capital, s.RiskStatus.PeakCapital, s.RiskStatus.DrawdownPct)
	fmt.Printf("  当日盈亏: %s | 当月盈亏: %s\n", s.RiskStatus.DailyPnL, s.RiskStatus.MonthlyPnL)
	fmt.Printf("  连续亏损: %d | 今日开仓: %d\n",
		s.RiskStatus.ConsecutiveLosses, s.RiskStatus.TradesToday)
	if tripped := trippedBreakers(s.RiskStatus.Breakers); len(tripped) > 0 {
		fmt.Printf("  已触发熔断: %s\n", strings.Join(tripped, ", "))
	}
	if s.RiskStatus.CooldownUntil != "" {
		fmt.Printf("  冷却至: %s\n", s.RiskStatus.CooldownUntil)
	}
	fmt.Println(strings.Repeat("=", 80))
}

func trippedBreakers(breakers map[string]bool) []string {
	out := make([]string, 0, len(breakers))
	for name, tripped := range breakers {
		if tripped {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
