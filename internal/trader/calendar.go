package trader

import "time"

// IsTradingDay 判断是否为交易日。节假日表不在范围内，按周末近似。
func IsTradingDay(d time.Time) bool {
	switch d.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return true
}

// AddTradingDays 从 start 起向后推进 n 个交易日。
func AddTradingDays(start time.Time, n int) time.Time {
	d := start
	for added := 0; added < n; {
		d = d.AddDate(0, 0, 1)
		if IsTradingDay(d) {
			added++
		}
	}
	return d
}

// TradingDaysBetween 返回 [start, end] 区间内的全部交易日，升序。
func TradingDaysBetween(start, end time.Time) []time.Time {
	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if IsTradingDay(d) {
			days = append(days, d)
		}
	}
	return days
}

// dateOnly 截断到零点，交易日比较统一用日期粒度。
func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func sameDay(a, b time.Time) bool {
	return dateOnly(a).Equal(dateOnly(b))
}
