package trader

import (
	"context"
	"fmt"
	"strings"
	"time"

	"traqo/internal/predictor"
	"traqo/internal/types"
)

// PreviewSignal 是一条只读的扫描预览结果：过滤结论与价位，
// 不做任何写入，供运维接口复核信号质量。
type PreviewSignal struct {
	Instrument  string   `json:"instrument"`
	Sector      string   `json:"sector"`
	Patterns    []string `json:"patterns"`
	Horizon     string   `json:"horizon"`
	Direction   string   `json:"direction"`
	WinRate     float64  `json:"win_rate"`
	Confidence  string   `json:"confidence"`
	RRRatio     float64  `json:"rr_ratio"`
	SLPct       float64  `json:"sl_pct"`
	TargetPct   float64  `json:"target_pct"`
	WouldEnter  bool     `json:"would_enter"`
	SkipReasons []string `json:"skip_reasons,omitempty"`
}

// Preview 对某交易日执行只读扫描：预测 + 过滤，无开仓、无水位写入。
func (s *Session) Preview(ctx context.Context, day time.Time) ([]PreviewSignal, error) {
	sigs, err := s.signals.SignalsFor(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("信号源读取失败: %w", err)
	}
	snap := s.tables()
	var out []PreviewSignal

	for _, sig := range sigs {
		tradeable := make([]string, 0, len(sig.Patterns))
		for _, p := range sig.Patterns {
			if snap.IsTradeable(p) {
				tradeable = append(tradeable, p)
			}
		}
		if len(tradeable) == 0 || sig.TrendShort == "" {
			continue
		}
		sector := snap.SectorOf(sig.Instrument)
		timeframe := sig.Timeframe
		if timeframe == "" {
			timeframe = "daily"
		}
		pred, ok := s.pred.PredictMulti(strings.Join(tradeable, ","), predictor.Context{
			Instrument: sig.Instrument,
			Sector:     sector,
			Timeframe:  timeframe,
			TrendShort: sig.TrendShort,
			VolZone:    sig.VolZone,
			PricePos:   sig.PricePos,
		})
		if !ok || pred.Direction == types.DirectionNeutral {
			continue
		}
		structural := false
		for _, p := range tradeable {
			if snap.IsStructural(p) {
				structural = true
				break
			}
		}
		for _, h := range tradeableHorizons {
			levels, ok := computeLevels(h, sig, pred, structural, s.sizeCfg)
			if !ok {
				continue
			}
			wr := pred.WinRate
			for _, p := range tradeable {
				if v, _, ok := s.fb.HorizonWinRate(p, sig.TrendShort, h.Label()); ok {
					wr = v
					break
				}
			}
			skip := s.entryFilters(snap, tradeable, h, wr, pred.ConfidenceLevel, levels.RRRatio)
			out = append(out, PreviewSignal{
				Instrument:  sig.Instrument,
				Sector:      sector,
				Patterns:    tradeable,
				Horizon:     h.Label(),
				Direction:   string(levels.Direction),
				WinRate:     wr,
				Confidence:  string(pred.ConfidenceLevel),
				RRRatio:     levels.RRRatio,
				SLPct:       levels.SLPct,
				TargetPct:   levels.TargetPct,
				WouldEnter:  len(skip) == 0,
				SkipReasons: skip,
			})
		}
	}
	return out, nil
}
