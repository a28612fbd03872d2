package domaincfg

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"traqo/internal/logger"
	"traqo/internal/types"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Tables 汇总可热更的领域查找表。
// 代码只处理算法，表数据（板块归属、形态分类、市场状态系数）全部外置。
type Tables struct {
	// Sectors 板块 → 成员标的列表。
	Sectors map[string][]string `yaml:"sectors"`
	// StructuralPatterns 使用 2.0×ATR 止损的结构型形态。
	StructuralPatterns []string `yaml:"structural_patterns"`
	// WhitelistedPatterns 允许入场的形态白名单，为空表示不限制。
	WhitelistedPatterns []string `yaml:"whitelisted_patterns"`
	// ExcludedPatterns 不参与扫描入场的形态（仍可作为回溯统计）。
	ExcludedPatterns []string `yaml:"excluded_patterns"`
	// RegimeScales 市场状态 → 仓位缩放系数。
	RegimeScales map[string]float64 `yaml:"regime_scales"`
	// RegimeHorizonScales 按持仓周期覆盖的市场状态系数，缺省回落到 RegimeScales。
	RegimeHorizonScales map[string]map[string]float64 `yaml:"regime_horizon_scales"`
	// SectorVolMultipliers 板块波动系数，影响 Kelly 仓位。
	SectorVolMultipliers map[string]float64 `yaml:"sector_vol_multipliers"`
	// HorizonSizeMultipliers 周期仓位系数，短周期资金周转快可稍大。
	HorizonSizeMultipliers map[string]float64 `yaml:"horizon_size_multipliers"`
	// HorizonMinWinRate 按周期覆盖的最低胜率门槛（百分数）。
	HorizonMinWinRate map[string]float64 `yaml:"horizon_min_win_rate"`
}

// Snapshot 某一时刻的表快照，含反查索引。
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Tables   Tables

	instrumentSector map[string]string
	structural       map[string]bool
	whitelisted      map[string]bool
	excluded         map[string]bool
	sectorVol        map[string]float64
}

// ChangeListener 在表重载后触发。
type ChangeListener func(Snapshot)

// Registry 管理领域表文件并监听更新。
type Registry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// NewRegistry 读取领域表并监听文件变更。
func NewRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("domain tables registry requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read domain tables failed: %w", err)
	}
	r := &Registry{path: path, v: v}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("domain tables reload failed: %v", err)
			return
		}
		r.notifyListeners()
	})
	v.WatchConfig()
	return r, nil
}

// Subscribe 注册重载回调。
func (r *Registry) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Snapshot 返回当前表快照。
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot
}

func (r *Registry) reload() error {
	tables, err := readTablesFile(r.path)
	if err != nil {
		return err
	}
	if err := tables.validate(); err != nil {
		return err
	}
	snap := buildSnapshot(tables)
	r.mu.Lock()
	snap.Version = r.snapshot.Version + 1
	snap.LoadedAt = time.Now()
	r.snapshot = snap
	r.mu.Unlock()
	logger.Infof("领域表已加载: %d 个板块, %d 个结构型形态 (%s)",
		len(tables.Sectors), len(tables.StructuralPatterns), filepath.Base(r.path))
	return nil
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := r.snapshot
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Errorf("domain tables listener panic: %v", rec)
				}
			}()
			cb(snap)
		}(fn)
	}
}

func readTablesFile(path string) (Tables, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Tables{}, fmt.Errorf("read domain tables failed: %w", err)
	}
	var t Tables
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil {
		return Tables{}, fmt.Errorf("parse domain tables failed: %w", err)
	}
	return t, nil
}

func (t Tables) validate() error {
	seen := make(map[string]string)
	for sector, members := range t.Sectors {
		for _, ins := range members {
			key := normalizeKey(ins)
			if prev, dup := seen[key]; dup && prev != sector {
				return fmt.Errorf("instrument %s listed in both %s and %s", ins, prev, sector)
			}
			seen[key] = sector
		}
	}
	for name, scale := range t.RegimeScales {
		if scale < 0 || scale > 2 {
			return fmt.Errorf("regime scale out of range: %s=%.2f", name, scale)
		}
	}
	for sector, mult := range t.SectorVolMultipliers {
		if mult <= 0 {
			return fmt.Errorf("sector vol multiplier must be positive: %s=%.2f", sector, mult)
		}
	}
	return nil
}

func buildSnapshot(t Tables) Snapshot {
	snap := Snapshot{
		Tables:           t,
		instrumentSector: make(map[string]string),
		structural:       make(map[string]bool, len(t.StructuralPatterns)),
		excluded:         make(map[string]bool, len(t.ExcludedPatterns)),
		sectorVol:        make(map[string]float64, len(t.SectorVolMultipliers)),
	}
	for sector, mult := range t.SectorVolMultipliers {
		snap.sectorVol[normalizeKey(sector)] = mult
	}
	for sector, members := range t.Sectors {
		for _, ins := range members {
			snap.instrumentSector[normalizeKey(ins)] = sector
		}
	}
	for _, p := range t.StructuralPatterns {
		snap.structural[normalizeKey(p)] = true
	}
	snap.whitelisted = make(map[string]bool, len(t.WhitelistedPatterns))
	for _, p := range t.WhitelistedPatterns {
		snap.whitelisted[normalizeKey(p)] = true
	}
	for _, p := range t.ExcludedPatterns {
		snap.excluded[normalizeKey(p)] = true
	}
	return snap
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// SectorOf 返回标的所属板块，未登记时返回 "unknown"。
func (s Snapshot) SectorOf(instrument string) string {
	if sector, ok := s.instrumentSector[normalizeKey(instrument)]; ok {
		return sector
	}
	return "unknown"
}

// SectorCount 返回已登记的板块数量。
func (s Snapshot) SectorCount() int {
	return len(s.Tables.Sectors)
}

// IsStructural 判断形态是否属于结构型（影响止损倍数）。
func (s Snapshot) IsStructural(pattern string) bool {
	return s.structural[normalizeKey(pattern)]
}

// IsExcluded 判断形态是否被排除在扫描入场之外。
func (s Snapshot) IsExcluded(pattern string) bool {
	return s.excluded[normalizeKey(pattern)]
}

// IsTradeable 排除名单优先，其次检查白名单（空白名单不限制）。
func (s Snapshot) IsTradeable(pattern string) bool {
	key := normalizeKey(pattern)
	if s.excluded[key] {
		return false
	}
	if len(s.whitelisted) == 0 {
		return true
	}
	return s.whitelisted[key]
}

// RegimeScale 返回市场状态下的仓位缩放，优先按周期覆盖表。
// 未登记的状态返回 1.0，不因表缺行而拒绝交易。
func (s Snapshot) RegimeScale(regime string, horizon types.Horizon) float64 {
	key := normalizeKey(regime)
	if byHorizon, ok := s.Tables.RegimeHorizonScales[key]; ok {
		if v, ok := byHorizon[horizon.Label()]; ok {
			return v
		}
	}
	if v, ok := s.Tables.RegimeScales[key]; ok {
		return v
	}
	return 1.0
}

// SectorVolMultiplier 返回板块波动系数，未登记返回 1.0。
func (s Snapshot) SectorVolMultiplier(sector string) float64 {
	if m, ok := s.sectorVol[normalizeKey(sector)]; ok {
		return m
	}
	return 1.0
}

// HorizonSizeMultiplier 返回周期仓位系数，未登记返回 1.0。
func (s Snapshot) HorizonSizeMultiplier(horizon types.Horizon) float64 {
	if v, ok := s.Tables.HorizonSizeMultipliers[horizon.Label()]; ok {
		return v
	}
	return 1.0
}

// MinWinRateFor 返回周期覆盖的最低胜率门槛，未配置时返回 fallback。
func (s Snapshot) MinWinRateFor(horizon types.Horizon, fallback float64) float64 {
	if v, ok := s.Tables.HorizonMinWinRate[horizon.Label()]; ok {
		return v
	}
	return fallback
}
