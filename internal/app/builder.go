package app

import (
	"context"
	"fmt"
	"time"

	tqcfg "traqo/internal/config"
	"traqo/internal/domaincfg"
	"traqo/internal/feedback"
	"traqo/internal/logger"
	"traqo/internal/observation"
	"traqo/internal/predictor"
	"traqo/internal/regime"
	"traqo/internal/risk"
	"traqo/internal/scheduler"
	"traqo/internal/sizing"
	"traqo/internal/store"
	"traqo/internal/store/gormstore"
	"traqo/internal/trader"
	opshttp "traqo/internal/transport/http/ops"
	"traqo/internal/types"
)

// AppBuilder 负责按依赖顺序装配整个应用。
// 行情与信号源属于数据获取层，不在本仓库范围内，必须外部注入。
type AppBuilder struct {
	cfg *tqcfg.Config

	bars    trader.BarSource
	signals trader.SignalSource

	storeOverride store.Store
}

type AppBuilderOption func(*AppBuilder)

// WithBarSource 注入日线行情端口。
func WithBarSource(bars trader.BarSource) AppBuilderOption {
	return func(b *AppBuilder) { b.bars = bars }
}

// WithSignalSource 注入信号端口。
func WithSignalSource(signals trader.SignalSource) AppBuilderOption {
	return func(b *AppBuilder) { b.signals = signals }
}

// WithStore 覆盖默认存储，测试注入用。
func WithStore(st store.Store) AppBuilderOption {
	return func(b *AppBuilder) { b.storeOverride = st }
}

func NewAppBuilder(cfg *tqcfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{cfg: cfg}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build 按依赖顺序构建：领域表 → 观测索引 → 存储 → 反馈 → 预测 →
// 风控/仓位/状态机 → 会话 → 调度与 HTTP。
func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	cfg := b.cfg
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if b.bars == nil {
		return nil, fmt.Errorf("bar source 未注入")
	}
	if b.signals == nil {
		return nil, fmt.Errorf("signal source 未注入")
	}

	registry, err := domaincfg.NewRegistry(cfg.Domain.TablesPath)
	if err != nil {
		return nil, fmt.Errorf("领域表加载失败: %w", err)
	}
	tables := registry.Snapshot

	loader, err := observation.NewLoader(cfg.Feed.StrictSchema, types.Horizon(cfg.Predictor.PrimaryHorizon))
	if err != nil {
		return nil, fmt.Errorf("观测 loader 构建失败: %w", err)
	}
	dataset, err := loader.Load(cfg.Feed.ObservationsPath)
	if err != nil {
		return nil, fmt.Errorf("观测 feed 载入失败: %w", err)
	}
	index := observation.NewIndex(dataset)

	var st store.Store
	if b.storeOverride != nil {
		st = b.storeOverride
	} else {
		gs, err := gormstore.NewGormStore(cfg.App.DBPath)
		if err != nil {
			return nil, fmt.Errorf("存储初始化失败: %w", err)
		}
		st = gs
	}

	fb, err := feedback.NewEngine(ctx, cfg.Feedback, st)
	if err != nil {
		return nil, fmt.Errorf("反馈引擎构建失败: %w", err)
	}
	if cfg.Feedback.RulesPath != "" {
		if err := fb.WatchRules(cfg.Feedback.RulesPath); err != nil {
			logger.Warnf("规则文件监听失败: %v", err)
		}
	}

	pred := predictor.New(index, cfg.Predictor, cfg.Sizing, tables, fb)

	riskMgr, err := risk.NewManager(ctx, cfg.Risk, st)
	if err != nil {
		return nil, fmt.Errorf("风控初始化失败: %w", err)
	}
	sizer := sizing.NewSizer(cfg.Sizing, tables)
	detector := regime.NewDetector(cfg.Regime, b.bars2Regime(), tables)

	session := trader.NewSession(*cfg, st, pred, fb, riskMgr, sizer, detector, b.bars, b.signals, tables)

	interval, ok := scheduler.ParseIntervalDuration(cfg.Scheduler.Interval)
	if !ok {
		return nil, fmt.Errorf("调度间隔非法: %q", cfg.Scheduler.Interval)
	}
	sched := scheduler.NewAlignedScheduler(ctx, interval, time.Duration(cfg.Scheduler.OffsetMinutes)*time.Minute)
	sched.RunImmediately = cfg.Scheduler.RunImmediately

	httpSrv, err := opshttp.NewServer(opshttp.Config{
		Addr:    cfg.App.HTTPAddr,
		Store:   st,
		Risk:    riskMgr,
		FB:      fb,
		Session: session,
	})
	if err != nil {
		return nil, fmt.Errorf("HTTP server 构建失败: %w", err)
	}

	summary := &StartupSummary{
		Env:          cfg.App.Env,
		DBPath:       cfg.App.DBPath,
		HTTPAddr:     cfg.App.HTTPAddr,
		Observations: index.Size(),
		Patterns:     len(index.Patterns()),
		Sectors:      tables().SectorCount(),
		RiskStatus:   riskMgr.Status(),
	}

	return &App{
		cfg:      cfg,
		st:       st,
		registry: registry,
		session:  session,
		sched:    sched,
		httpSrv:  httpSrv,
		Summary:  summary,
	}, nil
}

// bars2Regime 把交易端口适配成市场状态探测器需要的收盘价序列。
func (b *AppBuilder) bars2Regime() regime.BarSource {
	return regimeBarAdapter{bars: b.bars}
}

type regimeBarAdapter struct {
	bars trader.BarSource
}

func (a regimeBarAdapter) DailyCloses(ctx context.Context, instrument string) ([]regime.Bar, error) {
	// 市场状态只看长周期均线，固定取最近两年。
	to := time.Now()
	from := to.AddDate(-2, 0, 0)
	ohlc, err := a.bars.DailyBars(ctx, instrument, from, to)
	if err != nil {
		return nil, err
	}
	out := make([]regime.Bar, 0, len(ohlc))
	for _, b := range ohlc {
		out = append(out, regime.Bar{Date: b.Date, Close: b.Close})
	}
	return out, nil
}
