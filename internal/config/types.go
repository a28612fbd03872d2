package config

// Config 是 traqo 的主配置载体。
type Config struct {
	App       AppConfig       `toml:"app"`
	Feed      FeedConfig      `toml:"feed"`
	Predictor PredictorConfig `toml:"predictor"`
	Feedback  FeedbackConfig  `toml:"feedback"`
	Sizing    SizingConfig    `toml:"sizing"`
	Risk      RiskConfig      `toml:"risk"`
	Regime    RegimeConfig    `toml:"regime"`
	Trading   TradingConfig   `toml:"trading"`
	Domain    DomainConfig    `toml:"domain"`
	Scheduler SchedulerConfig `toml:"scheduler"`
}

type AppConfig struct {
	Env      string `toml:"env" default:"dev"`
	LogLevel string `toml:"log_level" default:"info"`
	LogPath  string `toml:"log_path"`
	HTTPAddr string `toml:"http_addr" default:":9982"`
	DBPath   string `toml:"db_path" default:"data/traqo.db" validate:"required"`
}

// FeedConfig 描述外部特征管线产出的观测 feed。
type FeedConfig struct {
	ObservationsPath string `toml:"observations_path" validate:"required"`
	// BarsDir 存放按标的拆分的日线 JSON 文件（<instrument>.json）。
	BarsDir string `toml:"bars_dir" default:"data/bars"`
	// SignalsPath 外部形态扫描器产出的当日信号文件。
	SignalsPath string `toml:"signals_path" default:"data/signals.json"`
	// StrictSchema 为 true 时，schema 校验失败的记录导致载入失败；
	// 否则仅跳过并告警。
	StrictSchema bool `toml:"strict_schema" default:"true"`
}

type PredictorConfig struct {
	MinMatches       int     `toml:"min_matches" default:"5" validate:"gt=0"`
	TopK             int     `toml:"top_k" default:"50" validate:"gt=0"`
	MaxPerInstrument int     `toml:"max_per_instrument" default:"5" validate:"gt=0"`
	MaxPerSector     int     `toml:"max_per_sector" default:"15" validate:"gt=0"`
	PrimaryHorizon   int     `toml:"primary_horizon" default:"5"`
	NeutralEdgePts   float64 `toml:"neutral_edge_pts" default:"3.0" validate:"gte=0"`
	// AcceptedTiers 限定允许产出信号的检索层级；tier_3/tier_4 历史 PF < 1 默认拒绝。
	AcceptedTiers []int `toml:"accepted_tiers" default:"[1,2]"`
	// 信心公式权重，保持历史默认值以复现行为。
	EdgeWeight     float64 `toml:"edge_weight" default:"0.30"`
	SampleWeight   float64 `toml:"sample_weight" default:"0.20"`
	TierWeight     float64 `toml:"tier_weight" default:"0.25"`
	PFWeight       float64 `toml:"pf_weight" default:"0.25"`
	SampleAdequacy int     `toml:"sample_adequacy" default:"30" validate:"gt=0"`
}

type FeedbackConfig struct {
	RulesPath     string  `toml:"rules_path" default:"data/learned_rules.yaml"`
	HalfLifeDays  float64 `toml:"half_life_days" default:"60" validate:"gt=0"`
	BlendCap      float64 `toml:"blend_cap" default:"0.50" validate:"gt=0,lte=1"`
	BlendShrink   float64 `toml:"blend_shrink" default:"20" validate:"gt=0"`
	MinTripleTrades  int `toml:"min_triple_trades" default:"3" validate:"gt=0"`
	MinSegmentTrades int `toml:"min_segment_trades" default:"2" validate:"gt=0"`
	MinTrendTrades   int `toml:"min_trend_trades" default:"3" validate:"gt=0"`
}

type SizingConfig struct {
	KellyFraction  float64 `toml:"kelly_fraction" default:"0.5" validate:"gt=0,lte=1"`
	MaxPositionPct float64 `toml:"max_position_pct" default:"3.0" validate:"gt=0"`
	MinPositionPct float64 `toml:"min_position_pct" default:"0.5" validate:"gte=0"`
	SLFloorPct     float64 `toml:"sl_floor_pct" default:"0.3" validate:"gt=0"`
	SLCapPct       float64 `toml:"sl_cap_pct" default:"5.0" validate:"gt=0"`
	StructuralSLMultiplier float64 `toml:"structural_sl_multiplier" default:"2.0" validate:"gt=0"`
	StandardSLMultiplier   float64 `toml:"standard_sl_multiplier" default:"1.5" validate:"gt=0"`
}

type RiskConfig struct {
	InitialCapital       float64 `toml:"initial_capital" default:"1000000" validate:"gt=0"`
	MaxDailyLossPct      float64 `toml:"max_daily_loss_pct" default:"2.0" validate:"gt=0"`
	MaxConsecutiveLosses int     `toml:"max_consecutive_losses" default:"5" validate:"gt=0"`
	MaxDrawdownPct       float64 `toml:"max_drawdown_pct" default:"10.0" validate:"gt=0"`
	MaxDailyTrades       int     `toml:"max_daily_trades" default:"10" validate:"gt=0"`
	MaxMonthlyLossPct    float64 `toml:"max_monthly_loss_pct" default:"5.0" validate:"gt=0"`
	CooldownMinutes      int     `toml:"cooldown_minutes" default:"60" validate:"gt=0"`
	MaxConcurrentPositions int   `toml:"max_concurrent_positions" default:"10" validate:"gt=0"`
	MaxPositionsPerSector  int   `toml:"max_positions_per_sector" default:"2" validate:"gt=0"`
}

type RegimeConfig struct {
	IndexInstrument string  `toml:"index_instrument" default:"nifty50"`
	DMAPeriod       int     `toml:"dma_period" default:"200" validate:"gt=1"`
	VIXInstrument   string  `toml:"vix_instrument" default:"indiavix"`
	VIXHighThreshold    float64 `toml:"vix_high_threshold" default:"20.0" validate:"gt=0"`
	VIXExtremeThreshold float64 `toml:"vix_extreme_threshold" default:"30.0" validate:"gt=0"`
}

type TradingConfig struct {
	MinWinRate float64 `toml:"min_win_rate" default:"55.0" validate:"gte=0,lte=100"`
	MinRRRatio float64 `toml:"min_rr_ratio" default:"1.5" validate:"gte=0"`
	// ShadowSampleEvery 把被过滤信号按固定步长抽样为影子交易（0 关闭）。
	ShadowSampleEvery int `toml:"shadow_sample_every" default:"5" validate:"gte=0"`
}

// DomainConfig 指向领域表文件（板块归属、形态白名单、各类乘数表）。
type DomainConfig struct {
	TablesPath string `toml:"tables_path" default:"configs/domain_tables.yaml" validate:"required"`
}

type SchedulerConfig struct {
	Interval       string `toml:"interval" default:"1d"`
	OffsetMinutes  int    `toml:"offset_minutes" default:"30" validate:"gte=0"`
	RunImmediately bool   `toml:"run_immediately" default:"true"`
}
