package config

import (
	"fmt"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取 YAML 配置并完成默认值填充与启动期校验。
// 任何非法取值直接返回错误：风控阈值配置错误宁可拒绝启动。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("TRAQO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}

	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("applying config defaults failed: %w", err)
	}
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var structValidator = validator.New()

// validate 结合 tag 校验与跨字段约束检查。
func validate(c *Config) error {
	if err := structValidator.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if c.Sizing.MinPositionPct > c.Sizing.MaxPositionPct {
		return fmt.Errorf("sizing.min_position_pct (%.2f) exceeds max_position_pct (%.2f)",
			c.Sizing.MinPositionPct, c.Sizing.MaxPositionPct)
	}
	if c.Sizing.SLFloorPct > c.Sizing.SLCapPct {
		return fmt.Errorf("sizing.sl_floor_pct (%.2f) exceeds sl_cap_pct (%.2f)",
			c.Sizing.SLFloorPct, c.Sizing.SLCapPct)
	}
	if c.Regime.VIXHighThreshold >= c.Regime.VIXExtremeThreshold {
		return fmt.Errorf("regime.vix_high_threshold must be below vix_extreme_threshold")
	}
	if len(c.Predictor.AcceptedTiers) == 0 {
		return fmt.Errorf("predictor.accepted_tiers requires at least one tier")
	}
	for _, t := range c.Predictor.AcceptedTiers {
		if t < 1 || t > 4 {
			return fmt.Errorf("predictor.accepted_tiers contains invalid tier: %d", t)
		}
	}
	wsum := c.Predictor.EdgeWeight + c.Predictor.SampleWeight + c.Predictor.TierWeight + c.Predictor.PFWeight
	if wsum <= 0 {
		return fmt.Errorf("predictor confidence weights must sum to a positive value")
	}
	switch c.Predictor.PrimaryHorizon {
	case 1, 3, 5, 10, 25:
	default:
		return fmt.Errorf("predictor.primary_horizon must be one of 1/3/5/10/25, got %d", c.Predictor.PrimaryHorizon)
	}
	return nil
}
