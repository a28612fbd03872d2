package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalYAML = `
feed:
  observations_path: data/observations.json
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.App.Env)
	assert.Equal(t, ":9982", cfg.App.HTTPAddr)
	assert.Equal(t, "data/traqo.db", cfg.App.DBPath)
	assert.Equal(t, 5, cfg.Predictor.MinMatches)
	assert.Equal(t, 5, cfg.Predictor.PrimaryHorizon)
	assert.Equal(t, []int{1, 2}, cfg.Predictor.AcceptedTiers)
	assert.Equal(t, 0.5, cfg.Sizing.KellyFraction)
	assert.Equal(t, 55.0, cfg.Trading.MinWinRate)
	assert.Equal(t, 1.5, cfg.Trading.MinRRRatio)
	assert.Equal(t, 100000.0*10, cfg.Risk.InitialCapital)
	assert.Equal(t, "1d", cfg.Scheduler.Interval)
	assert.True(t, cfg.Scheduler.RunImmediately)
}

func TestLoadOverrides(t *testing.T) {
	yaml := minimalYAML + `
app:
  env: prod
  http_addr: ":8080"
trading:
  min_win_rate: 60
predictor:
  accepted_tiers: [1, 2, 3]
`
	cfg, err := Load(writeConfig(t, yaml))
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.App.Env)
	assert.Equal(t, ":8080", cfg.App.HTTPAddr)
	assert.Equal(t, 60.0, cfg.Trading.MinWinRate)
	assert.Equal(t, []int{1, 2, 3}, cfg.Predictor.AcceptedTiers)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"min > max 仓位": minimalYAML + `
sizing:
  min_position_pct: 5.0
  max_position_pct: 3.0
`,
		"止损下限高于上限": minimalYAML + `
sizing:
  sl_floor_pct: 6.0
  sl_cap_pct: 5.0
`,
		"非法层级": minimalYAML + `
predictor:
  accepted_tiers: [0, 5]
`,
		"非法主周期": minimalYAML + `
predictor:
  primary_horizon: 7
`,
		"VIX 阈值倒挂": minimalYAML + `
regime:
  vix_high_threshold: 40
  vix_extreme_threshold: 30
`,
	}
	for name, yaml := range cases {
		_, err := Load(writeConfig(t, yaml))
		assert.Error(t, err, name)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
	_, err = Load("")
	assert.Error(t, err)
}
