package feedback

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"traqo/internal/logger"
	"traqo/internal/types"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type rulesFile struct {
	Rules []types.Rule `yaml:"rules"`
}

// WatchRules 加载外部规则文件并监听更新。
// 文件缺失不是错误：量能类规则可能尚未由学习层产出。
func (e *Engine) WatchRules(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		logger.Warnf("规则文件不存在，暂以推导规则运行: %s", path)
		return nil
	}
	if err := e.reloadRules(path); err != nil {
		return err
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read rules file failed: %w", err)
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := e.reloadRules(path); err != nil {
			logger.Errorf("规则文件重载失败: %v", err)
		}
	})
	v.WatchConfig()
	return nil
}

func (e *Engine) reloadRules(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read rules file failed: %w", err)
	}
	var rf rulesFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&rf); err != nil {
		return fmt.Errorf("parse rules file failed: %w", err)
	}
	valid := make([]types.Rule, 0, len(rf.Rules))
	for _, r := range rf.Rules {
		if r.Context == "" || r.Confidence < 0 || r.Confidence > 1 {
			logger.Warnf("忽略非法规则: context=%q confidence=%.2f", r.Context, r.Confidence)
			continue
		}
		valid = append(valid, r)
	}
	e.setRules(valid, nil)
	logger.Infof("规则文件已加载: %d 条 (%s)", len(valid), filepath.Base(path))
	return nil
}
