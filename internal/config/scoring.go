package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/habito/internal/engine"
)

// ScoringFile 是强度分参数文件的结构
//
//	default_half_life: 7
//	half_life:
//	  numerical: 14
type ScoringFile struct {
	DefaultHalfLife float64            `yaml:"default_half_life"`
	HalfLife        map[string]float64 `yaml:"half_life"`
}

// LoadScoring 读取 YAML 参数文件，路径为空时返回默认配置
func LoadScoring(path string) (engine.ScoreConfig, error) {
	cfg := engine.DefaultScoreConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read scoring config: %w", err)
	}
	return ParseScoring(b)
}

// ParseScoring 解析 YAML 内容并校验半衰期
func ParseScoring(b []byte) (engine.ScoreConfig, error) {
	cfg := engine.DefaultScoreConfig()

	var file ScoringFile
	if err := yaml.Unmarshal(b, &file); err != nil {
		return cfg, fmt.Errorf("parse scoring config: %w", err)
	}

	if file.DefaultHalfLife < 0 {
		return cfg, fmt.Errorf("default_half_life must be positive")
	}
	if file.DefaultHalfLife > 0 {
		cfg.DefaultHalfLife = file.DefaultHalfLife
	}

	for name, value := range file.HalfLife {
		habitType := engine.HabitType(strings.ToLower(strings.TrimSpace(name)))
		switch habitType {
		case engine.HabitBoolean, engine.HabitNumerical, engine.HabitDuration:
		default:
			return cfg, fmt.Errorf("unknown habit type %q in half_life", name)
		}
		if value <= 0 {
			return cfg, fmt.Errorf("half_life for %s must be positive", name)
		}
		if cfg.HalfLife == nil {
			cfg.HalfLife = make(map[engine.HabitType]float64)
		}
		cfg.HalfLife[habitType] = value
	}

	return cfg, nil
}
