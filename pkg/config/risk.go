package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"polyagent/internal/core"
)

// RiskFile is the on-disk shape of the risk parameter file: account and
// trade limits plus the static asset correlation table.
type RiskFile struct {
	Limits      core.RiskLimits               `yaml:"limits"`
	Correlation map[string]map[string]float64 `yaml:"correlation"`
}

// LoadRiskFile parses a YAML risk file. When path is empty the defaults are
// returned with an empty correlation table.
func LoadRiskFile(path string) (core.RiskLimits, map[string]map[string]float64, error) {
	if path == "" {
		return core.DefaultRiskLimits(), map[string]map[string]float64{}, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return core.RiskLimits{}, nil, fmt.Errorf("read risk file: %w", err)
	}

	var rf RiskFile
	if err := yaml.Unmarshal(raw, &rf); err != nil {
		return core.RiskLimits{}, nil, fmt.Errorf("parse risk file: %w", err)
	}
	if rf.Correlation == nil {
		rf.Correlation = map[string]map[string]float64{}
	}
	return rf.Limits, rf.Correlation, nil
}
