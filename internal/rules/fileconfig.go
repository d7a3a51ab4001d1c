package rules

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/flowhook/reactor/internal/identity"
)

// TemporalConfig is the optional temporal section of the rule file.
type TemporalConfig struct {
	// EveningKeywords override the extractor's built-in hints. Empty keeps
	// the defaults.
	EveningKeywords []string `yaml:"eveningKeywords"`
}

// FileConfig is the startup-only part of the rule file: identity prefix
// tables and temporal tuning. Unlike rules these are not hot-reloadable.
type FileConfig struct {
	Identity identity.Tables `yaml:"identity"`
	Temporal TemporalConfig  `yaml:"temporal"`
}

// LoadFileConfig reads the identity and temporal sections from the rule
// file. Missing sections yield zero values, which fall back to the built-in
// defaults downstream.
func LoadFileConfig(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, errors.Wrap(err, "rules: read file")
	}
	var fc FileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return FileConfig{}, errors.Wrap(err, "rules: parse yaml")
	}
	return fc, nil
}
