package dlp

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Rule is one identifier pattern masked before text leaves the process.
type Rule struct {
	Name    string `yaml:"name" json:"name"`
	Type    string `yaml:"type" json:"type"`
	Pattern string `yaml:"pattern" json:"pattern"`
	Mask    string `yaml:"mask" json:"mask"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
}

type RulesConfig struct {
	Rules []Rule `yaml:"rules" json:"rules"`
}

// LoadRules reads a YAML rule file. An empty path selects the built-in rules;
// an unreadable file returns the built-in rules together with the error.
func LoadRules(path string) (RulesConfig, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultRules(), err
	}

	var cfg RulesConfig
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return RulesConfig{}, err
	}
	if len(cfg.Rules) == 0 {
		return RulesConfig{}, errors.New("no redaction rules configured")
	}
	return cfg, nil
}

// DefaultRules cover contact details and national identifiers that patients
// tend to paste into free text. Symptoms, ages and lab values are left intact.
func DefaultRules() RulesConfig {
	return RulesConfig{Rules: []Rule{
		{Name: "Email", Type: "email", Pattern: `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`, Mask: "[EMAIL]", Enabled: true},
		{Name: "FR social security number", Type: "nir", Pattern: `\b[12]\s?\d{2}\s?\d{2}\s?\d{2}\s?\d{3}\s?\d{3}(\s?\d{2})?\b`, Mask: "[NIR]", Enabled: true},
		{Name: "FR phone", Type: "phone", Pattern: `(\+33\s?|\b0)[1-9](?:[\s.-]?\d{2}){4}\b`, Mask: "[PHONE]", Enabled: true},
		{Name: "US phone", Type: "phone", Pattern: `\b\d{3}-\d{3}-\d{4}\b|\(\d{3}\)\s?\d{3}-\d{4}\b`, Mask: "[PHONE]", Enabled: true},
		{Name: "SSN", Type: "ssn", Pattern: `\b\d{3}-\d{2}-\d{4}\b`, Mask: "[SSN]", Enabled: true},
	}}
}
