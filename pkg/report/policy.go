package report

import (
	_ "embed"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed policy.yaml
var defaultPolicyYAML []byte

type RedFlag struct {
	Category string   `yaml:"category"`
	Keywords []string `yaml:"keywords"`
}

type Policy struct {
	EmergencySentence string    `yaml:"emergency_sentence"`
	RedFlags          []RedFlag `yaml:"red_flags"`
}

// DefaultPolicy returns the embedded policy.
func DefaultPolicy() Policy {
	policy, err := parsePolicy(defaultPolicyYAML)
	if err != nil {
		panic("embedded report policy is invalid: " + err.Error())
	}
	return policy
}

// LoadPolicy reads a policy file, falling back to the embedded default for an
// empty path.
func LoadPolicy(path string) (Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultPolicy(), err
	}
	return parsePolicy(content)
}

func parsePolicy(content []byte) (Policy, error) {
	var policy Policy
	if err := yaml.Unmarshal(content, &policy); err != nil {
		return Policy{}, err
	}
	if strings.TrimSpace(policy.EmergencySentence) == "" {
		return Policy{}, errors.New("policy has no emergency sentence")
	}
	return policy, nil
}

// Screen returns the red-flag categories whose keywords occur in text,
// in policy order.
func (p Policy) Screen(text string) []string {
	lower := strings.ToLower(text)
	var hits []string
	for _, flag := range p.RedFlags {
		for _, kw := range flag.Keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				hits = append(hits, flag.Category)
				break
			}
		}
	}
	return hits
}

func (p Policy) categories() []string {
	out := make([]string, 0, len(p.RedFlags))
	for _, flag := range p.RedFlags {
		out = append(out, flag.Category)
	}
	return out
}
