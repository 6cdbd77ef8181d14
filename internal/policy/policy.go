// Package policy holds the static per-service table of routes that are
// exempt from authentication. The table is fixed at process start and is
// consulted by the token validation middleware on every request.
package policy

import (
	"os"
	"strings"

	"github.com/brizzai/auth-fabric/internal/config"
	"github.com/brizzai/auth-fabric/internal/logger"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Rule exempts requests under Prefix from authentication. If Methods is
// non-empty, only those methods are exempt; other methods under the same
// prefix still require a token.
type Rule struct {
	Prefix  string   `yaml:"prefix"`
	Methods []string `yaml:"methods"`
}

// Policy is a read-only set of rules. Construct it once at startup; it must
// not be mutated afterwards.
type Policy struct {
	rules []Rule
}

// New builds a Policy from the given rules. Prefixes and methods are
// normalized to lowercase/uppercase respectively at construction so that
// Allows does no per-request case folding beyond the request path.
func New(rules []Rule) *Policy {
	normalized := make([]Rule, 0, len(rules))
	for _, r := range rules {
		prefix := strings.ToLower(strings.TrimSpace(r.Prefix))
		if prefix == "" {
			continue
		}
		methods := make([]string, 0, len(r.Methods))
		for _, m := range r.Methods {
			m = strings.ToUpper(strings.TrimSpace(m))
			if m != "" {
				methods = append(methods, m)
			}
		}
		normalized = append(normalized, Rule{Prefix: prefix, Methods: methods})
	}
	return &Policy{rules: normalized}
}

// FromConfig builds a Policy from the inline config rules plus, if
// configured, rules loaded from the policy file.
func FromConfig(cfg *config.PolicyConfig) (*Policy, error) {
	rules := make([]Rule, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		rules = append(rules, Rule{Prefix: r.Prefix, Methods: r.Methods})
	}

	fileRules, err := loadFile(cfg.File)
	if err != nil {
		return nil, err
	}
	rules = append(rules, fileRules...)

	return New(rules), nil
}

// loadFile loads rules from a YAML file. A missing file is not an error so
// services can run on inline config alone.
func loadFile(path string) ([]Rule, error) {
	if path == "" {
		return nil, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Warn("Route auth policy file not found", zap.String("file", path))
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc struct {
		Rules []Rule `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	logger.Info("Loaded route auth policy file",
		zap.String("file", path),
		zap.Int("rules", len(doc.Rules)),
	)
	return doc.Rules, nil
}

// Allows reports whether the request identified by path and method may skip
// authentication. Paths are matched case-insensitively by prefix.
func (p *Policy) Allows(path, method string) bool {
	path = strings.ToLower(path)
	method = strings.ToUpper(method)

	for _, r := range p.rules {
		if !strings.HasPrefix(path, r.Prefix) {
			continue
		}
		if len(r.Methods) == 0 {
			return true
		}
		for _, m := range r.Methods {
			if m == method {
				return true
			}
		}
	}
	return false
}

// Rules returns a copy of the normalized rule set.
func (p *Policy) Rules() []Rule {
	out := make([]Rule, len(p.rules))
	copy(out, p.rules)
	return out
}
