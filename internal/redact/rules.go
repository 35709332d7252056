package redact

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/careline-ai/careline/pkg/types"
)

// defaultPatterns holds the embedded detection rule pack. Baking the rules
// into the binary keeps the deployed set identical to the tested one.
//
//go:embed patterns.yaml
var defaultPatterns []byte

// Rule is one detection pattern from a rule pack.
type Rule struct {
	Type     types.EntityType `yaml:"type"`
	Priority int              `yaml:"priority"`
	Pattern  string           `yaml:"pattern"`
}

// Pack is a parsed rule pack.
type Pack struct {
	Rules []Rule `yaml:"rules"`
}

type compiledRule struct {
	typ      types.EntityType
	priority int
	re       *regexp.Regexp
}

// compilePack parses and compiles a YAML rule pack, sorted by descending
// priority.
func compilePack(data []byte) ([]compiledRule, error) {
	var pack Pack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("parse rule pack: %w", err)
	}
	if len(pack.Rules) == 0 {
		return nil, fmt.Errorf("rule pack contains no rules")
	}

	compiled := make([]compiledRule, 0, len(pack.Rules))
	for _, rule := range pack.Rules {
		if rule.Type == "" {
			return nil, fmt.Errorf("rule with pattern %q has no type", rule.Pattern)
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile pattern for %s: %w", rule.Type, err)
		}
		compiled = append(compiled, compiledRule{
			typ:      rule.Type,
			priority: rule.Priority,
			re:       re,
		})
	}

	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].priority > compiled[j].priority
	})
	return compiled, nil
}
