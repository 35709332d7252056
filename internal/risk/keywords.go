package risk

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/careline-ai/careline/pkg/types"
)

//go:embed keywords.yaml
var defaultKeywords []byte

type packCategory struct {
	Category types.RiskCategory `yaml:"category"`
	Severity string             `yaml:"severity"`
	Keywords []string           `yaml:"keywords"`
	Fuzzy    []string           `yaml:"fuzzy"`
}

type packPattern struct {
	ID       string             `yaml:"id"`
	Category types.RiskCategory `yaml:"category"`
	Severity string             `yaml:"severity"`
	Pattern  string             `yaml:"pattern"`
}

type packFile struct {
	Categories []packCategory      `yaml:"categories"`
	Patterns   []packPattern       `yaml:"patterns"`
	Modifiers  map[string][]string `yaml:"modifiers"`
	Hedges     []string            `yaml:"hedges"`
}

type keywordRule struct {
	term     string
	category types.RiskCategory
	severity types.Severity
	re       *regexp.Regexp
}

type patternRule struct {
	id       string
	category types.RiskCategory
	severity types.Severity
	re       *regexp.Regexp
}

type fuzzyRule struct {
	term     string
	category types.RiskCategory
	severity types.Severity
}

type modifierClass struct {
	name  string
	terms []*regexp.Regexp
}

type rulePack struct {
	keywords  []keywordRule
	patterns  []patternRule
	fuzzy     []fuzzyRule
	modifiers []modifierClass
	hedges    []*regexp.Regexp
}

// wordPattern matches term as whole words, case-insensitive.
func wordPattern(term string) (*regexp.Regexp, error) {
	return regexp.Compile(`(?i)\b` + regexp.QuoteMeta(term) + `\b`)
}

func compileKeywordPack(data []byte) (*rulePack, error) {
	var file packFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse keyword pack: %w", err)
	}
	if len(file.Categories) == 0 {
		return nil, fmt.Errorf("keyword pack contains no categories")
	}

	pack := &rulePack{}
	for _, cat := range file.Categories {
		if cat.Category == "" {
			return nil, fmt.Errorf("keyword pack category missing name")
		}
		sev, err := types.ParseSeverity(cat.Severity)
		if err != nil {
			return nil, fmt.Errorf("category %s: %w", cat.Category, err)
		}
		for _, term := range cat.Keywords {
			re, err := wordPattern(term)
			if err != nil {
				return nil, fmt.Errorf("category %s keyword %q: %w", cat.Category, term, err)
			}
			pack.keywords = append(pack.keywords, keywordRule{term: term, category: cat.Category, severity: sev, re: re})
		}
		for _, term := range cat.Fuzzy {
			pack.fuzzy = append(pack.fuzzy, fuzzyRule{term: strings.ToLower(term), category: cat.Category, severity: sev})
		}
	}

	for _, p := range file.Patterns {
		if p.ID == "" {
			return nil, fmt.Errorf("keyword pack pattern missing id")
		}
		sev, err := types.ParseSeverity(p.Severity)
		if err != nil {
			return nil, fmt.Errorf("pattern %s: %w", p.ID, err)
		}
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("pattern %s: %w", p.ID, err)
		}
		pack.patterns = append(pack.patterns, patternRule{id: p.ID, category: p.Category, severity: sev, re: re})
	}

	// Map iteration order is random; signal IDs and tests need a stable one.
	names := make([]string, 0, len(file.Modifiers))
	for name := range file.Modifiers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		class := modifierClass{name: name}
		for _, term := range file.Modifiers[name] {
			re, err := wordPattern(term)
			if err != nil {
				return nil, fmt.Errorf("modifier %s term %q: %w", name, term, err)
			}
			class.terms = append(class.terms, re)
		}
		pack.modifiers = append(pack.modifiers, class)
	}

	for _, term := range file.Hedges {
		re, err := wordPattern(term)
		if err != nil {
			return nil, fmt.Errorf("hedge %q: %w", term, err)
		}
		pack.hedges = append(pack.hedges, re)
	}

	return pack, nil
}
