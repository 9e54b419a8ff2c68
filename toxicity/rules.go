package toxicity

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

type Category string

const (
	CategoryHateSpeech    Category = "hate_speech"
	CategoryHarassment    Category = "harassment"
	CategoryProfanity     Category = "profanity"
	CategoryThreats       Category = "threats"
	CategorySexualContent Category = "sexual_content"
	CategorySpam          Category = "spam"
	CategorySelfHarm      Category = "self_harm"
	CategoryViolence      Category = "violence"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type Rule struct {
	Pattern     string   `yaml:"pattern"`
	Category    Category `yaml:"category"`
	Severity    Severity `yaml:"severity"`
	Weight      float64  `yaml:"weight"`
	Description string   `yaml:"description"`

	re *regexp.Regexp
}

// RuleSet is a compiled rules file.
type RuleSet struct {
	Rules     []Rule   `yaml:"rules"`
	Whitelist []string `yaml:"whitelist"`

	whitelist map[string]bool
}

//go:embed default_rules.yaml
var defaultRules []byte

// DefaultRules returns the rule set bundled with the binary.
func DefaultRules() *RuleSet {
	rs, err := ParseRules(defaultRules)
	if err != nil {
		panic(fmt.Sprintf("bundled toxicity rules are invalid: %v", err))
	}
	return rs
}

func LoadRules(path string) (*RuleSet, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}
	rs, err := ParseRules(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rs, nil
}

// ParseRules decodes and compiles a YAML rules document. Patterns are
// matched case-insensitively against normalized text.
func ParseRules(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parsing rules: %w", err)
	}
	if len(rs.Rules) == 0 {
		return nil, fmt.Errorf("no rules defined")
	}
	for i := range rs.Rules {
		r := &rs.Rules[i]
		if r.Pattern == "" {
			return nil, fmt.Errorf("rule %d: empty pattern", i)
		}
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %d: compiling pattern %q: %w", i, r.Pattern, err)
		}
		r.re = re
		if r.Weight <= 0 {
			r.Weight = 0.5
		}
	}
	rs.whitelist = make(map[string]bool, len(rs.Whitelist))
	for _, w := range rs.Whitelist {
		rs.whitelist[strings.ToLower(w)] = true
	}
	return &rs, nil
}

func (rs *RuleSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.Rules)
}
