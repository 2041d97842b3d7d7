package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jcthomas/pullwatch/internal/domain/model"
)

// Rules is the file-driven part of the configuration: branch flow rules and
// per-feature enrichment cache TTLs.
type Rules struct {
	FlowRules []model.FlowRule
	TTLs      map[model.FeatureType]time.Duration
}

// rulesFile is the TOML shape of the rules file.
type rulesFile struct {
	Flow []flowRuleEntry     `toml:"flow"`
	TTL  map[string]duration `toml:"ttl"`
}

type flowRuleEntry struct {
	Pattern string   `toml:"pattern"`
	Phase   string   `toml:"phase"`
	Targets []string `toml:"targets"`
}

// duration lets TOML values like "24h" decode into time.Duration.
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(parsed)
	return nil
}

// DefaultFlowRules models a feature -> develop -> release/main promotion flow.
func DefaultFlowRules() []model.FlowRule {
	return []model.FlowRule{
		{Pattern: "feature/*", Phase: "feature", Targets: []string{"develop"}},
		{Pattern: "bugfix/*", Phase: "bugfix", Targets: []string{"develop"}},
		{Pattern: "develop", Phase: "develop", Targets: []string{"release/*", "main"}},
		{Pattern: "release/*", Phase: "release", Targets: []string{"main"}},
		{Pattern: "hotfix/*", Phase: "hotfix", Targets: []string{"main", "develop"}},
	}
}

// LoadRules reads the TOML rules file at path. A missing file is not an
// error: the default promotion flow and built-in TTLs apply.
func LoadRules(path string) (*Rules, error) {
	rules := &Rules{
		FlowRules: DefaultFlowRules(),
		TTLs:      map[model.FeatureType]time.Duration{},
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return rules, nil
		}
		return nil, fmt.Errorf("checking rules file %s: %w", path, err)
	}

	var file rulesFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("parsing rules file %s: %w", path, err)
	}

	if len(file.Flow) > 0 {
		parsed := make([]model.FlowRule, 0, len(file.Flow))
		for i, entry := range file.Flow {
			if entry.Pattern == "" {
				return nil, fmt.Errorf("rules file %s: flow rule %d has no pattern", path, i)
			}
			parsed = append(parsed, model.FlowRule{
				Pattern: entry.Pattern,
				Phase:   entry.Phase,
				Targets: entry.Targets,
			})
		}
		rules.FlowRules = parsed
	}

	for name, ttl := range file.TTL {
		feature := model.FeatureType(name)
		switch feature {
		case model.FeaturePRSummary, model.FeatureRiskAssessment, model.FeatureReviewerSuggestion:
			rules.TTLs[feature] = time.Duration(ttl)
		default:
			return nil, fmt.Errorf("rules file %s: unknown feature %q in ttl table", path, name)
		}
	}

	return rules, nil
}
