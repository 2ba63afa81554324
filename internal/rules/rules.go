// Package rules loads the pattern-to-action rule set.
//
// Rule files map a pattern type to {threshold, action, workflows, enabled}.
// They may be JSON, JSON with comments and trailing commas (.jsonc), or YAML.
// Loading never fails hard: a missing or unreadable file yields the built-in
// defaults, and individual missing or invalid keys fall back per key.
package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/jsonc"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/eliteGoblin/focusd/patmon/internal/domain"
)

// ActionNone disables dispatch for a pattern type.
const ActionNone = "none"

// DefaultRules returns the built-in rule for every pattern type.
func DefaultRules() map[domain.PatternType]domain.Rule {
	return map[domain.PatternType]domain.Rule{
		domain.PatternRapidDevelopment: {
			PatternType: domain.PatternRapidDevelopment,
			Threshold:   5,
			Action:      domain.ActionEnableHotReload,
		},
		domain.PatternBulkOperation: {
			PatternType: domain.PatternBulkOperation,
			Threshold:   20,
			Action:      domain.ActionSuggestBatchScript,
		},
		domain.PatternWorkflowDetected: {
			PatternType: domain.PatternWorkflowDetected,
			Action:      domain.ActionOptimizeWorkflow,
		},
		domain.PatternUnstableFile: {
			PatternType: domain.PatternUnstableFile,
			Threshold:   3,
			Action:      domain.ActionInvestigateErrors,
		},
	}
}

// RuleSet is an immutable, validated pattern-to-rule mapping.
type RuleSet struct {
	rules     map[domain.PatternType]domain.Rule
	defaulted []string
	source    string
}

// Default returns the built-in rule set.
func Default() *RuleSet {
	return &RuleSet{rules: DefaultRules(), source: "defaults"}
}

// Lookup returns the rule for a pattern type.
func (s *RuleSet) Lookup(t domain.PatternType) (domain.Rule, bool) {
	r, ok := s.rules[t]
	return r, ok
}

// Rules returns the active rules in classifier evaluation order.
func (s *RuleSet) Rules() []domain.Rule {
	out := make([]domain.Rule, 0, len(s.rules))
	for _, t := range domain.AllPatternTypes {
		if r, ok := s.rules[t]; ok {
			out = append(out, r)
		}
	}
	return out
}

// Defaulted lists "<type>.<key>" entries that fell back to built-in values.
// A whole type missing from the file is reported as "<type>".
func (s *RuleSet) Defaulted() []string {
	out := make([]string, len(s.defaulted))
	copy(out, s.defaulted)
	return out
}

// Source returns the file the rule set was loaded from, or "defaults".
func (s *RuleSet) Source() string {
	return s.source
}

// ruleEntry is the on-disk shape of one rule. Pointers distinguish absent keys.
type ruleEntry struct {
	Threshold *float64 `json:"threshold" yaml:"threshold"`
	Action    *string  `json:"action" yaml:"action"`
	Workflows []string `json:"workflows" yaml:"workflows"`
	Patterns  []string `json:"patterns" yaml:"patterns"`
	Enabled   *bool    `json:"enabled" yaml:"enabled"`
}

// Load reads a rules file, falling back to defaults when it is missing or
// malformed. The fallback is logged, never returned.
func Load(path string, logger *zap.Logger) *RuleSet {
	if path == "" {
		return Default()
	}

	rs, err := LoadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug("rules file not found, using defaults", zap.String("path", path))
		} else {
			logger.Warn("rules file unusable, using defaults",
				zap.String("path", path),
				zap.Error(err))
		}
		return Default()
	}

	if d := rs.Defaulted(); len(d) > 0 {
		logger.Info("rules defaulted",
			zap.String("path", path),
			zap.Strings("keys", d))
	}
	return rs
}

// LoadFile reads and parses a rules file. The format follows the extension.
func LoadFile(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	rs, err := Parse(data, FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	rs.source = path
	return rs, nil
}

// Format is a rules file encoding.
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONC Format = "jsonc"
	FormatYAML  Format = "yaml"
)

// FormatFromPath picks the format from the file extension. Unknown extensions are treated as JSONC.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".json":
		return FormatJSON
	default:
		return FormatJSONC
	}
}

// Parse decodes rules data and merges it over the defaults.
func Parse(data []byte, format Format) (*RuleSet, error) {
	raw := make(map[string]ruleEntry)

	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrConfigMalformed, err)
		}
	case FormatJSON, FormatJSONC:
		if err := json.Unmarshal(jsonc.ToJSON(data), &raw); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrConfigMalformed, err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported format %q", domain.ErrConfigMalformed, format)
	}

	return merge(raw), nil
}

func merge(raw map[string]ruleEntry) *RuleSet {
	defaults := DefaultRules()
	rs := &RuleSet{rules: make(map[domain.PatternType]domain.Rule)}

	for _, t := range domain.AllPatternTypes {
		def := defaults[t]
		entry, ok := raw[string(t)]
		if !ok {
			rs.rules[t] = def
			rs.defaulted = append(rs.defaulted, string(t))
			continue
		}

		if entry.Enabled != nil && !*entry.Enabled {
			continue
		}

		rule := domain.Rule{PatternType: t}

		if entry.Threshold != nil && *entry.Threshold >= 0 {
			rule.Threshold = *entry.Threshold
		} else {
			rule.Threshold = def.Threshold
			if t != domain.PatternWorkflowDetected || entry.Threshold != nil {
				rs.defaulted = append(rs.defaulted, string(t)+".threshold")
			}
		}

		switch {
		case entry.Action == nil:
			rule.Action = def.Action
			rs.defaulted = append(rs.defaulted, string(t)+".action")
		case *entry.Action == ActionNone:
			continue
		case domain.ActionName(*entry.Action).Known():
			rule.Action = domain.ActionName(*entry.Action).Canonical()
		default:
			rule.Action = def.Action
			rs.defaulted = append(rs.defaulted, string(t)+".action")
		}

		// An allow-list only exists when the file names one.
		if t == domain.PatternWorkflowDetected {
			switch {
			case entry.Workflows != nil:
				rule.Workflows = entry.Workflows
			case entry.Patterns != nil:
				rule.Workflows = entry.Patterns
			}
		}

		rs.rules[t] = rule
	}

	sort.Strings(rs.defaulted)
	return rs
}
