package pattern

import (
	"fmt"

	"github.com/gobwas/glob"

	"github.com/eliteGoblin/focusd/patmon/internal/domain"
)

// DefaultWorkflowConfidence is the fixed confidence reported for workflow matches.
const DefaultWorkflowConfidence = 0.75

// SignatureStep is one (kind, basename glob) element of a workflow signature.
type SignatureStep struct {
	Kind domain.EventKind
	Glob string
}

// Signature names an expected sequence of steps.
type Signature struct {
	Name  string
	Steps []SignatureStep
}

// DefaultSignatures returns the built-in workflow signatures in reporting order.
func DefaultSignatures() []Signature {
	return []Signature{
		{
			Name: "test_driven_development",
			Steps: []SignatureStep{
				{domain.KindModified, "test_*.py"},
				{domain.KindModified, "*.py"},
				{domain.KindModified, "test_*.py"},
			},
		},
		{
			Name: "documentation_update",
			Steps: []SignatureStep{
				{domain.KindModified, "*.md"},
				{domain.KindModified, "*.py"},
				{domain.KindModified, "*.md"},
			},
		},
		{
			Name: "refactoring",
			Steps: []SignatureStep{
				{domain.KindRenamed, "*.py"},
				{domain.KindModified, "*.py"},
				{domain.KindDeleted, "*.py"},
			},
		},
	}
}

// MatchMode selects how a signature is compared against the window.
type MatchMode string

const (
	// MatchLength fires when the window holds at least as many events as the
	// signature has steps. Event content is ignored; kept for compatibility.
	MatchLength MatchMode = "length"

	// MatchSubsequence fires when the steps occur in order (not necessarily
	// adjacent) in the window, matching kind and basename glob.
	MatchSubsequence MatchMode = "subsequence"
)

// WorkflowConfig holds workflow_detected settings.
type WorkflowConfig struct {
	MinWindow  int
	Confidence float64
	Mode       MatchMode
	Signatures []Signature
}

// DefaultWorkflowConfig returns the literal length-based matcher over the built-in signatures.
func DefaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		MinWindow:  20,
		Confidence: DefaultWorkflowConfidence,
		Mode:       MatchLength,
		Signatures: DefaultSignatures(),
	}
}

type compiledStep struct {
	kind domain.EventKind
	glob glob.Glob
}

type compiledSignature struct {
	name  string
	steps []compiledStep
}

// WorkflowClassifier matches the window against named workflow signatures.
type WorkflowClassifier struct {
	config     WorkflowConfig
	signatures []compiledSignature
}

// NewWorkflowClassifier compiles the signature globs.
func NewWorkflowClassifier(config WorkflowConfig) (*WorkflowClassifier, error) {
	if config.Mode == "" {
		config.Mode = MatchLength
	}
	if config.Mode != MatchLength && config.Mode != MatchSubsequence {
		return nil, fmt.Errorf("unknown workflow match mode %q", config.Mode)
	}

	compiled := make([]compiledSignature, 0, len(config.Signatures))
	for _, sig := range config.Signatures {
		cs := compiledSignature{name: sig.Name}
		for _, step := range sig.Steps {
			g, err := glob.Compile(step.Glob)
			if err != nil {
				return nil, fmt.Errorf("signature %s: bad glob %q: %w", sig.Name, step.Glob, err)
			}
			cs.steps = append(cs.steps, compiledStep{kind: step.Kind, glob: g})
		}
		compiled = append(compiled, cs)
	}

	return &WorkflowClassifier{config: config, signatures: compiled}, nil
}

func (c *WorkflowClassifier) Type() domain.PatternType {
	return domain.PatternWorkflowDetected
}

// Classify evaluates every signature against the whole window.
func (c *WorkflowClassifier) Classify(events []domain.Event) ([]domain.PatternMatch, error) {
	if len(events) < c.config.MinWindow {
		return nil, nil
	}

	var matches []domain.PatternMatch
	for _, sig := range c.signatures {
		if c.matches(events, sig) {
			matches = append(matches, domain.WorkflowDetected{
				Workflow:   sig.name,
				Confidence: c.config.Confidence,
			})
		}
	}
	return matches, nil
}

func (c *WorkflowClassifier) matches(events []domain.Event, sig compiledSignature) bool {
	if c.config.Mode == MatchSubsequence {
		return matchSubsequence(events, sig.steps)
	}
	return len(events) >= len(sig.steps)
}

// matchSubsequence walks the window once, advancing through the steps greedily.
func matchSubsequence(events []domain.Event, steps []compiledStep) bool {
	if len(steps) == 0 {
		return true
	}
	i := 0
	for _, ev := range events {
		step := steps[i]
		if ev.Kind == step.kind && step.glob.Match(baseName(ev.Path)) {
			i++
			if i == len(steps) {
				return true
			}
		}
	}
	return false
}

// baseName is filepath.Base without the platform separator dependency.
func baseName(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' || p[i] == '\\' {
			return p[i+1:]
		}
	}
	return p
}

var _ Classifier = (*WorkflowClassifier)(nil)
