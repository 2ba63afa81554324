package pattern

import (
	"fmt"

	"github.com/eliteGoblin/focusd/patmon/internal/domain"
)

// Config collects the thresholds of every classifier.
type Config struct {
	WindowSize int
	Rapid      RapidConfig
	Bulk       BulkConfig
	Workflow   WorkflowConfig
	Unstable   UnstableConfig
}

// DefaultConfig returns the built-in thresholds.
func DefaultConfig() Config {
	return Config{
		WindowSize: DefaultWindowSize,
		Rapid:      DefaultRapidConfig(),
		Bulk:       DefaultBulkConfig(),
		Workflow:   DefaultWorkflowConfig(),
		Unstable:   DefaultUnstableConfig(),
	}
}

// Registry holds the classifiers in evaluation order.
type Registry struct {
	ordered []Classifier
	byType  map[domain.PatternType]Classifier
}

// NewRegistry creates a registry with the four built-in classifiers.
func NewRegistry(config Config) (*Registry, error) {
	workflow, err := NewWorkflowClassifier(config.Workflow)
	if err != nil {
		return nil, fmt.Errorf("workflow classifier: %w", err)
	}

	return NewRegistryWithClassifiers(
		NewRapidClassifier(config.Rapid),
		NewBulkClassifier(config.Bulk),
		workflow,
		NewUnstableClassifier(config.Unstable),
	), nil
}

// NewRegistryWithClassifiers creates a registry with custom classifiers (for testing).
// Classifiers are evaluated in the order given.
func NewRegistryWithClassifiers(classifiers ...Classifier) *Registry {
	r := &Registry{
		byType: make(map[domain.PatternType]Classifier),
	}
	for _, c := range classifiers {
		r.Register(c)
	}
	return r
}

// Register appends a classifier. A classifier of an already registered type replaces it in place.
func (r *Registry) Register(c Classifier) {
	if _, exists := r.byType[c.Type()]; exists {
		for i, existing := range r.ordered {
			if existing.Type() == c.Type() {
				r.ordered[i] = c
			}
		}
	} else {
		r.ordered = append(r.ordered, c)
	}
	r.byType[c.Type()] = c
}

// Get returns the classifier for a pattern type.
func (r *Registry) Get(t domain.PatternType) (Classifier, bool) {
	c, ok := r.byType[t]
	return c, ok
}

// GetAll returns the classifiers in evaluation order.
func (r *Registry) GetAll() []Classifier {
	out := make([]Classifier, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// List returns the registered pattern types in evaluation order.
func (r *Registry) List() []domain.PatternType {
	types := make([]domain.PatternType, len(r.ordered))
	for i, c := range r.ordered {
		types[i] = c.Type()
	}
	return types
}
