// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"encoding/json"
	"errors"
	"time"
)

// EventKind identifies what happened to a path.
type EventKind string

const (
	KindCreated  EventKind = "created"
	KindModified EventKind = "modified"
	KindDeleted  EventKind = "deleted"
	KindRenamed  EventKind = "renamed"
	KindUnknown  EventKind = "unknown"
)

// ParseEventKind maps a string to an EventKind. Unrecognized values map to KindUnknown.
func ParseEventKind(s string) EventKind {
	switch EventKind(s) {
	case KindCreated, KindModified, KindDeleted, KindRenamed:
		return EventKind(s)
	default:
		return KindUnknown
	}
}

// Event is a single filesystem observation. Events are immutable values.
type Event struct {
	Path      string    `json:"path"`
	Kind      EventKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

// PatternType names a class of detected pattern.
type PatternType string

const (
	PatternRapidDevelopment PatternType = "rapid_development"
	PatternBulkOperation    PatternType = "bulk_operation"
	PatternWorkflowDetected PatternType = "workflow_detected"
	PatternUnstableFile     PatternType = "unstable_file"
)

// AllPatternTypes lists the pattern types in classifier evaluation order.
var AllPatternTypes = []PatternType{
	PatternRapidDevelopment,
	PatternBulkOperation,
	PatternWorkflowDetected,
	PatternUnstableFile,
}

// PatternMatch is the output of a classifier. It is a closed sum type:
// RapidDevelopment, BulkOperation, WorkflowDetected and UnstableFile are
// the only implementations.
type PatternMatch interface {
	Type() PatternType
	Suggestion() string
	isPatternMatch()
}

// PathMatch is implemented by matches that concern a single path.
type PathMatch interface {
	PatternMatch
	AffectedPath() string
}

// RapidDevelopment fires when one path changes repeatedly in a short span.
type RapidDevelopment struct {
	Path        string  `json:"path"`
	ChangeCount int     `json:"change_count"`
	TimeSpan    float64 `json:"time_span"` // seconds
}

func (RapidDevelopment) Type() PatternType { return PatternRapidDevelopment }
func (RapidDevelopment) Suggestion() string {
	return "Enable auto-save or continuous integration"
}
func (m RapidDevelopment) AffectedPath() string { return m.Path }
func (RapidDevelopment) isPatternMatch()        {}

func (m RapidDevelopment) MarshalJSON() ([]byte, error) {
	type fields RapidDevelopment
	return json.Marshal(struct {
		Type PatternType `json:"type"`
		fields
		Suggestion string `json:"suggestion"`
	}{m.Type(), fields(m), m.Suggestion()})
}

// BulkOperation fires when many events of one kind arrive in a short span.
type BulkOperation struct {
	Operation   EventKind `json:"operation"`
	Count       int       `json:"count"`
	SamplePaths []string  `json:"sample_paths"`
}

func (BulkOperation) Type() PatternType { return PatternBulkOperation }
func (m BulkOperation) Suggestion() string {
	return "Batch " + string(m.Operation) + " operations for efficiency"
}
func (BulkOperation) isPatternMatch() {}

func (m BulkOperation) MarshalJSON() ([]byte, error) {
	type fields BulkOperation
	return json.Marshal(struct {
		Type PatternType `json:"type"`
		fields
		Suggestion string `json:"suggestion"`
	}{m.Type(), fields(m), m.Suggestion()})
}

// WorkflowDetected fires when the window matches a named workflow signature.
type WorkflowDetected struct {
	Workflow   string  `json:"workflow"`
	Confidence float64 `json:"confidence"`
}

func (WorkflowDetected) Type() PatternType { return PatternWorkflowDetected }
func (m WorkflowDetected) Suggestion() string {
	return "Optimize " + m.Workflow + " with automation"
}
func (WorkflowDetected) isPatternMatch() {}

func (m WorkflowDetected) MarshalJSON() ([]byte, error) {
	type fields WorkflowDetected
	return json.Marshal(struct {
		Type PatternType `json:"type"`
		fields
		Suggestion string `json:"suggestion"`
	}{m.Type(), fields(m), m.Suggestion()})
}

// UnstableFile fires when a path keeps being created and deleted.
type UnstableFile struct {
	Path       string `json:"path"`
	CycleCount int    `json:"cycle_count"`
}

func (UnstableFile) Type() PatternType { return PatternUnstableFile }
func (UnstableFile) Suggestion() string {
	return "Investigate file creation failures"
}
func (m UnstableFile) AffectedPath() string { return m.Path }
func (UnstableFile) isPatternMatch()        {}

func (m UnstableFile) MarshalJSON() ([]byte, error) {
	type fields UnstableFile
	return json.Marshal(struct {
		Type PatternType `json:"type"`
		fields
		Suggestion string `json:"suggestion"`
	}{m.Type(), fields(m), m.Suggestion()})
}

// ActionName identifies a side-effecting action handler.
type ActionName string

const (
	ActionEnableHotReload    ActionName = "enable_hot_reload"
	ActionSuggestBatchScript ActionName = "suggest_batch_script"
	ActionOptimizeWorkflow   ActionName = "optimize_workflow"
	ActionInvestigateErrors  ActionName = "investigate_errors"

	// ActionCreateBatchScript is accepted in rule files as an alias of ActionSuggestBatchScript.
	ActionCreateBatchScript ActionName = "create_batch_script"
)

// Canonical resolves aliases to the canonical action name.
func (a ActionName) Canonical() ActionName {
	if a == ActionCreateBatchScript {
		return ActionSuggestBatchScript
	}
	return a
}

// Known reports whether the action is one of the fixed handler names.
func (a ActionName) Known() bool {
	switch a.Canonical() {
	case ActionEnableHotReload, ActionSuggestBatchScript, ActionOptimizeWorkflow, ActionInvestigateErrors:
		return true
	default:
		return false
	}
}

// Rule maps a pattern type to the action that handles it.
type Rule struct {
	PatternType PatternType `json:"pattern_type"`
	Threshold   float64     `json:"threshold"`
	Action      ActionName  `json:"action"`
	// Workflows restricts workflow_detected dispatch to the listed workflows (empty = all).
	Workflows []string `json:"workflows,omitempty"`
}

// DispatchState is the terminal state of a single dispatch.
type DispatchState int

const (
	StateDetected DispatchState = iota
	StateActionInvoked
	StateIgnored
	StateFailed
)

// String returns the state name.
func (s DispatchState) String() string {
	switch s {
	case StateDetected:
		return "detected"
	case StateActionInvoked:
		return "action_invoked"
	case StateIgnored:
		return "ignored"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// LogStatus is the status string written to the audit log.
type LogStatus string

const (
	StatusCompleted LogStatus = "completed"
	StatusIgnored   LogStatus = "ignored"
	StatusFailed    LogStatus = "failed"
)

// DispatchResult captures what happened to one match.
type DispatchResult struct {
	Match    PatternMatch
	Action   ActionName
	State    DispatchState
	Artifact string // file written by the handler, if any
	Err      error
}

// Status converts the terminal state to the audit-log status.
func (r DispatchResult) Status() LogStatus {
	switch r.State {
	case StateActionInvoked:
		return StatusCompleted
	case StateFailed:
		return StatusFailed
	default:
		return StatusIgnored
	}
}

// LogEntry is one audit record of a dispatched action.
type LogEntry struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Pattern   json.RawMessage `json:"pattern"`
	Action    ActionName      `json:"action"`
	Status    LogStatus       `json:"status"`
	Error     string          `json:"error,omitempty"`
	Artifact  string          `json:"artifact,omitempty"`
}

// PatternPath extracts the "path" field of the logged pattern, if any.
func (e LogEntry) PatternPath() string {
	var p struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(e.Pattern, &p); err != nil {
		return ""
	}
	return p.Path
}

// PatternTypeName extracts the "type" discriminator of the logged pattern.
func (e LogEntry) PatternTypeName() PatternType {
	var p struct {
		Type PatternType `json:"type"`
	}
	if err := json.Unmarshal(e.Pattern, &p); err != nil {
		return ""
	}
	return p.Type
}

// Error taxonomy. None of these terminate the process.
var (
	ErrSourceUnavailable = errors.New("native event source unavailable")
	ErrClassifierFailure = errors.New("classifier failed")
	ErrActionFailure     = errors.New("action failed")
	ErrConfigMalformed   = errors.New("rules configuration malformed")
	ErrUnsupportedMatch  = errors.New("action cannot handle pattern")
)
