package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/patmon/internal/domain"
)

// NewActionHandlers builds the four built-in handlers writing under layout.
func NewActionHandlers(layout Layout, diag *Diagnostics, logger *zap.Logger) []domain.ActionHandler {
	return []domain.ActionHandler{
		NewHotReloadHandler(layout.HotReloadDir(), logger),
		NewBatchScriptHandler(layout.BatchScriptsDir(), logger),
		NewWorkflowHandler(layout.WorkflowDir(), logger),
		NewInvestigationHandler(layout.InvestigationsDir(), diag, logger),
	}
}

// --- enable_hot_reload ---

// HotReloadConfig is the descriptor written for a rapidly edited file.
type HotReloadConfig struct {
	Enabled       bool     `json:"enabled"`
	Path          string   `json:"path"`
	WatchPatterns []string `json:"watch_patterns"`
	ReloadDelayMs int      `json:"reload_delay"`
	Command       string   `json:"command"`
}

// HotReloadHandler writes hot_reload/<stem>.json, overwriting earlier runs.
type HotReloadHandler struct {
	dir    string
	logger *zap.Logger
}

func NewHotReloadHandler(dir string, logger *zap.Logger) *HotReloadHandler {
	return &HotReloadHandler{dir: dir, logger: logger}
}

func (h *HotReloadHandler) Name() domain.ActionName { return domain.ActionEnableHotReload }

func (h *HotReloadHandler) Handle(ctx context.Context, match domain.PatternMatch) (string, error) {
	m, ok := match.(domain.RapidDevelopment)
	if !ok {
		return "", fmt.Errorf("%w: %s given %s", domain.ErrUnsupportedMatch, h.Name(), match.Type())
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	config := HotReloadConfig{
		Enabled:       true,
		Path:          m.Path,
		WatchPatterns: []string{"*.py", "*.js", "*.css"},
		ReloadDelayMs: 100,
		Command:       fmt.Sprintf("echo %q", "Hot reload enabled for "+m.Path),
	}
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return "", err
	}

	out := filepath.Join(h.dir, fileStem(m.Path)+".json")
	if err := atomicWrite(out, data, 0644); err != nil {
		return "", err
	}
	h.logger.Info("enabled hot reload", zap.String("path", m.Path), zap.String("config", out))
	return out, nil
}

// fileStem is the base name without its final extension.
func fileStem(path string) string {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" || stem == "." || stem == string(filepath.Separator) {
		return "unnamed"
	}
	return stem
}

// --- suggest_batch_script ---

const batchScriptTemplate = `#!/bin/bash
# Auto-generated batch script for {{.Operation}} operations
# Generated: {{.Generated}}

echo "Performing batch {{.Operation}} on {{.Count}} files..."

# Add your batch operations here
# Example paths:
{{- range .Paths}}
# - {{comment .}}
{{- end}}

# Suggested batch command:
# find . -name "*.pattern" -exec {{.Operation}} {} \;

echo "Batch operation complete"
`

var batchScript = template.Must(template.New("batch").
	Funcs(template.FuncMap{"comment": commentText}).
	Parse(batchScriptTemplate))

// commentText keeps s on a single shell comment line. Control characters are
// escaped Go-style.
func commentText(s string) string {
	if !strings.ContainsFunc(s, unicode.IsControl) {
		return s
	}
	q := strconv.Quote(s)
	return q[1 : len(q)-1]
}

type batchScriptData struct {
	Operation string
	Count     int
	Paths     []string
	Generated string
}

// BatchScriptHandler writes batch_scripts/batch_<op>_<unix>.sh with mode 0755.
type BatchScriptHandler struct {
	dir    string
	now    func() time.Time
	logger *zap.Logger
}

func NewBatchScriptHandler(dir string, logger *zap.Logger) *BatchScriptHandler {
	return &BatchScriptHandler{dir: dir, now: time.Now, logger: logger}
}

func (h *BatchScriptHandler) Name() domain.ActionName { return domain.ActionSuggestBatchScript }

func (h *BatchScriptHandler) Handle(ctx context.Context, match domain.PatternMatch) (string, error) {
	m, ok := match.(domain.BulkOperation)
	if !ok {
		return "", fmt.Errorf("%w: %s given %s", domain.ErrUnsupportedMatch, h.Name(), match.Type())
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	now := h.now()
	var buf bytes.Buffer
	if err := batchScript.Execute(&buf, batchScriptData{
		Operation: string(m.Operation),
		Count:     m.Count,
		Paths:     m.SamplePaths,
		Generated: now.Format(time.RFC3339),
	}); err != nil {
		return "", fmt.Errorf("failed to execute batch template: %w", err)
	}

	stem := fmt.Sprintf("batch_%s_%d", m.Operation, now.Unix())
	out, err := writeUnique(h.dir, stem, ".sh", buf.Bytes(), 0755)
	if err != nil {
		return "", err
	}
	h.logger.Info("created batch script", zap.String("script", out), zap.Int("count", m.Count))
	return out, nil
}

// --- optimize_workflow ---

// workflowOptimizations are the canned suggestions per workflow.
var workflowOptimizations = map[string][]string{
	"test_driven_development": {
		"Setup continuous test runner",
		"Configure test coverage reporting",
		"Enable test result caching",
	},
	"refactoring": {
		"Enable semantic code analysis",
		"Setup automated refactoring tools",
		"Configure change impact analysis",
	},
}

// WorkflowOptimization is the document written for a detected workflow.
type WorkflowOptimization struct {
	Workflow      string    `json:"workflow"`
	Confidence    float64   `json:"confidence"`
	DetectedAt    time.Time `json:"detected_at"`
	Optimizations []string  `json:"optimizations"`
}

// WorkflowHandler writes workflow_optimizations/<workflow>_<unix>.json.
type WorkflowHandler struct {
	dir    string
	now    func() time.Time
	logger *zap.Logger
}

func NewWorkflowHandler(dir string, logger *zap.Logger) *WorkflowHandler {
	return &WorkflowHandler{dir: dir, now: time.Now, logger: logger}
}

func (h *WorkflowHandler) Name() domain.ActionName { return domain.ActionOptimizeWorkflow }

func (h *WorkflowHandler) Handle(ctx context.Context, match domain.PatternMatch) (string, error) {
	m, ok := match.(domain.WorkflowDetected)
	if !ok {
		return "", fmt.Errorf("%w: %s given %s", domain.ErrUnsupportedMatch, h.Name(), match.Type())
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	now := h.now()
	opts := workflowOptimizations[m.Workflow]
	if opts == nil {
		opts = []string{}
	}
	data, err := json.MarshalIndent(WorkflowOptimization{
		Workflow:      m.Workflow,
		Confidence:    m.Confidence,
		DetectedAt:    now,
		Optimizations: opts,
	}, "", "  ")
	if err != nil {
		return "", err
	}

	stem := fmt.Sprintf("%s_%d", safeName(m.Workflow), now.Unix())
	out, err := writeUnique(h.dir, stem, ".json", data, 0644)
	if err != nil {
		return "", err
	}
	h.logger.Info("generated workflow optimization", zap.String("workflow", m.Workflow), zap.String("file", out))
	return out, nil
}

// safeName keeps a workflow name usable as a file name component.
func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == 0 {
			return '_'
		}
		return r
	}, s)
}

// --- investigate_errors ---

// Investigation is the document written for an unstable file.
type Investigation struct {
	Path      string        `json:"path"`
	Issue     string        `json:"issue"`
	Cycles    int           `json:"cycles"`
	Timestamp time.Time     `json:"timestamp"`
	Checks    []CheckResult `json:"checks"`
}

// InvestigationHandler runs diagnostics and writes error_investigations/investigation_<unix>.json.
type InvestigationHandler struct {
	dir    string
	diag   *Diagnostics
	now    func() time.Time
	logger *zap.Logger
}

func NewInvestigationHandler(dir string, diag *Diagnostics, logger *zap.Logger) *InvestigationHandler {
	return &InvestigationHandler{dir: dir, diag: diag, now: time.Now, logger: logger}
}

func (h *InvestigationHandler) Name() domain.ActionName { return domain.ActionInvestigateErrors }

func (h *InvestigationHandler) Handle(ctx context.Context, match domain.PatternMatch) (string, error) {
	m, ok := match.(domain.UnstableFile)
	if !ok {
		return "", fmt.Errorf("%w: %s given %s", domain.ErrUnsupportedMatch, h.Name(), match.Type())
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	inv := Investigation{
		Path:      m.Path,
		Issue:     string(domain.PatternUnstableFile),
		Cycles:    m.CycleCount,
		Timestamp: h.now(),
		Checks:    []CheckResult{},
	}
	if h.diag != nil {
		// Checks that overran ctx are recorded in the document.
		inv.Checks = h.diag.Run(ctx, m.Path)
	}

	data, err := json.MarshalIndent(inv, "", "  ")
	if err != nil {
		return "", err
	}

	stem := fmt.Sprintf("investigation_%d", inv.Timestamp.Unix())
	out, err := writeUnique(h.dir, stem, ".json", data, 0644)
	if err != nil {
		return "", err
	}
	h.logger.Info("completed error investigation", zap.String("path", m.Path), zap.String("file", out))
	return out, nil
}

var (
	_ domain.ActionHandler = (*HotReloadHandler)(nil)
	_ domain.ActionHandler = (*BatchScriptHandler)(nil)
	_ domain.ActionHandler = (*WorkflowHandler)(nil)
	_ domain.ActionHandler = (*InvestigationHandler)(nil)
)
