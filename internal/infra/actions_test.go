package infra

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/patmon/internal/domain"
)

var handlerNow = time.Unix(1767225600, 0).UTC()

func fixedClock() time.Time { return handlerNow }

func TestNewActionHandlers_Names(t *testing.T) {
	handlers := NewActionHandlers(NewLayout(t.TempDir()), nil, zap.NewNop())

	names := make([]domain.ActionName, 0, len(handlers))
	for _, h := range handlers {
		names = append(names, h.Name())
	}
	assert.ElementsMatch(t, []domain.ActionName{
		domain.ActionEnableHotReload,
		domain.ActionSuggestBatchScript,
		domain.ActionOptimizeWorkflow,
		domain.ActionInvestigateErrors,
	}, names)
}

func TestHotReloadHandler(t *testing.T) {
	dir := t.TempDir()
	h := NewHotReloadHandler(dir, zap.NewNop())

	out, err := h.Handle(context.Background(), domain.RapidDevelopment{Path: "/x/a.py", ChangeCount: 3, TimeSpan: 10})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a.json"), out)

	var cfg HotReloadConfig
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &cfg))
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "/x/a.py", cfg.Path)
	assert.Equal(t, []string{"*.py", "*.js", "*.css"}, cfg.WatchPatterns)
	assert.Equal(t, 100, cfg.ReloadDelayMs)
	assert.Contains(t, cfg.Command, "/x/a.py")

	// Same stem overwrites.
	out2, err := h.Handle(context.Background(), domain.RapidDevelopment{Path: "/y/a.py", ChangeCount: 4})
	require.NoError(t, err)
	assert.Equal(t, out, out2)
	entries, _ := os.ReadDir(dir)
	assert.Len(t, entries, 1)
}

func TestHandlers_RejectOtherVariants(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	_, err := NewHotReloadHandler(dir, zap.NewNop()).Handle(ctx, domain.UnstableFile{Path: "/a"})
	assert.True(t, errors.Is(err, domain.ErrUnsupportedMatch))

	_, err = NewBatchScriptHandler(dir, zap.NewNop()).Handle(ctx, domain.RapidDevelopment{Path: "/a"})
	assert.True(t, errors.Is(err, domain.ErrUnsupportedMatch))

	_, err = NewWorkflowHandler(dir, zap.NewNop()).Handle(ctx, domain.BulkOperation{})
	assert.True(t, errors.Is(err, domain.ErrUnsupportedMatch))

	_, err = NewInvestigationHandler(dir, nil, zap.NewNop()).Handle(ctx, domain.WorkflowDetected{})
	assert.True(t, errors.Is(err, domain.ErrUnsupportedMatch))
}

func TestBatchScriptHandler(t *testing.T) {
	dir := t.TempDir()
	h := NewBatchScriptHandler(dir, zap.NewNop())
	h.now = fixedClock

	match := domain.BulkOperation{
		Operation:   domain.KindCreated,
		Count:       12,
		SamplePaths: []string{"/r/a.txt", "/r/b.txt"},
	}
	out, err := h.Handle(context.Background(), match)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "batch_created_1767225600.sh"), out)

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	script := string(data)
	assert.True(t, strings.HasPrefix(script, "#!/bin/bash\n"))
	assert.Contains(t, script, "Performing batch created on 12 files")
	assert.Contains(t, script, "# - /r/a.txt\n# - /r/b.txt\n")

	// Same second: a suffix keeps both files.
	out2, err := h.Handle(context.Background(), match)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "batch_created_1767225600-1.sh"), out2)
}

func TestBatchScriptHandler_PathCannotEscapeComment(t *testing.T) {
	dir := t.TempDir()
	h := NewBatchScriptHandler(dir, zap.NewNop())

	out, err := h.Handle(context.Background(), domain.BulkOperation{
		Operation:   domain.KindCreated,
		Count:       10,
		SamplePaths: []string{"/w/evil\nrm -rf \"$HOME\"\n#", "/w/cr\rtouch /tmp/x"},
	})
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	script := string(data)
	assert.Contains(t, script, `# - /w/evil\nrm -rf \"$HOME\"\n#`)
	assert.NotContains(t, script, "\r")
	for _, line := range strings.Split(script, "\n") {
		assert.False(t, strings.HasPrefix(line, "rm "), "sample path produced a command line: %q", line)
	}
}

func TestCommentText(t *testing.T) {
	assert.Equal(t, "/r/a b.txt", commentText("/r/a b.txt"))
	assert.Equal(t, "/r/é.txt", commentText("/r/é.txt"))
	assert.Equal(t, `/r/a\nb`, commentText("/r/a\nb"))
	assert.Equal(t, `/r/a\tb`, commentText("/r/a\tb"))
}

func TestWorkflowHandler(t *testing.T) {
	tests := []struct {
		workflow string
		want     []string
	}{
		{"test_driven_development", []string{"Setup continuous test runner", "Configure test coverage reporting", "Enable test result caching"}},
		{"refactoring", []string{"Enable semantic code analysis", "Setup automated refactoring tools", "Configure change impact analysis"}},
		{"documentation_update", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.workflow, func(t *testing.T) {
			dir := t.TempDir()
			h := NewWorkflowHandler(dir, zap.NewNop())
			h.now = fixedClock

			out, err := h.Handle(context.Background(), domain.WorkflowDetected{Workflow: tt.workflow, Confidence: 0.75})
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(dir, tt.workflow+"_1767225600.json"), out)

			var doc WorkflowOptimization
			data, err := os.ReadFile(out)
			require.NoError(t, err)
			require.NoError(t, json.Unmarshal(data, &doc))
			assert.Equal(t, tt.workflow, doc.Workflow)
			assert.Equal(t, 0.75, doc.Confidence)
			assert.Equal(t, tt.want, doc.Optimizations)
		})
	}
}

func TestInvestigationHandler(t *testing.T) {
	base := t.TempDir()
	target := filepath.Join(base, "flaky.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0640))

	eventLog := NewJSONLEventLog(filepath.Join(base, "events.jsonl"), zap.NewNop())
	failedPattern, _ := json.Marshal(domain.UnstableFile{Path: target, CycleCount: 2})
	require.NoError(t, eventLog.Record(domain.LogEntry{Pattern: failedPattern, Status: domain.StatusFailed}))
	require.NoError(t, eventLog.Record(domain.LogEntry{Pattern: failedPattern, Status: domain.StatusCompleted}))

	runner := &fakeRunner{out: []byte("4242\n")}
	diag := NewDiagnostics(runner, newMockProcessManager(), eventLog, zap.NewNop())
	diag.diskUsage = func(ctx context.Context, path string) (*disk.UsageStat, error) {
		return &disk.UsageStat{Path: path, Free: 2 << 30, UsedPercent: 40}, nil
	}

	outDir := filepath.Join(base, "error_investigations")
	h := NewInvestigationHandler(outDir, diag, zap.NewNop())
	h.now = fixedClock

	out, err := h.Handle(context.Background(), domain.UnstableFile{Path: target, CycleCount: 2})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outDir, "investigation_1767225600.json"), out)

	var inv Investigation
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &inv))

	assert.Equal(t, target, inv.Path)
	assert.Equal(t, "unstable_file", inv.Issue)
	assert.Equal(t, 2, inv.Cycles)
	require.Len(t, inv.Checks, 4)

	checks := map[string]map[string]any{}
	for _, c := range inv.Checks {
		checks[c.Name] = c.Result
	}
	assert.Equal(t, true, checks["file_permissions"]["exists"])
	assert.Equal(t, "0640", checks["file_permissions"]["mode"])
	assert.Equal(t, 2.0, checks["disk_space"]["free_gb"])
	assert.Equal(t, "lsof", checks["process_conflicts"]["method"])
	assert.Equal(t, []any{4242.0}, checks["process_conflicts"]["holders"])
	assert.Equal(t, 1.0, checks["recent_errors"]["recent_errors"])

	assert.Equal(t, []string{"lsof", "-t", "--", target}, runner.calls[0])
}

func TestInvestigationHandler_MissingFile(t *testing.T) {
	base := t.TempDir()
	missing := filepath.Join(base, "gone", "file.txt")

	diag := NewDiagnostics(&fakeRunner{}, newMockProcessManager(), nil, zap.NewNop())
	diag.diskUsage = func(ctx context.Context, path string) (*disk.UsageStat, error) {
		return &disk.UsageStat{Path: path}, nil
	}
	h := NewInvestigationHandler(base, diag, zap.NewNop())

	out, err := h.Handle(context.Background(), domain.UnstableFile{Path: missing, CycleCount: 3})
	require.NoError(t, err, "a missing file is reported, not an error")

	var inv Investigation
	data, _ := os.ReadFile(out)
	require.NoError(t, json.Unmarshal(data, &inv))
	assert.Equal(t, false, inv.Checks[0].Result["exists"])
	assert.Equal(t, base, inv.Checks[1].Result["path"], "disk check falls back to nearest existing ancestor")
}

func TestInvestigationHandler_SlowCheckStillWritesDocument(t *testing.T) {
	base := t.TempDir()
	target := filepath.Join(base, "flaky.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0644))

	pm := newMockProcessManager()
	pm.holders[target] = []int{99}
	diag := NewDiagnostics(hangingRunner{}, pm, nil, zap.NewNop())
	diag.diskUsage = func(ctx context.Context, path string) (*disk.UsageStat, error) {
		return &disk.UsageStat{Path: path, Free: 1 << 30}, nil
	}
	outDir := filepath.Join(base, "error_investigations")
	h := NewInvestigationHandler(outDir, diag, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	out, err := h.Handle(ctx, domain.UnstableFile{Path: target, CycleCount: 2})
	require.NoError(t, err)
	require.NotEmpty(t, out)

	var inv Investigation
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &inv))
	require.Len(t, inv.Checks, 4)

	assert.Equal(t, "file_permissions", inv.Checks[0].Name)
	assert.Equal(t, true, inv.Checks[0].Result["exists"])
	assert.Equal(t, 1.0, inv.Checks[1].Result["free_gb"])
	assert.Equal(t, "process_conflicts", inv.Checks[2].Name)
	assert.Equal(t, map[string]any{"error": "timeout"}, inv.Checks[2].Result)
	assert.Equal(t, 0.0, inv.Checks[3].Result["recent_errors"])
}

func TestDiagnostics_KilledLsofIsNotNoConflict(t *testing.T) {
	diag := NewDiagnostics(hangingRunner{}, newMockProcessManager(), nil, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	result := diag.checkProcessConflicts(ctx, "/f")
	assert.NotContains(t, result, "status")
	assert.Equal(t, context.DeadlineExceeded.Error(), result["error"])
}

func TestDiagnostics_RunAfterDeadline(t *testing.T) {
	diag := NewDiagnostics(&fakeRunner{}, newMockProcessManager(), nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := diag.Run(ctx, t.TempDir())
	require.Len(t, results, 4)
	assert.Equal(t, true, results[0].Result["exists"])
	assert.Equal(t, context.Canceled.Error(), results[1].Result["error"])
	assert.Equal(t, context.Canceled.Error(), results[2].Result["error"])
	assert.Equal(t, 0, results[3].Result["recent_errors"])
}

func TestDiagnostics_FallsBackToProcessScan(t *testing.T) {
	pm := newMockProcessManager()
	pm.holders["/f"] = []int{7}
	diag := NewDiagnostics(&fakeRunner{err: errors.New("exec: \"lsof\": executable file not found in $PATH")}, pm, nil, zap.NewNop())

	result := diag.checkProcessConflicts(context.Background(), "/f")
	assert.Equal(t, "gopsutil", result["method"])
	assert.Equal(t, []int{7}, result["holders"])
	assert.Equal(t, "1 process(es) hold the file open", result["status"])
}

func TestHandlers_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewHotReloadHandler(t.TempDir(), zap.NewNop()).Handle(ctx, domain.RapidDevelopment{Path: "/a.py"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileStem(t *testing.T) {
	assert.Equal(t, "a", fileStem("/x/a.py"))
	assert.Equal(t, "archive.tar", fileStem("/x/archive.tar.gz"))
	assert.Equal(t, "Makefile", fileStem("/x/Makefile"))
}
