package infra

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/eliteGoblin/focusd/patmon/internal/domain"
)

// CommandRunner abstracts command execution for testing
type CommandRunner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecCommandRunner executes real system commands
type ExecCommandRunner struct{}

// Output executes a command and returns its stdout
func (r *ExecCommandRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// CheckResult is one named diagnostic outcome.
type CheckResult struct {
	Name   string         `json:"name"`
	Result map[string]any `json:"result"`
}

// Diagnostics runs read-only checks against a path. Checks never fail;
// problems are reported inside the result.
type Diagnostics struct {
	runner    CommandRunner
	pm        domain.ProcessManager
	eventLog  domain.EventLog
	diskUsage func(ctx context.Context, path string) (*disk.UsageStat, error)
	logger    *zap.Logger
}

// NewDiagnostics creates the diagnostics runner used by investigate_errors.
func NewDiagnostics(runner CommandRunner, pm domain.ProcessManager, eventLog domain.EventLog, logger *zap.Logger) *Diagnostics {
	return &Diagnostics{
		runner:    runner,
		pm:        pm,
		eventLog:  eventLog,
		diskUsage: disk.UsageWithContext,
		logger:    logger,
	}
}

type check struct {
	name string
	run  func(ctx context.Context, path string) map[string]any
	// bounded checks depend on ctx and are reported as timed out once it ends.
	bounded bool
}

func (d *Diagnostics) checks() []check {
	return []check{
		{name: "file_permissions", run: func(_ context.Context, p string) map[string]any { return d.checkPermissions(p) }},
		{name: "disk_space", run: d.checkDiskSpace, bounded: true},
		{name: "process_conflicts", run: d.checkProcessConflicts, bounded: true},
		{name: "recent_errors", run: func(_ context.Context, p string) map[string]any { return d.checkRecentErrors(p) }},
	}
}

// Run performs every check in a fixed order. A check cut short by ctx is
// recorded as a timeout; the remaining checks still run.
func (d *Diagnostics) Run(ctx context.Context, path string) []CheckResult {
	var results []CheckResult
	for _, c := range d.checks() {
		var result map[string]any
		if !c.bounded || ctx.Err() == nil {
			result = c.run(ctx, path)
		}
		if c.bounded && ctx.Err() != nil {
			result = interrupted(ctx.Err())
			d.logger.Debug("diagnostic check interrupted",
				zap.String("check", c.name),
				zap.String("path", path),
				zap.Error(ctx.Err()))
		}
		results = append(results, CheckResult{Name: c.name, Result: result})
	}
	return results
}

func interrupted(err error) map[string]any {
	if errors.Is(err, context.DeadlineExceeded) {
		return map[string]any{"error": "timeout"}
	}
	return map[string]any{"error": err.Error()}
}

func (d *Diagnostics) checkPermissions(path string) map[string]any {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{"exists": false}
		}
		return map[string]any{"error": err.Error()}
	}
	return map[string]any{
		"exists":   true,
		"readable": unix.Access(path, unix.R_OK) == nil,
		"writable": unix.Access(path, unix.W_OK) == nil,
		"mode":     fmt.Sprintf("%#o", info.Mode().Perm()),
	}
}

// checkDiskSpace reports usage of the filesystem holding path, or of the
// nearest existing ancestor when path is gone.
func (d *Diagnostics) checkDiskSpace(ctx context.Context, path string) map[string]any {
	target := existingAncestor(path)
	usage, err := d.diskUsage(ctx, target)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	return map[string]any{
		"path":         target,
		"free_gb":      float64(usage.Free) / (1 << 30),
		"used_percent": usage.UsedPercent,
	}
}

func (d *Diagnostics) checkProcessConflicts(ctx context.Context, path string) map[string]any {
	holders, method, err := d.findHolders(ctx, path)
	if err != nil {
		return map[string]any{"error": err.Error(), "method": method}
	}

	status := "No conflicts detected"
	if len(holders) > 0 {
		status = fmt.Sprintf("%d process(es) hold the file open", len(holders))
	}
	if holders == nil {
		holders = []int{}
	}
	return map[string]any{
		"status":  status,
		"holders": holders,
		"method":  method,
	}
}

// findHolders asks lsof first and falls back to scanning process descriptors.
func (d *Diagnostics) findHolders(ctx context.Context, path string) ([]int, string, error) {
	if d.runner != nil {
		out, err := d.runner.Output(ctx, "lsof", "-t", "--", path)
		var exitErr *exec.ExitError
		switch {
		case err == nil:
			return parsePIDs(out), "lsof", nil
		case ctx.Err() != nil:
			return nil, "lsof", ctx.Err()
		case errors.As(err, &exitErr) && len(bytes.TrimSpace(out)) == 0:
			// lsof exits 1 when nothing holds the file.
			return nil, "lsof", nil
		default:
			d.logger.Debug("lsof unavailable, scanning processes", zap.Error(err))
		}
	}

	if d.pm == nil {
		return nil, "none", fmt.Errorf("no process inspection available")
	}
	holders, err := d.pm.FindHolders(ctx, path)
	return holders, "gopsutil", err
}

func (d *Diagnostics) checkRecentErrors(path string) map[string]any {
	if d.eventLog == nil {
		return map[string]any{"recent_errors": 0}
	}
	entries, err := d.eventLog.Read()
	if err != nil {
		return map[string]any{"error": err.Error()}
	}

	count := 0
	for _, e := range entries {
		if e.Status == domain.StatusFailed && e.PatternPath() == path {
			count++
		}
	}
	return map[string]any{"recent_errors": count}
}

func parsePIDs(out []byte) []int {
	var pids []int
	for _, line := range strings.Split(string(out), "\n") {
		pid, err := strconv.Atoi(strings.TrimSpace(line))
		if err == nil && pid > 0 {
			pids = append(pids, pid)
		}
	}
	return pids
}

func existingAncestor(path string) string {
	p := filepath.Clean(path)
	for {
		if _, err := os.Stat(p); err == nil {
			return p
		}
		parent := filepath.Dir(p)
		if parent == p {
			return string(filepath.Separator)
		}
		p = parent
	}
}
