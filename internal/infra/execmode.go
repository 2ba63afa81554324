package infra

import (
	"os"
	"os/user"
	"path/filepath"
)

// ExecMode represents the execution mode of the application.
type ExecMode string

const (
	// ExecModeUser runs as a regular user with state under the home directory
	ExecModeUser ExecMode = "user"
	// ExecModeSystem runs as root with state under /var/lib
	ExecModeSystem ExecMode = "system"
)

// String returns a human-readable description of the mode.
func (m ExecMode) String() string {
	switch m {
	case ExecModeSystem:
		return "system (root)"
	case ExecModeUser:
		return "user (non-root)"
	default:
		return "unknown"
	}
}

// DetectExecMode determines the execution mode based on effective UID.
func DetectExecMode() ExecMode {
	if os.Geteuid() == 0 {
		return ExecModeSystem
	}
	return ExecModeUser
}

// DefaultBaseDir returns the base directory for a mode.
func DefaultBaseDir(mode ExecMode) string {
	if mode == ExecModeSystem {
		return "/var/lib/patmon"
	}
	return filepath.Join(GetRealUserHome(), ".patmon")
}

// GetRealUserHome returns the real user's home directory, even when running under sudo.
// Under sudo, os.UserHomeDir() returns /var/root, so we use SUDO_USER to find the real user.
func GetRealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}

// Layout is the on-disk tree under the base directory.
type Layout struct {
	BaseDir string
}

// NewLayout returns the layout rooted at baseDir.
func NewLayout(baseDir string) Layout {
	return Layout{BaseDir: baseDir}
}

func (l Layout) HotReloadDir() string { return filepath.Join(l.BaseDir, "hot_reload") }
func (l Layout) BatchScriptsDir() string { return filepath.Join(l.BaseDir, "batch_scripts") }
func (l Layout) WorkflowDir() string { return filepath.Join(l.BaseDir, "workflow_optimizations") }
func (l Layout) InvestigationsDir() string { return filepath.Join(l.BaseDir, "error_investigations") }
func (l Layout) ReportsDir() string { return filepath.Join(l.BaseDir, "reports") }
func (l Layout) LogsDir() string { return filepath.Join(l.BaseDir, "logs") }
func (l Layout) DataDir() string { return filepath.Join(l.BaseDir, "data") }
func (l Layout) EventLogPath() string { return filepath.Join(l.LogsDir(), "automation_events.jsonl") }
func (l Layout) DaemonLogPath() string { return filepath.Join(l.LogsDir(), "patmon.log") }
func (l Layout) InstancePath() string { return filepath.Join(l.DataDir(), "instance.json") }
func (l Layout) DefaultRulesPath() string { return filepath.Join(l.BaseDir, "rules.json") }

// Ensure creates every directory in the layout.
func (l Layout) Ensure() error {
	for _, dir := range []string{
		l.HotReloadDir(), l.BatchScriptsDir(), l.WorkflowDir(),
		l.InvestigationsDir(), l.ReportsDir(), l.LogsDir(),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.MkdirAll(l.DataDir(), 0700)
}
