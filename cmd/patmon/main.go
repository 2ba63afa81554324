// Package main is the CLI entry point for patmon.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/patmon/internal/config"
	"github.com/eliteGoblin/focusd/patmon/internal/daemon"
	"github.com/eliteGoblin/focusd/patmon/internal/domain"
	"github.com/eliteGoblin/focusd/patmon/internal/infra"
	"github.com/eliteGoblin/focusd/patmon/internal/rules"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := newRootCmd(os.Stdout).ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// cli carries the state shared by every command.
type cli struct {
	v          *viper.Viper
	out        io.Writer
	configFile string
	jsonOutput bool
	since      time.Duration
	limit      int
}

// flagKeys maps config keys to the flag names that override them.
var flagKeys = map[string]string{
	"base_dir":                   "base-dir",
	"rules":                      "rules",
	"log_level":                  "log-level",
	"roots":                      "root",
	"source.mode":                "source",
	"source.poll_interval":       "poll-interval",
	"source.emit_initial":        "emit-initial",
	"source.exclude":             "exclude",
	"detector.window_size":       "window-size",
	"detector.workflow_matching": "workflow-matching",
	"metrics.addr":               "metrics-addr",
	"history.enabled":            "history",
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{v: config.New(), out: out}

	rootCmd := &cobra.Command{
		Use:   "patmon",
		Short: "Filesystem pattern monitor - detects work patterns and automates responses",
		Long: `patmon watches directory trees, keeps a sliding window of recent
filesystem events and runs heuristic classifiers over it. Detected patterns
(rapid edits, bulk operations, workflows, unstable files) are dispatched to
configured actions and every dispatch is recorded in an audit log.`,
		Version:       Version,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.bindFlags(cmd)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&c.configFile, "config", "", "Config file (default <base-dir>/patmon.yaml)")
	pf.String("base-dir", "", "Output and state directory")
	pf.String("rules", "", "Rules file (.json, .jsonc, .yaml)")
	pf.String("log-level", "info", "Log level (debug, info, warn, error)")

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Run the detection daemon in the foreground",
		Long: `Watches the configured roots until SIGINT or SIGTERM.
SIGHUP re-reads the rules file. A session report is written on exit.`,
		RunE: c.runStart,
	}
	sf := startCmd.Flags()
	sf.StringSlice("root", nil, "Directory to watch (repeatable, default current directory)")
	sf.String("source", config.SourceAuto, "Event source: auto, native or polling")
	sf.Duration("poll-interval", infra.DefaultPollInterval, "Polling interval")
	sf.Bool("emit-initial", true, "Emit created events for files present at startup (polling)")
	sf.StringSlice("exclude", nil, "Extra glob to ignore (repeatable)")
	sf.Int("window-size", 0, "Event window capacity")
	sf.String("workflow-matching", "", "Workflow matcher: length or subsequence")
	sf.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	sf.Bool("history", true, "Record patterns in the encrypted history database")

	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Evaluate recently modified files once",
		Long: `Walks the roots once, turns every file modified within --since into an
event and runs the result through the detector and dispatcher.`,
		RunE: c.runScan,
	}
	scanCmd.Flags().StringSlice("root", nil, "Directory to scan (repeatable, default current directory)")
	scanCmd.Flags().StringSlice("exclude", nil, "Extra glob to ignore (repeatable)")
	scanCmd.Flags().DurationVar(&c.since, "since", time.Hour, "Only consider files modified within this window")
	scanCmd.Flags().String("workflow-matching", "", "Workflow matcher: length or subsequence")
	scanCmd.Flags().BoolVar(&c.jsonOutput, "json", false, "Output the summary as JSON")

	replayCmd := &cobra.Command{
		Use:   "replay <events.jsonl>",
		Short: "Feed a recorded event file through the engine",
		Long:  `Reads one JSON event per line ({"path","kind","timestamp"}) and dispatches every detected pattern.`,
		Args:  cobra.ExactArgs(1),
		RunE:  c.runReplay,
	}
	replayCmd.Flags().String("workflow-matching", "", "Workflow matcher: length or subsequence")
	replayCmd.Flags().BoolVar(&c.jsonOutput, "json", false, "Output the summary as JSON")

	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Show the effective rule set",
		RunE:  c.runRules,
	}
	rulesCmd.Flags().BoolVar(&c.jsonOutput, "json", false, "Output as JSON")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status and pattern totals",
		RunE:  c.runStatus,
	}
	statusCmd.Flags().BoolVar(&c.jsonOutput, "json", false, "Output as JSON")

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent dispatches from the audit log",
		RunE:  c.runHistory,
	}
	historyCmd.Flags().IntVarP(&c.limit, "limit", "n", 20, "Number of entries to show (0 = all)")
	historyCmd.Flags().BoolVar(&c.jsonOutput, "json", false, "Output raw JSON lines")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
		Run:   c.runVersion,
	}
	versionCmd.Flags().BoolVar(&c.jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(startCmd, scanCmd, replayCmd, rulesCmd, statusCmd, historyCmd, versionCmd)
	rootCmd.SetOut(out)
	return rootCmd
}

// bindFlags binds the flags a command defines to their config keys.
// Only flags the user actually set override file and env values.
func (c *cli) bindFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	for key, name := range flagKeys {
		f := flags.Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := c.v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", name, err)
		}
	}
	return nil
}

func (c *cli) loadConfig() (*config.Config, error) {
	return config.Load(c.v, c.configFile)
}

func (c *cli) runStart(cmd *cobra.Command, args []string) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	layout := cfg.Layout()
	if err := layout.Ensure(); err != nil {
		return fmt.Errorf("failed to create %s: %w", layout.BaseDir, err)
	}

	logger := createLogger(layout.DaemonLogPath(), cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	d := a.newDaemon(a.newSource())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)
	go func() {
		for {
			select {
			case sig := <-sigChan:
				if sig == syscall.SIGHUP {
					logger.Info("received reload signal")
					d.Reload()
					continue
				}
				logger.Info("received shutdown signal", zap.String("signal", sig.String()))
				cancel()
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	if cfg.MetricsAddr != "" {
		go func() {
			if err := a.metrics.Serve(ctx, cfg.MetricsAddr, logger); err != nil {
				logger.Warn("metrics endpoint failed", zap.Error(err))
			}
		}()
	}

	fmt.Fprintf(c.out, "patmon watching %s\n", strings.Join(cfg.Roots, ", "))
	fmt.Fprintf(c.out, "Output: %s\nLog: %s\n", layout.BaseDir, layout.DaemonLogPath())

	if err := d.Run(ctx); err != nil {
		return err
	}

	session := d.Session()
	fmt.Fprintf(c.out, "\nSession ended: %d patterns detected, %d automations triggered\n",
		session.Detected(), session.Automations())
	return nil
}

func (c *cli) runScan(cmd *cobra.Command, args []string) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	logger := createCLILogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	events := infra.ScanRecent(cfg.Roots, c.since, a.filter, time.Now())
	session := a.feed(cmd.Context(), events)
	return c.printSummary("Scan", infra.ModePolling, len(events), cfg.Roots, session)
}

func (c *cli) runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	logger := createCLILogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open event file: %w", err)
	}
	defer f.Close()

	events, err := readEvents(f, time.Now)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	session := a.feed(cmd.Context(), events)
	return c.printSummary("Replay", "replay", len(events), []string{args[0]}, session)
}

func (c *cli) printSummary(title, mode string, events int, paths []string, session *daemon.Session) error {
	if c.jsonOutput {
		return writeJSON(c.out, session.Report(time.Now(), paths, mode))
	}

	fmt.Fprintf(c.out, "\n=== patmon %s ===\n", title)
	fmt.Fprintf(c.out, "Events processed: %d\n", events)
	fmt.Fprintf(c.out, "Patterns detected: %d\n", session.Detected())
	fmt.Fprintf(c.out, "Automations triggered: %d\n", session.Automations())
	for _, pc := range session.Top(len(domain.AllPatternTypes)) {
		fmt.Fprintf(c.out, "  %-20s %d\n", pc.Type, pc.Count)
	}
	return nil
}

func (c *cli) runRules(cmd *cobra.Command, args []string) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}

	rs, err := rules.LoadFile(cfg.RulesPath)
	source := cfg.RulesPath
	switch {
	case errors.Is(err, os.ErrNotExist):
		rs, source = rules.Default(), "built-in defaults"
	case err != nil:
		fmt.Fprintf(c.out, "Warning: %v (using defaults)\n", err)
		rs, source = rules.Default(), "built-in defaults"
	}

	if c.jsonOutput {
		return writeJSON(c.out, struct {
			Source    string        `json:"source"`
			Rules     []domain.Rule `json:"rules"`
			Defaulted []string      `json:"defaulted"`
		}{source, rs.Rules(), rs.Defaulted()})
	}

	fmt.Fprintf(c.out, "\n=== patmon Rules ===\n")
	fmt.Fprintf(c.out, "Source: %s\n\n", source)
	for _, t := range domain.AllPatternTypes {
		rule, ok := rs.Lookup(t)
		if !ok {
			fmt.Fprintf(c.out, "%-20s disabled\n", t)
			continue
		}
		line := fmt.Sprintf("%-20s threshold=%g action=%s", t, rule.Threshold, rule.Action)
		if len(rule.Workflows) > 0 {
			line += " workflows=" + strings.Join(rule.Workflows, ",")
		}
		fmt.Fprintln(c.out, line)
	}
	if d := rs.Defaulted(); len(d) > 0 {
		fmt.Fprintf(c.out, "\nDefaulted: %s\n", strings.Join(d, ", "))
	}
	return nil
}

// statusReport is the --json shape of the status command.
type statusReport struct {
	Running       bool                       `json:"running"`
	Instance      *domain.InstanceState      `json:"instance,omitempty"`
	PatternCounts map[domain.PatternType]int `json:"pattern_counts,omitempty"`
	EventLog      string                     `json:"event_log"`
}

func (c *cli) runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	layout := cfg.Layout()

	registry := infra.NewFileInstanceRegistry(layout.InstancePath(), infra.NewProcessManager())
	state, _ := registry.Get()
	alive, _ := registry.IsAlive()

	report := statusReport{Running: alive, Instance: state, EventLog: layout.EventLogPath()}
	if counts, err := historyCounts(layout); err == nil {
		report.PatternCounts = counts
	}

	if c.jsonOutput {
		return writeJSON(c.out, report)
	}

	fmt.Fprintln(c.out, "\n=== patmon Status ===")
	if state == nil || !alive {
		fmt.Fprintln(c.out, "Status: NOT RUNNING")
	} else {
		fmt.Fprintln(c.out, "Status: RUNNING")
		fmt.Fprintf(c.out, "PID: %d\n", state.PID)
		fmt.Fprintf(c.out, "Source: %s\n", state.SourceMode)
		fmt.Fprintf(c.out, "Roots: %s\n", strings.Join(state.Roots, ", "))
		fmt.Fprintf(c.out, "Started: %s\n", state.StartedAt.Format(time.RFC3339))
		if state.LastHeartbeat > 0 {
			ago := time.Since(time.Unix(state.LastHeartbeat, 0)).Round(time.Second)
			fmt.Fprintf(c.out, "Last heartbeat: %s ago\n", ago)
		}
	}

	fmt.Fprintf(c.out, "\nBase directory: %s\n", layout.BaseDir)
	fmt.Fprintf(c.out, "Audit log: %s\n", layout.EventLogPath())

	if len(report.PatternCounts) > 0 {
		fmt.Fprintln(c.out, "\nPatterns recorded:")
		for _, t := range domain.AllPatternTypes {
			fmt.Fprintf(c.out, "  %-20s %d\n", t, report.PatternCounts[t])
		}
	}
	return nil
}

// historyCounts reads per-type totals. It never creates a key.
func historyCounts(layout infra.Layout) (map[domain.PatternType]int, error) {
	provider := infra.NewHistoryKeyFile(layout.DataDir())
	if !provider.KeyExists() {
		return nil, errors.New("no pattern history")
	}
	key, err := provider.GetKey()
	if err != nil {
		return nil, err
	}
	h, err := infra.NewEncryptedHistory(layout.DataDir(), key)
	if err != nil {
		return nil, err
	}
	defer h.Close()
	return h.CountByType()
}

func (c *cli) runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	logger := createCLILogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	eventLog := infra.NewJSONLEventLog(cfg.Layout().EventLogPath(), logger)
	entries, err := eventLog.Tail(c.limit)
	if err != nil {
		return fmt.Errorf("failed to read audit log: %w", err)
	}
	if len(entries) == 0 && !c.jsonOutput {
		fmt.Fprintln(c.out, "No dispatches recorded yet.")
		return nil
	}

	if c.jsonOutput {
		enc := json.NewEncoder(c.out)
		for _, e := range entries {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil
	}

	for _, e := range entries {
		line := fmt.Sprintf("%s  %-9s %-22s %s", e.Timestamp.Format(time.RFC3339), e.Status, e.Action, describePattern(e))
		if e.Error != "" {
			line += "  error: " + e.Error
		}
		fmt.Fprintln(c.out, line)
	}
	return nil
}

// describePattern renders the logged pattern as "type path" when a path exists.
func describePattern(e domain.LogEntry) string {
	t := e.PatternTypeName()
	if path := e.PatternPath(); path != "" {
		return fmt.Sprintf("%s %s", t, path)
	}
	return string(t)
}

func (c *cli) runVersion(cmd *cobra.Command, args []string) {
	if c.jsonOutput {
		fmt.Fprintf(c.out, `{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Fprintf(c.out, "patmon %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
