//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/patmon/internal/daemon"
	"github.com/eliteGoblin/focusd/patmon/internal/domain"
	"github.com/eliteGoblin/focusd/patmon/internal/infra"
	"github.com/eliteGoblin/focusd/patmon/internal/pattern"
	"github.com/eliteGoblin/focusd/patmon/internal/rules"
	"github.com/eliteGoblin/focusd/patmon/internal/usecase"
	"github.com/eliteGoblin/focusd/patmon/test/fixtures"
)

type pipeline struct {
	layout   infra.Layout
	eventLog *infra.JSONLEventLog
	history  *infra.EncryptedHistory
	engine   *usecase.Engine
}

func newPipeline(baseDir string, cfg pattern.Config) *pipeline {
	logger := zap.NewNop()
	layout := infra.NewLayout(baseDir)
	Expect(layout.Ensure()).To(Succeed())

	eventLog := infra.NewJSONLEventLog(layout.EventLogPath(), logger)
	diag := infra.NewDiagnostics(&infra.ExecCommandRunner{}, infra.NewProcessManager(), eventLog, logger)
	dispatcher := usecase.NewDispatcher(rules.Default(), infra.NewActionHandlers(layout, diag, logger), eventLog, logger)

	detector, err := pattern.NewDetector(cfg, logger)
	Expect(err).NotTo(HaveOccurred())

	key, err := infra.LoadOrCreateKey(infra.NewHistoryKeyFile(layout.DataDir()))
	Expect(err).NotTo(HaveOccurred())
	history, err := infra.NewEncryptedHistory(layout.DataDir(), key)
	Expect(err).NotTo(HaveOccurred())

	return &pipeline{
		layout:   layout,
		eventLog: eventLog,
		history:  history,
		engine:   usecase.NewEngine(detector, dispatcher, infra.NewHistoryRecorder(history, logger)),
	}
}

func (p *pipeline) feed(events []domain.Event) []domain.DispatchResult {
	var all []domain.DispatchResult
	for _, ev := range events {
		all = append(all, p.engine.Process(context.Background(), ev)...)
	}
	return all
}

func listDir(dir string) []string {
	entries, err := os.ReadDir(dir)
	Expect(err).NotTo(HaveOccurred())
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

var _ = Describe("Detection pipeline", func() {
	var (
		tmpDir string
		ws     *fixtures.Workspace
		p      *pipeline
		start  time.Time
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "patmon-integration-*")
		Expect(err).NotTo(HaveOccurred())

		ws = fixtures.NewWorkspace(filepath.Join(tmpDir, "ws"))
		Expect(ws.Create()).To(Succeed())
		start = time.Now()
	})

	AfterEach(func() {
		if p != nil {
			p.history.Close()
			p = nil
		}
		os.RemoveAll(tmpDir)
	})

	Context("when one file is edited three times within a minute", func() {
		It("should write a hot reload descriptor and record history", func() {
			p = newPipeline(filepath.Join(tmpDir, "out"), pattern.DefaultConfig())

			events := ws.Fillers("scratch", 7, start.Add(-time.Hour))
			events = append(events, ws.Events("src/app.py", start, 5*time.Second,
				domain.KindModified, domain.KindModified, domain.KindModified)...)

			results := p.feed(events)
			Expect(results).To(HaveLen(1))
			Expect(results[0].State).To(Equal(domain.StateActionInvoked))

			data, err := os.ReadFile(filepath.Join(p.layout.HotReloadDir(), "app.json"))
			Expect(err).NotTo(HaveOccurred())
			var cfg infra.HotReloadConfig
			Expect(json.Unmarshal(data, &cfg)).To(Succeed())
			Expect(cfg.Enabled).To(BeTrue())
			Expect(cfg.Path).To(Equal(ws.Path("src/app.py")))

			counts, err := p.history.CountByType()
			Expect(err).NotTo(HaveOccurred())
			Expect(counts[domain.PatternRapidDevelopment]).To(Equal(1))

			entries, err := p.eventLog.Read()
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].Status).To(Equal(domain.StatusCompleted))
		})
	})

	Context("when a file is repeatedly created and deleted", func() {
		It("should write an investigation with all diagnostics", func() {
			p = newPipeline(filepath.Join(tmpDir, "out"), pattern.DefaultConfig())

			results := p.feed(ws.Events("src/flaky.py", start, time.Second,
				domain.KindCreated, domain.KindDeleted, domain.KindCreated, domain.KindDeleted))
			Expect(results).To(HaveLen(1))
			Expect(results[0].Match).To(Equal(domain.UnstableFile{Path: ws.Path("src/flaky.py"), CycleCount: 2}))

			files := listDir(p.layout.InvestigationsDir())
			Expect(files).To(HaveLen(1))

			data, err := os.ReadFile(filepath.Join(p.layout.InvestigationsDir(), files[0]))
			Expect(err).NotTo(HaveOccurred())
			var inv struct {
				Cycles int                 `json:"cycles"`
				Checks []infra.CheckResult `json:"checks"`
			}
			Expect(json.Unmarshal(data, &inv)).To(Succeed())
			Expect(inv.Cycles).To(Equal(2))

			names := make([]string, 0, len(inv.Checks))
			for _, c := range inv.Checks {
				names = append(names, c.Name)
			}
			Expect(names).To(Equal([]string{"file_permissions", "disk_space", "process_conflicts", "recent_errors"}))
		})
	})

	Context("when subsequence workflow matching is enabled", func() {
		It("should detect a test driven development loop", func() {
			cfg := pattern.DefaultConfig()
			cfg.Workflow.Mode = pattern.MatchSubsequence
			p = newPipeline(filepath.Join(tmpDir, "out"), cfg)

			events := ws.Fillers("scratch", 17, start.Add(-time.Hour))
			events = append(events, domain.Event{Path: ws.Path("tests/test_app.py"), Kind: domain.KindModified, Timestamp: start})
			events = append(events, domain.Event{Path: ws.Path("src/app.py"), Kind: domain.KindModified, Timestamp: start.Add(time.Minute)})
			events = append(events, domain.Event{Path: ws.Path("tests/test_app.py"), Kind: domain.KindModified, Timestamp: start.Add(2 * time.Minute)})

			results := p.feed(events)
			Expect(results).To(HaveLen(1))
			Expect(results[0].Match).To(Equal(domain.WorkflowDetected{
				Workflow:   "test_driven_development",
				Confidence: pattern.DefaultWorkflowConfidence,
			}))
			Expect(listDir(p.layout.WorkflowDir())).To(HaveLen(1))
		})
	})
})

var _ = Describe("Daemon with polling source", func() {
	var (
		tmpDir string
		ws     *fixtures.Workspace
		p      *pipeline
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "patmon-integration-*")
		Expect(err).NotTo(HaveOccurred())

		ws = fixtures.NewWorkspace(filepath.Join(tmpDir, "ws"))
		Expect(ws.Create()).To(Succeed())
		p = newPipeline(filepath.Join(tmpDir, "out"), pattern.DefaultConfig())
	})

	AfterEach(func() {
		p.history.Close()
		os.RemoveAll(tmpDir)
	})

	It("should suggest a batch script for a burst of new files and report on exit", func() {
		logger := zap.NewNop()
		filter, err := infra.NewNoiseFilter(nil)
		Expect(err).NotTo(HaveOccurred())

		source := infra.NewPollingSource(20*time.Millisecond, filter, logger, infra.WithEmitInitial(false))
		registry := infra.NewFileInstanceRegistry(p.layout.InstancePath(), infra.NewProcessManager())
		d := daemon.New(daemon.Config{
			Roots:             []string{ws.Root},
			HeartbeatInterval: 50 * time.Millisecond,
			ReportsDir:        p.layout.ReportsDir(),
		}, source, p.engine, logger, daemon.WithRegistry(registry))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		errCh := make(chan error, 1)
		go func() { errCh <- d.Run(ctx) }()

		// Let the silent baseline walk finish.
		Eventually(func() (bool, error) { return registry.IsAlive() }, 5*time.Second, 10*time.Millisecond).Should(BeTrue())
		time.Sleep(100 * time.Millisecond)

		_, err = ws.CreateMany("generated", 12)
		Expect(err).NotTo(HaveOccurred())

		Eventually(func() []string { return listDir(p.layout.BatchScriptsDir()) }, 5*time.Second, 20*time.Millisecond).
			ShouldNot(BeEmpty())

		cancel()
		Eventually(errCh, 5*time.Second).Should(Receive(BeNil()))

		reports := listDir(p.layout.ReportsDir())
		Expect(reports).To(HaveLen(1))
		data, err := os.ReadFile(filepath.Join(p.layout.ReportsDir(), reports[0]))
		Expect(err).NotTo(HaveOccurred())
		var report daemon.SessionReport
		Expect(json.Unmarshal(data, &report)).To(Succeed())
		Expect(report.SourceMode).To(Equal(infra.ModePolling))
		Expect(report.PatternCounts[domain.PatternBulkOperation]).To(BeNumerically(">=", 1))

		alive, err := registry.IsAlive()
		Expect(err).NotTo(HaveOccurred())
		Expect(alive).To(BeFalse())
	})
})

var _ = Describe("Instance registry", func() {
	var tmpDir string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "patmon-integration-*")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	Context("when a second daemon targets the same base directory", func() {
		It("should refuse until the first releases", func() {
			path := filepath.Join(tmpDir, "data", "instance.json")
			first := infra.NewFileInstanceRegistry(path, infra.NewProcessManager())
			second := infra.NewFileInstanceRegistry(path, infra.NewProcessManager())

			Expect(first.Acquire(domain.InstanceState{SourceMode: infra.ModeNative})).To(Succeed())
			Expect(second.Acquire(domain.InstanceState{})).To(MatchError(infra.ErrInstanceRunning))

			Expect(first.Release()).To(Succeed())
			Expect(second.Acquire(domain.InstanceState{})).To(Succeed())
			Expect(second.Release()).To(Succeed())
		})
	})
})
