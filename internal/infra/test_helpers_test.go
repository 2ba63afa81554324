package infra

import (
	"context"
	"os"
	"os/exec"
)

// mockProcessManager is a test double for ProcessManager
type mockProcessManager struct {
	runningPIDs map[int]bool
	holders     map[string][]int
}

func newMockProcessManager() *mockProcessManager {
	return &mockProcessManager{
		runningPIDs: make(map[int]bool),
		holders:     make(map[string][]int),
	}
}

func (m *mockProcessManager) IsRunning(pid int) bool {
	return m.runningPIDs[pid]
}

func (m *mockProcessManager) GetCurrentPID() int {
	return os.Getpid()
}

func (m *mockProcessManager) FindHolders(ctx context.Context, path string) ([]int, error) {
	return m.holders[path], nil
}

func (m *mockProcessManager) SetRunning(pid int, running bool) {
	m.runningPIDs[pid] = running
}

// fakeRunner implements CommandRunner for testing
type fakeRunner struct {
	out   []byte
	err   error
	calls [][]string
}

func (f *fakeRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	return f.out, f.err
}

// hangingRunner blocks until ctx ends, then fails the way a killed lsof does:
// an exit error with empty stdout.
type hangingRunner struct{}

func (hangingRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	<-ctx.Done()
	return nil, &exec.ExitError{}
}
