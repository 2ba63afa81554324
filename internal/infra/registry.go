package infra

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/eliteGoblin/focusd/patmon/internal/domain"
)

// ErrInstanceRunning is returned by Acquire when another daemon owns the base directory.
var ErrInstanceRunning = errors.New("another patmon instance is running")

// FileInstanceRegistry implements domain.InstanceRegistry with a JSON state
// file guarded by an flock'ed lock file held for the daemon's lifetime.
type FileInstanceRegistry struct {
	path           string
	processManager domain.ProcessManager
	now            func() time.Time

	mu       sync.Mutex
	lockFile *os.File
}

// NewFileInstanceRegistry creates a registry whose state lives at path.
func NewFileInstanceRegistry(path string, pm domain.ProcessManager) *FileInstanceRegistry {
	return &FileInstanceRegistry{
		path:           path,
		processManager: pm,
		now:            time.Now,
	}
}

// Path returns the state file path.
func (r *FileInstanceRegistry) Path() string {
	return r.path
}

// Acquire takes the instance lock and writes the initial state.
func (r *FileInstanceRegistry) Acquire(state domain.InstanceState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lockFile != nil {
		return fmt.Errorf("instance lock already held by this process")
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0700); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}

	lockPath := r.path + ".lock"
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		lockFile.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			if existing, _ := r.read(); existing != nil {
				return fmt.Errorf("%w (pid %d)", ErrInstanceRunning, existing.PID)
			}
			return ErrInstanceRunning
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	if state.PID == 0 {
		state.PID = r.processManager.GetCurrentPID()
	}
	if state.StartedAt.IsZero() {
		state.StartedAt = r.now()
	}
	state.LastHeartbeat = r.now().Unix()

	if err := r.atomicWrite(&state); err != nil {
		_ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN)
		lockFile.Close()
		return err
	}

	r.lockFile = lockFile
	return nil
}

// Release removes the state file and drops the lock.
func (r *FileInstanceRegistry) Release() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lockFile == nil {
		return nil
	}

	err := os.Remove(r.path)
	if os.IsNotExist(err) {
		err = nil
	}

	_ = syscall.Flock(int(r.lockFile.Fd()), syscall.LOCK_UN)
	r.lockFile.Close()
	r.lockFile = nil
	return err
}

// UpdateHeartbeat updates timestamp for liveness check.
func (r *FileInstanceRegistry) UpdateHeartbeat() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, err := r.read()
	if err != nil {
		return err
	}
	if state == nil {
		return fmt.Errorf("no instance registered at %s", r.path)
	}

	state.LastHeartbeat = r.now().Unix()
	return r.atomicWrite(state)
}

// Get returns the recorded state, or nil when none is registered.
func (r *FileInstanceRegistry) Get() (*domain.InstanceState, error) {
	return r.read()
}

// IsAlive checks if the recorded instance is still running via PID.
func (r *FileInstanceRegistry) IsAlive() (bool, error) {
	state, err := r.read()
	if err != nil {
		return false, err
	}
	if state == nil {
		return false, nil
	}
	return r.processManager.IsRunning(state.PID), nil
}

func (r *FileInstanceRegistry) read() (*domain.InstanceState, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var state domain.InstanceState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (r *FileInstanceRegistry) atomicWrite(state *domain.InstanceState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return atomicWrite(r.path, data, 0600)
}

// Ensure FileInstanceRegistry implements domain.InstanceRegistry.
var _ domain.InstanceRegistry = (*FileInstanceRegistry)(nil)
