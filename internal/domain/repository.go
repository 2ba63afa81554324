package domain

import (
	"context"
	"time"
)

// EventSource emits filesystem events for a set of watched roots.
// Implementations: fsnotify (native) and directory polling (fallback).
type EventSource interface {
	// Start begins emitting events to onEvent. It must not block the caller.
	Start(ctx context.Context, roots []string, onEvent func(Event)) error

	// Stop ceases emission. In-flight callbacks finish before Stop returns;
	// no callback is invoked afterwards.
	Stop() error

	// Mode reports "native" or "polling".
	Mode() string
}

// ActionHandler performs the side effect configured for a pattern.
type ActionHandler interface {
	// Name returns the action this handler serves.
	Name() ActionName

	// Handle applies the action and returns the path of the artifact written.
	Handle(ctx context.Context, match PatternMatch) (artifact string, err error)
}

// EventLog is the append-only audit log of dispatched actions.
// Implementation: line-delimited JSON file.
type EventLog interface {
	// Record appends one entry.
	Record(entry LogEntry) error

	// Read returns all entries in write order.
	Read() ([]LogEntry, error)

	// Path returns the log file location.
	Path() string
}

// PatternRecord is one persisted dispatch outcome.
type PatternRecord struct {
	Type       PatternType
	Action     ActionName
	Status     LogStatus
	DetectedAt time.Time
	Payload    string // JSON-encoded PatternMatch
}

// HistoryStore persists pattern outcomes for status and reporting.
// Implementation: SQLCipher encrypted SQLite database.
type HistoryStore interface {
	// Record saves one outcome.
	Record(rec PatternRecord) error

	// CountByType returns totals per pattern type.
	CountByType() (map[PatternType]int, error)

	// Recent returns the newest records, newest first.
	Recent(limit int) ([]PatternRecord, error)

	// Close releases resources (e.g., database connection).
	Close() error
}

// ProcessManager handles OS process queries.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int

	// FindHolders returns PIDs of processes that hold path open.
	FindHolders(ctx context.Context, path string) ([]int, error)
}

// InstanceState is the persisted state of the running daemon.
type InstanceState struct {
	PID           int       `json:"pid"`
	StartedAt     time.Time `json:"started_at"`
	LastHeartbeat int64     `json:"last_heartbeat"`
	SourceMode    string    `json:"source_mode"`
	Roots         []string  `json:"roots"`
	AppVersion    string    `json:"app_version,omitempty"`
}

// InstanceRegistry guards single-instance deployment per base directory.
// Implementation: JSON state file plus flock'ed lock file.
type InstanceRegistry interface {
	// Acquire takes the instance lock and records state. Fails if another live instance holds it.
	Acquire(state InstanceState) error

	// Release drops the lock and removes the state file.
	Release() error

	// UpdateHeartbeat refreshes the liveness timestamp.
	UpdateHeartbeat() error

	// Get returns the recorded state, or nil when no instance registered.
	Get() (*InstanceState, error)

	// IsAlive reports whether the recorded instance is still running.
	IsAlive() (bool, error)
}

// KeyProvider abstracts the source of encryption keys.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}
