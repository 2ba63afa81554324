package infra

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/patmon/internal/domain"
)

// maxLogLine bounds a single audit line when reading back.
const maxLogLine = 1 << 20

// JSONLEventLog implements domain.EventLog as an append-only JSON-lines file.
type JSONLEventLog struct {
	mu     sync.Mutex
	path   string
	logger *zap.Logger
}

// NewJSONLEventLog creates an audit log at path. The file is created lazily.
func NewJSONLEventLog(path string, logger *zap.Logger) *JSONLEventLog {
	return &JSONLEventLog{path: path, logger: logger}
}

// Path returns the log file location.
func (l *JSONLEventLog) Path() string {
	return l.path
}

// Record appends one entry as a single line. Entries without an ID get a UUID.
func (l *JSONLEventLog) Record(entry domain.LogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if len(entry.Pattern) == 0 {
		entry.Pattern = json.RawMessage("null")
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Read returns all entries in write order. Lines that fail to decode are skipped.
func (l *JSONLEventLog) Read() ([]domain.LogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var entries []domain.LogEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLogLine)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry domain.LogEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			l.logger.Debug("skipping malformed audit line",
				zap.Int("line", lineNo),
				zap.Error(err))
			continue
		}
		entries = append(entries, entry)
	}
	return entries, scanner.Err()
}

// Tail returns the last n entries.
func (l *JSONLEventLog) Tail(n int) ([]domain.LogEntry, error) {
	entries, err := l.Read()
	if err != nil {
		return nil, err
	}
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}

// Ensure JSONLEventLog implements domain.EventLog.
var _ domain.EventLog = (*JSONLEventLog)(nil)
