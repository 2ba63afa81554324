package infra

import (
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mutecomm/go-sqlcipher/v4" // registers the "sqlite3" SQLCipher driver
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/patmon/internal/domain"
)

const historyDBName = "history.db"

// EncryptedHistory implements domain.HistoryStore using a SQLCipher
// encrypted SQLite database.
type EncryptedHistory struct {
	db     *sql.DB
	dbPath string
}

// NewEncryptedHistory opens (or creates) the encrypted history database.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func NewEncryptedHistory(dataDir string, key []byte) (*EncryptedHistory, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, historyDBName)
	keyHex := hex.EncodeToString(key)

	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, keyHex)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	h := &EncryptedHistory{db: db, dbPath: dbPath}
	if err := h.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return h, nil
}

func (h *EncryptedHistory) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pattern_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pattern_type TEXT NOT NULL,
		action TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		detected_at INTEGER NOT NULL,
		payload TEXT NOT NULL DEFAULT '{}'
	);

	CREATE INDEX IF NOT EXISTS idx_pattern_history_type ON pattern_history (pattern_type);
	`
	_, err := h.db.Exec(schema)
	return err
}

// Record saves one dispatch outcome.
func (h *EncryptedHistory) Record(rec domain.PatternRecord) error {
	detected := rec.DetectedAt
	if detected.IsZero() {
		detected = time.Now()
	}
	payload := rec.Payload
	if payload == "" {
		payload = "{}"
	}

	_, err := h.db.Exec(`
		INSERT INTO pattern_history (pattern_type, action, status, detected_at, payload)
		VALUES (?, ?, ?, ?, ?)`,
		string(rec.Type), string(rec.Action), string(rec.Status), detected.UnixNano(), payload,
	)
	return err
}

// CountByType returns totals per pattern type.
func (h *EncryptedHistory) CountByType() (map[domain.PatternType]int, error) {
	rows, err := h.db.Query(`SELECT pattern_type, COUNT(*) FROM pattern_history GROUP BY pattern_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.PatternType]int)
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		counts[domain.PatternType(t)] = n
	}
	return counts, rows.Err()
}

// Recent returns the newest records, newest first.
func (h *EncryptedHistory) Recent(limit int) ([]domain.PatternRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := h.db.Query(`
		SELECT pattern_type, action, status, detected_at, payload
		FROM pattern_history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.PatternRecord
	for rows.Next() {
		var t, action, status, payload string
		var detected int64
		if err := rows.Scan(&t, &action, &status, &detected, &payload); err != nil {
			return nil, err
		}
		records = append(records, domain.PatternRecord{
			Type:       domain.PatternType(t),
			Action:     domain.ActionName(action),
			Status:     domain.LogStatus(status),
			DetectedAt: time.Unix(0, detected),
			Payload:    payload,
		})
	}
	return records, rows.Err()
}

// Path returns the database file path.
func (h *EncryptedHistory) Path() string {
	return h.dbPath
}

// Close releases the database connection.
func (h *EncryptedHistory) Close() error {
	if h.db != nil {
		return h.db.Close()
	}
	return nil
}

// Ensure EncryptedHistory implements domain.HistoryStore.
var _ domain.HistoryStore = (*EncryptedHistory)(nil)

// HistoryRecorder persists dispatch outcomes. It satisfies usecase.Observer.
type HistoryRecorder struct {
	store  domain.HistoryStore
	now    func() time.Time
	logger *zap.Logger
}

// NewHistoryRecorder creates an observer writing to store.
func NewHistoryRecorder(store domain.HistoryStore, logger *zap.Logger) *HistoryRecorder {
	return &HistoryRecorder{store: store, now: time.Now, logger: logger}
}

// Observe records one outcome. Failures are logged and dropped.
func (r *HistoryRecorder) Observe(result domain.DispatchResult) {
	payload, err := json.Marshal(result.Match)
	if err != nil {
		payload = []byte("{}")
	}

	rec := domain.PatternRecord{
		Type:       result.Match.Type(),
		Action:     result.Action,
		Status:     result.Status(),
		DetectedAt: r.now(),
		Payload:    string(payload),
	}
	if err := r.store.Record(rec); err != nil {
		r.logger.Warn("failed to record pattern history",
			zap.String("pattern", string(rec.Type)),
			zap.Error(err))
	}
}
