package infra

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/eliteGoblin/focusd/patmon/internal/domain"
)

// HistoryKeyEnv supplies the history key as hex. When set, the key file is
// neither read nor written.
const HistoryKeyEnv = "PATMON_HISTORY_KEY"

const (
	historyKeyFile = "history.key"
	historyKeyLen  = 32
)

// HistoryKeyFile stores the SQLCipher key for the pattern history as a hex
// line in data/history.key.
type HistoryKeyFile struct {
	path   string
	getenv func(string) string
}

func NewHistoryKeyFile(dataDir string) *HistoryKeyFile {
	return &HistoryKeyFile{
		path:   filepath.Join(dataDir, historyKeyFile),
		getenv: os.Getenv,
	}
}

func (f *HistoryKeyFile) GetKey() ([]byte, error) {
	if v := f.getenv(HistoryKeyEnv); v != "" {
		return decodeHistoryKey(v, HistoryKeyEnv)
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read history key: %w", err)
	}
	return decodeHistoryKey(string(data), f.path)
}

// StoreKey replaces the key file atomically, owner read/write only.
func (f *HistoryKeyFile) StoreKey(key []byte) error {
	if len(key) != historyKeyLen {
		return fmt.Errorf("history key is %d bytes, want %d", len(key), historyKeyLen)
	}
	if f.getenv(HistoryKeyEnv) != "" {
		return fmt.Errorf("history key is pinned by %s", HistoryKeyEnv)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(f.path), err)
	}
	return atomicWrite(f.path, []byte(hex.EncodeToString(key)+"\n"), 0600)
}

func (f *HistoryKeyFile) KeyExists() bool {
	if f.getenv(HistoryKeyEnv) != "" {
		return true
	}
	_, err := os.Stat(f.path)
	return err == nil
}

func decodeHistoryKey(s, from string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("history key from %s is not hex: %w", from, err)
	}
	if len(key) != historyKeyLen {
		return nil, fmt.Errorf("history key from %s is %d bytes, want %d", from, len(key), historyKeyLen)
	}
	return key, nil
}

// NewHistoryKey returns 32 random bytes.
func NewHistoryKey() ([]byte, error) {
	key := make([]byte, historyKeyLen)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate history key: %w", err)
	}
	return key, nil
}

// LoadOrCreateKey returns the existing key, creating one on first use.
func LoadOrCreateKey(keys domain.KeyProvider) ([]byte, error) {
	if keys.KeyExists() {
		return keys.GetKey()
	}
	key, err := NewHistoryKey()
	if err != nil {
		return nil, err
	}
	if err := keys.StoreKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

var _ domain.KeyProvider = (*HistoryKeyFile)(nil)
