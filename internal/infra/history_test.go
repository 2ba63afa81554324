package infra

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/patmon/internal/domain"
)

// newTestHistory creates an encrypted history store in a temp directory.
func newTestHistory(t *testing.T) (*EncryptedHistory, string, []byte) {
	t.Helper()
	dataDir := t.TempDir()
	key, err := NewHistoryKey()
	require.NoError(t, err)

	h, err := NewEncryptedHistory(dataDir, key)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h, dataDir, key
}

func TestEncryptedHistory_RecordAndCount(t *testing.T) {
	h, _, _ := newTestHistory(t)

	records := []domain.PatternRecord{
		{Type: domain.PatternRapidDevelopment, Action: domain.ActionEnableHotReload, Status: domain.StatusCompleted},
		{Type: domain.PatternRapidDevelopment, Action: domain.ActionEnableHotReload, Status: domain.StatusFailed},
		{Type: domain.PatternUnstableFile, Action: domain.ActionInvestigateErrors, Status: domain.StatusCompleted},
	}
	for _, r := range records {
		require.NoError(t, h.Record(r))
	}

	counts, err := h.CountByType()
	require.NoError(t, err)
	assert.Equal(t, map[domain.PatternType]int{
		domain.PatternRapidDevelopment: 2,
		domain.PatternUnstableFile:      1,
	}, counts)
}

func TestEncryptedHistory_RecentNewestFirst(t *testing.T) {
	h, _, _ := newTestHistory(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, pt := range []domain.PatternType{domain.PatternBulkOperation, domain.PatternWorkflowDetected, domain.PatternUnstableFile} {
		require.NoError(t, h.Record(domain.PatternRecord{
			Type:       pt,
			Status:     domain.StatusIgnored,
			DetectedAt: base.Add(time.Duration(i) * time.Minute),
			Payload:    `{"type":"` + string(pt) + `"}`,
		}))
	}

	recent, err := h.Recent(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, domain.PatternUnstableFile, recent[0].Type)
	assert.Equal(t, domain.PatternWorkflowDetected, recent[1].Type)
	assert.True(t, recent[0].DetectedAt.Equal(base.Add(2*time.Minute)))
}

func TestEncryptedHistory_FileIsEncrypted(t *testing.T) {
	h, _, _ := newTestHistory(t)
	require.NoError(t, h.Record(domain.PatternRecord{
		Type:    domain.PatternRapidDevelopment,
		Status:  domain.StatusCompleted,
		Payload: `{"path":"/very/secret/path.py"}`,
	}))
	require.NoError(t, h.Close())

	data, err := os.ReadFile(h.Path())
	require.NoError(t, err)
	assert.NotContains(t, string(data), "SQLite format 3")
	assert.NotContains(t, string(data), "/very/secret/path.py")
}

func TestEncryptedHistory_Reopen(t *testing.T) {
	h, dataDir, key := newTestHistory(t)
	require.NoError(t, h.Record(domain.PatternRecord{Type: domain.PatternBulkOperation, Status: domain.StatusCompleted}))
	require.NoError(t, h.Close())

	reopened, err := NewEncryptedHistory(dataDir, key)
	require.NoError(t, err)
	defer reopened.Close()

	counts, err := reopened.CountByType()
	require.NoError(t, err)
	assert.Equal(t, 1, counts[domain.PatternBulkOperation])
}

func TestEncryptedHistory_WrongKey(t *testing.T) {
	h, dataDir, _ := newTestHistory(t)
	require.NoError(t, h.Record(domain.PatternRecord{Type: domain.PatternBulkOperation, Status: domain.StatusCompleted}))
	require.NoError(t, h.Close())

	wrongKey, err := NewHistoryKey()
	require.NoError(t, err)

	_, err = NewEncryptedHistory(dataDir, wrongKey)
	assert.Error(t, err)
}

func TestHistoryRecorder_Observe(t *testing.T) {
	h, _, _ := newTestHistory(t)
	recorder := NewHistoryRecorder(h, zap.NewNop())

	recorder.Observe(domain.DispatchResult{
		Match:    domain.RapidDevelopment{Path: "/x/a.py", ChangeCount: 3},
		Action:   domain.ActionEnableHotReload,
		State:    domain.StateActionInvoked,
		Artifact: "a.json",
	})

	recent, err := h.Recent(1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, domain.StatusCompleted, recent[0].Status)
	assert.Equal(t, domain.ActionEnableHotReload, recent[0].Action)
	assert.Contains(t, recent[0].Payload, `"path":"/x/a.py"`)
}
