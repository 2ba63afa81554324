package pattern

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/patmon/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func ev(path string, kind domain.EventKind, offset time.Duration) domain.Event {
	return domain.Event{Path: path, Kind: kind, Timestamp: t0.Add(offset)}
}

func TestNewWindow_DefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultWindowSize, NewWindow(0).Cap())
	assert.Equal(t, DefaultWindowSize, NewWindow(-3).Cap())
	assert.Equal(t, 7, NewWindow(7).Cap())
}

func TestWindow_Bound(t *testing.T) {
	w := NewWindow(100)
	for i := 0; i < 150; i++ {
		w.Append(ev(fmt.Sprintf("/p/%d", i), domain.KindModified, time.Duration(i)*time.Second))
	}

	require.Equal(t, 100, w.Len())
	snap := w.Snapshot(0)
	require.Len(t, snap, 100)
	assert.Equal(t, "/p/50", snap[0].Path, "oldest retained event is the 51st appended")
	assert.Equal(t, "/p/149", snap[99].Path)
}

func TestWindow_SnapshotOrderAndSize(t *testing.T) {
	w := NewWindow(5)
	for i := 0; i < 3; i++ {
		w.Append(ev(fmt.Sprintf("/p/%d", i), domain.KindCreated, 0))
	}

	assert.Len(t, w.Snapshot(10), 3)

	last2 := w.Snapshot(2)
	require.Len(t, last2, 2)
	assert.Equal(t, "/p/1", last2[0].Path)
	assert.Equal(t, "/p/2", last2[1].Path)
}

func TestWindow_SnapshotIsCopy(t *testing.T) {
	w := NewWindow(3)
	w.Append(ev("/a", domain.KindCreated, 0))

	snap := w.Snapshot(0)
	snap[0].Path = "/mutated"

	assert.Equal(t, "/a", w.Snapshot(0)[0].Path)
}

func TestWindow_WrapAround(t *testing.T) {
	w := NewWindow(3)
	for i := 0; i < 7; i++ {
		w.Append(ev(fmt.Sprintf("/p/%d", i), domain.KindModified, 0))
	}

	paths := make([]string, 0, 3)
	for _, e := range w.Snapshot(0) {
		paths = append(paths, e.Path)
	}
	assert.Equal(t, []string{"/p/4", "/p/5", "/p/6"}, paths)
}

func TestWindow_Reset(t *testing.T) {
	w := NewWindow(3)
	w.Append(ev("/a", domain.KindCreated, 0))
	w.Reset()

	assert.Equal(t, 0, w.Len())
	assert.Empty(t, w.Snapshot(0))
}
