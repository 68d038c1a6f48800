// ABOUTME: Tests for the SQLite domain event ledger
// ABOUTME: Covers recording, correlation ordering, and notifier integration

package ledger

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octogate/octogate/internal/events"
)

func openTestLedger(t *testing.T) *SQLiteLedger {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.db")
	l, err := Open(path, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRecordAndRecent(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	ev := events.Event{
		ID:            "ev-1",
		Name:          events.PRGated,
		Timestamp:     time.Now().UTC(),
		Data:          map[string]any{"verdict": "ok"},
		CorrelationID: "octo/widgets#7",
	}
	require.NoError(t, l.Record(ctx, ev))

	entries, err := l.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ev-1", entries[0].ID)
	assert.Equal(t, events.PRGated, entries[0].Name)
	assert.Equal(t, "octo/widgets#7", entries[0].CorrelationID)
	assert.Equal(t, "ok", entries[0].Data["verdict"])
}

func TestByCorrelation_PreservesEmissionOrder(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	base := time.Now().UTC()
	names := []string{events.TaskRequested, events.TaskAccepted, events.TaskCompleted}
	for i, name := range names {
		require.NoError(t, l.Record(ctx, events.Event{
			ID:            name,
			Name:          name,
			Timestamp:     base.Add(time.Duration(i) * time.Millisecond),
			Data:          map[string]any{},
			CorrelationID: "octo/widgets@ci.yml",
		}))
	}
	// An unrelated correlation must not leak in
	require.NoError(t, l.Record(ctx, events.Event{
		ID: "other", Name: events.PRMerged, Timestamp: base,
		Data: map[string]any{}, CorrelationID: "octo/widgets#9",
	}))

	entries, err := l.ByCorrelation(ctx, "octo/widgets@ci.yml")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, name := range names {
		assert.Equal(t, name, entries[i].Name)
	}
}

func TestListener_RecordsEmittedEvents(t *testing.T) {
	l := openTestLedger(t)

	notifier := events.NewNotifier(slog.Default())
	unsubscribe := notifier.Subscribe(l.Listener())
	defer unsubscribe()

	notifier.Emit(events.PRMerged, map[string]any{"number": 7}, "octo/widgets#7")

	entries, err := l.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, events.PRMerged, entries[0].Name)
}

func TestRecord_DuplicateIDFails(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	ev := events.Event{ID: "dup", Name: events.PRGated, Timestamp: time.Now(), Data: map[string]any{}}
	require.NoError(t, l.Record(ctx, ev))
	require.Error(t, l.Record(ctx, ev))
}
