package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metarpc/terminal-sdk/model"
)

func newTestSQLiteStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "history.db")
	s, err := NewSQLiteStorage(SQLiteConfig{DBPath: dbPath})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStorageSatisfiesMergeByIDAndWatermarks(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStorage(t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.OnHistoryOrderAdded(ctx, model.HistoryOrder{ID: "1", Symbol: "EURUSD", DoneTime: base, Fields: map[string]any{"state": "STARTED"}}))
	require.NoError(t, s.OnHistoryOrderAdded(ctx, model.HistoryOrder{ID: "1", Symbol: "EURUSD", DoneTime: base.Add(time.Hour), Fields: map[string]any{"state": "FILLED"}}))

	orders, err := s.HistoryOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "FILLED", orders[0].Fields["state"], "last write wins on mutable fields")
	assert.True(t, orders[0].DoneTime.Equal(base), "earliest doneTime wins")

	lastTime, err := s.LastHistoryOrderTime(ctx)
	require.NoError(t, err)
	assert.Equal(t, base.Add(time.Hour).UnixNano(), lastTime, "watermark tracks the most recent arrival, independent of merged doneTime")
}

func TestSQLiteStorageResetEmptiesAndZeroesWatermarks(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStorage(t)

	require.NoError(t, s.OnDealAdded(ctx, model.Deal{ID: "d1", Symbol: "EURUSD", DoneTime: time.Now()}))

	require.NoError(t, s.Reset(ctx))

	deals, err := s.Deals(ctx)
	require.NoError(t, err)
	assert.Empty(t, deals)

	lastTime, err := s.LastDealTime(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), lastTime)
}

func TestSQLiteStorageOrdersAreSortedByDoneTimeThenID(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStorage(t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.OnHistoryOrderAdded(ctx, model.HistoryOrder{ID: "b", DoneTime: base}))
	require.NoError(t, s.OnHistoryOrderAdded(ctx, model.HistoryOrder{ID: "a", DoneTime: base}))
	require.NoError(t, s.OnHistoryOrderAdded(ctx, model.HistoryOrder{ID: "c", DoneTime: base.Add(time.Minute)}))

	orders, err := s.HistoryOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{orders[0].ID, orders[1].ID, orders[2].ID})
}
