package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/orchestrator/model"
)

func TestMemorySettingsStore_SetGetAndNotify(t *testing.T) {
	s := NewMemorySettingsStore(map[string]any{"reasoning.effort": "balanced"})

	var notified map[string]any
	unsub := s.OnChanged(func(changed map[string]any) { notified = changed })
	defer unsub()

	require.NoError(t, s.Set(context.Background(), map[string]any{"reasoning.effort": "thorough"}))
	out, err := s.Get(context.Background(), []string{"reasoning.effort", "unknown.key"})
	require.NoError(t, err)
	assert.Equal(t, "thorough", out["reasoning.effort"])
	assert.Nil(t, out["unknown.key"])
	assert.Equal(t, "thorough", notified["reasoning.effort"])
}

func TestMemorySettingsStore_UnsubscribeStopsNotifications(t *testing.T) {
	s := NewMemorySettingsStore(nil)
	calls := 0
	unsub := s.OnChanged(func(map[string]any) { calls++ })
	unsub()
	require.NoError(t, s.Set(context.Background(), map[string]any{"k": "v"}))
	assert.Equal(t, 0, calls)
}

func TestMemoryTabStateStore_GetDefaultsToNotExists(t *testing.T) {
	s := NewMemoryTabStateStore()
	ts, err := s.Get(context.Background(), "missing-tab")
	require.NoError(t, err)
	assert.False(t, ts.Exists)
}

func TestMemoryTabStateStore_UpsertCreatesThenPatches(t *testing.T) {
	s := NewMemoryTabStateStore()
	require.NoError(t, s.Upsert(context.Background(), "tab-1", func(ts *TabState) {
		ts.LastSeenTs = 100
	}))
	ts, err := s.Get(context.Background(), "tab-1")
	require.NoError(t, err)
	assert.True(t, ts.Exists)
	assert.Equal(t, int64(100), ts.LastSeenTs)

	require.NoError(t, s.Delete(context.Background(), "tab-1"))
	ts, err = s.Get(context.Background(), "tab-1")
	require.NoError(t, err)
	assert.False(t, ts.Exists)
}

func TestMemoryJobStore_SaveLoadScanDelete(t *testing.T) {
	s := NewMemoryJobStore()
	job := model.NewJob("j1", "t1", "fr")
	require.NoError(t, s.Save(context.Background(), job))

	loaded, err := s.Load(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, "j1", loaded.JobID)

	_, err = s.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	job2 := model.NewJob("j2", "t2", "de")
	require.NoError(t, s.Save(context.Background(), job2))
	all, err := s.Scan(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	onlyFr, err := s.Scan(context.Background(), func(j *model.Job) bool { return j.TargetLang == "fr" })
	require.NoError(t, err)
	require.Len(t, onlyFr, 1)
	assert.Equal(t, "j1", onlyFr[0].JobID)

	require.NoError(t, s.Delete(context.Background(), "j1"))
	_, err = s.Load(context.Background(), "j1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryInflightStore_UpsertAndLifecycle(t *testing.T) {
	s := NewMemoryInflightStore()
	require.NoError(t, s.Upsert(context.Background(), "req-1", func(r *model.InflightRow) {
		r.RequestKey = "key-1"
		r.LeaseUntilTs = 500
	}))

	row, err := s.Get(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, model.InflightPending, row.Status)

	found, err := s.FindByKey(context.Background(), "key-1")
	require.NoError(t, err)
	assert.Equal(t, "req-1", found.RequestID)

	expired, err := s.ListExpired(context.Background(), 1000)
	require.NoError(t, err)
	require.Len(t, expired, 1)

	require.NoError(t, s.MarkDone(context.Background(), "req-1", []byte(`{"ok":true}`)))
	row, err = s.Get(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, model.InflightDone, row.Status)

	_, err = s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryInflightStore_MarkFailedAndCancelled(t *testing.T) {
	s := NewMemoryInflightStore()
	require.NoError(t, s.Upsert(context.Background(), "req-1", func(*model.InflightRow) {}))
	require.NoError(t, s.MarkFailed(context.Background(), "req-1", &model.LastError{Code: "X", Message: "boom"}))
	row, err := s.Get(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, model.InflightFailed, row.Status)

	require.NoError(t, s.Upsert(context.Background(), "req-2", func(*model.InflightRow) {}))
	require.NoError(t, s.MarkCancelled(context.Background(), "req-2"))
	row, err = s.Get(context.Background(), "req-2")
	require.NoError(t, err)
	assert.Equal(t, model.InflightCancelled, row.Status)
}

func TestMemoryPageCacheStore_SetGetExpiry(t *testing.T) {
	s := NewMemoryPageCacheStore()
	require.NoError(t, s.Set(context.Background(), "k1", []byte("v1"), 0))
	entry, err := s.Get(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), entry.Value)

	require.NoError(t, s.Set(context.Background(), "k2", []byte("v2"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	_, err = s.Get(context.Background(), "k2")
	assert.ErrorIs(t, err, ErrNotFound, "an elapsed TTL expires the entry")

	require.NoError(t, s.Delete(context.Background(), "k1"))
	_, err = s.Get(context.Background(), "k1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryEventLogStore_AppendAssignsMonotonicSeqAndScans(t *testing.T) {
	s := NewMemoryEventLogStore()
	require.NoError(t, s.Append(context.Background(), EventLogEntry{JobID: "j1", Kind: "started"}))
	require.NoError(t, s.Append(context.Background(), EventLogEntry{JobID: "j2", Kind: "started"}))
	require.NoError(t, s.Append(context.Background(), EventLogEntry{JobID: "j1", Kind: "done"}))

	all, err := s.Scan(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(1), all[0].Seq)
	assert.Equal(t, int64(3), all[2].Seq)

	j1Only, err := s.Scan(context.Background(), func(e EventLogEntry) bool { return e.JobID == "j1" })
	require.NoError(t, err)
	assert.Len(t, j1Only, 2)
}

func TestNewMemoryStores_BundlesAllSixAdapters(t *testing.T) {
	stores := NewMemoryStores(map[string]any{"k": "v"})
	require.NotNil(t, stores.Settings)
	require.NotNil(t, stores.TabState)
	require.NotNil(t, stores.Jobs)
	require.NotNil(t, stores.Inflight)
	require.NotNil(t, stores.PageCache)
	require.NotNil(t, stores.EventLog)

	out, err := stores.Settings.Get(context.Background(), []string{"k"})
	require.NoError(t, err)
	assert.Equal(t, "v", out["k"])
}
