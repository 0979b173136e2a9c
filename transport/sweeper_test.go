package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/orchestrator/model"
	"github.com/kadirpekel/orchestrator/store"
)

func TestSweeper_Tick_AdoptsCachedResult(t *testing.T) {
	inflight := store.NewMemoryInflightStore()
	require.NoError(t, inflight.Upsert(context.Background(), "req-1", func(r *model.InflightRow) {
		r.RequestID = "req-1"
		r.LeaseUntilTs = 100
	}))

	client := &fakeWorkerClient{cachedResultResp: &ExecuteResponse{OK: true, JSON: []byte(`{"x":1}`)}}
	released := false
	s := &Sweeper{Inflight: inflight, Client: client, ReleaseSlot: func(*model.InflightRow) { released = true }}

	require.NoError(t, s.Tick(context.Background(), 1000))

	_, err := inflight.Get(context.Background(), "req-1")
	assert.ErrorIs(t, err, store.ErrNotFound, "swept rows are always removed")
	assert.False(t, released, "a successfully adopted row should not release its slot")
}

func TestSweeper_Tick_AbandonsWhenNoCachedResult(t *testing.T) {
	inflight := store.NewMemoryInflightStore()
	require.NoError(t, inflight.Upsert(context.Background(), "req-1", func(r *model.InflightRow) {
		r.RequestID = "req-1"
		r.LeaseUntilTs = 100
	}))

	client := &fakeWorkerClient{cachedResultResp: &ExecuteResponse{OK: false}}
	var releasedRow *model.InflightRow
	s := &Sweeper{Inflight: inflight, Client: client, ReleaseSlot: func(r *model.InflightRow) { releasedRow = r }}

	require.NoError(t, s.Tick(context.Background(), 1000))

	require.NotNil(t, releasedRow)
	assert.Equal(t, "req-1", releasedRow.RequestID)
	_, err := inflight.Get(context.Background(), "req-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSweeper_Tick_NoExpiredRowsIsNoop(t *testing.T) {
	inflight := store.NewMemoryInflightStore()
	s := &Sweeper{Inflight: inflight, Client: &fakeWorkerClient{}}
	require.NoError(t, s.Tick(context.Background(), 1000))
}
