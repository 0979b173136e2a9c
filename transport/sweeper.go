package transport

import (
	"context"
	"time"

	"github.com/kadirpekel/orchestrator/model"
	"github.com/kadirpekel/orchestrator/orcerr"
	"github.com/kadirpekel/orchestrator/store"
)

// Sweeper implements the §4.5.4 in-flight sweeper: on each tick, every
// lease-expired row is either adopted (a cached result still exists) or
// abandoned (the model-slot reservation is released and the row is
// marked OFFSCREEN_REQUEST_LOST); either way the row is removed.
type Sweeper struct {
	Inflight store.InflightStore
	Client   RemoteWorkerClient

	// ReleaseSlot is invoked for every abandoned row, so the caller can
	// free whatever concurrency reservation it held.
	ReleaseSlot func(row *model.InflightRow)
}

// Tick runs one sweep pass over rows whose lease has expired as of nowTs.
func (s *Sweeper) Tick(ctx context.Context, nowTs int64) error {
	rows, err := s.Inflight.ListExpired(ctx, nowTs)
	if err != nil {
		return err
	}
	for _, row := range rows {
		s.sweepOne(ctx, row)
	}
	return nil
}

func (s *Sweeper) sweepOne(ctx context.Context, row *model.InflightRow) {
	resp, err := s.Client.GetCachedResult(ctx, &GetCachedResultRequest{RequestID: row.RequestID})
	if err == nil && resp != nil && resp.OK {
		_ = s.Inflight.MarkDone(ctx, row.RequestID, resp.JSON)
	} else {
		if s.ReleaseSlot != nil {
			s.ReleaseSlot(row)
		}
		_ = s.Inflight.MarkFailed(ctx, row.RequestID, &model.LastError{
			Code:    string(orcerr.CodeOffscreenRequestLost),
			Message: "inflight row lease expired with no cached result",
		})
	}
	_ = s.Inflight.Delete(ctx, row.RequestID)
}

// Run blocks on a ticker of the given interval, sweeping until ctx is
// done. now supplies the current timestamp (kept as a parameter rather
// than time.Now so callers can inject deterministic clocks in tests).
func Run(ctx context.Context, s *Sweeper, interval time.Duration, now func() int64) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.Tick(ctx, now())
		}
	}
}
