// Package store defines the Key-Value Store Adapter contracts (§4.1):
// typed wrappers around a single persistent key-value area partitioned
// into six named adapters — settings, tab-state, job-store, in-flight
// request table, page cache, event log. All are append/upsert with
// predicate scans; no adapter exposes multi-key transactions (§9
// Persistence atomicity — last-write-wins per key).
package store

import (
	"context"
	"time"

	"github.com/kadirpekel/orchestrator/model"
)

// Predicate filters rows during a scan. Implementations must treat a nil
// predicate as "match everything".
type Predicate[T any] func(T) bool

// SettingsStore is the settings KV area (§4.1).
type SettingsStore interface {
	Get(ctx context.Context, keys []string) (map[string]any, error)
	Set(ctx context.Context, patch map[string]any) error
	OnChanged(subscriber func(changed map[string]any)) (unsubscribe func())
}

// TabState is the ephemeral per-tab record the scheduler consults to
// decide TAB_GONE (§4.6 step 6).
type TabState struct {
	TabID       string
	Exists      bool
	LastSeenTs  int64
	LastNudgeTs int64
	LastScanTs  int64
}

// TabStateStore is the tab-state KV area.
type TabStateStore interface {
	Get(ctx context.Context, tabID string) (*TabState, error)
	Upsert(ctx context.Context, tabID string, patch func(*TabState)) error
	Delete(ctx context.Context, tabID string) error
}

// JobStore is the job-store KV area: the Job record's persistence
// boundary. Every observable state transition is followed by a Save
// (§5 "Persist-after-transition").
type JobStore interface {
	Save(ctx context.Context, job *model.Job) error
	Load(ctx context.Context, jobID string) (*model.Job, error)
	Scan(ctx context.Context, pred Predicate[*model.Job]) ([]*model.Job, error)
	Delete(ctx context.Context, jobID string) error
}

// InflightStore is the in-flight request table (§3.1, §4.1).
type InflightStore interface {
	Upsert(ctx context.Context, id string, patch func(*model.InflightRow)) error
	Get(ctx context.Context, id string) (*model.InflightRow, error)
	FindByKey(ctx context.Context, requestKey string) (*model.InflightRow, error)
	ListExpired(ctx context.Context, nowTs int64) ([]*model.InflightRow, error)
	ListPending(ctx context.Context, limit int) ([]*model.InflightRow, error)
	MarkDone(ctx context.Context, id string, rawResult []byte) error
	MarkFailed(ctx context.Context, id string, lastErr *model.LastError) error
	MarkCancelled(ctx context.Context, id string) error
	TouchStreamHeartbeat(ctx context.Context, id string, preview string, leaseUntilTs int64) error
	NextLease(nowTs int64, ttl time.Duration) int64
	Delete(ctx context.Context, id string) error
}

// PageCacheEntry is a single page-cache row: a TTL'd cached value keyed by
// an arbitrary string (e.g. a rendered translation result).
type PageCacheEntry struct {
	Key       string
	Value     []byte
	ExpiresTs int64
}

// PageCacheStore is the page-cache KV area.
type PageCacheStore interface {
	Get(ctx context.Context, key string) (*PageCacheEntry, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// EventLogEntry is one append-only event-log row.
type EventLogEntry struct {
	Seq     int64
	JobID   string
	Kind    string
	Payload map[string]any
	Ts      int64
}

// EventLogStore is the event-log KV area: append + predicate scan only,
// never mutated in place.
type EventLogStore interface {
	Append(ctx context.Context, entry EventLogEntry) error
	Scan(ctx context.Context, pred Predicate[EventLogEntry]) ([]EventLogEntry, error)
}

// Stores bundles all six adapters, matching the way the rest of the
// orchestration core receives its persistence dependencies as a single
// injected value.
type Stores struct {
	Settings  SettingsStore
	TabState  TabStateStore
	Jobs      JobStore
	Inflight  InflightStore
	PageCache PageCacheStore
	EventLog  EventLogStore
}
