package store

import (
	"context"
	"sync"
	"time"

	"github.com/kadirpekel/orchestrator/model"
)

// memorySettingsStore is an in-memory SettingsStore, grounded in the same
// RWMutex-guarded-map shape as the teacher's in-memory session state.
type memorySettingsStore struct {
	mu          sync.RWMutex
	data        map[string]any
	subscribers map[int]func(map[string]any)
	nextSub     int
}

// NewMemorySettingsStore returns an in-memory SettingsStore seeded with
// defaults, useful for tests and the dev CLI harness.
func NewMemorySettingsStore(defaults map[string]any) SettingsStore {
	data := make(map[string]any, len(defaults))
	for k, v := range defaults {
		data[k] = v
	}
	return &memorySettingsStore{data: data, subscribers: make(map[int]func(map[string]any))}
}

func (s *memorySettingsStore) Get(_ context.Context, keys []string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		out[k] = s.data[k] // unknown keys return default (nil = default zero value)
	}
	return out, nil
}

func (s *memorySettingsStore) Set(_ context.Context, patch map[string]any) error {
	s.mu.Lock()
	for k, v := range patch {
		s.data[k] = v
	}
	subs := make([]func(map[string]any), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(patch)
	}
	return nil
}

func (s *memorySettingsStore) OnChanged(subscriber func(map[string]any)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = subscriber
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}

type memoryTabStateStore struct {
	mu   sync.RWMutex
	data map[string]*TabState
}

// NewMemoryTabStateStore returns an in-memory TabStateStore.
func NewMemoryTabStateStore() TabStateStore {
	return &memoryTabStateStore{data: make(map[string]*TabState)}
}

func (s *memoryTabStateStore) Get(_ context.Context, tabID string) (*TabState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ts, ok := s.data[tabID]; ok {
		cp := *ts
		return &cp, nil
	}
	return &TabState{TabID: tabID, Exists: false}, nil
}

func (s *memoryTabStateStore) Upsert(_ context.Context, tabID string, patch func(*TabState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.data[tabID]
	if !ok {
		ts = &TabState{TabID: tabID, Exists: true}
		s.data[tabID] = ts
	}
	patch(ts)
	return nil
}

func (s *memoryTabStateStore) Delete(_ context.Context, tabID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, tabID)
	return nil
}

type memoryJobStore struct {
	mu   sync.RWMutex
	data map[string]*model.Job
}

// NewMemoryJobStore returns an in-memory JobStore.
func NewMemoryJobStore() JobStore {
	return &memoryJobStore{data: make(map[string]*model.Job)}
}

func (s *memoryJobStore) Save(_ context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.UpdatedAt = time.Now()
	s.data[job.JobID] = job
	return nil
}

func (s *memoryJobStore) Load(_ context.Context, jobID string) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.data[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return job, nil
}

func (s *memoryJobStore) Scan(_ context.Context, pred Predicate[*model.Job]) ([]*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Job
	for _, j := range s.data {
		if pred == nil || pred(j) {
			out = append(out, j)
		}
	}
	return out, nil
}

func (s *memoryJobStore) Delete(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, jobID)
	return nil
}

type memoryInflightStore struct {
	mu   sync.RWMutex
	data map[string]*model.InflightRow
}

// NewMemoryInflightStore returns an in-memory InflightStore.
func NewMemoryInflightStore() InflightStore {
	return &memoryInflightStore{data: make(map[string]*model.InflightRow)}
}

func (s *memoryInflightStore) Upsert(_ context.Context, id string, patch func(*model.InflightRow)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.data[id]
	if !ok {
		row = &model.InflightRow{RequestID: id, Status: model.InflightPending}
		s.data[id] = row
	}
	patch(row)
	return nil
}

func (s *memoryInflightStore) Get(_ context.Context, id string) (*model.InflightRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	return row, nil
}

// FindByKey returns (nil, nil) on a miss rather than ErrNotFound: callers
// like transport.Executor.Execute treat "no row yet" as the normal
// first-attempt case, not a failure.
func (s *memoryInflightStore) FindByKey(_ context.Context, requestKey string) (*model.InflightRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, row := range s.data {
		if row.RequestKey == requestKey {
			return row, nil
		}
	}
	return nil, nil
}

func (s *memoryInflightStore) ListExpired(_ context.Context, nowTs int64) ([]*model.InflightRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.InflightRow
	for _, row := range s.data {
		if row.IsAbandoned(nowTs) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *memoryInflightStore) ListPending(_ context.Context, limit int) ([]*model.InflightRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.InflightRow
	for _, row := range s.data {
		if row.Status == model.InflightPending {
			out = append(out, row)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *memoryInflightStore) MarkDone(_ context.Context, id string, rawResult []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.data[id]
	if !ok {
		return ErrNotFound
	}
	row.Status = model.InflightDone
	row.RawResult = rawResult
	return nil
}

func (s *memoryInflightStore) MarkFailed(_ context.Context, id string, lastErr *model.LastError) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.data[id]
	if !ok {
		return ErrNotFound
	}
	row.Status = model.InflightFailed
	row.LastError = lastErr
	return nil
}

func (s *memoryInflightStore) MarkCancelled(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.data[id]
	if !ok {
		return ErrNotFound
	}
	row.Status = model.InflightCancelled
	return nil
}

func (s *memoryInflightStore) TouchStreamHeartbeat(_ context.Context, id string, preview string, leaseUntilTs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.data[id]
	if !ok {
		return ErrNotFound
	}
	row.StreamPreview = preview
	row.LeaseUntilTs = leaseUntilTs
	return nil
}

func (s *memoryInflightStore) NextLease(nowTs int64, ttl time.Duration) int64 {
	return nowTs + ttl.Milliseconds()
}

func (s *memoryInflightStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, id)
	return nil
}

type memoryPageCacheStore struct {
	mu   sync.RWMutex
	data map[string]*PageCacheEntry
}

// NewMemoryPageCacheStore returns an in-memory PageCacheStore.
func NewMemoryPageCacheStore() PageCacheStore {
	return &memoryPageCacheStore{data: make(map[string]*PageCacheEntry)}
}

func (s *memoryPageCacheStore) Get(_ context.Context, key string) (*PageCacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	if e.ExpiresTs > 0 && e.ExpiresTs < time.Now().UnixMilli() {
		return nil, ErrNotFound
	}
	return e, nil
}

func (s *memoryPageCacheStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expires int64
	if ttl > 0 {
		expires = time.Now().Add(ttl).UnixMilli()
	}
	s.data[key] = &PageCacheEntry{Key: key, Value: value, ExpiresTs: expires}
	return nil
}

func (s *memoryPageCacheStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

type memoryEventLogStore struct {
	mu      sync.Mutex
	entries []EventLogEntry
	seq     int64
}

// NewMemoryEventLogStore returns an in-memory EventLogStore.
func NewMemoryEventLogStore() EventLogStore {
	return &memoryEventLogStore{}
}

func (s *memoryEventLogStore) Append(_ context.Context, entry EventLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	entry.Seq = s.seq
	s.entries = append(s.entries, entry)
	return nil
}

func (s *memoryEventLogStore) Scan(_ context.Context, pred Predicate[EventLogEntry]) ([]EventLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []EventLogEntry
	for _, e := range s.entries {
		if pred == nil || pred(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// NewMemoryStores bundles fresh in-memory adapters for every KV area.
func NewMemoryStores(settingsDefaults map[string]any) *Stores {
	return &Stores{
		Settings:  NewMemorySettingsStore(settingsDefaults),
		TabState:  NewMemoryTabStateStore(),
		Jobs:      NewMemoryJobStore(),
		Inflight:  NewMemoryInflightStore(),
		PageCache: NewMemoryPageCacheStore(),
		EventLog:  NewMemoryEventLogStore(),
	}
}
