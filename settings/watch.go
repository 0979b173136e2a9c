package settings

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kadirpekel/orchestrator/store"
)

// FileWatchStore is a SettingsStore backed by a YAML file on disk,
// reloaded on write via fsnotify — the local-harness equivalent of the
// browser extension's real settings store and its onChanged event,
// grounded in the teacher's pkg/config/provider/file.go Watch/watchLoop
// debounce pattern.
type FileWatchStore struct {
	path string

	mu          sync.Mutex
	data        UserSettings
	subscribers map[int]func(map[string]any)
	nextID      int
	watcher     *fsnotify.Watcher
	cancel      context.CancelFunc
}

var _ store.SettingsStore = (*FileWatchStore)(nil)

// NewFileWatchStore loads path once and starts watching it for changes.
func NewFileWatchStore(ctx context.Context, path string) (*FileWatchStore, error) {
	initial, err := LoadFile(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	s := &FileWatchStore{
		path:        path,
		data:        NormalizeUserSettings(initial),
		subscribers: make(map[int]func(map[string]any)),
		watcher:     watcher,
		cancel:      cancel,
	}
	go s.watchLoop(watchCtx)
	return s, nil
}

func (s *FileWatchStore) Close() {
	s.cancel()
	s.watcher.Close()
}

func (s *FileWatchStore) Get(_ context.Context, keys []string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(keys) == 0 {
		out := make(map[string]any, len(s.data))
		for k, v := range s.data {
			out[k] = v
		}
		return out, nil
	}
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := s.data[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (s *FileWatchStore) Set(_ context.Context, patch map[string]any) error {
	s.mu.Lock()
	s.data = ApplyUserPatch(s.data, UserSettings(patch))
	snapshot := make(map[string]any, len(s.data))
	for k, v := range s.data {
		snapshot[k] = v
	}
	subs := make([]func(map[string]any), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snapshot)
	}
	return nil
}

func (s *FileWatchStore) OnChanged(subscriber func(map[string]any)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subscribers[id] = subscriber
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}

func (s *FileWatchStore) watchLoop(ctx context.Context) {
	var debounce *time.Timer
	const debounceDelay = 100 * time.Millisecond

	fire := func() {
		reloaded, err := LoadFile(s.path)
		if err != nil {
			slog.Error("settings: reload failed", "path", s.path, "error", err)
			return
		}
		if err := s.Set(ctx, reloaded); err != nil {
			slog.Error("settings: apply reload failed", "path", s.path, "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != filepath.Base(s.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, fire)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("settings: watcher error", "error", err)
		}
	}
}
