package settings

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSettingsFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newWatchStore(t *testing.T, content string) (*FileWatchStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.yaml")
	writeSettingsFile(t, path, content)
	s, err := NewFileWatchStore(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, path
}

func TestFileWatchStore_GetNormalizesOnLoad(t *testing.T) {
	s, _ := newWatchStore(t, "profile: thorough\n")

	got, err := s.Get(context.Background(), []string{"profile"})
	require.NoError(t, err)
	assert.Equal(t, "thorough", got["profile"])
}

func TestFileWatchStore_InvalidProfileFallsBackToDefault(t *testing.T) {
	s, _ := newWatchStore(t, "profile: warp_speed\n")

	got, err := s.Get(context.Background(), []string{"profile"})
	require.NoError(t, err)
	assert.Equal(t, string(DefaultProfile), got["profile"])
}

func TestFileWatchStore_GetAllKeysWhenNoneRequested(t *testing.T) {
	s, _ := newWatchStore(t, "profile: fast\ntargetLang: de\n")

	got, err := s.Get(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "fast", got["profile"])
	assert.Equal(t, "de", got["targetLang"])
}

func TestFileWatchStore_SetNotifiesSubscribers(t *testing.T) {
	s, _ := newWatchStore(t, "profile: balanced\n")

	notified := make(chan map[string]any, 1)
	unsubscribe := s.OnChanged(func(snapshot map[string]any) {
		notified <- snapshot
	})
	defer unsubscribe()

	require.NoError(t, s.Set(context.Background(), map[string]any{"targetLang": "ja"}))

	select {
	case snapshot := <-notified:
		assert.Equal(t, "ja", snapshot["targetLang"])
	case <-time.After(time.Second):
		t.Fatal("subscriber was not notified")
	}
}

func TestFileWatchStore_UnsubscribeStopsNotifications(t *testing.T) {
	s, _ := newWatchStore(t, "profile: balanced\n")

	notified := make(chan map[string]any, 1)
	unsubscribe := s.OnChanged(func(snapshot map[string]any) {
		notified <- snapshot
	})
	unsubscribe()

	require.NoError(t, s.Set(context.Background(), map[string]any{"targetLang": "ja"}))

	select {
	case <-notified:
		t.Fatal("unsubscribed subscriber was notified")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFileWatchStore_ReloadsOnFileWrite(t *testing.T) {
	s, path := newWatchStore(t, "profile: balanced\n")

	notified := make(chan map[string]any, 4)
	unsubscribe := s.OnChanged(func(snapshot map[string]any) {
		notified <- snapshot
	})
	defer unsubscribe()

	writeSettingsFile(t, path, "profile: economy\n")

	deadline := time.After(3 * time.Second)
	for {
		select {
		case snapshot := <-notified:
			if snapshot["profile"] == "economy" {
				return
			}
		case <-deadline:
			t.Fatal("file change was never applied")
		}
	}
}

func TestFileWatchStore_SetMigratesLegacyKeys(t *testing.T) {
	s, _ := newWatchStore(t, "profile: balanced\n")

	require.NoError(t, s.Set(context.Background(), map[string]any{"maxAgentSteps": 12}))

	got, err := s.Get(context.Background(), []string{"profile.reasoning.maxSteps"})
	require.NoError(t, err)
	assert.Equal(t, 12, got["profile.reasoning.maxSteps"])
}
