package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	f := &FileStore{path: filepath.Join(t.TempDir(), "throttle_state.json")}
	require.NoError(t, f.Init())

	t.Run("ColdStart", func(t *testing.T) {
		records, err := f.LoadThrottle(ctx)
		require.NoError(t, err)
		assert.Equal(t, RecordVersion, records.Version)
		assert.Empty(t, records.Calls)
		assert.NotNil(t, records.Calls, "cold start should return a usable map")
	})

	t.Run("SaveAndLoad", func(t *testing.T) {
		records := ThrottleRecords{
			Version: RecordVersion,
			Calls: map[string]string{
				"device_list": "2026-08-31T10:00:00+00:00",
			},
		}
		require.NoError(t, f.SaveThrottle(ctx, records))

		got, err := f.LoadThrottle(ctx)
		require.NoError(t, err)
		assert.Equal(t, records, got)
	})

	t.Run("NoLeftoverTempFile", func(t *testing.T) {
		_, err := os.Stat(f.path + ".tmp")
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("CorruptFile", func(t *testing.T) {
		bad := &FileStore{path: filepath.Join(t.TempDir(), "bad.json")}
		require.NoError(t, bad.Init())
		require.NoError(t, os.WriteFile(bad.path, []byte("{not json"), 0o600))

		_, err := bad.LoadThrottle(ctx)
		assert.Error(t, err)
	})

	t.Run("MissingDirectory", func(t *testing.T) {
		missing := &FileStore{path: filepath.Join(t.TempDir(), "nope", "state.json")}
		assert.Error(t, missing.Init())
	})
}
