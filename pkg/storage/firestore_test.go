package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirestoreStore(t *testing.T) {
	// Check if emulator is running or configured
	// We assume it is running on localhost:8087 as per task
	os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")

	// Use a test project ID
	projectID := "test-project-id"

	// Use a random database for isolation
	randDB := fmt.Sprintf("test-db-%d", time.Now().UnixNano())
	f := &FirestoreStore{
		projectID: projectID,
		database:  randDB,
		docID:     "test-account",
	}

	ctx := context.Background()
	require.NoError(t, f.Init(ctx))
	defer f.Close()

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
				"plant_data":  "2026-08-31T10:01:00+00:00",
			},
		}
		require.NoError(t, f.SaveThrottle(ctx, records))

		got, err := f.LoadThrottle(ctx)
		require.NoError(t, err)
		assert.Equal(t, records, got)
	})

	t.Run("Overwrite", func(t *testing.T) {
		records := ThrottleRecords{
			Version: RecordVersion,
			Calls:   map[string]string{"device_list": "2026-08-31T11:00:00+00:00"},
		}
		require.NoError(t, f.SaveThrottle(ctx, records))

		got, err := f.LoadThrottle(ctx)
		require.NoError(t, err)
		assert.Equal(t, records, got, "save should replace the whole record set")
	})

	t.Run("PurgeStale", func(t *testing.T) {
		deleted, err := f.PurgeStale(ctx, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.Zero(t, deleted, "fresh doc should not be purged")

		deleted, err = f.PurgeStale(ctx, time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, deleted)
	})
}
