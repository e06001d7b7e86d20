package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCoordinator(data map[string]any) *Coordinator {
	return &Coordinator{
		data:     data,
		previous: map[string]any{},
		status:   StatusReady,
	}
}

func TestReadKeyFallback(t *testing.T) {
	t.Run("FallsBackToOldKey", func(t *testing.T) {
		c := testCoordinator(map[string]any{"oldKey": 42.0})
		got, ok := c.Read(KeySet{Keys: []string{"newKey", "oldKey"}})
		require.True(t, ok)
		assert.Equal(t, 42.0, got)
	})

	t.Run("PresentZeroWins", func(t *testing.T) {
		c := testCoordinator(map[string]any{"newKey": 0.0, "oldKey": 42.0})
		got, ok := c.Read(KeySet{Keys: []string{"newKey", "oldKey"}})
		require.True(t, ok)
		assert.Equal(t, 0.0, got, "a present zero must not fall through to the next key")
	})

	t.Run("Missing", func(t *testing.T) {
		c := testCoordinator(map[string]any{})
		_, ok := c.Read(Key("anything"))
		assert.False(t, ok)
	})
}

func TestReadDropThreshold(t *testing.T) {
	ks := KeySet{Keys: []string{"etoday"}, DropThreshold: 1.0}

	t.Run("SmallDipSuppressed", func(t *testing.T) {
		c := testCoordinator(map[string]any{"etoday": 9.6})
		c.previous["etoday"] = 10.0

		got, ok := c.Read(ks)
		require.True(t, ok)
		assert.Equal(t, 10.0, got)

		// the suppressed value is the new baseline, so the same reading
		// again is still judged against 10.0
		got, ok = c.Read(ks)
		require.True(t, ok)
		assert.Equal(t, 10.0, got)
	})

	t.Run("LargeDropPassesThrough", func(t *testing.T) {
		c := testCoordinator(map[string]any{"etoday": 2.0})
		c.previous["etoday"] = 10.0

		got, ok := c.Read(ks)
		require.True(t, ok)
		assert.Equal(t, 2.0, got, "a drop beyond the threshold is a real decrease")
	})

	t.Run("IncreasePassesThrough", func(t *testing.T) {
		c := testCoordinator(map[string]any{"etoday": 10.4})
		c.previous["etoday"] = 10.0

		got, ok := c.Read(ks)
		require.True(t, ok)
		assert.Equal(t, 10.4, got)
	})

	t.Run("NoPrevious", func(t *testing.T) {
		c := testCoordinator(map[string]any{"etoday": 9.6})
		got, ok := c.Read(ks)
		require.True(t, ok)
		assert.Equal(t, 9.6, got)
	})
}

func TestReadNeverResets(t *testing.T) {
	ks := KeySet{Keys: []string{"etotal"}, NeverResets: true}

	c := testCoordinator(map[string]any{"etotal": 0.0})
	c.previous["etotal"] = 125.8

	got, ok := c.Read(ks)
	require.True(t, ok)
	assert.Equal(t, 125.8, got, "midnight zero-glitch on a lifetime counter is suppressed")

	// real progress passes through
	c.data["etotal"] = 130.0
	got, ok = c.Read(ks)
	require.True(t, ok)
	assert.Equal(t, 130.0, got)
}

func TestReadStringNumbers(t *testing.T) {
	// the classic API reports most numbers as strings
	ks := KeySet{Keys: []string{"etoday"}, DropThreshold: 1.0}
	c := testCoordinator(map[string]any{"etoday": "9.6"})
	c.previous["etoday"] = 10.0

	got, ok := c.Read(ks)
	require.True(t, ok)
	assert.Equal(t, 10.0, got)
}

func TestReadNonNumericPassthrough(t *testing.T) {
	c := testCoordinator(map[string]any{"model": "MIN 5000"})
	got, ok := c.Read(Key("model"))
	require.True(t, ok)
	assert.Equal(t, "MIN 5000", got)
}

func TestReadUpdatesPreviousOnReadOnly(t *testing.T) {
	c := testCoordinator(map[string]any{"etoday": 5.0, "unread": 7.0})

	_, ok := c.Read(Key("etoday"))
	require.True(t, ok)

	assert.Contains(t, c.previous, "etoday")
	assert.NotContains(t, c.previous, "unread", "reconciliation history reflects read history, not fetch history")
}
