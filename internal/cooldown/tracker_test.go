package cooldown

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowSuppressesWithinWindow(t *testing.T) {
	tr := New(time.Hour)
	key := Key{UserID: 1, Chain: "eth", PositionID: 9540}
	t0 := time.Unix(1_700_000_000, 0)

	prev, ok := tr.Allow(key, t0)
	require.True(t, ok)
	assert.True(t, prev.IsZero())

	_, ok = tr.Allow(key, t0.Add(59*time.Minute+59*time.Second))
	assert.False(t, ok)

	prev, ok = tr.Allow(key, t0.Add(time.Hour))
	require.True(t, ok)
	assert.Equal(t, t0, prev)

	prev, ok = tr.Allow(key, t0.Add(time.Hour+time.Minute))
	assert.False(t, ok)
	assert.Equal(t, t0.Add(time.Hour), prev, "the window restarts from the latest alert")
}

func TestKeysAreIndependent(t *testing.T) {
	tr := New(time.Hour)
	now := time.Now()

	_, ok := tr.Allow(Key{UserID: 1, Chain: "eth", PositionID: 1}, now)
	require.True(t, ok)
	_, ok = tr.Allow(Key{UserID: 2, Chain: "eth", PositionID: 1}, now)
	assert.True(t, ok)
	_, ok = tr.Allow(Key{UserID: 1, Chain: "base", PositionID: 1}, now)
	assert.True(t, ok)
	assert.Equal(t, 3, tr.Len())
}

func TestRestoreUndoesStamp(t *testing.T) {
	tr := New(time.Hour)
	key := Key{UserID: 7, Chain: "eth", PositionID: 3}
	now := time.Now()

	prev, ok := tr.Allow(key, now)
	require.True(t, ok)
	tr.Restore(key, prev)
	assert.Equal(t, 0, tr.Len(), "a zero stamp forgets the key")

	_, ok = tr.Allow(key, now.Add(time.Minute))
	assert.True(t, ok)

	earlier := now.Add(-30 * time.Minute)
	tr.Restore(key, earlier)
	prev, ok = tr.Allow(key, now.Add(time.Minute))
	assert.False(t, ok, "restored stamp is still inside the window")
	assert.Equal(t, earlier, prev)
}

func TestPruneDropsExpired(t *testing.T) {
	tr := New(time.Hour)
	now := time.Now()
	tr.Allow(Key{UserID: 1, PositionID: 1}, now.Add(-2*time.Hour))
	tr.Allow(Key{UserID: 1, PositionID: 2}, now.Add(-time.Hour))
	tr.Allow(Key{UserID: 1, PositionID: 3}, now.Add(-time.Minute))

	assert.Equal(t, 2, tr.Prune(now))
	assert.Equal(t, 1, tr.Len())
}

func TestAllowIsAtomicPerKey(t *testing.T) {
	tr := New(time.Hour)
	key := Key{UserID: 1, Chain: "eth", PositionID: 1}
	now := time.Now()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := tr.Allow(key, now); ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, allowed)
}
