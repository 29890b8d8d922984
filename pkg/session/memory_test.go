package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	regTestTTL      = 5 * time.Minute
	regTestShortTTL = 50 * time.Millisecond
)

func newTestRegistry(ttl time.Duration) *MemoryRegistry {
	return NewMemoryRegistry(ttl, nil)
}

func TestMemoryRegistry_CreateAndGet(t *testing.T) {
	reg := newTestRegistry(regTestTTL)
	ctx := context.Background()

	sess, err := reg.Create(ctx, []string{"/data/slides"}, []string{"/data/overlays"}, regTestTTL)
	require.NoError(t, err)
	require.NotEmpty(t, sess.Token)

	got, err := reg.Get(ctx, sess.Token)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, sess.Token, got.Token)
	assert.Equal(t, []string{"/data/slides"}, got.SlideLocations)
	assert.Equal(t, []string{"/data/overlays"}, got.OverlayLocations)
}

func TestMemoryRegistry_GetNotFound(t *testing.T) {
	reg := newTestRegistry(regTestTTL)

	got, err := reg.Get(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryRegistry_GetExpired(t *testing.T) {
	reg := newTestRegistry(regTestShortTTL)
	ctx := context.Background()

	sess, err := reg.Create(ctx, []string{"/data"}, nil, regTestShortTTL)
	require.NoError(t, err)

	time.Sleep(2 * regTestShortTTL)

	got, err := reg.Get(ctx, sess.Token)
	require.NoError(t, err)
	assert.Nil(t, got, "expired session should resolve to not found without a sweep")
}

func TestMemoryRegistry_DefaultTTLWhenNegative(t *testing.T) {
	reg := newTestRegistry(regTestTTL)

	sess, err := reg.Create(context.Background(), []string{"/data"}, nil, -1)
	require.NoError(t, err)
	assert.Equal(t, regTestTTL, sess.TTL)
}

func TestMemoryRegistry_ZeroTTLKept(t *testing.T) {
	reg := newTestRegistry(regTestTTL)
	ctx := context.Background()

	sess, err := reg.Create(ctx, []string{"/data"}, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), sess.TTL)

	// Immediately eligible for sweep once any time has elapsed.
	time.Sleep(time.Millisecond)
	removed, err := reg.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestMemoryRegistry_HeartbeatResetsExpiry(t *testing.T) {
	reg := newTestRegistry(regTestShortTTL)
	ctx := context.Background()

	sess, err := reg.Create(ctx, []string{"/data"}, nil, regTestShortTTL)
	require.NoError(t, err)

	// Keep heartbeating past the original TTL window.
	for range 4 {
		time.Sleep(regTestShortTTL / 2)
		ok, err := reg.Heartbeat(ctx, sess.Token)
		require.NoError(t, err)
		require.True(t, ok)
	}

	got, err := reg.Get(ctx, sess.Token)
	require.NoError(t, err)
	assert.NotNil(t, got, "heartbeats before expiry should keep the session alive")
	assert.True(t, got.LastHeartbeatAt.After(sess.LastHeartbeatAt))
}

func TestMemoryRegistry_HeartbeatNotFound(t *testing.T) {
	reg := newTestRegistry(regTestTTL)

	ok, err := reg.Heartbeat(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryRegistry_HeartbeatExpired(t *testing.T) {
	reg := newTestRegistry(regTestShortTTL)
	ctx := context.Background()

	sess, err := reg.Create(ctx, []string{"/data"}, nil, regTestShortTTL)
	require.NoError(t, err)

	time.Sleep(2 * regTestShortTTL)

	ok, err := reg.Heartbeat(ctx, sess.Token)
	require.NoError(t, err)
	assert.False(t, ok, "heartbeat must not revive an expired session")
}

func TestMemoryRegistry_Delete(t *testing.T) {
	reg := newTestRegistry(regTestTTL)
	ctx := context.Background()

	sess, err := reg.Create(ctx, []string{"/data"}, nil, regTestTTL)
	require.NoError(t, err)

	deleted, err := reg.Delete(ctx, sess.Token)
	require.NoError(t, err)
	assert.True(t, deleted)

	got, err := reg.Get(ctx, sess.Token)
	require.NoError(t, err)
	assert.Nil(t, got)

	// Idempotent second delete reports not found.
	deleted, err = reg.Delete(ctx, sess.Token)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestMemoryRegistry_EvictHook(t *testing.T) {
	var mu sync.Mutex
	var evicted []string
	reg := NewMemoryRegistry(regTestTTL, func(s *Session) {
		mu.Lock()
		evicted = append(evicted, s.Token)
		mu.Unlock()
	})
	ctx := context.Background()

	deletedSess, err := reg.Create(ctx, []string{"/data"}, nil, regTestTTL)
	require.NoError(t, err)
	expiredSess, err := reg.Create(ctx, []string{"/data"}, nil, 0)
	require.NoError(t, err)

	_, err = reg.Delete(ctx, deletedSess.Token)
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	_, err = reg.SweepExpired(ctx)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{deletedSess.Token, expiredSess.Token}, evicted)
}

func TestMemoryRegistry_SweepKeepsLiveSessions(t *testing.T) {
	reg := newTestRegistry(regTestTTL)
	ctx := context.Background()

	live, err := reg.Create(ctx, []string{"/data"}, nil, regTestTTL)
	require.NoError(t, err)
	_, err = reg.Create(ctx, []string{"/data"}, nil, 0)
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	removed, err := reg.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	got, err := reg.Get(ctx, live.Token)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestMemoryRegistry_ConcurrentCreateDistinctTokens(t *testing.T) {
	reg := newTestRegistry(regTestTTL)
	ctx := context.Background()

	const n = 50
	tokens := make(chan string, n)
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess, err := reg.Create(ctx, []string{"/data"}, nil, regTestTTL)
			require.NoError(t, err)
			tokens <- sess.Token
		}()
	}
	wg.Wait()
	close(tokens)

	seen := make(map[string]bool, n)
	for tok := range tokens {
		assert.False(t, seen[tok], "token %s issued twice", tok)
		seen[tok] = true
	}
	assert.Len(t, seen, n)
}

func TestMemoryRegistry_GetReturnsCopy(t *testing.T) {
	reg := newTestRegistry(regTestTTL)
	ctx := context.Background()

	sess, err := reg.Create(ctx, []string{"/data"}, nil, regTestTTL)
	require.NoError(t, err)

	got, err := reg.Get(ctx, sess.Token)
	require.NoError(t, err)
	got.SlideLocations[0] = "/mutated"

	again, err := reg.Get(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, "/data", again.SlideLocations[0], "callers must not share registry state")
}

func TestMemoryRegistry_SetUploadDir(t *testing.T) {
	reg := newTestRegistry(regTestTTL)
	ctx := context.Background()

	sess, err := reg.Create(ctx, []string{"/data"}, nil, regTestTTL)
	require.NoError(t, err)
	require.NoError(t, reg.SetUploadDir(ctx, sess.Token, "/uploads/"+sess.Token))

	got, err := reg.Get(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, "/uploads/"+sess.Token, got.UploadDir)
}

func TestMemoryRegistry_SweepRoutineLifecycle(t *testing.T) {
	reg := newTestRegistry(regTestShortTTL)
	ctx := context.Background()

	_, err := reg.Create(ctx, []string{"/data"}, nil, regTestShortTTL)
	require.NoError(t, err)

	reg.StartSweep(20 * time.Millisecond)
	time.Sleep(150 * time.Millisecond)

	sessions, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions, "sweep should have removed the expired session")

	assert.NoError(t, reg.Close())
}

func TestMemoryRegistry_CloseWithoutStart(t *testing.T) {
	reg := newTestRegistry(regTestTTL)
	assert.NoError(t, reg.Close(), "Close without StartSweep should not panic")
}

func TestMemoryRegistry_ConcurrentAccess(_ *testing.T) {
	reg := newTestRegistry(regTestTTL)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				sess, _ := reg.Create(ctx, []string{"/data"}, nil, regTestTTL)
				_, _ = reg.Get(ctx, sess.Token)
				_, _ = reg.Heartbeat(ctx, sess.Token)
				_, _ = reg.List(ctx)
				_, _ = reg.SweepExpired(ctx)
				_, _ = reg.Delete(ctx, sess.Token)
			}
		}()
	}
	wg.Wait()
}
