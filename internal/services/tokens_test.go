package services

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(clock *fakeClock) *TokenStore {
	return NewTokenStore(TokenStoreOptions{
		MaxAge:      30 * time.Minute,
		SweepPeriod: 5 * time.Minute,
		Now:         clock.Now,
	})
}

func TestTokenStorePutGet(t *testing.T) {
	store := newTestStore(newFakeClock())

	store.Put("abc", "https://scontent.cdninstagram.com/v/clip.mp4")

	got, ok := store.Get("abc")
	require.True(t, ok)
	assert.Equal(t, "https://scontent.cdninstagram.com/v/clip.mp4", got)
}

func TestTokenStoreGetUnknown(t *testing.T) {
	store := newTestStore(newFakeClock())
	store.Put("abc", "https://scontent.cdninstagram.com/v/clip.mp4")

	for _, token := range []string{"missing", "", "ABC", "abc "} {
		_, ok := store.Get(token)
		assert.False(t, ok, token)
	}
}

func TestTokenStoreDeleteIdempotent(t *testing.T) {
	store := newTestStore(newFakeClock())
	store.Put("abc", "https://scontent.cdninstagram.com/v/clip.mp4")

	store.Delete("abc")
	store.Delete("abc")
	store.Delete("never-inserted")

	_, ok := store.Get("abc")
	assert.False(t, ok)
	assert.Equal(t, 0, store.Len())
}

func TestTokenStoreLastWriteWins(t *testing.T) {
	store := newTestStore(newFakeClock())
	store.Put("abc", "https://scontent.cdninstagram.com/v/one.mp4")
	store.Put("abc", "https://scontent.cdninstagram.com/v/two.mp4")

	got, ok := store.Get("abc")
	require.True(t, ok)
	assert.Equal(t, "https://scontent.cdninstagram.com/v/two.mp4", got)
	assert.Equal(t, 1, store.Len())
}

func TestTokenStoreNotExpiredEarly(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(clock)
	store.Put("abc", "https://scontent.cdninstagram.com/v/clip.mp4")

	clock.Advance(30*time.Minute - time.Millisecond)
	assert.Equal(t, 0, store.Sweep())

	_, ok := store.Get("abc")
	assert.True(t, ok)
}

func TestTokenStoreExactlyMaxAgeStillLive(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(clock)
	store.Put("abc", "https://scontent.cdninstagram.com/v/clip.mp4")

	clock.Advance(30 * time.Minute)
	assert.Equal(t, 0, store.Sweep())
	_, ok := store.Get("abc")
	assert.True(t, ok)
}

func TestTokenStoreExpiredAfterMaxAgePlusSweep(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(clock)
	store.Put("abc", "https://scontent.cdninstagram.com/v/clip.mp4")

	clock.Advance(30*time.Minute + 5*time.Minute)
	store.Sweep()

	_, ok := store.Get("abc")
	assert.False(t, ok)
	assert.Equal(t, 0, store.Len())
}

func TestTokenStoreGetHidesStaleEntryBeforeSweep(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(clock)
	store.Put("abc", "https://scontent.cdninstagram.com/v/clip.mp4")

	clock.Advance(31 * time.Minute)

	_, ok := store.Get("abc")
	assert.False(t, ok)
	assert.Equal(t, 1, store.Len(), "entry stays until the sweep runs")

	assert.Equal(t, 1, store.Sweep())
	assert.Equal(t, 0, store.Len())
}

func TestTokenStoreSweepOnlyRemovesExpired(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(clock)

	store.Put("old", "https://scontent.cdninstagram.com/v/old.mp4")
	clock.Advance(20 * time.Minute)
	store.Put("new", "https://scontent.cdninstagram.com/v/new.mp4")
	clock.Advance(15 * time.Minute)

	assert.Equal(t, 1, store.Sweep())

	_, ok := store.Get("old")
	assert.False(t, ok)
	_, ok = store.Get("new")
	assert.True(t, ok)
}

func TestTokenStoreMaxEntriesEvictsOldest(t *testing.T) {
	clock := newFakeClock()
	store := NewTokenStore(TokenStoreOptions{MaxEntries: 2, Now: clock.Now})

	store.Put("a", "https://scontent.cdninstagram.com/v/a.mp4")
	clock.Advance(time.Second)
	store.Put("b", "https://scontent.cdninstagram.com/v/b.mp4")
	clock.Advance(time.Second)
	store.Put("c", "https://scontent.cdninstagram.com/v/c.mp4")

	assert.Equal(t, 2, store.Len())
	_, ok := store.Get("a")
	assert.False(t, ok)
	_, ok = store.Get("b")
	assert.True(t, ok)
	_, ok = store.Get("c")
	assert.True(t, ok)

	// Overwriting an existing token never evicts.
	store.Put("c", "https://scontent.cdninstagram.com/v/c2.mp4")
	assert.Equal(t, 2, store.Len())
	_, ok = store.Get("b")
	assert.True(t, ok)
}

func TestTokenStoreDefaults(t *testing.T) {
	store := NewTokenStore(TokenStoreOptions{})
	assert.Equal(t, 30*time.Minute, store.maxAge)
	assert.Equal(t, 5*time.Minute, store.sweepPeriod)
	assert.Equal(t, 0, store.maxEntries)
}

func TestTokenStoreBackgroundSweep(t *testing.T) {
	clock := newFakeClock()
	store := NewTokenStore(TokenStoreOptions{
		MaxAge:      time.Minute,
		SweepPeriod: 5 * time.Millisecond,
		Now:         clock.Now,
	})
	store.Put("abc", "https://scontent.cdninstagram.com/v/clip.mp4")
	clock.Advance(2 * time.Minute)

	store.Start()
	defer store.Stop()

	assert.Eventually(t, func() bool {
		return store.Len() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestTokenStoreStopIdempotent(t *testing.T) {
	store := NewTokenStore(TokenStoreOptions{SweepPeriod: time.Millisecond})
	store.Stop()

	store = NewTokenStore(TokenStoreOptions{SweepPeriod: time.Millisecond})
	store.Start()
	store.Start()
	store.Stop()
	store.Stop()
}

func TestTokenStoreConcurrentAccess(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(clock)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				token := fmt.Sprintf("t-%d-%d", i, j)
				store.Put(token, "https://scontent.cdninstagram.com/v/clip.mp4")
				store.Get(token)
				if j%2 == 0 {
					store.Delete(token)
				}
				if j%50 == 0 {
					store.Sweep()
				}
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 16*100, store.Len())
}

func TestNewTokenIsRandomUUID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token := NewToken()
		parsed, err := uuid.Parse(token)
		require.NoError(t, err)
		assert.Equal(t, uuid.Version(4), parsed.Version())
		assert.False(t, seen[token])
		seen[token] = true
	}
}
