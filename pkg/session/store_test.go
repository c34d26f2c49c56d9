package session

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(ttl time.Duration) *Store {
	return NewStore(ttl)
}

func TestStore_PutTake(t *testing.T) {
	store := newTestStore(15 * time.Minute)

	sess := Session{
		ID:        uuid.New().String(),
		Utterance: "how many sales",
		Intent:    "specific",
		SQL:       "SELECT COUNT(*) FROM sales",
		CreatedAt: time.Now(),
	}
	store.Put(sess)
	assert.Equal(t, 1, store.Len())

	got, ok := store.Take(sess.ID)
	require.True(t, ok)
	assert.Equal(t, sess.SQL, got.SQL)
	assert.Equal(t, 0, store.Len())

	t.Run("second take misses", func(t *testing.T) {
		_, ok := store.Take(sess.ID)
		assert.False(t, ok)
	})
}

func TestStore_TakeUnknown(t *testing.T) {
	store := newTestStore(15 * time.Minute)
	_, ok := store.Take("no-such-session")
	assert.False(t, ok)
}

func TestStore_PutReplaces(t *testing.T) {
	store := newTestStore(15 * time.Minute)

	id := uuid.New().String()
	store.Put(Session{ID: id, SQL: "SELECT 1", CreatedAt: time.Now()})
	store.Put(Session{ID: id, SQL: "SELECT 2", CreatedAt: time.Now()})
	assert.Equal(t, 1, store.Len())

	got, ok := store.Take(id)
	require.True(t, ok)
	assert.Equal(t, "SELECT 2", got.SQL)
}

func TestStore_Expiry(t *testing.T) {
	store := newTestStore(15 * time.Minute)

	now := time.Now()
	store.now = func() time.Time { return now }

	id := uuid.New().String()
	store.Put(Session{ID: id, SQL: "SELECT 1", CreatedAt: now})

	t.Run("fresh session is returned", func(t *testing.T) {
		got, ok := store.Take(id)
		require.True(t, ok)
		assert.Equal(t, "SELECT 1", got.SQL)
	})

	t.Run("expired session misses and is evicted", func(t *testing.T) {
		store.Put(Session{ID: id, SQL: "SELECT 1", CreatedAt: now})
		store.now = func() time.Time { return now.Add(16 * time.Minute) }

		_, ok := store.Take(id)
		assert.False(t, ok)
		assert.Equal(t, 0, store.Len())
	})
}

func TestStore_Sweep(t *testing.T) {
	store := newTestStore(15 * time.Minute)

	now := time.Now()
	store.now = func() time.Time { return now }

	store.Put(Session{ID: "old", CreatedAt: now.Add(-20 * time.Minute)})
	store.Put(Session{ID: "fresh", CreatedAt: now})

	removed := store.sweep()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, store.Len())

	_, ok := store.Take("fresh")
	assert.True(t, ok)
}

// Concurrent takes of the same id must hand the session to exactly one
// caller; everyone else observes a miss.
func TestStore_ConcurrentTake(t *testing.T) {
	store := newTestStore(15 * time.Minute)

	id := uuid.New().String()
	store.Put(Session{ID: id, SQL: "SELECT 1", CreatedAt: time.Now()})

	const callers = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := store.Take(id); ok {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	assert.Equal(t, 1, count)
}
