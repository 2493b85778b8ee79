package idcache

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRand() *rand.Rand {
	return rand.New(rand.NewSource(1))
}

func TestCache_GetEmpty(t *testing.T) {
	c := New(Products)

	_, ok := c.Get(newRand())

	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCache_GetReturnsMember(t *testing.T) {
	c := New(Products)
	c.Replace([]int{3, 5, 8})
	rng := newRand()

	for i := 0; i < 100; i++ {
		id, ok := c.Get(rng)
		require.True(t, ok)
		assert.Contains(t, []int{3, 5, 8}, id)
	}
}

func TestCache_ReplaceDiscardsPreviousContents(t *testing.T) {
	c := New(Carts)
	c.Replace([]int{1, 2, 3})
	c.Replace([]int{42})

	assert.Equal(t, []int{42}, c.Snapshot())
}

func TestCache_ReplaceCopiesInput(t *testing.T) {
	c := New(Users)
	ids := []int{7, 8}
	c.Replace(ids)
	ids[0] = 99

	assert.Equal(t, []int{7, 8}, c.Snapshot())
}

func TestCache_ReplaceWithEmptyClears(t *testing.T) {
	c := New(Users)
	c.Replace([]int{1})
	c.Replace(nil)

	assert.Equal(t, 0, c.Len())
}

func TestCache_SnapshotsNeverMixGenerations(t *testing.T) {
	c := New(Products)
	genA := make([]int, 50)
	genB := make([]int, 50)
	for i := range genA {
		genA[i] = 1000 + i
		genB[i] = 2000 + i
	}
	c.Replace(genA)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; ctx.Err() == nil; i++ {
				if (i+w)%2 == 0 {
					c.Replace(genA)
				} else {
					c.Replace(genB)
				}
			}
		}(w)
	}

	var mixed atomic.Int32
	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rng := rand.New(rand.NewSource(time.Now().UnixNano()))
			for ctx.Err() == nil {
				snap := c.Snapshot()
				if len(snap) != 50 {
					mixed.Add(1)
					continue
				}
				gen := snap[0] / 1000
				for _, id := range snap {
					if id/1000 != gen {
						mixed.Add(1)
						break
					}
				}
				if id, ok := c.Get(rng); !ok || (id/1000 != 1 && id/1000 != 2) {
					mixed.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, mixed.Load())
}

func TestCache_EnsurePopulated_FillsOnMiss(t *testing.T) {
	c := New(Products)
	var calls int

	err := c.EnsurePopulated(context.Background(), func(ctx context.Context) ([]int, error) {
		calls++
		return []int{4, 5}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []int{4, 5}, c.Snapshot())
}

func TestCache_EnsurePopulated_SkipsWhenPopulated(t *testing.T) {
	c := New(Products)
	c.Replace([]int{1})

	err := c.EnsurePopulated(context.Background(), func(ctx context.Context) ([]int, error) {
		t.Fatal("fetch must not run for a populated cache")
		return nil, nil
	})

	require.NoError(t, err)
}

func TestCache_EnsurePopulated_FetchErrorLeavesCacheEmpty(t *testing.T) {
	c := New(Users)
	boom := errors.New("connection refused")

	err := c.EnsurePopulated(context.Background(), func(ctx context.Context) ([]int, error) {
		return nil, boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())
}

func TestCache_EnsurePopulated_EmptyFetch(t *testing.T) {
	c := New(Users)

	err := c.EnsurePopulated(context.Background(), func(ctx context.Context) ([]int, error) {
		return []int{}, nil
	})

	assert.ErrorIs(t, err, ErrEmptyFetch)
	assert.Equal(t, 0, c.Len())
}

func TestCache_EnsurePopulated_ConcurrentMissesShareOneFetch(t *testing.T) {
	c := New(Products)
	var calls atomic.Int32
	fetch := func(ctx context.Context) ([]int, error) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		return []int{1, 2, 3}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.EnsurePopulated(context.Background(), fetch))
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, 3, c.Len())
}

func TestCache_EnsurePopulated_FirstCallerCancelDoesNotFailWaiters(t *testing.T) {
	c := New(Carts)
	started := make(chan struct{})
	release := make(chan struct{})
	var fetchErr error
	fetch := func(ctx context.Context) ([]int, error) {
		close(started)
		<-release
		fetchErr = ctx.Err()
		return []int{77}, nil
	}

	first, cancel := context.WithCancel(context.Background())
	firstDone := make(chan error, 1)
	go func() { firstDone <- c.EnsurePopulated(first, fetch) }()
	<-started

	secondDone := make(chan error, 1)
	go func() { secondDone <- c.EnsurePopulated(context.Background(), fetch) }()
	cancel()
	close(release)

	assert.NoError(t, <-firstDone)
	assert.NoError(t, <-secondDone)
	assert.NoError(t, fetchErr)
	assert.Equal(t, []int{77}, c.Snapshot())
}

func TestCache_PickOr_EmptyUsesFallbackRange(t *testing.T) {
	c := New(Products)
	rng := newRand()

	for i := 0; i < 1000; i++ {
		id := c.PickOr(rng, DefaultFallback)
		assert.True(t, DefaultFallback.Contains(id), "id %d outside fallback range", id)
	}
}

func TestFallback_Pick(t *testing.T) {
	rng := newRand()
	seen := make(map[int]bool)
	f := Fallback{Min: 1, Max: 3}
	for i := 0; i < 300; i++ {
		seen[f.Pick(rng)] = true
	}

	assert.Equal(t, map[int]bool{1: true, 2: true, 3: true}, seen)
	assert.Equal(t, 5, Fallback{Min: 5, Max: 5}.Pick(rng))
}

func TestSet_Stats(t *testing.T) {
	s := NewSet()
	s.Products.Replace([]int{1, 2})
	s.Carts.Replace([]int{9})

	assert.Equal(t, map[Kind]int{Products: 2, Users: 0, Carts: 1}, s.Stats())
	assert.Equal(t, Carts, s.Carts.Kind())
}
