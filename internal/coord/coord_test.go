package coord

import (
	"context"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequencerStartsAtZero(t *testing.T) {
	s := NewSequencer()
	assert.Equal(t, uint64(0), s.Current("day"))
	assert.True(t, s.IsCurrent("day", 0))

	assert.Equal(t, uint64(1), s.Next("day"))
	assert.Equal(t, uint64(2), s.Next("day"))
	assert.Equal(t, uint64(1), s.Next("week"))
	assert.False(t, s.IsCurrent("day", 1))
	assert.True(t, s.IsCurrent("day", 2))
	assert.True(t, s.IsCurrent("week", 1))
}

func TestSequencerLastIssuedWins(t *testing.T) {
	s := NewSequencer()
	const n = 20

	tickets := make([]uint64, n)
	for i := range tickets {
		tickets[i] = s.Next("day")
	}

	// complete in a random order; only the last ticket may apply
	order := rand.Perm(n)
	applied := 0
	var winner uint64
	for _, i := range order {
		if s.IsCurrent("day", tickets[i]) {
			applied++
			winner = tickets[i]
		}
	}
	assert.Equal(t, 1, applied)
	assert.Equal(t, uint64(n), winner)
}

func TestSequencerConcurrentNext(t *testing.T) {
	s := NewSequencer()
	var wg sync.WaitGroup
	seen := sync.Map{}
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok := s.Next("week")
			_, dup := seen.LoadOrStore(tok, true)
			assert.False(t, dup)
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(100), s.Current("week"))
}

func TestCancellerBeginSupersedes(t *testing.T) {
	c := NewCanceller()
	first := c.Begin(context.Background())
	second := c.Begin(context.Background())

	assert.True(t, first.Cancelled())
	assert.ErrorIs(t, first.Context().Err(), context.Canceled)
	assert.False(t, second.Cancelled())
	assert.False(t, c.IsActive(first))
	assert.True(t, c.IsActive(second))

	select {
	case <-first.Done():
	default:
		t.Fatal("first handle should be done")
	}
}

func TestCancellerFinishOfStaleHandleKeepsActive(t *testing.T) {
	c := NewCanceller()
	first := c.Begin(context.Background())
	second := c.Begin(context.Background())

	c.Finish(first)
	assert.True(t, c.IsActive(second))

	c.Finish(second)
	assert.False(t, c.IsActive(second))
	assert.True(t, second.Cancelled())
}

func TestCancellerCancelAll(t *testing.T) {
	c := NewCanceller()
	c.CancelAll() // nothing active

	h := c.Begin(context.Background())
	c.CancelAll()
	assert.True(t, h.Cancelled())
	assert.False(t, c.IsActive(h))
}

func TestCancellerConcurrentBeginLeavesOneActive(t *testing.T) {
	c := NewCanceller()
	handles := make([]*Handle, 50)
	var wg sync.WaitGroup
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i] = c.Begin(context.Background())
		}(i)
	}
	wg.Wait()

	active := 0
	for _, h := range handles {
		if !h.Cancelled() {
			active++
			assert.True(t, c.IsActive(h))
		}
	}
	assert.Equal(t, 1, active)
}

func TestGuard(t *testing.T) {
	g := NewGuard()
	require.True(t, g.TryAcquire("a1"))
	assert.False(t, g.TryAcquire("a1"))
	assert.Equal(t, 1, g.Len())
	assert.True(t, g.TryAcquire("a2"))

	g.Release("a1")
	g.Release("a1")
	assert.False(t, g.Held("a1"))
	assert.True(t, g.TryAcquire("a1"))
	assert.Equal(t, 2, g.Len())
}

func TestGuardConcurrentAcquireExactlyOnce(t *testing.T) {
	g := NewGuard()
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.TryAcquire("row-7") {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
