package util

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelAllocatorBasic(t *testing.T) {
	alloc := NewChannelAllocator(10)

	ch1, ok := alloc.Allocate()
	require.True(t, ok)
	assert.Equal(t, uint16(1), ch1)

	ch2, ok := alloc.Allocate()
	require.True(t, ok)
	assert.Equal(t, uint16(2), ch2)

	assert.True(t, alloc.Release(ch1))
	assert.False(t, alloc.Release(ch1), "double release")

	// Allocation continues forward rather than reusing 1 at once.
	ch3, ok := alloc.Allocate()
	require.True(t, ok)
	assert.Equal(t, uint16(3), ch3)
}

func TestChannelAllocatorExhaustion(t *testing.T) {
	alloc := NewChannelAllocator(5)

	for i := 1; i <= 5; i++ {
		ch, ok := alloc.Allocate()
		require.True(t, ok, "allocation %d", i)
		assert.Equal(t, uint16(i), ch)
	}

	_, ok := alloc.Allocate()
	assert.False(t, ok, "should fail when exhausted")
	assert.Zero(t, alloc.Available())

	require.True(t, alloc.Release(3))
	ch, ok := alloc.Allocate()
	require.True(t, ok)
	assert.Equal(t, uint16(3), ch, "wraps around to the only free number")
}

func TestChannelAllocatorReserve(t *testing.T) {
	alloc := NewChannelAllocator(3)

	assert.True(t, alloc.Reserve(1))
	assert.False(t, alloc.Reserve(1), "already reserved")
	assert.False(t, alloc.Reserve(0), "channel 0 is the connection")
	assert.False(t, alloc.Reserve(4), "above channel-max")

	ch, ok := alloc.Allocate()
	require.True(t, ok)
	assert.Equal(t, uint16(2), ch)
}

func TestChannelAllocatorUnlimited(t *testing.T) {
	alloc := NewChannelAllocator(0)
	assert.Equal(t, uint16(65535), alloc.Max())
	assert.True(t, alloc.Reserve(65535))
}

func TestChannelAllocatorConcurrent(t *testing.T) {
	alloc := NewChannelAllocator(1000)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[uint16]bool)
	)
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				ch, ok := alloc.Allocate()
				if !ok {
					t.Error("allocation failed")
					return
				}
				mu.Lock()
				if seen[ch] {
					t.Errorf("channel %d allocated twice", ch)
				}
				seen[ch] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 1000)
	assert.Zero(t, alloc.Available())
}

func BenchmarkChannelAllocator(b *testing.B) {
	alloc := NewChannelAllocator(2047)
	for i := 0; i < b.N; i++ {
		ch, _ := alloc.Allocate()
		alloc.Release(ch)
	}
}
