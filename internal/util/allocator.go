package util

import "sync"

// ChannelAllocator hands out channel numbers in [1, max]. Allocation walks
// forward from the last number handed out so a just-released channel is not
// reused immediately.
type ChannelAllocator struct {
	mu   sync.Mutex
	max  uint16
	next uint16
	used map[uint16]struct{}
}

// NewChannelAllocator creates an allocator bounded by the negotiated
// channel-max. Zero means no limit other than the 16 bit range.
func NewChannelAllocator(channelMax uint16) *ChannelAllocator {
	if channelMax == 0 {
		channelMax = 65535
	}
	return &ChannelAllocator{
		max:  channelMax,
		next: 1,
		used: make(map[uint16]struct{}),
	}
}

// Allocate returns a free channel number
func (a *ChannelAllocator) Allocate() (uint16, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.used) >= int(a.max) {
		return 0, false
	}

	ch := a.next
	for {
		if _, taken := a.used[ch]; !taken {
			break
		}
		ch = a.after(ch)
	}
	a.used[ch] = struct{}{}
	a.next = a.after(ch)
	return ch, true
}

func (a *ChannelAllocator) after(ch uint16) uint16 {
	if ch >= a.max {
		return 1
	}
	return ch + 1
}

// Reserve marks a specific channel number as in use
func (a *ChannelAllocator) Reserve(ch uint16) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if ch == 0 || ch > a.max {
		return false
	}
	if _, taken := a.used[ch]; taken {
		return false
	}
	a.used[ch] = struct{}{}
	return true
}

// Release returns a channel number to the pool
func (a *ChannelAllocator) Release(ch uint16) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, taken := a.used[ch]; !taken {
		return false
	}
	delete(a.used, ch)
	return true
}

// Available returns how many channel numbers are free
func (a *ChannelAllocator) Available() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return int(a.max) - len(a.used)
}

// Max returns the highest allocatable channel number
func (a *ChannelAllocator) Max() uint16 {
	return a.max
}
