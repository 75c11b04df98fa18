package userid

import (
	"context"
	"fmt"
	"sync"

	"github.com/novafi/novafi/internal/domain"
)

type periodCounter struct {
	mu    sync.Mutex
	value int
}

// MemoryAllocator keeps counters in process memory. It is only safe for a single
// instance and backs tests and dev mode.
type MemoryAllocator struct {
	mu       sync.Mutex
	counters map[string]*periodCounter
}

// NewMemoryAllocator builds an empty in-memory allocator.
func NewMemoryAllocator() *MemoryAllocator {
	return &MemoryAllocator{counters: make(map[string]*periodCounter)}
}

func (a *MemoryAllocator) counter(key string) *periodCounter {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.counters[key]
	if !ok {
		c = &periodCounter{}
		a.counters[key] = c
	}
	return c
}

// Allocate issues the next identifier for period, locking only that period.
func (a *MemoryAllocator) Allocate(_ context.Context, period Period) (string, error) {
	if !period.valid() {
		return "", fmt.Errorf("invalid period %v/%d", period.Month, period.Year)
	}
	c := a.counter(period.Key())
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.value >= MaxSequence {
		return "", fmt.Errorf("%w: %s", domain.ErrCapacityExhausted, period.Key())
	}
	c.value++
	return Format(period, c.value), nil
}

// Current returns the last issued sequence for period.
func (a *MemoryAllocator) Current(_ context.Context, period Period) (int, error) {
	c := a.counter(period.Key())
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, nil
}

// Seed sets the counter for a period. Test helper.
func (a *MemoryAllocator) Seed(period Period, value int) {
	c := a.counter(period.Key())
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = value
}
