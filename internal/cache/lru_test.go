package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }

func TestLRUCache_Expiry(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := NewLRUCache[string](10, time.Minute).WithClock(clock.now)

	c.Set("a", "1")
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	clock.t = clock.t.Add(time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok, "entry must expire at its deadline")
	assert.Zero(t, c.Size())
}

func TestLRUCache_SetUntilCappedByTTL(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := NewLRUCache[int](10, time.Minute).WithClock(clock.now)

	c.SetUntil("short", 1, clock.t.Add(10*time.Second))
	c.SetUntil("long", 2, clock.t.Add(time.Hour))

	clock.t = clock.t.Add(30 * time.Second)
	_, ok := c.Get("short")
	assert.False(t, ok)
	_, ok = c.Get("long")
	assert.True(t, ok)

	clock.t = clock.t.Add(30 * time.Second)
	_, ok = c.Get("long")
	assert.False(t, ok, "ttl caps a later expiry")
}

func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRUCache[int](2, time.Hour)
	c.Set("a", 1)
	c.Set("b", 2)
	_, _ = c.Get("a")
	c.Set("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Size())

	c.Delete("a")
	assert.Equal(t, 1, c.Size())
}

func TestManager_Sweep(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := NewLRUCache[int](10, time.Minute).WithClock(clock.now)
	c.Set("a", 1)
	c.Set("b", 2)

	m := NewManager(nil)
	m.Register(c)
	assert.Zero(t, m.Sweep())

	clock.t = clock.t.Add(2 * time.Minute)
	assert.Equal(t, 2, m.Sweep())

	m.StartCleanup(time.Hour)
	m.Stop()
	m.Stop()
}
