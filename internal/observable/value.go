// Package observable holds single-writer state cells whose changes are
// broadcast, in order, to any number of subscribers.
package observable

import "sync"

// Value is a state cell. Every subscriber sees the value current at
// subscription time followed by every later change, in order.
type Value[T comparable] struct {
	mu   sync.Mutex
	v    T
	subs map[int]*Queue[T]
	next int
}

// NewValue creates a cell holding initial.
func NewValue[T comparable](initial T) *Value[T] {
	return &Value[T]{
		v:    initial,
		subs: make(map[int]*Queue[T]),
	}
}

// Get returns the current value.
func (c *Value[T]) Get() T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.v
}

// Set stores v and notifies subscribers. Setting the current value is a
// no-op and returns false.
func (c *Value[T]) Set(v T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.v == v {
		return false
	}
	c.v = v
	for _, q := range c.subs {
		q.Push(v)
	}
	return true
}

// CompareAndSet stores v only if the current value equals old.
func (c *Value[T]) CompareAndSet(old, v T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.v != old || old == v {
		return false
	}
	c.v = v
	for _, q := range c.subs {
		q.Push(v)
	}
	return true
}

// Subscribe returns a channel of values and a function that ends the
// subscription. The channel is closed once the subscription ends.
func (c *Value[T]) Subscribe() (<-chan T, func()) {
	q := NewQueue[T]()

	c.mu.Lock()
	id := c.next
	c.next++
	c.subs[id] = q
	q.Push(c.v)
	c.mu.Unlock()

	var once sync.Once
	return q.Out(), func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
			q.Close()
		})
	}
}
