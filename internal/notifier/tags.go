package notifier

import (
	"container/list"
	"sync"
)

// TagCache maps group tags to a driver's handle for the message last shown
// under that tag. It holds at most max entries; storing a new tag past the
// cap evicts the least recently stored one.
//
// It is safe for concurrent use.
type TagCache[V any] struct {
	mu    sync.Mutex
	max   int
	order *list.List // front = oldest
	items map[string]*list.Element
}

type tagEntry[V any] struct {
	tag string
	val V
}

// NewTagCache returns a cache capped at max entries, or MaxNotifications when
// max <= 0.
func NewTagCache[V any](max int) *TagCache[V] {
	if max <= 0 {
		max = MaxNotifications
	}
	return &TagCache[V]{max: max, order: list.New(), items: map[string]*list.Element{}}
}

func (c *TagCache[V]) Get(tag string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[tag]; ok {
		return el.Value.(*tagEntry[V]).val, true
	}
	var zero V
	return zero, false
}

// Put stores val under tag and marks it most recent.
func (c *TagCache[V]) Put(tag string, val V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[tag]; ok {
		el.Value.(*tagEntry[V]).val = val
		c.order.MoveToBack(el)
		return
	}
	c.items[tag] = c.order.PushBack(&tagEntry[V]{tag: tag, val: val})
	for c.order.Len() > c.max {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*tagEntry[V]).tag)
	}
}

func (c *TagCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
