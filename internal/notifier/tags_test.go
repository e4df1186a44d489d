package notifier

import (
	"fmt"
	"testing"
)

func TestTagCacheEvictsOldest(t *testing.T) {
	c := NewTagCache[int](3)
	for i := 0; i < 3; i++ {
		c.Put(fmt.Sprintf("t%d", i), i)
	}
	// Refreshing t0 makes t1 the oldest.
	c.Put("t0", 10)
	c.Put("t3", 3)

	if c.Len() != 3 {
		t.Fatalf("len = %d, want 3", c.Len())
	}
	if _, ok := c.Get("t1"); ok {
		t.Fatal("t1 should have been evicted")
	}
	if v, ok := c.Get("t0"); !ok || v != 10 {
		t.Fatalf("t0 = %d, %v", v, ok)
	}
	for _, tag := range []string{"t2", "t3"} {
		if _, ok := c.Get(tag); !ok {
			t.Fatalf("%s missing", tag)
		}
	}
}

func TestTagCacheDefaultCap(t *testing.T) {
	c := NewTagCache[string](0)
	for i := 0; i < MaxNotifications+25; i++ {
		c.Put(fmt.Sprint(i), "ref")
	}
	if c.Len() != MaxNotifications {
		t.Fatalf("len = %d, want %d", c.Len(), MaxNotifications)
	}
	if _, ok := c.Get("0"); ok {
		t.Fatal("oldest tag survived past the cap")
	}
}
