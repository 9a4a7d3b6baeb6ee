package memory

import (
	"strings"
	"testing"
	"time"
)

func TestLRUTTLEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRUTTL[string, int](2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("expected a to be cached")
	}
	c.Set("c", 3)
	if _, ok := c.Get("b"); ok {
		t.Fatalf("expected b to be evicted")
	}
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("a = %v, %v; want 1, true", v, ok)
	}
	if c.Len() != 2 {
		t.Fatalf("len = %d, want 2", c.Len())
	}
}

func TestLRUTTLExpires(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewLRUTTL[string, int](4, time.Second)
	c.now = func() time.Time { return now }
	c.Set("a", 1)
	now = now.Add(2 * time.Second)
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected a to expire")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry still counted")
	}
}

func TestLRUTTLDeleteFunc(t *testing.T) {
	c := NewLRUTTL[string, int](8, time.Minute)
	c.Set("posts/1/d0", 1)
	c.Set("posts/1/d1", 2)
	c.Set("posts/2/d0", 3)
	n := c.DeleteFunc(func(k string) bool { return strings.HasPrefix(k, "posts/1/") })
	if n != 2 {
		t.Fatalf("deleted %d, want 2", n)
	}
	if _, ok := c.Get("posts/2/d0"); !ok {
		t.Fatalf("unrelated entry removed")
	}
}

func TestLRUTTLNilIsSafe(t *testing.T) {
	var c *LRUTTL[string, int]
	c.Set("a", 1)
	if _, ok := c.Get("a"); ok {
		t.Fatalf("nil cache returned a value")
	}
	c.Delete("a")
	c.Clear()
}
