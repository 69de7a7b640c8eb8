package cache

import "testing"

func TestGetMissThenHit(t *testing.T) {
	c := New(4)

	if _, ok := c.Get(1); ok {
		t.Fatalf("expected miss on empty cache")
	}
	c.Put(Page{ID: 1, Data: []byte("a")})
	if _, ok := c.Get(1); !ok {
		t.Fatalf("expected hit after Put")
	}

	stats := c.Statistics()
	if stats.Misses != 1 || stats.Hits != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestEvictionSkipsDirtyPages(t *testing.T) {
	c := New(2)

	c.Put(Page{ID: 1, Data: []byte("a"), Dirty: true})
	c.Put(Page{ID: 2, Data: []byte("b"), Dirty: false})
	c.Get(2) // reference bit set on 2

	// Both slots full; inserting a third page must evict page 2 (clean),
	// never page 1 (dirty).
	c.Put(Page{ID: 3, Data: []byte("c")})

	if _, ok := c.Get(1); !ok {
		t.Fatalf("dirty page 1 must never be evicted")
	}
	if _, ok := c.Get(3); !ok {
		t.Fatalf("expected newly inserted page 3 to be present")
	}
}

func TestRemove(t *testing.T) {
	c := New(3)
	c.Put(Page{ID: 1})
	c.Put(Page{ID: 2})
	c.Remove(1)

	if _, ok := c.Get(1); ok {
		t.Fatalf("expected page 1 to be removed")
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 page remaining, got %d", c.Len())
	}
}

func TestHitRate(t *testing.T) {
	c := New(1)
	c.Put(Page{ID: 1})
	c.Get(1)
	c.Get(2)

	stats := c.Statistics()
	if rate := stats.HitRate(); rate != 0.5 {
		t.Fatalf("expected hit rate 0.5, got %f", rate)
	}
}
