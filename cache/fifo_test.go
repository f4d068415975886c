package cache

import (
	"testing"
	"time"
)

func TestFIFOTTL(t *testing.T) {
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	c := NewFIFO[string](5*time.Minute, 10)
	c.Now = func() time.Time { return now }

	c.Set("wiki_go", "Go is a language")
	if v, ok := c.Get("wiki_go"); !ok || v != "Go is a language" {
		t.Fatalf("Get = %q,%v want hit", v, ok)
	}

	now = now.Add(5*time.Minute - time.Second)
	if _, ok := c.Get("wiki_go"); !ok {
		t.Fatal("expected hit just before TTL")
	}

	now = now.Add(time.Second)
	if _, ok := c.Get("wiki_go"); ok {
		t.Fatal("expected miss at TTL boundary")
	}
}

func TestFIFOEvictsOldestInserted(t *testing.T) {
	c := NewFIFO[int](time.Hour, 2)
	c.Set("a", 1)
	c.Set("b", 2)
	// reading "a" must not protect it: eviction is FIFO, not LRU
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected a present")
	}
	c.Set("c", 3)

	if _, ok := c.Get("a"); ok {
		t.Error("a should have been evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("b should remain")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("c should be present")
	}
}

func TestFIFOResetMovesToBack(t *testing.T) {
	c := NewFIFO[int](time.Hour, 2)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", 10)
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted after a was re-set")
	}
	if v, ok := c.Get("a"); !ok || v != 10 {
		t.Errorf("a = %d,%v want 10,true", v, ok)
	}
}
