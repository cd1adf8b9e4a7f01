package collections

import "testing"

func TestBoundedSet_AddHasDelete(t *testing.T) {
	s := NewBoundedSet(10)
	s.Add("a")
	if !s.Has("a") {
		t.Fatal("expected a to be a member")
	}
	s.Delete("a")
	if s.Has("a") {
		t.Fatal("expected a removed")
	}
}

func TestBoundedSet_LRUEviction(t *testing.T) {
	s := NewBoundedSet(2)
	s.Add("a")
	s.Add("b")
	s.Add("c") // evicts "a"

	if s.Has("a") {
		t.Fatal("expected a evicted as least-recently-used")
	}
	if s.Size() != 2 {
		t.Fatalf("expected size 2, got %d", s.Size())
	}
}

func TestBoundedSet_ReAddRefreshesRecency(t *testing.T) {
	s := NewBoundedSet(2)
	s.Add("a")
	s.Add("b")
	s.Add("a") // refresh a's recency
	s.Add("c") // should now evict "b", not "a"

	if !s.Has("a") {
		t.Fatal("expected a to survive due to refreshed recency")
	}
	if s.Has("b") {
		t.Fatal("expected b evicted")
	}
}
