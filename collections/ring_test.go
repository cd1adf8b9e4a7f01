package collections

import "testing"

func TestRing_PushNeverFails(t *testing.T) {
	r := NewRing(3)
	for i := 0; i < 100; i++ {
		r.Push(float64(i))
	}
	if len(r.Samples()) != 3 {
		t.Fatalf("expected ring capped at capacity 3, got %d", len(r.Samples()))
	}
}

func TestRing_OldestOverwritten(t *testing.T) {
	r := NewRing(3)
	r.Push(1)
	r.Push(2)
	r.Push(3)
	r.Push(4) // overwrites the 1

	samples := r.Samples()
	for _, s := range samples {
		if s == 1 {
			t.Fatal("expected oldest sample (1) to be overwritten")
		}
	}
}

func TestRing_Percentile(t *testing.T) {
	r := NewRing(100)
	for i := 1; i <= 100; i++ {
		r.Push(float64(i))
	}
	if p50 := r.Percentile(50); p50 < 49 || p50 > 52 {
		t.Errorf("expected p50 near 50, got %v", p50)
	}
	if p99 := r.Percentile(99); p99 < 98 {
		t.Errorf("expected p99 near 99, got %v", p99)
	}
}

func TestRing_EmptyPercentile(t *testing.T) {
	r := NewRing(10)
	if p := r.Percentile(50); p != 0 {
		t.Errorf("expected 0 for empty ring, got %v", p)
	}
}
