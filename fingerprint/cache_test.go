package fingerprint

import (
	"testing"
	"time"
)

type fakeAdvice struct{ bytes int }

func (f fakeAdvice) Size() int { return f.bytes }

func TestAdviceCache_StoreLookup(t *testing.T) {
	c := NewAdviceCache(10, time.Hour, 1024)
	c.Store("fp1", fakeAdvice{bytes: 100})

	v, ok := c.Lookup("fp1")
	if !ok {
		t.Fatal("expected hit")
	}
	if v.(fakeAdvice).bytes != 100 {
		t.Fatalf("unexpected cached value: %+v", v)
	}
}

func TestAdviceCache_MissUnknownFingerprint(t *testing.T) {
	c := NewAdviceCache(10, time.Hour, 1024)
	if _, ok := c.Lookup("unknown"); ok {
		t.Fatal("expected miss")
	}
}

func TestAdviceCache_RejectsOversize(t *testing.T) {
	c := NewAdviceCache(10, time.Hour, 100)
	var rejectedFP string
	var rejectedBytes int
	c.OnReject(func(fp string, bytes int) {
		rejectedFP = fp
		rejectedBytes = bytes
	})

	c.Store("big", fakeAdvice{bytes: 500})

	if _, ok := c.Lookup("big"); ok {
		t.Fatal("expected oversize advice not to be cached")
	}
	if rejectedFP != "big" || rejectedBytes != 500 {
		t.Fatalf("expected onReject callback with (big, 500), got (%q, %d)", rejectedFP, rejectedBytes)
	}
}

func TestAdviceCache_ClearEmptiesCache(t *testing.T) {
	c := NewAdviceCache(10, time.Hour, 1024)
	c.Store("fp1", fakeAdvice{bytes: 10})
	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("expected empty cache after Clear, got len %d", c.Len())
	}
}
