package safebrowsing

import (
	"testing"
	"time"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

func TestCacheExpiry(t *testing.T) {
	cache := NewCache()
	clock := &fakeClock{now: time.Unix(0, 0)}
	cache.WithClock(clock)

	verdict := Verdict{URL: "https://bad.test/", Status: StatusUnsafe, ThreatType: "MALWARE"}
	cache.Set(verdict.URL, verdict, 300*time.Second)

	got, ok := cache.Get(verdict.URL)
	if !ok || got.Status != StatusUnsafe {
		t.Fatalf("expected cached unsafe verdict, got %+v ok=%v", got, ok)
	}

	clock.now = clock.now.Add(301 * time.Second)
	if _, ok := cache.Get(verdict.URL); ok {
		t.Fatalf("expected verdict to expire")
	}
	if cache.Len() != 0 {
		t.Fatalf("expired entry should be dropped, len=%d", cache.Len())
	}
}

func TestCacheOverwrite(t *testing.T) {
	cache := NewCache()
	cache.Set("https://a.test/", Verdict{URL: "https://a.test/", Status: StatusUnsafe}, time.Minute)
	cache.Set("https://a.test/", Verdict{URL: "https://a.test/", Status: StatusSafe}, time.Minute)

	got, ok := cache.Get("https://a.test/")
	if !ok || got.Status != StatusSafe {
		t.Fatalf("expected fresher safe verdict, got %+v", got)
	}
}
