package gateway

import (
	"testing"
	"time"
)

func TestLoginLimiter_WindowBoundary(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := newLoginLimiter(10)
	l.now = func() time.Time { return now }

	for i := 0; i < 10; i++ {
		if _, ok := l.Allow("203.0.113.7"); !ok {
			t.Fatalf("attempt %d denied, want allowed", i+1)
		}
	}
	retry, ok := l.Allow("203.0.113.7")
	if ok {
		t.Fatal("11th attempt allowed, want denied")
	}
	if retry <= 0 || retry > time.Minute {
		t.Errorf("retry = %v, want within (0, 1m]", retry)
	}

	// The first attempt after the window boundary goes through.
	now = now.Add(time.Minute)
	if _, ok := l.Allow("203.0.113.7"); !ok {
		t.Fatal("attempt after window denied, want allowed")
	}
}

func TestLoginLimiter_KeysAreIndependent(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := newLoginLimiter(1)
	l.now = func() time.Time { return now }

	if _, ok := l.Allow("a"); !ok {
		t.Fatal("first attempt for a denied")
	}
	if _, ok := l.Allow("a"); ok {
		t.Fatal("second attempt for a allowed, want denied")
	}
	if _, ok := l.Allow("b"); !ok {
		t.Fatal("first attempt for b denied")
	}
}

func TestLoginLimiter_ZeroConfigUsesDefault(t *testing.T) {
	l := newLoginLimiter(0)
	if l.max != defaultLoginPerMinute {
		t.Fatalf("max = %d, want %d", l.max, defaultLoginPerMinute)
	}
}
