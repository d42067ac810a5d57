package ratelimit

import (
	"testing"
	"time"
)

func TestLimiterBurst(t *testing.T) {
	l := NewLimiter(1, 5)

	for i := 0; i < 5; i++ {
		if !l.Allow() {
			t.Fatalf("Request %d within burst should be allowed", i)
		}
	}
	if l.Allow() {
		t.Error("Request beyond burst should be denied")
	}
}

func TestLimiterRefill(t *testing.T) {
	l := NewLimiter(100, 1)

	if !l.Allow() {
		t.Fatal("First request should be allowed")
	}
	if l.Allow() {
		t.Fatal("Bucket should be empty")
	}

	time.Sleep(50 * time.Millisecond)

	if !l.Allow() {
		t.Error("Bucket should refill over time")
	}
}

func TestClientLimitersShared(t *testing.T) {
	cl := NewClientLimiters(10, 20)
	defer cl.Stop()

	a := cl.Get("10.0.0.1:1234")
	b := cl.Get("10.0.0.1:1234")
	if a != b {
		t.Error("Same key should share one limiter")
	}

	c := cl.Get("10.0.0.2:1234")
	if a == c {
		t.Error("Different keys should get different limiters")
	}
}
