package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestBucketAllowsBurstThenBlocks(t *testing.T) {
	bucket := NewBucket(Config{RequestsPerSecond: 1, BurstSize: 3})

	for i := 0; i < 3; i++ {
		if !bucket.Allow() {
			t.Fatalf("request %d within burst denied", i)
		}
	}
	if bucket.Allow() {
		t.Fatal("request beyond burst allowed")
	}
	if bucket.WaitTime() <= 0 {
		t.Fatal("exhausted bucket reports zero wait")
	}
}

func TestBucketRefills(t *testing.T) {
	bucket := NewBucket(Config{RequestsPerSecond: 100, BurstSize: 1})

	if !bucket.Allow() {
		t.Fatal("first request denied")
	}
	if bucket.Allow() {
		t.Fatal("second immediate request allowed")
	}
	time.Sleep(20 * time.Millisecond)
	if !bucket.Allow() {
		t.Fatal("request after refill window denied")
	}
}

func TestBucketWaitRespectsContext(t *testing.T) {
	bucket := NewBucket(Config{RequestsPerSecond: 0.001, BurstSize: 1})
	bucket.Allow() // drain

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := bucket.Wait(ctx); err == nil {
		t.Fatal("Wait returned before token was available")
	}
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 1, BurstSize: 1, Enabled: true})

	if !limiter.Allow("user-1") {
		t.Fatal("first request for user-1 denied")
	}
	if limiter.Allow("user-1") {
		t.Fatal("second request for user-1 allowed")
	}
	if !limiter.Allow("user-2") {
		t.Fatal("user-2 throttled by user-1's bucket")
	}
}

func TestLimiterDisabled(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 1, BurstSize: 1, Enabled: false})
	for i := 0; i < 10; i++ {
		if !limiter.Allow("anyone") {
			t.Fatal("disabled limiter denied a request")
		}
	}
}
