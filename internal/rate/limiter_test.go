package rate

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestKeyed_Allow(t *testing.T) {
	limiter := New(10.0, 5)

	for i := 0; i < 5; i++ {
		if !limiter.Allow("nominatim.openstreetmap.org") {
			t.Errorf("expected burst request %d allowed", i+1)
		}
	}
	if limiter.Allow("nominatim.openstreetmap.org") {
		t.Error("expected limit after burst")
	}
	if !limiter.Allow("geocode.local") {
		t.Error("expected separate bucket for another upstream")
	}
}

func TestKeyed_Wait(t *testing.T) {
	limiter := New(100.0, 1)

	start := time.Now()
	if err := limiter.Wait(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	if err := limiter.Wait(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	if d := time.Since(start); d < 5*time.Millisecond {
		t.Errorf("expected Wait to delay, got %v", d)
	}
}

func TestKeyed_WaitHonoursContext(t *testing.T) {
	limiter := New(0.001, 1)
	_ = limiter.Allow("slow")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := limiter.Wait(ctx, "slow"); err == nil {
		t.Error("expected context error")
	}
}

func TestKeyed_Concurrent(t *testing.T) {
	limiter := New(1000.0, 10)
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Allow("shared") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed == 0 || allowed > 15 {
		t.Errorf("expected roughly the burst to pass, got %d", allowed)
	}
	if limiter.Len() != 1 {
		t.Errorf("expected one bucket, got %d", limiter.Len())
	}
}
