package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-pipeline/types"
)

func newTestLimiter(t *testing.T, rules ...types.LimitRule) *RateLimiter {
	t.Helper()

	rl, err := NewRateLimiter(context.Background(), &types.LimitConfig{
		Enabled: true,
		Rules:   rules,
	}, newTestLogger(), nil)
	if err != nil {
		t.Fatalf("failed to build limiter: %v", err)
	}
	t.Cleanup(func() { _ = rl.Stop() })

	return rl
}

func TestLimitRejectsOverBudget(t *testing.T) {
	rl := newTestLimiter(t, types.LimitRule{
		Address: "10.0.0.1",
		Limit:   3,
		Window:  types.Duration(time.Minute),
	})

	for i := 0; i < 3; i++ {
		if allowed, _ := rl.Allow("10.0.0.1"); !allowed {
			t.Fatalf("request %d rejected inside the budget", i+1)
		}
	}

	if allowed, _ := rl.Allow("10.0.0.1"); allowed {
		t.Fatal("4th request inside the window must be rejected")
	}

	if allowed, _ := rl.Allow("10.0.0.2"); !allowed {
		t.Fatal("unlisted address must not be limited")
	}
}

func TestLimitWindowReset(t *testing.T) {
	rl := newTestLimiter(t, types.LimitRule{
		Address: "10.0.0.1",
		Limit:   1,
		Window:  types.Duration(50 * time.Millisecond),
	})

	if allowed, _ := rl.Allow("10.0.0.1"); !allowed {
		t.Fatal("first request rejected")
	}
	if allowed, _ := rl.Allow("10.0.0.1"); allowed {
		t.Fatal("second request inside the window must be rejected")
	}

	time.Sleep(80 * time.Millisecond)

	if allowed, _ := rl.Allow("10.0.0.1"); !allowed {
		t.Fatal("counter must reset after the window elapses")
	}
}

func TestLimitSubnetSharesCounter(t *testing.T) {
	rl := newTestLimiter(t, types.LimitRule{
		Address: "10.0.0.0/24",
		Limit:   2,
		Window:  types.Duration(time.Minute),
	})

	if allowed, _ := rl.Allow("10.0.0.1"); !allowed {
		t.Fatal("first request rejected")
	}
	if allowed, _ := rl.Allow("10.0.0.2"); !allowed {
		t.Fatal("second request rejected")
	}
	if allowed, _ := rl.Allow("10.0.0.3"); allowed {
		t.Fatal("subnet counter must be shared across contained addresses")
	}
}

func TestLimitMostSpecificRuleWins(t *testing.T) {
	rl := newTestLimiter(t,
		types.LimitRule{Address: "10.0.0.0/24", Limit: 1, Window: types.Duration(time.Minute)},
		types.LimitRule{Address: "10.0.0.5", Limit: 5, Window: types.Duration(time.Minute)},
		types.LimitRule{Address: "10.0.0.0/16", Limit: 1, Window: types.Duration(time.Minute)},
	)

	// Exact rule applies even though two subnets contain the address.
	for i := 0; i < 5; i++ {
		if allowed, rule := rl.Allow("10.0.0.5"); !allowed || rule.address != "10.0.0.5" {
			t.Fatalf("request %d: allowed=%v rule=%v, want exact rule", i+1, allowed, rule)
		}
	}

	// The /24 beats the /16 for other addresses inside both.
	if _, rule := rl.Allow("10.0.0.9"); rule.address != "10.0.0.0/24" {
		t.Fatalf("rule = %v, want the longer prefix", rule.address)
	}
}

func TestLimitCatchAllTracksClientsSeparately(t *testing.T) {
	rl := newTestLimiter(t, types.LimitRule{
		Address: AnyAddress,
		Limit:   1,
		Window:  types.Duration(time.Minute),
	})

	if allowed, _ := rl.Allow("10.0.0.1"); !allowed {
		t.Fatal("first client rejected")
	}
	if allowed, _ := rl.Allow("10.0.0.2"); !allowed {
		t.Fatal("catch-all must budget each client separately")
	}
	if allowed, _ := rl.Allow("10.0.0.1"); allowed {
		t.Fatal("second request from the same client must be rejected")
	}
}

func TestLimitConcurrentIncrementsAreAtomic(t *testing.T) {
	const limit = 50
	const workers = 20
	const perWorker = 10

	rl := newTestLimiter(t, types.LimitRule{
		Address: "10.0.0.1",
		Limit:   limit,
		Window:  types.Duration(time.Minute),
	})

	// Establish the window first so the workers race only on the counter.
	var allowed int64 = 1
	if ok, _ := rl.Allow("10.0.0.1"); !ok {
		t.Fatal("priming request rejected")
	}

	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if ok, _ := rl.Allow("10.0.0.1"); ok {
					atomic.AddInt64(&allowed, 1)
				}
			}
		}()
	}
	wg.Wait()

	if allowed != limit {
		t.Fatalf("allowed %d requests under concurrency, want exactly %d", allowed, limit)
	}
}

func TestLimitWindowRollDiscardsStaleCount(t *testing.T) {
	const limit = 3
	window := int64(time.Minute)
	now := time.Now().UnixNano()

	// Counter exhausted in a window that has since expired.
	wc := &windowCounter{windowStart: now - 2*window, counter: 7}

	for i := 0; i < limit; i++ {
		if !allowCounter(wc, limit, window, now, 0) {
			t.Fatalf("request %d rejected, stale count must not leak into the new window", i+1)
		}
	}
	if allowCounter(wc, limit, window, now, 0) {
		t.Fatal("budget must still be enforced after the roll")
	}
}

func TestLimitWindowRollUnderContention(t *testing.T) {
	const limit = 3
	const workers = 16
	window := int64(time.Minute)
	now := time.Now().UnixNano()

	// Every worker observes the expired window at once, so one wins the
	// roll and the rest must land their increments on the fresh counter.
	wc := &windowCounter{windowStart: now - 2*window, counter: 40}

	var allowed int64
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if allowCounter(wc, limit, window, now, 0) {
				atomic.AddInt64(&allowed, 1)
			}
		}()
	}
	wg.Wait()

	if allowed != limit {
		t.Fatalf("allowed %d requests across the roll, want exactly %d", allowed, limit)
	}
}

func TestLimitLogicSets429(t *testing.T) {
	rl := newTestLimiter(t, types.LimitRule{
		Address: "10.0.0.1",
		Limit:   1,
		Window:  types.Duration(time.Minute),
	})

	logic := rl.Logic()

	ctx := newTestContext("GET", "/", "10.0.0.1")
	if !logic(ctx) {
		t.Fatal("first request rejected")
	}

	ctx = newTestContext("GET", "/", "10.0.0.1")
	if logic(ctx) {
		t.Fatal("expected rejection")
	}
	if got := ctx.Status(); got != fasthttp.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", got, fasthttp.StatusTooManyRequests)
	}
	if got := string(ctx.Raw.Response.Header.Peek("Retry-After")); got == "" {
		t.Fatal("Retry-After header missing on rejection")
	}
}

func TestLimitInvalidRule(t *testing.T) {
	_, err := NewRateLimiter(context.Background(), &types.LimitConfig{
		Enabled: true,
		Rules:   []types.LimitRule{{Address: "bogus", Limit: 1}},
	}, newTestLogger(), nil)
	if !types.IsError(err, types.ErrLimitRuleInvalid) {
		t.Fatalf("expected invalid rule error, got %v", err)
	}
}
