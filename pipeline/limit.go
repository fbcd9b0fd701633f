package pipeline

import (
	"context"
	"hash/fnv"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-pipeline/metrics"
	"github.com/saiset-co/sai-pipeline/types"
)

const (
	limitShardCount = 128
	limitMaxRetry   = 3

	// AnyAddress marks a rule that budgets every client individually
	// instead of sharing one counter.
	AnyAddress = "*"
)

// RateLimiter tracks request counts per configured IP or subnet inside a
// fixed window. Rule precedence is most-specific-match-wins: an exact IP
// rule beats a containing subnet rule, longer subnet prefixes beat shorter
// ones, and the catch-all rule applies only when nothing else matched.
type RateLimiter struct {
	ctx         context.Context
	logger      types.Logger
	metrics     *metrics.Pipeline
	rules       atomic.Pointer[limitRules]
	stopCleanup chan struct{}
	workerGroup sync.WaitGroup
	shutdown    int32
}

type limitRules struct {
	exact    map[string]*limitRule
	subnets  []*limitRule
	catchAll *limitRule
}

type limitRule struct {
	address string
	subnet  *net.IPNet
	prefix  int
	limit   int64
	window  int64

	// counter serves exact and subnet rules; every address contained in a
	// subnet rule increments the same counter. The catch-all rule tracks
	// clients separately in shards.
	counter windowCounter
	shards  []*limitShard
}

type limitShard struct {
	clients map[string]*windowCounter
	mu      sync.RWMutex
}

type windowCounter struct {
	windowStart int64
	counter     int64
	lastAccess  int64
}

func NewRateLimiter(ctx context.Context, config *types.LimitConfig, logger types.Logger, m *metrics.Pipeline) (*RateLimiter, error) {
	rl := &RateLimiter{
		ctx:         ctx,
		logger:      logger,
		metrics:     m,
		stopCleanup: make(chan struct{}),
	}

	if err := rl.Update(config); err != nil {
		return nil, err
	}

	rl.workerGroup.Add(1)
	go rl.cleanupWorker()

	return rl, nil
}

// Update compiles the rule list and publishes it atomically. Counters
// restart from zero when rules are replaced.
func (rl *RateLimiter) Update(config *types.LimitConfig) error {
	rules := &limitRules{
		exact: make(map[string]*limitRule),
	}

	if config != nil && config.Enabled {
		for _, rc := range config.Rules {
			rule, err := compileLimitRule(rc)
			if err != nil {
				return err
			}

			switch {
			case rule.address == AnyAddress:
				rules.catchAll = rule
			case rule.subnet != nil:
				rules.subnets = append(rules.subnets, rule)
			default:
				rules.exact[rule.address] = rule
			}
		}

		sort.SliceStable(rules.subnets, func(i, j int) bool {
			return rules.subnets[i].prefix > rules.subnets[j].prefix
		})
	}

	rl.rules.Store(rules)
	return nil
}

func compileLimitRule(rc types.LimitRule) (*limitRule, error) {
	address := strings.TrimSpace(rc.Address)
	if address == "" || rc.Limit < 1 {
		return nil, types.Errorf(types.ErrLimitRuleInvalid, "address %q limit %d", rc.Address, rc.Limit)
	}

	window := rc.Window.Std()
	if window <= 0 {
		window = time.Minute
	}

	rule := &limitRule{
		address: address,
		limit:   rc.Limit,
		window:  int64(window),
	}

	switch {
	case address == AnyAddress || strings.EqualFold(address, "all"):
		rule.address = AnyAddress
		rule.shards = make([]*limitShard, limitShardCount)
		for i := range rule.shards {
			rule.shards[i] = &limitShard{clients: make(map[string]*windowCounter, 64)}
		}
	case strings.ContainsRune(address, '/'):
		_, subnet, err := net.ParseCIDR(address)
		if err != nil {
			return nil, types.Errorf(types.ErrLimitRuleInvalid, "subnet %q: %v", address, err)
		}
		rule.subnet = subnet
		rule.prefix, _ = subnet.Mask.Size()
	default:
		ip := net.ParseIP(address)
		if ip == nil {
			return nil, types.Errorf(types.ErrLimitRuleInvalid, "address %q", address)
		}
		rule.address = ip.String()
	}

	return rule, nil
}

// Logic is the "limit" built-in. Over-budget requests answer 429 and halt.
func (rl *RateLimiter) Logic() types.MiddlewareLogic {
	return func(ctx *types.RequestContext) bool {
		allowed, rule := rl.Allow(ctx.RemoteAddr)
		if allowed {
			return true
		}

		rl.metrics.ObserveLimitRejected()
		rl.logger.Debug("rate limit exceeded",
			zap.String("remote_addr", ctx.RemoteAddr),
			zap.String("rule", rule.address),
		)

		retryAfter := int(time.Duration(rule.window) / time.Second)
		if retryAfter < 1 {
			retryAfter = 1
		}
		ctx.Raw.Response.Header.Set("Retry-After", strconv.Itoa(retryAfter))
		ctx.Raw.Response.Header.Set("X-RateLimit-Limit", strconv.FormatInt(rule.limit, 10))

		ctx.Fail(fasthttp.StatusTooManyRequests, types.ErrRateLimitExceeded)
		return false
	}
}

// Allow increments the counter of the most specific rule matching addr and
// reports whether the request stays inside the budget. Addresses matching
// no rule are unlimited.
func (rl *RateLimiter) Allow(addr string) (bool, *limitRule) {
	rules := rl.rules.Load()
	now := time.Now().UnixNano()

	if rule, ok := rules.exact[addr]; ok {
		return rule.allowShared(now), rule
	}

	if len(rules.subnets) > 0 || rules.catchAll != nil {
		ip := net.ParseIP(addr)
		if ip != nil {
			for _, rule := range rules.subnets {
				if rule.subnet.Contains(ip) {
					return rule.allowShared(now), rule
				}
			}
		}
		if rules.catchAll != nil {
			return rules.catchAll.allowClient(addr, now), rules.catchAll
		}
	}

	return true, nil
}

func (r *limitRule) allowShared(now int64) bool {
	return allowCounter(&r.counter, r.limit, r.window, now, 0)
}

func (r *limitRule) allowClient(addr string, now int64) bool {
	shard := r.shards[shardIndex(addr)]

	shard.mu.RLock()
	counter, exists := shard.clients[addr]
	shard.mu.RUnlock()

	if !exists {
		fresh := &windowCounter{counter: 1, windowStart: now, lastAccess: now}

		shard.mu.Lock()
		if existing, ok := shard.clients[addr]; ok {
			shard.mu.Unlock()
			return allowCounter(existing, r.limit, r.window, now, 0)
		}
		shard.clients[addr] = fresh
		shard.mu.Unlock()
		return true
	}

	return allowCounter(counter, r.limit, r.window, now, 0)
}

// allowCounter rolls the window with a CAS so concurrent workers never lose
// an increment; the retry bound keeps a pathological race from spinning.
func allowCounter(wc *windowCounter, limit, window, now int64, attempt int) bool {
	atomic.StoreInt64(&wc.lastAccess, now)

	windowStart := atomic.LoadInt64(&wc.windowStart)
	if now-windowStart > window {
		stale := atomic.LoadInt64(&wc.counter)
		if atomic.CompareAndSwapInt64(&wc.windowStart, windowStart, now) {
			// Subtract the stale count instead of storing over it:
			// increments from workers that already entered the new
			// window must survive the reset.
			return atomic.AddInt64(&wc.counter, 1-stale) <= limit
		}
		if attempt >= limitMaxRetry {
			return false
		}
		return allowCounter(wc, limit, window, now, attempt+1)
	}

	return atomic.AddInt64(&wc.counter, 1) <= limit
}

func shardIndex(addr string) int {
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(addr))
	return int(hasher.Sum32() & (limitShardCount - 1))
}

func (rl *RateLimiter) cleanupWorker() {
	defer rl.workerGroup.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.ctx.Done():
			return
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanup evicts catch-all client counters idle for over an hour.
func (rl *RateLimiter) cleanup() {
	rules := rl.rules.Load()
	if rules.catchAll == nil {
		return
	}

	cutoff := time.Now().UnixNano() - int64(time.Hour)

	for _, shard := range rules.catchAll.shards {
		shard.mu.Lock()
		for addr, counter := range shard.clients {
			if atomic.LoadInt64(&counter.lastAccess) < cutoff {
				delete(shard.clients, addr)
			}
		}
		shard.mu.Unlock()
	}
}

func (rl *RateLimiter) Stop() error {
	if !atomic.CompareAndSwapInt32(&rl.shutdown, 0, 1) {
		return nil
	}

	close(rl.stopCleanup)

	done := make(chan struct{})
	go func() {
		rl.workerGroup.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(5 * time.Second):
		rl.logger.Warn("rate limiter stop timeout")
		return types.NewErrorf("timeout waiting for rate limiter workers")
	}
}
