package pipeline

import (
	"regexp"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-pipeline/metrics"
	"github.com/saiset-co/sai-pipeline/types"
	"github.com/saiset-co/sai-pipeline/utils"
)

// Chain holds the ordered middleware list. The list is published through an
// atomic pointer: request workers read a consistent snapshot while the rare
// administrative Register call copies and swaps it under the mutex.
type Chain struct {
	logger    types.Logger
	metrics   *metrics.Pipeline
	entries   atomic.Pointer[[]*types.MiddlewareEntry]
	mu        sync.Mutex
	finalized atomic.Bool
	filters   sync.Map
}

func NewChain(logger types.Logger, m *metrics.Pipeline) *Chain {
	c := &Chain{
		logger:  logger,
		metrics: m,
	}
	empty := make([]*types.MiddlewareEntry, 0)
	c.entries.Store(&empty)
	return c
}

// Snapshot returns the currently published entry list. Callers must treat
// it as read-only.
func (c *Chain) Snapshot() []*types.MiddlewareEntry {
	return *c.entries.Load()
}

// RunAll executes the published chain against the request.
func (c *Chain) RunAll(ctx *types.RequestContext, routeFilter string) bool {
	return c.Run(ctx, c.Snapshot(), routeFilter)
}

// Run executes entries strictly in order, reduced first to the subsequence
// applicable to routeFilter. The first entry to return false, or to panic,
// stops the chain; a panic is absorbed here as a 500 and never propagates.
func (c *Chain) Run(ctx *types.RequestContext, entries []*types.MiddlewareEntry, routeFilter string) bool {
	if len(entries) == 0 {
		return true
	}

	for _, entry := range entries {
		if entry == nil || entry.Logic == nil {
			continue
		}
		if routeFilter != "" && !c.routeApplies(entry.Route, routeFilter) {
			continue
		}

		if !c.invoke(ctx, entry) {
			c.metrics.ObserveHalt(entryLabel(entry))
			return false
		}
	}

	return true
}

func (c *Chain) invoke(ctx *types.RequestContext, entry *types.MiddlewareEntry) (result bool) {
	start := time.Now()

	defer func() {
		ctx.ClearOptions()
		c.metrics.ObserveMiddleware(entryLabel(entry), start)

		if rec := recover(); rec != nil {
			c.logPanic(ctx, entry, rec)
			ctx.Fail(fasthttp.StatusInternalServerError, types.NewErrorf("middleware %s failed: %v", entryLabel(entry), rec))
			result = false
		}
	}()

	ctx.SetOptions(entry.Options)
	return entry.Logic(ctx)
}

// routeApplies implements the filter rule: an empty or root Route always
// applies; otherwise the Route must equal the filter case-insensitively or,
// treated as a regular expression anchored at both ends, match it.
func (c *Chain) routeApplies(route, filter string) bool {
	if route == "" || route == "/" {
		return true
	}
	if strings.EqualFold(route, filter) {
		return true
	}

	re := c.compileFilter(route)
	if re == nil {
		return false
	}
	return re.MatchString(filter)
}

// compileFilter caches one compiled regexp per distinct Route pattern. A
// Route that is not a valid regexp compiles to nil and only ever matches
// by the equality rules above.
func (c *Chain) compileFilter(route string) *regexp.Regexp {
	if cached, ok := c.filters.Load(route); ok {
		if cached == nil {
			return nil
		}
		return cached.(*regexp.Regexp)
	}

	re, err := regexp.Compile("^(?i:" + route + ")$")
	if err != nil {
		c.filters.Store(route, nil)
		return nil
	}

	c.filters.Store(route, re)
	return re
}

func (c *Chain) logPanic(ctx *types.RequestContext, entry *types.MiddlewareEntry, rec interface{}) {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)

	c.logger.Error("middleware panic recovered",
		zap.String("middleware", entryLabel(entry)),
		zap.String("method", ctx.Method),
		zap.String("path", ctx.Path),
		zap.String("remote_addr", ctx.RemoteAddr),
		zap.String("request_id", ctx.RequestID),
		zap.Any("panic", rec),
		zap.String("stack", utils.BytesToString(buf[:n])),
	)
}

func entryLabel(entry *types.MiddlewareEntry) string {
	if entry.Name != "" {
		return entry.Name
	}
	return "anonymous"
}
