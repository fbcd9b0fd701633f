package pipeline

import (
	"context"

	"github.com/saiset-co/sai-pipeline/metrics"
	"github.com/saiset-co/sai-pipeline/router"
	"github.com/saiset-co/sai-pipeline/types"
)

// Reserved names of the built-in middleware slots. Registering an entry
// under one of these names before Setup replaces the built-in's logic.
const (
	InbuiltAccess     = "access"
	InbuiltLimit      = "limit"
	InbuiltPublic     = "public"
	InbuiltBody       = "body"
	InbuiltQuery      = "query"
	InbuiltRouteValid = "route-valid"
)

// Pipeline assembles the chain, the route table, and the built-in
// middleware into one request-processing unit.
type Pipeline struct {
	logger  types.Logger
	metrics *metrics.Pipeline
	chain   *Chain
	table   *router.Table

	access  *AccessPolicy
	limiter *RateLimiter
	static  *StaticResolver
	body    *BodyDecoder
	query   *QueryDecoder
	valid   *RouteValidator
}

func New(ctx context.Context, config types.ConfigManager, logger types.Logger, m *metrics.Pipeline) (*Pipeline, error) {
	cfg := config.GetConfig()
	if cfg == nil {
		return nil, types.ErrConfigIsNil
	}

	table := router.NewTable()

	access, err := NewAccessPolicy(cfg.Access, logger, m)
	if err != nil {
		return nil, types.WrapError(err, "failed to build access policy")
	}

	limiter, err := NewRateLimiter(ctx, cfg.Limit, logger, m)
	if err != nil {
		return nil, types.WrapError(err, "failed to build rate limiter")
	}

	static, err := NewStaticResolver(cfg.Static, logger, m)
	if err != nil {
		return nil, types.WrapError(err, "failed to build static resolver")
	}

	return &Pipeline{
		logger:  logger,
		metrics: m,
		chain:   NewChain(logger, m),
		table:   table,
		access:  access,
		limiter: limiter,
		static:  static,
		body:    NewBodyDecoder(logger),
		query:   NewQueryDecoder(logger),
		valid:   NewRouteValidator(table, logger),
	}, nil
}

// Setup finalizes the chain: built-ins take their slots in canonical order
// (access, limit, public, body, query), user entries registered so far keep
// their relative order after them, and the route validator closes the
// chain. Same-named user entries override the corresponding built-in.
func (p *Pipeline) Setup() {
	inbuilts := []*types.MiddlewareEntry{
		p.chain.TakeInbuilt(InbuiltAccess, p.access.Logic()),
		p.chain.TakeInbuilt(InbuiltLimit, p.limiter.Logic()),
		p.chain.TakeInbuilt(InbuiltPublic, p.static.Logic()),
		p.chain.TakeInbuilt(InbuiltBody, p.body.Logic()),
		p.chain.TakeInbuilt(InbuiltQuery, p.query.Logic()),
	}
	routeValid := p.chain.TakeInbuilt(InbuiltRouteValid, p.valid.Logic())

	user := p.chain.Snapshot()

	final := make([]*types.MiddlewareEntry, 0, len(inbuilts)+len(user)+1)
	final = append(final, inbuilts...)
	final = append(final, user...)
	final = append(final, routeValid)

	p.chain.setEntries(final)
	p.chain.finalized.Store(true)
}

// Handle runs the chain for one request and, when it completes without a
// short-circuit, dispatches the resolved route's logic.
func (p *Pipeline) Handle(ctx *types.RequestContext) {
	if !p.chain.RunAll(ctx, ctx.Path) {
		return
	}

	if ctx.Route != nil && ctx.Route.Logic != nil {
		ctx.Route.Logic(ctx)
	}
}

func (p *Pipeline) Chain() *Chain {
	return p.chain
}

func (p *Pipeline) Router() types.Router {
	return p.table
}

func (p *Pipeline) Access() *AccessPolicy {
	return p.access
}

func (p *Pipeline) Limiter() *RateLimiter {
	return p.limiter
}

func (p *Pipeline) Stop() error {
	return p.limiter.Stop()
}
