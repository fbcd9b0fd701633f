package pipeline

import (
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-pipeline/types"
)

// RouteValidator resolves the request to a registered route and binds the
// extracted path parameters. Runs last in the chain so user middleware can
// still rewrite the path before resolution.
type RouteValidator struct {
	logger types.Logger
	table  types.Router
}

func NewRouteValidator(table types.Router, logger types.Logger) *RouteValidator {
	return &RouteValidator{
		logger: logger,
		table:  table,
	}
}

// Logic is the "route-valid" built-in. An unknown route, or a route with no
// attached logic, answers 404 and halts.
func (v *RouteValidator) Logic() types.MiddlewareLogic {
	return func(ctx *types.RequestContext) bool {
		route, params := v.table.Lookup(ctx.Method, ctx.Path, ctx.Protocol, ctx.Endpoint)

		if route == nil || route.Logic == nil {
			v.logger.Debug("route not found",
				zap.String("method", ctx.Method),
				zap.String("path", ctx.Path),
			)
			ctx.Fail(fasthttp.StatusNotFound, types.ErrRouteNotFound)
			return false
		}

		ctx.Route = route
		ctx.Params = params
		return true
	}
}
