package types

// MiddlewareLogic inspects or mutates the request context and reports
// whether the chain should continue. Returning false short-circuits the
// chain for this request.
type MiddlewareLogic func(ctx *RequestContext) bool

// MiddlewareEntry is one registered unit of the chain. Entries are
// immutable once registered; Options is exposed to Logic through the
// context's transient options slot at invocation time.
type MiddlewareEntry struct {
	Name    string
	Route   string
	Logic   MiddlewareLogic
	Options interface{}
}
