package types

// RouteLogic is the application handler attached to a route. It runs only
// after the middleware chain completed without a short-circuit.
type RouteLogic func(ctx *RequestContext)

// WildcardMethod registers a route for any HTTP method; an exact method
// match always wins over it.
const WildcardMethod = "*"

type Route struct {
	Method   string
	Pattern  string
	Protocol string
	Endpoint string
	Logic    RouteLogic
}

type Router interface {
	Add(route *Route) error
	Lookup(method, path, protocol, endpoint string) (*Route, map[string]string)
	Routes() []*Route
}
