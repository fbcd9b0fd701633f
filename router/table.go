package router

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/saiset-co/sai-pipeline/types"
)

type segmentKind uint8

const (
	segmentLiteral segmentKind = iota
	segmentParam
	segmentWildcard
)

type segment struct {
	kind  segmentKind
	value string
}

// WildcardParam is the params key the trailing-wildcard remainder is bound
// under.
const WildcardParam = "*"

type compiledRoute struct {
	route    *types.Route
	segments []segment
	wildcard bool
}

type snapshot struct {
	// static holds literal-only patterns keyed by method+path for O(1) hits;
	// routes keeps registration order for everything else.
	static map[string]*compiledRoute
	routes []*compiledRoute
}

// Table is the route table. Patterns are compiled once at registration and
// published copy-and-swap, so lookups never take a lock.
type Table struct {
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
}

func NewTable() *Table {
	t := &Table{}
	t.snap.Store(&snapshot{static: make(map[string]*compiledRoute)})
	return t
}

func (t *Table) Add(route *types.Route) error {
	if route == nil {
		return types.NewErrorf("route is nil")
	}
	if route.Method == "" {
		route.Method = types.WildcardMethod
	}

	segments, wildcard, err := compilePattern(route.Pattern)
	if err != nil {
		return err
	}

	compiled := &compiledRoute{
		route:    route,
		segments: segments,
		wildcard: wildcard,
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	old := t.snap.Load()

	next := &snapshot{
		static: make(map[string]*compiledRoute, len(old.static)+1),
		routes: make([]*compiledRoute, 0, len(old.routes)+1),
	}
	for k, v := range old.static {
		next.static[k] = v
	}
	next.routes = append(next.routes, old.routes...)
	next.routes = append(next.routes, compiled)

	if isStatic(segments, wildcard) && route.Protocol == "" && route.Endpoint == "" {
		next.static[staticKey(route.Method, route.Pattern)] = compiled
	}

	t.snap.Store(next)
	return nil
}

// Lookup resolves a request tuple to a route. An exact method match wins;
// a route registered with the wildcard method is the fallback.
func (t *Table) Lookup(method, path, protocol, endpoint string) (*types.Route, map[string]string) {
	snap := t.snap.Load()

	if cr, ok := snap.static[staticKey(method, path)]; ok {
		return cr.route, nil
	}

	parts := splitPath(path)

	if route, params := match(snap.routes, method, parts, protocol, endpoint); route != nil {
		return route, params
	}
	if method != types.WildcardMethod {
		return match(snap.routes, types.WildcardMethod, parts, protocol, endpoint)
	}

	return nil, nil
}

func (t *Table) Routes() []*types.Route {
	snap := t.snap.Load()
	routes := make([]*types.Route, 0, len(snap.routes))
	for _, cr := range snap.routes {
		routes = append(routes, cr.route)
	}
	return routes
}

func match(routes []*compiledRoute, method string, parts []string, protocol, endpoint string) (*types.Route, map[string]string) {
	for _, cr := range routes {
		if cr.route.Method != method {
			continue
		}
		if cr.route.Protocol != "" && !strings.EqualFold(cr.route.Protocol, protocol) {
			continue
		}
		if cr.route.Endpoint != "" && !strings.EqualFold(cr.route.Endpoint, endpoint) {
			continue
		}
		if params, ok := matchSegments(cr, parts); ok {
			return cr.route, params
		}
	}
	return nil, nil
}

func matchSegments(cr *compiledRoute, parts []string) (map[string]string, bool) {
	segments := cr.segments

	if !cr.wildcard && len(parts) != len(segments) {
		return nil, false
	}
	if cr.wildcard && len(parts) < len(segments)-1 {
		return nil, false
	}

	var params map[string]string

	for i, seg := range segments {
		switch seg.kind {
		case segmentLiteral:
			if parts[i] != seg.value {
				return nil, false
			}
		case segmentParam:
			if parts[i] == "" {
				return nil, false
			}
			if params == nil {
				params = make(map[string]string, 4)
			}
			params[seg.value] = parts[i]
		case segmentWildcard:
			if params == nil {
				params = make(map[string]string, 1)
			}
			params[WildcardParam] = strings.Join(parts[i:], "/")
			return params, true
		}
	}

	return params, true
}

func compilePattern(pattern string) ([]segment, bool, error) {
	if pattern == "" || pattern[0] != '/' {
		return nil, false, types.Errorf(types.ErrRoutePatternInvalid, "pattern %q must start with /", pattern)
	}

	parts := splitPath(pattern)
	segments := make([]segment, 0, len(parts))
	wildcard := false

	for i, part := range parts {
		switch {
		case part == "*":
			if i != len(parts)-1 {
				return nil, false, types.Errorf(types.ErrRoutePatternInvalid, "wildcard must be the last segment in %q", pattern)
			}
			wildcard = true
			segments = append(segments, segment{kind: segmentWildcard})
		case strings.HasPrefix(part, ":"):
			name := part[1:]
			if name == "" {
				return nil, false, types.Errorf(types.ErrRoutePatternInvalid, "empty placeholder name in %q", pattern)
			}
			segments = append(segments, segment{kind: segmentParam, value: name})
		default:
			segments = append(segments, segment{kind: segmentLiteral, value: part})
		}
	}

	return segments, wildcard, nil
}

func isStatic(segments []segment, wildcard bool) bool {
	if wildcard {
		return false
	}
	for _, seg := range segments {
		if seg.kind != segmentLiteral {
			return false
		}
	}
	return true
}

func staticKey(method, path string) string {
	return method + " " + path
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
