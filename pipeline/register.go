package pipeline

import (
	"strings"

	"github.com/saiset-co/sai-pipeline/types"
)

// Register validates and appends a pre-built entry to the chain. The entry
// must carry Logic; a missing Route defaults to the root pattern. Once the
// chain has been finalized new entries are inserted ahead of the trailing
// route validator so they still run before route resolution.
func (c *Chain) Register(entry *types.MiddlewareEntry) error {
	if entry == nil {
		return types.ErrMiddlewareEntryIsNil
	}
	if entry.Logic == nil {
		return types.Errorf(types.ErrMiddlewareLogicIsNil, "entry %q", entry.Name)
	}

	entry.Route = NormalizeRoute(entry.Route)

	c.mu.Lock()
	defer c.mu.Unlock()

	current := *c.entries.Load()

	if entry.Name != "" {
		for _, existing := range current {
			if existing.Name == entry.Name {
				return types.Errorf(types.ErrMiddlewareDuplicateName, "%q", entry.Name)
			}
		}
	}

	next := make([]*types.MiddlewareEntry, 0, len(current)+1)

	if c.finalized.Load() && len(current) > 0 && current[len(current)-1].Name == InbuiltRouteValid {
		next = append(next, current[:len(current)-1]...)
		next = append(next, entry, current[len(current)-1])
	} else {
		next = append(next, current...)
		next = append(next, entry)
	}

	c.entries.Store(&next)
	return nil
}

// RegisterLogic builds an entry from its parts and registers it. When
// returnOnly is set the entry is handed back without touching the chain,
// for callers that place it themselves.
func (c *Chain) RegisterLogic(name, route string, logic types.MiddlewareLogic, options interface{}, returnOnly bool) (*types.MiddlewareEntry, error) {
	if logic == nil {
		return nil, types.Errorf(types.ErrMiddlewareLogicIsNil, "entry %q", name)
	}

	entry := &types.MiddlewareEntry{
		Name:    name,
		Route:   NormalizeRoute(route),
		Logic:   logic,
		Options: options,
	}

	if returnOnly {
		return entry, nil
	}

	if err := c.Register(entry); err != nil {
		return nil, err
	}

	return entry, nil
}

// TakeInbuilt resolves the logic for a built-in slot. A pre-registered
// entry with the same name overrides the default: it is removed from the
// chain and returned, so exactly one entry per name survives once the
// caller re-inserts it at its final position.
func (c *Chain) TakeInbuilt(name string, defaultLogic types.MiddlewareLogic) *types.MiddlewareEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := *c.entries.Load()

	for i, existing := range current {
		if existing.Name != name {
			continue
		}

		next := make([]*types.MiddlewareEntry, 0, len(current)-1)
		next = append(next, current[:i]...)
		next = append(next, current[i+1:]...)
		c.entries.Store(&next)

		return existing
	}

	return &types.MiddlewareEntry{
		Name:  name,
		Route: "/",
		Logic: defaultLogic,
	}
}

func (c *Chain) setEntries(entries []*types.MiddlewareEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Store(&entries)
}

// NormalizeRoute canonicalizes a middleware route pattern: the query-string
// portion is stripped, duplicate and trailing slashes are collapsed, an
// empty pattern becomes the root, and brace placeholders are rewritten into
// the matcher's colon syntax.
func NormalizeRoute(route string) string {
	if idx := strings.IndexByte(route, '?'); idx >= 0 {
		route = route[:idx]
	}

	route = strings.TrimSpace(route)
	if route == "" {
		return "/"
	}

	if !strings.HasPrefix(route, "/") {
		route = "/" + route
	}

	for strings.Contains(route, "//") {
		route = strings.ReplaceAll(route, "//", "/")
	}

	if len(route) > 1 {
		route = strings.TrimRight(route, "/")
		if route == "" {
			route = "/"
		}
	}

	route = strings.ReplaceAll(route, "{", ":")
	route = strings.ReplaceAll(route, "}", "")

	return route
}
