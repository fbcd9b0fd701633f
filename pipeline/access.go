package pipeline

import (
	"net"
	"strings"
	"sync/atomic"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-pipeline/metrics"
	"github.com/saiset-co/sai-pipeline/types"
)

// AccessPolicy evaluates request source addresses against allow/deny rule
// sets. A deny match always rejects; a non-empty allow list admits only the
// addresses it covers; with no allow list, unlisted addresses pass.
type AccessPolicy struct {
	logger  types.Logger
	metrics *metrics.Pipeline
	rules   atomic.Pointer[accessRules]
}

type accessRules struct {
	allowIPs map[string]struct{}
	allowNet []*net.IPNet
	denyIPs  map[string]struct{}
	denyNet  []*net.IPNet
	hasAllow bool
}

func NewAccessPolicy(config *types.AccessConfig, logger types.Logger, m *metrics.Pipeline) (*AccessPolicy, error) {
	a := &AccessPolicy{
		logger:  logger,
		metrics: m,
	}

	if err := a.Update(config); err != nil {
		return nil, err
	}

	return a, nil
}

// Update parses the rule lists and publishes them atomically. Request
// workers in flight keep the snapshot they started with.
func (a *AccessPolicy) Update(config *types.AccessConfig) error {
	rules := &accessRules{
		allowIPs: make(map[string]struct{}),
		denyIPs:  make(map[string]struct{}),
	}

	if config != nil {
		var err error
		rules.allowIPs, rules.allowNet, err = parseAddressList(config.Allow)
		if err != nil {
			return types.WrapError(err, "invalid allow list")
		}

		rules.denyIPs, rules.denyNet, err = parseAddressList(config.Deny)
		if err != nil {
			return types.WrapError(err, "invalid deny list")
		}

		rules.hasAllow = len(rules.allowIPs) > 0 || len(rules.allowNet) > 0
	}

	a.rules.Store(rules)
	return nil
}

// Logic is the "access" built-in. Rejections answer 403 and halt the chain.
func (a *AccessPolicy) Logic() types.MiddlewareLogic {
	return func(ctx *types.RequestContext) bool {
		if a.Permitted(ctx.RemoteAddr) {
			return true
		}

		a.metrics.ObserveAccessRejected()
		a.logger.Debug("access denied",
			zap.String("remote_addr", ctx.RemoteAddr),
			zap.String("path", ctx.Path),
		)

		ctx.Fail(fasthttp.StatusForbidden, types.ErrAccessDenied)
		return false
	}
}

// Permitted reports whether addr passes the current rule set. Addresses
// that do not parse are rejected.
func (a *AccessPolicy) Permitted(addr string) bool {
	rules := a.rules.Load()

	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}

	if _, denied := rules.denyIPs[ip.String()]; denied {
		return false
	}
	for _, subnet := range rules.denyNet {
		if subnet.Contains(ip) {
			return false
		}
	}

	if !rules.hasAllow {
		return true
	}

	if _, allowed := rules.allowIPs[ip.String()]; allowed {
		return true
	}
	for _, subnet := range rules.allowNet {
		if subnet.Contains(ip) {
			return true
		}
	}

	return false
}

func parseAddressList(entries []string) (map[string]struct{}, []*net.IPNet, error) {
	ips := make(map[string]struct{})
	var subnets []*net.IPNet

	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if strings.ContainsRune(entry, '/') {
			_, subnet, err := net.ParseCIDR(entry)
			if err != nil {
				return nil, nil, types.Errorf(types.ErrAccessRuleInvalid, "subnet %q: %v", entry, err)
			}
			subnets = append(subnets, subnet)
			continue
		}

		ip := net.ParseIP(entry)
		if ip == nil {
			return nil, nil, types.Errorf(types.ErrAccessRuleInvalid, "address %q", entry)
		}
		ips[ip.String()] = struct{}{}
	}

	return ips, subnets, nil
}
