package types

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigIsNil          = errors.New("config is nil")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrServerNotRunning     = errors.New("server not running")
	ErrServerAlreadyRunning = errors.New("server already running")
	ErrServerStartFailed    = errors.New("server start failed")
	ErrServerStopFailed     = errors.New("server stop failed")
)

var (
	ErrMiddlewareDuplicateName = errors.New("middleware duplicate name")
	ErrMiddlewareLogicIsNil    = errors.New("middleware logic is nil")
	ErrMiddlewareEntryIsNil    = errors.New("middleware entry is nil")
	ErrRouteNotFound           = errors.New("route not found")
	ErrRouteLogicIsNil         = errors.New("route logic is nil")
	ErrRoutePatternInvalid     = errors.New("route pattern invalid")
	ErrAccessDenied            = errors.New("access denied")
	ErrRateLimitExceeded       = errors.New("rate limit exceeded")
	ErrBodyParseFailed         = errors.New("body parse failed")
	ErrQueryParseFailed        = errors.New("query parse failed")
)

var (
	ErrAccessRuleInvalid = errors.New("access rule invalid")
	ErrLimitRuleInvalid  = errors.New("limit rule invalid")
	ErrStaticRootMissing = errors.New("static root missing")
)

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func NewErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}
