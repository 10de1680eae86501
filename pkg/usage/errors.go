package usage

import "errors"

var (
	ErrUnknownQuota    = errors.New("usage: quota not defined for tier")
	ErrInvalidAmount   = errors.New("usage: amount must be positive")
	ErrStoreFailure    = errors.New("usage: counter store failure")
	ErrTierUnavailable = errors.New("usage: failed to resolve account tier")
)
