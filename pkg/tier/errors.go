package tier

import "errors"

var (
	ErrUnknownTier          = errors.New("tier: unknown tier")
	ErrUnknownPrice         = errors.New("tier: no tier for price reference")
	ErrInvalidConfiguration = errors.New("tier: invalid catalog configuration")
	ErrFailedToLoad         = errors.New("tier: failed to load tiers")
)
