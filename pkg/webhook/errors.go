package webhook

import "errors"

var (
	ErrInvalidConfiguration = errors.New("webhook: invalid configuration")
	ErrInvalidPayload       = errors.New("webhook: invalid payload")
	ErrPermanentFailure     = errors.New("webhook: permanent delivery failure")
	ErrTemporaryFailure     = errors.New("webhook: temporary delivery failure")
	ErrCircuitOpen          = errors.New("webhook: circuit open")
	ErrInvalidSignature     = errors.New("webhook: invalid signature")
)
