package billing

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/dmitrymomot/tierkit/handler"
)

// AccountHeader is the default header carrying the caller's account id.
// Authentication happens upstream; this module only trusts what it is given.
const AccountHeader = "X-Account-ID"

var (
	ErrMissingAccount = errors.New("billing: account id missing")
	ErrInvalidAccount = errors.New("billing: account id is not a valid uuid")
)

// AccountResolver extracts the authenticated account id from a request.
type AccountResolver func(r *http.Request) (uuid.UUID, error)

// HeaderAccountResolver reads the account id from header.
func HeaderAccountResolver(header string) AccountResolver {
	return func(r *http.Request) (uuid.UUID, error) {
		raw := strings.TrimSpace(r.Header.Get(header))
		if raw == "" {
			return uuid.Nil, ErrMissingAccount
		}
		id, err := uuid.Parse(raw)
		if err != nil || id == uuid.Nil {
			return uuid.Nil, ErrInvalidAccount
		}
		return id, nil
	}
}

var accountKey = handler.NewContextKey("billing.account")

// WithAccountID stores id in ctx.
func WithAccountID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, accountKey, id)
}

// AccountIDFromContext returns the account id placed by RequireAccount.
func AccountIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	return handler.ContextValueOK[uuid.UUID](ctx, accountKey)
}

// RequireAccount resolves the caller's account and rejects requests without
// one with 401.
func RequireAccount(resolve AccountResolver) func(http.Handler) http.Handler {
	if resolve == nil {
		resolve = HeaderAccountResolver(AccountHeader)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := resolve(r)
			if err != nil {
				_ = handler.JSONError(handler.ErrUnauthorized.WithKey("account_required"),
					handler.WithErrorMessage(err.Error()),
				).Render(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAccountID(r.Context(), id)))
		})
	}
}

// accountID is only called behind RequireAccount.
func accountID(ctx context.Context) uuid.UUID {
	id, _ := AccountIDFromContext(ctx)
	return id
}
