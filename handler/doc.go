// Package handler provides type-safe HTTP handlers for JSON APIs.
//
// A HandlerFunc receives a Context and a request value populated by binders,
// and returns a Response. Wrap turns it into an http.HandlerFunc:
//
//	type UsageRequest struct {
//		Quota  string `path:"quota"`
//		Amount int64  `json:"amount"`
//	}
//
//	h := func(ctx handler.Context, req UsageRequest) handler.Response {
//		res, err := limiter.Consume(ctx, accountID, tier.QuotaName(req.Quota), req.Amount)
//		if err != nil {
//			return handler.JSONError(err)
//		}
//		return handler.JSON(res)
//	}
//
//	r.Post("/usage/{quota}", handler.Wrap(h,
//		handler.WithBinders[handler.Context, UsageRequest](binder.Path(chi.URLParam), binder.JSON()),
//		handler.WithErrorHandler[handler.Context, UsageRequest](handler.NewErrorHandler[handler.Context](log)),
//	))
//
// Binding failures surface as ErrBadRequest. Responses that fail to render and
// handlers that return nil go to the configured ErrorHandler, which by default
// writes the HTTPError found in the chain or a 500.
package handler
