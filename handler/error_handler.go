package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/tierkit/pkg/logger"
	"github.com/dmitrymomot/tierkit/pkg/requestid"
)

// ErrorClassifier maps a domain error to the HTTPError it should surface as.
// It returns false when it does not recognise err.
type ErrorClassifier func(err error) (HTTPError, bool)

// NewErrorHandler returns an ErrorHandler that writes JSON error bodies and
// logs the failure with the request ID. Classifiers are tried in order before
// falling back to any HTTPError already in the chain.
func NewErrorHandler[C Context](log *slog.Logger, classifiers ...ErrorClassifier) ErrorHandler[C] {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(logger.Component("error_handler"))

	return func(ctx C, err error) {
		r := ctx.Request()
		status := Classify(err, classifiers...)

		level := slog.LevelError
		if status.Code < http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		log.LogAttrs(r.Context(), level, "request error",
			logger.RequestID(requestid.FromContext(r.Context())),
			logger.Error(err),
			slog.Int("status_code", status.Code),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)

		if rerr := JSONError(status).Render(ctx.ResponseWriter(), r); rerr != nil {
			log.ErrorContext(r.Context(), "failed to render error response", logger.Error(rerr))
		}
	}
}

// Classify resolves err to the HTTPError it should be reported as.
func Classify(err error, classifiers ...ErrorClassifier) HTTPError {
	for _, c := range classifiers {
		if httpErr, ok := c(err); ok {
			return httpErr
		}
	}
	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}
	return ErrInternalServerError
}
