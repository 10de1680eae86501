package binder

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
)

// DefaultMaxBodyBytes caps JSON request bodies unless JSON is given a limit.
const DefaultMaxBodyBytes int64 = 1 << 20

// JSON creates a JSON body binder. Requests without a body are not
// applicable, so GET routes can share a request type with POST routes.
// Unknown fields are rejected.
//
//	type CheckoutRequest struct {
//		Tier string `json:"tier"`
//		Mode string `json:"mode"`
//	}
//
//	r.Post("/checkout", handler.Wrap(h,
//		handler.WithBinders[handler.Context, CheckoutRequest](binder.JSON()),
//	))
func JSON(maxBytes ...int64) func(r *http.Request, v any) error {
	limit := DefaultMaxBodyBytes
	if len(maxBytes) > 0 && maxBytes[0] > 0 {
		limit = maxBytes[0]
	}

	return func(r *http.Request, v any) error {
		if r.Body == nil || r.Body == http.NoBody || r.ContentLength == 0 {
			return ErrBinderNotApplicable
		}

		contentType := r.Header.Get("Content-Type")
		if contentType == "" {
			return fmt.Errorf("%w: expected application/json", ErrMissingContentType)
		}
		mediaType, _, err := mime.ParseMediaType(contentType)
		if err != nil || mediaType != "application/json" {
			return fmt.Errorf("%w: got %s, expected application/json", ErrUnsupportedMediaType, contentType)
		}

		decoder := json.NewDecoder(io.LimitReader(r.Body, limit+1))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(v); err != nil {
			var syntaxErr *json.SyntaxError
			switch {
			case errors.Is(err, io.EOF):
				return fmt.Errorf("%w: empty body", ErrInvalidJSON)
			case errors.Is(err, io.ErrUnexpectedEOF), errors.As(err, &syntaxErr):
				return fmt.Errorf("%w: malformed body", ErrInvalidJSON)
			default:
				return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
			}
		}
		if decoder.InputOffset() > limit {
			return fmt.Errorf("%w: limit is %d bytes", ErrBodyTooLarge, limit)
		}

		var extra json.RawMessage
		if err := decoder.Decode(&extra); !errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: unexpected data after JSON object", ErrInvalidJSON)
		}
		return nil
	}
}
