package handler_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tierkit/binder"
	"github.com/dmitrymomot/tierkit/handler"
	"github.com/dmitrymomot/tierkit/pkg/logger"
)

type echoRequest struct {
	Name string `json:"name"`
}

var errDomain = errors.New("domain failure")

func decode(t *testing.T, rec *httptest.ResponseRecorder) handler.JSONResponse {
	t.Helper()
	var body handler.JSONResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestWrap(t *testing.T) {
	t.Parallel()

	errHandler := handler.NewErrorHandler[handler.Context](logger.Noop(), func(err error) (handler.HTTPError, bool) {
		if errors.Is(err, errDomain) {
			return handler.ErrConflict.WithKey("domain_conflict"), true
		}
		return handler.HTTPError{}, false
	})

	h := handler.Wrap[handler.Context, echoRequest](func(ctx handler.Context, req echoRequest) handler.Response {
		switch req.Name {
		case "conflict":
			return handler.JSONError(errDomain)
		case "nil":
			return nil
		}
		return handler.JSON(map[string]string{"hello": req.Name}, handler.WithJSONHeader("X-Test", "1"))
	},
		handler.WithBinders[handler.Context, echoRequest](binder.JSON()),
		handler.WithErrorHandler[handler.Context, echoRequest](errHandler),
	)

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		h(rec, req)
		return rec
	}

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		rec := post(`{"name":"ada"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "1", rec.Header().Get("X-Test"))
		body := decode(t, rec)
		assert.Equal(t, map[string]any{"hello": "ada"}, body.Data)
	})

	t.Run("bind failure is bad request", func(t *testing.T) {
		t.Parallel()
		rec := post(`{"nope":1}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "bad_request", decode(t, rec).Error.Code)
	})

	t.Run("unclassified error in response is internal", func(t *testing.T) {
		t.Parallel()
		rec := post(`{"name":"conflict"}`)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("nil response", func(t *testing.T) {
		t.Parallel()
		rec := post(`{"name":"nil"}`)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "internal_server_error", decode(t, rec).Error.Code)
	})
}

func TestNewErrorHandlerClassifies(t *testing.T) {
	t.Parallel()

	eh := handler.NewErrorHandler[handler.Context](logger.Noop(), func(err error) (handler.HTTPError, bool) {
		if errors.Is(err, errDomain) {
			return handler.ErrConflict.WithKey("domain_conflict"), true
		}
		return handler.HTTPError{}, false
	})

	rec := httptest.NewRecorder()
	eh(handler.NewContext(rec, httptest.NewRequest(http.MethodGet, "/", nil)), errors.Join(errDomain, errors.New("detail")))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "domain_conflict", decode(t, rec).Error.Code)

	rec = httptest.NewRecorder()
	eh(handler.NewContext(rec, httptest.NewRequest(http.MethodGet, "/", nil)), handler.ErrTooManyRequests)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestDecoratorsOrder(t *testing.T) {
	t.Parallel()

	var calls []string
	mark := func(name string) handler.Decorator[handler.Context, struct{}] {
		return func(next handler.HandlerFunc[handler.Context, struct{}]) handler.HandlerFunc[handler.Context, struct{}] {
			return func(ctx handler.Context, req struct{}) handler.Response {
				calls = append(calls, name)
				return next(ctx, req)
			}
		}
	}

	h := handler.Wrap[handler.Context, struct{}](func(handler.Context, struct{}) handler.Response {
		calls = append(calls, "handler")
		return handler.JSON(nil, handler.WithJSONStatus(http.StatusNoContent))
	}, handler.WithDecorators(mark("outer"), mark("inner")))

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"outer", "inner", "handler"}, calls)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
