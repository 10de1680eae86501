package requestid_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/tierkit/pkg/requestid"
)

func TestMiddleware(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{name: "keeps valid id", incoming: "req_abc-123", keep: true},
		{name: "mints when missing", incoming: ""},
		{name: "replaces invalid characters", incoming: "bad id<script>"},
		{name: "replaces overlong id", incoming: strings.Repeat("a", 200)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var seen string
			h := requestid.Middleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				seen = requestid.FromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set(requestid.Header, tt.incoming)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, seen, rec.Header().Get(requestid.Header))
			if tt.keep {
				assert.Equal(t, tt.incoming, seen)
				return
			}
			_, err := uuid.Parse(seen)
			assert.NoError(t, err)
		})
	}
}

func TestLogExtractor(t *testing.T) {
	t.Parallel()

	ex := requestid.LogExtractor()
	_, ok := ex(httptest.NewRequest(http.MethodGet, "/", nil).Context())
	assert.False(t, ok)

	attr, ok := ex(requestid.WithContext(t.Context(), "r-1"))
	assert.True(t, ok)
	assert.Equal(t, "r-1", attr.Value.String())
}
