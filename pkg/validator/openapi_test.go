package validator

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/KeshavSoni17/halo-backend/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	v, err := New()
	require.NoError(t, err)

	r := gin.New()
	r.Use(errors.ErrorHandler(), v.Middleware())
	ok := func(c *gin.Context) { c.Status(http.StatusOK) }
	r.POST("/api/v1/visits", ok)
	r.PATCH("/api/v1/visits/:id", ok)
	r.POST("/api/v1/users", ok)
	r.GET("/api/v1/statistics/daily", ok)
	r.GET("/unlisted", ok)
	return r
}

func send(r *gin.Engine, method, path, userID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestEmbeddedSchemaLoads(t *testing.T) {
	_, err := New()
	require.NoError(t, err)
}

func TestInvalidSchemaRejected(t *testing.T) {
	_, err := NewFromData([]byte("openapi: 3.0.3\ninfo: {}\n"))
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	r := newTestEngine(t)

	tests := []struct {
		name   string
		method string
		path   string
		userID string
		body   string
		want   int
	}{
		{"create visit", http.MethodPost, "/api/v1/visits", "u1", "", http.StatusOK},
		{"missing user header", http.MethodPost, "/api/v1/visits", "", "", http.StatusBadRequest},
		{"update visit", http.MethodPatch, "/api/v1/visits/v1", "u1", `{"additional_context":"follow-up"}`, http.StatusOK},
		{"update visit wrong type", http.MethodPatch, "/api/v1/visits/v1", "u1", `{"name":42}`, http.StatusBadRequest},
		{"create user", http.MethodPost, "/api/v1/users", "", `{"name":"Dr. A","email":"a@example.com"}`, http.StatusOK},
		{"create user missing email", http.MethodPost, "/api/v1/users", "", `{"name":"Dr. A"}`, http.StatusBadRequest},
		{"daily statistics", http.MethodGet, "/api/v1/statistics/daily?day=2024-01-02", "u1", "", http.StatusOK},
		{"daily statistics bad day", http.MethodGet, "/api/v1/statistics/daily?day=yesterday", "u1", "", http.StatusBadRequest},
		{"route not in schema", http.MethodGet, "/unlisted", "", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := send(r, tt.method, tt.path, tt.userID, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			if tt.want == http.StatusBadRequest {
				assert.Contains(t, w.Body.String(), "VALIDATION_ERROR")
			}
		})
	}
}
