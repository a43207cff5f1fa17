package runtime

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/resflow/internal/runtime/config"
	"github.com/drblury/resflow/internal/runtime/jsoncodec"
)

func TestStatusAPI_Patterns(t *testing.T) {
	s := newTestService(t)
	require.NoError(t, s.Handle("book.$id", Access(AccessGranted), GetModel(func(r *GetRequest) { r.Model(1) })))
	serve(t, s)

	rec := httptest.NewRecorder()
	s.handleGetPatterns(rec, httptest.NewRequest(http.MethodGet, "/api/patterns", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	var patterns []PatternInfo
	require.NoError(t, jsoncodec.Unmarshal(rec.Body.Bytes(), &patterns))
	assert.Equal(t, []PatternInfo{{Pattern: "test.book.$id", Type: "model", Capabilities: "access|get"}}, patterns)
}

func TestStatusAPI_Stats(t *testing.T) {
	s := newTestService(t)
	require.NoError(t, s.Handle("book", GetModel(func(r *GetRequest) { r.Model(1) })))
	h := serve(t, s)
	h.request("get.test.book", nil)

	rec := httptest.NewRecorder()
	s.handleGetStats(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var stats StatusStats
	require.NoError(t, jsoncodec.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, "test", stats.Service)
	assert.Positive(t, stats.Process.Goroutines)
}

func TestStatusAPI_CORS(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    string
	}{
		{"wildcard", []string{"*"}, "https://any.example", "*"},
		{"listed origin", []string{"https://a.example", "https://b.example"}, "https://B.example", "https://B.example"},
		{"unlisted origin", []string{"https://a.example"}, "https://evil.example", ""},
		{"disabled", nil, "https://a.example", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestService(t, func(c *configpkg.Config) {
				c.StatusCORSAllowedOrigins = tt.allowed
			})

			req := httptest.NewRequest(http.MethodGet, "/api/patterns", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			s.handleGetPatterns(rec, req)

			assert.Equal(t, tt.want, rec.Header().Get("Access-Control-Allow-Origin"))
			if tt.want != "" {
				assert.Equal(t, "GET, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
			}
		})
	}
}

func TestStatusAPI_Preflight(t *testing.T) {
	s := newTestService(t, func(c *configpkg.Config) {
		c.StatusCORSAllowedOrigins = []string{"*"}
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/stats", nil)
	req.Header.Set("Origin", "https://a.example")
	rec := httptest.NewRecorder()
	s.handleGetStats(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
