package cors

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func serve(origins []string, method, origin string, preflight bool) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(New(origins))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(method, "/ping", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	if preflight {
		req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCORSAllowedOrigin(t *testing.T) {
	w := serve([]string{"https://escola.example/"}, http.MethodGet, "https://escola.example", false)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://escola.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "Content-Disposition")
}

func TestCORSWildcardSubdomain(t *testing.T) {
	origins := []string{"https://*.escola.example"}

	w := serve(origins, http.MethodGet, "https://secretaria.escola.example", false)
	assert.Equal(t, "https://secretaria.escola.example", w.Header().Get("Access-Control-Allow-Origin"))

	w = serve(origins, http.MethodGet, "https://escola.example", false)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	w = serve(origins, http.MethodGet, "http://secretaria.escola.example", false)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSRejectsUnknownOriginAndShortCircuitsPreflight(t *testing.T) {
	w := serve([]string{"https://escola.example"}, http.MethodOptions, "https://evil.example", true)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Methods"))
}

func TestCORSPreflightForAllowedOrigin(t *testing.T) {
	w := serve(nil, http.MethodOptions, "https://any.example", true)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PATCH")
	assert.Equal(t, "600", w.Header().Get("Access-Control-Max-Age"))
}
