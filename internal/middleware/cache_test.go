package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseMetaRecordsCacheHit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(WithResponseMeta())

	var captured map[string]interface{}
	r.GET("/courses/:id", func(c *gin.Context) {
		SetCacheHit(c, true)
		captured = ExtractMeta(c)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/courses/c1", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, captured)
	assert.Equal(t, true, captured[cacheHitKey])
	assert.Contains(t, captured, processingTimeMS)
}

func TestExtractMetaWithoutMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Nil(t, ExtractMeta(c))

	SetCacheHit(c, false)
	meta := ExtractMeta(c)
	require.NotNil(t, meta)
	assert.Equal(t, false, meta[cacheHitKey])
	assert.Nil(t, ExtractMeta(nil))
}
