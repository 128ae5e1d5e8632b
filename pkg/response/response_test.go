package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/siga-api/pkg/errors"
)

func newContext() (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	return c, w
}

func TestDispositionKeepsAccentedNames(t *testing.T) {
	assert.Equal(t, `attachment; filename="resultados.csv"`, disposition("resultados.csv"))

	got := disposition("relação_informática.pdf")
	assert.Contains(t, got, `filename="rela__o_inform_tica.pdf"`)
	assert.Contains(t, got, "filename*=UTF-8''rela%C3%A7%C3%A3o_inform%C3%A1tica.pdf")
}

func TestStreamSetsTypeAndLength(t *testing.T) {
	c, w := newContext()

	Stream(c, strings.NewReader("%PDF"), 4, "ranking.pdf")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Equal(t, "4", w.Header().Get("Content-Length"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Equal(t, "%PDF", w.Body.String())
}

func TestErrorHidesInternalCause(t *testing.T) {
	c, w := newContext()

	Error(c, errors.New("pq: relation missing"))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "pq:")
	assert.Len(t, c.Errors, 1)

	var env Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, appErrors.ErrInternal.Code, env.Error.Code)
}
