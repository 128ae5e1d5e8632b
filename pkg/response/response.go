package response

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/siga-api/internal/models"
	appErrors "github.com/noah-isme/siga-api/pkg/errors"
)

// Envelope is the body of every JSON response.
type Envelope struct {
	Data       interface{}            `json:"data,omitempty"`
	Error      *appErrors.Error       `json:"error,omitempty"`
	Pagination *models.Pagination     `json:"pagination,omitempty"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
}

func noStore(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
}

// JSON sends a success response with optional pagination metadata.
func JSON(c *gin.Context, status int, data interface{}, pagination *models.Pagination, meta ...map[string]interface{}) {
	noStore(c)
	envelope := Envelope{Data: data, Pagination: pagination}
	if len(meta) > 0 && meta[0] != nil {
		envelope.Meta = meta[0]
	}
	c.JSON(status, envelope)
}

// Created responds with HTTP 201 Created.
func Created(c *gin.Context, data interface{}) {
	JSON(c, http.StatusCreated, data, nil)
}

// Accepted responds with HTTP 202 for work that completes out of band, such
// as a reset code on its way to the user.
func Accepted(c *gin.Context, data interface{}) {
	JSON(c, http.StatusAccepted, data, nil)
}

// Error sends an error response converting the error to the common structure.
// Wrapped causes stay server side.
func Error(c *gin.Context, err error) {
	appErr := appErrors.FromError(err)
	if appErr.Status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	noStore(c)
	c.JSON(appErr.Status, Envelope{Error: appErr})
}

// NoContent sends a 204 response.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// csv is missing from Go's builtin table and from slim container images.
var knownTypes = map[string]string{".csv": "text/csv; charset=utf-8"}

// ContentType guesses the MIME type from the file extension.
func ContentType(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ct, ok := knownTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// disposition builds a Content-Disposition value. School and course names
// carry accents, so a UTF-8 filename* is sent next to an ASCII fallback.
func disposition(filename string) string {
	ascii := make([]rune, 0, len(filename))
	plain := true
	for _, r := range filename {
		if r > 0x7e || r < 0x20 || r == '"' || r == '\\' {
			plain = false
			r = '_'
		}
		ascii = append(ascii, r)
	}
	if plain {
		return fmt.Sprintf("attachment; filename=%q", filename)
	}
	return fmt.Sprintf("attachment; filename=%q; filename*=UTF-8''%s", string(ascii), url.PathEscape(filename))
}

// Attachment sends an in-memory payload as a download.
func Attachment(c *gin.Context, contentType, filename string, data []byte) {
	noStore(c)
	c.Header("Content-Disposition", disposition(filename))
	c.Data(http.StatusOK, contentType, data)
}

// Stream copies size bytes from r to the client as a download.
func Stream(c *gin.Context, r io.Reader, size int64, filename string) {
	noStore(c)
	c.DataFromReader(http.StatusOK, size, ContentType(filename), r, map[string]string{
		"Content-Disposition": disposition(filename),
	})
}
