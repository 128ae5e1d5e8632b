package cors

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

var (
	allowHeaders  = "Authorization, Content-Type, X-Requested-With, X-Request-ID"
	allowMethods  = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	exposeHeaders = "Content-Disposition, Content-Length, X-Request-ID"
)

// matcher decides whether a browser origin may call the API. Entries may be
// exact origins or a "*.domain" wildcard covering any subdomain of domain.
type matcher struct {
	any      bool
	exact    map[string]struct{}
	suffixes []string
}

func newMatcher(origins []string) matcher {
	m := matcher{any: len(origins) == 0, exact: make(map[string]struct{}, len(origins))}
	for _, origin := range origins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		switch {
		case origin == "*":
			m.any = true
		case strings.Contains(origin, "://*."):
			scheme, host, _ := strings.Cut(origin, "://*")
			m.suffixes = append(m.suffixes, scheme+"://|"+host)
		case origin != "":
			m.exact[origin] = struct{}{}
		}
	}
	return m
}

func (m matcher) allows(origin string) bool {
	if m.any {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	if _, ok := m.exact[origin]; ok {
		return true
	}
	for _, s := range m.suffixes {
		scheme, host, _ := strings.Cut(s, "|")
		rest, ok := strings.CutPrefix(origin, scheme)
		if ok && strings.HasSuffix(rest, host) && len(rest) > len(host) {
			return true
		}
	}
	return false
}

// New returns the CORS middleware. An empty list allows every origin, which
// is what local development runs with. Browsers download receipts and
// ranking exports through these responses, so Content-Disposition is
// exposed.
func New(allowedOrigins []string) gin.HandlerFunc {
	m := newMatcher(allowedOrigins)

	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Add("Vary", "Origin")

		origin := c.GetHeader("Origin")
		allowed := origin != "" && m.allows(origin)
		if allowed {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Expose-Headers", exposeHeaders)
		}

		preflight := c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != ""
		if !preflight {
			c.Next()
			return
		}
		if allowed {
			h.Set("Access-Control-Allow-Headers", allowHeaders)
			h.Set("Access-Control-Allow-Methods", allowMethods)
			h.Set("Access-Control-Max-Age", "600")
		}
		c.AbortWithStatus(http.StatusNoContent)
	}
}
