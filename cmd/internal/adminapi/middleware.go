package adminapi

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	v1 "parley/shared/contracts/chat/v1"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// Credentials guard the admin routes with HTTP basic auth. An empty PasswordHash disables the check.
type Credentials struct {
	User         string
	PasswordHash string
}

func (c Credentials) Enabled() bool { return c.PasswordHash != "" }

// BasicAuth rejects requests whose credentials do not match creds. The password is compared
// against a bcrypt hash.
func BasicAuth(creds Credentials) gin.HandlerFunc {
	hash := []byte(creds.PasswordHash)
	return func(c *gin.Context) {
		user, pass, ok := c.Request.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(user), []byte(creds.User)) != 1 ||
			bcrypt.CompareHashAndPassword(hash, []byte(pass)) != nil {
			c.Header("WWW-Authenticate", `Basic realm="parley-admin"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, v1.Fail(v1.CodeFail, "unauthorized"))
			return
		}
		c.Next()
	}
}

// RequestLogger logs one line per admin request.
func RequestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info("admin.request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"remote", c.ClientIP(),
		)
	}
}

// NewRouter builds the admin engine. creds may be zero to leave the routes open.
func NewRouter(log *slog.Logger, h *Handler, creds Credentials) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log))

	api := r.Group("/")
	if creds.Enabled() {
		api.Use(BasicAuth(creds))
	}
	h.Register(api)
	return r
}
