package middlewares

import (
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/wb-go/wbf/ginext"

	"github.com/ptc-library/notifier/internal/api/respond"
)

// CORSMiddleware allows the admin UI to call the API from another origin.
func CORSMiddleware() ginext.HandlerFunc {
	return func(c *ginext.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Admin-Password")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// AdminAuth gates admin routes behind the single shared password, supplied
// in the X-Admin-Password header.
func AdminAuth(password string) ginext.HandlerFunc {
	return func(c *ginext.Context) {
		got := c.Request.Header.Get("X-Admin-Password")
		if subtle.ConstantTimeCompare([]byte(got), []byte(password)) != 1 {
			respond.Fail(c.Writer, http.StatusUnauthorized, fmt.Errorf("invalid admin password"))
			c.Abort()
			return
		}

		c.Next()
	}
}
