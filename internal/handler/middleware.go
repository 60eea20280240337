package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"auctionhouse/internal/ratelimit"
)

const userIDKey = "auth.userID"

// Identity resolves the caller from the X-User-ID header. Authentication
// proper lives at the gateway; the engine only needs a stable caller id.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader("X-User-ID"))
		if id == "" {
			id = strings.TrimSpace(c.Query("userId"))
		}
		if id != "" {
			c.Set(userIDKey, id)
		}
		c.Next()
	}
}

// UserID returns the caller id set by Identity, or "" when absent.
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

// RequireUser aborts with 401 when no caller id was supplied.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if UserID(c) == "" {
			Error(c, http.StatusUnauthorized, "X-User-ID header is required", nil)
			c.Abort()
			return
		}
		c.Next()
	}
}

// RateLimited rejects with 429 when the caller exceeds the sliding window.
// Anonymous callers share one bucket.
func RateLimited(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := UserID(c)
		if key == "" {
			key = c.ClientIP()
		}
		if !limiter.Allow(key) {
			Error(c, http.StatusTooManyRequests, "rate limit exceeded", nil)
			c.Abort()
			return
		}
		c.Next()
	}
}
