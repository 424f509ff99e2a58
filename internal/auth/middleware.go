// Package auth identifies the acting user on incoming requests.
//
// The service sits behind the agency gateway, which authenticates users and
// forwards the verified identity in the X-User-ID header. This package trusts
// that header; it performs no credential checks of its own.
package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	userIDHeader = "X-User-ID"
	actorKey     = "auth.actor"
)

// Identify extracts the acting user's ID from the request and stores it in
// the gin context. Requests without an identity pass through; handlers that
// need one sit behind RequireActor.
func Identify() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := strings.TrimSpace(c.GetHeader(userIDHeader))
		if actor == "" {
			// Fallback for callers that send the identity as a bearer token.
			if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
				actor = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
			}
		}
		if actor != "" {
			c.Set(actorKey, actor)
		}
		c.Next()
	}
}

// RequireActor rejects requests that carry no user identity.
func RequireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if Actor(c) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user identity required"})
			return
		}
		c.Next()
	}
}

// Actor returns the acting user's ID, or "" when the request is anonymous.
func Actor(c *gin.Context) string {
	if v, ok := c.Get(actorKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
