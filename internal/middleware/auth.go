package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/xmlangel/testcasecraft-sub009/internal/utils"
	"github.com/xmlangel/testcasecraft-sub009/pkg/response"
)

const (
	ContextUserID   = "user_id"
	ContextUsername = "username"
	ContextRole     = "role"
)

// AuthRequired accepts a bearer token issued by the account service and
// records the acting user on the context.
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "authorization header required")
			c.Abort()
			return
		}

		scheme, token, found := strings.Cut(authHeader, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			response.Unauthorized(c, "invalid authorization header format")
			c.Abort()
			return
		}

		claims, err := utils.ParseToken(strings.TrimSpace(token))
		if err != nil || claims.UserID == 0 {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUsername, claims.Username)
		c.Set(ContextRole, claims.Role)

		c.Next()
	}
}

// AdminRequired guards operational endpoints such as forced sweeps.
func AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetRole(c) != "admin" {
			response.Forbidden(c, "admin access required")
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetUserID returns the acting user, or 0 when unauthenticated.
func GetUserID(c *gin.Context) uint {
	if id, ok := c.Get(ContextUserID); ok {
		if uid, ok := id.(uint); ok {
			return uid
		}
	}
	return 0
}

func GetUsername(c *gin.Context) string {
	return c.GetString(ContextUsername)
}

func GetRole(c *gin.Context) string {
	return c.GetString(ContextRole)
}
