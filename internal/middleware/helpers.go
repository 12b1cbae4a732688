// internal/middleware/helpers.go
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MustGetUserID gets the user id from context or panics
func MustGetUserID(c *gin.Context) uuid.UUID {
	id, exists := GetUserID(c)
	if !exists {
		panic("user_id not found in context")
	}
	return id
}

// GetEmail gets the token email from context
func GetEmail(c *gin.Context) string {
	return c.GetString(ctxEmail)
}

// GetRoles gets user roles from context
func GetRoles(c *gin.Context) []string {
	roles, exists := c.Get(ctxRoles)
	if !exists {
		return []string{}
	}

	rolesList, ok := roles.([]string)
	if !ok {
		return []string{}
	}

	return rolesList
}

// GetRequestID returns the id assigned by LoggingMiddleware.
func GetRequestID(c *gin.Context) string {
	return c.GetString(ctxRequestID)
}

// IsAuthenticated checks if request is authenticated
func IsAuthenticated(c *gin.Context) bool {
	_, exists := GetUserID(c)
	return exists
}

// IsAdmin checks if user is a platform admin
func IsAdmin(c *gin.Context) bool {
	return HasRole(c, "admin") || HasRole(c, "super_admin")
}

// IsSuperAdmin checks if user is a super admin
func IsSuperAdmin(c *gin.Context) bool {
	return HasRole(c, "super_admin")
}
