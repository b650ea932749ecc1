package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	// ContextKeyDeviceKey is the key for storing the device key in gin context
	ContextKeyDeviceKey = "deviceKey"
	// ContextKeyFamilyID is the key for storing the authenticated family ID
	ContextKeyFamilyID = "authFamilyID"
	// ContextKeyChildID is the key for storing the key's bound child ID
	ContextKeyChildID = "authChildID"
)

// Middleware extracts and validates the device key from the request.
// Sets deviceKey, authFamilyID, and authChildID in context if valid.
func Middleware(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		rawKey := c.GetHeader("Authorization")
		if rawKey == "" {
			rawKey = c.GetHeader("X-Device-Key")
		}

		if rawKey != "" {
			key, err := m.ValidateKey(c.Request.Context(), rawKey)
			if err == nil {
				c.Set(ContextKeyDeviceKey, key)
				c.Set(ContextKeyFamilyID, key.FamilyID)
				c.Set(ContextKeyChildID, key.ChildID)
			}
		}

		c.Next()
	}
}

// RequireDevice middleware rejects requests without a valid device key
func RequireDevice() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get(ContextKeyDeviceKey); !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Device key required. Include 'X-Device-Key: dk_...' header.",
			})
			return
		}
		c.Next()
	}
}

// RequireFamilyAccess requires a valid key AND that the key belongs to the
// family named by the URL param.
func RequireFamilyAccess(paramName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, exists := c.Get(ContextKeyDeviceKey)
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Device key required.",
			})
			return
		}

		deviceKey, ok := key.(*DeviceKey)
		if !ok {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Invalid authentication state",
			})
			return
		}
		if deviceKey.FamilyID != c.Param(paramName) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Key does not belong to this family.",
			})
			return
		}

		c.Next()
	}
}

// GetDeviceKey returns the device key from context (if authenticated)
func GetDeviceKey(c *gin.Context) (*DeviceKey, bool) {
	key, exists := c.Get(ContextKeyDeviceKey)
	if !exists {
		return nil, false
	}
	return key.(*DeviceKey), true
}

// AuthenticatedFamily returns the authenticated family's ID
func AuthenticatedFamily(c *gin.Context) string {
	id, exists := c.Get(ContextKeyFamilyID)
	if !exists {
		return ""
	}
	return id.(string)
}

// AuthenticatedChild returns the child the device key is bound to
func AuthenticatedChild(c *gin.Context) string {
	id, exists := c.Get(ContextKeyChildID)
	if !exists {
		return ""
	}
	return id.(string)
}

// IsAuthenticated checks if the request carries a valid device key
func IsAuthenticated(c *gin.Context) bool {
	_, exists := c.Get(ContextKeyDeviceKey)
	return exists
}
