package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/guardian-os/guardian-risk/internal/validation"
)

// Handler provides HTTP endpoints for device key management.
// Activation is guarded by a shared activation token configured at deploy
// time; the remaining endpoints require a device key from the same family.
type Handler struct {
	manager         *Manager
	activationToken string
}

// NewHandler creates a new auth handler. activationToken may be empty in
// development, which leaves activation open.
func NewHandler(m *Manager, activationToken string) *Handler {
	return &Handler{manager: m, activationToken: activationToken}
}

// RegisterRoutes sets up device key endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/families/:family/devices", h.Activate)
	r.GET("/families/:family/devices", RequireFamilyAccess("family"), h.ListDevices)
	r.POST("/families/:family/devices/:keyId/revoke", RequireFamilyAccess("family"), h.RevokeDevice)
}

// ActivateRequest is the request body for device activation
type ActivateRequest struct {
	ChildID string `json:"childId"`
	Name    string `json:"name"`
}

// Activate issues a device key for one child's device.
// POST /v1/families/:family/devices
func (h *Handler) Activate(c *gin.Context) {
	if h.activationToken != "" {
		token := c.GetHeader("X-Activation-Token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.activationToken)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Valid activation token required",
			})
			return
		}
	}

	familyID := c.Param("family")
	var req ActivateRequest
	_ = c.ShouldBindJSON(&req)

	if errs := validation.Validate(
		validation.ID("family", familyID),
		validation.ID("childId", req.ChildID),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": errs.Error(),
		})
		return
	}
	if req.Name == "" {
		req.Name = "Device"
	}

	rawKey, key, err := h.manager.Activate(c.Request.Context(), familyID, req.ChildID, req.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "activation_failed",
			"message": "Failed to activate device",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"deviceKey": rawKey,
		"keyId":     key.ID,
		"childId":   key.ChildID,
		"name":      key.Name,
		"warning":   "Store this key securely. It will not be shown again.",
	})
}

// ListDevices returns the family's device keys without hashes.
// GET /v1/families/:family/devices
func (h *Handler) ListDevices(c *gin.Context) {
	keys, err := h.manager.ListKeys(c.Request.Context(), c.Param("family"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to list devices",
		})
		return
	}

	safeKeys := make([]gin.H, len(keys))
	for i, k := range keys {
		safeKeys[i] = gin.H{
			"id":        k.ID,
			"childId":   k.ChildID,
			"name":      k.Name,
			"createdAt": k.CreatedAt,
			"lastUsed":  k.LastUsed,
			"revoked":   k.Revoked,
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"devices": safeKeys,
		"count":   len(safeKeys),
	})
}

// RevokeDevice revokes a device key, e.g. for a lost or replaced device.
// POST /v1/families/:family/devices/:keyId/revoke
func (h *Handler) RevokeDevice(c *gin.Context) {
	keyID := c.Param("keyId")

	if current, ok := GetDeviceKey(c); ok && current.ID == keyID {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "cannot_revoke_current",
			"message": "Cannot revoke the key you're using",
		})
		return
	}

	if err := h.manager.RevokeKey(c.Request.Context(), keyID, c.Param("family")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "key_not_found",
			"message": "Key not found or already revoked",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Device key revoked",
		"keyId":   keyID,
	})
}
