package alerts

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/guardian-os/guardian-risk/internal/validation"
)

// Handler provides HTTP endpoints for the alert feed.
type Handler struct {
	service *Service
}

// NewHandler creates an alert handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up alert endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/families/:family/alerts", h.ListFamilyAlerts)
	r.GET("/alerts/:id", h.GetAlert)
	r.POST("/alerts/:id/acknowledge", h.AcknowledgeAlert)
}

// ListFamilyAlerts returns one page of a family's alert feed.
// GET /v1/families/:family/alerts?cursor=...&limit=50
func (h *Handler) ListFamilyAlerts(c *gin.Context) {
	familyID := c.Param("family")
	if !validation.IsValidID(familyID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_family_id",
			"message": "Family ID is malformed",
		})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	feed, err := h.service.ListByFamily(c.Request.Context(), familyID, c.Query("cursor"), limit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "Cursor is malformed or expired",
		})
		return
	}
	c.JSON(http.StatusOK, feed)
}

// GetAlert returns a single alert.
// GET /v1/alerts/:id
func (h *Handler) GetAlert(c *gin.Context) {
	a, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "alert_not_found",
				"message": "No alert with that ID",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alert": a})
}

// AcknowledgeAlert marks an alert acknowledged and cancels any in-flight
// escalation run. Safe to call more than once.
// POST /v1/alerts/:id/acknowledge
func (h *Handler) AcknowledgeAlert(c *gin.Context) {
	a, err := h.service.Acknowledge(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "alert_not_found",
				"message": "No alert with that ID",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alert": a})
}
