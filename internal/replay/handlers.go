package replay

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler exposes the replay access surface.
type Handler struct {
	manager *Manager
}

// NewHandler creates a replay handler.
func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

// RegisterRoutes sets up replay endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/replays/:id", h.GetReplay)
	r.POST("/replays/:id/viewed", h.MarkViewed)
	r.POST("/replays/:id/acted", h.MarkActed)
}

// GetReplay returns a replay while it is still within its retention window.
// Expired replays are indistinguishable from ones that never existed.
// GET /v1/replays/:id
func (h *Handler) GetReplay(c *gin.Context) {
	r, err := h.manager.Access(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.notFoundOrError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"replay": r})
}

// MarkViewed flags a replay as opened by a parent.
// POST /v1/replays/:id/viewed
func (h *Handler) MarkViewed(c *gin.Context) {
	if err := h.manager.MarkViewed(c.Request.Context(), c.Param("id")); err != nil {
		h.notFoundOrError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "viewed"})
}

// MarkActed flags a replay as acted on.
// POST /v1/replays/:id/acted
func (h *Handler) MarkActed(c *gin.Context) {
	if err := h.manager.MarkActed(c.Request.Context(), c.Param("id")); err != nil {
		h.notFoundOrError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "acted"})
}

func (h *Handler) notFoundOrError(c *gin.Context, err error) {
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "replay_not_found",
			"message": "No replay with that ID, or it has expired",
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
}
