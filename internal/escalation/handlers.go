package escalation

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler exposes escalation run state for operators.
type Handler struct {
	store *RunStore
}

// NewHandler creates an escalation handler.
func NewHandler(store *RunStore) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up escalation endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/escalations", h.ListRuns)
	r.GET("/escalations/:id", h.GetRun)
}

// ListRuns returns all known runs, newest first.
// GET /v1/escalations
func (h *Handler) ListRuns(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"runs": h.store.List()})
}

// GetRun returns one run.
// GET /v1/escalations/:id
func (h *Handler) GetRun(c *gin.Context) {
	run, err := h.store.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "run_not_found",
			"message": "No escalation run with that ID",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}
