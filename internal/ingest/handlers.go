package ingest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/guardian-os/guardian-risk/internal/metrics"
	"github.com/guardian-os/guardian-risk/internal/validation"
)

// Handler provides the device-facing event ingestion endpoints.
type Handler struct {
	pipeline *Pipeline
}

// NewHandler creates an ingest handler.
func NewHandler(pipeline *Pipeline) *Handler {
	return &Handler{pipeline: pipeline}
}

// RegisterRoutes sets up the event endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/events/signal", h.PostSignal)
	r.POST("/events/topic-session", h.PostTopicSession)
}

// PostSignal ingests one discrete risk signal.
// POST /v1/events/signal
func (h *Handler) PostSignal(c *gin.Context) {
	var ev SignalEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_json",
			"message": "Request body must be valid JSON",
		})
		return
	}
	ev.ContactHash = validation.SanitizeContactHash(ev.ContactHash)

	if err := ev.Validate(); err != nil {
		metrics.IngestEventsTotal.WithLabelValues("signal", "rejected").Inc()
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_event",
			"message": err.Error(),
		})
		return
	}

	out, err := h.pipeline.ProcessSignal(c.Request.Context(), ev)
	if err != nil {
		h.writeProcessError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, out)
}

// PostTopicSession ingests one weekly topic-session aggregate.
// POST /v1/events/topic-session
func (h *Handler) PostTopicSession(c *gin.Context) {
	var ev TopicSessionEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_json",
			"message": "Request body must be valid JSON",
		})
		return
	}
	ev.ContactHash = validation.SanitizeContactHash(ev.ContactHash)

	if err := ev.Validate(); err != nil {
		metrics.IngestEventsTotal.WithLabelValues("topic_session", "rejected").Inc()
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_event",
			"message": err.Error(),
		})
		return
	}

	out, err := h.pipeline.ProcessTopicSession(c.Request.Context(), ev)
	if err != nil {
		h.writeProcessError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, out)
}

func (h *Handler) writeProcessError(c *gin.Context, err error) {
	if errors.Is(err, ErrUnknownChild) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "unknown_child",
			"message": "Child is not registered to any family",
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": "Event could not be processed",
	})
}
