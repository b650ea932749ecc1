package profile

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/guardian-os/guardian-risk/internal/validation"
)

// Handler exposes the per-child contact list to the parent dashboard.
type Handler struct {
	service *Service
}

// NewHandler creates a profile handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up contact endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/children/:child/contacts", h.ListContacts)
	r.GET("/children/:child/contacts/:hash", h.GetContact)
}

// ContactSummary is the dashboard view of one contact. Content never appears
// here, only derived scores and tags.
type ContactSummary struct {
	ContactHash       string       `json:"contactHash"`
	RiskScore         float64      `json:"riskScore"`
	TrustScore        float64      `json:"trustScore"`
	FamilyTrust       *float64     `json:"familyTrust,omitempty"`
	Tags              []Tag        `json:"tags"`
	RiskFactors       []RiskFactor `json:"riskFactors,omitempty"`
	GroomingStage     int          `json:"groomingStage"`
	GroomingConfirmed bool         `json:"groomingConfirmed"`
	ParentApproved    bool         `json:"parentApproved"`
	Trend             string       `json:"trend"`
	UpdatedAt         time.Time    `json:"updatedAt"`
}

// ListContacts returns every known contact of a child with current scores.
// GET /v1/children/:child/contacts
func (h *Handler) ListContacts(c *gin.Context) {
	childID := c.Param("child")
	if !validation.IsValidID(childID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_child_id",
			"message": "Child ID is malformed",
		})
		return
	}

	profiles, err := h.service.ListByChild(c.Request.Context(), childID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list contacts",
		})
		return
	}

	summaries := make([]ContactSummary, 0, len(profiles))
	for _, p := range profiles {
		summaries = append(summaries, summarize(p))
	}
	c.JSON(http.StatusOK, gin.H{
		"childId":  childID,
		"contacts": summaries,
	})
}

// GetContact returns one contact in full summary form.
// GET /v1/children/:child/contacts/:hash
func (h *Handler) GetContact(c *gin.Context) {
	childID := c.Param("child")
	hash := validation.SanitizeContactHash(c.Param("hash"))
	if !validation.IsValidID(childID) || !validation.IsValidContactHash(hash) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Child ID or contact hash is malformed",
		})
		return
	}

	p, err := h.service.Get(c.Request.Context(), childID, hash)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "contact_not_found",
			"message": "No profile for that contact",
		})
		return
	}
	c.JSON(http.StatusOK, summarize(p))
}

func summarize(p *ContactProfile) ContactSummary {
	tags := p.Tags
	if tags == nil {
		tags = []Tag{}
	}
	return ContactSummary{
		ContactHash:       p.ContactHash,
		RiskScore:         p.RiskScore,
		TrustScore:        p.TrustScore,
		FamilyTrust:       p.FamilyTrust,
		Tags:              tags,
		RiskFactors:       p.RiskFactors,
		GroomingStage:     p.GroomingStage,
		GroomingConfirmed: p.GroomingConfirmed,
		ParentApproved:    p.ParentApproved,
		Trend:             trend(p),
		UpdatedAt:         p.UpdatedAt,
	}
}

// trendEpsilon is the minimum week-over-week shift in non-safe topic share
// before the trend leaves "stable".
const trendEpsilon = 0.05

// trend compares the non-safe topic share of the two most recent weekly
// sessions. Contacts with fewer than two weeks of history are "new".
func trend(p *ContactProfile) string {
	n := len(p.Sessions)
	if n < 2 {
		return "new"
	}
	latest := 1 - p.Sessions[n-1].SafeTopicRatio()
	prior := 1 - p.Sessions[n-2].SafeTopicRatio()
	switch {
	case latest-prior > trendEpsilon:
		return "rising"
	case prior-latest > trendEpsilon:
		return "falling"
	default:
		return "stable"
	}
}
