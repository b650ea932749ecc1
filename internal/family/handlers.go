package family

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/guardian-os/guardian-risk/internal/security"
	"github.com/guardian-os/guardian-risk/internal/validation"
)

// Registrar accepts family registrations. Satisfied by MemoryRegistry.
type Registrar interface {
	Register(f *Family)
}

// Handler exposes family onboarding and the family-wide contact view.
type Handler struct {
	registry  Registry
	registrar Registrar
	network   *Network
}

// NewHandler creates a family handler. registrar may be nil when the registry
// is backed by an external system that does not accept local writes.
func NewHandler(registry Registry, registrar Registrar, network *Network) *Handler {
	return &Handler{registry: registry, registrar: registrar, network: network}
}

// RegisterRoutes sets up family endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/families", h.RegisterFamily)
	r.GET("/families/:family", h.GetFamily)
	r.GET("/families/:family/contact-views", h.ListContactViews)
}

type registerFamilyRequest struct {
	ID       string            `json:"id"`
	Children []Child           `json:"children"`
	Contacts []GuardianContact `json:"contacts"`
}

func (req *registerFamilyRequest) validate() error {
	if !validation.IsValidID(req.ID) {
		return errors.New("id: must be 8-64 url-safe characters")
	}
	if len(req.Children) == 0 {
		return errors.New("children: at least one child is required")
	}
	for _, child := range req.Children {
		if !validation.IsValidID(child.ID) {
			return errors.New("children: child id must be 8-64 url-safe characters")
		}
		if child.Age < 1 || child.Age > 17 {
			return errors.New("children: age must be between 1 and 17")
		}
	}
	for _, contact := range req.Contacts {
		switch contact.Role {
		case RolePrimary, RoleSecondary, RoleEmergency:
		default:
			return errors.New("contacts: role must be primary, secondary, or emergency")
		}
		if contact.WebhookURL != "" {
			if err := security.ValidateEndpointURL(contact.WebhookURL); err != nil {
				return errors.New("contacts: " + err.Error())
			}
		}
	}
	return nil
}

// RegisterFamily registers a family with its children and guardian chain.
// POST /v1/families
func (h *Handler) RegisterFamily(c *gin.Context) {
	if h.registrar == nil {
		c.JSON(http.StatusNotImplemented, gin.H{
			"error":   "external_registry",
			"message": "Family registration is managed externally",
		})
		return
	}

	var req registerFamilyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_json",
			"message": "Request body must be valid JSON",
		})
		return
	}
	if err := req.validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_family",
			"message": err.Error(),
		})
		return
	}

	fam := &Family{ID: req.ID, Contacts: req.Contacts}
	for _, child := range req.Children {
		child.FamilyID = req.ID
		fam.Children = append(fam.Children, child)
	}
	h.registrar.Register(fam)

	c.JSON(http.StatusCreated, fam)
}

// GetFamily returns a family's children and guardian chain.
// GET /v1/families/:family
func (h *Handler) GetFamily(c *gin.Context) {
	fam, err := h.registry.Family(c.Request.Context(), c.Param("family"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "family_not_found",
			"message": "No family with that ID",
		})
		return
	}
	c.JSON(http.StatusOK, fam)
}

// ListContactViews returns the family-wide aggregate for every shared contact.
// GET /v1/families/:family/contact-views
func (h *Handler) ListContactViews(c *gin.Context) {
	familyID := c.Param("family")
	if !validation.IsValidID(familyID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_family_id",
			"message": "Family ID is malformed",
		})
		return
	}

	views, err := h.network.FamilyViews(c.Request.Context(), familyID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list contact views",
		})
		return
	}
	if views == nil {
		views = []*ContactView{}
	}
	c.JSON(http.StatusOK, gin.H{
		"familyId": familyID,
		"views":    views,
	})
}
