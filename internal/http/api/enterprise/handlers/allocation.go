package handlers

import (
	"net/http"
	"net/mail"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/EnterpriseAccess/internal/allocation"
	"gorm.io/gorm"
)

// AllocationHandler serves assignment allocation for assigned learner credit policies.
type AllocationHandler struct {
	db      *gorm.DB
	service *allocation.Service
}

// NewAllocationHandler constructs an AllocationHandler.
func NewAllocationHandler(db *gorm.DB, service *allocation.Service) *AllocationHandler {
	return &AllocationHandler{db: db, service: service}
}

// allocateRequest defines the request body for allocation.
type allocateRequest struct {
	LearnerEmails     []string `json:"learner_emails"`
	ContentKey        string   `json:"content_key"`
	ContentPriceCents *int64   `json:"content_price_cents"`
}

// validate returns field errors keyed by request field.
func (r allocateRequest) validate() map[string][]string {
	fieldErrors := map[string][]string{}
	if len(r.LearnerEmails) == 0 {
		fieldErrors["learner_emails"] = []string{"This field is required."}
	}
	for _, raw := range r.LearnerEmails {
		email := strings.TrimSpace(raw)
		if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
			fieldErrors["learner_emails"] = []string{"Enter a valid email address."}
			break
		}
	}
	if strings.TrimSpace(r.ContentKey) == "" {
		fieldErrors["content_key"] = []string{"This field is required."}
	}
	switch {
	case r.ContentPriceCents == nil:
		fieldErrors["content_price_cents"] = []string{"This field is required."}
	case *r.ContentPriceCents < 0:
		fieldErrors["content_price_cents"] = []string{"Ensure this value is greater than or equal to 0."}
	}
	return fieldErrors
}

// Allocate reserves budget for each learner email and returns 202 with the
// updated, created and unchanged assignments.
func (h *AllocationHandler) Allocate(c *gin.Context) {
	claims := getClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	policyUUID, ok := parseUUIDParam(c, "policy_uuid")
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "policy not found"})
		return
	}

	ctx := c.Request.Context()
	p, errLoad := allocation.LoadPolicy(ctx, h.db, policyUUID)
	if writeError(c, errLoad) {
		return
	}
	if !claims.HasAdminAccess(p.EnterpriseCustomerUUID.String()) {
		c.JSON(http.StatusForbidden, gin.H{"error": "permission denied"})
		return
	}

	var body allocateRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if fieldErrors := body.validate(); len(fieldErrors) > 0 {
		c.JSON(http.StatusBadRequest, fieldErrors)
		return
	}

	result, errAlloc := h.service.EvaluateAndAllocate(ctx, p.UUID, body.LearnerEmails, strings.TrimSpace(body.ContentKey), *body.ContentPriceCents)
	if writeError(c, errAlloc) {
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"updated":   toAssignmentDTOs(result.Updated),
		"created":   toAssignmentDTOs(result.Created),
		"no_change": toAssignmentDTOs(result.NoChange),
	})
}
