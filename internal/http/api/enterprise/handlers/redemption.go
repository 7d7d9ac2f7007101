package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/router-for-me/EnterpriseAccess/internal/allocation"
	"github.com/router-for-me/EnterpriseAccess/internal/models"
	"github.com/router-for-me/EnterpriseAccess/internal/policy"
	"gorm.io/gorm"
)

// RedemptionHandler answers whether a learner can redeem content through any
// of an enterprise's credit policies.
type RedemptionHandler struct {
	db        *gorm.DB
	evaluator *policy.Evaluator
	admins    allocation.AdminDirectory
}

// NewRedemptionHandler constructs a RedemptionHandler. admins may be nil.
func NewRedemptionHandler(db *gorm.DB, evaluator *policy.Evaluator, admins allocation.AdminDirectory) *RedemptionHandler {
	return &RedemptionHandler{db: db, evaluator: evaluator, admins: admins}
}

// canRedeemRequest defines the request body for a redeemability check.
type canRedeemRequest struct {
	EnterpriseCustomerUUID string `json:"enterprise_customer_uuid"`
	LMSUserID              int64  `json:"lms_user_id"`
	ContentKey             string `json:"content_key"`
	ContentPriceCents      *int64 `json:"content_price_cents"`
}

// CanRedeem evaluates every direct-redemption policy of the enterprise and
// reports the policy that would be used.
func (h *RedemptionHandler) CanRedeem(c *gin.Context) {
	claims := getClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var body canRedeemRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	fieldErrors := map[string][]string{}
	enterpriseUUID, errUUID := uuid.Parse(strings.TrimSpace(body.EnterpriseCustomerUUID))
	if errUUID != nil {
		fieldErrors["enterprise_customer_uuid"] = []string{"Must be a valid UUID."}
	}
	contentKey := strings.TrimSpace(body.ContentKey)
	if contentKey == "" {
		fieldErrors["content_key"] = []string{"This field is required."}
	}
	switch {
	case body.ContentPriceCents == nil:
		fieldErrors["content_price_cents"] = []string{"This field is required."}
	case *body.ContentPriceCents < 0:
		fieldErrors["content_price_cents"] = []string{"Ensure this value is greater than or equal to 0."}
	}
	if len(fieldErrors) > 0 {
		c.JSON(http.StatusBadRequest, fieldErrors)
		return
	}

	if !claims.HasLearnerAccess(enterpriseUUID.String()) {
		c.JSON(http.StatusForbidden, gin.H{"error": "permission denied"})
		return
	}
	lmsUserID := body.LMSUserID
	if lmsUserID <= 0 || !claims.HasAdminAccess(enterpriseUUID.String()) {
		lmsUserID = claims.UserID
	}

	ctx := c.Request.Context()
	var rows []models.SubsidyAccessPolicy
	if errFind := h.db.WithContext(ctx).
		Where("enterprise_customer_uuid = ?", enterpriseUUID).
		Order("uuid ASC").
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query policies failed"})
		return
	}
	candidates := make([]*models.SubsidyAccessPolicy, 0, len(rows))
	for i := range rows {
		// Assigned policies redeem through their assignments.
		if policy.Redeemable(rows[i].Kind) && !policy.Allocatable(rows[i].Kind) {
			candidates = append(candidates, &rows[i])
		}
	}

	resolution, errResolve := h.evaluator.ResolveRedeemable(ctx, candidates, lmsUserID, contentKey, *body.ContentPriceCents)
	if writeError(c, errResolve) {
		return
	}

	redeemable := make([]uuid.UUID, 0, len(resolution.Redeemable))
	for _, p := range resolution.Redeemable {
		redeemable = append(redeemable, p.UUID)
	}
	var selected *uuid.UUID
	if resolution.Selected != nil {
		id := resolution.Selected.UUID
		selected = &id
	}

	reasons := make([]failureDTO, 0)
	if selected == nil {
		byReason := map[policy.Reason]int{}
		for _, denial := range resolution.Denials {
			if idx, seen := byReason[denial.Reason]; seen {
				reasons[idx].PolicyUUIDs = append(reasons[idx].PolicyUUIDs, denial.Policy.UUID)
				continue
			}
			byReason[denial.Reason] = len(reasons)
			reasons = append(reasons, toFailureDTO(allocation.NewEligibilityFailure(ctx, h.admins, denial.Policy, denial.Reason)))
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"can_redeem":           selected != nil,
		"redeemable_policies":  redeemable,
		"selected_policy_uuid": selected,
		"reasons":              reasons,
	})
}
