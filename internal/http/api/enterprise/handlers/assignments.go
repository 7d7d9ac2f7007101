package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/router-for-me/EnterpriseAccess/internal/assignments"
	"github.com/router-for-me/EnterpriseAccess/internal/models"
	"github.com/router-for-me/EnterpriseAccess/internal/redemption"
	"gorm.io/gorm"
)

// AssignmentHandler serves assignment lifecycle endpoints.
type AssignmentHandler struct {
	db       *gorm.DB
	pipeline *redemption.Pipeline
}

// NewAssignmentHandler constructs an AssignmentHandler.
func NewAssignmentHandler(db *gorm.DB, pipeline *redemption.Pipeline) *AssignmentHandler {
	return &AssignmentHandler{db: db, pipeline: pipeline}
}

// redeemAssignmentRequest defines the request body for assignment redemption.
type redeemAssignmentRequest struct {
	LMSUserID int64 `json:"lms_user_id"`
}

// assignmentEnterprise returns the enterprise owning the assignment.
func (h *AssignmentHandler) assignmentEnterprise(ctx context.Context, assignmentUUID uuid.UUID) (*models.LearnerContentAssignment, uuid.UUID, error) {
	var row models.LearnerContentAssignment
	if errFind := h.db.WithContext(ctx).Where("uuid = ?", assignmentUUID).First(&row).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, uuid.Nil, assignments.ErrNotFound
		}
		return nil, uuid.Nil, fmt.Errorf("load assignment: %w", errFind)
	}
	var cfg models.AssignmentConfiguration
	if errFind := h.db.WithContext(ctx).Where("uuid = ?", row.AssignmentConfigurationUUID).First(&cfg).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, uuid.Nil, assignments.ErrNotFound
		}
		return nil, uuid.Nil, fmt.Errorf("load assignment configuration: %w", errFind)
	}
	return &row, cfg.EnterpriseCustomerUUID, nil
}

// Cancel revokes an assignment before redemption.
func (h *AssignmentHandler) Cancel(c *gin.Context) {
	claims := getClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	assignmentUUID, ok := parseUUIDParam(c, "assignment_uuid")
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "assignment not found"})
		return
	}
	ctx := c.Request.Context()
	_, enterpriseUUID, errLoad := h.assignmentEnterprise(ctx, assignmentUUID)
	if writeError(c, errLoad) {
		return
	}
	if !claims.HasAdminAccess(enterpriseUUID.String()) {
		c.JSON(http.StatusForbidden, gin.H{"error": "permission denied"})
		return
	}

	cancelled, errCancel := h.pipeline.Cancel(ctx, assignmentUUID)
	if writeError(c, errCancel) {
		return
	}
	c.JSON(http.StatusOK, toAssignmentDTO(*cancelled))
}

// Redeem commits an allocated assignment to the ledger on behalf of its learner.
func (h *AssignmentHandler) Redeem(c *gin.Context) {
	claims := getClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	assignmentUUID, ok := parseUUIDParam(c, "assignment_uuid")
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "assignment not found"})
		return
	}
	ctx := c.Request.Context()
	row, enterpriseUUID, errLoad := h.assignmentEnterprise(ctx, assignmentUUID)
	if writeError(c, errLoad) {
		return
	}

	isAdmin := claims.HasAdminAccess(enterpriseUUID.String())
	if !isAdmin {
		// Learners may only redeem their own assignments.
		if !claims.HasLearnerAccess(enterpriseUUID.String()) || claims.Email == "" || claims.Email != row.LearnerEmail {
			c.JSON(http.StatusForbidden, gin.H{"error": "permission denied"})
			return
		}
	}

	var body redeemAssignmentRequest
	if c.Request.ContentLength != 0 {
		if errBind := c.ShouldBindJSON(&body); errBind != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	lmsUserID := body.LMSUserID
	if !isAdmin || lmsUserID <= 0 {
		lmsUserID = claims.UserID
	}
	if lmsUserID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"lms_user_id": []string{"This field is required."}})
		return
	}

	redeemed, errRedeem := h.pipeline.Redeem(ctx, assignmentUUID, lmsUserID)
	if writeError(c, errRedeem) {
		return
	}
	c.JSON(http.StatusOK, toAssignmentDTO(*redeemed))
}
