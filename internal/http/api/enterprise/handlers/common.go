package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/router-for-me/EnterpriseAccess/internal/allocation"
	"github.com/router-for-me/EnterpriseAccess/internal/assignments"
	"github.com/router-for-me/EnterpriseAccess/internal/clients"
	"github.com/router-for-me/EnterpriseAccess/internal/lock"
	"github.com/router-for-me/EnterpriseAccess/internal/models"
	"github.com/router-for-me/EnterpriseAccess/internal/policy"
	"github.com/router-for-me/EnterpriseAccess/internal/security"
	log "github.com/sirupsen/logrus"
)

// ClaimsContextKey is the gin context key holding *security.AccessClaims.
const ClaimsContextKey = "accessClaims"

// lockedDetail is returned while another request holds the policy lock.
const lockedDetail = "Enrollment currently locked for this subsidy access policy."

// getClaims returns the authenticated caller, or nil.
func getClaims(c *gin.Context) *security.AccessClaims {
	value, ok := c.Get(ClaimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := value.(*security.AccessClaims)
	return claims
}

// parseUUIDParam reads a UUID path parameter.
func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(c.Param(name)))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// assignmentDTO defines the assignment response payload.
type assignmentDTO struct {
	UUID                    uuid.UUID  `json:"uuid"`
	AssignmentConfiguration uuid.UUID  `json:"assignment_configuration"`
	LearnerEmail            string     `json:"learner_email"`
	LMSUserID               *int64     `json:"lms_user_id"`
	ContentKey              string     `json:"content_key"`
	ContentQuantity         int64      `json:"content_quantity"`
	State                   string     `json:"state"`
	TransactionUUID         *uuid.UUID `json:"transaction_uuid"`
	LastNotificationAt      *time.Time `json:"last_notification_at"`
}

func toAssignmentDTO(a models.LearnerContentAssignment) assignmentDTO {
	return assignmentDTO{
		UUID:                    a.UUID,
		AssignmentConfiguration: a.AssignmentConfigurationUUID,
		LearnerEmail:            a.LearnerEmail,
		LMSUserID:               a.LMSUserID,
		ContentKey:              a.ContentKey,
		ContentQuantity:         a.ContentQuantity,
		State:                   string(a.State),
		TransactionUUID:         a.TransactionUUID,
		LastNotificationAt:      a.LastNotificationAt,
	}
}

func toAssignmentDTOs(rows []models.LearnerContentAssignment) []assignmentDTO {
	out := make([]assignmentDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, toAssignmentDTO(row))
	}
	return out
}

// failureMetadata carries the contacts shown next to a denial.
type failureMetadata struct {
	EnterpriseAdministrators []clients.AdminUser `json:"enterprise_administrators"`
}

// failureDTO is one entry of a 422 response body.
type failureDTO struct {
	Reason      policy.Reason   `json:"reason"`
	UserMessage string          `json:"user_message"`
	PolicyUUIDs []uuid.UUID     `json:"policy_uuids"`
	Metadata    failureMetadata `json:"metadata"`
}

func toFailureDTO(failure *allocation.EligibilityFailure) failureDTO {
	admins := failure.AdminContacts
	if admins == nil {
		admins = []clients.AdminUser{}
	}
	return failureDTO{
		Reason:      failure.Reason,
		UserMessage: failure.UserMessage,
		PolicyUUIDs: []uuid.UUID{failure.PolicyUUID},
		Metadata:    failureMetadata{EnterpriseAdministrators: admins},
	}
}

// writeError maps core errors onto HTTP responses. It reports false when err is nil.
func writeError(c *gin.Context, err error) bool {
	if err == nil {
		return false
	}
	var failure *allocation.EligibilityFailure
	switch {
	case errors.As(err, &failure):
		c.JSON(http.StatusUnprocessableEntity, []failureDTO{toFailureDTO(failure)})
	case errors.Is(err, lock.ErrLocked):
		c.JSON(http.StatusTooManyRequests, gin.H{"detail": lockedDetail})
	case errors.Is(err, allocation.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, allocation.ErrPolicyNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "policy not found"})
	case errors.Is(err, assignments.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "assignment not found"})
	case errors.Is(err, allocation.ErrNotAllocatable):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "policy does not support assignments"})
	case errors.Is(err, assignments.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, clients.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "upstream service unavailable"})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "request cancelled"})
	default:
		log.WithError(err).Error("enterprise api: unexpected error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
	return true
}
