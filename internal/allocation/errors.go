package allocation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/router-for-me/EnterpriseAccess/internal/clients"
	"github.com/router-for-me/EnterpriseAccess/internal/models"
	"github.com/router-for-me/EnterpriseAccess/internal/policy"
	log "github.com/sirupsen/logrus"
)

// Request errors.
var (
	// ErrValidation indicates malformed request input.
	ErrValidation = errors.New("allocation: invalid request")
	// ErrPolicyNotFound indicates the policy does not exist.
	ErrPolicyNotFound = errors.New("allocation: policy not found")
	// ErrNotAllocatable indicates the policy kind does not support assignments.
	ErrNotAllocatable = errors.New("allocation: policy does not support assignments")
)

// EligibilityFailure reports a policy-level denial with learner-facing context.
type EligibilityFailure struct {
	Reason        policy.Reason
	UserMessage   string
	PolicyUUID    uuid.UUID
	AdminContacts []clients.AdminUser
}

func (e *EligibilityFailure) Error() string {
	return fmt.Sprintf("allocation: policy %s denied: %s", e.PolicyUUID, e.Reason)
}

// NewEligibilityFailure builds the denial for reason. Admin contacts are
// looked up best-effort; a failed lookup yields the no-admins message.
func NewEligibilityFailure(ctx context.Context, admins AdminDirectory, p *models.SubsidyAccessPolicy, reason policy.Reason) *EligibilityFailure {
	contacts := adminContacts(ctx, admins, p.EnterpriseCustomerUUID)
	return &EligibilityFailure{
		Reason:        reason,
		UserMessage:   policy.UserMessage(reason, len(contacts) > 0),
		PolicyUUID:    p.UUID,
		AdminContacts: contacts,
	}
}

func adminContacts(ctx context.Context, admins AdminDirectory, enterpriseUUID uuid.UUID) []clients.AdminUser {
	if admins == nil {
		return []clients.AdminUser{}
	}
	found, err := admins.GetEnterpriseAdminUsers(ctx, enterpriseUUID)
	if err != nil {
		log.WithError(err).WithField("enterprise_uuid", enterpriseUUID.String()).Warn("admin contact lookup failed")
		return []clients.AdminUser{}
	}
	if found == nil {
		return []clients.AdminUser{}
	}
	return found
}
