package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// AssignmentState is the lifecycle state of a learner content assignment.
type AssignmentState string

// AssignmentState constants define the assignment lifecycle.
const (
	// AssignmentStateAllocated reserves budget that has not been redeemed yet.
	AssignmentStateAllocated AssignmentState = "allocated"
	// AssignmentStateAccepted marks a redeemed assignment with a committed transaction.
	AssignmentStateAccepted AssignmentState = "accepted"
	// AssignmentStateCancelled marks an assignment revoked by an admin.
	AssignmentStateCancelled AssignmentState = "cancelled"
	// AssignmentStateErrored marks an assignment whose redemption failed.
	AssignmentStateErrored AssignmentState = "errored"
)

// IsTerminal reports whether no further transitions are allowed from the state.
func (s AssignmentState) IsTerminal() bool {
	return s == AssignmentStateAccepted || s == AssignmentStateCancelled
}

// AssignmentConfiguration groups the assignments of one assigned learner credit policy.
type AssignmentConfiguration struct {
	UUID uuid.UUID `gorm:"type:uuid;primaryKey"` // Configuration identity.

	EnterpriseCustomerUUID uuid.UUID `gorm:"type:uuid;not null;index"` // Owning enterprise customer.
	Active                 bool      `gorm:"not null;default:true"`    // Whether the configuration accepts assignments.

	Assignments []LearnerContentAssignment `gorm:"foreignKey:AssignmentConfigurationUUID;constraint:OnDelete:CASCADE"` // Owned assignments.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// TableName overrides the default table name.
func (AssignmentConfiguration) TableName() string {
	return "assignment_configurations"
}

// LearnerContentAssignment reserves policy budget for one learner and one content key.
type LearnerContentAssignment struct {
	UUID uuid.UUID `gorm:"type:uuid;primaryKey"` // Assignment identity.

	AssignmentConfigurationUUID uuid.UUID `gorm:"type:uuid;not null;index:idx_assignment_lookup,priority:1"`         // Owning configuration.
	LearnerEmail                string    `gorm:"type:varchar(255);not null;index:idx_assignment_lookup,priority:2"` // Learner the budget is reserved for.
	LMSUserID                   *int64    `gorm:"column:lms_user_id;index"`                                          // Resolved learner id, once linked.
	ContentKey                  string    `gorm:"type:varchar(255);not null;index:idx_assignment_lookup,priority:3"` // Catalog content identifier.

	ContentQuantity int64           `gorm:"type:bigint;not null;default:0"`                      // Reserved spend in cents, always <= 0.
	State           AssignmentState `gorm:"type:varchar(32);not null;default:'allocated';index"` // Lifecycle state.

	LastNotificationAt *time.Time `gorm:"index"`           // Last time the learner was notified.
	TransactionUUID    *uuid.UUID `gorm:"type:uuid;index"` // Ledger transaction, once redeemed.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// TableName overrides the default table name.
func (LearnerContentAssignment) TableName() string {
	return "learner_content_assignments"
}

// AssignmentActionType names a recorded lifecycle event on an assignment.
type AssignmentActionType string

// AssignmentActionType constants name the audited lifecycle events.
const (
	AssignmentActionAllocated   AssignmentActionType = "allocated"
	AssignmentActionReallocated AssignmentActionType = "reallocated"
	AssignmentActionRedeemed    AssignmentActionType = "redeemed"
	AssignmentActionErrored     AssignmentActionType = "errored"
	AssignmentActionCancelled   AssignmentActionType = "cancelled"
)

// AssignmentAction is an append-only audit entry for an assignment.
type AssignmentAction struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	AssignmentUUID uuid.UUID            `gorm:"type:uuid;not null;index"`  // Related assignment.
	ActionType     AssignmentActionType `gorm:"type:varchar(32);not null"` // Event name.
	Detail         datatypes.JSON       `gorm:"type:jsonb"`                // Event payload.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}

// TableName overrides the default table name.
func (AssignmentAction) TableName() string {
	return "learner_content_assignment_actions"
}
