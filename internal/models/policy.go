package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// PolicyKind discriminates the subsidy access policy variants.
type PolicyKind string

// PolicyKind constants name every supported policy variant.
const (
	// PolicyKindPerLearnerEnrollmentCredit caps the number of enrollments per learner.
	PolicyKindPerLearnerEnrollmentCredit PolicyKind = "PerLearnerEnrollmentCreditAccessPolicy"
	// PolicyKindPerLearnerSpendCredit caps the spend per learner.
	PolicyKindPerLearnerSpendCredit PolicyKind = "PerLearnerSpendCreditAccessPolicy"
	// PolicyKindAssignedLearnerCredit spends through admin-made assignments.
	PolicyKindAssignedLearnerCredit PolicyKind = "AssignedLearnerCreditAccessPolicy"
	// PolicyKindSubscription grants access through a subscription license.
	PolicyKindSubscription PolicyKind = "SubscriptionAccessPolicy"
)

// SubsidyAccessPolicy is a configured spending rule for one enterprise customer.
type SubsidyAccessPolicy struct {
	UUID uuid.UUID `gorm:"type:uuid;primaryKey"` // Policy identity.

	EnterpriseCustomerUUID uuid.UUID  `gorm:"type:uuid;not null;index"`                         // Owning enterprise customer.
	Kind                   PolicyKind `gorm:"column:policy_type;type:varchar(64);not null;index"` // Variant discriminator.
	DisplayName            string     `gorm:"type:text"`                                          // Admin-facing name.
	Description            string     `gorm:"type:text"`                                          // Free-form description.

	Active      bool      `gorm:"not null;default:true"`    // Administrative on/off switch.
	SpendLimit  *int64    `gorm:"type:bigint"`              // Policy-wide cap in cents; nil means unbounded.
	SubsidyUUID uuid.UUID `gorm:"type:uuid;not null;index"` // Ledger-backed subsidy this policy draws from.
	CatalogUUID uuid.UUID `gorm:"type:uuid;not null;index"` // Content catalog scoped to this policy.

	PerLearnerEnrollmentLimit *int   `gorm:"type:integer"` // Max enrollments per learner (per-learner enrollment kind).
	PerLearnerSpendLimit      *int64 `gorm:"type:bigint"`  // Max cents per learner (per-learner spend kind).

	AssignmentConfigurationUUID *uuid.UUID               `gorm:"type:uuid;uniqueIndex"`                  // Owned configuration (assigned kind).
	AssignmentConfiguration     *AssignmentConfiguration `gorm:"foreignKey:AssignmentConfigurationUUID"` // Owned configuration record.

	Metadata datatypes.JSON `gorm:"type:jsonb"` // Arbitrary admin metadata.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// TableName overrides the default table name.
func (SubsidyAccessPolicy) TableName() string {
	return "subsidy_access_policies"
}

// HasSpendLimit reports whether the policy carries a finite spend cap.
func (p *SubsidyAccessPolicy) HasSpendLimit() bool {
	return p != nil && p.SpendLimit != nil
}
