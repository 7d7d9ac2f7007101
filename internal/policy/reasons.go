package policy

// Reason is a machine-readable code explaining why access was denied.
type Reason string

// Reason codes returned by the eligibility checks.
const (
	ReasonPolicyExpired                Reason = "policy_expired"
	ReasonSubsidyExpired               Reason = "subsidy_expired"
	ReasonContentNotInCatalog          Reason = "content_not_in_catalog"
	ReasonLearnerNotInEnterprise       Reason = "learner_not_in_enterprise"
	ReasonNotEnoughValueInSubsidy      Reason = "not_enough_value_in_subsidy"
	ReasonLearnerMaxSpendReached       Reason = "learner_max_spend_reached"
	ReasonPolicySpendLimitReached      Reason = "policy_spend_limit_reached"
	ReasonLearnerMaxEnrollmentsReached Reason = "learner_max_enrollments_reached"
)

// User-facing messages explaining why the learner does not have subsidized access.
const (
	MessageOrganizationNoFunds      = "You can't enroll right now because your organization doesn't have enough funds."
	MessageOrganizationExpiredFunds = "You can't enroll right now because your funds expired."
	MessageLearnerLimitsReached     = "You can't enroll right now because of limits set by your organization."
	MessageContentNotInCatalog      = "You can't enroll right now because this course is no longer available in your organization's catalog."
	MessageLearnerNotInEnterprise   = "You can't enroll right now because your account is no longer associated with the organization."

	// MessageOrganizationNoFundsNoAdmins is used when no admin contact can be offered.
	MessageOrganizationNoFundsNoAdmins = MessageOrganizationNoFunds + " Contact your administrator to request more."
	// MessageOrganizationExpiredFundsNoAdmins is used when no admin contact can be offered.
	MessageOrganizationExpiredFundsNoAdmins = MessageOrganizationExpiredFunds + " Contact your administrator for help."
)

type reasonMessages struct {
	withAdmins string
	noAdmins   string
}

var reasonCatalog = map[Reason]reasonMessages{
	ReasonPolicyExpired:                {MessageOrganizationNoFunds, MessageOrganizationNoFundsNoAdmins},
	ReasonSubsidyExpired:               {MessageOrganizationExpiredFunds, MessageOrganizationExpiredFundsNoAdmins},
	ReasonContentNotInCatalog:          {MessageContentNotInCatalog, MessageContentNotInCatalog},
	ReasonLearnerNotInEnterprise:       {MessageLearnerNotInEnterprise, MessageLearnerNotInEnterprise},
	ReasonNotEnoughValueInSubsidy:      {MessageOrganizationNoFunds, MessageOrganizationNoFundsNoAdmins},
	ReasonLearnerMaxSpendReached:       {MessageLearnerLimitsReached, MessageLearnerLimitsReached},
	ReasonPolicySpendLimitReached:      {MessageOrganizationNoFunds, MessageOrganizationNoFundsNoAdmins},
	ReasonLearnerMaxEnrollmentsReached: {MessageLearnerLimitsReached, MessageLearnerLimitsReached},
}

// UserMessage returns the learner-facing text for a reason.
// Unknown reasons map to an empty string.
func UserMessage(reason Reason, hasAdmins bool) string {
	msgs, ok := reasonCatalog[reason]
	if !ok {
		return ""
	}
	if hasAdmins {
		return msgs.withAdmins
	}
	return msgs.noAdmins
}

// Known reports whether the reason is part of the catalog.
func (r Reason) Known() bool {
	_, ok := reasonCatalog[r]
	return ok
}
