package policy

import "github.com/router-for-me/EnterpriseAccess/internal/models"

// Policy type priorities. When several policies can redeem the same request,
// the one with the lowest number wins.
const (
	CreditPolicyTypePriority       = 1
	SubscriptionPolicyTypePriority = 2
)

// aggregateSource names where a policy kind's committed spend is tracked.
type aggregateSource int

const (
	aggregateFromLedger aggregateSource = iota
	aggregateFromAssignments
)

// learnerCheck evaluates a per-learner limit for redemption.
type learnerCheck func(p *models.SubsidyAccessPolicy, learner LearnerAggregates, priceCents int64) (Reason, bool)

// kindSpec captures the behaviour selected by a policy kind.
type kindSpec struct {
	priority      int
	allocatable   bool
	redeemable    bool
	aggregates    aggregateSource
	learnerChecks []learnerCheck
}

var kindSpecs = map[models.PolicyKind]kindSpec{
	models.PolicyKindPerLearnerEnrollmentCredit: {
		priority:      CreditPolicyTypePriority,
		redeemable:    true,
		aggregates:    aggregateFromLedger,
		learnerChecks: []learnerCheck{checkLearnerEnrollmentCap},
	},
	models.PolicyKindPerLearnerSpendCredit: {
		priority:      CreditPolicyTypePriority,
		redeemable:    true,
		aggregates:    aggregateFromLedger,
		learnerChecks: []learnerCheck{checkLearnerSpendCap},
	},
	models.PolicyKindAssignedLearnerCredit: {
		priority:    CreditPolicyTypePriority,
		allocatable: true,
		redeemable:  true,
		aggregates:  aggregateFromAssignments,
	},
	models.PolicyKindSubscription: {
		priority:   SubscriptionPolicyTypePriority,
		aggregates: aggregateFromLedger,
	},
}

// KnownKind reports whether kind is a supported policy variant.
func KnownKind(kind models.PolicyKind) bool {
	_, ok := kindSpecs[kind]
	return ok
}

// Priority returns the resolution priority of a policy kind.
// Unknown kinds sort after every known kind.
func Priority(kind models.PolicyKind) int {
	spec, ok := kindSpecs[kind]
	if !ok {
		return SubscriptionPolicyTypePriority + 1
	}
	return spec.priority
}

// Allocatable reports whether a policy kind reserves spend through assignments.
func Allocatable(kind models.PolicyKind) bool {
	return kindSpecs[kind].allocatable
}

// Redeemable reports whether a policy kind can drive ledger redemptions.
func Redeemable(kind models.PolicyKind) bool {
	return kindSpecs[kind].redeemable
}

func checkLearnerEnrollmentCap(p *models.SubsidyAccessPolicy, learner LearnerAggregates, _ int64) (Reason, bool) {
	if p.PerLearnerEnrollmentLimit == nil {
		return "", true
	}
	if learner.EnrollmentCount+1 > *p.PerLearnerEnrollmentLimit {
		return ReasonLearnerMaxEnrollmentsReached, false
	}
	return "", true
}

func checkLearnerSpendCap(p *models.SubsidyAccessPolicy, learner LearnerAggregates, priceCents int64) (Reason, bool) {
	if p.PerLearnerSpendLimit == nil {
		return "", true
	}
	// TotalQuantity is non-positive.
	if *p.PerLearnerSpendLimit+learner.TotalQuantity-priceCents < 0 {
		return ReasonLearnerMaxSpendReached, false
	}
	return "", true
}
