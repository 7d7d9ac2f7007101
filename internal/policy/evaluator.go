package policy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/router-for-me/EnterpriseAccess/internal/models"
)

// ErrInvalidRequest is returned when evaluation inputs violate the caller contract.
var ErrInvalidRequest = errors.New("policy: invalid request")

// Aggregates summarizes committed spend for a policy, in non-positive cents.
type Aggregates struct {
	// TotalQuantity is every cent attributed to the policy: open reservations
	// plus spend already redeemed on the ledger.
	TotalQuantity int64
	// PendingQuantity is the part of TotalQuantity not yet reflected in the
	// ledger balance (open assignment reservations).
	PendingQuantity int64
}

// LearnerAggregates summarizes one learner's redemptions through a policy.
type LearnerAggregates struct {
	TotalQuantity   int64
	EnrollmentCount int
}

// Ledger is the subsidy service consulted for windows and balances.
type Ledger interface {
	GetSubsidy(ctx context.Context, subsidyUUID uuid.UUID) (*Subsidy, error)
	RemainingBalance(ctx context.Context, subsidyUUID uuid.UUID) (int64, error)
	PolicyAggregates(ctx context.Context, subsidyUUID, policyUUID uuid.UUID) (Aggregates, error)
	LearnerAggregates(ctx context.Context, subsidyUUID, policyUUID uuid.UUID, lmsUserID int64) (LearnerAggregates, error)
}

// Catalog answers content membership for a policy's catalog.
type Catalog interface {
	ContainsContentKey(ctx context.Context, catalogUUID uuid.UUID, contentKey string) (bool, error)
}

// Directory answers learner membership for an enterprise.
type Directory interface {
	EnterpriseContainsLearner(ctx context.Context, enterpriseUUID uuid.UUID, lmsUserID int64) (bool, error)
}

// AssignmentAggregator sums the reservations held by an assignment configuration.
type AssignmentAggregator interface {
	AggregatesForConfiguration(ctx context.Context, configurationUUID uuid.UUID) (Aggregates, error)
}

// Decision is the outcome of an eligibility evaluation.
type Decision struct {
	Allowed bool
	Reason  Reason
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason Reason) Decision { return Decision{Reason: reason} }

// Evaluator runs the eligibility and balance checks for policies.
type Evaluator struct {
	ledger      Ledger
	catalog     Catalog
	directory   Directory
	assignments AssignmentAggregator
	now         func() time.Time
}

// NewEvaluator constructs an Evaluator. directory may be nil when learner
// membership checks are not needed.
func NewEvaluator(ledger Ledger, catalog Catalog, directory Directory, assignments AssignmentAggregator) *Evaluator {
	return &Evaluator{
		ledger:      ledger,
		catalog:     catalog,
		directory:   directory,
		assignments: assignments,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the evaluator clock.
func (e *Evaluator) WithClock(now func() time.Time) *Evaluator {
	if now != nil {
		e.now = now
	}
	return e
}

// IsSubsidyActive reports whether the policy's subsidy is inside its active window.
func (e *Evaluator) IsSubsidyActive(ctx context.Context, p *models.SubsidyAccessPolicy) (bool, error) {
	subsidy, err := e.ledger.GetSubsidy(ctx, p.SubsidyUUID)
	if err != nil {
		return false, fmt.Errorf("policy: load subsidy %s: %w", p.SubsidyUUID, err)
	}
	return IsSubsidyActive(subsidy, e.now()), nil
}

// CatalogContainsContentKey reports whether contentKey is in the policy's catalog.
func (e *Evaluator) CatalogContainsContentKey(ctx context.Context, p *models.SubsidyAccessPolicy, contentKey string) (bool, error) {
	ok, err := e.catalog.ContainsContentKey(ctx, p.CatalogUUID, contentKey)
	if err != nil {
		return false, fmt.Errorf("policy: catalog %s lookup: %w", p.CatalogUUID, err)
	}
	return ok, nil
}

// SubsidyBalance returns the remaining balance of the policy's subsidy, in cents.
func (e *Evaluator) SubsidyBalance(ctx context.Context, p *models.SubsidyAccessPolicy) (int64, error) {
	balance, err := e.ledger.RemainingBalance(ctx, p.SubsidyUUID)
	if err != nil {
		return 0, fmt.Errorf("policy: subsidy %s balance: %w", p.SubsidyUUID, err)
	}
	return balance, nil
}

// AggregatesForPolicy returns the committed spend of the policy.
func (e *Evaluator) AggregatesForPolicy(ctx context.Context, p *models.SubsidyAccessPolicy) (Aggregates, error) {
	spec := kindSpecs[p.Kind]
	if spec.aggregates == aggregateFromAssignments {
		if p.AssignmentConfigurationUUID == nil || e.assignments == nil {
			return Aggregates{}, nil
		}
		agg, err := e.assignments.AggregatesForConfiguration(ctx, *p.AssignmentConfigurationUUID)
		if err != nil {
			return Aggregates{}, fmt.Errorf("policy: aggregate assignments: %w", err)
		}
		return agg, nil
	}
	agg, err := e.ledger.PolicyAggregates(ctx, p.SubsidyUUID, p.UUID)
	if err != nil {
		return Aggregates{}, fmt.Errorf("policy: aggregate transactions: %w", err)
	}
	return agg, nil
}

// CanAllocate decides whether learnerCount new reservations of priceCents each
// fit the subsidy balance and the policy spend limit. Checks run in a fixed
// order and the first failure is returned. Callers must hold the policy lock.
func (e *Evaluator) CanAllocate(ctx context.Context, p *models.SubsidyAccessPolicy, learnerCount int, contentKey string, priceCents int64) (Decision, error) {
	if p == nil {
		return Decision{}, fmt.Errorf("%w: nil policy", ErrInvalidRequest)
	}
	if learnerCount <= 0 {
		return Decision{}, fmt.Errorf("%w: learner count must be positive", ErrInvalidRequest)
	}
	if priceCents < 0 {
		return Decision{}, fmt.Errorf("%w: content price must be non-negative", ErrInvalidRequest)
	}

	if !p.Active {
		return deny(ReasonPolicyExpired), nil
	}

	active, err := e.IsSubsidyActive(ctx, p)
	if err != nil {
		return Decision{}, err
	}
	if !active {
		return deny(ReasonSubsidyExpired), nil
	}

	inCatalog, err := e.CatalogContainsContentKey(ctx, p, contentKey)
	if err != nil {
		return Decision{}, err
	}
	if !inCatalog {
		return deny(ReasonContentNotInCatalog), nil
	}

	requiredSpend, ok := multiplyCents(int64(learnerCount), priceCents)
	if !ok {
		return deny(ReasonNotEnoughValueInSubsidy), nil
	}

	agg, err := e.AggregatesForPolicy(ctx, p)
	if err != nil {
		return Decision{}, err
	}
	balance, err := e.SubsidyBalance(ctx, p)
	if err != nil {
		return Decision{}, err
	}
	if wouldOverdraw(balance, agg.PendingQuantity, requiredSpend) {
		return deny(ReasonNotEnoughValueInSubsidy), nil
	}

	if p.HasSpendLimit() && wouldOverdraw(*p.SpendLimit, agg.TotalQuantity, requiredSpend) {
		return deny(ReasonPolicySpendLimitReached), nil
	}

	return allow(), nil
}

// CanRedeem decides whether a learner may redeem contentKey at priceCents
// through the policy.
func (e *Evaluator) CanRedeem(ctx context.Context, p *models.SubsidyAccessPolicy, lmsUserID int64, contentKey string, priceCents int64) (Decision, error) {
	if p == nil {
		return Decision{}, fmt.Errorf("%w: nil policy", ErrInvalidRequest)
	}
	if priceCents < 0 {
		return Decision{}, fmt.Errorf("%w: content price must be non-negative", ErrInvalidRequest)
	}
	spec, known := kindSpecs[p.Kind]
	if !known || !spec.redeemable || !p.Active {
		return deny(ReasonPolicyExpired), nil
	}

	active, err := e.IsSubsidyActive(ctx, p)
	if err != nil {
		return Decision{}, err
	}
	if !active {
		return deny(ReasonSubsidyExpired), nil
	}

	inCatalog, err := e.CatalogContainsContentKey(ctx, p, contentKey)
	if err != nil {
		return Decision{}, err
	}
	if !inCatalog {
		return deny(ReasonContentNotInCatalog), nil
	}

	if e.directory != nil && lmsUserID > 0 {
		member, errMember := e.directory.EnterpriseContainsLearner(ctx, p.EnterpriseCustomerUUID, lmsUserID)
		if errMember != nil {
			return Decision{}, fmt.Errorf("policy: learner membership: %w", errMember)
		}
		if !member {
			return deny(ReasonLearnerNotInEnterprise), nil
		}
	}

	if len(spec.learnerChecks) > 0 {
		learner, errLearner := e.ledger.LearnerAggregates(ctx, p.SubsidyUUID, p.UUID, lmsUserID)
		if errLearner != nil {
			return Decision{}, fmt.Errorf("policy: learner aggregates: %w", errLearner)
		}
		for _, check := range spec.learnerChecks {
			if reason, ok := check(p, learner, priceCents); !ok {
				return deny(reason), nil
			}
		}
	}

	balance, err := e.SubsidyBalance(ctx, p)
	if err != nil {
		return Decision{}, err
	}
	// Ledger balance already reflects redeemed spend; assigned redemptions
	// consume their own reservation, so only the price is charged here.
	if wouldOverdraw(balance, 0, priceCents) {
		return deny(ReasonNotEnoughValueInSubsidy), nil
	}

	if p.HasSpendLimit() && spec.aggregates == aggregateFromLedger {
		agg, errAgg := e.AggregatesForPolicy(ctx, p)
		if errAgg != nil {
			return Decision{}, errAgg
		}
		if wouldOverdraw(*p.SpendLimit, agg.TotalQuantity, priceCents) {
			return deny(ReasonPolicySpendLimitReached), nil
		}
	}

	return allow(), nil
}

// wouldOverdraw reports whether limit + committed - required drops below zero.
// committed is non-positive. Landing exactly on zero is allowed.
func wouldOverdraw(limit, committed, required int64) bool {
	headroom := limit + committed
	return headroom < required
}

// multiplyCents returns n*price, reporting false on int64 overflow.
func multiplyCents(n, price int64) (int64, bool) {
	if n == 0 || price == 0 {
		return 0, true
	}
	if price > math.MaxInt64/n {
		return 0, false
	}
	return n * price, true
}
