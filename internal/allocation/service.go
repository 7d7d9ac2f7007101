package allocation

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/router-for-me/EnterpriseAccess/internal/assignments"
	"github.com/router-for-me/EnterpriseAccess/internal/clients"
	"github.com/router-for-me/EnterpriseAccess/internal/lock"
	"github.com/router-for-me/EnterpriseAccess/internal/metrics"
	"github.com/router-for-me/EnterpriseAccess/internal/models"
	"github.com/router-for-me/EnterpriseAccess/internal/policy"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// AdminDirectory looks up the administrators of an enterprise.
type AdminDirectory interface {
	GetEnterpriseAdminUsers(ctx context.Context, enterpriseUUID uuid.UUID) ([]clients.AdminUser, error)
}

// Service evaluates and allocates assignments for assigned learner credit policies.
type Service struct {
	db        *gorm.DB
	locks     *lock.Manager
	evaluator *policy.Evaluator
	admins    AdminDirectory
	metrics   *metrics.Metrics
}

// NewService constructs a Service. admins and m may be nil.
func NewService(db *gorm.DB, locks *lock.Manager, evaluator *policy.Evaluator, admins AdminDirectory, m *metrics.Metrics) *Service {
	return &Service{db: db, locks: locks, evaluator: evaluator, admins: admins, metrics: m}
}

// LoadPolicy returns the policy with its assignment configuration.
func LoadPolicy(ctx context.Context, db *gorm.DB, policyUUID uuid.UUID) (*models.SubsidyAccessPolicy, error) {
	var p models.SubsidyAccessPolicy
	errFind := db.WithContext(ctx).
		Preload("AssignmentConfiguration").
		Where("uuid = ?", policyUUID).
		First(&p).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrPolicyNotFound, policyUUID)
		}
		return nil, fmt.Errorf("allocation: load policy %s: %w", policyUUID, errFind)
	}
	return &p, nil
}

// ValidateRequest checks the allocation input and returns the trimmed,
// de-duplicated learner emails in first-seen order.
func ValidateRequest(learnerEmails []string, contentKey string, priceCents int64) ([]string, error) {
	if priceCents < 0 {
		return nil, fmt.Errorf("%w: content price must be >= 0", ErrValidation)
	}
	if strings.TrimSpace(contentKey) == "" {
		return nil, fmt.Errorf("%w: content key is required", ErrValidation)
	}
	if len(learnerEmails) == 0 {
		return nil, fmt.Errorf("%w: learner emails are required", ErrValidation)
	}
	seen := make(map[string]struct{}, len(learnerEmails))
	out := make([]string, 0, len(learnerEmails))
	for _, raw := range learnerEmails {
		email := strings.TrimSpace(raw)
		addr, errParse := mail.ParseAddress(email)
		if errParse != nil || addr.Address != email {
			return nil, fmt.Errorf("%w: invalid learner email %q", ErrValidation, raw)
		}
		if _, dup := seen[email]; dup {
			continue
		}
		seen[email] = struct{}{}
		out = append(out, email)
	}
	return out, nil
}

// EvaluateAndAllocate checks that the policy can fund one assignment per
// learner at priceCents and then allocates them, all under the policy lock.
// Denials are returned as *EligibilityFailure; a held lock as lock.ErrLocked.
func (s *Service) EvaluateAndAllocate(ctx context.Context, policyUUID uuid.UUID, learnerEmails []string, contentKey string, priceCents int64) (assignments.Result, error) {
	started := time.Now()
	result, err := s.evaluateAndAllocate(ctx, policyUUID, learnerEmails, contentKey, priceCents)
	s.metrics.ObserveAllocation(outcomeOf(err), time.Since(started))
	if err == nil {
		s.metrics.AddAssignments(len(result.Updated), len(result.Created), len(result.NoChange))
	}
	return result, err
}

func (s *Service) evaluateAndAllocate(ctx context.Context, policyUUID uuid.UUID, learnerEmails []string, contentKey string, priceCents int64) (assignments.Result, error) {
	emails, errValidate := ValidateRequest(learnerEmails, contentKey, priceCents)
	if errValidate != nil {
		return assignments.Result{}, errValidate
	}
	p, errLoad := LoadPolicy(ctx, s.db, policyUUID)
	if errLoad != nil {
		return assignments.Result{}, errLoad
	}
	if !policy.Allocatable(p.Kind) || p.AssignmentConfiguration == nil {
		return assignments.Result{}, fmt.Errorf("%w: %s (%s)", ErrNotAllocatable, p.UUID, p.Kind)
	}

	logger := log.WithFields(log.Fields{
		"policy_uuid": p.UUID.String(),
		"learners":    len(emails),
		"content_key": contentKey,
	})

	var result assignments.Result
	errLocked := s.locks.WithLock(ctx, p.UUID, func(ctx context.Context) error {
		decision, errEval := s.evaluator.CanAllocate(ctx, p, len(emails), contentKey, priceCents)
		if errEval != nil {
			return errEval
		}
		if !decision.Allowed {
			return s.eligibilityFailure(ctx, p, decision.Reason)
		}
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var errAlloc error
			result, errAlloc = assignments.Allocate(ctx, tx, p.AssignmentConfiguration, emails, contentKey, priceCents)
			return errAlloc
		})
	})

	var failure *EligibilityFailure
	switch {
	case errLocked == nil:
		logger.WithFields(log.Fields{
			"created":   len(result.Created),
			"updated":   len(result.Updated),
			"no_change": len(result.NoChange),
		}).Info("assignments allocated")
		return result, nil
	case errors.Is(errLocked, lock.ErrLocked):
		logger.Info("allocation rejected: policy locked")
	case errors.As(errLocked, &failure):
		logger.WithField("reason", failure.Reason).Info("allocation denied")
	case errors.Is(errLocked, clients.ErrUnavailable):
		logger.WithError(errLocked).Warn("allocation aborted: upstream unavailable")
	default:
		logger.WithError(errLocked).Error("allocation failed")
	}
	return assignments.Result{}, errLocked
}

func (s *Service) eligibilityFailure(ctx context.Context, p *models.SubsidyAccessPolicy, reason policy.Reason) error {
	s.metrics.IncEligibilityFailure(string(reason))
	return NewEligibilityFailure(ctx, s.admins, p, reason)
}

func outcomeOf(err error) string {
	var failure *EligibilityFailure
	switch {
	case err == nil:
		return metrics.OutcomeAllocated
	case errors.Is(err, lock.ErrLocked):
		return metrics.OutcomeLocked
	case errors.As(err, &failure):
		return metrics.OutcomeIneligible
	default:
		return metrics.OutcomeError
	}
}
