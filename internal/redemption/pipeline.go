package redemption

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/router-for-me/EnterpriseAccess/internal/allocation"
	"github.com/router-for-me/EnterpriseAccess/internal/assignments"
	"github.com/router-for-me/EnterpriseAccess/internal/clients"
	"github.com/router-for-me/EnterpriseAccess/internal/lock"
	"github.com/router-for-me/EnterpriseAccess/internal/metrics"
	"github.com/router-for-me/EnterpriseAccess/internal/models"
	"github.com/router-for-me/EnterpriseAccess/internal/policy"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Redemption outcomes used as metric labels.
const (
	outcomeRedeemed = "redeemed"
	outcomeDenied   = "denied"
	outcomeErrored  = "errored"
	outcomeLocked   = "locked"
)

// Committer records redemptions on the ledger.
type Committer interface {
	CommitTransaction(ctx context.Context, req clients.CommitRequest) (clients.Transaction, error)
}

// Pipeline turns allocated assignments into committed ledger transactions.
type Pipeline struct {
	db        *gorm.DB
	locks     *lock.Manager
	evaluator *policy.Evaluator
	ledger    Committer
	admins    allocation.AdminDirectory
	metrics   *metrics.Metrics
}

// NewPipeline constructs a Pipeline. admins and m may be nil.
func NewPipeline(db *gorm.DB, locks *lock.Manager, evaluator *policy.Evaluator, ledger Committer, admins allocation.AdminDirectory, m *metrics.Metrics) *Pipeline {
	return &Pipeline{db: db, locks: locks, evaluator: evaluator, ledger: ledger, admins: admins, metrics: m}
}

// policyForAssignment returns the assigned policy owning the assignment's configuration.
func (p *Pipeline) policyForAssignment(ctx context.Context, assignmentUUID uuid.UUID) (*models.LearnerContentAssignment, *models.SubsidyAccessPolicy, error) {
	assignment, err := assignments.Get(ctx, p.db, assignmentUUID)
	if err != nil {
		return nil, nil, err
	}
	var owner models.SubsidyAccessPolicy
	errFind := p.db.WithContext(ctx).
		Where("assignment_configuration_uuid = ?", assignment.AssignmentConfigurationUUID).
		First(&owner).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, nil, fmt.Errorf("%w: no policy owns configuration %s", allocation.ErrPolicyNotFound, assignment.AssignmentConfigurationUUID)
		}
		return nil, nil, fmt.Errorf("redemption: load policy: %w", errFind)
	}
	return assignment, &owner, nil
}

// Redeem commits the assignment's reserved spend to the ledger for the learner.
// On success the assignment is accepted with the ledger transaction; a ledger
// failure marks it errored so it can be reallocated.
func (p *Pipeline) Redeem(ctx context.Context, assignmentUUID uuid.UUID, lmsUserID int64) (*models.LearnerContentAssignment, error) {
	_, owner, err := p.policyForAssignment(ctx, assignmentUUID)
	if err != nil {
		return nil, err
	}
	logger := log.WithFields(log.Fields{
		"policy_uuid":     owner.UUID.String(),
		"assignment_uuid": assignmentUUID.String(),
	})

	var redeemed *models.LearnerContentAssignment
	errLocked := p.locks.WithLock(ctx, owner.UUID, func(ctx context.Context) error {
		// Reload under the lock; the row may have moved since the first read.
		current, errGet := assignments.Get(ctx, p.db, assignmentUUID)
		if errGet != nil {
			return errGet
		}
		if !assignments.CanTransition(current.State, models.AssignmentStateAccepted) {
			return fmt.Errorf("%w: assignment is %s", assignments.ErrInvalidTransition, current.State)
		}

		price := -current.ContentQuantity
		decision, errEval := p.evaluator.CanRedeem(ctx, owner, lmsUserID, current.ContentKey, price)
		if errEval != nil {
			return errEval
		}
		if !decision.Allowed {
			p.metrics.IncEligibilityFailure(string(decision.Reason))
			return allocation.NewEligibilityFailure(ctx, p.admins, owner, decision.Reason)
		}

		key, errKey := p.idempotencyKey(ctx, current)
		if errKey != nil {
			return errKey
		}
		tx, errCommit := p.ledger.CommitTransaction(ctx, clients.CommitRequest{
			SubsidyUUID:    owner.SubsidyUUID,
			PolicyUUID:     owner.UUID,
			LearnerEmail:   current.LearnerEmail,
			LMSUserID:      lmsUserID,
			ContentKey:     current.ContentKey,
			Quantity:       current.ContentQuantity,
			IdempotencyKey: key,
		})
		if errCommit != nil {
			if errMark := p.db.WithContext(ctx).Transaction(func(dbTx *gorm.DB) error {
				return assignments.MarkErrored(ctx, dbTx, current, errCommit)
			}); errMark != nil {
				logger.WithError(errMark).Error("failed to mark assignment errored")
			}
			return fmt.Errorf("redemption: commit transaction: %w", errCommit)
		}

		errAccept := p.db.WithContext(ctx).Transaction(func(dbTx *gorm.DB) error {
			if lmsUserID > 0 {
				if errLink := dbTx.Model(&models.LearnerContentAssignment{}).
					Where("uuid = ?", current.UUID).
					Update("lms_user_id", lmsUserID).Error; errLink != nil {
					return fmt.Errorf("redemption: link learner: %w", errLink)
				}
				current.LMSUserID = &lmsUserID
			}
			return assignments.Accept(ctx, dbTx, current, tx.UUID)
		})
		if errAccept != nil {
			return errAccept
		}
		redeemed = current
		return nil
	})

	var failure *allocation.EligibilityFailure
	switch {
	case errLocked == nil:
		p.metrics.IncRedemption(outcomeRedeemed)
		logger.WithField("transaction_uuid", redeemed.TransactionUUID.String()).Info("assignment redeemed")
		return redeemed, nil
	case errors.Is(errLocked, lock.ErrLocked):
		p.metrics.IncRedemption(outcomeLocked)
		logger.Info("redemption rejected: policy locked")
	case errors.As(errLocked, &failure):
		p.metrics.IncRedemption(outcomeDenied)
		logger.WithField("reason", failure.Reason).Info("redemption denied")
	default:
		p.metrics.IncRedemption(outcomeErrored)
		logger.WithError(errLocked).Warn("redemption failed")
	}
	return nil, errLocked
}

// Cancel revokes an allocated or errored assignment, releasing its reservation.
func (p *Pipeline) Cancel(ctx context.Context, assignmentUUID uuid.UUID) (*models.LearnerContentAssignment, error) {
	_, owner, err := p.policyForAssignment(ctx, assignmentUUID)
	if err != nil {
		return nil, err
	}
	var cancelled *models.LearnerContentAssignment
	errLocked := p.locks.WithLock(ctx, owner.UUID, func(ctx context.Context) error {
		return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			current, errGet := assignments.Get(ctx, tx, assignmentUUID)
			if errGet != nil {
				return errGet
			}
			if errCancel := assignments.Cancel(ctx, tx, current); errCancel != nil {
				return errCancel
			}
			cancelled = current
			return nil
		})
	})
	if errLocked != nil {
		return nil, errLocked
	}
	log.WithField("assignment_uuid", assignmentUUID.String()).Info("assignment cancelled")
	return cancelled, nil
}

// idempotencyKey is stable across retries of one attempt and changes once a
// failed attempt has been recorded, so reallocated assignments commit anew.
func (p *Pipeline) idempotencyKey(ctx context.Context, a *models.LearnerContentAssignment) (string, error) {
	var failures int64
	if errCount := p.db.WithContext(ctx).
		Model(&models.AssignmentAction{}).
		Where("assignment_uuid = ? AND action_type = ?", a.UUID, models.AssignmentActionErrored).
		Count(&failures).Error; errCount != nil {
		return "", fmt.Errorf("redemption: count failed attempts: %w", errCount)
	}
	return fmt.Sprintf("assignment-%s-%d", a.UUID, failures), nil
}
