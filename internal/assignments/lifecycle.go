package assignments

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/router-for-me/EnterpriseAccess/internal/db"
	"github.com/router-for-me/EnterpriseAccess/internal/models"
	"gorm.io/gorm"
)

// Lifecycle errors.
var (
	// ErrNotFound indicates the assignment does not exist.
	ErrNotFound = errors.New("assignments: not found")
	// ErrInvalidTransition indicates the assignment cannot move to the requested state.
	ErrInvalidTransition = errors.New("assignments: invalid state transition")
)

// allowedTransitions lists the source states for each target state.
var allowedTransitions = map[models.AssignmentState][]models.AssignmentState{
	models.AssignmentStateAccepted:  {models.AssignmentStateAllocated},
	models.AssignmentStateErrored:   {models.AssignmentStateAllocated},
	models.AssignmentStateCancelled: {models.AssignmentStateAllocated, models.AssignmentStateErrored},
}

// CanTransition reports whether an assignment in from may move to to.
func CanTransition(from, to models.AssignmentState) bool {
	for _, state := range allowedTransitions[to] {
		if state == from {
			return true
		}
	}
	return false
}

// Get loads an assignment with a row lock when the dialect supports one.
func Get(ctx context.Context, tx *gorm.DB, assignmentUUID uuid.UUID) (*models.LearnerContentAssignment, error) {
	var row models.LearnerContentAssignment
	errFind := db.ForUpdate(tx.WithContext(ctx)).
		Where("uuid = ?", assignmentUUID).
		First(&row).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, assignmentUUID)
		}
		return nil, fmt.Errorf("assignments: load %s: %w", assignmentUUID, errFind)
	}
	return &row, nil
}

// Accept marks an allocated assignment as redeemed by the given ledger transaction.
func Accept(ctx context.Context, tx *gorm.DB, assignment *models.LearnerContentAssignment, transactionUUID uuid.UUID) error {
	if errMove := transition(ctx, tx, assignment, models.AssignmentStateAccepted, map[string]any{
		"transaction_uuid": transactionUUID,
	}); errMove != nil {
		return errMove
	}
	assignment.TransactionUUID = &transactionUUID
	return recordAction(ctx, tx, assignment.UUID, models.AssignmentActionRedeemed, map[string]any{
		"transaction_uuid": transactionUUID.String(),
	})
}

// MarkErrored records a failed redemption. The reservation is released until
// the assignment is allocated again.
func MarkErrored(ctx context.Context, tx *gorm.DB, assignment *models.LearnerContentAssignment, cause error) error {
	if errMove := transition(ctx, tx, assignment, models.AssignmentStateErrored, nil); errMove != nil {
		return errMove
	}
	detail := map[string]any{}
	if cause != nil {
		detail["error"] = cause.Error()
	}
	return recordAction(ctx, tx, assignment.UUID, models.AssignmentActionErrored, detail)
}

// Cancel revokes an assignment that has not been redeemed.
func Cancel(ctx context.Context, tx *gorm.DB, assignment *models.LearnerContentAssignment) error {
	previous := assignment.State
	if errMove := transition(ctx, tx, assignment, models.AssignmentStateCancelled, nil); errMove != nil {
		return errMove
	}
	return recordAction(ctx, tx, assignment.UUID, models.AssignmentActionCancelled, map[string]any{
		"previous_state": previous,
	})
}

func transition(ctx context.Context, tx *gorm.DB, assignment *models.LearnerContentAssignment, to models.AssignmentState, extra map[string]any) error {
	if assignment == nil {
		return fmt.Errorf("%w: nil assignment", ErrInvalidTransition)
	}
	if !CanTransition(assignment.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, assignment.State, to)
	}
	updates := map[string]any{"state": to}
	for k, v := range extra {
		updates[k] = v
	}
	res := tx.WithContext(ctx).
		Model(&models.LearnerContentAssignment{}).
		Where("uuid = ? AND state = ?", assignment.UUID, assignment.State).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("assignments: move %s to %s: %w", assignment.UUID, to, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s changed concurrently", ErrInvalidTransition, assignment.UUID)
	}
	assignment.State = to
	return nil
}
