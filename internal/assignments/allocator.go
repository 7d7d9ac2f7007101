package assignments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/router-for-me/EnterpriseAccess/internal/db"
	"github.com/router-for-me/EnterpriseAccess/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrInvalidAllocation is returned for malformed allocation input.
var ErrInvalidAllocation = errors.New("assignments: invalid allocation")

// Result partitions the assignments touched by one allocation call.
type Result struct {
	Updated  []models.LearnerContentAssignment
	Created  []models.LearnerContentAssignment
	NoChange []models.LearnerContentAssignment
}

// Len returns the number of assignments across all partitions.
func (r Result) Len() int {
	return len(r.Updated) + len(r.Created) + len(r.NoChange)
}

// Allocate creates, updates or leaves unchanged one assignment per learner
// email, in input order. It must run inside tx after the policy has approved
// the spend under the policy lock.
func Allocate(ctx context.Context, tx *gorm.DB, configuration *models.AssignmentConfiguration, learnerEmails []string, contentKey string, priceCents int64) (Result, error) {
	if tx == nil {
		return Result{}, errors.New("assignments: nil db")
	}
	if configuration == nil {
		return Result{}, fmt.Errorf("%w: nil configuration", ErrInvalidAllocation)
	}
	if priceCents < 0 {
		return Result{}, fmt.Errorf("%w: negative price", ErrInvalidAllocation)
	}
	if len(learnerEmails) == 0 {
		return Result{}, fmt.Errorf("%w: no learners", ErrInvalidAllocation)
	}

	existing, errLoad := loadExisting(ctx, tx, configuration.UUID, learnerEmails, contentKey)
	if errLoad != nil {
		return Result{}, errLoad
	}

	quantity := -priceCents
	var out Result
	for _, email := range learnerEmails {
		rows := existing[email]

		if current := pick(rows, models.AssignmentStateAllocated); current != nil {
			if current.ContentQuantity == quantity {
				out.NoChange = append(out.NoChange, *current)
				continue
			}
			updated, errUpdate := reallocate(ctx, tx, current, quantity)
			if errUpdate != nil {
				return Result{}, errUpdate
			}
			out.Updated = append(out.Updated, updated)
			continue
		}

		if failed := pick(rows, models.AssignmentStateErrored); failed != nil {
			updated, errUpdate := reallocate(ctx, tx, failed, quantity)
			if errUpdate != nil {
				return Result{}, errUpdate
			}
			out.Updated = append(out.Updated, updated)
			continue
		}

		created, errCreate := create(ctx, tx, configuration.UUID, email, contentKey, quantity)
		if errCreate != nil {
			return Result{}, errCreate
		}
		out.Created = append(out.Created, created)
	}
	return out, nil
}

// loadExisting returns the live and errored rows for the requested learners, oldest first.
func loadExisting(ctx context.Context, tx *gorm.DB, configurationUUID uuid.UUID, learnerEmails []string, contentKey string) (map[string][]models.LearnerContentAssignment, error) {
	var rows []models.LearnerContentAssignment
	errFind := db.ForUpdate(tx.WithContext(ctx)).
		Where("assignment_configuration_uuid = ?", configurationUUID).
		Where("content_key = ?", contentKey).
		Where("learner_email IN ?", learnerEmails).
		Where("state IN ?", []models.AssignmentState{models.AssignmentStateAllocated, models.AssignmentStateErrored}).
		Order("created_at ASC").
		Find(&rows).Error
	if errFind != nil {
		return nil, fmt.Errorf("assignments: load existing: %w", errFind)
	}
	byEmail := make(map[string][]models.LearnerContentAssignment, len(rows))
	for _, row := range rows {
		byEmail[row.LearnerEmail] = append(byEmail[row.LearnerEmail], row)
	}
	return byEmail, nil
}

func pick(rows []models.LearnerContentAssignment, state models.AssignmentState) *models.LearnerContentAssignment {
	for i := range rows {
		if rows[i].State == state {
			return &rows[i]
		}
	}
	return nil
}

func reallocate(ctx context.Context, tx *gorm.DB, assignment *models.LearnerContentAssignment, quantity int64) (models.LearnerContentAssignment, error) {
	previous := assignment.State
	if errUpdate := tx.WithContext(ctx).
		Model(assignment).
		Updates(map[string]any{
			"content_quantity": quantity,
			"state":            models.AssignmentStateAllocated,
			"transaction_uuid": nil,
		}).Error; errUpdate != nil {
		return models.LearnerContentAssignment{}, fmt.Errorf("assignments: reallocate %s: %w", assignment.UUID, errUpdate)
	}
	assignment.ContentQuantity = quantity
	assignment.State = models.AssignmentStateAllocated
	assignment.TransactionUUID = nil

	if errAction := recordAction(ctx, tx, assignment.UUID, models.AssignmentActionReallocated, map[string]any{
		"previous_state":   previous,
		"content_quantity": quantity,
	}); errAction != nil {
		return models.LearnerContentAssignment{}, errAction
	}
	return *assignment, nil
}

func create(ctx context.Context, tx *gorm.DB, configurationUUID uuid.UUID, email, contentKey string, quantity int64) (models.LearnerContentAssignment, error) {
	row := models.LearnerContentAssignment{
		UUID:                        uuid.New(),
		AssignmentConfigurationUUID: configurationUUID,
		LearnerEmail:                email,
		ContentKey:                  contentKey,
		ContentQuantity:             quantity,
		State:                       models.AssignmentStateAllocated,
	}
	if errCreate := tx.WithContext(ctx).Create(&row).Error; errCreate != nil {
		return models.LearnerContentAssignment{}, fmt.Errorf("assignments: create for %s: %w", email, errCreate)
	}
	if errAction := recordAction(ctx, tx, row.UUID, models.AssignmentActionAllocated, map[string]any{
		"content_quantity": quantity,
	}); errAction != nil {
		return models.LearnerContentAssignment{}, errAction
	}
	return row, nil
}

func recordAction(ctx context.Context, tx *gorm.DB, assignmentUUID uuid.UUID, action models.AssignmentActionType, detail map[string]any) error {
	var payload datatypes.JSON
	if len(detail) > 0 {
		encoded, errMarshal := json.Marshal(detail)
		if errMarshal != nil {
			return fmt.Errorf("assignments: encode action detail: %w", errMarshal)
		}
		payload = datatypes.JSON(encoded)
	}
	entry := models.AssignmentAction{
		AssignmentUUID: assignmentUUID,
		ActionType:     action,
		Detail:         payload,
	}
	if errCreate := tx.WithContext(ctx).Create(&entry).Error; errCreate != nil {
		return fmt.Errorf("assignments: record %s action: %w", action, errCreate)
	}
	return nil
}
