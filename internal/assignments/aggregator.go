package assignments

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/router-for-me/EnterpriseAccess/internal/models"
	"github.com/router-for-me/EnterpriseAccess/internal/policy"
	"gorm.io/gorm"
)

// Aggregator sums assignment reservations per configuration.
type Aggregator struct {
	db *gorm.DB
}

// NewAggregator constructs an Aggregator; it returns nil without a database.
func NewAggregator(db *gorm.DB) *Aggregator {
	if db == nil {
		return nil
	}
	return &Aggregator{db: db}
}

type aggregateRow struct {
	Pending int64
	Total   int64
}

// AggregatesForConfiguration returns the committed spend of a configuration.
// Allocated rows are pending reservations; accepted rows are already on the
// ledger. Cancelled and errored rows hold no budget.
func (a *Aggregator) AggregatesForConfiguration(ctx context.Context, configurationUUID uuid.UUID) (policy.Aggregates, error) {
	if a == nil {
		return policy.Aggregates{}, nil
	}
	var row aggregateRow
	errScan := a.db.WithContext(ctx).
		Model(&models.LearnerContentAssignment{}).
		Select(
			"COALESCE(SUM(CASE WHEN state = ? THEN content_quantity ELSE 0 END), 0) AS pending, "+
				"COALESCE(SUM(content_quantity), 0) AS total",
			models.AssignmentStateAllocated,
		).
		Where("assignment_configuration_uuid = ?", configurationUUID).
		Where("state IN ?", []models.AssignmentState{models.AssignmentStateAllocated, models.AssignmentStateAccepted}).
		Scan(&row).Error
	if errScan != nil {
		return policy.Aggregates{}, fmt.Errorf("assignments: aggregate %s: %w", configurationUUID, errScan)
	}
	return policy.Aggregates{TotalQuantity: row.Total, PendingQuantity: row.Pending}, nil
}
