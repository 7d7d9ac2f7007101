package assignments

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/router-for-me/EnterpriseAccess/internal/models"
)

func TestAggregatesForConfigurationByState(t *testing.T) {
	conn := setupAssignmentsDB(t)
	cfg := createConfiguration(t, conn)
	other := createConfiguration(t, conn)

	createAssignment(t, conn, cfg, "a@example.com", testContentKey, -100, models.AssignmentStateAllocated)
	createAssignment(t, conn, cfg, "b@example.com", testContentKey, -200, models.AssignmentStateAllocated)
	createAssignment(t, conn, cfg, "c@example.com", testContentKey, -400, models.AssignmentStateAccepted)
	createAssignment(t, conn, cfg, "d@example.com", testContentKey, -800, models.AssignmentStateCancelled)
	createAssignment(t, conn, cfg, "e@example.com", testContentKey, -1600, models.AssignmentStateErrored)
	createAssignment(t, conn, other, "a@example.com", testContentKey, -3200, models.AssignmentStateAllocated)

	agg, err := NewAggregator(conn).AggregatesForConfiguration(context.Background(), cfg.UUID)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if agg.PendingQuantity != -300 {
		t.Fatalf("expected pending -300, got %d", agg.PendingQuantity)
	}
	if agg.TotalQuantity != -700 {
		t.Fatalf("expected total -700, got %d", agg.TotalQuantity)
	}
}

func TestAggregatesForEmptyConfiguration(t *testing.T) {
	conn := setupAssignmentsDB(t)

	agg, err := NewAggregator(conn).AggregatesForConfiguration(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if agg.TotalQuantity != 0 || agg.PendingQuantity != 0 {
		t.Fatalf("expected zero aggregates, got %+v", agg)
	}
}
