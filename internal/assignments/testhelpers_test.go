package assignments

import (
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/router-for-me/EnterpriseAccess/internal/db"
	"github.com/router-for-me/EnterpriseAccess/internal/models"
	"gorm.io/gorm"
)

func setupAssignmentsDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:assignments_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	return conn
}

func createConfiguration(t *testing.T, conn *gorm.DB) *models.AssignmentConfiguration {
	t.Helper()
	cfg := &models.AssignmentConfiguration{UUID: uuid.New(), EnterpriseCustomerUUID: uuid.New(), Active: true}
	if errCreate := conn.Create(cfg).Error; errCreate != nil {
		t.Fatalf("create configuration: %v", errCreate)
	}
	return cfg
}

func createAssignment(t *testing.T, conn *gorm.DB, cfg *models.AssignmentConfiguration, email, contentKey string, quantity int64, state models.AssignmentState) *models.LearnerContentAssignment {
	t.Helper()
	row := &models.LearnerContentAssignment{
		UUID:                        uuid.New(),
		AssignmentConfigurationUUID: cfg.UUID,
		LearnerEmail:                email,
		ContentKey:                  contentKey,
		ContentQuantity:             quantity,
		State:                       state,
	}
	if state == models.AssignmentStateAccepted || state == models.AssignmentStateErrored {
		txUUID := uuid.New()
		row.TransactionUUID = &txUUID
	}
	if errCreate := conn.Create(row).Error; errCreate != nil {
		t.Fatalf("create assignment: %v", errCreate)
	}
	return row
}

func countActions(t *testing.T, conn *gorm.DB, assignmentUUID uuid.UUID, action models.AssignmentActionType) int64 {
	t.Helper()
	var n int64
	if errCount := conn.Model(&models.AssignmentAction{}).
		Where("assignment_uuid = ? AND action_type = ?", assignmentUUID, action).
		Count(&n).Error; errCount != nil {
		t.Fatalf("count actions: %v", errCount)
	}
	return n
}
