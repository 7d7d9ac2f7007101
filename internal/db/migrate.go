package db

import (
	"fmt"

	"github.com/router-for-me/EnterpriseAccess/internal/models"
	"gorm.io/gorm"
)

// Migrate creates or updates all tables owned by this service.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	if errMigrate := conn.AutoMigrate(
		&models.Setting{},
		&models.AssignmentConfiguration{},
		&models.SubsidyAccessPolicy{},
		&models.LearnerContentAssignment{},
		&models.AssignmentAction{},
	); errMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errMigrate)
	}
	return nil
}
