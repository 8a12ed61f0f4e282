package database

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ksred/navflow-api/internal/database/migrations"
	"github.com/ksred/navflow-api/internal/nav"
	"github.com/ksred/navflow-api/internal/registry"
)

// NewDatabase initializes and returns a new GORM DB connection
func NewDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := migrations.AddNAVHistory(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := migrations.AddApprovalWorkflow(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Auto-migrate other schemas
	err = db.AutoMigrate(
		&registry.Fund{},
		&registry.FundConfig{},
		&registry.ShareClass{},
		&registry.Position{},
		&registry.CashAccount{},
		&registry.Holding{},
		&registry.RedemptionRequest{},
		&registry.ShareClassNAV{},
		&nav.NAVRun{},
		&nav.FundClassResult{},
		&nav.IdempotencyRecord{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}
