package migrations

import (
	"github.com/ksred/navflow-api/internal/nav"
	"gorm.io/gorm"
)

// AddNAVHistory creates the NAV record and transition tables with the
// indexes the valuation path queries against.
func AddNAVHistory(db *gorm.DB) error {
	if err := db.AutoMigrate(&nav.NAVRecord{}); err != nil {
		return err
	}

	if err := db.AutoMigrate(&nav.NAVTransition{}); err != nil {
		return err
	}

	// Using raw SQL for index creation to have more control over index types
	indexes := []string{
		// Index for status filtering across the record book
		`CREATE INDEX IF NOT EXISTS idx_nav_records_status
		 ON nav_records(status)`,

		// Index for valuation-date range queries
		`CREATE INDEX IF NOT EXISTS idx_nav_records_valuation_date
		 ON nav_records(valuation_date)`,

		// Composite index for a share class NAV series
		`CREATE INDEX IF NOT EXISTS idx_nav_records_class_date
		 ON nav_records(share_class_id, valuation_date)`,

		// Index for ordered transition history per record
		`CREATE INDEX IF NOT EXISTS idx_nav_transitions_nav_created
		 ON nav_transitions(nav_id, created_at)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
