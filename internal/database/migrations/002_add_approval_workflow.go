package migrations

import (
	"github.com/ksred/navflow-api/internal/approval"
	"gorm.io/gorm"
)

// AddApprovalWorkflow creates the approval and audit-step tables.
func AddApprovalWorkflow(db *gorm.DB) error {
	if err := db.AutoMigrate(&approval.NAVApproval{}); err != nil {
		return err
	}

	if err := db.AutoMigrate(&approval.ApprovalStep{}); err != nil {
		return err
	}

	indexes := []string{
		// Index for pending-approval dashboards
		`CREATE INDEX IF NOT EXISTS idx_nav_approvals_status_date
		 ON nav_approvals(status, valuation_date)`,

		// Index for ordered audit trail per approval
		`CREATE INDEX IF NOT EXISTS idx_approval_steps_approval_created
		 ON approval_steps(approval_id, created_at)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
