package approval

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/ksred/navflow-api/pkg/response"
)

// ErrConflict is returned when a conditional approval transition finds the
// workflow in a different state than expected.
var ErrConflict = fmt.Errorf("approval state does not match expected status: %w", response.ErrStateConflict)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateApproval(approval *NAVApproval) error {
	if err := d.db.Create(approval).Error; err != nil {
		return fmt.Errorf("failed to create approval: %w", err)
	}
	return nil
}

func (d *Database) GetApproval(approvalID string) (*NAVApproval, error) {
	var approval NAVApproval
	err := d.db.Where("approval_id = ?", approvalID).First(&approval).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch approval: %w", err)
	}
	return &approval, nil
}

func (d *Database) GetApprovalByRunID(runID string) (*NAVApproval, error) {
	var approval NAVApproval
	err := d.db.Where("run_id = ?", runID).First(&approval).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch approval by run: %w", err)
	}
	return &approval, nil
}

// TransitionIf advances an approval only when it is still in the expected
// status, applying the given field updates and appending an audit step in the
// same transaction. A stale precondition returns ErrConflict.
func (d *Database) TransitionIf(approvalID, expected, next string, updates map[string]interface{}, step *ApprovalStep) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["status"] = next
	updates["updated_at"] = time.Now()

	result := tx.Model(&NAVApproval{}).
		Where("approval_id = ? AND status = ?", approvalID, expected).
		Updates(updates)
	if result.Error != nil {
		tx.Rollback()
		return fmt.Errorf("failed to update approval status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		tx.Rollback()
		return ErrConflict
	}

	if step != nil {
		step.ApprovalID = approvalID
		if err := tx.Create(step).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record approval step: %w", err)
		}
	}

	return tx.Commit().Error
}

// GetSteps returns the append-only audit trail for an approval.
func (d *Database) GetSteps(approvalID string) ([]ApprovalStep, error) {
	var steps []ApprovalStep
	if err := d.db.Where("approval_id = ?", approvalID).Order("id").Find(&steps).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch approval steps: %w", err)
	}
	return steps, nil
}
