package nav

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/ksred/navflow-api/pkg/response"
)

// ErrConflict is returned when a conditional status transition finds the
// record in a different state than expected. The losing writer must re-read
// and retry or surface the conflict.
var ErrConflict = fmt.Errorf("record state does not match expected status: %w", response.ErrStateConflict)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// SaveResult persists a calculation result, enforcing one record per
// (fund, share class, date). A first write creates the record as PRELIMINARY;
// a recomputation updates the row and appends a status transition. APPROVED
// and PUBLISHED records transition to CORRECTED rather than being silently
// overwritten.
func (d *Database) SaveResult(record *NAVRecord, actor string) (*NAVRecord, error) {
	existing, err := d.GetRecord(record.FundID, record.ShareClassID, record.ValuationDate)
	if err != nil {
		return nil, err
	}

	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if existing == nil {
		record.Status = RecordStatusPreliminary
		if err := tx.Create(record).Error; err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("failed to create NAV record: %w", err)
		}
		if err := tx.Create(&NAVTransition{
			NAVID:    record.NAVID,
			ToStatus: RecordStatusPreliminary,
			Actor:    actor,
			Comment:  "initial calculation",
		}).Error; err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("failed to record NAV transition: %w", err)
		}
		if err := tx.Commit().Error; err != nil {
			return nil, err
		}
		return record, nil
	}

	nextStatus := RecordStatusPreliminary
	comment := "recalculated"
	if existing.Status == RecordStatusApproved || existing.Status == RecordStatusPublished {
		nextStatus = RecordStatusCorrected
		comment = "recalculated after " + existing.Status
	}

	record.NAVID = existing.NAVID
	record.Status = nextStatus
	updates := map[string]interface{}{
		"status":                 nextStatus,
		"validation_status":      record.ValidationStatus,
		"gross_assets":           record.GrossAssets,
		"total_liabilities":      record.TotalLiabilities,
		"net_asset_value":        record.NetAssetValue,
		"shares_outstanding":     record.SharesOutstanding,
		"nav_per_share":          record.NAVPerShare,
		"previous_nav_per_share": record.PreviousNAVPerShare,
		"change_percent":         record.ChangePercent,
		"breakdown":              record.Breakdown,
		"issues":                 record.Issues,
		"steps":                  record.Steps,
		"updated_at":             time.Now(),
	}
	if err := tx.Model(&NAVRecord{}).Where("nav_id = ?", existing.NAVID).Updates(updates).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to update NAV record: %w", err)
	}
	if err := tx.Create(&NAVTransition{
		NAVID:      existing.NAVID,
		FromStatus: existing.Status,
		ToStatus:   nextStatus,
		Actor:      actor,
		Comment:    comment,
	}).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to record NAV transition: %w", err)
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return record, nil
}

// GetRecord fetches the record for a (fund, share class, date) key, or nil
// when none exists.
func (d *Database) GetRecord(fundID, shareClassID string, date time.Time) (*NAVRecord, error) {
	var record NAVRecord
	if err := d.db.Where("fund_id = ? AND share_class_id = ? AND valuation_date = ?",
		fundID, shareClassID, date).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch NAV record: %w", err)
	}
	return &record, nil
}

func (d *Database) GetRecordByNAVID(navID string) (*NAVRecord, error) {
	var record NAVRecord
	if err := d.db.Where("nav_id = ?", navID).First(&record).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch NAV record %s: %w", navID, err)
	}
	return &record, nil
}

// GetLatestRecordBefore returns the most recent record strictly before the
// given date, or nil when the share class has no history yet.
func (d *Database) GetLatestRecordBefore(fundID, shareClassID string, date time.Time) (*NAVRecord, error) {
	var record NAVRecord
	if err := d.db.Where("fund_id = ? AND share_class_id = ? AND valuation_date < ?",
		fundID, shareClassID, date).
		Order("valuation_date DESC").
		First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch previous NAV record: %w", err)
	}
	return &record, nil
}

// UpdateRecordStatusIf transitions a record's status only when its current
// status matches the expected precondition. Returns ErrConflict otherwise.
func (d *Database) UpdateRecordStatusIf(navID, expected, next, actor, comment string) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	result := tx.Model(&NAVRecord{}).
		Where("nav_id = ? AND status = ?", navID, expected).
		Updates(map[string]interface{}{
			"status":     next,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		tx.Rollback()
		return fmt.Errorf("failed to update NAV record status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		tx.Rollback()
		return ErrConflict
	}

	if err := tx.Create(&NAVTransition{
		NAVID:      navID,
		FromStatus: expected,
		ToStatus:   next,
		Actor:      actor,
		Comment:    comment,
	}).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to record NAV transition: %w", err)
	}

	return tx.Commit().Error
}

// GetTransitions returns the append-only status history of a record.
func (d *Database) GetTransitions(navID string) ([]NAVTransition, error) {
	var transitions []NAVTransition
	if err := d.db.Where("nav_id = ?", navID).Order("id").Find(&transitions).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch NAV transitions: %w", err)
	}
	return transitions, nil
}

func (d *Database) CreateRun(run *NAVRun) error {
	return d.db.Create(run).Error
}

func (d *Database) UpdateRun(run *NAVRun) error {
	return d.db.Save(run).Error
}

func (d *Database) GetRun(runID string) (*NAVRun, error) {
	var run NAVRun
	if err := d.db.Where("run_id = ?", runID).First(&run).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch NAV run %s: %w", runID, err)
	}
	results, err := d.GetRunResults(runID)
	if err != nil {
		return nil, err
	}
	run.Results = results
	return &run, nil
}

// GetLatestRunByDate returns the most recent run for a valuation date, or nil.
func (d *Database) GetLatestRunByDate(date time.Time) (*NAVRun, error) {
	var run NAVRun
	if err := d.db.Where("valuation_date = ?", date).
		Order("id DESC").
		First(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch NAV run for date: %w", err)
	}
	results, err := d.GetRunResults(run.RunID)
	if err != nil {
		return nil, err
	}
	run.Results = results
	return &run, nil
}

func (d *Database) CreateRunResult(result *FundClassResult) error {
	return d.db.Create(result).Error
}

func (d *Database) GetRunResults(runID string) ([]FundClassResult, error) {
	var results []FundClassResult
	if err := d.db.Where("run_id = ?", runID).Order("id").Find(&results).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch run results: %w", err)
	}
	return results, nil
}

// GetRunRecords returns the NAV records produced by a run's completed
// fund-class results.
func (d *Database) GetRunRecords(runID string) ([]NAVRecord, error) {
	results, err := d.GetRunResults(runID)
	if err != nil {
		return nil, err
	}
	var navIDs []string
	for _, r := range results {
		if r.Status == ClassResultCompleted && r.NAVID != "" {
			navIDs = append(navIDs, r.NAVID)
		}
	}
	if len(navIDs) == 0 {
		return nil, nil
	}
	var records []NAVRecord
	if err := d.db.Where("nav_id IN ?", navIDs).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch run records: %w", err)
	}
	return records, nil
}

// GetIdempotencyRecord retrieves an idempotency record by key.
func (d *Database) GetIdempotencyRecord(key string) (*IdempotencyRecord, error) {
	var record IdempotencyRecord
	if err := d.db.Where("idempotency_key = ?", key).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// CreateIdempotencyRecord links a request key to the run it produced.
func (d *Database) CreateIdempotencyRecord(key, resourceID, resourceType string) error {
	return d.db.Create(&IdempotencyRecord{
		IdempotencyKey: key,
		ResourceID:     resourceID,
		ResourceType:   resourceType,
		ExpiresAt:      time.Now().Add(24 * time.Hour),
	}).Error
}
