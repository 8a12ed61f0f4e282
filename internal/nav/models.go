package nav

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// NAVRecord lifecycle statuses.
const (
	RecordStatusPreliminary = "PRELIMINARY"
	RecordStatusApproved    = "APPROVED"
	RecordStatusPublished   = "PUBLISHED"
	RecordStatusCorrected   = "CORRECTED"
)

// NAVRun lifecycle statuses.
const (
	RunStatusPending          = "PENDING"
	RunStatusInProgress       = "IN_PROGRESS"
	RunStatusAwaitingApproval = "AWAITING_APPROVAL"
	RunStatusFailed           = "FAILED"
)

// Per-fund-class outcome statuses within a run.
const (
	ClassResultCompleted = "COMPLETED"
	ClassResultFailed    = "FAILED"
)

// NAVRecord is the persisted result of one NAV calculation. At most one row
// exists per (fund, share class, date); recomputations update the row through
// a recorded status transition, never silently.
type NAVRecord struct {
	gorm.Model          `json:"-"`
	NAVID               string          `gorm:"uniqueIndex" json:"nav_id"`
	FundID              string          `gorm:"uniqueIndex:idx_nav_fund_class_date" json:"fund_id"`
	ShareClassID        string          `gorm:"uniqueIndex:idx_nav_fund_class_date" json:"share_class_id"`
	ValuationDate       time.Time       `gorm:"uniqueIndex:idx_nav_fund_class_date" json:"valuation_date"`
	BaseCurrency        string          `json:"base_currency"`
	Status              string          `gorm:"index" json:"status"` // PRELIMINARY, APPROVED, PUBLISHED, CORRECTED
	ValidationStatus    string          `json:"validation_status"`   // VALID, WARNINGS, ERRORS
	GrossAssets         decimal.Decimal `gorm:"type:decimal(30,10)" json:"gross_assets"`
	TotalLiabilities    decimal.Decimal `gorm:"type:decimal(30,10)" json:"total_liabilities"`
	NetAssetValue       decimal.Decimal `gorm:"type:decimal(30,10)" json:"net_asset_value"`
	SharesOutstanding   decimal.Decimal `gorm:"type:decimal(30,10)" json:"shares_outstanding"`
	NAVPerShare         decimal.Decimal `gorm:"type:decimal(30,10)" json:"nav_per_share"`
	PreviousNAVPerShare decimal.Decimal `gorm:"type:decimal(30,10)" json:"previous_nav_per_share"`
	ChangePercent       decimal.Decimal `gorm:"type:decimal(20,10)" json:"change_percent"`
	Breakdown           string          `json:"breakdown"` // JSON NAVBreakdown
	Issues              string          `json:"issues"`    // JSON []ValidationIssue
	Steps               string          `json:"steps"`     // JSON []CalculationStep
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// NAVTransition is one append-only status change of a NAV record.
type NAVTransition struct {
	gorm.Model `json:"-"`
	NAVID      string    `gorm:"index" json:"nav_id"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	Actor      string    `json:"actor"`
	Comment    string    `json:"comment"`
	CreatedAt  time.Time `json:"created_at"`
}

// NAVRun is one batch execution over all active fund/share-class pairs.
type NAVRun struct {
	gorm.Model       `json:"-"`
	RunID            string     `gorm:"uniqueIndex" json:"run_id"`
	ValuationDate    time.Time  `gorm:"index" json:"valuation_date"`
	Status           string     `json:"status"` // PENDING, IN_PROGRESS, AWAITING_APPROVAL, FAILED
	TotalClasses     int        `json:"total_classes"`
	CompletedClasses int        `json:"completed_classes"`
	FailedClasses    int        `json:"failed_classes"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`

	Results []FundClassResult `gorm:"-" json:"results,omitempty"`
}

// FundClassResult is the typed per-fund-class outcome row of a run.
type FundClassResult struct {
	gorm.Model   `json:"-"`
	RunID        string `gorm:"index" json:"run_id"`
	FundID       string `json:"fund_id"`
	ShareClassID string `json:"share_class_id"`
	NAVID        string `json:"nav_id,omitempty"`
	Status       string `json:"status"` // COMPLETED, FAILED
	Error        string `json:"error,omitempty"`
}

// IdempotencyRecord prevents duplicate batch runs from repeated requests.
type IdempotencyRecord struct {
	gorm.Model
	IdempotencyKey string    `gorm:"uniqueIndex" json:"idempotency_key"`
	ResourceID     string    `json:"resource_id"`
	ResourceType   string    `json:"resource_type"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// VerificationResult is the outcome of recomputing a NAV against its stored
// reference value.
type VerificationResult struct {
	FundID          string          `json:"fund_id"`
	ShareClassID    string          `json:"share_class_id"`
	ValuationDate   time.Time       `json:"valuation_date"`
	ReferenceNAV    decimal.Decimal `json:"reference_nav_per_share"`
	RecomputedNAV   decimal.Decimal `json:"recomputed_nav_per_share"`
	AbsoluteDiff    decimal.Decimal `json:"absolute_diff"`
	PercentDiff     decimal.Decimal `json:"percent_diff"`
	WithinTolerance bool            `json:"within_tolerance"`
}
