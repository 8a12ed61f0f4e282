package registry

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Fund is the top-level fund entity.
type Fund struct {
	gorm.Model   `json:"-"`
	FundID       string `gorm:"uniqueIndex" json:"fund_id"`
	Name         string `json:"name"`
	BaseCurrency string `json:"base_currency"`
	Active       bool   `json:"active"`
}

// FundConfig is the per-fund static configuration: fee rates, pricing policy
// and accrual policy. Administrators maintain it; the valuation path only
// reads it.
type FundConfig struct {
	gorm.Model           `json:"-"`
	FundID               string          `gorm:"uniqueIndex" json:"fund_id"`
	ManagementFeeRate    decimal.Decimal `gorm:"type:decimal(20,10)" json:"management_fee_rate"`
	PerformanceFeeRate   decimal.Decimal `gorm:"type:decimal(20,10)" json:"performance_fee_rate"`
	PerformanceFeePolicy string          `json:"performance_fee_policy"` // HIGH_WATER_MARK or HURDLE_RATE
	HurdleRate           decimal.Decimal `gorm:"type:decimal(20,10)" json:"hurdle_rate"`
	DayCountConvention   string          `json:"day_count_convention"`
	PriceSource          string          `json:"price_source"`
	FXSource             string          `json:"fx_source"`
}

// ShareClass is a sub-fund unit class with its own fee terms and NAV series.
type ShareClass struct {
	gorm.Model    `json:"-"`
	ShareClassID  string          `gorm:"uniqueIndex" json:"share_class_id"`
	FundID        string          `gorm:"index" json:"fund_id"`
	Name          string          `json:"name"`
	Currency      string          `json:"currency"`
	Active        bool            `json:"active"`
	InitialShares decimal.Decimal `gorm:"type:decimal(30,10)" json:"initial_shares"`
	HighWaterMark decimal.Decimal `gorm:"type:decimal(30,10)" json:"high_water_mark"`
}

// Position is a point-in-time instrument holding of a fund.
type Position struct {
	gorm.Model      `json:"-"`
	FundID          string          `gorm:"index" json:"fund_id"`
	InstrumentID    string          `json:"instrument_id"`
	InstrumentName  string          `json:"instrument_name"`
	AssetClass      string          `json:"asset_class"`
	Quantity        decimal.Decimal `gorm:"type:decimal(30,10)" json:"quantity"`
	Price           decimal.Decimal `gorm:"type:decimal(30,10)" json:"price"`
	PriceCurrency   string          `json:"price_currency"`
	PriceDate       time.Time       `json:"price_date"`
	PriceSource     string          `json:"price_source"`
	AccruedInterest decimal.Decimal `gorm:"type:decimal(30,10)" json:"accrued_interest"`
	AccruedDividend decimal.Decimal `gorm:"type:decimal(30,10)" json:"accrued_dividend"`
	AsOfDate        time.Time       `gorm:"index" json:"as_of_date"`
}

// CashAccount is a fund cash balance as of a date.
type CashAccount struct {
	gorm.Model `json:"-"`
	FundID     string          `gorm:"index" json:"fund_id"`
	AccountID  string          `json:"account_id"`
	Currency   string          `json:"currency"`
	Balance    decimal.Decimal `gorm:"type:decimal(30,10)" json:"balance"`
	AsOfDate   time.Time       `gorm:"index" json:"as_of_date"`
}

// Holding is a shareholder position in a share class, used as a fallback for
// outstanding-share computation.
type Holding struct {
	gorm.Model    `json:"-"`
	ShareClassID  string          `gorm:"index" json:"share_class_id"`
	ShareholderID string          `json:"shareholder_id"`
	Shares        decimal.Decimal `gorm:"type:decimal(30,10)" json:"shares"`
}

// Redemption request statuses.
const (
	RedemptionPending = "PENDING"
	RedemptionSettled = "SETTLED"
)

// RedemptionRequest is a pending shareholder redemption.
type RedemptionRequest struct {
	gorm.Model      `json:"-"`
	FundID          string          `gorm:"index" json:"fund_id"`
	ShareClassID    string          `gorm:"index" json:"share_class_id"`
	ShareholderID   string          `json:"shareholder_id"`
	Shares          decimal.Decimal `gorm:"type:decimal(30,10)" json:"shares"`
	EstimatedAmount decimal.Decimal `gorm:"type:decimal(30,10)" json:"estimated_amount"`
	ValueDate       time.Time       `json:"value_date"`
	Status          string          `json:"status"`
}

// ShareClassNAV is the latest published NAV per share class, consumed by
// downstream reporting.
type ShareClassNAV struct {
	gorm.Model    `json:"-"`
	ShareClassID  string          `gorm:"uniqueIndex" json:"share_class_id"`
	FundID        string          `gorm:"index" json:"fund_id"`
	NAVPerShare   decimal.Decimal `gorm:"type:decimal(30,10)" json:"nav_per_share"`
	NetAssetValue decimal.Decimal `gorm:"type:decimal(30,10)" json:"net_asset_value"`
	ValuationDate time.Time       `json:"valuation_date"`
}
