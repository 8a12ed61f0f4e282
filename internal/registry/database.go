package registry

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateFund(fund *Fund) error {
	return d.db.Create(fund).Error
}

func (d *Database) GetFund(fundID string) (*Fund, error) {
	var fund Fund
	if err := d.db.Where("fund_id = ?", fundID).First(&fund).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch fund %s: %w", fundID, err)
	}
	return &fund, nil
}

// GetActiveFunds returns all funds included in daily valuation.
func (d *Database) GetActiveFunds() ([]Fund, error) {
	var funds []Fund
	if err := d.db.Where("active = ?", true).Order("fund_id").Find(&funds).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch active funds: %w", err)
	}
	return funds, nil
}

func (d *Database) SaveFundConfig(cfg *FundConfig) error {
	return d.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "fund_id"}},
		UpdateAll: true,
	}).Create(cfg).Error
}

func (d *Database) GetFundConfig(fundID string) (*FundConfig, error) {
	var cfg FundConfig
	if err := d.db.Where("fund_id = ?", fundID).First(&cfg).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch fund config %s: %w", fundID, err)
	}
	return &cfg, nil
}

func (d *Database) CreateShareClass(class *ShareClass) error {
	return d.db.Create(class).Error
}

func (d *Database) GetShareClass(shareClassID string) (*ShareClass, error) {
	var class ShareClass
	if err := d.db.Where("share_class_id = ?", shareClassID).First(&class).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch share class %s: %w", shareClassID, err)
	}
	return &class, nil
}

// GetActiveShareClasses returns the active share classes of a fund.
func (d *Database) GetActiveShareClasses(fundID string) ([]ShareClass, error) {
	var classes []ShareClass
	if err := d.db.Where("fund_id = ? AND active = ?", fundID, true).
		Order("share_class_id").
		Find(&classes).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch share classes for fund %s: %w", fundID, err)
	}
	return classes, nil
}

func (d *Database) CreatePosition(position *Position) error {
	return d.db.Create(position).Error
}

// GetPositions returns the fund's positions as of the given date (the most
// recent snapshot on or before it).
func (d *Database) GetPositions(fundID string, asOf time.Time) ([]Position, error) {
	var positions []Position
	if err := d.db.Where("fund_id = ? AND as_of_date <= ?", fundID, asOf).
		Order("instrument_id").
		Find(&positions).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch positions for fund %s: %w", fundID, err)
	}
	return latestPerInstrument(positions), nil
}

// latestPerInstrument keeps only the newest snapshot row per instrument.
func latestPerInstrument(positions []Position) []Position {
	latest := make(map[string]Position)
	order := make([]string, 0, len(positions))
	for _, p := range positions {
		existing, seen := latest[p.InstrumentID]
		if !seen {
			order = append(order, p.InstrumentID)
			latest[p.InstrumentID] = p
			continue
		}
		if p.AsOfDate.After(existing.AsOfDate) {
			latest[p.InstrumentID] = p
		}
	}
	out := make([]Position, 0, len(order))
	for _, id := range order {
		out = append(out, latest[id])
	}
	return out
}

func (d *Database) CreateCashAccount(account *CashAccount) error {
	return d.db.Create(account).Error
}

// GetCashAccounts returns the fund's cash balances as of the given date.
func (d *Database) GetCashAccounts(fundID string, asOf time.Time) ([]CashAccount, error) {
	var accounts []CashAccount
	if err := d.db.Where("fund_id = ? AND as_of_date <= ?", fundID, asOf).
		Order("account_id").
		Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch cash accounts for fund %s: %w", fundID, err)
	}
	return accounts, nil
}

func (d *Database) CreateHolding(holding *Holding) error {
	return d.db.Create(holding).Error
}

// SumHoldings totals shareholder holdings for a share class.
func (d *Database) SumHoldings(shareClassID string) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	if err := d.db.Model(&Holding{}).
		Select("SUM(shares)").
		Where("share_class_id = ?", shareClassID).
		Scan(&total).Error; err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum holdings for class %s: %w", shareClassID, err)
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}

func (d *Database) CreateRedemption(redemption *RedemptionRequest) error {
	return d.db.Create(redemption).Error
}

// GetPendingRedemptions returns unsettled redemptions for a share class with
// a value date on or before the given date.
func (d *Database) GetPendingRedemptions(shareClassID string, valueDate time.Time) ([]RedemptionRequest, error) {
	var redemptions []RedemptionRequest
	if err := d.db.Where("share_class_id = ? AND status = ? AND value_date <= ?",
		shareClassID, RedemptionPending, valueDate).
		Find(&redemptions).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch pending redemptions for class %s: %w", shareClassID, err)
	}
	return redemptions, nil
}

// UpsertLatestNAV publishes the latest NAV of a share class for downstream
// reporting, replacing any previous row for the class.
func (d *Database) UpsertLatestNAV(nav *ShareClassNAV) error {
	return d.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "share_class_id"}},
		UpdateAll: true,
	}).Create(nav).Error
}

// GetLatestNAV returns the last published NAV for a share class, or nil when
// none has been published yet.
func (d *Database) GetLatestNAV(shareClassID string) (*ShareClassNAV, error) {
	var nav ShareClassNAV
	if err := d.db.Where("share_class_id = ?", shareClassID).First(&nav).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch latest NAV for class %s: %w", shareClassID, err)
	}
	return &nav, nil
}
