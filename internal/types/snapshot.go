package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Asset classes used to bucket position valuations.
const (
	AssetClassEquities    = "EQUITIES"
	AssetClassFixedIncome = "FIXED_INCOME"
	AssetClassFunds       = "FUNDS"
	AssetClassDerivatives = "DERIVATIVES"
	AssetClassCash        = "CASH"
	AssetClassOther       = "OTHER"
)

// Receivable and liability type tags.
const (
	EntryTypeDividend        = "DIVIDEND"
	EntryTypeInterest        = "INTEREST"
	EntryTypeSubscription    = "SUBSCRIPTION"
	EntryTypeManagementFee   = "MANAGEMENT_FEE"
	EntryTypePerformanceFee  = "PERFORMANCE_FEE"
	EntryTypeDepositaryFee   = "DEPOSITARY_FEE"
	EntryTypeAdminFee        = "ADMIN_FEE"
	EntryTypeAuditFee        = "AUDIT_FEE"
	EntryTypeTax             = "TAX"
	EntryTypePendingPurchase = "PENDING_PURCHASE"
	EntryTypeOther           = "OTHER"
)

// Day-count conventions for accrual math.
const (
	ConventionAct360    = "ACT_360"
	ConventionAct365    = "ACT_365"
	ConventionThirty360 = "30_360"
	ConventionActAct    = "ACT_ACT"
)

// Performance fee policies, mutually exclusive per fund.
const (
	PerfFeeHighWaterMark = "HIGH_WATER_MARK"
	PerfFeeHurdleRate    = "HURDLE_RATE"
)

// FundSnapshot is the fully assembled input to a NAV calculation. It is built
// fresh per run by the orchestration service and discarded afterwards.
type FundSnapshot struct {
	FundID             string          `json:"fund_id"`
	ShareClassID       string          `json:"share_class_id"`
	ValuationDate      time.Time       `json:"valuation_date"`
	BaseCurrency       string          `json:"base_currency"`
	SharesOutstanding  decimal.Decimal `json:"shares_outstanding"`
	ManagementFeeRate  decimal.Decimal `json:"management_fee_rate"`
	PerformanceFeeRate decimal.Decimal `json:"performance_fee_rate"`
	HighWaterMark      decimal.Decimal `json:"high_water_mark"`

	Positions   []PositionValuation `json:"positions"`
	Cash        []CashBalance       `json:"cash"`
	Receivables []Receivable        `json:"receivables"`
	Liabilities []Liability         `json:"liabilities"`
	AccruedFees []AccruedFee        `json:"accrued_fees"`
	Redemptions []PendingRedemption `json:"redemptions"`
	FXRates     []FXRate            `json:"fx_rates"`
}

// PositionValuation is a single instrument holding priced for valuation.
type PositionValuation struct {
	InstrumentID          string          `json:"instrument_id"`
	InstrumentName        string          `json:"instrument_name"`
	AssetClass            string          `json:"asset_class"`
	Quantity              decimal.Decimal `json:"quantity"`
	Price                 decimal.Decimal `json:"price"`
	PriceCurrency         string          `json:"price_currency"`
	PriceDate             time.Time       `json:"price_date"`
	PriceSource           string          `json:"price_source"`
	MarketValueLocal      decimal.Decimal `json:"market_value_local"`
	MarketValueFundCcy    decimal.Decimal `json:"market_value_fund_ccy"`
	AccruedInterest       decimal.Decimal `json:"accrued_interest"`
	AccruedDividend       decimal.Decimal `json:"accrued_dividend"`
}

type CashBalance struct {
	AccountID       string          `json:"account_id"`
	Currency        string          `json:"currency"`
	BalanceLocal    decimal.Decimal `json:"balance_local"`
	BalanceFundCcy  decimal.Decimal `json:"balance_fund_ccy"`
	ValueDate       time.Time       `json:"value_date"`
}

type Receivable struct {
	EntryType     string          `json:"entry_type"`
	Description   string          `json:"description"`
	Currency      string          `json:"currency"`
	AmountLocal   decimal.Decimal `json:"amount_local"`
	AmountFundCcy decimal.Decimal `json:"amount_fund_ccy"`
}

type Liability struct {
	EntryType     string          `json:"entry_type"`
	Description   string          `json:"description"`
	Currency      string          `json:"currency"`
	AmountLocal   decimal.Decimal `json:"amount_local"`
	AmountFundCcy decimal.Decimal `json:"amount_fund_ccy"`
}

// AccruedFee is a fee accrual for a period, computed from AUM and policy.
type AccruedFee struct {
	FeeType       string          `json:"fee_type"`
	PeriodStart   time.Time       `json:"period_start"`
	PeriodEnd     time.Time       `json:"period_end"`
	AnnualRate    decimal.Decimal `json:"annual_rate"`
	BaseAmount    decimal.Decimal `json:"base_amount"`
	AccruedAmount decimal.Decimal `json:"accrued_amount"`
}

type PendingRedemption struct {
	ShareholderID   string          `json:"shareholder_id"`
	Shares          decimal.Decimal `json:"shares"`
	EstimatedAmount decimal.Decimal `json:"estimated_amount"`
	ValueDate       time.Time       `json:"value_date"`
}

// FXRate is a spot rate between two currencies. The identity rate for a
// currency against itself is always 1 and a rate is usable in both directions.
type FXRate struct {
	BaseCurrency  string          `json:"base_currency"`
	QuoteCurrency string          `json:"quote_currency"`
	Rate          decimal.Decimal `json:"rate"`
	RateDate      time.Time       `json:"rate_date"`
	Source        string          `json:"source"`
}
