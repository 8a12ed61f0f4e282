package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Overall status of a calculation result, derived ERRORS > WARNINGS > VALID.
const (
	ResultStatusValid    = "VALID"
	ResultStatusWarnings = "WARNINGS"
	ResultStatusErrors   = "ERRORS"
)

// Validation issue severities.
const (
	SeverityError   = "ERROR"
	SeverityWarning = "WARNING"
)

// Validation issue codes.
const (
	CodeNegativeNAV    = "NEGATIVE_NAV"
	CodeInvalidShares  = "INVALID_SHARES"
	CodeMissingPrices  = "MISSING_PRICES"
	CodeStalePrices    = "STALE_PRICES"
	CodeMissingFXRate  = "MISSING_FX_RATE"
	CodeLargeNAVChange = "LARGE_NAV_CHANGE"
)

// ValidationIssue is a single error or warning attached to a NAVResult.
type ValidationIssue struct {
	Code     string `json:"code"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Detail   string `json:"detail,omitempty"`
}

// CalculationStep is one entry in the ordered audit trail of a calculation.
type CalculationStep struct {
	Sequence int    `json:"sequence"`
	Name     string `json:"name"`
	Formula  string `json:"formula"`
	Inputs   string `json:"inputs"`
	Output   string `json:"output"`
}

// NAVBreakdown groups the totals by category for audit and reporting.
type NAVBreakdown struct {
	AssetsByClass      map[string]decimal.Decimal `json:"assets_by_class"`
	LiabilitiesByType  map[string]decimal.Decimal `json:"liabilities_by_type"`
	AccruedIncome      decimal.Decimal            `json:"accrued_income"`
	AccruedExpenses    decimal.Decimal            `json:"accrued_expenses"`
	NetAccruals        decimal.Decimal            `json:"net_accruals"`
	RedemptionsPayable decimal.Decimal            `json:"redemptions_payable"`
}

// NAVResult is the output of one NAV calculation.
type NAVResult struct {
	FundID            string            `json:"fund_id"`
	ShareClassID      string            `json:"share_class_id"`
	ValuationDate     time.Time         `json:"valuation_date"`
	BaseCurrency      string            `json:"base_currency"`
	GrossAssets       decimal.Decimal   `json:"gross_assets"`
	TotalLiabilities  decimal.Decimal   `json:"total_liabilities"`
	NetAssetValue     decimal.Decimal   `json:"net_asset_value"`
	SharesOutstanding decimal.Decimal   `json:"shares_outstanding"`
	NAVPerShare       decimal.Decimal   `json:"nav_per_share"`
	PreviousNAVPerShare decimal.Decimal `json:"previous_nav_per_share"`
	ChangePercent     decimal.Decimal   `json:"change_percent"`
	Breakdown         NAVBreakdown      `json:"breakdown"`
	Issues            []ValidationIssue `json:"issues"`
	Status            string            `json:"status"`
	Steps             []CalculationStep `json:"steps"`
	CalculatedAt      time.Time         `json:"calculated_at"`
}

// Errors returns the issues with severity ERROR.
func (r *NAVResult) Errors() []ValidationIssue {
	return r.filterIssues(SeverityError)
}

// Warnings returns the issues with severity WARNING.
func (r *NAVResult) Warnings() []ValidationIssue {
	return r.filterIssues(SeverityWarning)
}

func (r *NAVResult) filterIssues(severity string) []ValidationIssue {
	var out []ValidationIssue
	for _, issue := range r.Issues {
		if issue.Severity == severity {
			out = append(out, issue)
		}
	}
	return out
}

// HasError reports whether an issue with the given code and ERROR severity exists.
func (r *NAVResult) HasError(code string) bool {
	return r.hasIssue(code, SeverityError)
}

// HasWarning reports whether an issue with the given code and WARNING severity exists.
func (r *NAVResult) HasWarning(code string) bool {
	return r.hasIssue(code, SeverityWarning)
}

func (r *NAVResult) hasIssue(code, severity string) bool {
	for _, issue := range r.Issues {
		if issue.Code == code && issue.Severity == severity {
			return true
		}
	}
	return false
}
