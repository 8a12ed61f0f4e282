package valuation

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ksred/navflow-api/internal/types"
)

// Breakdown bucket keys that do not map to an asset class or entry type.
const (
	BucketReceivables    = "RECEIVABLES"
	LiabilityRedemptions = "REDEMPTIONS"
)

// navPerSharePrecision is the decimal precision of the per-share division.
const navPerSharePrecision = 8

// Config carries the validation thresholds of the calculator.
type Config struct {
	// MovementWarnPct flags a warning when |NAV/share change| exceeds it.
	MovementWarnPct decimal.Decimal
	// MovementErrorPct flags an error when |NAV/share change| exceeds it.
	MovementErrorPct decimal.Decimal
	// StalePriceDays is the calendar-day age beyond which a price is stale.
	StalePriceDays int
}

// DefaultConfig returns the standard thresholds: warn at 5%, error at 10%,
// prices stale after 2 calendar days.
func DefaultConfig() Config {
	return Config{
		MovementWarnPct:  decimal.NewFromInt(5),
		MovementErrorPct: decimal.NewFromInt(10),
		StalePriceDays:   2,
	}
}

// Calculator turns a fund snapshot into a NAV result. It is stateless and
// side-effect-free; concurrent calls are safe.
type Calculator struct {
	cfg Config
}

// NewCalculator creates a calculator, filling zero-valued thresholds from
// DefaultConfig.
func NewCalculator(cfg Config) *Calculator {
	def := DefaultConfig()
	if cfg.MovementWarnPct.IsZero() {
		cfg.MovementWarnPct = def.MovementWarnPct
	}
	if cfg.MovementErrorPct.IsZero() {
		cfg.MovementErrorPct = def.MovementErrorPct
	}
	if cfg.StalePriceDays == 0 {
		cfg.StalePriceDays = def.StalePriceDays
	}
	return &Calculator{cfg: cfg}
}

// Calculate produces a NAV result for the snapshot. Business-data problems
// never abort the calculation; they are attached as issues on the result.
func (c *Calculator) Calculate(snapshot *types.FundSnapshot) *types.NAVResult {
	return c.calculate(snapshot, decimal.Zero, false)
}

// CalculateWithComparison additionally computes the change against the
// previous NAV per share and flags large movements per the configured
// thresholds.
func (c *Calculator) CalculateWithComparison(snapshot *types.FundSnapshot, previousNAVPerShare decimal.Decimal) *types.NAVResult {
	return c.calculate(snapshot, previousNAVPerShare, true)
}

func (c *Calculator) calculate(snapshot *types.FundSnapshot, previousNAVPerShare decimal.Decimal, compare bool) *types.NAVResult {
	logger := log.With().
		Str("service", "valuation").
		Str("fund_id", snapshot.FundID).
		Str("share_class_id", snapshot.ShareClassID).
		Str("valuation_date", snapshot.ValuationDate.Format("2006-01-02")).
		Logger()

	logger.Debug().
		Int("positions", len(snapshot.Positions)).
		Int("cash_accounts", len(snapshot.Cash)).
		Int("fx_rates", len(snapshot.FXRates)).
		Msg("starting NAV calculation")

	result := &types.NAVResult{
		FundID:            snapshot.FundID,
		ShareClassID:      snapshot.ShareClassID,
		ValuationDate:     snapshot.ValuationDate,
		BaseCurrency:      snapshot.BaseCurrency,
		SharesOutstanding: snapshot.SharesOutstanding,
		Breakdown: types.NAVBreakdown{
			AssetsByClass:     make(map[string]decimal.Decimal),
			LiabilitiesByType: make(map[string]decimal.Decimal),
		},
		CalculatedAt: time.Now().UTC(),
	}

	table := NewRateTable(snapshot.FXRates)
	missingFX := make(map[string]bool)

	// Step 1: asset aggregation.
	gross := c.aggregateAssets(snapshot, table, result, missingFX)
	result.GrossAssets = gross

	// Step 2: liability aggregation.
	liabilities := c.aggregateLiabilities(snapshot, table, result, missingFX)
	result.TotalLiabilities = liabilities

	// Step 3: accrual aggregation (informational; already in the totals).
	c.aggregateAccruals(snapshot, result)

	// Step 4: NAV and NAV per share.
	result.NetAssetValue = gross.Sub(liabilities)
	if snapshot.SharesOutstanding.Sign() > 0 {
		result.NAVPerShare = result.NetAssetValue.DivRound(snapshot.SharesOutstanding, navPerSharePrecision)
	} else {
		result.NAVPerShare = decimal.Zero
	}
	c.addStep(result, "nav_per_share", "navPerShare = (grossAssets - totalLiabilities) / sharesOutstanding",
		fmt.Sprintf("grossAssets=%s totalLiabilities=%s sharesOutstanding=%s",
			gross, liabilities, snapshot.SharesOutstanding),
		fmt.Sprintf("nav=%s navPerShare=%s", result.NetAssetValue, result.NAVPerShare))

	// Step 5: validation.
	c.validate(snapshot, result, missingFX)

	if compare {
		c.compareMovement(result, previousNAVPerShare)
	}

	result.Status = deriveStatus(result.Issues)

	logger.Info().
		Str("nav", result.NetAssetValue.String()).
		Str("nav_per_share", result.NAVPerShare.String()).
		Str("status", result.Status).
		Int("errors", len(result.Errors())).
		Int("warnings", len(result.Warnings())).
		Msg("NAV calculation completed")

	return result
}

// aggregateAssets sums positions, cash and receivables into gross assets,
// bucketing the breakdown by asset class.
func (c *Calculator) aggregateAssets(snapshot *types.FundSnapshot, table *RateTable, result *types.NAVResult, missingFX map[string]bool) decimal.Decimal {
	gross := decimal.Zero

	for _, pos := range snapshot.Positions {
		value := c.fundCcyValue(pos.MarketValueFundCcy, pos.MarketValueLocal, pos.PriceCurrency, snapshot, table, missingFX)
		class := pos.AssetClass
		if class == "" {
			class = types.AssetClassOther
		}
		result.Breakdown.AssetsByClass[class] = result.Breakdown.AssetsByClass[class].Add(value)
		gross = gross.Add(value)
	}

	for _, cash := range snapshot.Cash {
		value := c.fundCcyValue(cash.BalanceFundCcy, cash.BalanceLocal, cash.Currency, snapshot, table, missingFX)
		result.Breakdown.AssetsByClass[types.AssetClassCash] = result.Breakdown.AssetsByClass[types.AssetClassCash].Add(value)
		gross = gross.Add(value)
	}

	for _, rec := range snapshot.Receivables {
		value := c.fundCcyValue(rec.AmountFundCcy, rec.AmountLocal, rec.Currency, snapshot, table, missingFX)
		result.Breakdown.AssetsByClass[BucketReceivables] = result.Breakdown.AssetsByClass[BucketReceivables].Add(value)
		gross = gross.Add(value)
	}

	c.addStep(result, "asset_aggregation", "grossAssets = sum(positions) + sum(cash) + sum(receivables)",
		fmt.Sprintf("positions=%d cash=%d receivables=%d", len(snapshot.Positions), len(snapshot.Cash), len(snapshot.Receivables)),
		fmt.Sprintf("grossAssets=%s", gross))
	return gross
}

// aggregateLiabilities sums accrued fees, explicit liabilities, and the
// estimated value of pending redemptions.
func (c *Calculator) aggregateLiabilities(snapshot *types.FundSnapshot, table *RateTable, result *types.NAVResult, missingFX map[string]bool) decimal.Decimal {
	total := decimal.Zero

	for _, fee := range snapshot.AccruedFees {
		feeType := fee.FeeType
		if feeType == "" {
			feeType = types.EntryTypeOther
		}
		result.Breakdown.LiabilitiesByType[feeType] = result.Breakdown.LiabilitiesByType[feeType].Add(fee.AccruedAmount)
		total = total.Add(fee.AccruedAmount)
	}

	for _, liab := range snapshot.Liabilities {
		value := c.fundCcyValue(liab.AmountFundCcy, liab.AmountLocal, liab.Currency, snapshot, table, missingFX)
		entryType := liab.EntryType
		if entryType == "" {
			entryType = types.EntryTypeOther
		}
		result.Breakdown.LiabilitiesByType[entryType] = result.Breakdown.LiabilitiesByType[entryType].Add(value)
		total = total.Add(value)
	}

	redemptions := decimal.Zero
	for _, red := range snapshot.Redemptions {
		redemptions = redemptions.Add(red.EstimatedAmount)
	}
	if redemptions.Sign() != 0 {
		result.Breakdown.LiabilitiesByType[LiabilityRedemptions] = result.Breakdown.LiabilitiesByType[LiabilityRedemptions].Add(redemptions)
		total = total.Add(redemptions)
	}
	result.Breakdown.RedemptionsPayable = redemptions

	c.addStep(result, "liability_aggregation", "totalLiabilities = sum(accruedFees) + sum(liabilities) + sum(pendingRedemptions)",
		fmt.Sprintf("accruedFees=%d liabilities=%d redemptions=%d", len(snapshot.AccruedFees), len(snapshot.Liabilities), len(snapshot.Redemptions)),
		fmt.Sprintf("totalLiabilities=%s", total))
	return total
}

// aggregateAccruals builds the informational accrual breakdown. The amounts
// are already reflected in the asset/liability totals and are not added again.
func (c *Calculator) aggregateAccruals(snapshot *types.FundSnapshot, result *types.NAVResult) {
	income := decimal.Zero
	for _, pos := range snapshot.Positions {
		income = income.Add(pos.AccruedInterest).Add(pos.AccruedDividend)
	}
	for _, rec := range snapshot.Receivables {
		if rec.EntryType == types.EntryTypeDividend || rec.EntryType == types.EntryTypeInterest {
			income = income.Add(rec.AmountFundCcy)
		}
	}

	expenses := decimal.Zero
	for _, fee := range snapshot.AccruedFees {
		expenses = expenses.Add(fee.AccruedAmount)
	}

	result.Breakdown.AccruedIncome = income
	result.Breakdown.AccruedExpenses = expenses
	result.Breakdown.NetAccruals = income.Sub(expenses)

	c.addStep(result, "accrual_aggregation", "netAccruals = accruedIncome - accruedExpenses",
		fmt.Sprintf("accruedIncome=%s accruedExpenses=%s", income, expenses),
		fmt.Sprintf("netAccruals=%s", result.Breakdown.NetAccruals))
}

// fundCcyValue picks the pre-converted fund-currency value when present,
// otherwise converts the local amount. A missing rate falls back to the
// unconverted amount and is recorded for a MISSING_FX_RATE warning; the run
// never aborts on FX gaps.
func (c *Calculator) fundCcyValue(fundCcy, local decimal.Decimal, currency string, snapshot *types.FundSnapshot, table *RateTable, missingFX map[string]bool) decimal.Decimal {
	if !fundCcy.IsZero() {
		return fundCcy
	}
	if local.IsZero() {
		return decimal.Zero
	}
	if currency == "" || currency == snapshot.BaseCurrency {
		return local
	}

	converted, ok := table.Convert(local, currency, snapshot.BaseCurrency)
	if !ok {
		missingFX[currency] = true
		log.Warn().
			Str("service", "valuation").
			Str("fund_id", snapshot.FundID).
			Str("currency", currency).
			Str("base_currency", snapshot.BaseCurrency).
			Str("amount", local.String()).
			Msg("no resolvable FX rate, using unconverted amount")
		return local
	}
	return converted
}

// validate applies the validation ladder and appends issues to the result.
func (c *Calculator) validate(snapshot *types.FundSnapshot, result *types.NAVResult, missingFX map[string]bool) {
	if result.NetAssetValue.Sign() < 0 {
		result.Issues = append(result.Issues, types.ValidationIssue{
			Code:     types.CodeNegativeNAV,
			Severity: types.SeverityError,
			Message:  fmt.Sprintf("net asset value is negative: %s", result.NetAssetValue),
		})
	}

	if snapshot.SharesOutstanding.Sign() <= 0 {
		result.Issues = append(result.Issues, types.ValidationIssue{
			Code:     types.CodeInvalidShares,
			Severity: types.SeverityError,
			Message:  fmt.Sprintf("shares outstanding must be positive, got %s", snapshot.SharesOutstanding),
		})
	}

	var missingPrices, stalePrices []string
	staleBefore := snapshot.ValuationDate.AddDate(0, 0, -c.cfg.StalePriceDays)
	for _, pos := range snapshot.Positions {
		if pos.Price.Sign() <= 0 {
			missingPrices = append(missingPrices, pos.InstrumentID)
			continue
		}
		if pos.PriceDate.Before(staleBefore) {
			stalePrices = append(stalePrices, pos.InstrumentID)
		}
	}
	if len(missingPrices) > 0 {
		result.Issues = append(result.Issues, types.ValidationIssue{
			Code:     types.CodeMissingPrices,
			Severity: types.SeverityWarning,
			Message:  fmt.Sprintf("%d position(s) without a usable price", len(missingPrices)),
			Detail:   strings.Join(missingPrices, ","),
		})
	}
	if len(stalePrices) > 0 {
		result.Issues = append(result.Issues, types.ValidationIssue{
			Code:     types.CodeStalePrices,
			Severity: types.SeverityWarning,
			Message:  fmt.Sprintf("%d position(s) priced more than %d days before valuation date", len(stalePrices), c.cfg.StalePriceDays),
			Detail:   strings.Join(stalePrices, ","),
		})
	}

	if len(missingFX) > 0 {
		currencies := make([]string, 0, len(missingFX))
		for ccy := range missingFX {
			currencies = append(currencies, ccy)
		}
		sort.Strings(currencies)
		result.Issues = append(result.Issues, types.ValidationIssue{
			Code:     types.CodeMissingFXRate,
			Severity: types.SeverityWarning,
			Message:  fmt.Sprintf("no resolvable FX rate to %s, unconverted amounts used", snapshot.BaseCurrency),
			Detail:   strings.Join(currencies, ","),
		})
	}

	c.addStep(result, "validation", "status = ERRORS > WARNINGS > VALID",
		fmt.Sprintf("nav=%s sharesOutstanding=%s", result.NetAssetValue, snapshot.SharesOutstanding),
		fmt.Sprintf("errors=%d warnings=%d", len(result.Errors()), len(result.Warnings())))
}

// compareMovement computes the NAV/share change against the previous value
// and flags movements beyond the configured thresholds.
func (c *Calculator) compareMovement(result *types.NAVResult, previous decimal.Decimal) {
	result.PreviousNAVPerShare = previous
	if previous.Sign() <= 0 {
		return
	}

	change := result.NAVPerShare.Sub(previous).
		Div(previous).
		Mul(decimal.NewFromInt(100))
	result.ChangePercent = change

	abs := change.Abs()
	switch {
	case abs.GreaterThan(c.cfg.MovementErrorPct):
		result.Issues = append(result.Issues, types.ValidationIssue{
			Code:     types.CodeLargeNAVChange,
			Severity: types.SeverityError,
			Message:  fmt.Sprintf("NAV per share moved %s%%, beyond the %s%% error threshold", change.StringFixed(4), c.cfg.MovementErrorPct),
		})
	case abs.GreaterThan(c.cfg.MovementWarnPct):
		result.Issues = append(result.Issues, types.ValidationIssue{
			Code:     types.CodeLargeNAVChange,
			Severity: types.SeverityWarning,
			Message:  fmt.Sprintf("NAV per share moved %s%%, beyond the %s%% warning threshold", change.StringFixed(4), c.cfg.MovementWarnPct),
		})
	}

	c.addStep(result, "comparison", "changePercent = (navPerShare - previous) / previous * 100",
		fmt.Sprintf("navPerShare=%s previous=%s", result.NAVPerShare, previous),
		fmt.Sprintf("changePercent=%s", result.ChangePercent))
}

func (c *Calculator) addStep(result *types.NAVResult, name, formula, inputs, output string) {
	result.Steps = append(result.Steps, types.CalculationStep{
		Sequence: len(result.Steps) + 1,
		Name:     name,
		Formula:  formula,
		Inputs:   inputs,
		Output:   output,
	})
}

func deriveStatus(issues []types.ValidationIssue) string {
	status := types.ResultStatusValid
	for _, issue := range issues {
		if issue.Severity == types.SeverityError {
			return types.ResultStatusErrors
		}
		status = types.ResultStatusWarnings
	}
	return status
}
