package valuation

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ksred/navflow-api/internal/types"
)

var valuationDate = time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC)

// baseSnapshot is a reference fund: one equity position worth 1M in fund
// currency, 500k cash, 60k accrued management fee, 10k shares.
func baseSnapshot() *types.FundSnapshot {
	return &types.FundSnapshot{
		FundID:            "FUND_001",
		ShareClassID:      "CLASS_A",
		ValuationDate:     valuationDate,
		BaseCurrency:      "EUR",
		SharesOutstanding: decimal.NewFromInt(10_000),
		Positions: []types.PositionValuation{
			{
				InstrumentID:       "DE0001234567",
				InstrumentName:     "Test Equity",
				AssetClass:         types.AssetClassEquities,
				Quantity:           decimal.NewFromInt(10_000),
				Price:              decimal.NewFromInt(100),
				PriceCurrency:      "EUR",
				PriceDate:          valuationDate,
				MarketValueLocal:   decimal.NewFromInt(1_000_000),
				MarketValueFundCcy: decimal.NewFromInt(1_000_000),
			},
		},
		Cash: []types.CashBalance{
			{
				AccountID:      "ACC_001",
				Currency:       "EUR",
				BalanceLocal:   decimal.NewFromInt(500_000),
				BalanceFundCcy: decimal.NewFromInt(500_000),
				ValueDate:      valuationDate,
			},
		},
		AccruedFees: []types.AccruedFee{
			{
				FeeType:       types.EntryTypeManagementFee,
				AnnualRate:    decimal.NewFromFloat(0.015),
				BaseAmount:    decimal.NewFromInt(1_500_000),
				AccruedAmount: decimal.NewFromInt(60_000),
			},
		},
	}
}

func TestCalculateReferenceFund(t *testing.T) {
	result := NewCalculator(Config{}).Calculate(baseSnapshot())

	if !result.GrossAssets.Equal(decimal.NewFromInt(1_500_000)) {
		t.Fatalf("gross assets = %s, want 1500000", result.GrossAssets)
	}
	if !result.TotalLiabilities.Equal(decimal.NewFromInt(60_000)) {
		t.Fatalf("total liabilities = %s, want 60000", result.TotalLiabilities)
	}
	if !result.NetAssetValue.Equal(decimal.NewFromInt(1_440_000)) {
		t.Fatalf("nav = %s, want 1440000", result.NetAssetValue)
	}
	if result.NAVPerShare.StringFixed(4) != "144.0000" {
		t.Fatalf("nav per share = %s, want 144.0000", result.NAVPerShare.StringFixed(4))
	}
	if result.Status != types.ResultStatusValid {
		t.Fatalf("status = %s, want %s (issues: %+v)", result.Status, types.ResultStatusValid, result.Issues)
	}
	if len(result.Steps) == 0 {
		t.Fatal("expected a non-empty audit trail")
	}
}

func TestCalculateZeroShares(t *testing.T) {
	snapshot := baseSnapshot()
	snapshot.SharesOutstanding = decimal.Zero

	result := NewCalculator(Config{}).Calculate(snapshot)

	if !result.NAVPerShare.IsZero() {
		t.Fatalf("nav per share = %s, want 0", result.NAVPerShare)
	}
	if result.Status != types.ResultStatusErrors {
		t.Fatalf("status = %s, want %s", result.Status, types.ResultStatusErrors)
	}
	if !result.HasError(types.CodeInvalidShares) {
		t.Fatalf("expected %s error, got issues %+v", types.CodeInvalidShares, result.Issues)
	}
}

func TestCalculateMissingFXRateFallsBack(t *testing.T) {
	snapshot := baseSnapshot()
	snapshot.Positions = append(snapshot.Positions, types.PositionValuation{
		InstrumentID:     "CH0009876543",
		AssetClass:       types.AssetClassEquities,
		Quantity:         decimal.NewFromInt(100),
		Price:            decimal.NewFromInt(250),
		PriceCurrency:    "CHF",
		PriceDate:        valuationDate,
		MarketValueLocal: decimal.NewFromInt(25_000),
		// No fund-currency value and no CHF rate in the snapshot.
	})

	result := NewCalculator(Config{}).Calculate(snapshot)

	if !result.HasWarning(types.CodeMissingFXRate) {
		t.Fatalf("expected %s warning, got issues %+v", types.CodeMissingFXRate, result.Issues)
	}
	// The unconverted amount is still included in gross assets.
	if !result.GrossAssets.Equal(decimal.NewFromInt(1_525_000)) {
		t.Fatalf("gross assets = %s, want 1525000", result.GrossAssets)
	}
	if result.Status == types.ResultStatusValid {
		t.Fatal("status must be at least WARNINGS when FX fallback was used")
	}
}

func TestCalculateNegativeNAV(t *testing.T) {
	snapshot := baseSnapshot()
	snapshot.Liabilities = []types.Liability{
		{
			EntryType:     types.EntryTypeTax,
			Currency:      "EUR",
			AmountFundCcy: decimal.NewFromInt(2_000_000),
		},
	}

	result := NewCalculator(Config{}).Calculate(snapshot)

	if !result.HasError(types.CodeNegativeNAV) {
		t.Fatalf("expected %s error, got issues %+v", types.CodeNegativeNAV, result.Issues)
	}
	if result.Status != types.ResultStatusErrors {
		t.Fatalf("status = %s, want %s", result.Status, types.ResultStatusErrors)
	}
}

func TestCalculateMissingAndStalePrices(t *testing.T) {
	snapshot := baseSnapshot()
	snapshot.Positions = append(snapshot.Positions,
		types.PositionValuation{
			InstrumentID:  "XS0000000001",
			AssetClass:    types.AssetClassFixedIncome,
			Quantity:      decimal.NewFromInt(10),
			Price:         decimal.Zero, // missing price
			PriceCurrency: "EUR",
			PriceDate:     valuationDate,
		},
		types.PositionValuation{
			InstrumentID:       "XS0000000002",
			AssetClass:         types.AssetClassFixedIncome,
			Quantity:           decimal.NewFromInt(10),
			Price:              decimal.NewFromInt(99),
			PriceCurrency:      "EUR",
			PriceDate:          valuationDate.AddDate(0, 0, -5), // stale
			MarketValueFundCcy: decimal.NewFromInt(990),
		},
	)

	result := NewCalculator(Config{}).Calculate(snapshot)

	if !result.HasWarning(types.CodeMissingPrices) {
		t.Fatalf("expected %s warning, got issues %+v", types.CodeMissingPrices, result.Issues)
	}
	if !result.HasWarning(types.CodeStalePrices) {
		t.Fatalf("expected %s warning, got issues %+v", types.CodeStalePrices, result.Issues)
	}
	if result.Status != types.ResultStatusWarnings {
		t.Fatalf("status = %s, want %s", result.Status, types.ResultStatusWarnings)
	}
}

// The NAV identity and breakdown-sum properties must hold for any input.
func TestBreakdownSumsMatchTotals(t *testing.T) {
	snapshot := baseSnapshot()
	snapshot.Receivables = []types.Receivable{
		{EntryType: types.EntryTypeDividend, Currency: "EUR", AmountFundCcy: decimal.NewFromInt(12_500)},
		{EntryType: types.EntryTypeSubscription, Currency: "EUR", AmountFundCcy: decimal.NewFromInt(40_000)},
	}
	snapshot.Liabilities = []types.Liability{
		{EntryType: types.EntryTypeAuditFee, Currency: "EUR", AmountFundCcy: decimal.NewFromInt(7_500)},
	}
	snapshot.Redemptions = []types.PendingRedemption{
		{ShareholderID: "SH_01", Shares: decimal.NewFromInt(100), EstimatedAmount: decimal.NewFromInt(14_400)},
	}

	result := NewCalculator(Config{}).Calculate(snapshot)

	assetSum := decimal.Zero
	for _, v := range result.Breakdown.AssetsByClass {
		assetSum = assetSum.Add(v)
	}
	if !assetSum.Equal(result.GrossAssets) {
		t.Fatalf("asset breakdown sum %s != gross assets %s", assetSum, result.GrossAssets)
	}

	liabilitySum := decimal.Zero
	for _, v := range result.Breakdown.LiabilitiesByType {
		liabilitySum = liabilitySum.Add(v)
	}
	if !liabilitySum.Equal(result.TotalLiabilities) {
		t.Fatalf("liability breakdown sum %s != total liabilities %s", liabilitySum, result.TotalLiabilities)
	}

	if !result.NetAssetValue.Equal(result.GrossAssets.Sub(result.TotalLiabilities)) {
		t.Fatalf("nav %s != gross %s - liabilities %s", result.NetAssetValue, result.GrossAssets, result.TotalLiabilities)
	}
}

func TestCalculateDeterministic(t *testing.T) {
	calc := NewCalculator(Config{})

	first := calc.Calculate(baseSnapshot())
	second := calc.Calculate(baseSnapshot())

	// Timestamps are the only permitted difference.
	first.CalculatedAt = time.Time{}
	second.CalculatedAt = time.Time{}

	a, err := json.Marshal(first)
	if err != nil {
		t.Fatalf("marshal first result: %v", err)
	}
	b, err := json.Marshal(second)
	if err != nil {
		t.Fatalf("marshal second result: %v", err)
	}
	if string(a) != string(b) {
		t.Fatalf("results differ:\n%s\n%s", a, b)
	}
}

func TestCalculateWithComparison(t *testing.T) {
	calc := NewCalculator(Config{})

	tests := []struct {
		name         string
		previous     decimal.Decimal
		wantSeverity string
	}{
		{"small move", decimal.NewFromInt(142), ""},                                  // +1.4%
		{"warning move", decimal.NewFromInt(135), types.SeverityWarning},             // +6.7%
		{"error move", decimal.NewFromInt(120), types.SeverityError},                 // +20%
		{"no previous value", decimal.Zero, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := calc.CalculateWithComparison(baseSnapshot(), tt.previous)

			switch tt.wantSeverity {
			case types.SeverityWarning:
				if !result.HasWarning(types.CodeLargeNAVChange) {
					t.Fatalf("expected %s warning, got %+v", types.CodeLargeNAVChange, result.Issues)
				}
			case types.SeverityError:
				if !result.HasError(types.CodeLargeNAVChange) {
					t.Fatalf("expected %s error, got %+v", types.CodeLargeNAVChange, result.Issues)
				}
			default:
				if result.HasWarning(types.CodeLargeNAVChange) || result.HasError(types.CodeLargeNAVChange) {
					t.Fatalf("unexpected movement issue: %+v", result.Issues)
				}
			}

			if !tt.previous.IsZero() && !result.PreviousNAVPerShare.Equal(tt.previous) {
				t.Fatalf("previous nav per share = %s, want %s", result.PreviousNAVPerShare, tt.previous)
			}
		})
	}
}
