package fees

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/ksred/navflow-api/internal/types"
)

func TestAccrueFee(t *testing.T) {
	aum := decimal.NewFromInt(100_000_000)
	rate := decimal.NewFromFloat(0.015) // 1.5% management fee

	// 73 days under ACT/365: 100M * 0.015/365 * 73 = 300,000.
	got := AccrueFee(aum, rate, 73, types.ConventionAct365)
	if !got.Equal(decimal.NewFromInt(300_000)) {
		t.Fatalf("ACT/365 accrual = %s, want 300000", got)
	}

	// 72 days under ACT/360: 100M * 0.015/360 * 72 = 300,000.
	got = AccrueFee(aum, rate, 72, types.ConventionAct360)
	if !got.Equal(decimal.NewFromInt(300_000)) {
		t.Fatalf("ACT/360 accrual = %s, want 300000", got)
	}
}

func TestAccrueFeeDegenerate(t *testing.T) {
	if got := AccrueFee(decimal.NewFromInt(1000), decimal.NewFromFloat(0.01), 0, types.ConventionAct365); !got.IsZero() {
		t.Fatalf("zero days accrual = %s, want 0", got)
	}
	if got := AccrueFee(decimal.Zero, decimal.NewFromFloat(0.01), 30, types.ConventionAct365); !got.IsZero() {
		t.Fatalf("zero base accrual = %s, want 0", got)
	}
}

func TestAccrueFeeBetween(t *testing.T) {
	got, err := AccrueFeeBetween(
		decimal.NewFromInt(100_000_000),
		decimal.NewFromFloat(0.015),
		date(2024, 1, 1), date(2024, 3, 14), // 73 days
		types.ConventionAct365,
	)
	if err != nil {
		t.Fatalf("AccrueFeeBetween returned error: %v", err)
	}
	if !got.Equal(decimal.NewFromInt(300_000)) {
		t.Fatalf("accrual = %s, want 300000", got)
	}
}

func TestHighWaterMarkFee(t *testing.T) {
	shares := decimal.NewFromInt(10_000)
	rate := decimal.NewFromFloat(0.20)

	// NAV/share 110 over HWM 100: (110-100) * 0.20 * 10000 = 20,000.
	fee := HighWaterMarkFee(decimal.NewFromInt(110), decimal.NewFromInt(100), rate, shares)
	if !fee.Equal(decimal.NewFromInt(20_000)) {
		t.Fatalf("HWM fee = %s, want 20000", fee)
	}

	// Below the mark no fee accrues.
	fee = HighWaterMarkFee(decimal.NewFromInt(95), decimal.NewFromInt(100), rate, shares)
	if !fee.IsZero() {
		t.Fatalf("below-HWM fee = %s, want 0", fee)
	}
}

func TestHurdleFee(t *testing.T) {
	shares := decimal.NewFromInt(10_000)
	rate := decimal.NewFromFloat(0.20)
	hurdle := decimal.NewFromFloat(0.05)

	// 365 days at 5% hurdle grows 100 to 105; NAV/share 110 leaves an excess
	// of 5: 5 * 0.20 * 10000 = 10,000.
	fee := HurdleFee(decimal.NewFromInt(110), decimal.NewFromInt(100), hurdle, rate, shares, 365)
	if !fee.Equal(decimal.NewFromInt(10_000)) {
		t.Fatalf("hurdle fee = %s, want 10000", fee)
	}

	// Under the hurdle level no fee accrues.
	fee = HurdleFee(decimal.NewFromInt(104), decimal.NewFromInt(100), hurdle, rate, shares, 365)
	if !fee.IsZero() {
		t.Fatalf("under-hurdle fee = %s, want 0", fee)
	}
}

func TestBuildAccrual(t *testing.T) {
	accrual, err := BuildAccrual(
		types.EntryTypeManagementFee,
		decimal.NewFromInt(50_000_000),
		decimal.NewFromFloat(0.0146), // 2,000/day under ACT/365
		date(2024, 1, 1), date(2024, 1, 31),
		types.ConventionAct365,
	)
	if err != nil {
		t.Fatalf("BuildAccrual returned error: %v", err)
	}
	if accrual.FeeType != types.EntryTypeManagementFee {
		t.Fatalf("fee type = %s, want %s", accrual.FeeType, types.EntryTypeManagementFee)
	}
	if !accrual.AccruedAmount.Equal(decimal.NewFromInt(60_000)) {
		t.Fatalf("accrued = %s, want 60000", accrual.AccruedAmount)
	}
	if !accrual.BaseAmount.Equal(decimal.NewFromInt(50_000_000)) {
		t.Fatalf("base = %s, want 50000000", accrual.BaseAmount)
	}
}
