package fees

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ksred/navflow-api/internal/types"
)

// AccrueFee computes a periodic fee accrual over elapsed days:
// accrued = base * (annualRate / denominator) * days.
// The denominator is 360 for ACT/360 and 30/360, otherwise 365.
func AccrueFee(base, annualRate decimal.Decimal, days int, convention string) decimal.Decimal {
	if days <= 0 || base.IsZero() || annualRate.IsZero() {
		return decimal.Zero
	}
	// Division last so exactly divisible accruals stay exact.
	return base.Mul(annualRate).
		Mul(decimal.NewFromInt(int64(days))).
		Div(decimal.NewFromInt(int64(denominator(convention))))
}

// AccrueFeeBetween is AccrueFee with the day count derived from the period.
func AccrueFeeBetween(base, annualRate decimal.Decimal, start, end time.Time, convention string) (decimal.Decimal, error) {
	days, err := DayCount(start, end, convention)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fee accrual: %w", err)
	}
	return AccrueFee(base, annualRate, days, convention), nil
}

// HighWaterMarkFee computes a performance fee under a high-water-mark policy:
// fee = max(0, navPerShare - hwm) * rate * shares.
func HighWaterMarkFee(navPerShare, highWaterMark, rate, shares decimal.Decimal) decimal.Decimal {
	excess := navPerShare.Sub(highWaterMark)
	if excess.Sign() <= 0 {
		return decimal.Zero
	}
	return excess.Mul(rate).Mul(shares)
}

// HurdleFee computes a performance fee under a hurdle-rate policy. The hurdle
// level grows the previous NAV per share by hurdle * days/365; fee accrues
// only on the excess above that level.
func HurdleFee(navPerShare, prevNavPerShare, hurdleRate, rate, shares decimal.Decimal, days int) decimal.Decimal {
	growth := hurdleRate.Mul(decimal.NewFromInt(int64(days))).Div(decimal.NewFromInt(365))
	hurdleLevel := prevNavPerShare.Mul(decimal.NewFromInt(1).Add(growth))
	excess := navPerShare.Sub(hurdleLevel)
	if excess.Sign() <= 0 {
		return decimal.Zero
	}
	return excess.Mul(rate).Mul(shares)
}

// BuildAccrual assembles an AccruedFee entry for a fee type over a period.
func BuildAccrual(feeType string, base, annualRate decimal.Decimal, start, end time.Time, convention string) (types.AccruedFee, error) {
	accrued, err := AccrueFeeBetween(base, annualRate, start, end, convention)
	if err != nil {
		return types.AccruedFee{}, err
	}
	return types.AccruedFee{
		FeeType:       feeType,
		PeriodStart:   start,
		PeriodEnd:     end,
		AnnualRate:    annualRate,
		BaseAmount:    base,
		AccruedAmount: accrued,
	}, nil
}
