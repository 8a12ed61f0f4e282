package valuation

import (
	"github.com/shopspring/decimal"

	"github.com/ksred/navflow-api/internal/types"
)

// Currencies tried as intermediaries when no direct or inverse rate exists.
var crossCurrencies = []string{"USD", "EUR"}

// RateTable resolves FX rates from a snapshot's rate set. Resolution order:
// identity, direct rate, inverse rate, then a two-hop cross via USD or EUR.
type RateTable struct {
	rates map[string]map[string]decimal.Decimal // base -> quote -> rate
}

// NewRateTable indexes the given rates in both directions.
func NewRateTable(rates []types.FXRate) *RateTable {
	t := &RateTable{rates: make(map[string]map[string]decimal.Decimal)}
	for _, r := range rates {
		if r.Rate.Sign() <= 0 || r.BaseCurrency == r.QuoteCurrency {
			continue
		}
		t.put(r.BaseCurrency, r.QuoteCurrency, r.Rate)
	}
	return t
}

func (t *RateTable) put(base, quote string, rate decimal.Decimal) {
	if t.rates[base] == nil {
		t.rates[base] = make(map[string]decimal.Decimal)
	}
	t.rates[base][quote] = rate
}

func (t *RateTable) direct(base, quote string) (decimal.Decimal, bool) {
	if quotes, ok := t.rates[base]; ok {
		if rate, ok := quotes[quote]; ok {
			return rate, true
		}
	}
	return decimal.Zero, false
}

// Resolve returns the rate converting one unit of base into quote currency.
func (t *RateTable) Resolve(base, quote string) (decimal.Decimal, bool) {
	if base == quote {
		return decimal.NewFromInt(1), true
	}

	if rate, ok := t.direct(base, quote); ok {
		return rate, true
	}

	if inverse, ok := t.direct(quote, base); ok {
		return decimal.NewFromInt(1).Div(inverse), true
	}

	for _, via := range crossCurrencies {
		if via == base || via == quote {
			continue
		}
		leg1, ok1 := t.legRate(base, via)
		leg2, ok2 := t.legRate(via, quote)
		if ok1 && ok2 {
			return leg1.Mul(leg2), true
		}
	}

	return decimal.Zero, false
}

// legRate resolves a single hop using direct or inverse rates only, so cross
// resolution never chains more than two hops.
func (t *RateTable) legRate(base, quote string) (decimal.Decimal, bool) {
	if rate, ok := t.direct(base, quote); ok {
		return rate, true
	}
	if inverse, ok := t.direct(quote, base); ok {
		return decimal.NewFromInt(1).Div(inverse), true
	}
	return decimal.Zero, false
}

// Convert converts an amount from one currency to another. The second return
// is false when no rate path resolves; the caller decides the fallback.
func (t *RateTable) Convert(amount decimal.Decimal, from, to string) (decimal.Decimal, bool) {
	rate, ok := t.Resolve(from, to)
	if !ok {
		return amount, false
	}
	return amount.Mul(rate), true
}
