package nav

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ksred/navflow-api/internal/fees"
	"github.com/ksred/navflow-api/internal/pricing"
	"github.com/ksred/navflow-api/internal/registry"
	"github.com/ksred/navflow-api/internal/types"
	"github.com/ksred/navflow-api/internal/valuation"
)

// Registry is the read side of the fund/position registry consumed by the
// orchestration service. registry.Service satisfies it; tests substitute
// stubs.
type Registry interface {
	GetFund(fundID string) (*registry.Fund, error)
	GetFundConfig(fundID string) (*registry.FundConfig, error)
	GetActiveFunds() ([]registry.Fund, error)
	GetActiveShareClasses(fundID string) ([]registry.ShareClass, error)
	GetShareClass(shareClassID string) (*registry.ShareClass, error)
	GetPositions(fundID string, asOf time.Time) ([]registry.Position, error)
	GetCashAccounts(fundID string, asOf time.Time) ([]registry.CashAccount, error)
	SumHoldings(shareClassID string) (decimal.Decimal, error)
	GetPendingRedemptions(shareClassID string, valueDate time.Time) ([]registry.RedemptionRequest, error)
}

// Service orchestrates NAV production: it assembles snapshots from the
// registry and market-data providers, invokes the calculator, and persists
// the results.
type Service struct {
	db             *Database
	registry       Registry
	prices         pricing.PriceProvider
	fx             pricing.FXProvider
	calculator     *valuation.Calculator
	stalePriceDays int
}

func NewService(gormDB *gorm.DB, reg Registry, prices pricing.PriceProvider, fx pricing.FXProvider, calculator *valuation.Calculator) *Service {
	return &Service{
		db:             NewDatabase(gormDB),
		registry:       reg,
		prices:         prices,
		fx:             fx,
		calculator:     calculator,
		stalePriceDays: valuation.DefaultConfig().StalePriceDays,
	}
}

// GetDB exposes the database wrapper for collaborating services.
func (s *Service) GetDB() *Database {
	return s.db
}

// CalculateNAV computes and persists the NAV for one fund/share-class/date.
// The result is stored as a draft (PRELIMINARY) record.
func (s *Service) CalculateNAV(fundID, shareClassID string, date time.Time) (*types.NAVResult, error) {
	result, _, err := s.calculateAndPersist(fundID, shareClassID, normalizeDate(date))
	return result, err
}

// RunDailyNAV executes the batch over every active fund and share class. A
// failure in one fund/share-class is recorded on the run and does not abort
// the batch. The run ends FAILED if any class failed, else AWAITING_APPROVAL.
func (s *Service) RunDailyNAV(date time.Time) (*NAVRun, error) {
	date = normalizeDate(date)
	logger := log.With().
		Str("service", "nav").
		Str("valuation_date", date.Format("2006-01-02")).
		Logger()

	run := &NAVRun{
		RunID:         "RUN_" + uuid.New().String(),
		ValuationDate: date,
		Status:        RunStatusInProgress,
		StartedAt:     time.Now(),
	}
	if err := s.db.CreateRun(run); err != nil {
		return nil, fmt.Errorf("failed to create NAV run: %w", err)
	}

	logger.Info().Str("run_id", run.RunID).Msg("starting daily NAV run")

	funds, err := s.registry.GetActiveFunds()
	if err != nil {
		run.Status = RunStatusFailed
		s.finishRun(run)
		return nil, fmt.Errorf("failed to list active funds: %w", err)
	}

	for _, fund := range funds {
		classes, err := s.registry.GetActiveShareClasses(fund.FundID)
		if err != nil {
			run.TotalClasses++
			run.FailedClasses++
			s.recordClassResult(run, fund.FundID, "", "", err)
			continue
		}

		for _, class := range classes {
			run.TotalClasses++

			_, record, err := s.calculateAndPersist(fund.FundID, class.ShareClassID, date)
			if err != nil {
				run.FailedClasses++
				s.recordClassResult(run, fund.FundID, class.ShareClassID, "", err)
				logger.Error().Err(err).
					Str("fund_id", fund.FundID).
					Str("share_class_id", class.ShareClassID).
					Msg("fund class valuation failed")
				continue
			}

			run.CompletedClasses++
			s.recordClassResult(run, fund.FundID, class.ShareClassID, record.NAVID, nil)
		}
	}

	if run.FailedClasses > 0 {
		run.Status = RunStatusFailed
	} else {
		run.Status = RunStatusAwaitingApproval
	}
	s.finishRun(run)

	results, err := s.db.GetRunResults(run.RunID)
	if err != nil {
		return nil, err
	}
	run.Results = results

	logger.Info().
		Str("run_id", run.RunID).
		Str("status", run.Status).
		Int("total", run.TotalClasses).
		Int("completed", run.CompletedClasses).
		Int("failed", run.FailedClasses).
		Msg("daily NAV run finished")

	return run, nil
}

// RetryRun re-executes a previously failed run for the given date as a new
// run. Runs that did not fail cannot be retried.
func (s *Service) RetryRun(date time.Time) (*NAVRun, error) {
	date = normalizeDate(date)
	previous, err := s.db.GetLatestRunByDate(date)
	if err != nil {
		return nil, err
	}
	if previous == nil {
		return nil, fmt.Errorf("no run exists for %s", date.Format("2006-01-02"))
	}
	if previous.Status != RunStatusFailed {
		return nil, fmt.Errorf("run %s is %s, only failed runs can be retried", previous.RunID, previous.Status)
	}

	log.Info().
		Str("service", "nav").
		Str("previous_run_id", previous.RunID).
		Str("valuation_date", date.Format("2006-01-02")).
		Msg("retrying failed NAV run")

	return s.RunDailyNAV(date)
}

// VerifyNAV recomputes the NAV for a key and diffs it against the stored
// record. The tolerance is a percentage of the reference NAV per share.
func (s *Service) VerifyNAV(fundID, shareClassID string, date time.Time, tolerancePct decimal.Decimal) (*VerificationResult, error) {
	date = normalizeDate(date)
	reference, err := s.db.GetRecord(fundID, shareClassID, date)
	if err != nil {
		return nil, err
	}
	if reference == nil {
		return nil, fmt.Errorf("no NAV record exists for %s/%s on %s", fundID, shareClassID, date.Format("2006-01-02"))
	}

	snapshot, prev, err := s.buildSnapshot(fundID, shareClassID, date)
	if err != nil {
		return nil, err
	}

	var result *types.NAVResult
	if prev != nil {
		result = s.calculator.CalculateWithComparison(snapshot, prev.NAVPerShare)
	} else {
		result = s.calculator.Calculate(snapshot)
	}

	diff := result.NAVPerShare.Sub(reference.NAVPerShare)
	pct := decimal.Zero
	if reference.NAVPerShare.Sign() != 0 {
		pct = diff.Div(reference.NAVPerShare).Mul(decimal.NewFromInt(100))
	}

	return &VerificationResult{
		FundID:          fundID,
		ShareClassID:    shareClassID,
		ValuationDate:   date,
		ReferenceNAV:    reference.NAVPerShare,
		RecomputedNAV:   result.NAVPerShare,
		AbsoluteDiff:    diff.Abs(),
		PercentDiff:     pct,
		WithinTolerance: pct.Abs().LessThanOrEqual(tolerancePct),
	}, nil
}

// GetRecord returns the persisted record for a key, or nil.
func (s *Service) GetRecord(fundID, shareClassID string, date time.Time) (*NAVRecord, error) {
	return s.db.GetRecord(fundID, shareClassID, normalizeDate(date))
}

// GetRun returns a run with its per-class results.
func (s *Service) GetRun(runID string) (*NAVRun, error) {
	return s.db.GetRun(runID)
}

func (s *Service) recordClassResult(run *NAVRun, fundID, shareClassID, navID string, err error) {
	result := &FundClassResult{
		RunID:        run.RunID,
		FundID:       fundID,
		ShareClassID: shareClassID,
		NAVID:        navID,
		Status:       ClassResultCompleted,
	}
	if err != nil {
		result.Status = ClassResultFailed
		result.Error = err.Error()
	}
	if dbErr := s.db.CreateRunResult(result); dbErr != nil {
		log.Error().Err(dbErr).
			Str("service", "nav").
			Str("run_id", run.RunID).
			Str("fund_id", fundID).
			Msg("failed to persist run result")
	}
}

func (s *Service) finishRun(run *NAVRun) {
	now := time.Now()
	run.FinishedAt = &now
	if err := s.db.UpdateRun(run); err != nil {
		log.Error().Err(err).
			Str("service", "nav").
			Str("run_id", run.RunID).
			Msg("failed to update run")
	}
}

// calculateAndPersist builds the snapshot, runs the calculator, and stores
// the result as a NAV record.
func (s *Service) calculateAndPersist(fundID, shareClassID string, date time.Time) (*types.NAVResult, *NAVRecord, error) {
	snapshot, prev, err := s.buildSnapshot(fundID, shareClassID, date)
	if err != nil {
		return nil, nil, err
	}

	var result *types.NAVResult
	if prev != nil {
		result = s.calculator.CalculateWithComparison(snapshot, prev.NAVPerShare)
	} else {
		result = s.calculator.Calculate(snapshot)
	}

	record, err := s.toRecord(result)
	if err != nil {
		return nil, nil, err
	}
	saved, err := s.db.SaveResult(record, "system")
	if err != nil {
		return nil, nil, err
	}
	return result, saved, nil
}

// buildSnapshot assembles the calculator input for a fund/share-class/date:
// positions (with stale prices refreshed), cash, FX rates for every non-base
// currency in use, accrued fees from AUM and fund policy, pending
// redemptions, and the shares-outstanding determination.
func (s *Service) buildSnapshot(fundID, shareClassID string, date time.Time) (*types.FundSnapshot, *NAVRecord, error) {
	fund, err := s.registry.GetFund(fundID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch fund: %w", err)
	}
	class, err := s.registry.GetShareClass(shareClassID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch share class: %w", err)
	}
	if class.FundID != fundID {
		return nil, nil, fmt.Errorf("share class %s does not belong to fund %s", shareClassID, fundID)
	}
	cfg, err := s.registry.GetFundConfig(fundID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch fund config: %w", err)
	}

	convention := cfg.DayCountConvention
	if convention == "" {
		convention = types.ConventionAct365
	}

	positions, err := s.registry.GetPositions(fundID, date)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch positions: %w", err)
	}
	cashAccounts, err := s.registry.GetCashAccounts(fundID, date)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch cash accounts: %w", err)
	}
	redemptions, err := s.registry.GetPendingRedemptions(shareClassID, date)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch pending redemptions: %w", err)
	}

	prev, err := s.db.GetLatestRecordBefore(fundID, shareClassID, date)
	if err != nil {
		return nil, nil, err
	}

	snapshot := &types.FundSnapshot{
		FundID:             fundID,
		ShareClassID:       shareClassID,
		ValuationDate:      date,
		BaseCurrency:       fund.BaseCurrency,
		ManagementFeeRate:  cfg.ManagementFeeRate,
		PerformanceFeeRate: cfg.PerformanceFeeRate,
		HighWaterMark:      class.HighWaterMark,
	}

	currencies := make(map[string]bool)
	for _, pos := range positions {
		pos = s.refreshStalePrice(pos, date)

		valueLocal := pos.Quantity.Mul(pos.Price)
		pv := types.PositionValuation{
			InstrumentID:     pos.InstrumentID,
			InstrumentName:   pos.InstrumentName,
			AssetClass:       pos.AssetClass,
			Quantity:         pos.Quantity,
			Price:            pos.Price,
			PriceCurrency:    pos.PriceCurrency,
			PriceDate:        pos.PriceDate,
			PriceSource:      pos.PriceSource,
			MarketValueLocal: valueLocal,
			AccruedInterest:  pos.AccruedInterest,
			AccruedDividend:  pos.AccruedDividend,
		}
		if pos.PriceCurrency == fund.BaseCurrency {
			pv.MarketValueFundCcy = valueLocal
		} else if pos.PriceCurrency != "" {
			currencies[pos.PriceCurrency] = true
		}
		snapshot.Positions = append(snapshot.Positions, pv)
	}

	for _, account := range cashAccounts {
		cb := types.CashBalance{
			AccountID:    account.AccountID,
			Currency:     account.Currency,
			BalanceLocal: account.Balance,
			ValueDate:    account.AsOfDate,
		}
		if account.Currency == fund.BaseCurrency {
			cb.BalanceFundCcy = account.Balance
		} else if account.Currency != "" {
			currencies[account.Currency] = true
		}
		snapshot.Cash = append(snapshot.Cash, cb)
	}

	snapshot.FXRates = s.resolveFXRates(currencies, fund.BaseCurrency, date)

	shares, err := s.sharesOutstanding(prev, class)
	if err != nil {
		return nil, nil, err
	}
	snapshot.SharesOutstanding = shares

	for _, red := range redemptions {
		snapshot.Redemptions = append(snapshot.Redemptions, types.PendingRedemption{
			ShareholderID:   red.ShareholderID,
			Shares:          red.Shares,
			EstimatedAmount: red.EstimatedAmount,
			ValueDate:       red.ValueDate,
		})
	}

	if err := s.buildAccruals(snapshot, cfg, class, prev, date, convention); err != nil {
		return nil, nil, err
	}

	return snapshot, prev, nil
}

// refreshStalePrice replaces a stale registry price with the pricing
// provider's latest quote when one is available.
func (s *Service) refreshStalePrice(pos registry.Position, date time.Time) registry.Position {
	if s.prices == nil {
		return pos
	}
	staleBefore := date.AddDate(0, 0, -s.stalePriceDays)
	if !pos.PriceDate.Before(staleBefore) {
		return pos
	}

	quote, err := s.prices.LatestPrice(pos.InstrumentID, date)
	if err != nil {
		log.Warn().Err(err).
			Str("service", "nav").
			Str("instrument_id", pos.InstrumentID).
			Msg("stale price could not be refreshed")
		return pos
	}

	log.Debug().
		Str("service", "nav").
		Str("instrument_id", pos.InstrumentID).
		Str("old_price", pos.Price.String()).
		Str("new_price", quote.Price.String()).
		Str("source", quote.Source).
		Msg("refreshed stale position price")

	pos.Price = quote.Price
	pos.PriceCurrency = quote.Currency
	pos.PriceDate = quote.AsOf
	pos.PriceSource = quote.Source
	return pos
}

// resolveFXRates fetches a spot rate to the base currency for every foreign
// currency in use. A provider failure for one currency is logged and skipped;
// the calculator downgrades the affected conversions to warnings.
func (s *Service) resolveFXRates(currencies map[string]bool, baseCurrency string, date time.Time) []types.FXRate {
	var rates []types.FXRate
	for currency := range currencies {
		if s.fx == nil {
			break
		}
		quote, err := s.fx.SpotRate(currency, baseCurrency, date)
		if err != nil {
			log.Warn().Err(err).
				Str("service", "nav").
				Str("currency", currency).
				Str("base_currency", baseCurrency).
				Msg("FX rate unavailable from provider")
			continue
		}
		rates = append(rates, types.FXRate{
			BaseCurrency:  quote.BaseCurrency,
			QuoteCurrency: quote.QuoteCurrency,
			Rate:          quote.Rate,
			RateDate:      quote.AsOf,
			Source:        quote.Source,
		})
	}
	return rates
}

// sharesOutstanding determines the share count: the latest persisted record,
// else summed shareholder holdings, else the share class's initial shares.
func (s *Service) sharesOutstanding(prev *NAVRecord, class *registry.ShareClass) (decimal.Decimal, error) {
	if prev != nil && prev.SharesOutstanding.Sign() > 0 {
		return prev.SharesOutstanding, nil
	}

	held, err := s.registry.SumHoldings(class.ShareClassID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum holdings: %w", err)
	}
	if held.Sign() > 0 {
		return held, nil
	}

	return class.InitialShares, nil
}

// buildAccruals derives the management fee accrual from estimated AUM and,
// when a performance fee policy is configured, the performance fee accrual.
func (s *Service) buildAccruals(snapshot *types.FundSnapshot, cfg *registry.FundConfig, class *registry.ShareClass, prev *NAVRecord, date time.Time, convention string) error {
	periodStart := date.AddDate(0, 0, -1)
	if prev != nil {
		periodStart = prev.ValuationDate
	}

	aum := s.estimateAUM(snapshot)

	if cfg.ManagementFeeRate.Sign() > 0 && aum.Sign() > 0 {
		accrual, err := fees.BuildAccrual(types.EntryTypeManagementFee, aum, cfg.ManagementFeeRate, periodStart, date, convention)
		if err != nil {
			return err
		}
		snapshot.AccruedFees = append(snapshot.AccruedFees, accrual)
	}

	if cfg.PerformanceFeeRate.Sign() > 0 && snapshot.SharesOutstanding.Sign() > 0 {
		estNavPerShare := aum.DivRound(snapshot.SharesOutstanding, 8)

		var fee decimal.Decimal
		switch cfg.PerformanceFeePolicy {
		case types.PerfFeeHighWaterMark:
			fee = fees.HighWaterMarkFee(estNavPerShare, class.HighWaterMark, cfg.PerformanceFeeRate, snapshot.SharesOutstanding)
		case types.PerfFeeHurdleRate:
			if prev != nil && prev.NAVPerShare.Sign() > 0 {
				days, err := fees.DayCount(periodStart, date, convention)
				if err != nil {
					return err
				}
				fee = fees.HurdleFee(estNavPerShare, prev.NAVPerShare, cfg.HurdleRate, cfg.PerformanceFeeRate, snapshot.SharesOutstanding, days)
			}
		}

		if fee.Sign() > 0 {
			snapshot.AccruedFees = append(snapshot.AccruedFees, types.AccruedFee{
				FeeType:       types.EntryTypePerformanceFee,
				PeriodStart:   periodStart,
				PeriodEnd:     date,
				AnnualRate:    cfg.PerformanceFeeRate,
				BaseAmount:    aum,
				AccruedAmount: fee,
			})
		}
	}

	return nil
}

// estimateAUM approximates assets under management for fee accrual: position
// and cash values converted with the snapshot's rates, unconverted amounts
// kept as-is (mirroring the calculator's fallback).
func (s *Service) estimateAUM(snapshot *types.FundSnapshot) decimal.Decimal {
	table := valuation.NewRateTable(snapshot.FXRates)
	total := decimal.Zero
	for _, pos := range snapshot.Positions {
		if !pos.MarketValueFundCcy.IsZero() {
			total = total.Add(pos.MarketValueFundCcy)
			continue
		}
		converted, _ := table.Convert(pos.MarketValueLocal, pos.PriceCurrency, snapshot.BaseCurrency)
		total = total.Add(converted)
	}
	for _, cash := range snapshot.Cash {
		if !cash.BalanceFundCcy.IsZero() {
			total = total.Add(cash.BalanceFundCcy)
			continue
		}
		converted, _ := table.Convert(cash.BalanceLocal, cash.Currency, snapshot.BaseCurrency)
		total = total.Add(converted)
	}
	return total
}

// toRecord serializes a calculation result into its persisted form.
func (s *Service) toRecord(result *types.NAVResult) (*NAVRecord, error) {
	breakdown, err := json.Marshal(result.Breakdown)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal breakdown: %w", err)
	}
	issues, err := json.Marshal(result.Issues)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal issues: %w", err)
	}
	steps, err := json.Marshal(result.Steps)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal calculation steps: %w", err)
	}

	return &NAVRecord{
		NAVID:               "NAV_" + uuid.New().String(),
		FundID:              result.FundID,
		ShareClassID:        result.ShareClassID,
		ValuationDate:       result.ValuationDate,
		BaseCurrency:        result.BaseCurrency,
		ValidationStatus:    result.Status,
		GrossAssets:         result.GrossAssets,
		TotalLiabilities:    result.TotalLiabilities,
		NetAssetValue:       result.NetAssetValue,
		SharesOutstanding:   result.SharesOutstanding,
		NAVPerShare:         result.NAVPerShare,
		PreviousNAVPerShare: result.PreviousNAVPerShare,
		ChangePercent:       result.ChangePercent,
		Breakdown:           string(breakdown),
		Issues:              string(issues),
		Steps:               string(steps),
	}, nil
}

// normalizeDate truncates a timestamp to a UTC calendar date, the granularity
// of the (fund, share class, date) key.
func normalizeDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
