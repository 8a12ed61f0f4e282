package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ksred/navflow-api/internal/approval"
	"github.com/ksred/navflow-api/internal/database"
	"github.com/ksred/navflow-api/internal/nav"
	"github.com/ksred/navflow-api/internal/notify"
	"github.com/ksred/navflow-api/internal/pricing"
	"github.com/ksred/navflow-api/internal/registry"
	"github.com/ksred/navflow-api/internal/scheduler"
	"github.com/ksred/navflow-api/internal/types"
	"github.com/ksred/navflow-api/internal/valuation"
)

const (
	databaseFile   = "simulation.db"
	valuationDays  = 5
	firstApprover  = "alice.admin"
	secondApprover = "bob.controller"
	publisher      = "carol.ops"
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	// Configure pretty logging
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// main simulates a full fund-administration week: it seeds a small fund
// universe, runs the daily valuation batch across consecutive trading days,
// walks each run through the two-person approval workflow, publishes, and
// prints the resulting NAV series.
func main() {
	// Fresh database per simulation run
	_ = os.Remove(databaseFile)

	db, err := database.NewDatabase(databaseFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}

	registryService := registry.NewService(db)
	seedUniverse(registryService)

	marketData := pricing.NewSimulatedProvider("SIMULATED")
	calculator := valuation.NewCalculator(valuation.DefaultConfig())
	navService := nav.NewService(db, registryService, marketData, marketData, calculator)

	notifier := notify.NewLogNotifier([]string{"fund-ops@navflow.local"})
	approvalService := approval.NewService(db, navService.GetDB(), registryService, notifier)

	calendar, err := scheduler.NewCalendar("Europe/Luxembourg", nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build trading calendar")
	}

	// Walk forward from a fixed Monday so the series is reproducible.
	date := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	completed := 0
	for completed < valuationDays {
		if !calendar.IsTradingDay(date) {
			date = date.AddDate(0, 0, 1)
			continue
		}

		if err := runValuationDay(navService, approvalService, date); err != nil {
			log.Fatal().Err(err).
				Str("date", date.Format("2006-01-02")).
				Msg("valuation day failed")
		}

		completed++
		date = date.AddDate(0, 0, 1)
	}

	printNAVSeries(navService, registryService)
}

// runValuationDay executes one complete daily cycle: batch, approval
// workflow with two sign-offs, and publication.
func runValuationDay(navService *nav.Service, approvalService *approval.Service, date time.Time) error {
	log.Info().Str("date", date.Format("2006-01-02")).Msg("=== valuation day ===")

	run, err := navService.RunDailyNAV(date)
	if err != nil {
		return fmt.Errorf("batch failed: %w", err)
	}
	if run.Status != nav.RunStatusAwaitingApproval {
		return fmt.Errorf("run %s finished %s with %d failed classes", run.RunID, run.Status, run.FailedClasses)
	}

	workflow, err := approvalService.CreateForRun(run.RunID)
	if err != nil {
		return fmt.Errorf("failed to open approval: %w", err)
	}
	if _, err := approvalService.Approve(workflow.ApprovalID, firstApprover, "four-eyes check one"); err != nil {
		return fmt.Errorf("first sign-off failed: %w", err)
	}
	if _, err := approvalService.Approve(workflow.ApprovalID, secondApprover, "four-eyes check two"); err != nil {
		return fmt.Errorf("second sign-off failed: %w", err)
	}
	if _, err := approvalService.Publish(workflow.ApprovalID, publisher); err != nil {
		return fmt.Errorf("publication failed: %w", err)
	}

	return nil
}

// seedUniverse creates two funds: a USD global equity fund and a EUR balanced
// fund holding USD-priced instruments, exercising the FX conversion path.
func seedUniverse(registryService *registry.Service) {
	db := registryService.GetDB()
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	must := func(err error) {
		if err != nil {
			log.Fatal().Err(err).Msg("failed to seed fund universe")
		}
	}

	must(db.CreateFund(&registry.Fund{
		FundID: "FUND_GLOBAL_EQ", Name: "Global Equity Fund", BaseCurrency: "USD", Active: true,
	}))
	must(db.SaveFundConfig(&registry.FundConfig{
		FundID:               "FUND_GLOBAL_EQ",
		ManagementFeeRate:    decimal.NewFromFloat(0.015),
		PerformanceFeeRate:   decimal.NewFromFloat(0.20),
		PerformanceFeePolicy: types.PerfFeeHighWaterMark,
		DayCountConvention:   types.ConventionAct365,
		PriceSource:          "SIMULATED",
		FXSource:             "SIMULATED",
	}))
	must(db.CreateShareClass(&registry.ShareClass{
		ShareClassID: "GLEQ_INST_USD", FundID: "FUND_GLOBAL_EQ", Name: "Institutional USD",
		Currency: "USD", Active: true,
		InitialShares: decimal.NewFromInt(100000),
		HighWaterMark: decimal.NewFromInt(100),
	}))

	must(db.CreateFund(&registry.Fund{
		FundID: "FUND_EUR_BAL", Name: "European Balanced Fund", BaseCurrency: "EUR", Active: true,
	}))
	must(db.SaveFundConfig(&registry.FundConfig{
		FundID:             "FUND_EUR_BAL",
		ManagementFeeRate:  decimal.NewFromFloat(0.0095),
		DayCountConvention: types.ConventionThirty360,
		PriceSource:        "SIMULATED",
		FXSource:           "SIMULATED",
	}))
	must(db.CreateShareClass(&registry.ShareClass{
		ShareClassID: "EUBAL_RET_EUR", FundID: "FUND_EUR_BAL", Name: "Retail EUR",
		Currency: "EUR", Active: true,
		InitialShares: decimal.NewFromInt(250000),
	}))

	positions := []registry.Position{
		{FundID: "FUND_GLOBAL_EQ", InstrumentID: "US0378331005", InstrumentName: "Apple Inc",
			AssetClass: types.AssetClassEquities, Quantity: decimal.NewFromInt(25000)},
		{FundID: "FUND_GLOBAL_EQ", InstrumentID: "US5949181045", InstrumentName: "Microsoft Corp",
			AssetClass: types.AssetClassEquities, Quantity: decimal.NewFromInt(18000)},
		{FundID: "FUND_EUR_BAL", InstrumentID: "US912828YK09", InstrumentName: "US Treasury 2029",
			AssetClass: types.AssetClassFixedIncome, Quantity: decimal.NewFromInt(40000),
			AccruedInterest: decimal.NewFromInt(12500)},
		{FundID: "FUND_EUR_BAL", InstrumentID: "GB0002374006", InstrumentName: "Diageo plc",
			AssetClass: types.AssetClassEquities, Quantity: decimal.NewFromInt(15000)},
	}
	provider := pricing.NewSimulatedProvider("SIMULATED")
	for i := range positions {
		quote, err := provider.LatestPrice(positions[i].InstrumentID, start)
		must(err)
		positions[i].Price = quote.Price
		positions[i].PriceCurrency = quote.Currency
		positions[i].PriceDate = quote.AsOf
		positions[i].PriceSource = quote.Source
		positions[i].AsOfDate = start
		must(db.CreatePosition(&positions[i]))
	}

	cash := []registry.CashAccount{
		{FundID: "FUND_GLOBAL_EQ", AccountID: "GLEQ_CASH_USD", Currency: "USD", Balance: decimal.NewFromInt(2500000)},
		{FundID: "FUND_EUR_BAL", AccountID: "EUBAL_CASH_EUR", Currency: "EUR", Balance: decimal.NewFromInt(1200000)},
		{FundID: "FUND_EUR_BAL", AccountID: "EUBAL_CASH_USD", Currency: "USD", Balance: decimal.NewFromInt(300000)},
	}
	for i := range cash {
		cash[i].AsOfDate = start
		must(db.CreateCashAccount(&cash[i]))
	}

	// A small pending redemption against the retail class
	must(db.CreateRedemption(&registry.RedemptionRequest{
		FundID: "FUND_EUR_BAL", ShareClassID: "EUBAL_RET_EUR", ShareholderID: "SH_1042",
		Shares:          decimal.NewFromInt(1500),
		EstimatedAmount: decimal.NewFromInt(15000),
		ValueDate:       start.AddDate(0, 0, 7),
		Status:          registry.RedemptionPending,
	}))

	log.Info().Msg("fund universe seeded")
}

// printNAVSeries reports the published series per share class.
func printNAVSeries(navService *nav.Service, registryService *registry.Service) {
	fmt.Println("\n=== Published NAV Series ===")

	classes := []struct{ fundID, classID string }{
		{"FUND_GLOBAL_EQ", "GLEQ_INST_USD"},
		{"FUND_EUR_BAL", "EUBAL_RET_EUR"},
	}

	for _, class := range classes {
		fmt.Printf("\n%s / %s\n", class.fundID, class.classID)

		date := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
		for i := 0; i < valuationDays+3; i++ {
			record, err := navService.GetRecord(class.fundID, class.classID, date)
			if err != nil {
				log.Error().Err(err).Msg("failed to load record")
			}
			if record != nil {
				fmt.Printf("  %s  NAV/share %-14s  net assets %-18s  status %s (%s)\n",
					record.ValuationDate.Format("2006-01-02"),
					record.NAVPerShare.StringFixed(4),
					record.NetAssetValue.StringFixed(2),
					record.Status,
					record.ValidationStatus,
				)
			}
			date = date.AddDate(0, 0, 1)
		}

		latest, err := registryService.GetLatestNAV(class.classID)
		if err != nil {
			log.Error().Err(err).Msg("failed to load latest NAV")
			continue
		}
		if latest != nil {
			fmt.Printf("  registry latest: %s on %s\n",
				latest.NAVPerShare.StringFixed(4),
				latest.ValuationDate.Format("2006-01-02"))
		}
	}
}
