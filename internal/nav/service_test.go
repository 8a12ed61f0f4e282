package nav

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ksred/navflow-api/internal/registry"
	"github.com/ksred/navflow-api/internal/types"
	"github.com/ksred/navflow-api/internal/valuation"
)

type stubRegistry struct {
	funds        []registry.Fund
	configs      map[string]*registry.FundConfig
	classes      map[string][]registry.ShareClass
	positions    map[string][]registry.Position
	cash         map[string][]registry.CashAccount
	holdings     map[string]decimal.Decimal
	redemptions  map[string][]registry.RedemptionRequest
	positionsErr map[string]error
}

func (r *stubRegistry) GetFund(fundID string) (*registry.Fund, error) {
	for i := range r.funds {
		if r.funds[i].FundID == fundID {
			return &r.funds[i], nil
		}
	}
	return nil, fmt.Errorf("fund %s not found", fundID)
}

func (r *stubRegistry) GetFundConfig(fundID string) (*registry.FundConfig, error) {
	if cfg, ok := r.configs[fundID]; ok {
		return cfg, nil
	}
	return &registry.FundConfig{FundID: fundID}, nil
}

func (r *stubRegistry) GetActiveFunds() ([]registry.Fund, error) {
	return r.funds, nil
}

func (r *stubRegistry) GetActiveShareClasses(fundID string) ([]registry.ShareClass, error) {
	return r.classes[fundID], nil
}

func (r *stubRegistry) GetShareClass(shareClassID string) (*registry.ShareClass, error) {
	for _, classes := range r.classes {
		for i := range classes {
			if classes[i].ShareClassID == shareClassID {
				return &classes[i], nil
			}
		}
	}
	return nil, fmt.Errorf("share class %s not found", shareClassID)
}

func (r *stubRegistry) GetPositions(fundID string, asOf time.Time) ([]registry.Position, error) {
	if err, ok := r.positionsErr[fundID]; ok {
		return nil, err
	}
	return r.positions[fundID], nil
}

func (r *stubRegistry) GetCashAccounts(fundID string, asOf time.Time) ([]registry.CashAccount, error) {
	return r.cash[fundID], nil
}

func (r *stubRegistry) SumHoldings(shareClassID string) (decimal.Decimal, error) {
	return r.holdings[shareClassID], nil
}

func (r *stubRegistry) GetPendingRedemptions(shareClassID string, valueDate time.Time) ([]registry.RedemptionRequest, error) {
	return r.redemptions[shareClassID], nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&NAVRecord{}, &NAVTransition{}, &NAVRun{}, &FundClassResult{}, &IdempotencyRecord{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func valuationDate() time.Time {
	return time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
}

// singleFundRegistry has one USD fund with one share class: a 10,000 x 150.00
// equity position and 500,000 cash against 10,000 shares, NAV 200 per share.
func singleFundRegistry() *stubRegistry {
	date := valuationDate()
	return &stubRegistry{
		funds: []registry.Fund{
			{FundID: "FUND_A", Name: "Alpha Fund", BaseCurrency: "USD", Active: true},
		},
		configs: map[string]*registry.FundConfig{
			"FUND_A": {FundID: "FUND_A", DayCountConvention: types.ConventionAct365},
		},
		classes: map[string][]registry.ShareClass{
			"FUND_A": {
				{ShareClassID: "CLASS_A1", FundID: "FUND_A", Currency: "USD", Active: true,
					InitialShares: decimal.NewFromInt(10000)},
			},
		},
		positions: map[string][]registry.Position{
			"FUND_A": {
				{FundID: "FUND_A", InstrumentID: "US0378331005", AssetClass: types.AssetClassEquities,
					Quantity: decimal.NewFromInt(10000), Price: decimal.NewFromInt(150),
					PriceCurrency: "USD", PriceDate: date},
			},
		},
		cash: map[string][]registry.CashAccount{
			"FUND_A": {
				{FundID: "FUND_A", AccountID: "ACC_USD", Currency: "USD",
					Balance: decimal.NewFromInt(500000), AsOfDate: date},
			},
		},
		holdings:     map[string]decimal.Decimal{},
		redemptions:  map[string][]registry.RedemptionRequest{},
		positionsErr: map[string]error{},
	}
}

func newTestService(t *testing.T, reg Registry) *Service {
	t.Helper()
	return NewService(newTestDB(t), reg, nil, nil, valuation.NewCalculator(valuation.DefaultConfig()))
}

func TestCalculateNAVPersistsDraftRecord(t *testing.T) {
	service := newTestService(t, singleFundRegistry())
	date := valuationDate()

	result, err := service.CalculateNAV("FUND_A", "CLASS_A1", date)
	if err != nil {
		t.Fatalf("CalculateNAV returned error: %v", err)
	}

	wantNAV := decimal.NewFromInt(2000000)
	if !result.NetAssetValue.Equal(wantNAV) {
		t.Errorf("NetAssetValue = %s, want %s", result.NetAssetValue, wantNAV)
	}
	wantPerShare := decimal.NewFromInt(200)
	if !result.NAVPerShare.Equal(wantPerShare) {
		t.Errorf("NAVPerShare = %s, want %s", result.NAVPerShare, wantPerShare)
	}
	if result.Status != types.ResultStatusValid {
		t.Errorf("Status = %s, want %s", result.Status, types.ResultStatusValid)
	}

	record, err := service.GetRecord("FUND_A", "CLASS_A1", date)
	if err != nil {
		t.Fatalf("GetRecord returned error: %v", err)
	}
	if record == nil {
		t.Fatal("expected a persisted record")
	}
	if record.Status != RecordStatusPreliminary {
		t.Errorf("record status = %s, want %s", record.Status, RecordStatusPreliminary)
	}
	if !record.NAVPerShare.Equal(wantPerShare) {
		t.Errorf("record NAVPerShare = %s, want %s", record.NAVPerShare, wantPerShare)
	}
	if !record.SharesOutstanding.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("record SharesOutstanding = %s, want 10000", record.SharesOutstanding)
	}
}

func TestRunDailyNAVPartialFailure(t *testing.T) {
	reg := singleFundRegistry()
	reg.funds = append(reg.funds, registry.Fund{
		FundID: "FUND_B", Name: "Beta Fund", BaseCurrency: "USD", Active: true,
	})
	reg.classes["FUND_B"] = []registry.ShareClass{
		{ShareClassID: "CLASS_B1", FundID: "FUND_B", Currency: "USD", Active: true,
			InitialShares: decimal.NewFromInt(5000)},
	}
	reg.positionsErr["FUND_B"] = errors.New("custodian feed unavailable")

	service := newTestService(t, reg)
	date := valuationDate()

	run, err := service.RunDailyNAV(date)
	if err != nil {
		t.Fatalf("RunDailyNAV returned error: %v", err)
	}

	if run.Status != RunStatusFailed {
		t.Errorf("run status = %s, want %s", run.Status, RunStatusFailed)
	}
	if run.TotalClasses != 2 {
		t.Errorf("TotalClasses = %d, want 2", run.TotalClasses)
	}
	if run.CompletedClasses != 1 {
		t.Errorf("CompletedClasses = %d, want 1", run.CompletedClasses)
	}
	if run.FailedClasses != 1 {
		t.Errorf("FailedClasses = %d, want 1", run.FailedClasses)
	}

	var completed, failed *FundClassResult
	for i := range run.Results {
		switch run.Results[i].Status {
		case ClassResultCompleted:
			completed = &run.Results[i]
		case ClassResultFailed:
			failed = &run.Results[i]
		}
	}
	if completed == nil || completed.FundID != "FUND_A" || completed.NAVID == "" {
		t.Fatalf("expected a completed result for FUND_A with a NAV id, got %+v", completed)
	}
	if failed == nil || failed.FundID != "FUND_B" || failed.Error == "" {
		t.Fatalf("expected a failed result for FUND_B with an error, got %+v", failed)
	}

	// The successful fund's record must survive the batch failure.
	record, err := service.GetRecord("FUND_A", "CLASS_A1", date)
	if err != nil {
		t.Fatalf("GetRecord returned error: %v", err)
	}
	if record == nil {
		t.Fatal("expected FUND_A record to be persisted despite FUND_B failing")
	}
}

func TestRunDailyNAVAllSucceedAwaitsApproval(t *testing.T) {
	service := newTestService(t, singleFundRegistry())

	run, err := service.RunDailyNAV(valuationDate())
	if err != nil {
		t.Fatalf("RunDailyNAV returned error: %v", err)
	}
	if run.Status != RunStatusAwaitingApproval {
		t.Errorf("run status = %s, want %s", run.Status, RunStatusAwaitingApproval)
	}
	if run.FinishedAt == nil {
		t.Error("expected FinishedAt to be set")
	}
}

func TestRunDailyNAVIdempotency(t *testing.T) {
	service := newTestService(t, singleFundRegistry())
	date := valuationDate()

	first, err := service.RunDailyNAVWithIdempotency(date, "key-1")
	if err != nil {
		t.Fatalf("first run returned error: %v", err)
	}
	second, err := service.RunDailyNAVWithIdempotency(date, "key-1")
	if err != nil {
		t.Fatalf("second run returned error: %v", err)
	}
	if first.RunID != second.RunID {
		t.Errorf("same idempotency key produced different runs: %s vs %s", first.RunID, second.RunID)
	}
}

func TestRecomputeAfterApprovalMarksCorrected(t *testing.T) {
	service := newTestService(t, singleFundRegistry())
	date := valuationDate()

	if _, err := service.CalculateNAV("FUND_A", "CLASS_A1", date); err != nil {
		t.Fatalf("CalculateNAV returned error: %v", err)
	}
	record, err := service.GetRecord("FUND_A", "CLASS_A1", date)
	if err != nil || record == nil {
		t.Fatalf("failed to load record: %v", err)
	}
	originalNAVID := record.NAVID

	if err := service.GetDB().UpdateRecordStatusIf(record.NAVID, RecordStatusPreliminary, RecordStatusApproved, "approver_1", ""); err != nil {
		t.Fatalf("approval transition failed: %v", err)
	}

	if _, err := service.CalculateNAV("FUND_A", "CLASS_A1", date); err != nil {
		t.Fatalf("recompute returned error: %v", err)
	}

	record, err = service.GetRecord("FUND_A", "CLASS_A1", date)
	if err != nil || record == nil {
		t.Fatalf("failed to reload record: %v", err)
	}
	if record.Status != RecordStatusCorrected {
		t.Errorf("record status = %s, want %s", record.Status, RecordStatusCorrected)
	}
	if record.NAVID != originalNAVID {
		t.Errorf("recompute changed NAVID from %s to %s", originalNAVID, record.NAVID)
	}

	transitions, err := service.GetDB().GetTransitions(originalNAVID)
	if err != nil {
		t.Fatalf("GetTransitions returned error: %v", err)
	}
	if len(transitions) != 3 {
		t.Errorf("expected 3 transitions (initial, approval, correction), got %d", len(transitions))
	}
}

func TestConditionalStatusUpdateConflict(t *testing.T) {
	service := newTestService(t, singleFundRegistry())
	date := valuationDate()

	if _, err := service.CalculateNAV("FUND_A", "CLASS_A1", date); err != nil {
		t.Fatalf("CalculateNAV returned error: %v", err)
	}
	record, err := service.GetRecord("FUND_A", "CLASS_A1", date)
	if err != nil || record == nil {
		t.Fatalf("failed to load record: %v", err)
	}

	if err := service.GetDB().UpdateRecordStatusIf(record.NAVID, RecordStatusPreliminary, RecordStatusApproved, "approver_1", ""); err != nil {
		t.Fatalf("first transition failed: %v", err)
	}

	err = service.GetDB().UpdateRecordStatusIf(record.NAVID, RecordStatusPreliminary, RecordStatusApproved, "approver_2", "")
	if !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict on stale precondition, got %v", err)
	}
}

func TestRetryRunRequiresFailedRun(t *testing.T) {
	service := newTestService(t, singleFundRegistry())
	date := valuationDate()

	if _, err := service.RetryRun(date); err == nil {
		t.Error("expected error retrying a date with no run")
	}

	if _, err := service.RunDailyNAV(date); err != nil {
		t.Fatalf("RunDailyNAV returned error: %v", err)
	}
	if _, err := service.RetryRun(date); err == nil {
		t.Error("expected error retrying a run that did not fail")
	}
}

func TestRetryRunReExecutesFailedDate(t *testing.T) {
	reg := singleFundRegistry()
	reg.positionsErr["FUND_A"] = errors.New("custodian feed unavailable")
	service := newTestService(t, reg)
	date := valuationDate()

	failedRun, err := service.RunDailyNAV(date)
	if err != nil {
		t.Fatalf("RunDailyNAV returned error: %v", err)
	}
	if failedRun.Status != RunStatusFailed {
		t.Fatalf("run status = %s, want %s", failedRun.Status, RunStatusFailed)
	}

	// Feed recovers.
	delete(reg.positionsErr, "FUND_A")

	retried, err := service.RetryRun(date)
	if err != nil {
		t.Fatalf("RetryRun returned error: %v", err)
	}
	if retried.RunID == failedRun.RunID {
		t.Error("retry should create a new run")
	}
	if retried.Status != RunStatusAwaitingApproval {
		t.Errorf("retried run status = %s, want %s", retried.Status, RunStatusAwaitingApproval)
	}
}

func TestVerifyNAVMatchesStoredRecord(t *testing.T) {
	service := newTestService(t, singleFundRegistry())
	date := valuationDate()

	if _, err := service.CalculateNAV("FUND_A", "CLASS_A1", date); err != nil {
		t.Fatalf("CalculateNAV returned error: %v", err)
	}

	verification, err := service.VerifyNAV("FUND_A", "CLASS_A1", date, decimal.NewFromFloat(0.01))
	if err != nil {
		t.Fatalf("VerifyNAV returned error: %v", err)
	}
	if !verification.WithinTolerance {
		t.Errorf("expected recomputation within tolerance, diff %s%%", verification.PercentDiff)
	}
	if !verification.AbsoluteDiff.IsZero() {
		t.Errorf("expected zero absolute diff on unchanged inputs, got %s", verification.AbsoluteDiff)
	}
}

func TestVerifyNAVMissingRecord(t *testing.T) {
	service := newTestService(t, singleFundRegistry())

	if _, err := service.VerifyNAV("FUND_A", "CLASS_A1", valuationDate(), decimal.NewFromFloat(0.01)); err == nil {
		t.Error("expected error verifying a date with no stored record")
	}
}

func TestManagementFeeAccrualReducesNAV(t *testing.T) {
	reg := singleFundRegistry()
	// 1.5% annual on estimated AUM of 2,000,000 for one day, ACT/365.
	reg.configs["FUND_A"].ManagementFeeRate = decimal.NewFromFloat(0.015)
	service := newTestService(t, reg)

	result, err := service.CalculateNAV("FUND_A", "CLASS_A1", valuationDate())
	if err != nil {
		t.Fatalf("CalculateNAV returned error: %v", err)
	}

	wantAccrual := decimal.NewFromInt(2000000).
		Mul(decimal.NewFromFloat(0.015)).
		Div(decimal.NewFromInt(365))
	wantNAV := decimal.NewFromInt(2000000).Sub(wantAccrual)
	if !result.NetAssetValue.Equal(wantNAV) {
		t.Errorf("NetAssetValue = %s, want %s", result.NetAssetValue, wantNAV)
	}
	if result.Breakdown.AccruedExpenses.IsZero() {
		t.Error("expected a management fee accrual in the breakdown")
	}
}
