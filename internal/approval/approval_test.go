package approval

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ksred/navflow-api/internal/nav"
	"github.com/ksred/navflow-api/internal/notify"
	"github.com/ksred/navflow-api/internal/registry"
	"github.com/ksred/navflow-api/internal/types"
	"github.com/ksred/navflow-api/internal/valuation"
)

type testEnv struct {
	db       *gorm.DB
	nav      *nav.Service
	approval *Service
	registry *registry.Service
	date     time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	err = db.AutoMigrate(
		&registry.Fund{}, &registry.FundConfig{}, &registry.ShareClass{},
		&registry.Position{}, &registry.CashAccount{}, &registry.Holding{},
		&registry.RedemptionRequest{}, &registry.ShareClassNAV{},
		&nav.NAVRecord{}, &nav.NAVTransition{}, &nav.NAVRun{},
		&nav.FundClassResult{}, &nav.IdempotencyRecord{},
		&NAVApproval{}, &ApprovalStep{},
	)
	if err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	reg := registry.NewService(db)
	seedFund(t, reg, date)

	navService := nav.NewService(db, reg, nil, nil, valuation.NewCalculator(valuation.DefaultConfig()))
	approvalService := NewService(db, navService.GetDB(), reg, notify.NewLogNotifier(nil))

	return &testEnv{
		db:       db,
		nav:      navService,
		approval: approvalService,
		registry: reg,
		date:     date,
	}
}

func seedFund(t *testing.T, reg *registry.Service, date time.Time) {
	t.Helper()
	db := reg.GetDB()

	if err := db.CreateFund(&registry.Fund{
		FundID: "FUND_A", Name: "Alpha Fund", BaseCurrency: "USD", Active: true,
	}); err != nil {
		t.Fatalf("failed to seed fund: %v", err)
	}
	if err := db.SaveFundConfig(&registry.FundConfig{
		FundID: "FUND_A", DayCountConvention: types.ConventionAct365,
	}); err != nil {
		t.Fatalf("failed to seed fund config: %v", err)
	}
	if err := db.CreateShareClass(&registry.ShareClass{
		ShareClassID: "CLASS_A1", FundID: "FUND_A", Currency: "USD", Active: true,
		InitialShares: decimal.NewFromInt(10000),
	}); err != nil {
		t.Fatalf("failed to seed share class: %v", err)
	}
	if err := db.CreatePosition(&registry.Position{
		FundID: "FUND_A", InstrumentID: "US0378331005", AssetClass: types.AssetClassEquities,
		Quantity: decimal.NewFromInt(10000), Price: decimal.NewFromInt(150),
		PriceCurrency: "USD", PriceDate: date, AsOfDate: date,
	}); err != nil {
		t.Fatalf("failed to seed position: %v", err)
	}
	if err := db.CreateCashAccount(&registry.CashAccount{
		FundID: "FUND_A", AccountID: "ACC_USD", Currency: "USD",
		Balance: decimal.NewFromInt(500000), AsOfDate: date,
	}); err != nil {
		t.Fatalf("failed to seed cash account: %v", err)
	}
}

func (e *testEnv) runBatch(t *testing.T) *nav.NAVRun {
	t.Helper()
	run, err := e.nav.RunDailyNAV(e.date)
	if err != nil {
		t.Fatalf("RunDailyNAV returned error: %v", err)
	}
	if run.Status != nav.RunStatusAwaitingApproval {
		t.Fatalf("run status = %s, want %s", run.Status, nav.RunStatusAwaitingApproval)
	}
	return run
}

func TestTwoPersonApprovalFlow(t *testing.T) {
	env := newTestEnv(t)
	run := env.runBatch(t)

	approval, err := env.approval.CreateForRun(run.RunID)
	if err != nil {
		t.Fatalf("CreateForRun returned error: %v", err)
	}
	if approval.Status != StatusPendingFirst {
		t.Errorf("new approval status = %s, want %s", approval.Status, StatusPendingFirst)
	}

	approval, err = env.approval.Approve(approval.ApprovalID, "alice", "checks done")
	if err != nil {
		t.Fatalf("first approval returned error: %v", err)
	}
	if approval.Status != StatusPendingSecond {
		t.Errorf("after first sign-off status = %s, want %s", approval.Status, StatusPendingSecond)
	}
	if approval.FirstApprover != "alice" {
		t.Errorf("FirstApprover = %s, want alice", approval.FirstApprover)
	}

	approval, err = env.approval.Approve(approval.ApprovalID, "bob", "")
	if err != nil {
		t.Fatalf("second approval returned error: %v", err)
	}
	if approval.Status != StatusApproved {
		t.Errorf("after second sign-off status = %s, want %s", approval.Status, StatusApproved)
	}
	if approval.SecondApprover != "bob" {
		t.Errorf("SecondApprover = %s, want bob", approval.SecondApprover)
	}

	// The run's records must have moved with the approval.
	record, err := env.nav.GetRecord("FUND_A", "CLASS_A1", env.date)
	if err != nil || record == nil {
		t.Fatalf("failed to load record: %v", err)
	}
	if record.Status != nav.RecordStatusApproved {
		t.Errorf("record status = %s, want %s", record.Status, nav.RecordStatusApproved)
	}

	steps, err := env.approval.db.GetSteps(approval.ApprovalID)
	if err != nil {
		t.Fatalf("GetSteps returned error: %v", err)
	}
	if len(steps) != 2 {
		t.Errorf("expected 2 audit steps, got %d", len(steps))
	}
}

func TestApproveTerminalStateFails(t *testing.T) {
	env := newTestEnv(t)
	run := env.runBatch(t)

	approval, err := env.approval.CreateForRun(run.RunID)
	if err != nil {
		t.Fatalf("CreateForRun returned error: %v", err)
	}
	if _, err := env.approval.Approve(approval.ApprovalID, "alice", ""); err != nil {
		t.Fatalf("first approval returned error: %v", err)
	}
	if _, err := env.approval.Approve(approval.ApprovalID, "bob", ""); err != nil {
		t.Fatalf("second approval returned error: %v", err)
	}

	if _, err := env.approval.Approve(approval.ApprovalID, "carol", ""); err == nil {
		t.Error("expected error approving an already approved workflow")
	}
}

func TestRejectFromEitherPendingState(t *testing.T) {
	env := newTestEnv(t)
	run := env.runBatch(t)

	approval, err := env.approval.CreateForRun(run.RunID)
	if err != nil {
		t.Fatalf("CreateForRun returned error: %v", err)
	}

	approval, err = env.approval.Reject(approval.ApprovalID, "alice", "stale prices suspected")
	if err != nil {
		t.Fatalf("Reject returned error: %v", err)
	}
	if approval.Status != StatusRejected {
		t.Errorf("status = %s, want %s", approval.Status, StatusRejected)
	}
	if approval.RejectionReason == "" {
		t.Error("expected rejection reason to be stored")
	}

	// A rejected workflow is terminal.
	if _, err := env.approval.Approve(approval.ApprovalID, "bob", ""); err == nil {
		t.Error("expected error approving a rejected workflow")
	}

	// Records stay unapproved for recomputation.
	record, err := env.nav.GetRecord("FUND_A", "CLASS_A1", env.date)
	if err != nil || record == nil {
		t.Fatalf("failed to load record: %v", err)
	}
	if record.Status != nav.RecordStatusPreliminary {
		t.Errorf("record status = %s, want %s", record.Status, nav.RecordStatusPreliminary)
	}
}

func TestPublishReleasesRecordsToRegistry(t *testing.T) {
	env := newTestEnv(t)
	run := env.runBatch(t)

	approval, err := env.approval.CreateForRun(run.RunID)
	if err != nil {
		t.Fatalf("CreateForRun returned error: %v", err)
	}
	if _, err := env.approval.Approve(approval.ApprovalID, "alice", ""); err != nil {
		t.Fatalf("first approval returned error: %v", err)
	}
	if _, err := env.approval.Approve(approval.ApprovalID, "bob", ""); err != nil {
		t.Fatalf("second approval returned error: %v", err)
	}

	approval, err = env.approval.Publish(approval.ApprovalID, "carol")
	if err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	if approval.Status != StatusPublished {
		t.Errorf("status = %s, want %s", approval.Status, StatusPublished)
	}

	record, err := env.nav.GetRecord("FUND_A", "CLASS_A1", env.date)
	if err != nil || record == nil {
		t.Fatalf("failed to load record: %v", err)
	}
	if record.Status != nav.RecordStatusPublished {
		t.Errorf("record status = %s, want %s", record.Status, nav.RecordStatusPublished)
	}

	latest, err := env.registry.GetLatestNAV("CLASS_A1")
	if err != nil {
		t.Fatalf("GetLatestNAV returned error: %v", err)
	}
	if latest == nil {
		t.Fatal("expected latest NAV in registry after publication")
	}
	if !latest.NAVPerShare.Equal(decimal.NewFromInt(200)) {
		t.Errorf("published NAVPerShare = %s, want 200", latest.NAVPerShare)
	}
}

func TestPublishRequiresApprovedWorkflow(t *testing.T) {
	env := newTestEnv(t)
	run := env.runBatch(t)

	approval, err := env.approval.CreateForRun(run.RunID)
	if err != nil {
		t.Fatalf("CreateForRun returned error: %v", err)
	}

	if _, err := env.approval.Publish(approval.ApprovalID, "carol"); err == nil {
		t.Error("expected error publishing an unapproved workflow")
	}
}

func TestCreateForRunRejectsDuplicates(t *testing.T) {
	env := newTestEnv(t)
	run := env.runBatch(t)

	if _, err := env.approval.CreateForRun(run.RunID); err != nil {
		t.Fatalf("CreateForRun returned error: %v", err)
	}
	if _, err := env.approval.CreateForRun(run.RunID); err == nil {
		t.Error("expected error opening a second workflow for the same run")
	}
}

func TestValidationErrorsBlockApproval(t *testing.T) {
	env := newTestEnv(t)

	// Zero out the share sources so the calculation fails validation.
	if err := env.db.Model(&registry.ShareClass{}).
		Where("share_class_id = ?", "CLASS_A1").
		Update("initial_shares", decimal.Zero).Error; err != nil {
		t.Fatalf("failed to zero initial shares: %v", err)
	}

	run, err := env.nav.RunDailyNAV(env.date)
	if err != nil {
		t.Fatalf("RunDailyNAV returned error: %v", err)
	}

	if _, err := env.approval.CreateForRun(run.RunID); err == nil {
		t.Error("expected validation errors to block the approval workflow")
	}
}
