package approval

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/ksred/navflow-api/internal/nav"
	"github.com/ksred/navflow-api/internal/notify"
	"github.com/ksred/navflow-api/internal/registry"
	"github.com/ksred/navflow-api/internal/types"
)

// Service runs the two-person approval workflow over NAV runs. Approving a
// run moves its records to APPROVED; publishing moves them to PUBLISHED and
// pushes the latest NAV per share class to the registry.
type Service struct {
	db       *Database
	navDB    *nav.Database
	registry *registry.Service
	notifier notify.Notifier
}

func NewService(gormDB *gorm.DB, navDB *nav.Database, reg *registry.Service, notifier notify.Notifier) *Service {
	return &Service{
		db:       NewDatabase(gormDB),
		navDB:    navDB,
		registry: reg,
		notifier: notifier,
	}
}

// CreateForRun opens an approval workflow for a completed run. The run must
// be awaiting approval, have at least one completed result, and carry no
// record that failed validation.
func (s *Service) CreateForRun(runID string) (*NAVApproval, error) {
	run, err := s.navDB.GetRun(runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if run.Status != nav.RunStatusAwaitingApproval {
		return nil, fmt.Errorf("run %s is %s, only runs awaiting approval can enter the workflow", runID, run.Status)
	}
	if run.CompletedClasses == 0 {
		return nil, fmt.Errorf("run %s has no completed results to approve", runID)
	}

	if err := s.checkRecordsApprovable(runID); err != nil {
		return nil, err
	}

	existing, err := s.db.GetApprovalByRunID(runID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("approval %s already exists for run %s", existing.ApprovalID, runID)
	}

	approval := &NAVApproval{
		ApprovalID:    "APR_" + uuid.New().String(),
		RunID:         runID,
		ValuationDate: run.ValuationDate,
		Status:        StatusPendingFirst,
	}
	if err := s.db.CreateApproval(approval); err != nil {
		return nil, err
	}

	log.Info().
		Str("service", "approval").
		Str("approval_id", approval.ApprovalID).
		Str("run_id", runID).
		Msg("approval workflow opened")

	return approval, nil
}

// Approve records a sign-off. The first sign-off moves the workflow to
// PENDING_SECOND; the second marks it APPROVED and transitions every record
// of the run. Concurrent approvals of the same stage lose with ErrConflict.
func (s *Service) Approve(approvalID, actor, comment string) (*NAVApproval, error) {
	approval, err := s.db.GetApproval(approvalID)
	if err != nil {
		return nil, err
	}
	if approval == nil {
		return nil, fmt.Errorf("approval %s not found", approvalID)
	}

	now := time.Now()
	step := &ApprovalStep{Action: ActionApprove, Actor: actor, Comment: comment}

	switch approval.Status {
	case StatusPendingFirst:
		err = s.db.TransitionIf(approvalID, StatusPendingFirst, StatusPendingSecond, map[string]interface{}{
			"first_approver":    actor,
			"first_approved_at": now,
		}, step)
		if err != nil {
			return nil, err
		}

	case StatusPendingSecond:
		if actor == approval.FirstApprover {
			log.Warn().
				Str("service", "approval").
				Str("approval_id", approvalID).
				Str("actor", actor).
				Msg("second approval by the same actor as the first")
		}
		if err := s.checkRecordsApprovable(approval.RunID); err != nil {
			return nil, err
		}
		err = s.db.TransitionIf(approvalID, StatusPendingSecond, StatusApproved, map[string]interface{}{
			"second_approver":    actor,
			"second_approved_at": now,
		}, step)
		if err != nil {
			return nil, err
		}
		if err := s.transitionRunRecords(approval.RunID, nav.RecordStatusApproved, actor, "run approved"); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("approval %s is %s and cannot be approved", approvalID, approval.Status)
	}

	approval, err = s.db.GetApproval(approvalID)
	if err != nil {
		return nil, err
	}
	if s.notifier != nil {
		s.notifier.ApprovalTransition(approvalID, approval.RunID, approval.Status, actor, comment)
	}
	return approval, nil
}

// Reject terminates the workflow from either pending state. The run's
// records stay in their current state for recomputation.
func (s *Service) Reject(approvalID, actor, reason string) (*NAVApproval, error) {
	approval, err := s.db.GetApproval(approvalID)
	if err != nil {
		return nil, err
	}
	if approval == nil {
		return nil, fmt.Errorf("approval %s not found", approvalID)
	}
	if approval.Status != StatusPendingFirst && approval.Status != StatusPendingSecond {
		return nil, fmt.Errorf("approval %s is %s and cannot be rejected", approvalID, approval.Status)
	}

	now := time.Now()
	err = s.db.TransitionIf(approvalID, approval.Status, StatusRejected, map[string]interface{}{
		"rejected_by":      actor,
		"rejected_at":      now,
		"rejection_reason": reason,
	}, &ApprovalStep{Action: ActionReject, Actor: actor, Comment: reason})
	if err != nil {
		return nil, err
	}

	approval, err = s.db.GetApproval(approvalID)
	if err != nil {
		return nil, err
	}
	if s.notifier != nil {
		s.notifier.ApprovalTransition(approvalID, approval.RunID, approval.Status, actor, reason)
	}
	return approval, nil
}

// Publish releases an approved run: its records move to PUBLISHED and the
// latest NAV per share class is pushed to the registry for downstream
// consumers.
func (s *Service) Publish(approvalID, actor string) (*NAVApproval, error) {
	approval, err := s.db.GetApproval(approvalID)
	if err != nil {
		return nil, err
	}
	if approval == nil {
		return nil, fmt.Errorf("approval %s not found", approvalID)
	}
	if approval.Status != StatusApproved {
		return nil, fmt.Errorf("approval %s is %s, only approved runs can be published", approvalID, approval.Status)
	}

	now := time.Now()
	err = s.db.TransitionIf(approvalID, StatusApproved, StatusPublished, map[string]interface{}{
		"published_by": actor,
		"published_at": now,
	}, &ApprovalStep{Action: ActionPublish, Actor: actor})
	if err != nil {
		return nil, err
	}

	records, err := s.navDB.GetRunRecords(approval.RunID)
	if err != nil {
		return nil, err
	}
	for i := range records {
		record := &records[i]
		if err := s.navDB.UpdateRecordStatusIf(record.NAVID, nav.RecordStatusApproved, nav.RecordStatusPublished, actor, "run published"); err != nil {
			return nil, fmt.Errorf("failed to publish record %s: %w", record.NAVID, err)
		}
		if s.registry != nil {
			err := s.registry.PublishLatestNAV(&registry.ShareClassNAV{
				ShareClassID:  record.ShareClassID,
				FundID:        record.FundID,
				NAVPerShare:   record.NAVPerShare,
				NetAssetValue: record.NetAssetValue,
				ValuationDate: record.ValuationDate,
			})
			if err != nil {
				return nil, err
			}
		}
	}

	if s.notifier != nil {
		s.notifier.RecordsPublished(approval.RunID, len(records), actor)
	}

	log.Info().
		Str("service", "approval").
		Str("approval_id", approvalID).
		Str("run_id", approval.RunID).
		Int("records", len(records)).
		Str("actor", actor).
		Msg("NAV records published")

	return s.db.GetApproval(approvalID)
}

// GetApproval returns an approval with its audit trail steps attached.
func (s *Service) GetApproval(approvalID string) (*NAVApproval, []ApprovalStep, error) {
	approval, err := s.db.GetApproval(approvalID)
	if err != nil {
		return nil, nil, err
	}
	if approval == nil {
		return nil, nil, nil
	}
	steps, err := s.db.GetSteps(approvalID)
	if err != nil {
		return nil, nil, err
	}
	return approval, steps, nil
}

// GetApprovalByRunID returns the approval attached to a run, or nil.
func (s *Service) GetApprovalByRunID(runID string) (*NAVApproval, error) {
	return s.db.GetApprovalByRunID(runID)
}

// checkRecordsApprovable rejects the workflow step when any record of the
// run failed validation. Warnings do not block.
func (s *Service) checkRecordsApprovable(runID string) error {
	records, err := s.navDB.GetRunRecords(runID)
	if err != nil {
		return err
	}
	for _, record := range records {
		if record.ValidationStatus == types.ResultStatusErrors {
			return fmt.Errorf("record %s has validation errors and blocks approval", record.NAVID)
		}
	}
	return nil
}

// transitionRunRecords moves every record of a run to the next status.
// Records recomputed since the run (CORRECTED) are carried along as well.
func (s *Service) transitionRunRecords(runID, next, actor, comment string) error {
	records, err := s.navDB.GetRunRecords(runID)
	if err != nil {
		return err
	}
	for i := range records {
		record := &records[i]
		err := s.navDB.UpdateRecordStatusIf(record.NAVID, nav.RecordStatusPreliminary, next, actor, comment)
		if errors.Is(err, nav.ErrConflict) {
			err = s.navDB.UpdateRecordStatusIf(record.NAVID, nav.RecordStatusCorrected, next, actor, comment)
		}
		if err != nil {
			return fmt.Errorf("failed to transition record %s: %w", record.NAVID, err)
		}
	}
	return nil
}
