package approval

import (
	"time"

	"gorm.io/gorm"
)

// Approval workflow statuses. Two sign-offs move an approval from
// PENDING_FIRST through PENDING_SECOND to APPROVED; a rejection from either
// pending state is terminal.
const (
	StatusPendingFirst  = "PENDING_FIRST"
	StatusPendingSecond = "PENDING_SECOND"
	StatusApproved      = "APPROVED"
	StatusRejected      = "REJECTED"
	StatusPublished     = "PUBLISHED"
)

// Step actions recorded in the audit trail.
const (
	ActionApprove = "APPROVE"
	ActionReject  = "REJECT"
	ActionPublish = "PUBLISH"
)

// NAVApproval tracks the two-person sign-off of one NAV run.
type NAVApproval struct {
	gorm.Model       `json:"-"`
	ApprovalID       string     `gorm:"uniqueIndex" json:"approval_id"`
	RunID            string     `gorm:"uniqueIndex" json:"run_id"`
	ValuationDate    time.Time  `json:"valuation_date"`
	Status           string     `gorm:"index" json:"status"`
	FirstApprover    string     `json:"first_approver,omitempty"`
	FirstApprovedAt  *time.Time `json:"first_approved_at,omitempty"`
	SecondApprover   string     `json:"second_approver,omitempty"`
	SecondApprovedAt *time.Time `json:"second_approved_at,omitempty"`
	RejectedBy       string     `json:"rejected_by,omitempty"`
	RejectedAt       *time.Time `json:"rejected_at,omitempty"`
	RejectionReason  string     `json:"rejection_reason,omitempty"`
	PublishedBy      string     `json:"published_by,omitempty"`
	PublishedAt      *time.Time `json:"published_at,omitempty"`
}

// ApprovalStep is one append-only entry in an approval's audit trail.
type ApprovalStep struct {
	gorm.Model `json:"-"`
	ApprovalID string    `gorm:"index" json:"approval_id"`
	Action     string    `json:"action"`
	Actor      string    `json:"actor"`
	Comment    string    `json:"comment,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
