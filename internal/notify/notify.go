package notify

import (
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Notifier delivers operational notifications to fund administrators. The
// valuation and approval services publish through it without knowing the
// delivery channel.
type Notifier interface {
	RunFinished(runID, valuationDate, status string, total, completed, failed int)
	ApprovalTransition(approvalID, runID, status, actor, comment string)
	RecordsPublished(runID string, recordCount int, actor string)
}

// LogNotifier writes notifications to the structured log, one event per
// message. It stands in for an email or messaging integration and keeps the
// same recipient list an outbound channel would use.
type LogNotifier struct {
	recipients []string
}

func NewLogNotifier(recipients []string) *LogNotifier {
	return &LogNotifier{recipients: recipients}
}

func (n *LogNotifier) RunFinished(runID, valuationDate, status string, total, completed, failed int) {
	logger := n.logger()
	logger.Info().
		Str("event", "nav_run_finished").
		Str("run_id", runID).
		Str("valuation_date", valuationDate).
		Str("status", status).
		Int("total_classes", total).
		Int("completed_classes", completed).
		Int("failed_classes", failed).
		Msg("NAV run finished")
}

func (n *LogNotifier) ApprovalTransition(approvalID, runID, status, actor, comment string) {
	logger := n.logger()
	event := logger.Info().
		Str("event", "approval_transition").
		Str("approval_id", approvalID).
		Str("run_id", runID).
		Str("status", status).
		Str("actor", actor)
	if comment != "" {
		event = event.Str("comment", comment)
	}
	event.Msg("approval workflow transition")
}

func (n *LogNotifier) RecordsPublished(runID string, recordCount int, actor string) {
	logger := n.logger()
	logger.Info().
		Str("event", "nav_published").
		Str("run_id", runID).
		Int("record_count", recordCount).
		Str("actor", actor).
		Msg("NAV records published")
}

func (n *LogNotifier) logger() zerolog.Logger {
	return log.With().
		Str("service", "notify").
		Str("recipients", strings.Join(n.recipients, ",")).
		Logger()
}
