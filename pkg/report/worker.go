package report

import (
	"context"

	"github.com/google/uuid"
	"github.com/synaptica-ai/pretriage/pkg/common/apperr"
	"github.com/synaptica-ai/pretriage/pkg/common/logger"
	"github.com/synaptica-ai/pretriage/pkg/common/models"
	"github.com/synaptica-ai/pretriage/pkg/preanalysis"
)

// SubmissionHandler generates a report for every submitted session. It
// always returns nil so a failed generation is not redelivered; the session
// is left at ai status failed and can be regenerated on demand.
func SubmissionHandler(generator ReportGenerator) func(ctx context.Context, event models.Event) error {
	return func(ctx context.Context, event models.Event) error {
		if event.Type != preanalysis.EventSubmitted {
			return nil
		}
		raw, _ := event.Data["session_id"].(string)
		sessionID, err := uuid.Parse(raw)
		if err != nil {
			logger.WithField("event_id", event.ID).WithError(err).Warn("submission event without a valid session id")
			return nil
		}
		log := logger.ForSession(sessionID.String(), "report.worker").WithField("event_id", event.ID)
		report, err := generator.Generate(ctx, sessionID)
		if apperr.IsKind(err, apperr.KindConflict) {
			log.Info("session already being generated, skipping submission")
			return nil
		}
		if err != nil {
			log.WithError(err).Error("report generation from submission failed")
			return nil
		}
		log.WithField("report_id", report.ID).Info("report generated from submission")
		return nil
	}
}
