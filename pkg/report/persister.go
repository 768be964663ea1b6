package report

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/pretriage/pkg/common/apperr"
	"github.com/synaptica-ai/pretriage/pkg/common/logger"
	"github.com/synaptica-ai/pretriage/pkg/common/models"
	"github.com/synaptica-ai/pretriage/pkg/observability/metrics"
)

// ErrReportWriteBlocked means a regeneration could neither update nor delete
// the existing report row. The session is left with its previous report.
var ErrReportWriteBlocked = errors.New("report update and delete both affected no rows")

// Persister writes one generated report per session. Hypotheses are
// best-effort: a failure to store them never fails the save.
type Persister struct {
	store Store
}

func NewPersister(store Store) *Persister {
	return &Persister{store: store}
}

// Save inserts the report, or replaces the session's existing one. The report
// row and its hypotheses are written in one transaction holding the report
// row lock, so overlapping generations never mix their hypothesis sets. The
// returned report carries the persisted id and the hypotheses that were
// actually stored.
func (p *Persister) Save(ctx context.Context, report models.AIReport) (models.AIReport, error) {
	const op = "report.save"
	sid := report.SessionID.String()
	log := logger.ForSession(sid, op)

	saved, err := p.save(ctx, report, log)
	if errors.Is(err, ErrDuplicateReport) {
		// The failed insert aborted the first transaction; the retry locks the winner.
		log.Info("concurrent generation won the insert, replacing its report")
		saved, err = p.save(ctx, report, log)
		if errors.Is(err, ErrDuplicateReport) {
			return models.AIReport{}, apperr.New(apperr.KindConflict, op, sid, err)
		}
	}
	if err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			return models.AIReport{}, err
		}
		return models.AIReport{}, apperr.New(apperr.KindInternal, op, sid, err)
	}
	return saved, nil
}

func (p *Persister) save(ctx context.Context, report models.AIReport, log *logrus.Entry) (models.AIReport, error) {
	hypotheses := report.Hypotheses
	var saved models.AIReport
	err := p.store.WithinTx(ctx, func(tx Store) error {
		existing, err := tx.LockBySession(ctx, report.SessionID)
		if err != nil {
			return err
		}
		next := report
		cleared := true
		if existing == nil {
			next.ID = uuid.New()
			if err := tx.Insert(ctx, &next); err != nil {
				return err
			}
		} else {
			next, cleared, err = p.replace(ctx, tx, *existing, next)
			if err != nil {
				return err
			}
		}
		next.Hypotheses = p.storeHypotheses(ctx, tx, next.ID, hypotheses, cleared, log)
		saved = next
		return nil
	})
	return saved, err
}

// replace swaps existing for next. Old hypotheses are deleted before any new
// ones are written. The bool reports whether it is safe to insert hypotheses.
func (p *Persister) replace(ctx context.Context, tx Store, existing, next models.AIReport) (models.AIReport, bool, error) {
	const op = "report.replace"
	sid := next.SessionID.String()
	log := logger.ForSession(sid, op).WithField("report_id", existing.ID)

	cleared := true
	if err := tx.DeleteHypotheses(ctx, existing.ID); err != nil {
		log.WithError(err).Warn("failed to delete previous hypotheses")
		cleared = false
	}

	next.ID = existing.ID
	next.CreatedAt = existing.CreatedAt
	next.UpdatedAt = time.Now().UTC()
	updated, err := tx.UpdateByID(ctx, existing.ID, next.SessionID, next)
	if err != nil {
		return models.AIReport{}, false, apperr.New(apperr.KindInternal, op, sid, err)
	}
	if updated > 0 {
		return next, cleared, nil
	}

	log.Warn("report update affected no rows, falling back to delete then insert")
	deleted, err := tx.DeleteByID(ctx, existing.ID, next.SessionID)
	if err != nil {
		return models.AIReport{}, false, apperr.New(apperr.KindInternal, op, sid, err)
	}
	if deleted == 0 {
		metrics.IncReportWriteBlocked()
		log.Error("report update and delete were both rejected")
		return models.AIReport{}, false, apperr.New(apperr.KindDegraded, op, sid, ErrReportWriteBlocked)
	}

	next.ID = uuid.New()
	if err := tx.Insert(ctx, &next); err != nil {
		return models.AIReport{}, false, apperr.New(apperr.KindInternal, op, sid, err)
	}
	// The fresh id has no hypotheses yet.
	return next, true, nil
}

func (p *Persister) storeHypotheses(ctx context.Context, tx Store, reportID uuid.UUID, hypotheses []models.DiagnosticHypothesis, cleared bool, log *logrus.Entry) []models.DiagnosticHypothesis {
	log = log.WithField("report_id", reportID)
	if !cleared {
		log.Warn("previous hypotheses still present, skipping hypothesis insert")
		return []models.DiagnosticHypothesis{}
	}
	stored, err := tx.InsertHypotheses(ctx, reportID, hypotheses)
	if err != nil {
		log.WithError(err).WithField("count", len(hypotheses)).Warn("failed to store hypotheses")
		return []models.DiagnosticHypothesis{}
	}
	return stored
}
