package report

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/pretriage/pkg/common/apperr"
	"github.com/synaptica-ai/pretriage/pkg/common/httpclient"
	"github.com/synaptica-ai/pretriage/pkg/common/logger"
	"github.com/synaptica-ai/pretriage/pkg/common/models"
	"github.com/synaptica-ai/pretriage/pkg/observability/metrics"
)

type OutcomeKind string

const (
	OutcomeFound   OutcomeKind = "found"
	OutcomePending OutcomeKind = "pending"
	OutcomeFailed  OutcomeKind = "failed"
)

// Outcome is the expected result of a retrieval. Errors are reserved for
// faults such as an isolation violation or an unreachable store.
type Outcome struct {
	Kind     OutcomeKind      `json:"status"`
	Report   *models.AIReport `json:"report,omitempty"`
	Reason   string           `json:"reason,omitempty"`
	Attempts int              `json:"attempts"`
}

type SessionReader interface {
	Get(ctx context.Context, id uuid.UUID) (models.PreAnalysis, error)
}

type ReportGenerator interface {
	Generate(ctx context.Context, sessionID uuid.UUID) (models.AIReport, error)
}

type Retriever struct {
	store     Store
	cache     Cache
	sessions  SessionReader
	generator ReportGenerator
	maxDelay  time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewRetriever(store Store, cache Cache, sessions SessionReader, generator ReportGenerator, maxDelay time.Duration) *Retriever {
	return &Retriever{
		store:     store,
		cache:     cache,
		sessions:  sessions,
		generator: generator,
		maxDelay:  maxDelay,
		sleep:     sleepContext,
	}
}

// GetOrGenerate returns the session's report, generating it when nothing is
// in flight. It makes at most maxRetries attempts and sleeps
// min(baseDelay*2^attempt, maxDelay) between polls of a processing session.
func (r *Retriever) GetOrGenerate(ctx context.Context, sessionID uuid.UUID, maxRetries int, baseDelay time.Duration) (Outcome, error) {
	const op = "report.get_or_generate"
	if maxRetries < 1 {
		maxRetries = 1
	}
	log := logger.ForSession(sessionID.String(), op)

	for attempt := 0; attempt < maxRetries; attempt++ {
		attempts := attempt + 1
		alog := log.WithField("attempt", attempts)

		report, err := r.lookup(ctx, sessionID, alog)
		if err != nil {
			return Outcome{}, err
		}
		if report != nil {
			return Outcome{Kind: OutcomeFound, Report: report, Attempts: attempts}, nil
		}

		session, err := r.sessions.Get(ctx, sessionID)
		if err != nil {
			return Outcome{}, err
		}

		switch session.AIProcessingStatus {
		case models.AIStatusFailed:
			return Outcome{Kind: OutcomeFailed, Reason: "report generation failed for this session", Attempts: attempts}, nil
		case models.AIStatusProcessing:
			if err := r.wait(ctx, attempt, maxRetries, baseDelay, alog); err != nil {
				return Outcome{}, err
			}
		default:
			generated, err := r.generator.Generate(ctx, sessionID)
			if err != nil {
				if apperr.IsKind(err, apperr.KindIsolationViolation) {
					return Outcome{}, err
				}
				if apperr.IsKind(err, apperr.KindConflict) {
					// Another run claimed the session first; poll it like any processing one.
					if err := r.wait(ctx, attempt, maxRetries, baseDelay, alog); err != nil {
						return Outcome{}, err
					}
					continue
				}
				alog.WithError(err).Warn("on-demand generation failed")
				return Outcome{Kind: OutcomeFailed, Reason: err.Error(), Attempts: attempts}, nil
			}
			r.remember(ctx, generated, alog)
			return Outcome{Kind: OutcomeFound, Report: &generated, Attempts: attempts}, nil
		}
	}

	metrics.IncRetrievalPending()
	log.WithField("attempts", maxRetries).Info("report still pending after all attempts")
	return Outcome{Kind: OutcomePending, Reason: "report generation still in progress", Attempts: maxRetries}, nil
}

// wait sleeps the backoff for attempt unless it was the last one.
func (r *Retriever) wait(ctx context.Context, attempt, maxRetries int, baseDelay time.Duration, log *logrus.Entry) error {
	if attempt+1 == maxRetries {
		return nil
	}
	delay := httpclient.Backoff(baseDelay, attempt, r.maxDelay)
	log.WithField("delay", delay).Debug("generation in progress, waiting")
	return r.sleep(ctx, delay)
}

func (r *Retriever) lookup(ctx context.Context, sessionID uuid.UUID, log *logrus.Entry) (*models.AIReport, error) {
	const op = "report.lookup"
	if r.cache != nil {
		cached, err := r.cache.Get(ctx, sessionID)
		switch {
		case err != nil:
			log.WithError(err).Warn("report cache unavailable")
		case cached != nil && cached.SessionID != sessionID:
			isolationViolation(log, "cached_report", cached.SessionID)
			_ = r.cache.Invalidate(ctx, sessionID)
			return nil, apperr.Newf(apperr.KindIsolationViolation, op, sessionID.String(),
				"cached report %s belongs to session %s", cached.ID, cached.SessionID)
		case cached != nil:
			return cached, nil
		}
	}

	report, err := r.store.FindBySession(ctx, sessionID)
	if err != nil || report == nil {
		return nil, err
	}
	r.remember(ctx, *report, log)
	return report, nil
}

func (r *Retriever) remember(ctx context.Context, report models.AIReport, log *logrus.Entry) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Set(ctx, report); err != nil {
		log.WithError(err).Warn("failed to cache report")
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
