package report

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/pretriage/pkg/common/apperr"
	"github.com/synaptica-ai/pretriage/pkg/common/logger"
	"github.com/synaptica-ai/pretriage/pkg/common/models"
	"github.com/synaptica-ai/pretriage/pkg/conversation"
	"github.com/synaptica-ai/pretriage/pkg/extraction"
	"github.com/synaptica-ai/pretriage/pkg/llm"
	"github.com/synaptica-ai/pretriage/pkg/medcontext"
	"github.com/synaptica-ai/pretriage/pkg/observability/metrics"
	"github.com/synaptica-ai/pretriage/pkg/timeline"
	"golang.org/x/sync/errgroup"
)

// SessionStore is the slice of the pre-analysis repository generation needs.
type SessionStore interface {
	Get(ctx context.Context, id uuid.UUID) (models.PreAnalysis, error)
	GetProfile(ctx context.Context, patientID uuid.UUID) (models.PatientProfile, error)
	MarkAIStatus(ctx context.Context, id uuid.UUID, status models.AIProcessingStatus) (bool, error)
	MarkCompleted(ctx context.Context, id uuid.UUID) error
}

type TurnLoader interface {
	LoadAll(ctx context.Context, sessionID uuid.UUID) ([]models.ChatTurn, error)
}

type DocumentExtractor interface {
	ExtractAll(ctx context.Context, refs []string) []extraction.Result
}

type TimelineRecorder interface {
	Record(ctx context.Context, entry models.TimelineEntry) error
}

type Deps struct {
	Sessions  SessionStore
	Turns     TurnLoader
	Documents DocumentExtractor
	Model     llm.Model
	Persister *Persister
	Timeline  TimelineRecorder
	Cache     Cache
	Policy    Policy

	// SideEffectTimeout bounds the detached timeline write.
	SideEffectTimeout time.Duration
}

// Generator turns one submitted session into a persisted report.
type Generator struct {
	deps Deps
	wg   sync.WaitGroup
}

func NewGenerator(deps Deps) *Generator {
	if deps.SideEffectTimeout <= 0 {
		deps.SideEffectTimeout = 10 * time.Second
	}
	if deps.Policy.EmergencySentence == "" {
		deps.Policy = DefaultPolicy()
	}
	return &Generator{deps: deps}
}

// Generate runs the full pipeline. Any failure before the report is durable
// leaves the session's ai status at failed and is returned.
func (g *Generator) Generate(ctx context.Context, sessionID uuid.UUID) (models.AIReport, error) {
	const op = "report.generate"
	sid := sessionID.String()
	log := logger.ForSession(sid, op)

	session, err := g.deps.Sessions.Get(ctx, sessionID)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return models.AIReport{}, err
		}
		return models.AIReport{}, g.fail(ctx, sessionID, err)
	}
	if session.ID != sessionID {
		isolationViolation(log, "session", session.ID)
		return models.AIReport{}, g.fail(ctx, sessionID,
			apperr.Newf(apperr.KindIsolationViolation, op, sid, "session lookup returned %s", session.ID))
	}
	if err := g.claim(ctx, sessionID, log); err != nil {
		return models.AIReport{}, err
	}

	turns, err := g.deps.Turns.LoadAll(ctx, sessionID)
	if err != nil {
		return models.AIReport{}, g.fail(ctx, sessionID, err)
	}
	for _, t := range turns {
		if t.SessionID != sessionID {
			isolationViolation(log, "chat_turn", t.SessionID)
			return models.AIReport{}, g.fail(ctx, sessionID,
				apperr.Newf(apperr.KindIsolationViolation, op, sid, "turn %s belongs to session %s", t.ID, t.SessionID))
		}
	}

	descriptions := g.describeImages(ctx, session.ImageRefs, log)
	extracted := g.extractDocuments(ctx, session.DocumentRefs, log)

	built := medcontext.Build(medcontext.FromSession(session, g.profile(ctx, session), conversation.RawTurns(turns), extracted))
	block := built.CombinedText
	if len(descriptions) > 0 {
		block = medcontext.AppendSection(block, "IMAGE ANALYSES", strings.Join(descriptions, "\n"))
	}
	hits := g.deps.Policy.Screen(built.CombinedText)
	if len(hits) > 0 {
		block = medcontext.AppendSection(block, "RED-FLAG SCREEN", "Categories detected: "+strings.Join(hits, ", "))
	}
	if answers := conversation.PatientAnswers(turns); answers != "" {
		block = medcontext.AppendSection(block, "PATIENT ANSWERS", answers)
	}

	// Images go to the final call even when their descriptions failed.
	raw, err := g.deps.Model.Complete(ctx, []llm.Message{
		llm.Text(llm.RoleSystem, reportSystemPrompt(g.deps.Policy)),
		llm.WithImages(block, session.ImageRefs),
	}, llm.Options{Mode: llm.ModeReport, JSON: true})
	if err != nil {
		return models.AIReport{}, g.fail(ctx, sessionID, apperr.New(apperr.KindUpstream, op, sid, err))
	}

	parsed, err := parseReport(raw, log)
	if err != nil {
		return models.AIReport{}, g.fail(ctx, sessionID, apperr.New(apperr.KindUpstream, op, sid, err))
	}
	ensureEmergencySentence(&parsed, g.deps.Policy, hits, log)
	parsed.SessionID = sessionID
	parsed.PatientID = session.PatientID

	saved, err := g.deps.Persister.Save(ctx, parsed)
	if err != nil {
		return models.AIReport{}, g.fail(ctx, sessionID, err)
	}
	log = log.WithField("report_id", saved.ID)

	if err := g.deps.Sessions.MarkCompleted(ctx, sessionID); err != nil {
		log.WithError(err).Warn("report stored but session could not be marked completed")
	}
	if g.deps.Cache != nil {
		if err := g.deps.Cache.Invalidate(ctx, sessionID); err != nil {
			log.WithError(err).Warn("failed to invalidate cached report")
		}
	}
	g.recordTimeline(ctx, session, saved)

	metrics.IncReportsGenerated()
	log.WithFields(logrus.Fields{
		"overall_severity": saved.OverallSeverity,
		"hypotheses":       len(saved.Hypotheses),
	}).Info("report generated")
	return saved, nil
}

// claim moves the session to processing. A session another run already holds
// in processing yields a conflict; a completed session is regenerated as is.
func (g *Generator) claim(ctx context.Context, sessionID uuid.UUID, log *logrus.Entry) error {
	changed, err := g.deps.Sessions.MarkAIStatus(ctx, sessionID, models.AIStatusProcessing)
	if err != nil {
		log.WithError(err).Warn("could not mark session processing")
		return nil
	}
	if changed {
		return nil
	}
	current, err := g.deps.Sessions.Get(ctx, sessionID)
	if err != nil {
		log.WithError(err).Warn("could not re-read session after refused claim")
		return nil
	}
	if current.AIProcessingStatus == models.AIStatusProcessing {
		log.Info("generation already in progress, not starting another")
		return apperr.Newf(apperr.KindConflict, "report.generate", sessionID.String(), "report generation already in progress")
	}
	log.WithField("ai_processing_status", current.AIProcessingStatus).Debug("ai status left unchanged")
	return nil
}

// Wait blocks until detached side effects have finished.
func (g *Generator) Wait() {
	g.wg.Wait()
}

func (g *Generator) fail(ctx context.Context, sessionID uuid.UUID, cause error) error {
	log := logger.ForSession(sessionID.String(), "report.generate")
	if _, err := g.deps.Sessions.MarkAIStatus(ctx, sessionID, models.AIStatusFailed); err != nil {
		log.WithError(err).Error("could not mark session failed")
	}
	metrics.IncReportsFailed()
	log.WithError(cause).Error("report generation failed")
	return cause
}

// describeImages asks for one description per image. Failures leave a gap.
func (g *Generator) describeImages(ctx context.Context, refs []string, log *logrus.Entry) []string {
	if len(refs) == 0 {
		return nil
	}
	slots := make([]string, len(refs))
	var eg errgroup.Group
	for i, ref := range refs {
		i, ref := i, ref
		eg.Go(func() error {
			text, err := g.deps.Model.Complete(ctx, []llm.Message{
				llm.Text(llm.RoleSystem, imageDescriptionPrompt),
				llm.WithImages(fmt.Sprintf("Image %d", i+1), []string{ref}),
			}, llm.Options{Mode: llm.ModeImageDescription})
			if err != nil {
				log.WithError(err).WithField("image", i+1).Warn("image description failed, image still forwarded")
				return nil
			}
			slots[i] = strings.TrimSpace(text)
			return nil
		})
	}
	_ = eg.Wait()

	var out []string
	for i, text := range slots {
		if text != "" {
			out = append(out, fmt.Sprintf("Image %d: %s", i+1, text))
		}
	}
	return out
}

func (g *Generator) extractDocuments(ctx context.Context, refs []string, log *logrus.Entry) []string {
	if len(refs) == 0 || g.deps.Documents == nil {
		return nil
	}
	results := g.deps.Documents.ExtractAll(ctx, refs)
	if failed := extraction.FailureCount(results); failed == len(results) {
		log.WithField("documents", failed).Warn("no document could be extracted")
		return []string{fmt.Sprintf("(%d document(s) could not be extracted)", failed)}
	}
	return extraction.Labeled(results)
}

func (g *Generator) profile(ctx context.Context, session models.PreAnalysis) medcontext.RawProfile {
	profile, err := g.deps.Sessions.GetProfile(ctx, session.PatientID)
	if err != nil {
		if !apperr.IsKind(err, apperr.KindNotFound) {
			logger.ForSession(session.ID.String(), "report.profile").WithError(err).Warn("profile unavailable, continuing without it")
		}
		return nil
	}
	return medcontext.RawProfile(profile.Attributes)
}

// recordTimeline writes the audit entry in the background. It outlives the
// request context but not SideEffectTimeout.
func (g *Generator) recordTimeline(ctx context.Context, session models.PreAnalysis, saved models.AIReport) {
	if g.deps.Timeline == nil {
		return
	}
	entry := models.TimelineEntry{
		PatientID:   session.PatientID,
		SessionID:   session.ID,
		EventType:   timeline.EventReportGenerated,
		ReferenceID: saved.ID.String(),
		Title:       "Pre-triage report generated",
		Payload: map[string]interface{}{
			"overall_severity":      string(saved.OverallSeverity),
			"primary_diagnosis":     saved.PrimaryDiagnosis,
			"recommendation_action": saved.RecommendationAction,
			"hypotheses":            len(saved.Hypotheses),
		},
	}
	detached := context.WithoutCancel(ctx)
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		tctx, cancel := context.WithTimeout(detached, g.deps.SideEffectTimeout)
		defer cancel()
		if err := g.deps.Timeline.Record(tctx, entry); err != nil {
			logger.ForSession(session.ID.String(), "report.timeline").
				WithError(err).WithField("report_id", saved.ID).Warn("timeline entry not recorded")
		}
	}()
}

func isolationViolation(log *logrus.Entry, record string, found uuid.UUID) {
	metrics.IncIsolationViolations()
	log.WithFields(logrus.Fields{
		"isolation_violation": true,
		"record":              record,
		"found_session_id":    found,
	}).Error("record returned for another session")
}
