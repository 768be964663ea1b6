package report

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/synaptica-ai/pretriage/pkg/common/database/dbtest"
	"github.com/synaptica-ai/pretriage/pkg/common/models"
	"github.com/synaptica-ai/pretriage/pkg/conversation"
	"github.com/synaptica-ai/pretriage/pkg/extraction"
	"github.com/synaptica-ai/pretriage/pkg/llm"
	"github.com/synaptica-ai/pretriage/pkg/preanalysis"
	"gorm.io/gorm"
)

// routedModel answers by mode: report calls pop from reports, image calls
// return a fixed description or imageErr.
type routedModel struct {
	mu          sync.Mutex
	reports     []string
	reportErr   error
	imageErr    error
	reportCalls [][]llm.Message
	imageCalls  int
}

func (m *routedModel) Complete(ctx context.Context, messages []llm.Message, opts llm.Options) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if opts.Mode == llm.ModeImageDescription {
		m.imageCalls++
		if m.imageErr != nil {
			return "", m.imageErr
		}
		return "Plaque rouge de 3 cm, bords nets.", nil
	}
	m.reportCalls = append(m.reportCalls, messages)
	if m.reportErr != nil {
		return "", m.reportErr
	}
	if len(m.reports) == 0 {
		return reportJSON("low", "Rhume"), nil
	}
	out := m.reports[0]
	m.reports = m.reports[1:]
	return out, nil
}

func (m *routedModel) lastReportCall() []llm.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reportCalls[len(m.reportCalls)-1]
}

func (m *routedModel) lastReportText() string {
	var text string
	for _, msg := range m.lastReportCall() {
		for _, p := range msg.Parts {
			text += p.Text + "\n"
		}
	}
	return text
}

type stubDocuments struct {
	results []extraction.Result
}

func (s *stubDocuments) ExtractAll(ctx context.Context, refs []string) []extraction.Result {
	return s.results
}

type recordingTimeline struct {
	mu      sync.Mutex
	entries []models.TimelineEntry
	err     error
}

func (r *recordingTimeline) Record(ctx context.Context, entry models.TimelineEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return r.err
}

// hookedStore lets a test override single store operations. Hooks stay
// installed on the transaction-bound store handed out by WithinTx; lock gets
// that store as next for lock and insertHypotheses.
type hookedStore struct {
	Store
	lock             func(ctx context.Context, next Store, sessionID uuid.UUID) (*models.AIReport, error)
	update           func(ctx context.Context, id, sessionID uuid.UUID, report models.AIReport) (int64, error)
	deleteReport     func(ctx context.Context, id, sessionID uuid.UUID) (int64, error)
	insertHypotheses func(ctx context.Context, next Store, reportID uuid.UUID, hs []models.DiagnosticHypothesis) ([]models.DiagnosticHypothesis, error)
}

func (h *hookedStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	return h.Store.WithinTx(ctx, func(tx Store) error {
		bound := *h
		bound.Store = tx
		return fn(&bound)
	})
}

func (h *hookedStore) LockBySession(ctx context.Context, sessionID uuid.UUID) (*models.AIReport, error) {
	if h.lock != nil {
		return h.lock(ctx, h.Store, sessionID)
	}
	return h.Store.LockBySession(ctx, sessionID)
}

func (h *hookedStore) UpdateByID(ctx context.Context, id, sessionID uuid.UUID, report models.AIReport) (int64, error) {
	if h.update != nil {
		return h.update(ctx, id, sessionID, report)
	}
	return h.Store.UpdateByID(ctx, id, sessionID, report)
}

func (h *hookedStore) DeleteByID(ctx context.Context, id, sessionID uuid.UUID) (int64, error) {
	if h.deleteReport != nil {
		return h.deleteReport(ctx, id, sessionID)
	}
	return h.Store.DeleteByID(ctx, id, sessionID)
}

func (h *hookedStore) InsertHypotheses(ctx context.Context, reportID uuid.UUID, hs []models.DiagnosticHypothesis) ([]models.DiagnosticHypothesis, error) {
	if h.insertHypotheses != nil {
		return h.insertHypotheses(ctx, h.Store, reportID, hs)
	}
	return h.Store.InsertHypotheses(ctx, reportID, hs)
}

var errBoom = errors.New("boom")

type fixture struct {
	db        *gorm.DB
	repo      *preanalysis.Repository
	turns     *conversation.Store
	store     *GormStore
	hooks     *hookedStore
	model     *routedModel
	docs      *stubDocuments
	timeline  *recordingTimeline
	generator *Generator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.Open(t)
	repo := preanalysis.NewRepository(db)
	require.NoError(t, repo.AutoMigrate())
	turns := conversation.NewStore(db)
	require.NoError(t, turns.AutoMigrate())
	store := NewGormStore(db)
	require.NoError(t, store.AutoMigrate())

	f := &fixture{
		db:       db,
		repo:     repo,
		turns:    turns,
		store:    store,
		hooks:    &hookedStore{Store: store},
		model:    &routedModel{},
		docs:     &stubDocuments{},
		timeline: &recordingTimeline{},
	}
	f.generator = NewGenerator(Deps{
		Sessions:  repo,
		Turns:     turns,
		Documents: f.docs,
		Model:     f.model,
		Persister: NewPersister(f.hooks),
		Timeline:  f.timeline,
		Policy:    DefaultPolicy(),
	})
	t.Cleanup(f.generator.Wait)
	return f
}

func (f *fixture) newSession(t *testing.T, text string, images, docs []string) models.PreAnalysis {
	t.Helper()
	ctx := context.Background()
	session, err := f.repo.Create(ctx, uuid.New())
	require.NoError(t, err)
	session, err = f.repo.UpdateInputs(ctx, session.ID, models.UpdateInputsRequest{
		TextInput:    &text,
		ImageRefs:    images,
		DocumentRefs: docs,
	})
	require.NoError(t, err)
	return session
}

func (f *fixture) session(t *testing.T, id uuid.UUID) models.PreAnalysis {
	t.Helper()
	session, err := f.repo.Get(context.Background(), id)
	require.NoError(t, err)
	return session
}

func (f *fixture) countReports(t *testing.T, sessionID uuid.UUID) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&reportModel{}).Where("pre_analysis_id = ?", sessionID).Count(&n).Error)
	return n
}

func reportJSON(severity string, diseases ...string) string {
	hypotheses := make([]map[string]interface{}, 0, len(diseases))
	for i, d := range diseases {
		hypotheses = append(hypotheses, map[string]interface{}{
			"disease_name": d,
			"confidence":   80 - 10*i,
			"severity":     severity,
			"keywords":     []string{"toux"},
			"explanation":  "patient_declared: toux",
			"is_primary":   i == 0,
			"is_excluded":  false,
		})
	}
	primary := ""
	if len(diseases) > 0 {
		primary = diseases[0]
	}
	body, _ := json.Marshal(map[string]interface{}{
		"overall_severity":             severity,
		"overall_confidence":           72,
		"summary":                      "Toux sèche sans signe de gravité.",
		"primary_diagnosis":            primary,
		"primary_diagnosis_confidence": 80,
		"recommendation_action":        "consult_gp",
		"recommendation_text":          "Consultez votre médecin traitant sous 48 h.",
		"explainability_data":          map[string]interface{}{"patient_declared": []string{"toux sèche"}},
		"diagnostic_hypotheses":        hypotheses,
	})
	return string(body)
}
