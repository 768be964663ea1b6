package report

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/pretriage/pkg/common/apperr"
	"github.com/synaptica-ai/pretriage/pkg/common/logger"
	"github.com/synaptica-ai/pretriage/pkg/common/models"
	"github.com/synaptica-ai/pretriage/pkg/observability/metrics"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrDuplicateReport is returned by Insert when the session already owns a report.
var ErrDuplicateReport = errors.New("report already exists for session")

// Store is the persistence surface the persister and retriever need. Every
// mutation carries the owning session id as a second filter.
type Store interface {
	FindBySession(ctx context.Context, sessionID uuid.UUID) (*models.AIReport, error)
	// LockBySession is FindBySession holding the report row lock until the
	// surrounding transaction ends.
	LockBySession(ctx context.Context, sessionID uuid.UUID) (*models.AIReport, error)
	// WithinTx runs fn against a Store bound to one transaction. fn's error
	// rolls everything back.
	WithinTx(ctx context.Context, fn func(tx Store) error) error
	Insert(ctx context.Context, report *models.AIReport) error
	UpdateByID(ctx context.Context, id, sessionID uuid.UUID, report models.AIReport) (int64, error)
	DeleteByID(ctx context.Context, id, sessionID uuid.UUID) (int64, error)
	DeleteHypotheses(ctx context.Context, reportID uuid.UUID) error
	InsertHypotheses(ctx context.Context, reportID uuid.UUID, hypotheses []models.DiagnosticHypothesis) ([]models.DiagnosticHypothesis, error)
}

type reportModel struct {
	ID                         uuid.UUID      `gorm:"type:uuid;primaryKey;column:id"`
	SessionID                  uuid.UUID      `gorm:"type:uuid;column:pre_analysis_id;uniqueIndex;not null"`
	PatientID                  uuid.UUID      `gorm:"type:uuid;column:patient_id;index;not null"`
	OverallSeverity            string         `gorm:"column:overall_severity;not null"`
	OverallConfidence          float64        `gorm:"column:overall_confidence"`
	Summary                    string         `gorm:"column:summary"`
	PrimaryDiagnosis           string         `gorm:"column:primary_diagnosis"`
	PrimaryDiagnosisConfidence float64        `gorm:"column:primary_diagnosis_confidence"`
	RecommendationAction       string         `gorm:"column:recommendation_action"`
	RecommendationText         string         `gorm:"column:recommendation_text"`
	Explainability             datatypes.JSON `gorm:"column:explainability_data"`
	CreatedAt                  time.Time      `gorm:"column:created_at"`
	UpdatedAt                  time.Time      `gorm:"column:updated_at"`
}

func (reportModel) TableName() string { return "ai_reports" }

type hypothesisModel struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey;column:id"`
	ReportID    uuid.UUID      `gorm:"type:uuid;column:report_id;index;not null"`
	Rank        int            `gorm:"column:hypothesis_rank"`
	DiseaseName string         `gorm:"column:disease_name;not null"`
	Confidence  float64        `gorm:"column:confidence"`
	Severity    string         `gorm:"column:severity;not null"`
	Keywords    datatypes.JSON `gorm:"column:keywords"`
	Explanation string         `gorm:"column:explanation"`
	IsPrimary   bool           `gorm:"column:is_primary"`
	IsExcluded  bool           `gorm:"column:is_excluded"`
	CreatedAt   time.Time      `gorm:"column:created_at"`
}

func (hypothesisModel) TableName() string { return "diagnostic_hypotheses" }

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) AutoMigrate() error {
	return s.db.AutoMigrate(&reportModel{}, &hypothesisModel{})
}

func (s *GormStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

// FindBySession returns nil, nil when the session has no report yet.
func (s *GormStore) FindBySession(ctx context.Context, sessionID uuid.UUID) (*models.AIReport, error) {
	return s.find(ctx, s.db.WithContext(ctx), sessionID)
}

// LockBySession takes FOR UPDATE on the report row. SQLite has no row locks
// and serializes writers instead.
func (s *GormStore) LockBySession(ctx context.Context, sessionID uuid.UUID) (*models.AIReport, error) {
	return s.find(ctx, s.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), sessionID)
}

func (s *GormStore) find(ctx context.Context, q *gorm.DB, sessionID uuid.UUID) (*models.AIReport, error) {
	const op = "report.find"
	var row reportModel
	err := q.Where("pre_analysis_id = ?", sessionID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.New(apperr.KindInternal, op, sessionID.String(), err)
	}
	if row.SessionID != sessionID {
		metrics.IncIsolationViolations()
		logger.ForSession(sessionID.String(), op).WithFields(logrus.Fields{
			"isolation_violation": true,
			"report_id":           row.ID,
			"found_session_id":    row.SessionID,
		}).Error("report read returned a row owned by another session")
		return nil, apperr.Newf(apperr.KindIsolationViolation, op, sessionID.String(),
			"report %s belongs to session %s", row.ID, row.SessionID)
	}

	hypotheses, err := s.findHypotheses(ctx, row.ID)
	if err != nil {
		return nil, apperr.New(apperr.KindInternal, op, sessionID.String(), err)
	}
	report := toReport(&row)
	report.Hypotheses = hypotheses
	return &report, nil
}

func (s *GormStore) Insert(ctx context.Context, report *models.AIReport) error {
	if report.ID == uuid.Nil {
		report.ID = uuid.New()
	}
	now := time.Now().UTC()
	report.CreatedAt, report.UpdatedAt = now, now
	row := fromReport(report)
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateReport
		}
		return err
	}
	return nil
}

func (s *GormStore) UpdateByID(ctx context.Context, id, sessionID uuid.UUID, report models.AIReport) (int64, error) {
	res := s.db.WithContext(ctx).Model(&reportModel{}).
		Where("id = ? AND pre_analysis_id = ?", id, sessionID).
		Updates(map[string]interface{}{
			"overall_severity":             string(report.OverallSeverity),
			"overall_confidence":           report.OverallConfidence,
			"summary":                      report.Summary,
			"primary_diagnosis":            report.PrimaryDiagnosis,
			"primary_diagnosis_confidence": report.PrimaryDiagnosisConfidence,
			"recommendation_action":        report.RecommendationAction,
			"recommendation_text":          report.RecommendationText,
			"explainability_data":          jsonValue(report.Explainability),
			"updated_at":                   time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

func (s *GormStore) DeleteByID(ctx context.Context, id, sessionID uuid.UUID) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("id = ? AND pre_analysis_id = ?", id, sessionID).
		Delete(&reportModel{})
	return res.RowsAffected, res.Error
}

// DeleteHypotheses and InsertHypotheses run under a savepoint when called
// inside WithinTx, so their failure leaves the report write intact.
func (s *GormStore) DeleteHypotheses(ctx context.Context, reportID uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Where("report_id = ?", reportID).Delete(&hypothesisModel{}).Error
	})
}

// InsertHypotheses writes the list in rank order and returns it with ids assigned.
func (s *GormStore) InsertHypotheses(ctx context.Context, reportID uuid.UUID, hypotheses []models.DiagnosticHypothesis) ([]models.DiagnosticHypothesis, error) {
	if len(hypotheses) == 0 {
		return []models.DiagnosticHypothesis{}, nil
	}
	now := time.Now().UTC()
	rows := make([]hypothesisModel, 0, len(hypotheses))
	for i, h := range hypotheses {
		rows = append(rows, hypothesisModel{
			ID:          uuid.New(),
			ReportID:    reportID,
			Rank:        i,
			DiseaseName: h.DiseaseName,
			Confidence:  h.Confidence,
			Severity:    string(h.Severity),
			Keywords:    jsonValue(h.Keywords),
			Explanation: h.Explanation,
			IsPrimary:   h.IsPrimary,
			IsExcluded:  h.IsExcluded,
			CreatedAt:   now,
		})
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	out := make([]models.DiagnosticHypothesis, 0, len(rows))
	for _, row := range rows {
		out = append(out, toHypothesis(row))
	}
	return out, nil
}

func (s *GormStore) findHypotheses(ctx context.Context, reportID uuid.UUID) ([]models.DiagnosticHypothesis, error) {
	var rows []hypothesisModel
	if err := s.db.WithContext(ctx).Where("report_id = ?", reportID).Order("hypothesis_rank ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.DiagnosticHypothesis, 0, len(rows))
	for _, row := range rows {
		out = append(out, toHypothesis(row))
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func fromReport(r *models.AIReport) *reportModel {
	return &reportModel{
		ID:                         r.ID,
		SessionID:                  r.SessionID,
		PatientID:                  r.PatientID,
		OverallSeverity:            string(r.OverallSeverity),
		OverallConfidence:          r.OverallConfidence,
		Summary:                    r.Summary,
		PrimaryDiagnosis:           r.PrimaryDiagnosis,
		PrimaryDiagnosisConfidence: r.PrimaryDiagnosisConfidence,
		RecommendationAction:       r.RecommendationAction,
		RecommendationText:         r.RecommendationText,
		Explainability:             jsonValue(r.Explainability),
		CreatedAt:                  r.CreatedAt,
		UpdatedAt:                  r.UpdatedAt,
	}
}

func toReport(row *reportModel) models.AIReport {
	return models.AIReport{
		ID:                         row.ID,
		SessionID:                  row.SessionID,
		PatientID:                  row.PatientID,
		OverallSeverity:            models.Severity(row.OverallSeverity),
		OverallConfidence:          row.OverallConfidence,
		Summary:                    row.Summary,
		PrimaryDiagnosis:           row.PrimaryDiagnosis,
		PrimaryDiagnosisConfidence: row.PrimaryDiagnosisConfidence,
		RecommendationAction:       row.RecommendationAction,
		RecommendationText:         row.RecommendationText,
		Explainability:             jsonMap(row.Explainability),
		CreatedAt:                  row.CreatedAt,
		UpdatedAt:                  row.UpdatedAt,
	}
}

func toHypothesis(row hypothesisModel) models.DiagnosticHypothesis {
	var keywords []string
	if len(row.Keywords) > 0 {
		_ = json.Unmarshal(row.Keywords, &keywords)
	}
	return models.DiagnosticHypothesis{
		ID:          row.ID,
		ReportID:    row.ReportID,
		DiseaseName: row.DiseaseName,
		Confidence:  row.Confidence,
		Severity:    models.Severity(row.Severity),
		Keywords:    keywords,
		Explanation: row.Explanation,
		IsPrimary:   row.IsPrimary,
		IsExcluded:  row.IsExcluded,
	}
}

func jsonValue(v interface{}) datatypes.JSON {
	data, _ := json.Marshal(v)
	return datatypes.JSON(data)
}

func jsonMap(data datatypes.JSON) map[string]interface{} {
	if len(data) == 0 {
		return nil
	}
	var result map[string]interface{}
	_ = json.Unmarshal(data, &result)
	return result
}
