package preanalysis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/synaptica-ai/pretriage/pkg/common/apperr"
	"github.com/synaptica-ai/pretriage/pkg/common/logger"
	"github.com/synaptica-ai/pretriage/pkg/common/models"
	"github.com/synaptica-ai/pretriage/pkg/observability/metrics"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

type sessionModel struct {
	ID                 uuid.UUID      `gorm:"type:uuid;primaryKey;column:id"`
	PatientID          uuid.UUID      `gorm:"type:uuid;column:patient_id;index;not null"`
	TextInput          string         `gorm:"column:text_input"`
	VoiceTranscripts   datatypes.JSON `gorm:"column:voice_transcripts"`
	SelectedTags       datatypes.JSON `gorm:"column:selected_tags"`
	ImageRefs          datatypes.JSON `gorm:"column:image_urls"`
	DocumentRefs       datatypes.JSON `gorm:"column:document_urls"`
	Status             string         `gorm:"column:status;not null"`
	AIProcessingStatus string         `gorm:"column:ai_processing_status;not null"`
	CreatedAt          time.Time      `gorm:"column:created_at"`
	UpdatedAt          time.Time      `gorm:"column:updated_at"`
}

func (sessionModel) TableName() string { return "pre_analyses" }

type profileModel struct {
	PatientID  uuid.UUID      `gorm:"type:uuid;primaryKey;column:patient_id"`
	Attributes datatypes.JSON `gorm:"column:attributes"`
	UpdatedAt  time.Time      `gorm:"column:updated_at"`
}

func (profileModel) TableName() string { return "patient_profiles" }

// aiTransitions lists the states each ai status may be entered from.
// completed is reachable from anywhere so a regeneration can overwrite a failure.
var aiTransitions = map[models.AIProcessingStatus][]string{
	models.AIStatusProcessing: {string(models.AIStatusPending), string(models.AIStatusFailed)},
	models.AIStatusFailed:     {string(models.AIStatusPending), string(models.AIStatusProcessing)},
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&sessionModel{}, &profileModel{})
}

func (r *Repository) Create(ctx context.Context, patientID uuid.UUID) (models.PreAnalysis, error) {
	now := time.Now().UTC()
	row := &sessionModel{
		ID:                 uuid.New(),
		PatientID:          patientID,
		Status:             string(models.StatusDraft),
		AIProcessingStatus: string(models.AIStatusPending),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return models.PreAnalysis{}, apperr.New(apperr.KindInternal, "preanalysis.create", row.ID.String(), err)
	}
	return toSession(row), nil
}

// Get loads a session and re-checks that the row returned is the one asked for.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (models.PreAnalysis, error) {
	const op = "preanalysis.get"
	var row sessionModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.PreAnalysis{}, apperr.New(apperr.KindNotFound, op, id.String(), err)
	}
	if err != nil {
		return models.PreAnalysis{}, apperr.New(apperr.KindInternal, op, id.String(), err)
	}
	if row.ID != id {
		metrics.IncIsolationViolations()
		logger.ForSession(id.String(), op).WithFields(map[string]interface{}{
			"isolation_violation": true,
			"returned_id":         row.ID.String(),
		}).Error("session lookup returned a different row")
		return models.PreAnalysis{}, apperr.Newf(apperr.KindIsolationViolation, op, id.String(), "lookup returned session %s", row.ID)
	}
	return toSession(&row), nil
}

// UpdateInputs replaces the supplied modalities while the session is a draft.
func (r *Repository) UpdateInputs(ctx context.Context, id uuid.UUID, req models.UpdateInputsRequest) (models.PreAnalysis, error) {
	const op = "preanalysis.update_inputs"
	updates := map[string]interface{}{"updated_at": time.Now().UTC()}
	if req.TextInput != nil {
		updates["text_input"] = *req.TextInput
	}
	if req.VoiceTranscripts != nil {
		updates["voice_transcripts"] = jsonValue(req.VoiceTranscripts)
	}
	if req.SelectedTags != nil {
		updates["selected_tags"] = jsonValue(req.SelectedTags)
	}
	if req.ImageRefs != nil {
		updates["image_urls"] = jsonValue(req.ImageRefs)
	}
	if req.DocumentRefs != nil {
		updates["document_urls"] = jsonValue(req.DocumentRefs)
	}

	res := r.db.WithContext(ctx).Model(&sessionModel{}).
		Where("id = ? AND status = ?", id, models.StatusDraft).
		Updates(updates)
	if res.Error != nil {
		return models.PreAnalysis{}, apperr.New(apperr.KindInternal, op, id.String(), res.Error)
	}
	if res.RowsAffected == 0 {
		current, err := r.Get(ctx, id)
		if err != nil {
			return models.PreAnalysis{}, err
		}
		return models.PreAnalysis{}, apperr.Newf(apperr.KindConflict, op, id.String(), "session is %s, inputs are frozen", current.Status)
	}
	return r.Get(ctx, id)
}

// Submit moves a draft to submitted. Submitting twice is a no-op; the second
// call reports changed=false.
func (r *Repository) Submit(ctx context.Context, id uuid.UUID) (models.PreAnalysis, bool, error) {
	const op = "preanalysis.submit"
	res := r.db.WithContext(ctx).Model(&sessionModel{}).
		Where("id = ? AND status = ?", id, models.StatusDraft).
		Updates(map[string]interface{}{
			"status":     string(models.StatusSubmitted),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return models.PreAnalysis{}, false, apperr.New(apperr.KindInternal, op, id.String(), res.Error)
	}
	session, err := r.Get(ctx, id)
	if err != nil {
		return models.PreAnalysis{}, false, err
	}
	return session, res.RowsAffected > 0, nil
}

// MarkAIStatus applies a monotonic ai status transition. It reports whether
// the row changed; a refused transition is not an error.
func (r *Repository) MarkAIStatus(ctx context.Context, id uuid.UUID, status models.AIProcessingStatus) (bool, error) {
	const op = "preanalysis.mark_ai_status"
	q := r.db.WithContext(ctx).Model(&sessionModel{}).Where("id = ?", id)
	switch status {
	case models.AIStatusCompleted:
	case models.AIStatusProcessing, models.AIStatusFailed:
		q = q.Where("ai_processing_status IN ?", aiTransitions[status])
	default:
		return false, apperr.Newf(apperr.KindValidation, op, id.String(), "cannot move ai status to %q", status)
	}
	res := q.Updates(map[string]interface{}{
		"ai_processing_status": string(status),
		"updated_at":           time.Now().UTC(),
	})
	if res.Error != nil {
		return false, apperr.New(apperr.KindInternal, op, id.String(), res.Error)
	}
	return res.RowsAffected > 0, nil
}

// MarkCompleted closes the session once its report is durable.
func (r *Repository) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Model(&sessionModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":               string(models.StatusCompleted),
			"ai_processing_status": string(models.AIStatusCompleted),
			"updated_at":           time.Now().UTC(),
		})
	if res.Error != nil {
		return apperr.New(apperr.KindInternal, "preanalysis.mark_completed", id.String(), res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.Newf(apperr.KindNotFound, "preanalysis.mark_completed", id.String(), "session not found")
	}
	return nil
}

// UpsertProfile stores the profile exactly as received; key naming is
// reconciled later by the context builder.
func (r *Repository) UpsertProfile(ctx context.Context, patientID uuid.UUID, attributes map[string]interface{}) (models.PatientProfile, error) {
	data, err := json.Marshal(attributes)
	if err != nil {
		return models.PatientProfile{}, apperr.New(apperr.KindValidation, "preanalysis.upsert_profile", "", err)
	}
	row := &profileModel{PatientID: patientID, Attributes: datatypes.JSON(data), UpdatedAt: time.Now().UTC()}
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&profileModel{}).Where("patient_id = ?", patientID).Updates(map[string]interface{}{
			"attributes": row.Attributes,
			"updated_at": row.UpdatedAt,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
		return tx.Create(row).Error
	})
	if err != nil {
		return models.PatientProfile{}, apperr.New(apperr.KindInternal, "preanalysis.upsert_profile", "", err)
	}
	return models.PatientProfile{PatientID: patientID, Attributes: attributes, UpdatedAt: row.UpdatedAt}, nil
}

func (r *Repository) GetProfile(ctx context.Context, patientID uuid.UUID) (models.PatientProfile, error) {
	var row profileModel
	err := r.db.WithContext(ctx).Where("patient_id = ?", patientID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.PatientProfile{}, apperr.New(apperr.KindNotFound, "preanalysis.get_profile", "", err)
	}
	if err != nil {
		return models.PatientProfile{}, apperr.New(apperr.KindInternal, "preanalysis.get_profile", "", err)
	}
	return models.PatientProfile{PatientID: row.PatientID, Attributes: jsonMap(row.Attributes), UpdatedAt: row.UpdatedAt}, nil
}

func toSession(row *sessionModel) models.PreAnalysis {
	return models.PreAnalysis{
		ID:                 row.ID,
		PatientID:          row.PatientID,
		TextInput:          row.TextInput,
		VoiceTranscripts:   jsonStringArray(row.VoiceTranscripts),
		SelectedTags:       jsonStringArray(row.SelectedTags),
		ImageRefs:          jsonStringArray(row.ImageRefs),
		DocumentRefs:       jsonStringArray(row.DocumentRefs),
		Status:             models.ProcessingStatus(row.Status),
		AIProcessingStatus: models.AIProcessingStatus(row.AIProcessingStatus),
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
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

func jsonStringArray(data datatypes.JSON) []string {
	if len(data) == 0 {
		return nil
	}
	var result []string
	_ = json.Unmarshal(data, &result)
	return result
}
