package timeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/synaptica-ai/pretriage/pkg/common/kafka"
	"github.com/synaptica-ai/pretriage/pkg/common/logger"
	"github.com/synaptica-ai/pretriage/pkg/common/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const EventReportGenerated = "report_generated"

type entryModel struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey;column:id"`
	PatientID   uuid.UUID      `gorm:"type:uuid;column:patient_id;index"`
	SessionID   uuid.UUID      `gorm:"type:uuid;column:pre_analysis_id;index"`
	EventType   string         `gorm:"column:event_type"`
	ReferenceID string         `gorm:"column:reference_id"`
	Title       string         `gorm:"column:title"`
	Payload     datatypes.JSON `gorm:"column:payload"`
	CreatedAt   time.Time      `gorm:"column:created_at"`
}

func (entryModel) TableName() string { return "timeline_events" }

// Sanitizer masks identifiers in payloads leaving the process.
type Sanitizer interface {
	Sanitize(data map[string]interface{}) map[string]interface{}
}

// Recorder writes patient timeline entries and mirrors them on the event bus.
// Both writes are side effects: callers log failures and move on.
type Recorder struct {
	db        *gorm.DB
	publisher kafka.Publisher
	sanitizer Sanitizer
}

func NewRecorder(db *gorm.DB, publisher kafka.Publisher, sanitizer Sanitizer) *Recorder {
	return &Recorder{db: db, publisher: publisher, sanitizer: sanitizer}
}

func (r *Recorder) AutoMigrate() error {
	return r.db.AutoMigrate(&entryModel{})
}

func (r *Recorder) Record(ctx context.Context, entry models.TimelineEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.Payload == nil {
		entry.Payload = map[string]interface{}{}
	}
	payload, _ := json.Marshal(entry.Payload)
	row := &entryModel{
		ID:          entry.ID,
		PatientID:   entry.PatientID,
		SessionID:   entry.SessionID,
		EventType:   entry.EventType,
		ReferenceID: entry.ReferenceID,
		Title:       entry.Title,
		Payload:     datatypes.JSON(payload),
		CreatedAt:   entry.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return err
	}

	if r.publisher == nil {
		return nil
	}
	data := map[string]interface{}{
		"session_id":   entry.SessionID.String(),
		"patient_id":   entry.PatientID.String(),
		"reference_id": entry.ReferenceID,
		"title":        entry.Title,
		"payload":      entry.Payload,
	}
	if r.sanitizer != nil {
		data = r.sanitizer.Sanitize(data)
	}
	if err := r.publisher.PublishEvent(ctx, "timeline."+entry.EventType, "report-generator", data); err != nil {
		logger.ForSession(entry.SessionID.String(), "timeline.record").WithError(err).Warn("timeline event not published")
	}
	return nil
}

func (r *Recorder) List(ctx context.Context, patientID uuid.UUID, limit int) ([]models.TimelineEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []entryModel
	if err := r.db.WithContext(ctx).
		Where("patient_id = ?", patientID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	entries := make([]models.TimelineEntry, 0, len(rows))
	for _, row := range rows {
		var payload map[string]interface{}
		_ = json.Unmarshal(row.Payload, &payload)
		entries = append(entries, models.TimelineEntry{
			ID:          row.ID,
			PatientID:   row.PatientID,
			SessionID:   row.SessionID,
			EventType:   row.EventType,
			ReferenceID: row.ReferenceID,
			Title:       row.Title,
			Payload:     payload,
			CreatedAt:   row.CreatedAt,
		})
	}
	return entries, nil
}
