package timeline

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synaptica-ai/pretriage/pkg/common/database/dbtest"
	"github.com/synaptica-ai/pretriage/pkg/common/models"
	"github.com/synaptica-ai/pretriage/pkg/dlp"
)

type capturePublisher struct {
	eventType string
	data      map[string]interface{}
	err       error
}

func (p *capturePublisher) PublishEvent(ctx context.Context, eventType, source string, data map[string]interface{}) error {
	p.eventType = eventType
	p.data = data
	return p.err
}

func TestRecordPersistsAndPublishesSanitized(t *testing.T) {
	db := dbtest.Open(t)
	pub := &capturePublisher{}
	detector, err := dlp.NewDetector(dlp.DefaultRules())
	require.NoError(t, err)
	recorder := NewRecorder(db, pub, detector)
	require.NoError(t, recorder.AutoMigrate())

	patient, session, report := uuid.New(), uuid.New(), uuid.New()
	err = recorder.Record(context.Background(), models.TimelineEntry{
		PatientID:   patient,
		SessionID:   session,
		EventType:   EventReportGenerated,
		ReferenceID: report.String(),
		Title:       "Rapport pour jean@example.com",
		Payload:     map[string]interface{}{"severity": "medium"},
	})
	require.NoError(t, err)

	assert.Equal(t, "timeline.report_generated", pub.eventType)
	assert.Equal(t, "Rapport pour [EMAIL]", pub.data["title"])
	assert.Equal(t, session.String(), pub.data["session_id"])

	entries, err := recorder.List(context.Background(), patient, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, report.String(), entries[0].ReferenceID)
	assert.Equal(t, "medium", entries[0].Payload["severity"])
}

func TestRecordIgnoresPublishFailure(t *testing.T) {
	db := dbtest.Open(t)
	recorder := NewRecorder(db, &capturePublisher{err: errors.New("broker down")}, nil)
	require.NoError(t, recorder.AutoMigrate())

	err := recorder.Record(context.Background(), models.TimelineEntry{PatientID: uuid.New(), SessionID: uuid.New(), EventType: EventReportGenerated})
	assert.NoError(t, err)
}
