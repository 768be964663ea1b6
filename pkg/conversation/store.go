package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/synaptica-ai/pretriage/pkg/common/apperr"
	"github.com/synaptica-ai/pretriage/pkg/common/logger"
	"github.com/synaptica-ai/pretriage/pkg/common/models"
	"github.com/synaptica-ai/pretriage/pkg/medcontext"
	"github.com/synaptica-ai/pretriage/pkg/observability/metrics"
	"gorm.io/gorm"
)

type turnModel struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey;column:id"`
	SessionID   uuid.UUID `gorm:"type:uuid;column:session_id;index:idx_chat_turns_session_created,priority:1;not null"`
	SenderType  string    `gorm:"column:sender_type;not null"`
	MessageText string    `gorm:"column:message_text;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;index:idx_chat_turns_session_created,priority:2"`
}

func (turnModel) TableName() string { return "chat_turns" }

// Store is the append-only chat log. Every read and write is partitioned by
// session id alone.
type Store struct {
	db *gorm.DB

	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&turnModel{})
}

// Append persists one turn and re-reads it to confirm it landed in sessionID.
func (s *Store) Append(ctx context.Context, sessionID uuid.UUID, sender models.SenderType, text string) (models.ChatTurn, error) {
	const op = "conversation.append"
	if sessionID == uuid.Nil {
		return models.ChatTurn{}, apperr.Newf(apperr.KindValidation, op, "", "session id is required")
	}
	if sender != models.SenderAI && sender != models.SenderPatient {
		return models.ChatTurn{}, apperr.Newf(apperr.KindValidation, op, sessionID.String(), "unknown sender %q", sender)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return models.ChatTurn{}, apperr.Newf(apperr.KindValidation, op, sessionID.String(), "message text is empty")
	}

	row := &turnModel{
		ID:          uuid.New(),
		SessionID:   sessionID,
		SenderType:  string(sender),
		MessageText: text,
		CreatedAt:   s.stamp(),
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return models.ChatTurn{}, apperr.New(apperr.KindInternal, op, sessionID.String(), err)
	}

	var stored turnModel
	if err := s.db.WithContext(ctx).Where("id = ?", row.ID).First(&stored).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.ChatTurn{}, apperr.Newf(apperr.KindInternal, op, sessionID.String(), "turn %s missing after insert", row.ID)
		}
		return models.ChatTurn{}, apperr.New(apperr.KindInternal, op, sessionID.String(), err)
	}
	if stored.SessionID != sessionID {
		reportViolation(op, sessionID, stored.SessionID, 1)
		return models.ChatTurn{}, apperr.Newf(apperr.KindIsolationViolation, op, sessionID.String(),
			"turn %s persisted under session %s", stored.ID, stored.SessionID)
	}

	metrics.IncChatTurns()
	return toTurn(stored), nil
}

// LoadAll returns the session's turns oldest first. If any returned row
// belongs to another session the whole result is discarded.
func (s *Store) LoadAll(ctx context.Context, sessionID uuid.UUID) ([]models.ChatTurn, error) {
	const op = "conversation.load_all"
	if sessionID == uuid.Nil {
		return nil, apperr.Newf(apperr.KindValidation, op, "", "session id is required")
	}

	var rows []turnModel
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, apperr.New(apperr.KindInternal, op, sessionID.String(), err)
	}

	foreign := 0
	var other uuid.UUID
	for _, row := range rows {
		if row.SessionID != sessionID {
			foreign++
			other = row.SessionID
		}
	}
	if foreign > 0 {
		reportViolation(op, sessionID, other, foreign)
		return []models.ChatTurn{}, nil
	}

	turns := make([]models.ChatTurn, 0, len(rows))
	for _, row := range rows {
		turns = append(turns, toTurn(row))
	}
	return turns, nil
}

// RawTurns converts stored turns into the builder's input shape.
func RawTurns(turns []models.ChatTurn) []medcontext.RawTurn {
	raw := make([]medcontext.RawTurn, 0, len(turns))
	for _, t := range turns {
		raw = append(raw, medcontext.RawTurn{SenderType: string(t.SenderType), MessageText: t.MessageText})
	}
	return raw
}

// PatientAnswers joins the patient-authored turns, one per line.
func PatientAnswers(turns []models.ChatTurn) string {
	var lines []string
	for _, t := range turns {
		if t.SenderType == models.SenderPatient {
			lines = append(lines, t.MessageText)
		}
	}
	return strings.Join(lines, "\n")
}

// stamp hands out strictly increasing timestamps so turns appended through
// one store never tie on created_at.
func (s *Store) stamp() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if !now.After(s.last) {
		now = s.last.Add(time.Microsecond)
	}
	s.last = now
	return now
}

func reportViolation(op string, requested, found uuid.UUID, count int) {
	metrics.IncIsolationViolations()
	logger.ForSession(requested.String(), op).WithFields(map[string]interface{}{
		"isolation_violation": true,
		"foreign_session_id":  found.String(),
		"foreign_rows":        count,
	}).Error(fmt.Sprintf("chat turns crossed session boundary, %d row(s) withheld", count))
}

func toTurn(row turnModel) models.ChatTurn {
	return models.ChatTurn{
		ID:          row.ID,
		SessionID:   row.SessionID,
		SenderType:  models.SenderType(row.SenderType),
		MessageText: row.MessageText,
		CreatedAt:   row.CreatedAt,
	}
}
