package preanalysis

import (
	"context"

	"github.com/google/uuid"
	"github.com/synaptica-ai/pretriage/pkg/common/apperr"
	"github.com/synaptica-ai/pretriage/pkg/common/kafka"
	"github.com/synaptica-ai/pretriage/pkg/common/logger"
	"github.com/synaptica-ai/pretriage/pkg/common/models"
)

const EventSubmitted = "preanalysis.submitted"

type Service struct {
	repo      *Repository
	validator *Validator
	publisher kafka.Publisher
}

// NewService wires the session lifecycle. publisher may be nil, in which case
// submissions are not announced and reports are generated on demand.
func NewService(repo *Repository, validator *Validator, publisher kafka.Publisher) *Service {
	return &Service{repo: repo, validator: validator, publisher: publisher}
}

func (s *Service) Create(ctx context.Context, patientID uuid.UUID) (models.PreAnalysis, error) {
	if patientID == uuid.Nil {
		return models.PreAnalysis{}, apperr.Newf(apperr.KindValidation, "preanalysis.create", "", "patient id is required")
	}
	session, err := s.repo.Create(ctx, patientID)
	if err != nil {
		return models.PreAnalysis{}, err
	}
	logger.ForSession(session.ID.String(), "preanalysis.create").Info("session created")
	return session, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (models.PreAnalysis, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) UpdateInputs(ctx context.Context, id uuid.UUID, req models.UpdateInputsRequest) (models.PreAnalysis, error) {
	if err := s.validator.Normalize(&req); err != nil {
		return models.PreAnalysis{}, err
	}
	return s.repo.UpdateInputs(ctx, id, req)
}

// Submit freezes the session inputs. The submission event is only published
// on the first transition out of draft.
func (s *Service) Submit(ctx context.Context, id uuid.UUID) (models.PreAnalysis, error) {
	session, changed, err := s.repo.Submit(ctx, id)
	if err != nil {
		return models.PreAnalysis{}, err
	}
	if !changed || s.publisher == nil {
		return session, nil
	}
	payload := map[string]interface{}{
		"session_id": session.ID.String(),
		"patient_id": session.PatientID.String(),
	}
	if err := s.publisher.PublishEvent(ctx, EventSubmitted, "triage-service", payload); err != nil {
		logger.ForSession(id.String(), "preanalysis.submit").WithError(err).Warn("submission event not published")
	}
	return session, nil
}

func (s *Service) UpsertProfile(ctx context.Context, patientID uuid.UUID, attributes map[string]interface{}) (models.PatientProfile, error) {
	if patientID == uuid.Nil {
		return models.PatientProfile{}, apperr.Newf(apperr.KindValidation, "preanalysis.upsert_profile", "", "patient id is required")
	}
	if attributes == nil {
		attributes = map[string]interface{}{}
	}
	return s.repo.UpsertProfile(ctx, patientID, attributes)
}

func (s *Service) GetProfile(ctx context.Context, patientID uuid.UUID) (models.PatientProfile, error) {
	return s.repo.GetProfile(ctx, patientID)
}
