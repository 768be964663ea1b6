package precisionchat

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/synaptica-ai/pretriage/pkg/common/apperr"
	"github.com/synaptica-ai/pretriage/pkg/common/logger"
	"github.com/synaptica-ai/pretriage/pkg/common/models"
	"github.com/synaptica-ai/pretriage/pkg/conversation"
	"github.com/synaptica-ai/pretriage/pkg/llm"
	"github.com/synaptica-ai/pretriage/pkg/medcontext"
)

type State string

const (
	StateNotStarted            State = "NOT_STARTED"
	StateAwaitingFirstQuestion State = "AWAITING_FIRST_QUESTION"
	StateInDialogue            State = "IN_DIALOGUE"
	StateReadyToFinalize       State = "READY_TO_FINALIZE"
)

type SessionService interface {
	Get(ctx context.Context, id uuid.UUID) (models.PreAnalysis, error)
	GetProfile(ctx context.Context, patientID uuid.UUID) (models.PatientProfile, error)
	Submit(ctx context.Context, id uuid.UUID) (models.PreAnalysis, error)
}

type TurnStore interface {
	Append(ctx context.Context, sessionID uuid.UUID, sender models.SenderType, text string) (models.ChatTurn, error)
	LoadAll(ctx context.Context, sessionID uuid.UUID) ([]models.ChatTurn, error)
}

type Transcript struct {
	State State             `json:"state"`
	Turns []models.ChatTurn `json:"turns"`
}

// ReplyError is returned when the patient's message could not be answered.
// Message carries the text back so the caller can offer a retry.
type ReplyError struct {
	Message string
	Err     error
}

func (e *ReplyError) Error() string { return e.Err.Error() }
func (e *ReplyError) Unwrap() error { return e.Err }

type Orchestrator struct {
	sessions SessionService
	turns    TurnStore
	model    llm.Model

	locks sessionLocks
}

func NewOrchestrator(sessions SessionService, turns TurnStore, model llm.Model) *Orchestrator {
	return &Orchestrator{sessions: sessions, turns: turns, model: model}
}

// State derives the dialogue state from the session status and stored turns.
func (o *Orchestrator) State(ctx context.Context, sessionID uuid.UUID) (Transcript, error) {
	session, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return Transcript{}, err
	}
	turns, err := o.turns.LoadAll(ctx, sessionID)
	if err != nil {
		return Transcript{}, err
	}
	return Transcript{State: deriveState(session, turns), Turns: turns}, nil
}

// Start asks the opening question once. Calling it again returns the
// existing transcript without another model call.
func (o *Orchestrator) Start(ctx context.Context, sessionID uuid.UUID) (Transcript, error) {
	const op = "precisionchat.start"
	unlock := o.lock(sessionID)
	defer unlock()

	session, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return Transcript{}, err
	}
	turns, err := o.turns.LoadAll(ctx, sessionID)
	if err != nil {
		return Transcript{}, err
	}
	if len(turns) > 0 || session.Status != models.StatusDraft {
		return Transcript{State: deriveState(session, turns), Turns: turns}, nil
	}

	built := medcontext.Build(medcontext.FromSession(session, o.profile(ctx, session), nil, nil))
	question, err := o.model.Complete(ctx, []llm.Message{
		llm.Text(llm.RoleSystem, openingQuestionPrompt),
		llm.Text(llm.RoleUser, built.CombinedText),
	}, llm.Options{Mode: llm.ModeOpeningQuestion})
	if err != nil {
		return Transcript{}, apperr.New(apperr.KindUpstream, op, sessionID.String(), err)
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return Transcript{}, apperr.Newf(apperr.KindUpstream, op, sessionID.String(), "model returned an empty opening question")
	}

	turn, err := o.turns.Append(ctx, sessionID, models.SenderAI, question)
	if err != nil {
		return Transcript{}, err
	}
	logger.ForSession(sessionID.String(), op).Info("opening question asked")
	return Transcript{State: StateAwaitingFirstQuestion, Turns: []models.ChatTurn{turn}}, nil
}

// Reply records the patient's message and asks the next question. The
// history the model sees is always reloaded from the store; clientHistory is
// only compared against it for logging.
func (o *Orchestrator) Reply(ctx context.Context, sessionID uuid.UUID, message string, clientHistory []medcontext.RawTurn) (Transcript, error) {
	const op = "precisionchat.reply"
	message = strings.TrimSpace(message)
	if message == "" {
		return Transcript{}, apperr.Newf(apperr.KindValidation, op, sessionID.String(), "message is empty")
	}

	unlock := o.lock(sessionID)
	defer unlock()

	session, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return Transcript{}, err
	}
	if session.Status != models.StatusDraft {
		return Transcript{}, apperr.Newf(apperr.KindConflict, op, sessionID.String(), "session is %s, chat is closed", session.Status)
	}

	stored, err := o.turns.LoadAll(ctx, sessionID)
	if err != nil {
		return Transcript{}, err
	}
	if len(stored) == 0 {
		return Transcript{}, apperr.Newf(apperr.KindConflict, op, sessionID.String(), "chat has not been started")
	}

	// A retry after a failed model call finds its own message already stored
	// and unanswered; it is not appended twice.
	last := stored[len(stored)-1]
	if last.SenderType != models.SenderPatient || last.MessageText != message {
		if _, err := o.turns.Append(ctx, sessionID, models.SenderPatient, message); err != nil {
			return Transcript{}, &ReplyError{Message: message, Err: err}
		}
	}

	history, err := o.turns.LoadAll(ctx, sessionID)
	if err != nil {
		return Transcript{}, &ReplyError{Message: message, Err: err}
	}
	if len(clientHistory) > 0 && len(clientHistory) != len(history)-1 {
		logger.ForSession(sessionID.String(), op).WithFields(map[string]interface{}{
			"client_turns": len(clientHistory),
			"stored_turns": len(history),
		}).Debug("client history differs from stored history, using stored")
	}

	raw := conversation.RawTurns(history)
	built := medcontext.Build(medcontext.FromSession(session, o.profile(ctx, session), raw, nil))
	messages := []llm.Message{
		llm.Text(llm.RoleSystem, dialoguePrompt),
		llm.WithImages(built.CombinedText, built.ImageRefs),
	}
	for _, turn := range medcontext.NormalizeTurns(raw) {
		role := llm.RoleAssistant
		if turn.Role == medcontext.RoleUser {
			role = llm.RoleUser
		}
		messages = append(messages, llm.Text(role, turn.Content))
	}

	answer, err := o.model.Complete(ctx, messages, llm.Options{Mode: llm.ModeDialogue})
	if err != nil {
		logger.ForSession(sessionID.String(), op).WithError(err).Warn("next question failed, patient message kept for retry")
		return Transcript{}, &ReplyError{Message: message, Err: apperr.New(apperr.KindUpstream, op, sessionID.String(), err)}
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return Transcript{}, &ReplyError{Message: message, Err: apperr.Newf(apperr.KindUpstream, op, sessionID.String(), "model returned an empty reply")}
	}

	turn, err := o.turns.Append(ctx, sessionID, models.SenderAI, answer)
	if err != nil {
		return Transcript{}, &ReplyError{Message: message, Err: err}
	}
	return Transcript{State: StateInDialogue, Turns: append(history, turn)}, nil
}

// Finalize is the only way out of the dialogue; the model never ends it.
func (o *Orchestrator) Finalize(ctx context.Context, sessionID uuid.UUID) (models.PreAnalysis, error) {
	unlock := o.lock(sessionID)
	defer unlock()
	return o.sessions.Submit(ctx, sessionID)
}

func (o *Orchestrator) profile(ctx context.Context, session models.PreAnalysis) medcontext.RawProfile {
	profile, err := o.sessions.GetProfile(ctx, session.PatientID)
	if err != nil {
		if !apperr.IsKind(err, apperr.KindNotFound) {
			logger.ForSession(session.ID.String(), "precisionchat.profile").WithError(err).Warn("profile unavailable, continuing without it")
		}
		return nil
	}
	return medcontext.RawProfile(profile.Attributes)
}

func (o *Orchestrator) lock(sessionID uuid.UUID) func() {
	return o.locks.acquire(sessionID)
}

// sessionLocks serializes calls per session. An entry lives only while some
// call holds or waits for it.
type sessionLocks struct {
	mu   sync.Mutex
	held map[uuid.UUID]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func (l *sessionLocks) acquire(id uuid.UUID) func() {
	l.mu.Lock()
	if l.held == nil {
		l.held = make(map[uuid.UUID]*sessionLock)
	}
	entry, ok := l.held[id]
	if !ok {
		entry = &sessionLock{}
		l.held[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.held, id)
		}
		l.mu.Unlock()
	}
}

func (l *sessionLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}

func deriveState(session models.PreAnalysis, turns []models.ChatTurn) State {
	if session.Status != models.StatusDraft {
		return StateReadyToFinalize
	}
	if len(turns) == 0 {
		return StateNotStarted
	}
	for _, t := range turns {
		if t.SenderType == models.SenderPatient {
			return StateInDialogue
		}
	}
	return StateAwaitingFirstQuestion
}

// PendingMessage extracts the unsent patient message from a Reply error.
func PendingMessage(err error) (string, bool) {
	var re *ReplyError
	if errors.As(err, &re) {
		return re.Message, true
	}
	return "", false
}
