package precisionchat

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/pretriage/pkg/common/apperr"
	"github.com/synaptica-ai/pretriage/pkg/httpapi"
	"github.com/synaptica-ai/pretriage/pkg/medcontext"
)

type replyRequest struct {
	Message string               `json:"message"`
	History []medcontext.RawTurn `json:"history,omitempty"`
}

type Handler struct {
	orchestrator *Orchestrator
}

func NewHandler(orchestrator *Orchestrator) *Handler {
	return &Handler{orchestrator: orchestrator}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/sessions/{id}/chat", h.handleState).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}/chat/start", h.handleStart).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/chat/messages", h.handleReply).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/chat/finalize", h.handleFinalize).Methods(http.MethodPost)
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	id, ok := httpapi.PathUUID(w, r, "id")
	if !ok {
		return
	}
	transcript, err := h.orchestrator.State(r.Context(), id)
	if err != nil {
		httpapi.WriteError(w, r, err, "failed to load chat")
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, transcript)
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	id, ok := httpapi.PathUUID(w, r, "id")
	if !ok {
		return
	}
	transcript, err := h.orchestrator.Start(r.Context(), id)
	if err != nil {
		httpapi.WriteError(w, r, err, "failed to start chat")
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, transcript)
}

func (h *Handler) handleReply(w http.ResponseWriter, r *http.Request) {
	id, ok := httpapi.PathUUID(w, r, "id")
	if !ok {
		return
	}
	var req replyRequest
	if !httpapi.Decode(w, r, &req) {
		return
	}
	transcript, err := h.orchestrator.Reply(r.Context(), id, req.Message, req.History)
	if err != nil {
		if pending, ok := PendingMessage(err); ok {
			httpapi.WriteJSON(w, apperr.HTTPStatus(err), map[string]interface{}{
				"error":           "the assistant could not answer, please retry",
				"kind":            apperr.KindOf(err),
				"pending_message": pending,
			})
			return
		}
		httpapi.WriteError(w, r, err, "failed to send message")
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, transcript)
}

func (h *Handler) handleFinalize(w http.ResponseWriter, r *http.Request) {
	id, ok := httpapi.PathUUID(w, r, "id")
	if !ok {
		return
	}
	session, err := h.orchestrator.Finalize(r.Context(), id)
	if err != nil {
		httpapi.WriteError(w, r, err, "failed to finalize chat")
		return
	}
	httpapi.WriteJSON(w, http.StatusAccepted, map[string]interface{}{"session": session, "state": StateReadyToFinalize})
}
