package preanalysis

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/synaptica-ai/pretriage/pkg/common/apperr"
	"github.com/synaptica-ai/pretriage/pkg/common/models"
	"github.com/synaptica-ai/pretriage/pkg/httpapi"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/sessions", h.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}", h.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}/inputs", h.handleUpdateInputs).Methods(http.MethodPatch)
	r.HandleFunc("/sessions/{id}/submit", h.handleSubmit).Methods(http.MethodPost)
	r.HandleFunc("/patients/{id}/profile", h.handlePutProfile).Methods(http.MethodPut)
	r.HandleFunc("/patients/{id}/profile", h.handleGetProfile).Methods(http.MethodGet)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req models.CreatePreAnalysisRequest
	if !httpapi.Decode(w, r, &req) {
		return
	}
	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		http.Error(w, "patient_id must be a uuid", http.StatusBadRequest)
		return
	}
	session, err := h.service.Create(r.Context(), patientID)
	if err != nil {
		httpapi.WriteError(w, r, err, "failed to create session")
		return
	}
	httpapi.WriteJSON(w, http.StatusCreated, map[string]interface{}{"session": session})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := httpapi.PathUUID(w, r, "id")
	if !ok {
		return
	}
	session, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpapi.WriteError(w, r, err, "session not found")
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]interface{}{"session": session})
}

func (h *Handler) handleUpdateInputs(w http.ResponseWriter, r *http.Request) {
	id, ok := httpapi.PathUUID(w, r, "id")
	if !ok {
		return
	}
	var req models.UpdateInputsRequest
	if !httpapi.Decode(w, r, &req) {
		return
	}
	session, err := h.service.UpdateInputs(r.Context(), id, req)
	if err != nil {
		httpapi.WriteError(w, r, err, "failed to update inputs")
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]interface{}{"session": session})
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id, ok := httpapi.PathUUID(w, r, "id")
	if !ok {
		return
	}
	session, err := h.service.Submit(r.Context(), id)
	if err != nil {
		httpapi.WriteError(w, r, err, "failed to submit session")
		return
	}
	httpapi.WriteJSON(w, http.StatusAccepted, map[string]interface{}{"session": session})
}

func (h *Handler) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	patientID, ok := httpapi.PathUUID(w, r, "id")
	if !ok {
		return
	}
	var attributes map[string]interface{}
	if !httpapi.Decode(w, r, &attributes) {
		return
	}
	profile, err := h.service.UpsertProfile(r.Context(), patientID, attributes)
	if err != nil {
		httpapi.WriteError(w, r, err, "failed to save profile")
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]interface{}{"profile": profile})
}

func (h *Handler) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	patientID, ok := httpapi.PathUUID(w, r, "id")
	if !ok {
		return
	}
	profile, err := h.service.GetProfile(r.Context(), patientID)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			httpapi.WriteJSON(w, http.StatusOK, map[string]interface{}{"profile": models.PatientProfile{PatientID: patientID}})
			return
		}
		httpapi.WriteError(w, r, err, "failed to load profile")
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]interface{}{"profile": profile})
}
