package report

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/pretriage/pkg/httpapi"
)

type RetrievalPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

type Handler struct {
	retriever *Retriever
	generator ReportGenerator
	policy    RetrievalPolicy
}

func NewHandler(retriever *Retriever, generator ReportGenerator, policy RetrievalPolicy) *Handler {
	return &Handler{retriever: retriever, generator: generator, policy: policy}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/sessions/{id}/report", h.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}/report/generate", h.handleGenerate).Methods(http.MethodPost)
}

// handleGet answers 200 with the report, 202 while it is still being
// produced, and 422 when generation failed.
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := httpapi.PathUUID(w, r, "id")
	if !ok {
		return
	}
	outcome, err := h.retriever.GetOrGenerate(r.Context(), id, h.policy.MaxRetries, h.policy.BaseDelay)
	if err != nil {
		httpapi.WriteError(w, r, err, "failed to load report")
		return
	}
	switch outcome.Kind {
	case OutcomeFound:
		httpapi.WriteJSON(w, http.StatusOK, outcome)
	case OutcomePending:
		httpapi.WriteJSON(w, http.StatusAccepted, outcome)
	default:
		httpapi.WriteJSON(w, http.StatusUnprocessableEntity, outcome)
	}
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	id, ok := httpapi.PathUUID(w, r, "id")
	if !ok {
		return
	}
	report, err := h.generator.Generate(r.Context(), id)
	if err != nil {
		httpapi.WriteError(w, r, err, "failed to generate report")
		return
	}
	httpapi.WriteJSON(w, http.StatusCreated, report)
}
