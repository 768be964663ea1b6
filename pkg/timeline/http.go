package timeline

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/pretriage/pkg/httpapi"
)

type Handler struct {
	recorder *Recorder
}

func NewHandler(recorder *Recorder) *Handler {
	return &Handler{recorder: recorder}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/patients/{id}/timeline", h.handleList).Methods(http.MethodGet)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	patientID, ok := httpapi.PathUUID(w, r, "id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.recorder.List(r.Context(), patientID, limit)
	if err != nil {
		httpapi.WriteError(w, r, err, "failed to list timeline")
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]interface{}{"items": entries})
}
