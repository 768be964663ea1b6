package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/synaptica-ai/pretriage/pkg/common/apperr"
	"github.com/synaptica-ai/pretriage/pkg/common/logger"
)

func WriteJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteError maps an apperr kind onto a status code. Internal details are
// logged, never echoed.
func WriteError(w http.ResponseWriter, r *http.Request, err error, message string) {
	status := apperr.HTTPStatus(err)
	entry := logger.Log.WithError(err).WithFields(map[string]interface{}{
		"path":       r.URL.Path,
		"status":     status,
		"request_id": r.Header.Get("X-Request-ID"),
	})
	if status >= http.StatusInternalServerError {
		entry.Error(message)
	} else {
		entry.Warn(message)
	}
	body := map[string]interface{}{"error": message, "kind": apperr.KindOf(err)}
	if status == http.StatusBadRequest || status == http.StatusConflict {
		body["detail"] = err.Error()
	}
	WriteJSON(w, status, body)
}

func Decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func PathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		http.Error(w, "invalid "+name, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}
