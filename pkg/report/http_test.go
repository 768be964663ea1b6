package report

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synaptica-ai/pretriage/pkg/common/models"
)

func serveReport(t *testing.T, rf *retrieverFixture, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	router := mux.NewRouter()
	NewHandler(rf.retriever, rf.generator, RetrievalPolicy{MaxRetries: 2, BaseDelay: time.Millisecond}).Register(router)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestReportEndpointStatusCodes(t *testing.T) {
	cases := []struct {
		status models.AIProcessingStatus
		code   int
		kind   OutcomeKind
	}{
		{models.AIStatusPending, http.StatusOK, OutcomeFound},
		{models.AIStatusProcessing, http.StatusAccepted, OutcomePending},
		{models.AIStatusFailed, http.StatusUnprocessableEntity, OutcomeFailed},
	}
	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			rf := newRetrieverFixture(t, tc.status)
			rec := serveReport(t, rf, http.MethodGet, "/sessions/"+uuid.NewString()+"/report")
			assert.Equal(t, tc.code, rec.Code)

			var outcome Outcome
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
			assert.Equal(t, tc.kind, outcome.Kind)
		})
	}
}

func TestGenerateEndpoint(t *testing.T) {
	rf := newRetrieverFixture(t, models.AIStatusPending)
	rec := serveReport(t, rf, http.MethodPost, "/sessions/"+uuid.NewString()+"/report/generate")
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, rf.generator.calls)

	bad := serveReport(t, rf, http.MethodPost, "/sessions/not-a-uuid/report/generate")
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}
