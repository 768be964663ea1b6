package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const okBody = `{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"Depuis quand ?"},"finish_reason":"stop"}]}`

func newTestModel(t *testing.T, handler http.HandlerFunc) (*OpenAIModel, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIModel(Config{
		APIKey:         "test-key",
		BaseURL:        srv.URL + "/v1",
		ChatModel:      "chat-model",
		ReportModel:    "report-model",
		Timeout:        5 * time.Second,
		MaxRetries:     2,
		RetryBaseDelay: time.Millisecond,
		Redact:         func(s string) string { return strings.ReplaceAll(s, "jean@example.com", "[EMAIL]") },
	}), srv
}

func TestCompleteSendsImagesAsParts(t *testing.T) {
	var captured map[string]interface{}
	model, _ := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(okBody))
	})

	out, err := model.Complete(context.Background(), []Message{
		Text(RoleSystem, "You are a triage assistant."),
		WithImages("Contact jean@example.com. What do you see?", []string{"https://cdn.example.com/rash.jpg"}),
	}, Options{Mode: ModeReport, JSON: true})
	require.NoError(t, err)
	assert.Equal(t, "Depuis quand ?", out)

	assert.Equal(t, "report-model", captured["model"])
	format := captured["response_format"].(map[string]interface{})
	assert.Equal(t, "json_object", format["type"])

	messages := captured["messages"].([]interface{})
	require.Len(t, messages, 2)
	parts := messages[1].(map[string]interface{})["content"].([]interface{})
	require.Len(t, parts, 2)
	assert.Equal(t, "Contact [EMAIL]. What do you see?", parts[0].(map[string]interface{})["text"])
	image := parts[1].(map[string]interface{})["image_url"].(map[string]interface{})
	assert.Equal(t, "https://cdn.example.com/rash.jpg", image["url"])
}

func TestCompleteRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	model, _ := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
			return
		}
		_, _ = w.Write([]byte(okBody))
	})

	out, err := model.Complete(context.Background(), []Message{Text(RoleUser, "hi")}, Options{Mode: ModeDialogue})
	require.NoError(t, err)
	assert.Equal(t, "Depuis quand ?", out)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCompleteDoesNotRetryAuthentication(t *testing.T) {
	var calls atomic.Int32
	model, _ := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key","type":"invalid_request_error"}}`))
	})

	_, err := model.Complete(context.Background(), []Message{Text(RoleUser, "hi")}, Options{Mode: ModeOpeningQuestion})
	require.Error(t, err)
	assert.Equal(t, KindAuthentication, KindOf(err))
	assert.False(t, IsRetryable(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestCompleteClassifiesMalformedRequest(t *testing.T) {
	model, _ := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad messages","type":"invalid_request_error"}}`))
	})
	_, err := model.Complete(context.Background(), []Message{Text(RoleUser, "hi")}, Options{})
	assert.Equal(t, KindMalformedRequest, KindOf(err))
}

func TestKindForStatus(t *testing.T) {
	assert.Equal(t, KindAuthentication, kindForStatus(403))
	assert.Equal(t, KindTransient, kindForStatus(429))
	assert.Equal(t, KindTransient, kindForStatus(502))
	assert.Equal(t, KindMalformedRequest, kindForStatus(422))
	assert.Equal(t, KindUnknown, kindForStatus(200))
	assert.Equal(t, KindTransient, classifyTransport(context.DeadlineExceeded))
	assert.Equal(t, KindUnknown, classifyTransport(context.Canceled))
}
