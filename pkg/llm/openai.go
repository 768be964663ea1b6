package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/synaptica-ai/pretriage/pkg/common/httpclient"
	"github.com/synaptica-ai/pretriage/pkg/common/logger"
	"github.com/synaptica-ai/pretriage/pkg/observability/metrics"
)

type Config struct {
	APIKey         string
	BaseURL        string
	ChatModel      string
	ReportModel    string
	VisionModel    string
	Timeout        time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	Temperature    float32
	// Redact is applied to every outbound text part. Image parts are sent as is.
	Redact func(string) string
}

// OpenAIModel talks to any OpenAI compatible chat completions endpoint.
type OpenAIModel struct {
	client *openai.Client
	cfg    Config
}

func NewOpenAIModel(cfg Config) *OpenAIModel {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	clientCfg.HTTPClient = httpclient.New(cfg.Timeout)
	if cfg.ChatModel == "" {
		cfg.ChatModel = "gpt-4o-mini"
	}
	if cfg.ReportModel == "" {
		cfg.ReportModel = cfg.ChatModel
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = cfg.ReportModel
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}
	return &OpenAIModel{client: openai.NewClientWithConfig(clientCfg), cfg: cfg}
}

func (m *OpenAIModel) Complete(ctx context.Context, messages []Message, opts Options) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       m.modelFor(opts),
		Messages:    m.toOpenAI(messages),
		Temperature: m.cfg.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	if opts.Temperature != nil {
		req.Temperature = *opts.Temperature
	}
	if opts.JSON {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	var content string
	attempt := 0
	err := httpclient.RetryIf(ctx, m.cfg.MaxRetries+1, m.cfg.RetryBaseDelay, 8*time.Second, IsRetryable, func() error {
		attempt++
		resp, err := m.client.CreateChatCompletion(ctx, req)
		if err != nil {
			classified := classify(err)
			logger.Log.WithError(err).WithFields(map[string]interface{}{
				"mode":    opts.Mode,
				"model":   req.Model,
				"attempt": attempt,
				"kind":    classified.Kind,
			}).Warn("reasoning model call failed")
			return classified
		}
		if len(resp.Choices) == 0 {
			return &Error{Kind: KindUnknown, Err: errors.New("completion returned no choices")}
		}
		content = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		metrics.IncModelErrors()
		if _, ok := err.(*Error); !ok {
			err = &Error{Kind: classifyTransport(err), Err: err}
		}
		return "", err
	}
	return content, nil
}

func (m *OpenAIModel) modelFor(opts Options) string {
	if opts.Model != "" {
		return opts.Model
	}
	switch opts.Mode {
	case ModeReport:
		return m.cfg.ReportModel
	case ModeImageDescription:
		return m.cfg.VisionModel
	default:
		return m.cfg.ChatModel
	}
}

func (m *OpenAIModel) toOpenAI(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		role := string(msg.Role)
		if msg.Role != RoleSystem && msg.Role != RoleUser && msg.Role != RoleAssistant {
			role = openai.ChatMessageRoleUser
		}

		hasImage := false
		for _, p := range msg.Parts {
			if p.ImageURL != "" {
				hasImage = true
				break
			}
		}
		if !hasImage {
			texts := make([]string, 0, len(msg.Parts))
			for _, p := range msg.Parts {
				texts = append(texts, m.redact(p.Text))
			}
			out = append(out, openai.ChatCompletionMessage{Role: role, Content: strings.Join(texts, "\n")})
			continue
		}

		parts := make([]openai.ChatMessagePart, 0, len(msg.Parts))
		for _, p := range msg.Parts {
			if p.ImageURL != "" {
				parts = append(parts, openai.ChatMessagePart{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: p.ImageURL, Detail: openai.ImageURLDetailAuto},
				})
				continue
			}
			parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: m.redact(p.Text)})
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, MultiContent: parts})
	}
	return out
}

func (m *OpenAIModel) redact(text string) string {
	if m.cfg.Redact == nil {
		return text
	}
	return m.cfg.Redact(text)
}

func classify(err error) *Error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &Error{Kind: kindForStatus(apiErr.HTTPStatusCode), Status: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return &Error{Kind: kindForStatus(reqErr.HTTPStatusCode), Status: reqErr.HTTPStatusCode, Err: err}
	}
	return &Error{Kind: classifyTransport(err), Err: err}
}
