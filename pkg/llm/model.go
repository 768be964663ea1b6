package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Mode tells the client which kind of request it is serving; it selects the
// default model and is recorded in logs.
type Mode string

const (
	ModeOpeningQuestion  Mode = "opening_question"
	ModeDialogue         Mode = "dialogue"
	ModeReport           Mode = "report"
	ModeImageDescription Mode = "image_description"
)

// Part is one block of a multi-part message: text or an image reference.
type Part struct {
	Text     string
	ImageURL string
}

type Message struct {
	Role  Role
	Parts []Part
}

func Text(role Role, text string) Message {
	return Message{Role: role, Parts: []Part{{Text: text}}}
}

// WithImages returns a user message carrying text followed by one part per image.
func WithImages(text string, imageURLs []string) Message {
	msg := Text(RoleUser, text)
	for _, u := range imageURLs {
		msg.Parts = append(msg.Parts, Part{ImageURL: u})
	}
	return msg
}

type Options struct {
	Mode        Mode
	Model       string
	JSON        bool
	Temperature *float32
	MaxTokens   int
}

// Model is the reasoning model contract: ordered messages in, text out.
type Model interface {
	Complete(ctx context.Context, messages []Message, opts Options) (string, error)
}

type ErrorKind string

const (
	KindAuthentication   ErrorKind = "authentication"
	KindMalformedRequest ErrorKind = "malformed_request"
	KindTransient        ErrorKind = "transient"
	KindUnknown          ErrorKind = "unknown"
)

type Error struct {
	Kind   ErrorKind
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("reasoning model %s error (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("reasoning model %s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Retryable() bool { return e.Kind == KindTransient }

// KindOf returns the kind of a reasoning model error, or KindUnknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable()
}

func kindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuthentication
	case status == http.StatusRequestTimeout || status == http.StatusConflict || status == http.StatusTooManyRequests:
		return KindTransient
	case status >= 500:
		return KindTransient
	case status >= 400:
		return KindMalformedRequest
	}
	return KindUnknown
}

func classifyTransport(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	return KindUnknown
}
