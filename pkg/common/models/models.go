package models

import (
	"time"

	"github.com/google/uuid"
)

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // preanalysis.submitted, report.generated, ...
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// DLP & PHI Detection
type PHIDetectionResult struct {
	Detected   bool          `json:"detected"`
	Confidence float64       `json:"confidence"`
	PHITypes   []string      `json:"phi_types"`
	Positions  []PHIPosition `json:"positions"`
}

type PHIPosition struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Pre-analysis session
type ProcessingStatus string

const (
	StatusDraft     ProcessingStatus = "draft"
	StatusSubmitted ProcessingStatus = "submitted"
	StatusCompleted ProcessingStatus = "completed"
)

type AIProcessingStatus string

const (
	AIStatusPending    AIProcessingStatus = "pending"
	AIStatusProcessing AIProcessingStatus = "processing"
	AIStatusCompleted  AIProcessingStatus = "completed"
	AIStatusFailed     AIProcessingStatus = "failed"
)

type PreAnalysis struct {
	ID                 uuid.UUID          `json:"id"`
	PatientID          uuid.UUID          `json:"patient_id"`
	TextInput          string             `json:"text_input,omitempty"`
	VoiceTranscripts   []string           `json:"voice_transcripts,omitempty"`
	SelectedTags       []string           `json:"selected_tags,omitempty"`
	ImageRefs          []string           `json:"image_refs,omitempty"`
	DocumentRefs       []string           `json:"document_refs,omitempty"`
	Status             ProcessingStatus   `json:"status"`
	AIProcessingStatus AIProcessingStatus `json:"ai_processing_status"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

type CreatePreAnalysisRequest struct {
	PatientID string `json:"patient_id"`
}

// UpdateInputsRequest replaces only the modalities that are non-nil.
type UpdateInputsRequest struct {
	TextInput        *string  `json:"text_input,omitempty"`
	VoiceTranscripts []string `json:"voice_transcripts,omitempty"`
	SelectedTags     []string `json:"selected_tags,omitempty"`
	ImageRefs        []string `json:"image_refs,omitempty"`
	DocumentRefs     []string `json:"document_refs,omitempty"`
}

type PatientProfile struct {
	PatientID  uuid.UUID              `json:"patient_id"`
	Attributes map[string]interface{} `json:"attributes"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// Precision chat
type SenderType string

const (
	SenderAI      SenderType = "ai"
	SenderPatient SenderType = "patient"
)

type ChatTurn struct {
	ID          uuid.UUID  `json:"id"`
	SessionID   uuid.UUID  `json:"session_id"`
	SenderType  SenderType `json:"sender_type"`
	MessageText string     `json:"message_text"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Reports
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type DiagnosticHypothesis struct {
	ID          uuid.UUID `json:"id"`
	ReportID    uuid.UUID `json:"report_id"`
	DiseaseName string    `json:"disease_name"`
	Confidence  float64   `json:"confidence"`
	Severity    Severity  `json:"severity"`
	Keywords    []string  `json:"keywords"`
	Explanation string    `json:"explanation"`
	IsPrimary   bool      `json:"is_primary"`
	IsExcluded  bool      `json:"is_excluded"`
}

type AIReport struct {
	ID                         uuid.UUID              `json:"id"`
	SessionID                  uuid.UUID              `json:"pre_analysis_id"`
	PatientID                  uuid.UUID              `json:"patient_id"`
	OverallSeverity            Severity               `json:"overall_severity"`
	OverallConfidence          float64                `json:"overall_confidence"`
	Summary                    string                 `json:"summary"`
	PrimaryDiagnosis           string                 `json:"primary_diagnosis"`
	PrimaryDiagnosisConfidence float64                `json:"primary_diagnosis_confidence"`
	RecommendationAction       string                 `json:"recommendation_action"`
	RecommendationText         string                 `json:"recommendation_text"`
	Explainability             map[string]interface{} `json:"explainability_data,omitempty"`
	Hypotheses                 []DiagnosticHypothesis `json:"diagnostic_hypotheses"`
	CreatedAt                  time.Time              `json:"created_at"`
	UpdatedAt                  time.Time              `json:"updated_at"`
}

// Timeline
type TimelineEntry struct {
	ID          uuid.UUID              `json:"id"`
	PatientID   uuid.UUID              `json:"patient_id"`
	SessionID   uuid.UUID              `json:"pre_analysis_id"`
	EventType   string                 `json:"event_type"`
	ReferenceID string                 `json:"reference_id"`
	Title       string                 `json:"title"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}
