package medcontext

import (
	"encoding/json"
	"strings"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is the canonical chat record used in prompts.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// RawTurn accepts both {role, content} and {sender_type, message_text}.
type RawTurn struct {
	Role        string `json:"role,omitempty"`
	Content     string `json:"content,omitempty"`
	SenderType  string `json:"sender_type,omitempty"`
	MessageText string `json:"message_text,omitempty"`
}

// Transcripts decodes from either a single JSON string or an array of strings.
type Transcripts []string

func (t *Transcripts) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*t = nil
		return nil
	}
	if strings.HasPrefix(trimmed, "\"") {
		var single string
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		*t = Transcripts{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*t = list
	return nil
}

// RawProfile is the profile object as received from upstream clients.
type RawProfile map[string]interface{}

type Profile struct {
	Age            string   `json:"age,omitempty"`
	Gender         string   `json:"gender,omitempty"`
	BloodGroup     string   `json:"blood_group,omitempty"`
	Allergies      []string `json:"allergies,omitempty"`
	MedicalHistory []string `json:"medical_history,omitempty"`
}

func (p Profile) IsEmpty() bool {
	return p.Age == "" && p.Gender == "" && p.BloodGroup == "" && len(p.Allergies) == 0 && len(p.MedicalHistory) == 0
}

type RawInputs struct {
	TextInput          string      `json:"text_input"`
	VoiceTranscripts   Transcripts `json:"voice_transcripts"`
	Tags               []string    `json:"tags"`
	ImageRefs          []string    `json:"image_refs"`
	DocumentRefs       []string    `json:"document_refs"`
	ExtractedDocuments []string    `json:"extracted_documents"`
	ChatTurns          []RawTurn   `json:"chat_turns"`
	Profile            RawProfile  `json:"profile"`
}

// UnifiedMedicalContext is derived from RawInputs and never persisted.
type UnifiedMedicalContext struct {
	TextSymptoms       string   `json:"text_symptoms,omitempty"`
	VoiceTranscripts   []string `json:"voice_transcripts"`
	Tags               []string `json:"tags"`
	ImageRefs          []string `json:"image_refs"`
	DocumentRefs       []string `json:"document_refs"`
	ExtractedDocuments []string `json:"extracted_documents"`
	Turns              []Turn   `json:"turns"`
	Profile            Profile  `json:"profile"`
	CombinedText       string   `json:"combined_text_block"`
}

func (c UnifiedMedicalContext) HasTextSymptoms() bool {
	return c.TextSymptoms != ""
}
