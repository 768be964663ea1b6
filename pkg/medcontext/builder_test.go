package medcontext

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exampleInputs() RawInputs {
	return RawInputs{
		TextInput:          "  Toux sèche depuis 5 jours ",
		Tags:               []string{"fièvre légère"},
		DocumentRefs:       []string{"https://files.example.com/labs.pdf"},
		ExtractedDocuments: []string{"Document 1 (labs.pdf):\nCRP 45 mg/L"},
		ChatTurns: []RawTurn{
			{SenderType: "patient", MessageText: "Oui, j'ai de la fièvre"},
			{SenderType: "ai", MessageText: "Depuis quand ?"},
		},
	}
}

func TestBuildExampleScenarioOrder(t *testing.T) {
	block := Build(exampleInputs()).CombinedText

	wants := []string{
		"Toux sèche depuis 5 jours",
		"fièvre légère",
		"CRP 45 mg/L",
		"[PATIENT] : Oui, j'ai de la fièvre",
	}
	last := -1
	for _, want := range wants {
		idx := strings.Index(block, want)
		require.NotEqual(t, -1, idx, "missing %q in block", want)
		assert.Greater(t, idx, last, "%q out of order", want)
		last = idx
	}
	assert.Contains(t, block, "[ASSISTANT] : Depuis quand ?")
}

func TestBuildIsDeterministic(t *testing.T) {
	raw := exampleInputs()
	raw.Profile = RawProfile{"bloodGroup": "O+", "age": 42.0, "allergies": []interface{}{"penicillin"}}
	first := Build(raw)
	second := Build(raw)
	assert.Equal(t, first.CombinedText, second.CombinedText)
}

func TestBuildEmitsEverySectionWhenEmpty(t *testing.T) {
	block := Build(RawInputs{}).CombinedText
	for _, header := range SectionHeaders {
		assert.Contains(t, block, header)
	}

	written := block[strings.Index(block, SectionHeaders[0]):strings.Index(block, SectionHeaders[1])]
	assert.Contains(t, written, noneMarker)
	voice := block[strings.Index(block, SectionHeaders[1]):strings.Index(block, SectionHeaders[2])]
	assert.Contains(t, voice, noneMarker)
	assert.Contains(t, block, "0 image(s) provided.")
}

func TestBuildTreatsBlankTextAsAbsent(t *testing.T) {
	ctx := Build(RawInputs{TextInput: "   ", VoiceTranscripts: Transcripts{"", "  ", "gorge irritée"}})
	assert.False(t, ctx.HasTextSymptoms())
	assert.Equal(t, []string{"gorge irritée"}, ctx.VoiceTranscripts)
}

func TestTranscriptsAcceptStringOrList(t *testing.T) {
	var single RawInputs
	require.NoError(t, json.Unmarshal([]byte(`{"voice_transcripts":"mal de tête"}`), &single))
	assert.Equal(t, Transcripts{"mal de tête"}, single.VoiceTranscripts)

	var list RawInputs
	require.NoError(t, json.Unmarshal([]byte(`{"voice_transcripts":["a","b"]}`), &list))
	assert.Equal(t, Transcripts{"a", "b"}, list.VoiceTranscripts)
}

func TestNormalizeProfileAcceptsBothConventions(t *testing.T) {
	camel := NormalizeProfile(RawProfile{
		"age":            35.0,
		"gender":         "F",
		"bloodGroup":     "A-",
		"allergies":      "pollen, latex",
		"medicalHistory": []interface{}{"asthma"},
	})
	snake := NormalizeProfile(RawProfile{
		"age":             "35",
		"sex":             "F",
		"blood_group":     "A-",
		"allergies":       []interface{}{"pollen", "latex"},
		"medical_history": "asthma",
	})
	assert.Equal(t, camel, snake)
	assert.Equal(t, []string{"pollen", "latex"}, camel.Allergies)
}

func TestProfileLinesOnlyWhenPresent(t *testing.T) {
	block := Build(RawInputs{Profile: RawProfile{"blood_group": "B+"}}).CombinedText
	assert.Contains(t, block, "Blood group: B+")
	assert.NotContains(t, block, "Age:")
	assert.NotContains(t, block, "Allergies:")
}

func TestNormalizeTurnsBothShapes(t *testing.T) {
	turns := NormalizeTurns([]RawTurn{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi"},
		{SenderType: "patient", MessageText: "pain"},
		{SenderType: "system", MessageText: "ignored"},
		{Role: "user", Content: "   "},
	})
	require.Len(t, turns, 3)
	assert.Equal(t, Turn{Role: RoleUser, Content: "hello"}, turns[0])
	assert.Equal(t, Turn{Role: RoleAssistant, Content: "hi"}, turns[1])
	assert.Equal(t, Turn{Role: RoleUser, Content: "pain"}, turns[2])
}

func TestAppendSection(t *testing.T) {
	block := AppendSection("base\n", "Image analyses", "Image 1: redness")
	assert.True(t, strings.HasSuffix(block, "=== IMAGE ANALYSES ===\nImage 1: redness\n"))
	assert.Equal(t, "base\n", AppendSection("base\n", "x", "  "))
}
