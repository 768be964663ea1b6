package medcontext

import "github.com/synaptica-ai/pretriage/pkg/common/models"

// FromSession gathers a session's stored inputs into RawInputs. extracted
// holds document text already produced by the caller.
func FromSession(session models.PreAnalysis, profile RawProfile, turns []RawTurn, extracted []string) RawInputs {
	return RawInputs{
		TextInput:          session.TextInput,
		VoiceTranscripts:   Transcripts(session.VoiceTranscripts),
		Tags:               session.SelectedTags,
		ImageRefs:          session.ImageRefs,
		DocumentRefs:       session.DocumentRefs,
		ExtractedDocuments: extracted,
		ChatTurns:          turns,
		Profile:            profile,
	}
}
