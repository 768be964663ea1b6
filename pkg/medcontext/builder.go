package medcontext

import (
	"fmt"
	"strings"
)

const noneMarker = "None"

// Section headers are emitted in this order for every context, whatever is present.
var SectionHeaders = [7]string{
	"=== 1. WRITTEN SYMPTOMS ===",
	"=== 2. VOICE TRANSCRIPTIONS ===",
	"=== 3. QUICK TAGS ===",
	"=== 4. IMAGING ===",
	"=== 5. DOCUMENTS ===",
	"=== 6. PRECISION CHAT EXCHANGE ===",
	"=== 7. PATIENT PROFILE ===",
}

// Build normalizes raw inputs and renders the combined text block. It does no I/O.
func Build(raw RawInputs) UnifiedMedicalContext {
	ctx := UnifiedMedicalContext{
		TextSymptoms:       strings.TrimSpace(raw.TextInput),
		VoiceTranscripts:   nonBlank(raw.VoiceTranscripts),
		Tags:               nonBlank(raw.Tags),
		ImageRefs:          nonBlank(raw.ImageRefs),
		DocumentRefs:       nonBlank(raw.DocumentRefs),
		ExtractedDocuments: nonBlank(raw.ExtractedDocuments),
		Turns:              NormalizeTurns(raw.ChatTurns),
		Profile:            NormalizeProfile(raw.Profile),
	}
	ctx.CombinedText = render(ctx)
	return ctx
}

func render(c UnifiedMedicalContext) string {
	var b strings.Builder

	b.WriteString(SectionHeaders[0] + "\n")
	if c.HasTextSymptoms() {
		b.WriteString(c.TextSymptoms + "\n")
	} else {
		b.WriteString(noneMarker + "\n")
	}

	b.WriteString("\n" + SectionHeaders[1] + "\n")
	if len(c.VoiceTranscripts) == 0 {
		b.WriteString(noneMarker + "\n")
	}
	for i, t := range c.VoiceTranscripts {
		fmt.Fprintf(&b, "Recording %d: %s\n", i+1, t)
	}

	b.WriteString("\n" + SectionHeaders[2] + "\n")
	if len(c.Tags) > 0 {
		b.WriteString(strings.Join(c.Tags, ", ") + "\n")
	}

	b.WriteString("\n" + SectionHeaders[3] + "\n")
	fmt.Fprintf(&b, "%d image(s) provided.", len(c.ImageRefs))
	if len(c.ImageRefs) > 0 {
		b.WriteString(" Images are attached separately for visual analysis.")
	}
	b.WriteString("\n")

	b.WriteString("\n" + SectionHeaders[4] + "\n")
	fmt.Fprintf(&b, "%d document(s) provided.\n", len(c.DocumentRefs))
	for _, text := range c.ExtractedDocuments {
		b.WriteString(text + "\n")
	}

	b.WriteString("\n" + SectionHeaders[5] + "\n")
	for _, turn := range c.Turns {
		label := "ASSISTANT"
		if turn.Role == RoleUser {
			label = "PATIENT"
		}
		fmt.Fprintf(&b, "[%s] : %s\n", label, turn.Content)
	}

	b.WriteString("\n" + SectionHeaders[6] + "\n")
	p := c.Profile
	if p.Age != "" {
		fmt.Fprintf(&b, "Age: %s\n", p.Age)
	}
	if p.Gender != "" {
		fmt.Fprintf(&b, "Sex: %s\n", p.Gender)
	}
	if p.BloodGroup != "" {
		fmt.Fprintf(&b, "Blood group: %s\n", p.BloodGroup)
	}
	if len(p.Allergies) > 0 {
		fmt.Fprintf(&b, "Allergies: %s\n", strings.Join(p.Allergies, ", "))
	}
	if len(p.MedicalHistory) > 0 {
		fmt.Fprintf(&b, "Medical history: %s\n", strings.Join(p.MedicalHistory, ", "))
	}

	return b.String()
}

// AppendSection adds a labeled block after the fixed sections.
func AppendSection(block, title, body string) string {
	body = strings.TrimSpace(body)
	if body == "" {
		return block
	}
	return block + "\n=== " + strings.ToUpper(title) + " ===\n" + body + "\n"
}
