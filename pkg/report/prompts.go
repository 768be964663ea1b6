package report

import (
	"fmt"
	"strings"
)

const imageDescriptionPrompt = `Describe this patient-submitted medical image objectively in 3 to 5 sentences.
State only what is visible (location, color, size, texture, symmetry). Do not diagnose.
If the image is not medical or is unreadable, say so in one sentence.`

const reportSchema = `{
  "overall_severity": "low" | "medium" | "high",
  "overall_confidence": number 0-100,
  "summary": string,
  "primary_diagnosis": string,
  "primary_diagnosis_confidence": number 0-100,
  "recommendation_action": string,
  "recommendation_text": string,
  "explainability_data": {
    "patient_declared": [string],
    "image_inferred": [string],
    "document_general_knowledge": [string],
    "hypotheses": [string],
    "red_flags": [string]
  },
  "diagnostic_hypotheses": [
    {
      "disease_name": string,
      "confidence": number 0-100,
      "severity": "low" | "medium" | "high",
      "keywords": [string],
      "explanation": string,
      "is_primary": boolean,
      "is_excluded": boolean
    }
  ]
}`

func reportSystemPrompt(policy Policy) string {
	var b strings.Builder
	b.WriteString("You are a medical pre-triage assistant writing a structured report for a clinician and the patient.\n")
	b.WriteString("Return ONE JSON object and nothing else, matching this schema exactly:\n")
	b.WriteString(reportSchema)
	b.WriteString("\n\nRules:\n")
	b.WriteString("- List 3 to 5 diagnostic hypotheses ranked by confidence; flag only the first as is_primary.\n")
	b.WriteString("- overall_severity must be one of low, medium, high.\n")
	b.WriteString("- Never tell the patient they have nothing. Never prescribe a medication with a dose.\n")
	b.WriteString("- Tag every claim in explainability_data by its source: patient_declared, image_inferred, document_general_knowledge (general knowledge applied to a document) or hypotheses.\n")
	b.WriteString("- Do not turn a single non-specific symptom into a confident hypothesis; keep confidence low when evidence is thin.\n")
	fmt.Fprintf(&b, "- If any red-flag category is present (%s), recommendation_text must start with: %q\n",
		strings.Join(policy.categories(), ", "), policy.EmergencySentence)
	b.WriteString("- Write summary and recommendation in the language the patient used.\n")
	return b.String()
}
