package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/pretriage/pkg/common/models"
	"github.com/synaptica-ai/pretriage/pkg/observability/metrics"
)

type modelHypothesis struct {
	DiseaseName string   `json:"disease_name"`
	Confidence  float64  `json:"confidence"`
	Severity    string   `json:"severity"`
	Keywords    []string `json:"keywords"`
	Explanation string   `json:"explanation"`
	IsPrimary   bool     `json:"is_primary"`
	IsExcluded  bool     `json:"is_excluded"`
}

type modelReport struct {
	OverallSeverity            string                 `json:"overall_severity"`
	OverallConfidence          float64                `json:"overall_confidence"`
	Summary                    string                 `json:"summary"`
	PrimaryDiagnosis           string                 `json:"primary_diagnosis"`
	PrimaryDiagnosisConfidence float64                `json:"primary_diagnosis_confidence"`
	RecommendationAction       string                 `json:"recommendation_action"`
	RecommendationText         string                 `json:"recommendation_text"`
	Explainability             map[string]interface{} `json:"explainability_data"`
	Hypotheses                 []modelHypothesis      `json:"diagnostic_hypotheses"`
}

// parseReport decodes the model output into a report. Severities are coerced
// onto the closed set; confidences are kept as returned.
func parseReport(raw string, log *logrus.Entry) (models.AIReport, error) {
	body := stripFences(raw)
	if body == "" {
		return models.AIReport{}, errors.New("model returned an empty report")
	}
	var parsed modelReport
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return models.AIReport{}, fmt.Errorf("model report is not valid JSON: %w", err)
	}
	if strings.TrimSpace(parsed.Summary) == "" && strings.TrimSpace(parsed.PrimaryDiagnosis) == "" {
		return models.AIReport{}, errors.New("model report has neither summary nor primary diagnosis")
	}

	report := models.AIReport{
		OverallSeverity:            coerceSeverity(parsed.OverallSeverity, "overall_severity", log),
		OverallConfidence:          parsed.OverallConfidence,
		Summary:                    strings.TrimSpace(parsed.Summary),
		PrimaryDiagnosis:           strings.TrimSpace(parsed.PrimaryDiagnosis),
		PrimaryDiagnosisConfidence: parsed.PrimaryDiagnosisConfidence,
		RecommendationAction:       strings.TrimSpace(parsed.RecommendationAction),
		RecommendationText:         strings.TrimSpace(parsed.RecommendationText),
		Explainability:             parsed.Explainability,
	}

	primarySeen := false
	for _, h := range parsed.Hypotheses {
		name := strings.TrimSpace(h.DiseaseName)
		if name == "" {
			continue
		}
		isPrimary := h.IsPrimary && !primarySeen
		primarySeen = primarySeen || isPrimary
		report.Hypotheses = append(report.Hypotheses, models.DiagnosticHypothesis{
			DiseaseName: name,
			Confidence:  h.Confidence,
			Severity:    coerceSeverity(h.Severity, "hypothesis_severity", log),
			Keywords:    h.Keywords,
			Explanation: strings.TrimSpace(h.Explanation),
			IsPrimary:   isPrimary,
			IsExcluded:  h.IsExcluded,
		})
	}
	// Exactly one primary when the list is non-empty: the top ranked one.
	if !primarySeen && len(report.Hypotheses) > 0 {
		report.Hypotheses[0].IsPrimary = true
	}
	if report.PrimaryDiagnosis == "" {
		for _, h := range report.Hypotheses {
			if h.IsPrimary {
				report.PrimaryDiagnosis = h.DiseaseName
				report.PrimaryDiagnosisConfidence = h.Confidence
			}
		}
	}
	return report, nil
}

func coerceSeverity(value, field string, log *logrus.Entry) models.Severity {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch models.Severity(normalized) {
	case models.SeverityLow, models.SeverityMedium, models.SeverityHigh:
		return models.Severity(normalized)
	}
	coerced := models.SeverityMedium
	if normalized == "critical" {
		coerced = models.SeverityHigh
	}
	metrics.IncSeverityCoercions()
	log.WithFields(logrus.Fields{"field": field, "received": value, "coerced": coerced}).Warn("severity outside low/medium/high coerced")
	return coerced
}

func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

// ensureEmergencySentence prepends the emergency sentence when a red flag was
// screened and the model left it out. Severity is not touched.
func ensureEmergencySentence(report *models.AIReport, policy Policy, hits []string, log *logrus.Entry) {
	if len(hits) == 0 || strings.Contains(report.RecommendationText, policy.EmergencySentence) {
		return
	}
	log.WithField("red_flags", hits).Warn("emergency sentence missing from recommendation, prepending")
	if report.RecommendationText == "" {
		report.RecommendationText = policy.EmergencySentence
		return
	}
	report.RecommendationText = policy.EmergencySentence + " " + report.RecommendationText
}
