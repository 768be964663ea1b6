package dlp

import (
	"regexp"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/pretriage/pkg/common/logger"
	"github.com/synaptica-ai/pretriage/pkg/common/models"
	"github.com/synaptica-ai/pretriage/pkg/observability/metrics"
)

type compiledRule struct {
	rule Rule
	re   *regexp.Regexp
}

// Detector masks direct identifiers in text bound for the reasoning model or
// the event bus.
type Detector struct {
	rules []compiledRule
}

func NewDetector(cfg RulesConfig) (*Detector, error) {
	var compiled []compiledRule
	for _, rule := range cfg.Rules {
		if !rule.Enabled {
			continue
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, compiledRule{rule: rule, re: re})
	}
	return &Detector{rules: compiled}, nil
}

// DetectText lists identifier matches without altering text.
func (d *Detector) DetectText(text string) models.PHIDetectionResult {
	if d == nil || text == "" {
		return models.PHIDetectionResult{}
	}
	var positions []models.PHIPosition
	types := make(map[string]struct{})
	for _, rule := range d.rules {
		for _, match := range rule.re.FindAllStringIndex(text, -1) {
			types[rule.rule.Type] = struct{}{}
			positions = append(positions, models.PHIPosition{
				Start: match[0],
				End:   match[1],
				Type:  rule.rule.Type,
				Value: text[match[0]:match[1]],
			})
		}
	}
	typeList := make([]string, 0, len(types))
	for t := range types {
		typeList = append(typeList, t)
	}
	sort.Strings(typeList)
	return models.PHIDetectionResult{
		Detected:   len(positions) > 0,
		Confidence: confidenceScore(len(positions)),
		PHITypes:   typeList,
		Positions:  positions,
	}
}

// SanitizeText applies every rule in order. Safe on a nil detector.
func (d *Detector) SanitizeText(text string) string {
	if d == nil || text == "" {
		return text
	}
	masked := text
	replaced := 0
	for _, rule := range d.rules {
		masked = rule.re.ReplaceAllStringFunc(masked, func(string) string {
			replaced++
			return rule.rule.Mask
		})
	}
	if replaced > 0 {
		logger.Log.WithField("redactions", replaced).Debug("identifiers masked in outbound text")
	}
	return masked
}

// RedactOutbound masks text bound for the reasoning model and records which
// identifier types it carried. Matched values are never logged.
func (d *Detector) RedactOutbound(text string) string {
	result := d.DetectText(text)
	if !result.Detected {
		return text
	}
	metrics.IncOutboundRedactions()
	logger.Log.WithFields(logrus.Fields{
		"phi_types":  result.PHITypes,
		"matches":    len(result.Positions),
		"confidence": result.Confidence,
	}).Info("identifiers masked before model call")
	return d.SanitizeText(text)
}

// Sanitize masks string leaves of an event payload.
func (d *Detector) Sanitize(data map[string]interface{}) map[string]interface{} {
	if d == nil {
		return data
	}
	out := make(map[string]interface{}, len(data))
	for key, value := range data {
		out[key] = d.sanitizeValue(value)
	}
	return out
}

func (d *Detector) sanitizeValue(value interface{}) interface{} {
	switch v := value.(type) {
	case string:
		return d.SanitizeText(v)
	case map[string]interface{}:
		return d.Sanitize(v)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, nested := range v {
			out[i] = d.sanitizeValue(nested)
		}
		return out
	case []string:
		out := make([]string, len(v))
		for i, nested := range v {
			out[i] = d.SanitizeText(nested)
		}
		return out
	default:
		return value
	}
}

func confidenceScore(count int) float64 {
	switch {
	case count == 0:
		return 0
	case count == 1:
		return 0.7
	case count == 2:
		return 0.85
	default:
		return 0.95
	}
}
