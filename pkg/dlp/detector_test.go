package dlp

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synaptica-ai/pretriage/pkg/observability/metrics"
)

func TestSanitizeTextMasksIdentifiersOnly(t *testing.T) {
	detector, err := NewDetector(DefaultRules())
	require.NoError(t, err)

	in := "Toux depuis 5 jours, CRP 45 mg/L. Contact: marie.dupont@example.fr, 06 12 34 56 78, NIR 2 84 12 75 123 456 78"
	out := detector.SanitizeText(in)

	assert.Contains(t, out, "Toux depuis 5 jours, CRP 45 mg/L.")
	assert.Contains(t, out, "[EMAIL]")
	assert.Contains(t, out, "[PHONE]")
	assert.Contains(t, out, "[NIR]")
	assert.NotContains(t, out, "marie.dupont")
	assert.NotContains(t, out, "06 12 34 56 78")
}

func TestDetectTextReportsTypes(t *testing.T) {
	detector, err := NewDetector(DefaultRules())
	require.NoError(t, err)

	result := detector.DetectText("SSN 123-45-6789 email john@example.com")
	assert.True(t, result.Detected)
	assert.Equal(t, []string{"email", "ssn"}, result.PHITypes)
	assert.False(t, detector.DetectText("fièvre légère").Detected)
}

func TestRedactOutboundCountsMaskedText(t *testing.T) {
	detector, err := NewDetector(DefaultRules())
	require.NoError(t, err)

	before := metrics.OutboundRedactions()
	assert.Equal(t, "fièvre depuis hier", detector.RedactOutbound("fièvre depuis hier"))
	assert.Equal(t, before, metrics.OutboundRedactions())

	out := detector.RedactOutbound("Rappeler au 06 12 34 56 78 ou jean@example.com")
	assert.Equal(t, "Rappeler au [PHONE] ou [EMAIL]", out)
	assert.Equal(t, before+1, metrics.OutboundRedactions())
}

func TestSanitizeNestedPayload(t *testing.T) {
	detector, err := NewDetector(DefaultRules())
	require.NoError(t, err)

	out := detector.Sanitize(map[string]interface{}{
		"title":  "report ready",
		"nested": map[string]interface{}{"phone": "(555) 123-4567"},
		"count":  3,
	})
	assert.Equal(t, "report ready", out["title"])
	assert.Equal(t, "[PHONE]", out["nested"].(map[string]interface{})["phone"])
	assert.Equal(t, 3, out["count"])
}

func TestNilDetectorIsPassThrough(t *testing.T) {
	var detector *Detector
	assert.Equal(t, "a@b.co", detector.SanitizeText("a@b.co"))
}

func TestLoadRulesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - name: MRN\n    type: mrn\n    pattern: 'MRN-\\d+'\n    mask: '[MRN]'\n    enabled: true\n"), 0o600))

	cfg, err := LoadRules(path)
	require.NoError(t, err)
	detector, err := NewDetector(cfg)
	require.NoError(t, err)
	assert.Equal(t, "dossier [MRN]", detector.SanitizeText("dossier MRN-4411"))

	cfg, err = LoadRules(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
	assert.NotEmpty(t, cfg.Rules)
}
