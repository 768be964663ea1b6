package preanalysis

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/synaptica-ai/pretriage/pkg/common/apperr"
	"github.com/synaptica-ai/pretriage/pkg/common/models"
)

var allowedRefSchemes = map[string]struct{}{"https": {}, "http": {}, "gs": {}}

type Validator struct {
	maxImages    int
	maxDocuments int
	maxText      int
}

func NewValidator(maxImages, maxDocuments, maxText int) *Validator {
	return &Validator{maxImages: maxImages, maxDocuments: maxDocuments, maxText: maxText}
}

// Normalize validates an inputs update and trims its values in place.
func (v *Validator) Normalize(req *models.UpdateInputsRequest) error {
	const op = "preanalysis.validate_inputs"
	if req.TextInput != nil {
		trimmed := strings.TrimSpace(*req.TextInput)
		if v.maxText > 0 && len(trimmed) > v.maxText {
			return apperr.Newf(apperr.KindValidation, op, "", "text input exceeds %d characters", v.maxText)
		}
		req.TextInput = &trimmed
	}
	if req.VoiceTranscripts != nil {
		req.VoiceTranscripts = compact(req.VoiceTranscripts)
	}
	if req.SelectedTags != nil {
		req.SelectedTags = compact(req.SelectedTags)
	}
	if req.ImageRefs != nil {
		refs, err := refList("image", req.ImageRefs, v.maxImages)
		if err != nil {
			return apperr.New(apperr.KindValidation, op, "", err)
		}
		req.ImageRefs = refs
	}
	if req.DocumentRefs != nil {
		refs, err := refList("document", req.DocumentRefs, v.maxDocuments)
		if err != nil {
			return apperr.New(apperr.KindValidation, op, "", err)
		}
		req.DocumentRefs = refs
	}
	return nil
}

func refList(kind string, refs []string, max int) ([]string, error) {
	refs = compact(refs)
	if max > 0 && len(refs) > max {
		return nil, fmt.Errorf("at most %d %s references allowed", max, kind)
	}
	for _, ref := range refs {
		u, err := url.Parse(ref)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid %s reference %q", kind, ref)
		}
		if _, ok := allowedRefSchemes[strings.ToLower(u.Scheme)]; !ok {
			return nil, fmt.Errorf("%s reference %q: scheme %q not supported", kind, ref, u.Scheme)
		}
	}
	return refs, nil
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
