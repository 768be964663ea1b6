package medcontext

import (
	"fmt"
	"strconv"
	"strings"
)

// NormalizeTurns maps both record shapes onto Turn. Records with an unknown
// role or blank content are dropped.
func NormalizeTurns(raw []RawTurn) []Turn {
	turns := make([]Turn, 0, len(raw))
	for _, r := range raw {
		role := r.Role
		if role == "" {
			role = r.SenderType
		}
		content := r.Content
		if content == "" {
			content = r.MessageText
		}
		content = strings.TrimSpace(content)
		if content == "" {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(role)) {
		case "user", "patient":
			turns = append(turns, Turn{Role: RoleUser, Content: content})
		case "assistant", "ai":
			turns = append(turns, Turn{Role: RoleAssistant, Content: content})
		}
	}
	return turns
}

var profileKeys = map[string][]string{
	"age":             {"age"},
	"gender":          {"gender", "sex"},
	"blood_group":     {"bloodGroup", "blood_group", "bloodType", "blood_type"},
	"allergies":       {"allergies"},
	"medical_history": {"medicalHistory", "medical_history"},
}

// NormalizeProfile accepts camelCase or snake_case keys for the same fields.
func NormalizeProfile(raw RawProfile) Profile {
	if len(raw) == 0 {
		return Profile{}
	}
	return Profile{
		Age:            scalarString(lookup(raw, profileKeys["age"])),
		Gender:         scalarString(lookup(raw, profileKeys["gender"])),
		BloodGroup:     scalarString(lookup(raw, profileKeys["blood_group"])),
		Allergies:      stringList(lookup(raw, profileKeys["allergies"])),
		MedicalHistory: stringList(lookup(raw, profileKeys["medical_history"])),
	}
}

func lookup(raw RawProfile, keys []string) interface{} {
	for _, key := range keys {
		if v, ok := raw[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

func scalarString(v interface{}) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(value)
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case int:
		return strconv.Itoa(value)
	case int64:
		return strconv.FormatInt(value, 10)
	default:
		return strings.TrimSpace(fmt.Sprint(value))
	}
}

// stringList accepts a list or a comma separated string.
func stringList(v interface{}) []string {
	var parts []string
	switch value := v.(type) {
	case nil:
		return nil
	case string:
		parts = strings.Split(value, ",")
	case []string:
		parts = value
	case []interface{}:
		for _, item := range value {
			parts = append(parts, scalarString(item))
		}
	default:
		parts = []string{scalarString(value)}
	}
	return nonBlank(parts)
}

func nonBlank(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
