package extract

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// Severity values as stored and displayed.
const (
	SeverityHigh   = "高"
	SeverityMedium = "中"
	SeverityLow    = "低"
)

// Issue is one legal risk reported by the model.
type Issue struct {
	Category     string `json:"category" validate:"required"`
	Severity     string `json:"severity" validate:"required,oneof=高 中 低"`
	LocationHint string `json:"location_hint"`
	OriginalText string `json:"original_text"`
	Problem      string `json:"problem" validate:"required"`
	Suggestion   string `json:"suggestion"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

var severityAliases = map[string]string{
	"high":   SeverityHigh,
	"medium": SeverityMedium,
	"med":    SeverityMedium,
	"low":    SeverityLow,
	"高":      SeverityHigh,
	"中":      SeverityMedium,
	"低":      SeverityLow,
}

// NormalizeSeverity maps English and suffixed forms ("High", "高风险") to
// 高/中/低. Unrecognized values are returned trimmed and fail validation.
func NormalizeSeverity(s string) string {
	s = strings.TrimSpace(s)
	key := strings.TrimSuffix(strings.ToLower(s), "风险")
	key = strings.TrimSuffix(key, " risk")
	if v, ok := severityAliases[key]; ok {
		return v
	}
	return s
}

// ValidateIssue normalizes the severity and trims the text fields, then
// checks the struct tags. The issue is modified in place.
func ValidateIssue(is *Issue) error {
	is.Category = strings.TrimSpace(is.Category)
	is.Severity = NormalizeSeverity(is.Severity)
	is.Problem = strings.TrimSpace(is.Problem)
	is.Suggestion = strings.TrimSpace(is.Suggestion)
	return validate.Struct(is)
}

// CountSeverities tallies issues by severity. Anything not 高 or 中 counts
// as 低.
func CountSeverities(issues []Issue) (high, medium, low int) {
	for _, is := range issues {
		switch is.Severity {
		case SeverityHigh:
			high++
		case SeverityMedium:
			medium++
		default:
			low++
		}
	}
	return high, medium, low
}
