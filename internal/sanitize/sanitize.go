// Package sanitize cleans inbound text fields before any other component
// sees them. All functions are pure.
package sanitize

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	ctrlRe = regexp.MustCompile(`[\x00-\x1f\x7f-\x9f]`)
	tagRe  = regexp.MustCompile(`<[^>]*>`)
)

// ValidationError reports a required field that is missing or empty after
// cleaning.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("campo %q inválido: %s", e.Field, e.Reason)
}

// Clean removes control characters and HTML tags, trims surrounding space
// and caps the result at max runes. max <= 0 means no cap.
func Clean(s string, max int) string {
	s = ctrlRe.ReplaceAllString(s, "")
	s = tagRe.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if max > 0 {
		if runes := []rune(s); len(runes) > max {
			s = string(runes[:max])
		}
	}
	return s
}

// Fields cleans every value of the mapping, keeping the keys.
func Fields(in map[string]string, max int) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = Clean(v, max)
	}
	return out
}

// Required returns a ValidationError when value is empty after trimming.
func Required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Field: field, Reason: "obrigatório e não pode ser vazio"}
	}
	return nil
}
