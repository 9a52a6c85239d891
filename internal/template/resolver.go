package template

import (
	"regexp"
	"strings"

	"github.com/unclebandit/wacampaign-backend/internal/model"
)

// Placeholders use the form @{fieldName}. Resolution checks the well-known
// contact fields first, then the recipient's custom fields by exact,
// case-sensitive key. Unmatched placeholders stay verbatim so partially
// configured templates keep working.
var placeholderPattern = regexp.MustCompile(`@\{([^{}]+)\}`)

// Resolve substitutes the recipient's fields into body. It is pure and
// idempotent: re-resolving output that contains no further placeholders is
// a no-op. Media and document references are never templated.
func Resolve(body string, r model.Recipient) string {
	return placeholderPattern.ReplaceAllStringFunc(body, func(match string) string {
		key := match[2 : len(match)-1]
		if v, ok := wellKnown(key, r); ok {
			return v
		}
		if v, ok := r.CustomFields[key]; ok {
			return v
		}
		return match
	})
}

func wellKnown(key string, r model.Recipient) (string, bool) {
	switch key {
	case "name":
		full := strings.TrimSpace(r.DisplayFields[model.FieldFirstName] + " " + r.DisplayFields[model.FieldLastName])
		if full == "" {
			return "", false
		}
		return full, true
	case "firstName", "first_name":
		return lookup(r.DisplayFields, model.FieldFirstName)
	case "lastName", "last_name":
		return lookup(r.DisplayFields, model.FieldLastName)
	case "company":
		return lookup(r.DisplayFields, model.FieldCompany)
	case "phone":
		return lookup(r.DisplayFields, model.FieldPhone)
	}
	return "", false
}

func lookup(fields map[string]string, key string) (string, bool) {
	v, ok := fields[key]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// HasPlaceholders reports whether body still contains unresolved
// placeholder syntax.
func HasPlaceholders(body string) bool {
	return placeholderPattern.MatchString(body)
}
