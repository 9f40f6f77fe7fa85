// internal/service/renderer.go
package service

import (
	"regexp"
)

var placeholderRe = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// RenderTemplate substitutes {field} placeholders with per-recipient merge
// data. Missing or empty fields render as <unknown> so a half-filled contact
// never leaks a raw placeholder.
func RenderTemplate(template string, data map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		key := m[1 : len(m)-1]
		if v, ok := data[key]; ok && v != "" {
			return v
		}
		return "<unknown>"
	})
}
