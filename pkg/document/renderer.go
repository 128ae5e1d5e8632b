// Package document substitutes named {placeholders} into stored text templates.
//
// A placeholder is an identifier (Unicode letters, digits, underscore, not
// starting with a digit) wrapped in single braces. "{{" and "}}" produce literal
// braces. Any other brace sequence is copied through unchanged.
package document

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// MissingVariableError reports a placeholder that has no value in the variable map.
type MissingVariableError struct {
	Name string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("missing template variable: %s", e.Name)
}

type segment struct {
	literal     string
	placeholder string
}

// Render substitutes every placeholder with its value. The whole render fails
// with *MissingVariableError on the first placeholder absent from vars.
func Render(template string, vars map[string]string) (string, error) {
	var b strings.Builder
	b.Grow(len(template))
	for _, seg := range parse(template) {
		if seg.placeholder == "" {
			b.WriteString(seg.literal)
			continue
		}
		value, ok := vars[seg.placeholder]
		if !ok {
			return "", &MissingVariableError{Name: seg.placeholder}
		}
		b.WriteString(value)
	}
	return b.String(), nil
}

// RenderOrMessage renders the template and, when a variable is missing, returns
// a readable error text in place of the body instead of failing.
func RenderOrMessage(template string, vars map[string]string) string {
	out, err := Render(template, vars)
	if err != nil {
		return fmt.Sprintf("Erro ao renderizar documento: %v", err)
	}
	return out
}

// Placeholders lists the distinct placeholder names in the template, sorted.
func Placeholders(template string) []string {
	seen := make(map[string]struct{})
	for _, seg := range parse(template) {
		if seg.placeholder != "" {
			seen[seg.placeholder] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Unknown returns the placeholders of template that are not in allowed.
func Unknown(template string, allowed []string) []string {
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[a] = struct{}{}
	}
	var unknown []string
	for _, name := range Placeholders(template) {
		if _, ok := set[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

func parse(template string) []segment {
	var (
		segments []segment
		lit      strings.Builder
	)
	flush := func() {
		if lit.Len() > 0 {
			segments = append(segments, segment{literal: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(template); {
		ch := template[i]
		switch {
		case ch == '{' && i+1 < len(template) && template[i+1] == '{':
			lit.WriteByte('{')
			i += 2
		case ch == '}' && i+1 < len(template) && template[i+1] == '}':
			lit.WriteByte('}')
			i += 2
		case ch == '{':
			end := strings.IndexByte(template[i+1:], '}')
			if end < 0 || !isIdentifier(template[i+1:i+1+end]) {
				lit.WriteByte(ch)
				i++
				continue
			}
			flush()
			segments = append(segments, segment{placeholder: template[i+1 : i+1+end]})
			i += end + 2
		default:
			lit.WriteByte(ch)
			i++
		}
	}
	flush()
	return segments
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', unicode.IsLetter(r):
		case unicode.IsDigit(r) && i > 0:
		default:
			return false
		}
	}
	return true
}
