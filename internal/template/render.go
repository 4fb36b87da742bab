// Package template renders message templates by single-pass literal
// substitution of {name} tokens. No recursion, no conditionals: a value
// containing braces is left as-is in the output.
package template

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{([a-z_]+)\}`)

// MissingPlaceholderError names the first {token} in the template that had
// no matching field.
type MissingPlaceholderError struct {
	Name string
}

func (e *MissingPlaceholderError) Error() string {
	return fmt.Sprintf("missing placeholder {%s}", e.Name)
}

// Render substitutes every {name} token in content with fields[name].
// A token without a matching field is a hard failure; extra fields the
// template never references are ignored. Rendering is idempotent for a
// given content+fields pair.
func Render(content string, fields map[string]string) (string, error) {
	matches := placeholderRe.FindAllStringSubmatchIndex(content, -1)
	if len(matches) == 0 {
		return content, nil
	}

	var b strings.Builder
	b.Grow(len(content))

	last := 0
	for _, m := range matches {
		name := content[m[2]:m[3]]
		value, ok := fields[name]
		if !ok {
			return "", &MissingPlaceholderError{Name: name}
		}

		b.WriteString(content[last:m[0]])
		b.WriteString(value)
		last = m[1]
	}
	b.WriteString(content[last:])

	return b.String(), nil
}

// Placeholders lists the distinct token names referenced by content, in
// order of first appearance.
func Placeholders(content string) []string {
	var names []string
	seen := make(map[string]struct{})

	for _, m := range placeholderRe.FindAllStringSubmatch(content, -1) {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		names = append(names, m[1])
	}

	return names
}
