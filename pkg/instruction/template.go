// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package instruction resolves placeholders in agent instructions.
//
// Instructions may reference session state with curly-brace
// placeholders, resolved when the model request is built:
//
//	{variable}       - session state variable
//	{app:variable}   - app-scoped state
//	{user:variable}  - user-scoped state
//	{temp:variable}  - temp-scoped state
//	{variable?}      - optional, resolves to "" when missing
//
// Required placeholders error when the key is missing. Text inside
// braces that is not a valid state name is left untouched, so JSON
// snippets and prose braces survive templating.
package instruction

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/kadirpekel/maestro/pkg/agent"
)

// State key prefixes recognized in placeholders, matching the session
// package's scoping.
const (
	PrefixApp  = "app:"
	PrefixUser = "user:"
	PrefixTemp = "temp:"
)

// placeholderPattern matches a brace-delimited placeholder candidate.
var placeholderPattern = regexp.MustCompile(`{+[^{}]*}+`)

// Template is an instruction with placeholders.
type Template struct {
	raw string
}

// New creates a template from raw instruction text.
func New(raw string) *Template {
	return &Template{raw: raw}
}

// Raw returns the unresolved template text.
func (t *Template) Raw() string { return t.raw }

// Render resolves the template's placeholders against the context's
// session state.
func (t *Template) Render(ctx agent.ReadonlyContext) (string, error) {
	return Resolve(ctx, t.raw)
}

// Resolve substitutes all placeholders in template with values from
// the context's session state.
func Resolve(ctx agent.ReadonlyContext, template string) (string, error) {
	if template == "" {
		return "", nil
	}

	var out strings.Builder
	last := 0
	for _, span := range placeholderPattern.FindAllStringIndex(template, -1) {
		start, end := span[0], span[1]
		out.WriteString(template[last:start])

		replacement, err := resolvePlaceholder(ctx, template[start:end])
		if err != nil {
			return "", err
		}
		out.WriteString(replacement)
		last = end
	}
	out.WriteString(template[last:])
	return out.String(), nil
}

// resolvePlaceholder resolves one matched placeholder, braces included.
func resolvePlaceholder(ctx agent.ReadonlyContext, match string) (string, error) {
	name := strings.TrimSpace(strings.Trim(match, "{}"))

	optional := strings.HasSuffix(name, "?")
	name = strings.TrimSuffix(name, "?")

	if !isStateName(name) {
		// Not a placeholder, keep the literal text.
		return match, nil
	}

	state := ctx.ReadonlyState()
	if state == nil {
		if optional {
			return "", nil
		}
		return "", fmt.Errorf("session state not available for {%s}", name)
	}

	value, err := state.Get(name)
	if err != nil {
		if optional {
			return "", nil
		}
		return "", fmt.Errorf("instruction placeholder {%s}: %w", name, err)
	}
	if value == nil {
		return "", nil
	}
	return fmt.Sprintf("%v", value), nil
}

// HasPlaceholders reports whether template contains placeholder
// candidates.
func HasPlaceholders(template string) bool {
	return placeholderPattern.MatchString(template)
}

// Placeholders returns the distinct placeholder names in template, in
// order of first appearance.
func Placeholders(template string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, match := range placeholderPattern.FindAllString(template, -1) {
		name := strings.TrimSpace(strings.Trim(match, "{}"))
		name = strings.TrimSuffix(name, "?")
		if !isStateName(name) || seen[name] {
			continue
		}
		names = append(names, name)
		seen[name] = true
	}
	return names
}

// isStateName reports whether name is an identifier, optionally
// scoped by a known prefix.
func isStateName(name string) bool {
	prefix, rest, found := strings.Cut(name, ":")
	if !found {
		return isIdentifier(name)
	}
	switch prefix + ":" {
	case PrefixApp, PrefixUser, PrefixTemp:
		return isIdentifier(rest)
	}
	return false
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) {
			continue
		}
		if i > 0 && unicode.IsDigit(r) {
			continue
		}
		return false
	}
	return true
}
