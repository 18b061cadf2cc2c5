package vocabulary

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// entry describes one canonical value's recognised free-form synonyms.
type entry struct {
	Keywords []string
}

// templateVariant is one named slot-template string, e.g. "full" or "minimal".
type templateVariant struct {
	Name         string
	Format       string
	Placeholders []string
}

// Registry is the process-wide, immutable canonical vocabulary: the closed
// enumerations of spec.md §3 plus the keyword table and template strings of
// spec.md §4.1. Build one with Load or New and thread it through the
// encoder/canonicaliser call chain explicitly; never reach for a package
// global from inside the hot enforcement path.
type Registry struct {
	version  string
	keywords map[Slot]map[string]string // lowercase token -> canonical value, per inference slot
	// action/resource keyword tables double as the tool-name inference tables
	actionKeywords   map[string]string
	resourceKeywords map[string]string
	templates        map[Slot][]templateVariant
}

var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z_]+)\}`)

// DefaultKeywordAction is the conservative fallback returned by
// InferActionFromToolName when no keyword matches (spec.md §4.1).
const DefaultKeywordAction = ActionExecute

// DefaultKeywordResourceType is the conservative fallback returned by
// InferResourceTypeFromToolName when no keyword matches.
const DefaultKeywordResourceType = ResourceAPI

// New builds a Registry from parsed file contents. Intended to be called
// once, from the loader, at process start.
func New(file *File) (*Registry, error) {
	if file == nil {
		return nil, fmt.Errorf("vocabulary: nil file")
	}

	r := &Registry{
		version:          file.Version,
		actionKeywords:   map[string]string{},
		resourceKeywords: map[string]string{},
		templates:        map[Slot][]templateVariant{},
	}

	for canonical, e := range file.Vocabulary.Actions {
		if !IsValidAction(canonical) {
			return nil, &ErrUnknownValue{Set: "action", Value: canonical}
		}
		for _, kw := range e.Keywords {
			r.actionKeywords[strings.ToLower(kw)] = canonical
		}
	}
	for canonical, e := range file.Vocabulary.ResourceTypes {
		if !IsValidResourceType(canonical) {
			return nil, &ErrUnknownValue{Set: "resource_type", Value: canonical}
		}
		for _, kw := range e.Keywords {
			r.resourceKeywords[strings.ToLower(kw)] = canonical
		}
	}

	for slot, variants := range file.Templates {
		s := Slot(slot)
		list := make([]templateVariant, 0, len(variants))
		for name, format := range variants {
			list = append(list, templateVariant{
				Name:         name,
				Format:       format,
				Placeholders: extractPlaceholders(format),
			})
		}
		// Most-specific (most placeholders) first; stable tie-break by name
		// so template selection is deterministic across process restarts.
		sort.SliceStable(list, func(i, j int) bool {
			if len(list[i].Placeholders) != len(list[j].Placeholders) {
				return len(list[i].Placeholders) > len(list[j].Placeholders)
			}
			return list[i].Name < list[j].Name
		})
		r.templates[s] = list
	}

	return r, nil
}

func extractPlaceholders(format string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(format, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

// InferActionFromToolName splits name on '_'/'-', lowercases each token, and
// returns the canonical action of the first keyword hit. Falls back to
// "execute" (conservative default) when nothing matches.
func (r *Registry) InferActionFromToolName(name string) string {
	for _, token := range splitToolName(name) {
		if action, ok := r.actionKeywords[token]; ok {
			return action
		}
	}
	return DefaultKeywordAction
}

// InferResourceTypeFromToolName substring-matches tokens of name against the
// resource-type keyword table: per token, an exact keyword hit wins, else the
// first keyword (in sorted order) contained in the token. Falls back to "api".
func (r *Registry) InferResourceTypeFromToolName(name string) string {
	keywords := make([]string, 0, len(r.resourceKeywords))
	for kw := range r.resourceKeywords {
		keywords = append(keywords, kw)
	}
	sort.Strings(keywords)
	for _, token := range splitToolName(name) {
		if rtype, ok := r.resourceKeywords[token]; ok {
			return rtype
		}
		for _, kw := range keywords {
			if strings.Contains(token, kw) {
				return r.resourceKeywords[kw]
			}
		}
	}
	return DefaultKeywordResourceType
}

func splitToolName(name string) []string {
	lower := strings.ToLower(name)
	return strings.FieldsFunc(lower, func(r rune) bool {
		return r == '_' || r == '-' || r == '.' || r == ' '
	})
}

// AssembleAnchor picks the narrowest template variant whose placeholders are
// all present in fields, formats it, and returns the canonical slot-text.
// Field order in the output is fixed by the template, never by the caller's
// map iteration order.
func (r *Registry) AssembleAnchor(slot Slot, fields map[string]any) (string, error) {
	variants, ok := r.templates[slot]
	if !ok || len(variants) == 0 {
		return "", fmt.Errorf("vocabulary: no templates registered for slot %q", slot)
	}

	for _, v := range variants {
		if allPresent(v.Placeholders, fields) {
			return format(v.Format, fields), nil
		}
	}
	return "", fmt.Errorf("vocabulary: no template for slot %q matches fields %v", slot, fieldKeys(fields))
}

func allPresent(placeholders []string, fields map[string]any) bool {
	for _, p := range placeholders {
		if _, ok := fields[p]; !ok {
			return false
		}
	}
	return true
}

func format(tmpl string, fields map[string]any) string {
	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(token string) string {
		name := token[1 : len(token)-1]
		v, ok := fields[name]
		if !ok {
			return token
		}
		return fmt.Sprintf("%v", v)
	})
}

func fieldKeys(fields map[string]any) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Version returns the loaded vocabulary file's declared version.
func (r *Registry) Version() string { return r.version }
