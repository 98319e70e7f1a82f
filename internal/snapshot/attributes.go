package snapshot

import (
	"strings"
	"unicode/utf8"
)

// Attribute heuristics. These are package variables so callers can tune them
// for a site without forking the extractor.
var (
	// PriorityAttributes are emitted first, in this order.
	PriorityAttributes = []string{
		"id", "name", "type", "href", "aria-label", "data-testid",
		"data-test-id", "placeholder", "value", "role", "title",
	}

	// IgnoredAttributes are never emitted from the remaining-attribute scan.
	IgnoredAttributes = map[string]bool{
		"style": true, "class": true,
		// Framework internals.
		"jsaction": true, "jscontroller": true, "jsname": true, "jsmodel": true, "jslog": true,
		"ng-version": true, "data-reactid": true, "data-reactroot": true, "nonce": true,
		// ARIA state.
		"aria-hidden": true, "aria-expanded": true, "aria-selected": true, "aria-checked": true,
		"aria-pressed": true, "aria-busy": true, "aria-live": true, "aria-atomic": true,
		"aria-relevant": true, "aria-disabled": true, "aria-invalid": true, "aria-current": true,
		"aria-controls": true, "aria-owns": true, "aria-describedby": true, "aria-labelledby": true,
		"aria-activedescendant": true, "aria-haspopup": true,
	}

	// IgnoredAttributePrefixes drops whole attribute families by name.
	IgnoredAttributePrefixes = []string{"data-", "js", "_ng", "ng-", "v-", ":", "@", "on"}

	// TemplateMarkers identify unrendered template bindings.
	TemplateMarkers = []string{"{{", "${", "[["}

	// NoiseValues are attribute values that carry no information.
	NoiseValues = map[string]bool{"undefined": true, "null": true, "none": true, "#": true, "javascript:void(0)": true, "javascript:;": true}
)

const (
	maxAttributes  = 14
	maxHrefLength  = 100
	maxValueLength = 50
	maxTextLength  = 40
)

// isNoise reports whether a value should never be emitted.
func isNoise(v string) bool {
	t := strings.TrimSpace(v)
	if t == "" {
		return true
	}
	if NoiseValues[strings.ToLower(t)] {
		return true
	}
	return hasTemplateMarker(t)
}

func hasTemplateMarker(v string) bool {
	for _, m := range TemplateMarkers {
		if strings.HasPrefix(v, m) {
			return true
		}
	}
	return false
}

func isIgnoredName(name string) bool {
	name = strings.ToLower(name)
	if IgnoredAttributes[name] {
		return true
	}
	for _, p := range IgnoredAttributePrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func isPriority(name string) bool {
	for _, p := range PriorityAttributes {
		if p == name {
			return true
		}
	}
	return false
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

var quoteEscaper = strings.NewReplacer(`"`, "&quot;", `'`, "&#39;")

// escapeQuotes makes a value safe inside a double-quoted attribute.
func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// collapseText trims and collapses runs of whitespace into single spaces.
func collapseText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
