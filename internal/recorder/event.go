package recorder

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/browzerlabs/browzer-engine/api/schemas"
)

// RawEvent is what the page listener forwards through the binding.
type RawEvent struct {
	Type      string      `json:"type"`
	Timestamp int64       `json:"timestamp"` // Unix milliseconds.
	URL       string      `json:"url"`
	Element   *RawElement `json:"element,omitempty"`
	Value     string      `json:"value,omitempty"`
	Keys      []string    `json:"keys,omitempty"`
	ScrollX   int         `json:"scrollX,omitempty"`
	ScrollY   int         `json:"scrollY,omitempty"`
	Checked   *bool       `json:"checked,omitempty"`
}

// RawElement is the page-side view of the event target.
type RawElement struct {
	Tag        string            `json:"tag"`
	Role       string            `json:"role,omitempty"`
	Name       string            `json:"name,omitempty"`
	Value      string            `json:"value,omitempty"`
	Selector   string            `json:"selector,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

const (
	maxDescriptorText = 200
	maxAttrValue      = 100
)

func (r *Recorder) buildAction(ev RawEvent) (schemas.RecordedAction, bool) {
	t := schemas.ActionType(ev.Type)
	if !t.Valid() {
		return schemas.RecordedAction{}, false
	}
	ts := r.now()
	if ev.Timestamp > 0 {
		ts = time.UnixMilli(ev.Timestamp)
	}

	action := schemas.RecordedAction{
		Type:      t,
		Timestamp: ts,
		PageURL:   ev.URL,
		Value:     ev.Value,
		ScrollX:   ev.ScrollX,
		ScrollY:   ev.ScrollY,
		Checked:   ev.Checked,
	}
	if len(ev.Keys) > 0 {
		action.Keys = append([]string(nil), ev.Keys...)
	}
	if ev.Element != nil {
		action.Element = r.describe(ev.Element)
	}
	return action, true
}

// describe builds a bounded descriptor. Attribute names are kept in sorted
// order so the same element always keeps the same subset.
func (r *Recorder) describe(el *RawElement) *schemas.ElementDescriptor {
	d := &schemas.ElementDescriptor{
		Tag:      strings.ToLower(el.Tag),
		Role:     strings.ToLower(strings.TrimSpace(el.Role)),
		Name:     clip(strings.Join(strings.Fields(el.Name), " "), maxDescriptorText),
		Value:    clip(el.Value, maxDescriptorText),
		Selector: el.Selector,
	}
	if len(el.Attributes) == 0 {
		return d
	}

	names := make([]string, 0, len(el.Attributes))
	for name := range el.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)

	d.Attributes = make(map[string]string, min(len(names), r.cfg.MaxAttributes))
	for _, name := range names {
		if len(d.Attributes) >= r.cfg.MaxAttributes {
			break
		}
		if name == "style" || name == "class" {
			continue
		}
		d.Attributes[name] = clip(el.Attributes[name], maxAttrValue)
	}
	return d
}

func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
