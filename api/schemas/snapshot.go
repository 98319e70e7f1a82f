package schemas

import (
	"strings"
)

// -- Snapshot Schemas --

// Attr is an ordered attribute pair. Order matters for deduplication and for
// the rendered prompt, so snapshots never use maps.
type Attr struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// SnapshotElement is one interactive element of a page.
type SnapshotElement struct {
	Tag   string `json:"tag"`
	Attrs []Attr `json:"attrs"`
}

// AttrString renders the attributes as they appear in prompts. Two elements
// with the same AttrString are duplicates.
func (e SnapshotElement) AttrString() string {
	var b strings.Builder
	for i, a := range e.Attrs {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(a.Name)
		b.WriteString(`="`)
		b.WriteString(a.Value)
		b.WriteByte('"')
	}
	return b.String()
}

// Get returns the first attribute with the given name.
func (e SnapshotElement) Get(name string) (string, bool) {
	for _, a := range e.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// PageSnapshot is an ephemeral description of a page's interactive surface.
type PageSnapshot struct {
	URL      string            `json:"url"`
	Title    string            `json:"title"`
	Elements []SnapshotElement `json:"elements"`
}

// String renders the snapshot for a prompt, one element per line.
func (p *PageSnapshot) String() string {
	if p == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("URL: ")
	b.WriteString(p.URL)
	b.WriteString("\nTitle: ")
	b.WriteString(p.Title)
	b.WriteString("\nElements:\n")
	for _, el := range p.Elements {
		b.WriteByte('<')
		b.WriteString(el.Tag)
		if len(el.Attrs) > 0 {
			b.WriteByte(' ')
			b.WriteString(el.AttrString())
		}
		b.WriteString(">\n")
	}
	return b.String()
}
