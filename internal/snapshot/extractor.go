// Package snapshot turns a live page into a bounded, deduplicated description
// of its interactive elements, suitable for a language-model prompt.
package snapshot

import (
	"context"
	"fmt"
	"html"
	"math"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/browzerlabs/browzer-engine/api/schemas"
	"github.com/browzerlabs/browzer-engine/internal/config"
	"github.com/browzerlabs/browzer-engine/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Scope selects which part of the page is described.
type Scope string

const (
	ScopeCurrent Scope = "current" // Only elements in or near the viewport.
	ScopeFull    Scope = "full"    // Every visible element on the page.
)

// Options narrows a single extraction.
type Options struct {
	Scope           Scope
	TagFilter       []string
	AttributeFilter map[string]string
	MaxElements     int
}

// Extractor reads pages through a browsing surface.
type Extractor struct {
	surface schemas.BrowsingSurface
	cfg     config.SnapshotConfig
	metrics *observability.Metrics
	logger  *zap.Logger
}

// New creates an extractor bound to a surface.
func New(surface schemas.BrowsingSurface, cfg config.SnapshotConfig, metrics *observability.Metrics, logger *zap.Logger) *Extractor {
	return &Extractor{
		surface: surface,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.Named("snapshot"),
	}
}

type rawCandidate struct {
	Tag          string      `json:"tag"`
	X            float64     `json:"x"`
	Y            float64     `json:"y"`
	Width        float64     `json:"width"`
	Height       float64     `json:"height"`
	Display      string      `json:"display"`
	Visibility   string      `json:"visibility"`
	Opacity      float64     `json:"opacity"`
	Disabled     bool        `json:"disabled"`
	AriaDisabled bool        `json:"ariaDisabled"`
	Attrs        [][2]string `json:"attrs"`
	Text         string      `json:"text"`
}

func (c rawCandidate) attr(name string) (string, bool) {
	for _, a := range c.Attrs {
		if a[0] == name {
			return a[1], true
		}
	}
	return "", false
}

type rawPage struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Viewport struct {
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	} `json:"viewport"`
	Candidates []rawCandidate `json:"candidates"`
}

// Extract describes the current page. Failures wrap schemas.ErrExtraction and
// are safe to retry on the next step.
func (e *Extractor) Extract(ctx context.Context, opts Options) (*schemas.PageSnapshot, error) {
	opts = e.withDefaults(opts)

	selector := interactiveSelector
	if len(opts.TagFilter) > 0 {
		selector = strings.Join(opts.TagFilter, ", ")
	}

	raw, err := e.surface.ExecuteScript(ctx, collectScript, []interface{}{selector, e.cfg.MaxCandidates})
	if err != nil {
		e.metrics.Extraction(false)
		return nil, fmt.Errorf("%w: page script failed: %w", schemas.ErrExtraction, err)
	}

	var page *rawPage
	if err := json.Unmarshal(raw, &page); err != nil {
		e.metrics.Extraction(false)
		return nil, fmt.Errorf("%w: malformed page data: %w", schemas.ErrExtraction, err)
	}
	if page == nil {
		e.metrics.Extraction(false)
		return nil, fmt.Errorf("%w: document not ready", schemas.ErrExtraction)
	}

	snap := e.build(page, opts)
	e.metrics.Extraction(true)
	e.logger.Debug("Extracted page snapshot.",
		zap.String("url", snap.URL),
		zap.Int("candidates", len(page.Candidates)),
		zap.Int("elements", len(snap.Elements)))
	return snap, nil
}

func (e *Extractor) withDefaults(opts Options) Options {
	if opts.Scope == "" {
		opts.Scope = Scope(e.cfg.Scope)
	}
	if opts.Scope == "" {
		opts.Scope = ScopeCurrent
	}
	if opts.MaxElements <= 0 {
		opts.MaxElements = e.cfg.MaxElements
	}
	if opts.MaxElements <= 0 {
		opts.MaxElements = 200
	}
	if e.cfg.MaxCandidates <= 0 {
		e.cfg.MaxCandidates = 2000
	}
	if e.cfg.ViewportMargin < 0 {
		e.cfg.ViewportMargin = 0
	}
	return opts
}

// build runs the filtering pipeline over the raw candidates.
func (e *Extractor) build(page *rawPage, opts Options) *schemas.PageSnapshot {
	snap := &schemas.PageSnapshot{
		URL:      page.URL,
		Title:    html.EscapeString(page.Title),
		Elements: make([]schemas.SnapshotElement, 0),
	}
	margin := float64(e.cfg.ViewportMargin)
	seen := make(map[string]struct{})

	for _, c := range page.Candidates {
		if len(snap.Elements) >= opts.MaxElements {
			break
		}
		if !visible(c) {
			continue
		}
		if opts.Scope == ScopeCurrent && !inViewport(c, page.Viewport.Width, page.Viewport.Height, margin) {
			continue
		}
		if !matchesFilter(c, opts.AttributeFilter) {
			continue
		}
		if c.Disabled || c.AriaDisabled {
			continue
		}

		el := schemas.SnapshotElement{Tag: c.Tag, Attrs: buildAttrs(c)}
		key := el.AttrString()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		snap.Elements = append(snap.Elements, el)
	}
	return snap
}

func visible(c rawCandidate) bool {
	return c.Width > 0 && c.Height > 0 &&
		c.Display != "none" &&
		c.Visibility != "hidden" &&
		c.Opacity > 0.1
}

func inViewport(c rawCandidate, vw, vh, margin float64) bool {
	return c.X+c.Width >= -margin &&
		c.Y+c.Height >= -margin &&
		c.X <= vw+margin &&
		c.Y <= vh+margin
}

func matchesFilter(c rawCandidate, filter map[string]string) bool {
	for name, want := range filter {
		got, ok := c.attr(name)
		if !ok || got != want {
			return false
		}
	}
	return true
}

// buildAttrs assembles the bounded attribute record for one element.
func buildAttrs(c rawCandidate) []schemas.Attr {
	attrs := make([]schemas.Attr, 0, maxAttributes)
	attrs = append(attrs,
		schemas.Attr{Name: "x", Value: roundInt(c.X)},
		schemas.Attr{Name: "y", Value: roundInt(c.Y)},
		schemas.Attr{Name: "width", Value: roundInt(c.Width)},
		schemas.Attr{Name: "height", Value: roundInt(c.Height)},
	)

	foundPriority := false
	for _, name := range PriorityAttributes {
		if len(attrs) >= maxAttributes {
			return attrs
		}
		v, ok := c.attr(name)
		if !ok || isNoise(v) {
			continue
		}
		limit := maxValueLength
		if name == "href" {
			limit = maxHrefLength
		}
		attrs = append(attrs, schemas.Attr{Name: name, Value: escapeQuotes(truncate(strings.TrimSpace(v), limit))})
		foundPriority = true
	}

	if !foundPriority {
		if text := collapseText(c.Text); text != "" {
			attrs = append(attrs, schemas.Attr{Name: "text", Value: escapeQuotes(truncate(text, maxTextLength))})
		}
	}

	for _, a := range c.Attrs {
		if len(attrs) >= maxAttributes {
			break
		}
		name, v := a[0], a[1]
		if isPriority(name) || isIgnoredName(name) || isReserved(name) {
			continue
		}
		if strings.TrimSpace(v) == "" || hasTemplateMarker(strings.TrimSpace(v)) || len([]rune(v)) > maxValueLength {
			continue
		}
		attrs = append(attrs, schemas.Attr{Name: name, Value: escapeQuotes(v)})
	}
	return attrs
}

// isReserved guards the synthetic attribute names against page attributes
// that happen to share them.
func isReserved(name string) bool {
	switch name {
	case "x", "y", "width", "height", "text":
		return true
	}
	return false
}

func roundInt(f float64) string {
	return strconv.Itoa(int(math.Round(f)))
}
