package automation

import (
	"context"
	"fmt"
	"strings"

	"github.com/browzerlabs/browzer-engine/api/schemas"
)

// executeTool runs one decision against the surface and returns a short
// summary for the transcript. Errors wrap schemas.ErrToolExecution.
func executeTool(ctx context.Context, surface schemas.BrowsingSurface, d *Decision) (string, error) {
	if surface == nil {
		return "", fmt.Errorf("%w: no browsing surface attached", schemas.ErrToolExecution)
	}

	var err error
	var summary string
	switch d.Tool {
	case ToolNavigate:
		if strings.TrimSpace(d.URL) == "" {
			return "", missingParam(d.Tool, "url")
		}
		err = surface.Navigate(ctx, d.URL)
		summary = fmt.Sprintf("navigated to %s", d.URL)
	case ToolClick:
		if strings.TrimSpace(d.Selector) == "" {
			return "", missingParam(d.Tool, "selector")
		}
		err = surface.Click(ctx, d.Selector)
		summary = fmt.Sprintf("clicked %s", d.Selector)
	case ToolType:
		if strings.TrimSpace(d.Selector) == "" {
			return "", missingParam(d.Tool, "selector")
		}
		err = surface.Type(ctx, d.Selector, d.Text)
		summary = fmt.Sprintf("typed %q into %s", d.Text, d.Selector)
	case ToolPressKey:
		key := schemas.ParseKeyCombo(d.Keys)
		if key.Key == "" {
			return "", missingParam(d.Tool, "keys")
		}
		err = surface.PressKey(ctx, key)
		summary = fmt.Sprintf("pressed %s", d.Keys)
	case ToolScroll:
		if d.DeltaX == 0 && d.DeltaY == 0 {
			return "", missingParam(d.Tool, "dx or dy")
		}
		err = surface.Scroll(ctx, d.DeltaX, d.DeltaY)
		summary = fmt.Sprintf("scrolled by (%d, %d)", d.DeltaX, d.DeltaY)
	default:
		return "", fmt.Errorf("%w: unknown tool %q", schemas.ErrToolExecution, d.Tool)
	}

	if err != nil {
		return "", fmt.Errorf("%w: %s failed: %v", schemas.ErrToolExecution, d.Tool, err)
	}
	return summary, nil
}

func missingParam(tool, param string) error {
	return fmt.Errorf("%w: %s requires %s", schemas.ErrToolExecution, tool, param)
}
