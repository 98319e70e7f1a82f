package browser

import (
	"context"
	"errors"
	"fmt"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/browzerlabs/browzer-engine/api/schemas"
)

// Navigate loads the specified URL and waits for the body to be ready.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("Navigating to URL", zap.String("url", url))

	opCtx, opCancel := CombineContext(s.ctx, ctx)
	defer opCancel()

	navTimeout := s.cfg.NavigationTimeout
	if navTimeout <= 0 {
		navTimeout = defaultNavigationTimeout
	}
	navCtx, navCancel := context.WithTimeout(opCtx, navTimeout)
	defer navCancel()

	if err := chromedp.Run(navCtx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		if errors.Is(navCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("navigation timed out after %s: %w", navTimeout, err)
		}
		if opCtx.Err() != nil {
			return fmt.Errorf("navigation canceled: %w", opCtx.Err())
		}
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

// Click interacts with the element matching the selector.
func (s *Session) Click(ctx context.Context, selector string) error {
	s.logger.Debug("Attempting to click element", zap.String("selector", selector))

	clickCtx, cancel := context.WithTimeout(ctx, s.actionTimeout())
	defer cancel()

	err := s.runActions(clickCtx,
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("click action failed for selector '%s': %w", selector, err)
	}
	return nil
}

// Type replaces the value of the element matching the selector with text.
func (s *Session) Type(ctx context.Context, selector string, text string) error {
	s.logger.Debug("Attempting to type into element", zap.String("selector", selector), zap.Int("text_length", len(text)))

	typeCtx, cancel := context.WithTimeout(ctx, s.actionTimeout())
	defer cancel()

	err := s.runActions(typeCtx,
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("type action failed for selector '%s': %w", selector, err)
	}
	return nil
}

// PressKey dispatches a key down/up pair with modifiers to the focused element.
func (s *Session) PressKey(ctx context.Context, data schemas.KeyEventData) error {
	if data.Key == "" {
		return fmt.Errorf("press key: no key given")
	}
	s.logger.Debug("Pressing key", zap.String("key", data.Key), zap.Int("modifiers", int(data.Modifiers)))

	info := describeKey(data.Key)
	modifiers := toCDPModifiers(data.Modifiers)

	keyDown := input.DispatchKeyEvent(input.KeyDown).
		WithModifiers(modifiers).
		WithKey(info.key).
		WithCode(info.code).
		WithWindowsVirtualKeyCode(info.keyCode)
	// Text is only produced for unmodified (or shifted) printable keys.
	if info.text != "" && data.Modifiers&^schemas.ModShift == 0 {
		keyDown = keyDown.WithText(info.text).WithUnmodifiedText(info.text)
	}
	keyUp := input.DispatchKeyEvent(input.KeyUp).
		WithModifiers(modifiers).
		WithKey(info.key).
		WithCode(info.code).
		WithWindowsVirtualKeyCode(info.keyCode)

	keyCtx, cancel := context.WithTimeout(ctx, s.actionTimeout())
	defer cancel()

	if err := s.runActions(keyCtx, keyDown, keyUp); err != nil {
		return fmt.Errorf("failed to dispatch key '%s': %w", data.Key, err)
	}
	return nil
}

// Scroll moves the viewport by the given deltas.
func (s *Session) Scroll(ctx context.Context, deltaX, deltaY int) error {
	scrollCtx, cancel := context.WithTimeout(ctx, s.actionTimeout())
	defer cancel()

	script := fmt.Sprintf("window.scrollBy(%d, %d)", deltaX, deltaY)
	if err := s.runActions(scrollCtx, chromedp.Evaluate(script, nil)); err != nil {
		return fmt.Errorf("scroll failed: %w", err)
	}
	return nil
}
