package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ExposeBinding registers a page-global function named name. Every call from
// the page delivers its string payload to handler, in call order.
func (s *Session) ExposeBinding(ctx context.Context, name string, handler func(payload string)) error {
	if handler == nil {
		return fmt.Errorf("binding '%s' needs a handler", name)
	}

	s.bindingsMu.Lock()
	s.bindings[name] = handler
	s.bindingsMu.Unlock()
	s.listen()

	if err := s.runActions(ctx, runtime.AddBinding(name)); err != nil {
		s.bindingsMu.Lock()
		delete(s.bindings, name)
		s.bindingsMu.Unlock()
		return fmt.Errorf("failed to add binding '%s': %w", name, err)
	}
	s.logger.Debug("Exposed binding.", zap.String("name", name))
	return nil
}

// dispatchBinding calls handler and contains any panic it raises; the target
// listener goroutine must survive a misbehaving handler.
func (s *Session) dispatchBinding(name, payload string, handler func(string)) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic during binding call.",
				zap.String("name", name),
				zap.Any("panic_reason", r),
				zap.String("stack", string(debug.Stack())))
		}
	}()
	handler(payload)
}

// InjectScriptPersistently adds a script that runs on every new document in the
// session, and evaluates it once in the current document.
func (s *Session) InjectScriptPersistently(ctx context.Context, script string) error {
	var scriptID page.ScriptIdentifier
	err := s.runActions(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		scriptID, err = page.AddScriptToEvaluateOnNewDocument(script).Do(c)
		return err
	}))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("could not inject persistent script: %w", err)
	}
	s.logger.Debug("Injected persistent script.", zap.String("scriptID", string(scriptID)))

	if err := s.runActions(ctx, chromedp.Evaluate(script, nil)); err != nil {
		s.logger.Debug("Persistent script did not run in the current document.", zap.Error(err))
	}
	return nil
}

// ExecuteScript evaluates JavaScript in the current document and returns the
// JSON value. When args are given, script must be a function expression; it is
// invoked with the JSON-encoded arguments.
func (s *Session) ExecuteScript(ctx context.Context, script string, args []interface{}) (json.RawMessage, error) {
	expr, err := applyArgs(script, args)
	if err != nil {
		return nil, err
	}

	opCtx, cancel := context.WithTimeout(ctx, scriptTimeout)
	defer cancel()

	var res json.RawMessage
	err = s.runActions(opCtx,
		chromedp.Evaluate(expr, &res, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithReturnByValue(true).WithAwaitPromise(true)
		}),
	)
	if err != nil {
		if opCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("timeout during ExecuteScript: %w", opCtx.Err())
		}
		return nil, fmt.Errorf("failed ExecuteScript evaluation: %w", err)
	}
	return res, nil
}

// applyArgs renders "(script)(arg1, arg2, ...)".
func applyArgs(script string, args []interface{}) (string, error) {
	if len(args) == 0 {
		return script, nil
	}
	encoded := make([]string, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return "", fmt.Errorf("failed to encode script argument %d: %w", i, err)
		}
		encoded[i] = string(b)
	}
	return fmt.Sprintf("(%s)(%s)", strings.TrimSpace(script), strings.Join(encoded, ", ")), nil
}
