package browser

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/browzerlabs/browzer-engine/api/schemas"
	"github.com/browzerlabs/browzer-engine/internal/config"
)

const (
	defaultNavigationTimeout = 60 * time.Second
	defaultActionTimeout     = 15 * time.Second
	scriptTimeout            = 20 * time.Second
)

// Session is a single chromedp tab. It implements schemas.BindingSurface.
type Session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	cfg    config.BrowserConfig

	bindingsMu sync.RWMutex
	bindings   map[string]func(payload string)
	listenOnce sync.Once

	onClose func()

	mu       sync.Mutex
	isClosed bool
}

var _ schemas.BindingSurface = (*Session)(nil)

// NewSession wraps an existing chromedp tab context.
func NewSession(ctx context.Context, cancel context.CancelFunc, cfg config.BrowserConfig, logger *zap.Logger, onClose func()) *Session {
	id := uuid.New().String()
	return &Session{
		id:       id,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.With(zap.String("surface_id", id)),
		cfg:      cfg,
		bindings: make(map[string]func(string)),
		onClose:  onClose,
	}
}

// ID returns the session ID.
func (s *Session) ID() string {
	return s.id
}

// GetContext returns the underlying context for the session.
func (s *Session) GetContext() context.Context {
	return s.ctx
}

// Close terminates the tab. It is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	s.mu.Unlock()

	s.logger.Debug("Closing browser session.")

	// Give the tab a chance to close cleanly before the context is torn down.
	if err := chromedp.Cancel(s.ctx); err != nil && ctx.Err() == nil {
		s.logger.Debug("Tab did not close cleanly.", zap.Error(err))
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.onClose != nil {
		s.onClose()
	}
	return nil
}

// runActions executes chromedp.Actions, ensuring they respect both the session
// lifetime (s.ctx) and the incoming request context (ctx).
func (s *Session) runActions(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()

	return chromedp.Run(runCtx, actions...)
}

func (s *Session) actionTimeout() time.Duration {
	if s.cfg.ActionTimeout > 0 {
		return s.cfg.ActionTimeout
	}
	return defaultActionTimeout
}

// listen installs the single target listener that dispatches binding calls.
func (s *Session) listen() {
	s.listenOnce.Do(func() {
		chromedp.ListenTarget(s.ctx, func(ev interface{}) {
			called, ok := ev.(*runtime.EventBindingCalled)
			if !ok {
				return
			}
			s.bindingsMu.RLock()
			handler := s.bindings[called.Name]
			s.bindingsMu.RUnlock()
			if handler != nil {
				s.dispatchBinding(called.Name, called.Payload, handler)
			}
		})
	})
}
