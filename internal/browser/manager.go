package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/browzerlabs/browzer-engine/internal/config"
)

const shutdownGracePeriod = 15 * time.Second

// Manager owns the Chrome process and hands out tab sessions.
type Manager struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	allocCtx    context.Context
	allocCancel context.CancelFunc

	// browserCtx keeps the first tab alive so the process is not torn down
	// when a session closes.
	browserCtx    context.Context
	browserCancel context.CancelFunc

	sessions map[string]*Session
	mu       sync.RWMutex
	wg       sync.WaitGroup

	initOnce sync.Once
	initErr  error
}

// NewManager creates a new browser manager. The browser is started lazily by
// the first NewSession call.
func NewManager(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, DefaultAllocatorOptions(cfg)...)
	return &Manager{
		logger:      logger.Named("browser_manager"),
		cfg:         cfg,
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		sessions:    make(map[string]*Session),
	}
}

func (m *Manager) initialize() error {
	m.initOnce.Do(func() {
		m.logger.Info("Launching browser...", zap.Bool("headless", m.cfg.Headless))
		m.browserCtx, m.browserCancel = chromedp.NewContext(m.allocCtx,
			chromedp.WithLogf(m.logger.Sugar().Debugf),
			chromedp.WithErrorf(m.logger.Sugar().Warnf),
		)
		if err := chromedp.Run(m.browserCtx); err != nil {
			m.initErr = fmt.Errorf("failed to launch browser instance: %w", err)
			return
		}
		m.logger.Info("Browser launched.")
	})
	return m.initErr
}

// NewSession opens a new tab and returns it as a browsing surface.
func (m *Manager) NewSession(ctx context.Context) (*Session, error) {
	if err := m.initialize(); err != nil {
		return nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(m.browserCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}
	if ctx.Err() != nil {
		tabCancel()
		return nil, ctx.Err()
	}

	m.wg.Add(1)
	var session *Session
	session = NewSession(tabCtx, tabCancel, m.cfg, m.logger, func() {
		m.mu.Lock()
		delete(m.sessions, session.ID())
		m.mu.Unlock()
		m.wg.Done()
		m.logger.Debug("Session removed from manager.", zap.String("surface_id", session.ID()))
	})

	m.mu.Lock()
	m.sessions[session.ID()] = session
	m.mu.Unlock()

	m.logger.Info("New session created.", zap.String("surface_id", session.ID()))
	return session, nil
}

// Shutdown closes every session and then the browser process.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down browser manager.")

	m.mu.RLock()
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.RUnlock()

	for _, s := range open {
		if err := s.Close(ctx); err != nil {
			m.logger.Warn("Error during session close in shutdown.", zap.String("surface_id", s.ID()), zap.Error(err))
		}
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("Timed out waiting for sessions to close.")
	case <-time.After(shutdownGracePeriod):
		m.logger.Warn("Grace period elapsed waiting for sessions to close.")
	}

	if m.browserCancel != nil {
		if err := chromedp.Cancel(m.browserCtx); err != nil {
			m.logger.Debug("Browser did not close cleanly.", zap.Error(err))
		}
		m.browserCancel()
	}
	m.allocCancel()
	return nil
}
