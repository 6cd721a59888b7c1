package browser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/autoinvite/executor"
)

// SessionConfig configures the tab the bot works in.
type SessionConfig struct {
	UserAgent string

	// PageLoadTimeout bounds a navigation. Default: 30s.
	PageLoadTimeout time.Duration

	// ImplicitWait is the wait ceiling when a caller passes no timeout.
	// Default: 10s.
	ImplicitWait time.Duration

	// Settle is the pause after a navigation for late scripts. Default: 2s;
	// negative disables it.
	Settle time.Duration

	// ResourceBlocking lists resource types to fail (images, fonts, media, stylesheets).
	ResourceBlocking []string

	Logger *slog.Logger
}

func (c *SessionConfig) defaults() {
	if c.PageLoadTimeout <= 0 {
		c.PageLoadTimeout = 30 * time.Second
	}
	if c.ImplicitWait <= 0 {
		c.ImplicitWait = 10 * time.Second
	}
	if c.Settle < 0 {
		c.Settle = 0
	} else if c.Settle == 0 {
		c.Settle = 2 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Session is one stealth tab. It implements uidriver.Driver.
type Session struct {
	page   *rod.Page
	router *rod.HijackRouter
	cfg    SessionConfig
}

// OpenSession opens a stealth tab on b.
func OpenSession(b *rod.Browser, cfg SessionConfig) (*Session, error) {
	cfg.defaults()

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create stealth page: %w", err)
	}

	if cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: cfg.UserAgent}); err != nil {
			page.Close()
			return nil, fmt.Errorf("browser: set user agent: %w", err)
		}
	}

	s := &Session{page: page, cfg: cfg}
	if len(cfg.ResourceBlocking) > 0 {
		s.router = blockResources(page, cfg.ResourceBlocking)
	}
	return s, nil
}

// Navigate loads url, waits for the load event and lets the page settle.
func (s *Session) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, s.cfg.PageLoadTimeout)
	defer cancel()

	p := s.page.Context(navCtx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("browser: wait load %s: %w", url, err)
	}
	s.cfg.Logger.Info("browser: page loaded", "url", url)

	executor.Sleep(ctx, s.cfg.Settle)
	return nil
}

// URL returns the address of the current document.
func (s *Session) URL() string {
	info, err := s.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// Close stops request interception and closes the tab.
func (s *Session) Close() error {
	if s.router != nil {
		s.router.Stop()
		s.router = nil
	}
	return s.page.Close()
}
