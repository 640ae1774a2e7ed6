// ABOUTME: Refresh coordinator renewing the access token before it expires
// ABOUTME: Coalesces concurrent refreshes and ends the session when the refresh cookie is rejected

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/bobbytumur/portalctl/internal/client"
)

// Refresh defaults
const (
	DefaultRefreshInterval = 60 * time.Second
	DefaultRefreshMargin   = 60 * time.Second
	DefaultRefreshTimeout  = 30 * time.Second
)

// RefreshClient performs the refresh call; the refresh credential rides in the cookie jar
type RefreshClient interface {
	RefreshAccessToken(ctx context.Context) (*client.Token, error)
}

// RefresherConfig tunes polling. Zero values take the defaults.
type RefresherConfig struct {
	Interval time.Duration
	Margin   time.Duration
	Timeout  time.Duration
}

func (c RefresherConfig) withDefaults() RefresherConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultRefreshInterval
	}
	if c.Margin <= 0 {
		c.Margin = DefaultRefreshMargin
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultRefreshTimeout
	}
	return c
}

// Refresher keeps a full token fresh
type Refresher struct {
	api     RefreshClient
	store   *TokenStore
	cfg     RefresherConfig
	metrics *Metrics
	now     func() time.Time

	group singleflight.Group

	hookMu  sync.Mutex
	onEnded func(reason error)
}

// NewRefresher creates a coordinator. metrics may be nil.
func NewRefresher(api RefreshClient, store *TokenStore, cfg RefresherConfig, metrics *Metrics) *Refresher {
	return &Refresher{
		api:     api,
		store:   store,
		cfg:     cfg.withDefaults(),
		metrics: metrics,
		now:     time.Now,
	}
}

// OnSessionEnded sets the hook fired when a refresh failure or a rejected
// retry ends the session. The CLI uses it to send the user back to login.
func (r *Refresher) OnSessionEnded(fn func(reason error)) {
	r.hookMu.Lock()
	r.onEnded = fn
	r.hookMu.Unlock()
}

// Refresh renews the token and returns the new value. Concurrent callers
// share one backend call; each returns early if its own ctx ends.
func (r *Refresher) Refresh(ctx context.Context) (string, error) {
	ch := r.group.DoChan("refresh", func() (interface{}, error) {
		return r.refresh(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *Refresher) refresh(ctx context.Context) (string, error) {
	current, changed, err := r.store.reload()
	if err != nil {
		return "", err
	}
	if current.Class != Full {
		return "", ErrNotAuthenticated
	}
	// Another process replaced the token; the jar now carries its cookie
	if changed {
		r.metrics.refresh("synced")
		slog.Debug("Adopting token written by another process")
		return current.Value, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "session.Refresh")
	defer span.End()

	slog.Debug("Refreshing access token")
	token, err := r.api.RefreshAccessToken(ctx)
	if err != nil {
		r.metrics.refresh("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh rejected")
		slog.Warn("Token refresh failed, ending session", "error", err)
		r.endSession(current.Value, err)
		return "", fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}

	swapped, err := r.store.swap(current.Value, token.AccessToken, CauseRefresh)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store write failed")
		return "", err
	}
	if !swapped {
		r.metrics.refresh("discarded")
		slog.Debug("Discarding refreshed token, session changed during refresh")
		return "", ErrNotAuthenticated
	}

	r.metrics.refresh("ok")
	span.SetStatus(codes.Ok, "")
	slog.Info("Access token refreshed")
	return token.AccessToken, nil
}

// endSession clears the store if it still holds value and fires the hook
func (r *Refresher) endSession(value string, reason error) {
	cleared, err := r.store.clearIf(value, CauseExpired)
	if err != nil {
		slog.Warn("Failed to clear session", "error", err)
	}
	if !cleared {
		return
	}

	r.hookMu.Lock()
	fn := r.onEnded
	r.hookMu.Unlock()
	if fn != nil {
		fn(reason)
	}
}

// Tick refreshes when the held full token expires within the margin.
// A token without a readable expiry is left alone.
func (r *Refresher) Tick(ctx context.Context) error {
	at, ok := r.NextRefreshAt()
	if !ok {
		return nil
	}
	if r.now().Before(at) {
		slog.Debug("Token not yet due for refresh", "refresh_at", at)
		return nil
	}
	_, err := r.Refresh(ctx)
	return err
}

// Run ticks immediately and then every interval until ctx is done
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := r.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("Refresh tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// NextRefreshAt returns when the held full token becomes due for refresh
func (r *Refresher) NextRefreshAt() (time.Time, bool) {
	tok, ok := r.store.Get()
	if !ok || tok.Class != Full {
		return time.Time{}, false
	}
	exp, ok := ExpiresAt(tok.Value)
	if !ok {
		return time.Time{}, false
	}
	return exp.Add(-r.cfg.Margin), true
}

// Interval returns the polling interval in effect
func (r *Refresher) Interval() time.Duration {
	return r.cfg.Interval
}
