// ABOUTME: Cookie jar that keeps the backend's refresh cookie across CLI invocations
// ABOUTME: Wraps net/http/cookiejar and mirrors API-origin cookies into the refresh_cookies slot

package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

// storedCookie is the persisted form of a cookie; http.Cookie drops
// attributes when read back out of a jar.
type storedCookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Path     string    `json:"path,omitempty"`
	Domain   string    `json:"domain,omitempty"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HttpOnly bool      `json:"http_only,omitempty"`
}

func (c storedCookie) expired(now time.Time) bool {
	return !c.Expires.IsZero() && now.After(c.Expires)
}

func (c storedCookie) httpCookie() *http.Cookie {
	return &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Path,
		Domain:   c.Domain,
		Expires:  c.Expires,
		Secure:   c.Secure,
		HttpOnly: c.HttpOnly,
	}
}

// Jar is an http.CookieJar bound to one API origin
type Jar struct {
	store  *TokenStore
	origin *url.URL

	mu     sync.Mutex
	inner  *cookiejar.Jar
	stored map[string]storedCookie

	unsubscribe func()
}

var _ http.CookieJar = (*Jar)(nil)

// NewJar restores persisted cookies for origin and starts mirroring new ones
// into the store. The jar empties itself whenever the store becomes anonymous.
func NewJar(store *TokenStore, origin string) (*Jar, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("invalid API origin: %w", err)
	}

	inner, err := newCookieJar()
	if err != nil {
		return nil, err
	}

	j := &Jar{
		store:  store,
		origin: u,
		inner:  inner,
		stored: make(map[string]storedCookie),
	}
	if err := j.restore(); err != nil {
		return nil, err
	}

	j.unsubscribe = store.Subscribe(func(t Transition) {
		switch {
		case t.Cause == CauseSync:
			j.reload()
		case t.To == StateAnonymous:
			j.reset()
		}
	})
	return j, nil
}

func newCookieJar() (*cookiejar.Jar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return jar, nil
}

// SetCookies implements http.CookieJar
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.inner.SetCookies(u, cookies)
	if u.Hostname() != j.origin.Hostname() {
		return
	}

	now := time.Now()
	for _, c := range cookies {
		expires := c.Expires
		if c.MaxAge > 0 {
			expires = now.Add(time.Duration(c.MaxAge) * time.Second)
		}
		sc := storedCookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Domain:   c.Domain,
			Expires:  expires,
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
		}
		if c.MaxAge < 0 || c.Value == "" || sc.expired(now) {
			delete(j.stored, c.Name)
			continue
		}
		j.stored[c.Name] = sc
	}

	if err := j.persistLocked(); err != nil {
		slog.Warn("Failed to persist refresh cookies", "error", err)
	}
}

// Cookies implements http.CookieJar
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.inner.Cookies(u)
}

// Close stops following store transitions
func (j *Jar) Close() {
	if j.unsubscribe != nil {
		j.unsubscribe()
	}
}

func (j *Jar) restore() error {
	doc, err := j.store.cookies()
	if err != nil {
		return fmt.Errorf("failed to read refresh cookies: %w", err)
	}
	if doc == "" {
		return nil
	}

	var cookies []storedCookie
	if err := json.Unmarshal([]byte(doc), &cookies); err != nil {
		slog.Warn("Discarding unreadable refresh cookies", "error", err)
		return nil
	}

	now := time.Now()
	restored := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		if c.expired(now) {
			continue
		}
		j.stored[c.Name] = c
		restored = append(restored, c.httpCookie())
	}
	j.inner.SetCookies(j.origin, restored)
	slog.Debug("Restored refresh cookies", "count", len(restored))
	return nil
}

func (j *Jar) persistLocked() error {
	if len(j.stored) == 0 {
		return j.store.putCookies("")
	}
	cookies := make([]storedCookie, 0, len(j.stored))
	for _, c := range j.stored {
		cookies = append(cookies, c)
	}
	data, err := json.Marshal(cookies)
	if err != nil {
		return err
	}
	return j.store.putCookies(string(data))
}

// reload replaces the jar contents with the cookies another process persisted
func (j *Jar) reload() {
	inner, err := newCookieJar()
	if err != nil {
		slog.Warn("Failed to reset cookie jar", "error", err)
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.inner = inner
	j.stored = make(map[string]storedCookie)
	if err := j.restore(); err != nil {
		slog.Warn("Failed to reload refresh cookies", "error", err)
	}
}

// reset forgets every cookie. The store has already deleted the slot.
func (j *Jar) reset() {
	inner, err := newCookieJar()
	if err != nil {
		slog.Warn("Failed to reset cookie jar", "error", err)
		return
	}
	j.mu.Lock()
	j.inner = inner
	j.stored = make(map[string]storedCookie)
	j.mu.Unlock()
}
