// ABOUTME: Fake portal backend and session harness shared by session tests
// ABOUTME: Routes the auth and profile endpoints with chi and counts calls

package session

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/bobbytumur/portalctl/internal/client"
)

const (
	refreshCookieName  = "refresh_token"
	refreshCookieValue = "r-cookie-1"
	pendingTokenValue  = "pending-xyz"
	validTOTPCode      = "123456"
)

// mintToken returns an HS256 JWT expiring at exp
func mintToken(t *testing.T, subject string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

type fakePortal struct {
	t      *testing.T
	server *httptest.Server

	mu          sync.Mutex
	valid       map[string]bool
	nextRefresh []string
	refreshOK   bool
	loginToken  string
	loginType   string
	lastAuth    string
	lastBody    string

	refreshCalls atomic.Int32
	meCalls      atomic.Int32
	echoCalls    atomic.Int32

	// refreshGate, when set, blocks refresh handlers until closed
	refreshGate chan struct{}
	// meGate, when set, blocks /users/me handlers until closed
	meGate chan struct{}
	// echoAlways401 rejects every /echo call
	echoAlways401 bool
}

func newFakePortal(t *testing.T) *fakePortal {
	t.Helper()
	fp := &fakePortal{
		t:          t,
		valid:      make(map[string]bool),
		refreshOK:  true,
		loginToken: "abc",
		loginType:  "bearer",
	}

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/login/access-token", fp.handleLogin)
		r.Post("/login/validate-totp", fp.handleValidateTOTP)
		r.Post("/login/refresh-token", fp.handleRefresh)
		r.Get("/users/me", fp.handleMe)
		r.Post("/echo", fp.handleEcho)
		r.Get("/echo", fp.handleEcho)
	})

	fp.server = httptest.NewServer(r)
	t.Cleanup(fp.server.Close)
	return fp
}

func (fp *fakePortal) baseURL() string {
	return fp.server.URL + "/api/v1"
}

// issue marks token as accepted by protected endpoints
func (fp *fakePortal) issue(token string) {
	fp.mu.Lock()
	fp.valid[token] = true
	fp.mu.Unlock()
}

// revoke makes protected endpoints reject token
func (fp *fakePortal) revoke(token string) {
	fp.mu.Lock()
	delete(fp.valid, token)
	fp.mu.Unlock()
}

// queueRefresh sets the tokens returned by successive refresh calls
func (fp *fakePortal) queueRefresh(tokens ...string) {
	fp.mu.Lock()
	fp.nextRefresh = append(fp.nextRefresh, tokens...)
	fp.mu.Unlock()
}

func (fp *fakePortal) setLoginType(tokenType string) {
	fp.mu.Lock()
	fp.loginType = tokenType
	fp.mu.Unlock()
}

// blockRefresh holds refresh handlers until the returned channel is closed
func (fp *fakePortal) blockRefresh() chan struct{} {
	gate := make(chan struct{})
	fp.mu.Lock()
	fp.refreshGate = gate
	fp.mu.Unlock()
	return gate
}

// blockMe holds /users/me handlers until the returned channel is closed
func (fp *fakePortal) blockMe() chan struct{} {
	gate := make(chan struct{})
	fp.mu.Lock()
	fp.meGate = gate
	fp.mu.Unlock()
	return gate
}

func (fp *fakePortal) setEchoAlways401() {
	fp.mu.Lock()
	fp.echoAlways401 = true
	fp.mu.Unlock()
}

func (fp *fakePortal) setRefreshOK(ok bool) {
	fp.mu.Lock()
	fp.refreshOK = ok
	fp.mu.Unlock()
}

func (fp *fakePortal) authorized(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.lastAuth = auth
	return fp.valid[strings.TrimPrefix(auth, "Bearer ")]
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func (fp *fakePortal) setRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    refreshCookieValue,
		Path:     "/",
		HttpOnly: true,
		MaxAge:   3600,
	})
}

func (fp *fakePortal) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeDetail(w, http.StatusBadRequest, "bad form")
		return
	}
	if r.PostForm.Get("username") == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"detail": []map[string]interface{}{
				{"loc": []string{"body", "username"}, "msg": "field required", "type": "missing"},
			},
		})
		return
	}
	if r.PostForm.Get("password") != "pw" {
		writeDetail(w, http.StatusBadRequest, "Incorrect email or password")
		return
	}

	fp.mu.Lock()
	token, tokenType := fp.loginToken, fp.loginType
	fp.mu.Unlock()

	if tokenType == client.TokenTypeTOTP {
		writeJSON(w, http.StatusOK, client.Token{AccessToken: pendingTokenValue, TokenType: tokenType})
		return
	}
	fp.issue(token)
	fp.setRefreshCookie(w)
	writeJSON(w, http.StatusOK, client.Token{AccessToken: token, TokenType: tokenType})
}

func (fp *fakePortal) handleValidateTOTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer "+pendingTokenValue {
		writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}
	var body client.TOTPCode
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Token != validTOTPCode {
		writeDetail(w, http.StatusBadRequest, "Invalid TOTP code")
		return
	}

	fp.mu.Lock()
	token := fp.loginToken
	fp.mu.Unlock()

	fp.issue(token)
	fp.setRefreshCookie(w)
	writeJSON(w, http.StatusOK, client.Token{AccessToken: token, TokenType: client.TokenTypeBearer})
}

func (fp *fakePortal) handleRefresh(w http.ResponseWriter, r *http.Request) {
	fp.refreshCalls.Add(1)
	fp.mu.Lock()
	gate := fp.refreshGate
	fp.mu.Unlock()
	if gate != nil {
		<-gate
	}

	fp.mu.Lock()
	ok := fp.refreshOK
	var next string
	if len(fp.nextRefresh) > 0 {
		next = fp.nextRefresh[0]
		fp.nextRefresh = fp.nextRefresh[1:]
	}
	fp.mu.Unlock()

	cookie, err := r.Cookie(refreshCookieName)
	if !ok || err != nil || cookie.Value != refreshCookieValue {
		writeDetail(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}
	if next == "" {
		next = "refreshed"
	}
	fp.issue(next)
	writeJSON(w, http.StatusOK, client.Token{AccessToken: next, TokenType: client.TokenTypeBearer})
}

func (fp *fakePortal) handleMe(w http.ResponseWriter, r *http.Request) {
	n := fp.meCalls.Add(1)
	fp.mu.Lock()
	gate := fp.meGate
	fp.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if !fp.authorized(r) {
		writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}
	writeJSON(w, http.StatusOK, client.User{
		ID:       1,
		Username: "alice",
		Email:    "alice@example.com",
		IsActive: true,
		// Services varies per fetch so tests can tell fetches apart
		Services: []client.ServiceID{{ID: string(rune('a' + n - 1))}},
	})
}

func (fp *fakePortal) handleEcho(w http.ResponseWriter, r *http.Request) {
	fp.echoCalls.Add(1)
	body, _ := io.ReadAll(r.Body)
	fp.mu.Lock()
	fp.lastBody = string(body)
	always401 := fp.echoAlways401
	fp.mu.Unlock()

	if always401 || !fp.authorized(r) {
		writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}
	w.Write(body)
}

func (fp *fakePortal) lastAuthorization() string {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return fp.lastAuth
}

func (fp *fakePortal) lastEchoBody() string {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return fp.lastBody
}

// newTestManager wires a Manager against fp with an in-memory backend
func newTestManager(t *testing.T, fp *fakePortal, backend Backend) *Manager {
	t.Helper()
	if backend == nil {
		backend = NewMemoryBackend()
	}
	m, err := NewManager(Options{
		BaseURL:     fp.baseURL(),
		Backend:     backend,
		HTTPTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

// stubRefreshClient counts calls and optionally blocks until released
type stubRefreshClient struct {
	calls   atomic.Int32
	release chan struct{}
	token   string
	err     error
}

func (s *stubRefreshClient) RefreshAccessToken(ctx context.Context) (*client.Token, error) {
	s.calls.Add(1)
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return &client.Token{AccessToken: s.token, TokenType: client.TokenTypeBearer}, nil
}
