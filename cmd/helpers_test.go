// ABOUTME: Test helpers for command tests
// ABOUTME: A fake portal backend and global flag reset between tests

package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
)

const (
	testPassword    = "pw"
	testCode        = "123456"
	testRefreshName = "refresh_token"
)

// testPortal fakes the portal backend under /api/v1
type testPortal struct {
	server *httptest.Server

	mu          sync.Mutex
	serial      int
	valid       map[string]bool
	pending     map[string]bool
	refreshOK   bool
	email       string
	totpEnabled bool
	recovered   []string
	lastBody    string
}

func newTestPortal(t *testing.T) *testPortal {
	t.Helper()
	p := &testPortal{
		valid:     make(map[string]bool),
		pending:   make(map[string]bool),
		refreshOK: true,
		email:     "alice@example.com",
	}

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/login/access-token", p.handleLogin)
		r.Post("/login/validate-totp", p.handleValidateTOTP)
		r.Post("/login/refresh-token", p.handleRefresh)
		r.Post("/login/test-token", p.protected(p.handleMe))
		r.Post("/password-recovery/{email}", p.handleRecover)
		r.Get("/users/me", p.protected(p.handleMe))
		r.Patch("/users/me", p.protected(p.handleUpdateMe))
		r.Patch("/users/me/password", p.protected(p.handleMessage("Password updated successfully")))
		r.Post("/totp/enable", p.protected(p.handleEnableTOTP))
		r.Post("/totp/verify", p.protected(p.handleVerifyTOTP))
		r.Delete("/totp/disable", p.protected(p.handleDisableTOTP))
		r.Get("/services", p.protected(p.handleServices))
		r.Post("/services", p.protected(p.handleServices))
	})

	p.server = httptest.NewServer(r)
	t.Cleanup(p.server.Close)
	return p
}

// useSession points the CLI globals at p with a file store in a temp dir
func useSession(t *testing.T, p *testPortal) string {
	t.Helper()
	t.Setenv("PORTAL_API_PREFIX", "/api/v1")
	t.Setenv("PORTAL_ALL_PROXY", "")
	t.Setenv("LOG_LEVEL", "error")

	dir := t.TempDir()
	apiURL = p.server.URL
	stateDir = dir
	storeKind = "file"
	jsonOutput = false
	loginUsername = ""
	loginPasswordStdin = false
	statusCheck = false
	apiData = ""
	watchMetricsAddr = ""

	t.Cleanup(func() {
		apiURL, stateDir, storeKind = "", "", ""
		jsonOutput, loginPasswordStdin, statusCheck = false, false, false
		loginUsername, apiData, watchMetricsAddr = "", "", ""
	})
	return dir
}

// mint issues a fresh full token
func (p *testPortal) mint() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.serial++
	now := time.Now()
	tok, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "alice",
		ID:        fmt.Sprint(p.serial),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(15 * time.Minute)),
	}).SignedString([]byte("test-secret"))
	p.valid[tok] = true
	return tok
}

// revokeAll makes every issued access token stale
func (p *testPortal) revokeAll() {
	p.mu.Lock()
	p.valid = make(map[string]bool)
	p.mu.Unlock()
}

func (p *testPortal) setRefreshOK(ok bool) {
	p.mu.Lock()
	p.refreshOK = ok
	p.mu.Unlock()
}

func (p *testPortal) protected(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		p.mu.Lock()
		ok := p.valid[tok]
		p.mu.Unlock()
		if !ok {
			writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func setRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{Name: testRefreshName, Value: "r1", Path: "/", HttpOnly: true, MaxAge: 3600})
}

func (p *testPortal) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil || r.PostForm.Get("password") != testPassword {
		writeDetail(w, http.StatusBadRequest, "Incorrect email or password")
		return
	}
	if r.PostForm.Get("username") == "bob" {
		p.mu.Lock()
		p.pending["pending-bob"] = true
		p.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{"access_token": "pending-bob", "token_type": "totp"})
		return
	}
	setRefreshCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"access_token": p.mint(), "token_type": "bearer"})
}

func (p *testPortal) handleValidateTOTP(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	json.NewDecoder(r.Body).Decode(&body)

	p.mu.Lock()
	ok := p.pending[strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")]
	p.mu.Unlock()
	if !ok || body.Token != testCode {
		writeDetail(w, http.StatusBadRequest, "Invalid TOTP code")
		return
	}
	setRefreshCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"access_token": p.mint(), "token_type": "bearer"})
}

func (p *testPortal) handleRefresh(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	ok := p.refreshOK
	p.mu.Unlock()

	c, err := r.Cookie(testRefreshName)
	if !ok || err != nil || c.Value != "r1" {
		writeDetail(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access_token": p.mint(), "token_type": "bearer"})
}

func (p *testPortal) user() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[string]interface{}{
		"id":              1,
		"username":        "alice",
		"email":           p.email,
		"is_active":       true,
		"can_edit":        true,
		"is_totp_enabled": p.totpEnabled,
		"services":        []map[string]string{{"id": "s1"}},
	}
}

func (p *testPortal) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, p.user())
}

func (p *testPortal) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	json.NewDecoder(r.Body).Decode(&body)
	if body.Email != "" {
		p.mu.Lock()
		p.email = body.Email
		p.mu.Unlock()
	}
	writeJSON(w, http.StatusOK, p.user())
}

func (p *testPortal) handleMessage(msg string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": msg})
	}
}

func (p *testPortal) handleEnableTOTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"uri": "otpauth://totp/portal:alice?secret=JBSWY3DP"})
}

func (p *testPortal) handleVerifyTOTP(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	json.NewDecoder(r.Body).Decode(&body)
	if body.Token != testCode {
		writeDetail(w, http.StatusBadRequest, "Invalid TOTP code")
		return
	}
	p.mu.Lock()
	p.totpEnabled = true
	p.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": "TOTP enabled"})
}

func (p *testPortal) handleDisableTOTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.totpEnabled = false
	p.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": "TOTP disabled"})
}

func (p *testPortal) handleRecover(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.recovered = append(p.recovered, chi.URLParam(r, "email"))
	p.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password recovery email sent"})
}

func (p *testPortal) handleServices(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		var body json.RawMessage
		json.NewDecoder(r.Body).Decode(&body)
		p.mu.Lock()
		p.lastBody = string(body)
		p.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write(body)
		return
	}
	writeJSON(w, http.StatusOK, []map[string]string{{"id": "s1", "name": "demo"}})
}
