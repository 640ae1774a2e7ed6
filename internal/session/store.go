// ABOUTME: Token store holding the single current access token and its classification
// ABOUTME: Persists slots through a Backend and publishes state transitions to subscribers

package session

import (
	"fmt"
	"log/slog"
	"sync"
)

// Storage slots, named after the browser-storage keys the web clients use
const (
	slotAccessToken    = "access_token"
	slotTOTPRequired   = "is_totp_required"
	slotRefreshCookies = "refresh_cookies"
)

// Classification tells a usable session token apart from one awaiting step-up
type Classification int

const (
	// Full tokens authorize protected calls
	Full Classification = iota + 1
	// StepUpPending tokens may only be presented to the TOTP validation endpoint
	StepUpPending
)

func (c Classification) String() string {
	switch c {
	case Full:
		return "full"
	case StepUpPending:
		return "step-up-pending"
	default:
		return "none"
	}
}

// State is the session state derived from the store contents
type State string

const (
	StateAnonymous     State = "anonymous"
	StatePendingMFA    State = "pending-mfa"
	StateAuthenticated State = "authenticated"
)

// Token is an access token plus its classification
type Token struct {
	Value string
	Class Classification
}

// State returns the session state this token puts the store in
func (t Token) State() State {
	switch t.Class {
	case Full:
		return StateAuthenticated
	case StepUpPending:
		return StatePendingMFA
	default:
		return StateAnonymous
	}
}

// Cause records what moved the store
type Cause string

const (
	CauseLogin   Cause = "login"
	CauseStepUp  Cause = "step-up"
	CauseRefresh Cause = "refresh"
	CauseLogout  Cause = "logout"
	CauseExpired Cause = "expired"
	// CauseSync marks a change another process wrote to the shared backend
	CauseSync Cause = "sync"
)

// Transition is published after every store mutation
type Transition struct {
	From  State
	To    State
	Cause Cause
}

// Backend is key/value storage with browser-storage semantics.
// Get reports ok=false for a missing key.
type Backend interface {
	Get(key string) (value string, ok bool, err error)
	Put(key, value string) error
	Delete(key string) error
}

// TokenStore holds at most one token. Only the flows in this package write to it.
type TokenStore struct {
	backend Backend

	// writeMu orders mutations with their notifications
	writeMu sync.Mutex

	mu    sync.RWMutex
	token Token
	held  bool

	subMu  sync.Mutex
	nextID int
	subs   map[int]func(Transition)
}

// NewTokenStore creates a store and restores any token the backend holds
func NewTokenStore(backend Backend) (*TokenStore, error) {
	s := &TokenStore{
		backend: backend,
		subs:    make(map[int]func(Transition)),
	}

	tok, held, err := readToken(backend)
	if err != nil {
		return nil, err
	}
	s.token, s.held = tok, held
	if held {
		slog.Debug("Restored session token", "state", tok.State())
	}
	return s, nil
}

// readToken loads the persisted token slots
func readToken(backend Backend) (Token, bool, error) {
	value, ok, err := backend.Get(slotAccessToken)
	if err != nil {
		return Token{}, false, fmt.Errorf("failed to read %s: %w", slotAccessToken, err)
	}
	if !ok || value == "" {
		return Token{}, false, nil
	}

	pending, _, err := backend.Get(slotTOTPRequired)
	if err != nil {
		return Token{}, false, fmt.Errorf("failed to read %s: %w", slotTOTPRequired, err)
	}

	tok := Token{Value: value, Class: Full}
	if pending == "true" {
		tok.Class = StepUpPending
	}
	return tok, true, nil
}

// Get returns the held token, if any
func (s *TokenStore) Get() (Token, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.held
}

// State returns the current session state
func (s *TokenStore) State() State {
	tok, ok := s.Get()
	if !ok {
		return StateAnonymous
	}
	return tok.State()
}

// Subscribe registers fn for transitions and returns a function that removes it.
// fn runs synchronously after the mutation and must not write to the store.
func (s *TokenStore) Subscribe(fn func(Transition)) func() {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// set replaces the held token
func (s *TokenStore) set(tok Token, cause Cause) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	from := s.State()
	if err := s.persist(tok); err != nil {
		return err
	}

	s.mu.Lock()
	s.token = tok
	s.held = true
	s.mu.Unlock()

	s.publish(Transition{From: from, To: tok.State(), Cause: cause})
	return nil
}

// swap replaces the token only while the store still holds the full token old.
// It reports whether the replacement happened.
func (s *TokenStore) swap(old, next string, cause Cause) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.reloadLocked(); err != nil {
		return false, err
	}
	cur, ok := s.Get()
	if !ok || cur.Class != Full || cur.Value != old {
		return false, nil
	}

	tok := Token{Value: next, Class: Full}
	if err := s.persist(tok); err != nil {
		return false, err
	}

	s.mu.Lock()
	s.token = tok
	s.mu.Unlock()

	s.publish(Transition{From: StateAuthenticated, To: StateAuthenticated, Cause: cause})
	return true, nil
}

// clear drops the token, the pending flag and the refresh cookies
func (s *TokenStore) clear(cause Cause) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.clearLocked(cause)
}

// clearIf clears the store only while it still holds the token value.
// It reports whether the store was cleared.
func (s *TokenStore) clearIf(value string, cause Cause) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.reloadLocked(); err != nil {
		return false, err
	}
	cur, ok := s.Get()
	if !ok || cur.Value != value {
		return false, nil
	}
	return true, s.clearLocked(cause)
}

// reload picks up a token another process persisted since this store last
// looked. It returns the held token and whether it changed.
func (s *TokenStore) reload() (Token, bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	changed, err := s.reloadLocked()
	if err != nil {
		return Token{}, false, err
	}
	tok, _ := s.Get()
	return tok, changed, nil
}

// reloadLocked makes the held token match the backend. Caller holds writeMu.
func (s *TokenStore) reloadLocked() (bool, error) {
	tok, held, err := readToken(s.backend)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	from := s.token.State()
	changed := s.held != held || s.token != tok
	s.token, s.held = tok, held
	s.mu.Unlock()

	if changed {
		slog.Info("Session changed by another process", "state", tok.State())
		s.publish(Transition{From: from, To: tok.State(), Cause: CauseSync})
	}
	return changed, nil
}

func (s *TokenStore) clearLocked(cause Cause) error {
	from := s.State()

	var firstErr error
	for _, key := range []string{slotAccessToken, slotTOTPRequired, slotRefreshCookies} {
		if err := s.backend.Delete(key); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to delete %s: %w", key, err)
		}
	}

	s.mu.Lock()
	s.token = Token{}
	s.held = false
	s.mu.Unlock()

	s.publish(Transition{From: from, To: StateAnonymous, Cause: cause})
	return firstErr
}

func (s *TokenStore) persist(tok Token) error {
	if err := s.backend.Put(slotAccessToken, tok.Value); err != nil {
		return fmt.Errorf("failed to write %s: %w", slotAccessToken, err)
	}
	if tok.Class == StepUpPending {
		if err := s.backend.Put(slotTOTPRequired, "true"); err != nil {
			return fmt.Errorf("failed to write %s: %w", slotTOTPRequired, err)
		}
		return nil
	}
	if err := s.backend.Delete(slotTOTPRequired); err != nil {
		return fmt.Errorf("failed to delete %s: %w", slotTOTPRequired, err)
	}
	return nil
}

func (s *TokenStore) publish(t Transition) {
	slog.Debug("Session transition", "from", t.From, "to", t.To, "cause", t.Cause)

	s.subMu.Lock()
	fns := make([]func(Transition), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(t)
	}
}

// cookies returns the persisted refresh cookie document
func (s *TokenStore) cookies() (string, error) {
	value, _, err := s.backend.Get(slotRefreshCookies)
	return value, err
}

// putCookies persists the refresh cookie document; empty removes the slot
func (s *TokenStore) putCookies(doc string) error {
	if doc == "" {
		return s.backend.Delete(slotRefreshCookies)
	}
	return s.backend.Put(slotRefreshCookies, doc)
}
