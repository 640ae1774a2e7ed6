// ABOUTME: Login, TOTP step-up and logout flows
// ABOUTME: The only writers of a new session into the token store

package session

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/bobbytumur/portalctl/internal/client"
)

const tracerName = "github.com/bobbytumur/portalctl/internal/session"

var tracer = otel.Tracer(tracerName)

// Login outcomes
const (
	OutcomeComplete = "complete"
	OutcomeStepUp   = "step-up"
)

// AuthClient is the subset of the API the flows call
type AuthClient interface {
	LoginAccessToken(ctx context.Context, form client.LoginForm) (*client.Token, error)
	ValidateTOTP(ctx context.Context, pendingToken, code string) (*client.Token, error)
}

// Credentials for the password grant. Extra carries grant_type, scope,
// client_id and client_secret when the deployment needs them.
type Credentials struct {
	Username string
	Password string
	Extra    url.Values
}

// LoginResult says where the caller goes next
type LoginResult struct {
	Outcome string
	// TokenType is the raw token_type from the backend, e.g. "upload" on the transfer portal
	TokenType string
}

// Authenticator runs the login and step-up flows against one store
type Authenticator struct {
	api     AuthClient
	store   *TokenStore
	metrics *Metrics

	loginBusy  atomic.Bool
	verifyBusy atomic.Bool

	mu      sync.Mutex
	lastErr *AuthError
}

// NewAuthenticator creates the flows. metrics may be nil.
func NewAuthenticator(api AuthClient, store *TokenStore, metrics *Metrics) *Authenticator {
	return &Authenticator{api: api, store: store, metrics: metrics}
}

// Login exchanges credentials for a token. On failure the store is unchanged.
func (a *Authenticator) Login(ctx context.Context, creds Credentials) (LoginResult, error) {
	if !a.loginBusy.CompareAndSwap(false, true) {
		return LoginResult{}, ErrInFlight
	}
	defer a.loginBusy.Store(false)

	ctx, span := tracer.Start(ctx, "session.Login")
	defer span.End()

	a.ResetError()

	token, err := a.api.LoginAccessToken(ctx, client.LoginForm{
		Username: creds.Username,
		Password: creds.Password,
		Extra:    creds.Extra,
	})
	if err != nil {
		authErr := a.fail(err)
		a.metrics.login("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, authErr.Message)
		slog.Info("Login failed", "kind", authErr.Kind, "error", err)
		return LoginResult{}, authErr
	}

	result := LoginResult{Outcome: OutcomeComplete, TokenType: token.TokenType}
	tok := Token{Value: token.AccessToken, Class: Full}
	if strings.EqualFold(token.TokenType, client.TokenTypeTOTP) {
		result.Outcome = OutcomeStepUp
		tok.Class = StepUpPending
	}

	if err := a.store.set(tok, CauseLogin); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store write failed")
		return LoginResult{}, err
	}

	a.metrics.login(result.Outcome)
	span.SetAttributes(
		attribute.String("session.outcome", result.Outcome),
		attribute.String("session.token_type", token.TokenType),
	)
	span.SetStatus(codes.Ok, "")
	slog.Info("Login succeeded", "outcome", result.Outcome, "token_type", token.TokenType)
	return result, nil
}

// VerifyStepUp validates a TOTP code against the pending token. On failure
// the pending token is kept so the user can retry.
func (a *Authenticator) VerifyStepUp(ctx context.Context, code string) error {
	if !a.verifyBusy.CompareAndSwap(false, true) {
		return ErrInFlight
	}
	defer a.verifyBusy.Store(false)

	pending, ok := a.store.Get()
	if !ok || pending.Class != StepUpPending {
		return ErrNoPendingStepUp
	}

	a.ResetError()

	code = NormalizeCode(code)
	if !ValidCode(code) {
		authErr := &AuthError{Kind: client.KindValidation, Message: "Enter the 6-digit code from your authenticator app"}
		a.setError(authErr)
		a.metrics.stepUp("invalid_code")
		return authErr
	}

	ctx, span := tracer.Start(ctx, "session.VerifyStepUp")
	defer span.End()

	token, err := a.api.ValidateTOTP(ctx, pending.Value, code)
	if err != nil {
		authErr := a.fail(err)
		a.metrics.stepUp("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, authErr.Message)
		slog.Info("Step-up failed", "kind", authErr.Kind, "error", err)
		return authErr
	}

	if err := a.store.set(Token{Value: token.AccessToken, Class: Full}, CauseStepUp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store write failed")
		return err
	}

	a.metrics.stepUp("ok")
	span.SetStatus(codes.Ok, "")
	slog.Info("Step-up verified")
	return nil
}

// Logout forgets the token, the pending flag and the refresh cookies
func (a *Authenticator) Logout() error {
	a.ResetError()
	return a.store.clear(CauseLogout)
}

// LastError returns the error from the most recent failed flow, or nil
func (a *Authenticator) LastError() *AuthError {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

// ResetError clears LastError
func (a *Authenticator) ResetError() {
	a.setError(nil)
}

func (a *Authenticator) setError(err *AuthError) {
	a.mu.Lock()
	a.lastErr = err
	a.mu.Unlock()
}

func (a *Authenticator) fail(err error) *AuthError {
	authErr := classify(err)
	a.setError(authErr)
	return authErr
}

// NormalizeCode strips the spaces users paste into codes, e.g. "123 456"
func NormalizeCode(code string) string {
	return strings.Join(strings.Fields(code), "")
}

// ValidCode reports whether code is exactly six digits
func ValidCode(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
