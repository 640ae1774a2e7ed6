// ABOUTME: Session sentinel errors and the display-ready AuthError
// ABOUTME: Maps tagged API errors onto the messages shown by login and step-up views

package session

import (
	"errors"

	"github.com/bobbytumur/portalctl/internal/client"
)

var (
	// ErrNotAuthenticated means no session token is held
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrStepUpRequired means a token is held but still needs TOTP validation
	ErrStepUpRequired = errors.New("two-factor verification required")
	// ErrNoPendingStepUp means VerifyStepUp was called without a pending token
	ErrNoPendingStepUp = errors.New("no two-factor verification pending")
	// ErrSessionExpired means the refresh credential was rejected and the session was ended
	ErrSessionExpired = errors.New("session expired")
	// ErrInFlight means the same flow is already running
	ErrInFlight = errors.New("request already in progress")
)

// Messages shown for errors that carry no server text
const (
	MsgNetwork = "Unable to reach the server. Please try again."
	MsgGeneric = "Something went wrong"
)

// AuthError is a login or step-up failure ready for display
type AuthError struct {
	Kind    client.ErrorKind
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	return e.Message
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// classify turns a call failure into an AuthError
func classify(err error) *AuthError {
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		return &AuthError{Kind: client.KindValidation, Message: MsgGeneric, Err: err}
	}

	switch apiErr.Kind {
	case client.KindNetwork:
		return &AuthError{Kind: client.KindNetwork, Message: MsgNetwork, Err: err}
	case client.KindValidation:
		return &AuthError{Kind: client.KindValidation, Message: MsgGeneric, Err: err}
	default:
		return &AuthError{Kind: client.KindMessage, Message: apiErr.Message, Err: err}
	}
}
