// ABOUTME: Auth gate answering whether protected calls may proceed
// ABOUTME: Pure read of the token store, no network I/O

package session

// Gate guards protected operations
type Gate struct {
	store *TokenStore
}

// NewGate creates a gate over store
func NewGate(store *TokenStore) *Gate {
	return &Gate{store: store}
}

// IsAuthorized reports whether a full token is held. Expiry is not checked;
// the request interceptor recovers expired tokens.
func (g *Gate) IsAuthorized() bool {
	tok, ok := g.store.Get()
	return ok && tok.Class == Full
}

// Require returns nil when authorized, otherwise the reason the caller must
// send the user to login or step-up
func (g *Gate) Require() error {
	switch g.store.State() {
	case StateAuthenticated:
		return nil
	case StatePendingMFA:
		return ErrStepUpRequired
	default:
		return ErrNotAuthenticated
	}
}

// State returns the current session state
func (g *Gate) State() State {
	return g.store.State()
}
