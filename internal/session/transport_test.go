// ABOUTME: Tests for the request interceptor
// ABOUTME: One refresh and at most one retry per 401, with body replay and idempotent install

package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobbytumur/portalctl/internal/client"
)

func loggedIn(t *testing.T, fp *fakePortal) *Manager {
	t.Helper()
	m := newTestManager(t, fp, nil)
	_, err := m.Auth.Login(context.Background(), Credentials{Username: "alice", Password: "pw"})
	require.NoError(t, err)
	return m
}

func TestTransport_AttachesBearer(t *testing.T) {
	fp := newFakePortal(t)
	m := loggedIn(t, fp)

	_, err := m.API.ReadUserMe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer abc", fp.lastAuthorization())
	assert.Equal(t, int32(0), fp.refreshCalls.Load())
}

func TestTransport_RefreshesAndRetriesOnce(t *testing.T) {
	fp := newFakePortal(t)
	m := loggedIn(t, fp)

	fp.revoke("abc")
	fp.queueRefresh("def")

	user, err := m.API.ReadUserMe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)

	assert.Equal(t, int32(1), fp.refreshCalls.Load())
	assert.Equal(t, int32(2), fp.meCalls.Load())
	assert.Equal(t, "Bearer def", fp.lastAuthorization())
	tok, _ := m.Store.Get()
	assert.Equal(t, Token{Value: "def", Class: Full}, tok)
}

func TestTransport_SecondUnauthorizedPropagates(t *testing.T) {
	fp := newFakePortal(t)
	m := loggedIn(t, fp)

	var ended error
	m.Refresher.OnSessionEnded(func(err error) { ended = err })

	fp.setEchoAlways401()

	_, err := m.API.DoRaw(context.Background(), http.MethodGet, "/echo", nil)
	require.True(t, client.IsUnauthorized(err), "got %v", err)

	assert.Equal(t, int32(1), fp.refreshCalls.Load(), "no second refresh")
	assert.Equal(t, int32(2), fp.echoCalls.Load(), "one original and one retry")
	assert.Equal(t, StateAnonymous, m.Store.State())
	assert.Error(t, ended)
}

func TestTransport_RefreshFailureEndsSession(t *testing.T) {
	fp := newFakePortal(t)
	m := loggedIn(t, fp)

	fp.revoke("abc")
	fp.setRefreshOK(false)

	_, err := m.API.ReadUserMe(context.Background())
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, int32(1), fp.meCalls.Load(), "no retry without a new token")
	assert.Equal(t, StateAnonymous, m.Store.State())
}

func TestTransport_ReplaysBody(t *testing.T) {
	fp := newFakePortal(t)
	m := loggedIn(t, fp)

	fp.revoke("abc")
	fp.queueRefresh("def")

	data, err := m.API.DoRaw(context.Background(), http.MethodPost, "/echo", []byte(`{"name":"svc"}`))
	require.NoError(t, err)
	assert.Equal(t, `{"name":"svc"}`, string(data))
	assert.Equal(t, `{"name":"svc"}`, fp.lastEchoBody())
}

func TestTransport_PendingTokenNotRefreshed(t *testing.T) {
	fp := newFakePortal(t)
	fp.setLoginType(client.TokenTypeTOTP)
	m := newTestManager(t, fp, nil)

	_, err := m.Auth.Login(context.Background(), Credentials{Username: "alice", Password: "pw"})
	require.NoError(t, err)

	_, err = m.API.ReadUserMe(context.Background())
	require.True(t, client.IsUnauthorized(err))
	assert.Equal(t, int32(0), fp.refreshCalls.Load())
	assert.Equal(t, StatePendingMFA, m.Store.State(), "pending step-up survives")
}

func TestTransport_AnonymousNotRefreshed(t *testing.T) {
	fp := newFakePortal(t)
	m := newTestManager(t, fp, nil)

	_, err := m.API.ReadUserMe(context.Background())
	require.True(t, client.IsUnauthorized(err))
	assert.Equal(t, int32(0), fp.refreshCalls.Load())
	assert.Equal(t, "", fp.lastAuthorization())
}

func TestTransport_ExplicitAuthorizationPassesThrough(t *testing.T) {
	fp := newFakePortal(t)
	m := loggedIn(t, fp)

	req, err := http.NewRequest(http.MethodGet, fp.baseURL()+"/users/me", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer someone-else")

	resp, err := m.API.HTTPClient().Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Bearer someone-else", fp.lastAuthorization())
	assert.Equal(t, int32(0), fp.refreshCalls.Load())
	assert.Equal(t, StateAuthenticated, m.Store.State())
}

func TestTransport_NonReplayableBodyNotRetried(t *testing.T) {
	fp := newFakePortal(t)
	m := loggedIn(t, fp)
	fp.revoke("abc")

	// io.NopCloser hides the concrete reader, so http.NewRequest sets no GetBody
	req, err := http.NewRequest(http.MethodPost, fp.baseURL()+"/echo", io.NopCloser(bytes.NewReader([]byte("x"))))
	require.NoError(t, err)

	resp, err := m.API.HTTPClient().Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(0), fp.refreshCalls.Load())
}

func TestTransport_ConcurrentFailuresShareOneRefresh(t *testing.T) {
	fp := newFakePortal(t)
	m := loggedIn(t, fp)

	gate := fp.blockRefresh()
	fp.revoke("abc")
	fp.queueRefresh("def")

	const callers = 5
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.API.ReadUserMe(context.Background())
		}(i)
	}

	require.Eventually(t, func() bool {
		return fp.meCalls.Load() == callers && fp.refreshCalls.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)
	close(gate)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), fp.refreshCalls.Load())
}

func TestTransport_InstallIsIdempotent(t *testing.T) {
	store, err := NewTokenStore(NewMemoryBackend())
	require.NoError(t, err)
	tr := NewTransport(store, NewRefresher(&stubRefreshClient{}, store, RefresherConfig{}, nil), nil)

	base := &countingTransport{}
	hc := &http.Client{Transport: base}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Install(hc)
		}()
	}
	wg.Wait()
	tr.Install(hc)

	assert.Same(t, tr, hc.Transport)
	assert.Same(t, base, tr.Base)
}

func TestTransport_PassesThroughTransportErrors(t *testing.T) {
	store := newStoreWith(t, Token{Value: "abc", Class: Full})
	refresh := &stubRefreshClient{token: "def"}
	tr := NewTransport(store, NewRefresher(refresh, store, RefresherConfig{}, nil), nil)
	tr.Base = &countingTransport{err: errors.New("dial failed")}

	req, _ := http.NewRequest(http.MethodGet, "http://portal.invalid/users/me", nil)
	_, err := tr.RoundTrip(req)
	assert.EqualError(t, err, "dial failed")
	assert.Equal(t, int32(0), refresh.calls.Load())
}

func TestTransport_RetriesWithTokenReplacedInFlight(t *testing.T) {
	store := newStoreWith(t, Token{Value: "abc", Class: Full})
	refresh := &stubRefreshClient{token: "unused"}
	tr := NewTransport(store, NewRefresher(refresh, store, RefresherConfig{}, nil), nil)

	var seen []string
	tr.Base = roundTripFunc(func(req *http.Request) (*http.Response, error) {
		auth := req.Header.Get("Authorization")
		seen = append(seen, auth)
		if auth == "Bearer abc" {
			// a concurrent refresh lands while this request is in flight
			require.NoError(t, store.set(Token{Value: "def", Class: Full}, CauseRefresh))
			return textResponse(http.StatusUnauthorized), nil
		}
		return textResponse(http.StatusOK), nil
	})

	req, _ := http.NewRequest(http.MethodGet, "http://portal.invalid/users/me", nil)
	resp, err := tr.RoundTrip(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"Bearer abc", "Bearer def"}, seen)
	assert.Equal(t, int32(0), refresh.calls.Load())
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func textResponse(status int) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       io.NopCloser(bytes.NewReader(nil)),
	}
}

type countingTransport struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return nil, c.err
}
