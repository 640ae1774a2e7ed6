// ABOUTME: Wires store, jar, flows, refresher, interceptor and user cache into one session
// ABOUTME: Auth endpoints use a raw client; everything else goes through the interceptor

package session

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bobbytumur/portalctl/internal/client"
)

// Options configures a Manager
type Options struct {
	// BaseURL includes the route prefix, e.g. http://localhost:8000/api/v1
	BaseURL string
	Backend Backend
	// BaseTransport carries requests to the network; nil uses http.DefaultTransport
	BaseTransport http.RoundTripper
	HTTPTimeout   time.Duration
	Refresh       RefresherConfig
	UserCacheTTL  time.Duration
	// Registerer receives the session metrics; nil keeps them private
	Registerer prometheus.Registerer
}

// Manager owns one client-side session
type Manager struct {
	Store     *TokenStore
	Gate      *Gate
	Auth      *Authenticator
	Refresher *Refresher
	Transport *Transport
	Users     *UserCache
	Metrics   *Metrics

	// Raw talks to the auth endpoints without the interceptor
	Raw *client.Client
	// API attaches the session token and recovers from 401s
	API *client.Client

	jar        *Jar
	stopMetric func()
}

// NewManager restores the session held by opts.Backend and wires its components
func NewManager(opts Options) (*Manager, error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("session backend is required")
	}
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = DefaultRefreshTimeout
	}
	if opts.Refresh.Timeout <= 0 {
		opts.Refresh.Timeout = opts.HTTPTimeout
	}

	store, err := NewTokenStore(opts.Backend)
	if err != nil {
		return nil, err
	}

	jar, err := NewJar(store, opts.BaseURL)
	if err != nil {
		return nil, err
	}

	logging := &client.LoggingTransport{Base: opts.BaseTransport}
	raw := client.New(opts.BaseURL, client.WithHTTPClient(&http.Client{
		Transport: logging,
		Jar:       jar,
		Timeout:   opts.HTTPTimeout,
	}))

	metrics := NewMetrics(opts.Registerer)
	refresher := NewRefresher(raw, store, opts.Refresh, metrics)
	transport := NewTransport(store, refresher, metrics)

	apiHTTP := &http.Client{
		Transport: logging,
		Jar:       jar,
		Timeout:   opts.HTTPTimeout,
	}
	transport.Install(apiHTTP)
	api := client.New(opts.BaseURL, client.WithHTTPClient(apiHTTP))

	return &Manager{
		Store:      store,
		Gate:       NewGate(store),
		Auth:       NewAuthenticator(raw, store, metrics),
		Refresher:  refresher,
		Transport:  transport,
		Users:      NewUserCache(api, store, opts.UserCacheTTL),
		Metrics:    metrics,
		Raw:        raw,
		API:        api,
		jar:        jar,
		stopMetric: metrics.TrackState(store),
	}, nil
}

// Close detaches subscribers. It does not close the backend.
func (m *Manager) Close() {
	m.stopMetric()
	m.Users.Close()
	m.jar.Close()
}
