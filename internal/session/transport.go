// ABOUTME: Request interceptor attaching the bearer token and recovering from 401s
// ABOUTME: One refresh and one retry per request; a rejected retry ends the session

package session

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Transport is an http.RoundTripper bound to a token store
type Transport struct {
	// Base performs the requests. Install fills it from the client when nil.
	Base http.RoundTripper

	store     *TokenStore
	refresher *Refresher
	metrics   *Metrics

	once sync.Once
}

// NewTransport creates an interceptor. metrics may be nil.
func NewTransport(store *TokenStore, refresher *Refresher, metrics *Metrics) *Transport {
	return &Transport{store: store, refresher: refresher, metrics: metrics}
}

// Install wraps hc's transport with t. Only the first call has any effect.
func (t *Transport) Install(hc *http.Client) {
	t.once.Do(func() {
		if t.Base == nil {
			t.Base = hc.Transport
		}
		hc.Transport = t
		slog.Debug("Session transport installed")
	})
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// RoundTrip implements http.RoundTripper
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Callers that set their own credentials (step-up validation) are left alone
	if req.Header.Get("Authorization") != "" {
		return t.base().RoundTrip(req)
	}

	tok, held := t.store.Get()
	out := req.Clone(req.Context())
	if held {
		out.Header.Set("Authorization", "Bearer "+tok.Value)
	}

	resp, err := t.base().RoundTrip(out)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	// Refreshing for an anonymous or pending request could wipe a pending step-up
	if !held || tok.Class != Full {
		return resp, nil
	}
	// The session ended or went back to step-up while the request was in flight
	cur, _ := t.store.Get()
	if cur.Value != tok.Value && cur.Class != Full {
		return resp, nil
	}
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		slog.Debug("Not retrying 401, request body cannot be replayed", "path", req.URL.Path)
		return resp, nil
	}

	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	ctx, span := tracer.Start(req.Context(), "session.RetryAfterRefresh")
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", req.Method),
		attribute.String("http.path", req.URL.Path),
	)

	next := cur.Value
	if next == tok.Value {
		slog.Debug("Received 401, refreshing token", "path", req.URL.Path)
		next, err = t.refresher.Refresh(ctx)
		if err != nil {
			t.metrics.retry("refresh_failed")
			span.RecordError(err)
			span.SetStatus(codes.Error, "refresh failed")
			return nil, err
		}
	} else {
		slog.Debug("Received 401 for a replaced token, retrying with the current one", "path", req.URL.Path)
	}

	retry := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		retry.Body = body
	}
	retry.Header.Set("Authorization", "Bearer "+next)

	resp, err = t.base().RoundTrip(retry)
	if err != nil {
		t.metrics.retry("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "retry failed")
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		t.metrics.retry("rejected")
		span.SetStatus(codes.Error, "retry rejected")
		slog.Warn("Retried request rejected, ending session", "path", req.URL.Path)
		t.refresher.endSession(next, errors.New("retried request rejected with 401"))
		return resp, nil
	}

	t.metrics.retry("ok")
	span.SetStatus(codes.Ok, "")
	return resp, nil
}
