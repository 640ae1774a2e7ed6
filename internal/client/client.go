// ABOUTME: HTTP client for the portal REST API
// ABOUTME: Wraps login, TOTP, profile and generic resource calls with tagged error handling

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxErrorBody = 1 << 20

// Client is the API client for the portal backend
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client, e.g. one whose transport
// attaches session credentials.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the request timeout on the underlying HTTP client
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// New creates a new API client. baseURL includes the route prefix,
// e.g. http://localhost:8000/api/v1.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the URL requests are resolved against
func (c *Client) BaseURL() string {
	return c.baseURL
}

// HTTPClient returns the underlying HTTP client
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// LoginAccessToken calls POST /login/access-token with form-encoded credentials
func (c *Client) LoginAccessToken(ctx context.Context, form LoginForm) (*Token, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/login/access-token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var token Token
	if err := c.send(req, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

// ValidateTOTP calls POST /login/validate-totp, presenting the pending token
func (c *Client) ValidateTOTP(ctx context.Context, pendingToken, code string) (*Token, error) {
	req, err := c.newJSONRequest(ctx, http.MethodPost, "/login/validate-totp", TOTPCode{Token: code})
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+pendingToken)

	var token Token
	if err := c.send(req, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

// RefreshAccessToken calls POST /login/refresh-token. The refresh credential
// travels as a cookie from the client's jar.
func (c *Client) RefreshAccessToken(ctx context.Context) (*Token, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/login/refresh-token", nil)
	if err != nil {
		return nil, err
	}

	var token Token
	if err := c.send(req, &token); err != nil {
		return nil, err
	}
	if token.AccessToken == "" {
		return nil, &APIError{Kind: KindMessage, Status: http.StatusOK, Message: "refresh response missing access_token"}
	}
	return &token, nil
}

// TestToken calls POST /login/test-token
func (c *Client) TestToken(ctx context.Context) (*User, error) {
	var user User
	if err := c.Do(ctx, http.MethodPost, "/login/test-token", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// RecoverPassword calls POST /password-recovery/{email}
func (c *Client) RecoverPassword(ctx context.Context, email string) (*Message, error) {
	var msg Message
	if err := c.Do(ctx, http.MethodPost, "/password-recovery/"+url.PathEscape(email), nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ReadUserMe calls GET /users/me
func (c *Client) ReadUserMe(ctx context.Context) (*User, error) {
	var user User
	if err := c.Do(ctx, http.MethodGet, "/users/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateUserMe calls PATCH /users/me
func (c *Client) UpdateUserMe(ctx context.Context, update UserUpdateMe) (*User, error) {
	var user User
	if err := c.Do(ctx, http.MethodPatch, "/users/me", update, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdatePasswordMe calls PATCH /users/me/password
func (c *Client) UpdatePasswordMe(ctx context.Context, update UpdatePassword) (*Message, error) {
	var msg Message
	if err := c.Do(ctx, http.MethodPatch, "/users/me/password", update, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// EnableTOTP calls POST /totp/enable and returns the provisioning URI
func (c *Client) EnableTOTP(ctx context.Context) (*QRURI, error) {
	var qr QRURI
	if err := c.Do(ctx, http.MethodPost, "/totp/enable", nil, &qr); err != nil {
		return nil, err
	}
	return &qr, nil
}

// VerifyTOTP calls POST /totp/verify to confirm enrollment
func (c *Client) VerifyTOTP(ctx context.Context, code string) (*Message, error) {
	var msg Message
	if err := c.Do(ctx, http.MethodPost, "/totp/verify", TOTPCode{Token: code}, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DisableTOTP calls DELETE /totp/disable
func (c *Client) DisableTOTP(ctx context.Context) (*Message, error) {
	var msg Message
	if err := c.Do(ctx, http.MethodDelete, "/totp/disable", nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Do performs a JSON request against path. in is marshaled as the body when
// non-nil; out receives the decoded response when non-nil.
func (c *Client) Do(ctx context.Context, method, path string, in, out interface{}) error {
	var (
		req *http.Request
		err error
	)
	if in != nil {
		req, err = c.newJSONRequest(ctx, method, path, in)
	} else {
		req, err = c.newRequest(ctx, method, path, nil)
	}
	if err != nil {
		return err
	}
	return c.send(req, out)
}

// DoRaw performs a request with a pre-encoded body and returns the raw
// response payload. Used for opaque resource calls.
func (c *Client) DoRaw(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := c.newRequest(ctx, method, path, reader)
	if err != nil {
		return nil, err
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.handleRequestError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.handleErrorResponse(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return data, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) newJSONRequest(ctx context.Context, method, path string, in interface{}) (*http.Request, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal input: %w", err)
	}
	req, err := c.newRequest(ctx, method, path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) send(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.handleRequestError(req.Context(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.handleErrorResponse(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("invalid response from backend: %w", err)
	}
	return nil
}
