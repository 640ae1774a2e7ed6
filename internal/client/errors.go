// ABOUTME: Tagged API error produced at the HTTP call boundary
// ABOUTME: Classifies failures as network, structured validation, or single message

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrorKind tags an APIError
type ErrorKind int

const (
	// KindNetwork means no response was received
	KindNetwork ErrorKind = iota + 1
	// KindValidation means the backend rejected the input shape field by field
	KindValidation
	// KindMessage means the backend returned a single human-readable message
	KindMessage
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindValidation:
		return "validation"
	case KindMessage:
		return "message"
	default:
		return "unknown"
	}
}

// FieldError is one entry of a FastAPI validation error body
type FieldError struct {
	Loc  []interface{} `json:"loc"`
	Msg  string        `json:"msg"`
	Type string        `json:"type"`
}

// Field returns the dotted location, e.g. "body.username"
func (f FieldError) Field() string {
	parts := make([]string, 0, len(f.Loc))
	for _, p := range f.Loc {
		parts = append(parts, fmt.Sprint(p))
	}
	return strings.Join(parts, ".")
}

// APIError describes a failed API call
type APIError struct {
	Kind    ErrorKind
	Status  int // 0 for network errors
	Message string
	Fields  []FieldError
	Err     error
}

func (e *APIError) Error() string {
	switch e.Kind {
	case KindNetwork:
		return e.Message
	case KindValidation:
		parts := make([]string, 0, len(e.Fields))
		for _, f := range e.Fields {
			parts = append(parts, f.Field()+": "+f.Msg)
		}
		return fmt.Sprintf("validation failed (status %d): %s", e.Status, strings.Join(parts, "; "))
	default:
		return fmt.Sprintf("backend error (status %d): %s", e.Status, e.Message)
	}
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsUnauthorized reports whether err is an API error with status 401
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// errorBody covers both the FastAPI {"detail": ...} shape and {"error": ...}
type errorBody struct {
	Detail json.RawMessage `json:"detail"`
	Error  string          `json:"error"`
}

// handleRequestError converts transport failures into network errors
func (c *Client) handleRequestError(ctx context.Context, err error) error {
	msg := fmt.Sprintf("cannot connect to backend at %s", c.baseURL)
	if ctx.Err() == context.Canceled {
		msg = "request canceled"
	}
	if ctx.Err() == context.DeadlineExceeded {
		msg = "request timed out"
	}
	return &APIError{Kind: KindNetwork, Message: msg, Err: err}
}

// handleErrorResponse parses API error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return parseErrorBody(resp.StatusCode, data)
}

func parseErrorBody(status int, data []byte) *APIError {
	fallback := &APIError{
		Kind:    KindMessage,
		Status:  status,
		Message: fmt.Sprintf("backend returned status %d", status),
	}

	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil {
		return fallback
	}

	detail := bytes.TrimSpace(body.Detail)
	switch {
	case len(detail) > 0 && detail[0] == '[':
		var fields []FieldError
		if err := json.Unmarshal(detail, &fields); err != nil {
			return fallback
		}
		return &APIError{Kind: KindValidation, Status: status, Fields: fields}
	case len(detail) > 0 && detail[0] == '"':
		var msg string
		if err := json.Unmarshal(detail, &msg); err != nil {
			return fallback
		}
		return &APIError{Kind: KindMessage, Status: status, Message: msg}
	case body.Error != "":
		return &APIError{Kind: KindMessage, Status: status, Message: body.Error}
	}

	return fallback
}
